package bill

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/mkumbo/billing-gateway/internal"
	"github.com/mkumbo/billing-gateway/internal/core/datamodel/billing"
	"github.com/mkumbo/billing-gateway/internal/core/datamodel/gatewaylog"
	"github.com/mkumbo/billing-gateway/internal/core/datamodel/idempotency"
	"github.com/mkumbo/billing-gateway/internal/forwarder"
	"github.com/mkumbo/billing-gateway/internal/gepg"
	"github.com/mkumbo/billing-gateway/internal/jobs"
	"github.com/mkumbo/billing-gateway/internal/ledger"
)

const (
	billIDLayout      = "20060102150405"
	defaultExpiryDays = 30
	defaultCurrency   = "TZS"
)

// RepositoryAPI is the persistence surface of the bill lifecycle.
type RepositoryAPI interface {
	CreateBill(b *billing.Bill) error
	GetByBillID(billID string) (*billing.Bill, error)
	SetControlNumber(billID string, cntrNum int64) error
	HasPayment(billRef int64) (bool, error)

	GetDepartmentByCode(code string) (*billing.Department, error)
	GetSystemInfoByCode(code string) (*billing.SystemInfo, error)
	GetOrCreateCustomer(c *billing.Customer) (*billing.Customer, error)
	GetRevenueSourceItem(id int64) (*billing.RevenueSourceItem, error)
	LatestRate(currency string) (*billing.ExchangeRate, error)

	GetCancellation(billRef int64) (*billing.CancelledBill, error)
	CreateCancellation(c *billing.CancelledBill) error
	SetCancellationStatus(billRef int64, status billing.CancellationStatus) error

	GetOrCreateIdem(rec *idempotency.Record) (*idempotency.Record, bool, error)
	UpdateIdem(id int64, updates map[string]any) error
}

// GatewayAPI is the outbound protocol surface the service drives.
type GatewayAPI interface {
	Submit(ctx context.Context, reqType gatewaylog.RequestType, payload []byte) (gepg.Ack, []byte, error)
}

// Queue accepts background work for gateway exchanges.
type Queue interface {
	Enqueue(job jobs.Job) error
}

// NotifierAPI queues customer-facing documents.
type NotifierAPI interface {
	QueueInvoice(b *billing.Bill, cntrNum int64) error
}

// ForwarderAPI pushes outcomes to the integrating system.
type ForwarderAPI interface {
	ForwardControlNumber(ctx context.Context, sys *billing.SystemInfo, outcome forwarder.ControlNumberOutcome)
}

// AlertsAPI raises operator alerts for failed gateway exchanges.
type AlertsAPI interface {
	Alert(ctx context.Context, subject, body string)
}

type Service struct {
	repo      RepositoryAPI
	ledger    *ledger.Service
	gateway   GatewayAPI
	signer    gepg.Signer
	spConfig  gepg.ServiceProviderConfig
	queue     Queue
	notifier  NotifierAPI
	forwarder ForwarderAPI
	alerts    AlertsAPI
	logger    *slog.Logger
}

func NewService(
	repo RepositoryAPI,
	ledgerSvc *ledger.Service,
	gateway GatewayAPI,
	signer gepg.Signer,
	spConfig gepg.ServiceProviderConfig,
	queue Queue,
	notifier NotifierAPI,
	fwd ForwarderAPI,
	alerts AlertsAPI,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		ledger:    ledgerSvc,
		gateway:   gateway,
		signer:    signer,
		spConfig:  spConfig,
		queue:     queue,
		notifier:  notifier,
		forwarder: fwd,
		alerts:    alerts,
		logger:    logger,
	}
}

// Submit creates a bill and starts the control number exchange. The
// submission is idempotent on the request body: the same payload sent
// again returns the original (req_id, bill_id) pair without creating a
// second bill.
func (s *Service) Submit(req *CreateBillRequest) (*SubmitResult, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.NewValidationError(err.Error(), apperrors.ErrCodeValidationFailed)
	}

	bodyHash, err := hashRequest(req)
	if err != nil {
		return nil, apperrors.NewInternalError("hash submission payload", err)
	}

	idem, created, err := s.repo.GetOrCreateIdem(&idempotency.Record{
		Method:   "POST",
		Path:     "/api/v1/bills",
		BodyHash: bodyHash,
		Status:   idempotency.StatusInProgress,
	})
	if err != nil {
		return nil, apperrors.NewInternalError("record submission", err)
	}
	if !created {
		switch idem.Status {
		case idempotency.StatusSucceeded:
			s.logger.Info("duplicate submission, returning original result",
				"bill_id", idem.BillID, "req_id", idem.ReqID)
			return &SubmitResult{ReqID: idem.ReqID, BillID: idem.BillID}, nil
		case idempotency.StatusInProgress:
			return nil, apperrors.ErrSubmissionInFlight
		default:
			// A previously failed submission may be retried; reopen the slot.
			if err := s.repo.UpdateIdem(idem.ID, map[string]any{
				"status": idempotency.StatusInProgress,
			}); err != nil {
				return nil, apperrors.NewInternalError("reopen submission", err)
			}
		}
	}

	result, err := s.submitNew(req)
	if err != nil {
		if uerr := s.repo.UpdateIdem(idem.ID, map[string]any{
			"status": idempotency.StatusFailed,
		}); uerr != nil {
			s.logger.Error("mark submission failed", "error", uerr)
		}
		return nil, err
	}

	if err := s.repo.UpdateIdem(idem.ID, map[string]any{
		"status":  idempotency.StatusSucceeded,
		"req_id":  result.ReqID,
		"bill_id": result.BillID,
	}); err != nil {
		s.logger.Error("record submission result", "bill_id", result.BillID, "error", err)
	}
	return result, nil
}

func (s *Service) submitNew(req *CreateBillRequest) (*SubmitResult, error) {
	dept, err := s.repo.GetDepartmentByCode(req.DeptCode)
	if err != nil {
		return nil, apperrors.ErrDepartmentNotFound
	}

	var sysInfo *billing.SystemInfo
	if req.SysCode != "" {
		sysInfo, err = s.repo.GetSystemInfoByCode(req.SysCode)
		if err != nil {
			return nil, apperrors.ErrSystemNotFound
		}
	}

	currency := req.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	rate := decimal.NewFromInt(1)
	if currency != defaultCurrency {
		r, err := s.repo.LatestRate(currency)
		if err != nil {
			return nil, apperrors.NewNotFoundError(
				fmt.Sprintf("no exchange rate for %s", currency), apperrors.ErrCodeRateNotFound)
		}
		rate = r.Selling
	}

	customer := &billing.Customer{
		FirstName:  req.Customer.FirstName,
		MiddleName: req.Customer.MiddleName,
		LastName:   req.Customer.LastName,
		TIN:        req.Customer.TIN,
		IDNum:      req.Customer.IDNum,
		IDType:     req.Customer.IDType,
		AccountNum: req.Customer.AccountNum,
		CellNum:    req.Customer.CellNum,
		Email:      req.Customer.Email,
	}
	if customer.IDType == "" {
		customer.IDType = billing.CustIDTypeNIN
	}
	customer, err = s.repo.GetOrCreateCustomer(customer)
	if err != nil {
		return nil, apperrors.NewInternalError("persist customer", err)
	}

	now := time.Now()
	expiryDays := req.ExpiryDays
	if expiryDays <= 0 {
		expiryDays = defaultExpiryDays
	}

	total := decimal.Zero
	items := make([]billing.BillItem, 0, len(req.Items))
	for _, it := range req.Items {
		rsi, err := s.repo.GetRevenueSourceItem(it.RevenueSourceItemID)
		if err != nil {
			return nil, apperrors.NewNotFoundError(
				fmt.Sprintf("revenue source item %d not found", it.RevenueSourceItemID),
				apperrors.ErrCodeValidationFailed)
		}
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		amount := rsi.Amount.Mul(decimal.NewFromInt(int64(qty)))
		desc := it.Description
		if desc == "" {
			desc = rsi.Description
		}
		items = append(items, billing.BillItem{
			DepartmentID:        dept.ID,
			RevenueSourceItemID: rsi.ID,
			RevenueSourceItem:   rsi,
			RefOnPay:            "N",
			Description:         desc,
			Quantity:            qty,
			Amount:              amount,
			EqvAmount:           amount.Mul(rate),
		})
		total = total.Add(amount)
	}

	billID := dept.Code + now.Format(billIDLayout)
	b := &billing.Bill{
		BillID:       billID,
		GroupBillID:  billID,
		DepartmentID: dept.ID,
		Department:   dept,
		CustomerID:   customer.ID,
		Customer:     customer,
		BillType:     billing.BillTypeNormal,
		PayType:      billing.PayTypeAny,
		Amount:       total,
		EqvAmount:    total.Mul(rate),
		PayLimitType: billing.PayLimitNone,
		Currency:     currency,
		ExchangeRate: rate,
		PayOption:    billing.PayOptionExact,
		PayPlan:      billing.PayPlanPostPaid,
		GeneratedAt:  now,
		ExpiresAt:    now.AddDate(0, 0, expiryDays),
		Items:        items,
	}
	if req.Description != "" {
		b.Description = &req.Description
	}
	if req.GeneratedBy != "" {
		b.GeneratedBy = &req.GeneratedBy
	}
	if req.ApprovedBy != "" {
		b.ApprovedBy = &req.ApprovedBy
	}
	if sysInfo != nil {
		b.SysInfoID = &sysInfo.ID
		b.SysInfo = sysInfo
	}

	if err := s.repo.CreateBill(b); err != nil {
		return nil, apperrors.NewInternalError("persist bill", err)
	}

	reqID := uuid.NewString()
	if err := s.dispatchControlNumberRequest(reqID, b); err != nil {
		return nil, err
	}

	s.logger.Info("bill submitted", "bill_id", billID, "req_id", reqID, "amount", total.StringFixed(2))
	return &SubmitResult{ReqID: reqID, BillID: billID}, nil
}

// dispatchControlNumberRequest opens the ledger row and queues the
// gateway exchange. The ledger row is written before any network I/O so
// a crash cannot lose track of an exchange that may have gone out.
func (s *Service) dispatchControlNumberRequest(reqID string, b *billing.Bill) error {
	payload, err := gepg.ComposeBillSubmission(reqID, b, s.spConfig, s.signer)
	if err != nil {
		return apperrors.NewInternalError("compose control number request", err)
	}

	var sysCode *string
	if b.SysInfo != nil {
		sysCode = &b.SysInfo.Code
	}
	row, _, err := s.ledger.Open(reqID, gatewaylog.ReqTypeControlNumber, &b.BillID, sysCode, gepg.XMLToJSON(payload))
	if err != nil {
		return apperrors.NewInternalError("open ledger row", err)
	}

	rowID := row.ID
	billID := b.BillID
	err = s.queue.Enqueue(jobs.Job{
		Name: "control-number:" + billID,
		Run: func(ctx context.Context) error {
			ack, rawAck, err := s.gateway.Submit(ctx, gatewaylog.ReqTypeControlNumber, payload)
			if err != nil {
				return err
			}
			status := gatewaylog.StatusPending
			if !ack.Accepted() {
				status = gatewaylog.StatusError
				s.alert(ctx, "Control number request rejected for "+billID,
					fmt.Sprintf("The gateway rejected the control number request for bill %s.\n\nAck: %s %s\n",
						billID, ack.StatusCode, ack.StatusDesc))
			}
			return s.ledger.RecordAck(rowID, gepg.XMLToJSON(rawAck), status, ack.StatusDesc)
		},
		OnFailure: func(ctx context.Context, err error) {
			if serr := s.ledger.SetStatus(rowID, gatewaylog.StatusFailed, err.Error()); serr != nil {
				s.logger.Error("mark ledger row failed", "req_id", reqID, "error", serr)
			}
			s.alert(ctx, "Control number request failed for "+billID,
				fmt.Sprintf("The control number request for bill %s gave up after exhausting retries.\n\nLast error: %v\n",
					billID, err))
		},
	})
	if err != nil {
		return apperrors.NewInternalError("queue control number request", err)
	}
	return nil
}

// Get returns the bill with its derived lifecycle status.
func (s *Service) Get(billID string) (*BillResponse, error) {
	b, err := s.repo.GetByBillID(billID)
	if err != nil {
		return nil, apperrors.ErrBillNotFound
	}
	status, cancelled, err := s.deriveStatus(b)
	if err != nil {
		return nil, err
	}

	resp := &BillResponse{
		BillID:        b.BillID,
		Status:        status,
		ControlNumber: b.ControlNumber,
		Description:   b.Description,
		Amount:        b.Amount,
		Currency:      b.Currency,
		GeneratedAt:   b.GeneratedAt,
		ExpiresAt:     b.ExpiresAt,
		Cancelled:     cancelled,
	}
	if b.Customer != nil {
		resp.CustomerName = b.Customer.FullName()
	}
	if b.Department != nil {
		resp.DeptCode = b.Department.Code
	}
	for _, it := range b.Items {
		item := ItemResponse{
			Description: it.Description,
			Quantity:    it.Quantity,
			Amount:      it.Amount,
		}
		if it.RevenueSourceItem != nil && it.RevenueSourceItem.RevenueSource != nil {
			item.GfsCode = it.RevenueSourceItem.RevenueSource.GfsCode
		}
		resp.Items = append(resp.Items, item)
	}
	return resp, nil
}

// Status returns just the derived lifecycle state.
func (s *Service) Status(billID string) (*StatusResponse, error) {
	b, err := s.repo.GetByBillID(billID)
	if err != nil {
		return nil, apperrors.ErrBillNotFound
	}
	status, cancelled, err := s.deriveStatus(b)
	if err != nil {
		return nil, err
	}
	return &StatusResponse{
		BillID:        b.BillID,
		Status:        status,
		ControlNumber: b.ControlNumber,
		Cancelled:     cancelled,
	}, nil
}

func (s *Service) deriveStatus(b *billing.Bill) (billing.Status, bool, error) {
	hasPayment, err := s.repo.HasPayment(b.ID)
	if err != nil {
		return "", false, apperrors.NewInternalError("check payment", err)
	}
	cnRequested := false
	if rows, err := s.ledger.History(b.BillID); err == nil {
		for _, row := range rows {
			if row.ReqType == gatewaylog.ReqTypeControlNumber {
				cnRequested = true
				break
			}
		}
	}
	cancelled := false
	if c, err := s.repo.GetCancellation(b.ID); err == nil && c != nil {
		cancelled = c.Status == billing.CancellationPending || c.Status == billing.CancellationCancelled
	}
	return b.DeriveStatus(cnRequested, hasPayment), cancelled, nil
}

// Resubmit re-drives the control number exchange for an existing bill,
// for example after a terminal gateway failure or a cancellation that
// should be undone. A paid bill cannot be resubmitted.
func (s *Service) Resubmit(billID string) (*SubmitResult, error) {
	b, err := s.repo.GetByBillID(billID)
	if err != nil {
		return nil, apperrors.ErrBillNotFound
	}
	hasPayment, err := s.repo.HasPayment(b.ID)
	if err != nil {
		return nil, apperrors.NewInternalError("check payment", err)
	}
	if hasPayment {
		return nil, apperrors.ErrBillAlreadyPaid
	}

	if c, err := s.repo.GetCancellation(b.ID); err == nil && c != nil &&
		(c.Status == billing.CancellationPending || c.Status == billing.CancellationCancelled) {
		if err := s.repo.SetCancellationStatus(b.ID, billing.CancellationRecreated); err != nil {
			return nil, apperrors.NewInternalError("reopen cancelled bill", err)
		}
		s.logger.Info("cancelled bill reopened for resubmission", "bill_id", billID)
	}

	reqID := uuid.NewString()
	if err := s.dispatchControlNumberRequest(reqID, b); err != nil {
		return nil, err
	}
	return &SubmitResult{ReqID: reqID, BillID: billID}, nil
}

// Cancel starts the cancellation exchange for a bill that holds a
// control number. A second cancel for the same bill is rejected while
// the first is pending or has succeeded.
func (s *Service) Cancel(billID string, req *CancelBillRequest) (*SubmitResult, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.NewValidationError(err.Error(), apperrors.ErrCodeValidationFailed)
	}

	b, err := s.repo.GetByBillID(billID)
	if err != nil {
		return nil, apperrors.ErrBillNotFound
	}
	if !b.HasControlNumber() {
		return nil, apperrors.ErrNoControlNumber
	}
	hasPayment, err := s.repo.HasPayment(b.ID)
	if err != nil {
		return nil, apperrors.NewInternalError("check payment", err)
	}
	if hasPayment {
		return nil, apperrors.ErrBillAlreadyPaid
	}
	if c, err := s.repo.GetCancellation(b.ID); err == nil && c != nil &&
		c.Status != billing.CancellationRecreated && c.Status != billing.CancellationFailed {
		return nil, apperrors.ErrBillAlreadyCancelled
	}

	cancel := &billing.CancelledBill{
		BillRef: b.ID,
		Reason:  req.Reason,
		Status:  billing.CancellationPending,
		GenBy:   req.GenBy,
		ApprBy:  req.ApprBy,
	}
	if err := s.repo.CreateCancellation(cancel); err != nil {
		return nil, apperrors.NewInternalError("persist cancellation", err)
	}

	reqID := uuid.NewString()
	payload, err := gepg.ComposeBillCancellation(reqID, b, cancel, s.spConfig, s.signer)
	if err != nil {
		return nil, apperrors.NewInternalError("compose cancellation request", err)
	}

	row, _, err := s.ledger.Open(reqID, gatewaylog.ReqTypeBillCancellation, &b.BillID, nil, gepg.XMLToJSON(payload))
	if err != nil {
		return nil, apperrors.NewInternalError("open ledger row", err)
	}

	rowID := row.ID
	billRef := b.ID
	err = s.queue.Enqueue(jobs.Job{
		Name: "bill-cancel:" + billID,
		Run: func(ctx context.Context) error {
			ack, rawAck, err := s.gateway.Submit(ctx, gatewaylog.ReqTypeBillCancellation, payload)
			if err != nil {
				return err
			}
			status := gatewaylog.StatusPending
			if !ack.Accepted() {
				status = gatewaylog.StatusError
				s.alert(ctx, "Cancellation request rejected for "+billID,
					fmt.Sprintf("The gateway rejected the cancellation request for bill %s.\n\nAck: %s %s\n",
						billID, ack.StatusCode, ack.StatusDesc))
			}
			return s.ledger.RecordAck(rowID, gepg.XMLToJSON(rawAck), status, ack.StatusDesc)
		},
		OnFailure: func(ctx context.Context, err error) {
			if serr := s.ledger.SetStatus(rowID, gatewaylog.StatusFailed, err.Error()); serr != nil {
				s.logger.Error("mark ledger row failed", "req_id", reqID, "error", serr)
			}
			if serr := s.repo.SetCancellationStatus(billRef, billing.CancellationFailed); serr != nil {
				s.logger.Error("mark cancellation failed", "bill_id", billID, "error", serr)
			}
			s.alert(ctx, "Cancellation request failed for "+billID,
				fmt.Sprintf("The cancellation request for bill %s gave up after exhausting retries.\n\nLast error: %v\n",
					billID, err))
		},
	})
	if err != nil {
		return nil, apperrors.NewInternalError("queue cancellation request", err)
	}

	s.logger.Info("bill cancellation requested", "bill_id", billID, "req_id", reqID)
	return &SubmitResult{ReqID: reqID, BillID: billID}, nil
}

// ApplyControlNumberResponse lands the asynchronous final result of a
// control number exchange. Replays of the same response are no-ops.
func (s *Service) ApplyControlNumberResponse(ctx context.Context, res gepg.ControlNumberResponse, raw []byte) error {
	row, err := s.ledger.GetByReqID(res.ReqID, gatewaylog.ReqTypeControlNumber)
	if err != nil {
		return fmt.Errorf("control number response for unknown req %s: %w", res.ReqID, err)
	}
	if row.Status == gatewaylog.StatusSuccess && row.ResData != nil {
		s.logger.Debug("control number response already applied", "req_id", res.ReqID)
		return nil
	}

	if res.StatusCode != gepg.AckStatusContinue || res.CustCntrNum == "" {
		desc := fmt.Sprintf("%s: %s", res.StatusCode, res.StatusDesc)
		return s.ledger.RecordResponse(row.ID, gepg.XMLToJSON(raw), gatewaylog.StatusError, desc)
	}

	cntrNum, err := strconv.ParseInt(res.CustCntrNum, 10, 64)
	if err != nil {
		return s.ledger.RecordResponse(row.ID, gepg.XMLToJSON(raw), gatewaylog.StatusError,
			fmt.Sprintf("malformed control number %q", res.CustCntrNum))
	}

	billID := res.BillID
	if billID == "" && row.BillID != nil {
		billID = *row.BillID
	}
	b, err := s.repo.GetByBillID(billID)
	if err != nil {
		return fmt.Errorf("control number response for unknown bill %s: %w", billID, err)
	}

	if err := s.repo.SetControlNumber(b.BillID, cntrNum); err != nil {
		return fmt.Errorf("store control number for %s: %w", b.BillID, err)
	}
	if err := s.ledger.RecordResponse(row.ID, gepg.XMLToJSON(raw), gatewaylog.StatusSuccess, res.StatusDesc); err != nil {
		return err
	}

	if err := s.notifier.QueueInvoice(b, cntrNum); err != nil {
		s.logger.Error("queue invoice", "bill_id", b.BillID, "error", err)
	}
	s.forwarder.ForwardControlNumber(ctx, b.SysInfo, forwarder.ControlNumberOutcome{
		BillID:        b.BillID,
		ControlNumber: &cntrNum,
		StatusCode:    res.StatusCode,
		StatusDesc:    res.StatusDesc,
	})

	s.logger.Info("control number issued", "bill_id", b.BillID, "control_number", cntrNum)
	return nil
}

// ApplyCancellationResponse lands the asynchronous final result of a
// cancellation exchange.
func (s *Service) ApplyCancellationResponse(ctx context.Context, res gepg.CancellationResponse, raw []byte) error {
	row, err := s.ledger.GetByReqID(res.ReqID, gatewaylog.ReqTypeBillCancellation)
	if err != nil {
		return fmt.Errorf("cancellation response for unknown req %s: %w", res.ReqID, err)
	}
	if row.Status == gatewaylog.StatusCancelled && row.ResData != nil {
		return nil
	}

	billID := res.GroupBillID
	if billID == "" && row.BillID != nil {
		billID = *row.BillID
	}
	b, err := s.repo.GetByBillID(billID)
	if err != nil {
		return fmt.Errorf("cancellation response for unknown bill %s: %w", billID, err)
	}

	// 7283 is the gateway's "bill has been cancelled" terminal code.
	if res.StatusCode == "7283" {
		if err := s.repo.SetCancellationStatus(b.ID, billing.CancellationCancelled); err != nil {
			return err
		}
		s.logger.Info("bill cancelled by gateway", "bill_id", b.BillID)
		return s.ledger.RecordResponse(row.ID, gepg.XMLToJSON(raw), gatewaylog.StatusCancelled, res.StatusDesc)
	}

	if err := s.repo.SetCancellationStatus(b.ID, billing.CancellationFailed); err != nil {
		return err
	}
	desc := fmt.Sprintf("%s: %s", res.StatusCode, res.StatusDesc)
	return s.ledger.RecordResponse(row.ID, gepg.XMLToJSON(raw), gatewaylog.StatusError, desc)
}

// History returns the audit trail of gateway exchanges for a bill.
func (s *Service) History(billID string) ([]*gatewaylog.Log, error) {
	if _, err := s.repo.GetByBillID(billID); err != nil {
		return nil, apperrors.ErrBillNotFound
	}
	return s.ledger.History(billID)
}

func (s *Service) alert(ctx context.Context, subject, body string) {
	if s.alerts != nil {
		s.alerts.Alert(ctx, subject, body)
	}
}

func hashRequest(req *CreateBillRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
