package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/mkumbo/billing-gateway/internal"
	"github.com/mkumbo/billing-gateway/internal/core/datamodel/billing"
	"github.com/mkumbo/billing-gateway/internal/core/datamodel/gatewaylog"
	paymenttypes "github.com/mkumbo/billing-gateway/internal/core/datamodel/payment"
	recontypes "github.com/mkumbo/billing-gateway/internal/core/datamodel/reconciliation"
	"github.com/mkumbo/billing-gateway/internal/gepg"
	"github.com/mkumbo/billing-gateway/internal/jobs"
	"github.com/mkumbo/billing-gateway/internal/ledger"
)

const businessDateLayout = "2006-01-02"

// RepositoryAPI is the persistence surface of the reconciliation engine.
type RepositoryAPI interface {
	CreateRun(run *recontypes.Run) error
	GetRun(id int64) (*recontypes.Run, error)
	GetRunByReqID(reqID string) (*recontypes.Run, error)
	GetRunByDate(date time.Time) (*recontypes.Run, error)
	// UpdateRun applies updates unless the run has closed; a CLOSED run
	// returns apperrors.ErrRunClosed and stays untouched.
	UpdateRun(id int64, updates map[string]any) error
	UpsertRecord(rec *recontypes.Record) error
	ListRecords(runID int64) ([]*recontypes.Record, error)
}

// GatewayAPI is the outbound protocol surface.
type GatewayAPI interface {
	Submit(ctx context.Context, reqType gatewaylog.RequestType, payload []byte) (gepg.Ack, []byte, error)
}

// PaymentServiceAPI supplies internal settlements and the auto-repair
// path for missing ones.
type PaymentServiceAPI interface {
	RecordSettlement(ctx context.Context, b *billing.Bill, rec gepg.ReconciliationRecord) error
	GetByBillRef(billRef int64) (*paymenttypes.Payment, error)
}

// BillLookupAPI resolves bills named by settlement records.
type BillLookupAPI interface {
	GetByBillID(billID string) (*billing.Bill, error)
}

// Queue accepts background work for gateway exchanges.
type Queue interface {
	Enqueue(job jobs.Job) error
}

// AlertsAPI raises operator alerts for failed gateway exchanges.
type AlertsAPI interface {
	Alert(ctx context.Context, subject, body string)
}

// Engine drives the per-business-date reconciliation state machine:
// REQUESTED when the settlement report is asked for, ACKED when the
// gateway accepts, RECEIVED when the report arrives, PROCESSED when
// every record is classified, CLOSED when an operator signs it off.
// ERROR is reachable from any non-CLOSED state and makes the date
// eligible for a retry.
type Engine struct {
	repo     RepositoryAPI
	ledger   *ledger.Service
	gateway  GatewayAPI
	signer   gepg.Signer
	spConfig gepg.ServiceProviderConfig
	queue    Queue
	payments PaymentServiceAPI
	bills    BillLookupAPI
	alerts   AlertsAPI
	logger   *slog.Logger
}

func NewEngine(
	repo RepositoryAPI,
	ledgerSvc *ledger.Service,
	gateway GatewayAPI,
	signer gepg.Signer,
	spConfig gepg.ServiceProviderConfig,
	queue Queue,
	payments PaymentServiceAPI,
	bills BillLookupAPI,
	alerts AlertsAPI,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		repo:     repo,
		ledger:   ledgerSvc,
		gateway:  gateway,
		signer:   signer,
		spConfig: spConfig,
		queue:    queue,
		payments: payments,
		bills:    bills,
		alerts:   alerts,
		logger:   logger,
	}
}

// Request asks the gateway for the settlement report of one business
// date. The run row is persisted as REQUESTED before any network I/O.
// A closed run for the date is never touched.
func (e *Engine) Request(ctx context.Context, date time.Time) (*recontypes.Run, error) {
	date = truncateToDay(date)

	if existing, err := e.repo.GetRunByDate(date); err == nil && existing != nil {
		if existing.IsClosed() {
			return nil, apperrors.ErrRunClosed
		}
		if existing.Status != recontypes.RunError {
			e.logger.Info("reconciliation run already in flight",
				"business_date", date.Format(businessDateLayout),
				"status", existing.Status)
			return existing, nil
		}
	}

	reqID := uuid.NewString()
	run := &recontypes.Run{
		ReqID:        reqID,
		BusinessDate: date,
		Status:       recontypes.RunRequested,
	}
	if err := e.repo.CreateRun(run); err != nil {
		return nil, apperrors.NewInternalError("persist reconciliation run", err)
	}

	payload, err := gepg.ComposeReconciliationRequest(reqID, e.spConfig, date, e.signer)
	if err != nil {
		return nil, apperrors.NewInternalError("compose reconciliation request", err)
	}
	if _, _, err := e.ledger.Open(reqID, gatewaylog.ReqTypeReconciliation, nil, nil, gepg.XMLToJSON(payload)); err != nil {
		return nil, apperrors.NewInternalError("open ledger row", err)
	}

	runID := run.ID
	err = e.queue.Enqueue(jobs.Job{
		Name: "reconciliation-request:" + date.Format(businessDateLayout),
		Run: func(ctx context.Context) error {
			ack, rawAck, err := e.gateway.Submit(ctx, gatewaylog.ReqTypeReconciliation, payload)
			if err != nil {
				return err
			}
			row, lerr := e.ledger.GetByReqID(reqID, gatewaylog.ReqTypeReconciliation)
			if lerr == nil {
				status := gatewaylog.StatusPending
				if !ack.Accepted() {
					status = gatewaylog.StatusError
				}
				if rerr := e.ledger.RecordAck(row.ID, gepg.XMLToJSON(rawAck), status, ack.StatusDesc); rerr != nil {
					e.logger.Error("record reconciliation ack", "req_id", reqID, "error", rerr)
				}
			}
			if !ack.Accepted() {
				e.alert(ctx, "Reconciliation request rejected for "+date.Format(businessDateLayout),
					fmt.Sprintf("The gateway rejected the reconciliation request for %s.\n\nAck: %s %s\n",
						date.Format(businessDateLayout), ack.StatusCode, ack.StatusDesc))
				e.markRunError(runID, fmt.Sprintf("gateway rejected: %s %s", ack.StatusCode, ack.StatusDesc))
				return nil
			}
			if err := e.repo.UpdateRun(runID, map[string]any{"status": recontypes.RunAcked}); err != nil {
				e.logger.Error("mark run acked", "req_id", reqID, "error", err)
			}
			return nil
		},
		OnFailure: func(ctx context.Context, err error) {
			e.alert(ctx, "Reconciliation request failed for "+date.Format(businessDateLayout),
				fmt.Sprintf("The reconciliation request for %s gave up after exhausting retries.\n\nLast error: %v\n",
					date.Format(businessDateLayout), err))
			e.markRunError(runID, err.Error())
		},
	})
	if err != nil {
		return nil, apperrors.NewInternalError("queue reconciliation request", err)
	}

	e.logger.Info("reconciliation requested",
		"business_date", date.Format(businessDateLayout), "req_id", reqID)
	return run, nil
}

// ApplyResponse lands the gateway's settlement report: classify every
// record, compute the per-currency totals, move the run to PROCESSED,
// then queue the repair pass for records whose internal payment was
// missing. Reapplying the same response upserts the same records and
// recomputes the same totals, so replays converge. A CLOSED run is
// immutable: late redeliveries are dropped, including ones racing the
// close between the read and the status updates.
func (e *Engine) ApplyResponse(ctx context.Context, res gepg.ReconciliationResponse, raw []byte) error {
	run, err := e.repo.GetRunByReqID(res.ReqID)
	if err != nil {
		return fmt.Errorf("reconciliation response for unknown req %s: %w", res.ReqID, err)
	}
	if run.IsClosed() {
		e.logger.Warn("reconciliation response for closed run, dropping",
			"req_id", res.ReqID,
			"business_date", run.BusinessDate.Format(businessDateLayout))
		return nil
	}

	if row, lerr := e.ledger.GetByReqID(res.ReqID, gatewaylog.ReqTypeReconciliation); lerr == nil {
		if rerr := e.ledger.RecordResponse(row.ID, gepg.XMLToJSON(raw), gatewaylog.StatusSuccess, res.StatusDesc); rerr != nil {
			e.logger.Error("record reconciliation response", "req_id", res.ReqID, "error", rerr)
		}
	}

	if err := e.repo.UpdateRun(run.ID, map[string]any{"status": recontypes.RunReceived}); err != nil {
		if errors.Is(err, apperrors.ErrRunClosed) {
			e.logger.Warn("run closed mid-flight, dropping response", "req_id", res.ReqID)
			return nil
		}
		return err
	}

	reported := recontypes.Totals{}
	internal := recontypes.Totals{}
	for _, rec := range res.Records {
		stored, p := e.matchRecord(run.ID, rec)
		if err := e.repo.UpsertRecord(stored); err != nil {
			e.markRunError(run.ID, err.Error())
			return fmt.Errorf("store reconciliation record %s: %w", rec.PayrefID, err)
		}
		addTotal(reported, rec.Currency, rec.PaidAmount)
		if p != nil {
			addTotal(internal, p.Currency, p.PaidAmount)
		}
	}

	match := reported.Equal(internal)
	reportedJSON, _ := json.Marshal(reported)
	internalJSON, _ := json.Marshal(internal)
	err = e.repo.UpdateRun(run.ID, map[string]any{
		"status":          recontypes.RunProcessed,
		"reported_totals": json.RawMessage(reportedJSON),
		"internal_totals": json.RawMessage(internalJSON),
		"totals_match":    match,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrRunClosed) {
			e.logger.Warn("run closed mid-flight, dropping response", "req_id", res.ReqID)
			return nil
		}
		return err
	}

	e.enqueueRepair(run.ID, run.BusinessDate)

	e.logger.Info("reconciliation processed",
		"business_date", run.BusinessDate.Format(businessDateLayout),
		"records", len(res.Records),
		"totals_match", match)
	return nil
}

// matchRecord classifies one settlement record against internal state
// and reports the internal payment it resolved to, if any. The record's
// bill_id names the bill; a missing internal payment is only flagged
// here, the repair pass creates it later.
func (e *Engine) matchRecord(runID int64, rec gepg.ReconciliationRecord) (*recontypes.Record, *paymenttypes.Payment) {
	stored := &recontypes.Record{
		RunID:       runID,
		PayrefID:    rec.PayrefID,
		BillID:      rec.BillID,
		GroupBillID: rec.GroupBillID,
		CustCntrNum: rec.CustCntrNum,
		BillCtrNum:  rec.BillCtrNum,
		SpCode:      rec.SpCode,
		PspCode:     rec.PspCode,
		PspName:     rec.PspName,
		TrxID:       rec.TrxID,
		BillAmount:  rec.BillAmount,
		PaidAmount:  rec.PaidAmount,
		Currency:    rec.Currency,
		CollAccNum:  rec.CollAccNum,
		TrxDate:     rec.TrxDate,
		PayChannel:  rec.PayChannel,
		TrdptyTrxID: rec.TrdptyTrxID,
		PayerName:   rec.PayerName,
		PayerCell:   rec.PayerCell,
		PayerEmail:  rec.PayerEmail,
	}

	b, err := e.bills.GetByBillID(rec.BillID)
	if err != nil {
		stored.MatchStatus = recontypes.BillNotFound
		return stored, nil
	}
	stored.ResolvedBillRef = &b.ID

	p, err := e.payments.GetByBillRef(b.ID)
	if err != nil {
		stored.MatchStatus = recontypes.MissingInternalPayment
		return stored, nil
	}
	stored.ResolvedPaymentID = &p.ID
	stored.MatchStatus, stored.MismatchReason = comparePayment(p, rec)
	return stored, p
}

// comparePayment checks one settlement record against the internal
// payment it resolved to. The control number comparison is numeric; a
// reported value that does not parse carries its own reason code.
func comparePayment(p *paymenttypes.Payment, rec gepg.ReconciliationRecord) (recontypes.MatchStatus, string) {
	var reasons []string
	if p.Currency != rec.Currency {
		reasons = append(reasons, recontypes.ReasonCurrencyMismatch)
	}
	if !p.PaidAmount.Equal(rec.PaidAmount) {
		reasons = append(reasons, recontypes.ReasonPaidAmountMismatch)
	}
	if !p.BillAmount.Equal(rec.BillAmount) {
		reasons = append(reasons, recontypes.ReasonBillAmountMismatch)
	}
	if cntrNum, err := strconv.ParseInt(rec.CustCntrNum, 10, 64); err != nil {
		reasons = append(reasons, recontypes.ReasonControlNumberFormatError)
	} else if p.CustCntrNum != cntrNum {
		reasons = append(reasons, recontypes.ReasonControlNumberMismatch)
	}

	if len(reasons) == 0 {
		return recontypes.Matched, ""
	}
	return recontypes.Mismatch, strings.Join(reasons, ",")
}

func (e *Engine) enqueueRepair(runID int64, date time.Time) {
	err := e.queue.Enqueue(jobs.Job{
		Name: "reconciliation-repair:" + date.Format(businessDateLayout),
		Run: func(ctx context.Context) error {
			return e.Repair(ctx, runID)
		},
		OnFailure: func(ctx context.Context, err error) {
			e.logger.Error("reconciliation repair failed",
				"business_date", date.Format(businessDateLayout), "error", err)
			e.alert(ctx, "Reconciliation repair failed for "+date.Format(businessDateLayout),
				fmt.Sprintf("Auto-repair for %s gave up after exhausting retries.\n\nLast error: %v\n",
					date.Format(businessDateLayout), err))
		},
	})
	if err != nil {
		e.logger.Error("queue reconciliation repair",
			"business_date", date.Format(businessDateLayout), "error", err)
	}
}

// Repair is the asynchronous pass over records whose internal payment
// was missing at match time. It re-checks that the run is still open,
// creates the payment from the settlement record's fields, and
// reclassifies the record; losing the creation race to a concurrent
// settlement falls back to the normal comparison instead of failing.
func (e *Engine) Repair(ctx context.Context, runID int64) error {
	run, err := e.repo.GetRun(runID)
	if err != nil {
		return fmt.Errorf("load run %d for repair: %w", runID, err)
	}
	if run.IsClosed() {
		e.logger.Warn("run closed before repair, skipping",
			"business_date", run.BusinessDate.Format(businessDateLayout))
		return nil
	}
	records, err := e.repo.ListRecords(runID)
	if err != nil {
		return fmt.Errorf("list records for repair: %w", err)
	}

	var firstErr error
	repaired := 0
	for _, stored := range records {
		if stored.MatchStatus != recontypes.MissingInternalPayment {
			continue
		}
		if err := e.repairRecord(ctx, stored); err != nil {
			e.logger.Error("repair settlement record",
				"payref_id", stored.PayrefID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		repaired++
	}
	if repaired > 0 {
		e.logger.Info("reconciliation records repaired",
			"business_date", run.BusinessDate.Format(businessDateLayout),
			"repaired", repaired)
	}
	return firstErr
}

func (e *Engine) repairRecord(ctx context.Context, stored *recontypes.Record) error {
	b, err := e.bills.GetByBillID(stored.BillID)
	if err != nil {
		return fmt.Errorf("resolve bill %s: %w", stored.BillID, err)
	}
	rec := gatewayRecord(stored)

	if p, perr := e.payments.GetByBillRef(b.ID); perr == nil {
		// A payment landed since the matching pass; classify against it.
		stored.ResolvedPaymentID = &p.ID
		stored.MatchStatus, stored.MismatchReason = comparePayment(p, rec)
		return e.repo.UpsertRecord(stored)
	}

	if err := e.payments.RecordSettlement(ctx, b, rec); err != nil {
		return fmt.Errorf("create payment from settlement record: %w", err)
	}
	p, err := e.payments.GetByBillRef(b.ID)
	if err != nil {
		return fmt.Errorf("reload payment for %s: %w", b.BillID, err)
	}
	stored.ResolvedPaymentID = &p.ID
	if p.PayrefID != stored.PayrefID {
		// A concurrent writer won the unique constraint with a different
		// settlement; classify against the surviving row.
		stored.MatchStatus, stored.MismatchReason = comparePayment(p, rec)
		return e.repo.UpsertRecord(stored)
	}
	stored.MatchStatus = recontypes.AutoCreated
	stored.MismatchReason = ""
	e.logger.Info("payment auto-created from settlement record",
		"bill_id", b.BillID, "payref_id", stored.PayrefID)
	return e.repo.UpsertRecord(stored)
}

func gatewayRecord(stored *recontypes.Record) gepg.ReconciliationRecord {
	return gepg.ReconciliationRecord{
		PayrefID:    stored.PayrefID,
		BillID:      stored.BillID,
		GroupBillID: stored.GroupBillID,
		CustCntrNum: stored.CustCntrNum,
		BillCtrNum:  stored.BillCtrNum,
		SpCode:      stored.SpCode,
		PspCode:     stored.PspCode,
		PspName:     stored.PspName,
		TrxID:       stored.TrxID,
		BillAmount:  stored.BillAmount,
		PaidAmount:  stored.PaidAmount,
		Currency:    stored.Currency,
		CollAccNum:  stored.CollAccNum,
		TrxDate:     stored.TrxDate,
		PayChannel:  stored.PayChannel,
		TrdptyTrxID: stored.TrdptyTrxID,
		PayerName:   stored.PayerName,
		PayerCell:   stored.PayerCell,
		PayerEmail:  stored.PayerEmail,
	}
}

// Close finalizes a processed run. force closes a run whose totals do
// not match or that is still mid-flight; without force only a PROCESSED
// run with matching totals may close. The closing update carries the
// same not-closed predicate as every other transition, so two
// concurrent closes resolve to one winner.
func (e *Engine) Close(date time.Time, closedBy string, force bool) (*recontypes.Run, error) {
	run, err := e.repo.GetRunByDate(truncateToDay(date))
	if err != nil {
		return nil, apperrors.ErrRunNotFound
	}
	if run.IsClosed() {
		return nil, apperrors.ErrRunClosed
	}
	if !force {
		if run.Status != recontypes.RunProcessed {
			return nil, apperrors.ErrRunNotProcessed
		}
		if run.TotalsMatch == nil || !*run.TotalsMatch {
			return nil, apperrors.NewConflictError(
				"totals do not match, close requires force", apperrors.ErrCodeRunNotProcessed)
		}
	}

	now := time.Now()
	err = e.repo.UpdateRun(run.ID, map[string]any{
		"status":    recontypes.RunClosed,
		"closed_at": now,
		"closed_by": closedBy,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrRunClosed) {
			return nil, apperrors.ErrRunClosed
		}
		return nil, apperrors.NewInternalError("close reconciliation run", err)
	}

	e.logger.Info("reconciliation run closed",
		"business_date", run.BusinessDate.Format(businessDateLayout),
		"closed_by", closedBy,
		"force", force)
	return e.repo.GetRunByDate(run.BusinessDate)
}

// Get returns the run for a business date with its records.
func (e *Engine) Get(date time.Time) (*recontypes.Run, []*recontypes.Record, error) {
	run, err := e.repo.GetRunByDate(truncateToDay(date))
	if err != nil {
		return nil, nil, apperrors.ErrRunNotFound
	}
	records, err := e.repo.ListRecords(run.ID)
	if err != nil {
		return nil, nil, apperrors.NewInternalError("list reconciliation records", err)
	}
	return run, records, nil
}

// RunByDate reports the run without its records, for scheduling checks.
func (e *Engine) RunByDate(date time.Time) (*recontypes.Run, error) {
	return e.repo.GetRunByDate(truncateToDay(date))
}

func (e *Engine) markRunError(runID int64, desc string) {
	err := e.repo.UpdateRun(runID, map[string]any{
		"status":      recontypes.RunError,
		"status_desc": desc,
	})
	if err != nil && !errors.Is(err, apperrors.ErrRunClosed) {
		e.logger.Error("mark run error", "run_id", runID, "error", err)
	}
}

func (e *Engine) alert(ctx context.Context, subject, body string) {
	if e.alerts != nil {
		e.alerts.Alert(ctx, subject, body)
	}
}

func addTotal(t recontypes.Totals, ccy string, amount decimal.Decimal) {
	cur := t[ccy]
	cur.Amount = cur.Amount.Add(amount)
	cur.Count++
	t[ccy] = cur
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
