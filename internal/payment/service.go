package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mkumbo/billing-gateway/internal/core/datamodel/billing"
	paymenttypes "github.com/mkumbo/billing-gateway/internal/core/datamodel/payment"
	"github.com/mkumbo/billing-gateway/internal/forwarder"
	"github.com/mkumbo/billing-gateway/internal/gepg"
)

// ErrPaymentExists signals that the settlement for this bill and
// control number was already recorded. Callers treat it as success.
var ErrPaymentExists = errors.New("payment already recorded")

// RepositoryAPI is the persistence surface for settlements.
type RepositoryAPI interface {
	// Create inserts the payment or returns ErrPaymentExists when the
	// (bill_ref, cust_cntr_num) pair is already settled.
	Create(p *paymenttypes.Payment) error
	GetByBillRef(billRef int64) (*paymenttypes.Payment, error)
	GetByPayrefID(payrefID string) (*paymenttypes.Payment, error)
}

// BillLookupAPI resolves bills for inbound settlement reports.
type BillLookupAPI interface {
	GetByBillID(billID string) (*billing.Bill, error)
	GetByControlNumber(cntrNum int64) (*billing.Bill, error)
}

// NotifierAPI queues the customer receipt.
type NotifierAPI interface {
	QueueReceipt(b *billing.Bill, p *paymenttypes.Payment) error
}

// ForwarderAPI pushes the payment outcome to the integrating system.
type ForwarderAPI interface {
	ForwardPayment(ctx context.Context, sys *billing.SystemInfo, outcome forwarder.PaymentOutcome)
}

// Service lands settlement reports from both delivery paths: the
// real-time payment notification and the daily reconciliation sweep.
// The payment table's unique constraint makes the two paths converge on
// a single row, and the receipt's event key keeps the customer from
// being told twice.
type Service struct {
	repo      RepositoryAPI
	bills     BillLookupAPI
	notifier  NotifierAPI
	forwarder ForwarderAPI
	logger    *slog.Logger
}

func NewService(repo RepositoryAPI, bills BillLookupAPI, notifier NotifierAPI, fwd ForwarderAPI, logger *slog.Logger) *Service {
	return &Service{repo: repo, bills: bills, notifier: notifier, forwarder: fwd, logger: logger}
}

// RecordNotification lands a real-time payment notification.
func (s *Service) RecordNotification(ctx context.Context, n gepg.PaymentNotification) error {
	cntrNum, err := strconv.ParseInt(n.CustCntrNum, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed control number %q in payment notification: %w", n.CustCntrNum, err)
	}

	b, err := s.resolveBill(n.BillID, cntrNum)
	if err != nil {
		return err
	}

	p := &paymenttypes.Payment{
		BillRef:     b.ID,
		CustCntrNum: cntrNum,
		PspCode:     n.PspCode,
		PspName:     n.PspName,
		TrxID:       n.TrxID,
		PayrefID:    n.PayrefID,
		BillAmount:  n.BillAmount,
		PaidAmount:  n.PaidAmount,
		Currency:    n.Currency,
		CollAccNum:  n.CollAccNum,
		TrxDate:     n.TrxDate,
		PayChannel:  n.PayChannel,
		TrdptyTrxID: n.TrdptyTrxID,
	}
	if n.PayerName != "" {
		p.PayerName = &n.PayerName
	}
	if n.PayerCell != "" {
		p.PayerCell = &n.PayerCell
	}
	if n.PayerEmail != "" {
		p.PayerEmail = &n.PayerEmail
	}
	return s.record(ctx, b, p)
}

// RecordSettlement lands one reconciliation record for a bill that has
// no payment row yet. Used by the reconciliation engine's auto repair.
func (s *Service) RecordSettlement(ctx context.Context, b *billing.Bill, rec gepg.ReconciliationRecord) error {
	cntrNum, err := strconv.ParseInt(rec.CustCntrNum, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed control number %q in settlement record: %w", rec.CustCntrNum, err)
	}

	p := &paymenttypes.Payment{
		BillRef:     b.ID,
		CustCntrNum: cntrNum,
		PspCode:     rec.PspCode,
		PspName:     rec.PspName,
		TrxID:       rec.TrxID,
		PayrefID:    rec.PayrefID,
		BillAmount:  rec.BillAmount,
		PaidAmount:  rec.PaidAmount,
		Currency:    rec.Currency,
		CollAccNum:  rec.CollAccNum,
		PayChannel:  rec.PayChannel,
		TrdptyTrxID: rec.TrdptyTrxID,
	}
	if rec.TrxDate != nil {
		p.TrxDate = *rec.TrxDate
	} else {
		p.TrxDate = time.Now()
	}
	if rec.PayerName != "" {
		p.PayerName = &rec.PayerName
	}
	if rec.PayerCell != "" {
		p.PayerCell = &rec.PayerCell
	}
	if rec.PayerEmail != "" {
		p.PayerEmail = &rec.PayerEmail
	}
	return s.record(ctx, b, p)
}

func (s *Service) record(ctx context.Context, b *billing.Bill, p *paymenttypes.Payment) error {
	if err := s.repo.Create(p); err != nil {
		if errors.Is(err, ErrPaymentExists) {
			s.logger.Info("payment already recorded, skipping",
				"bill_id", b.BillID, "payref_id", p.PayrefID)
			return nil
		}
		return fmt.Errorf("persist payment for %s: %w", b.BillID, err)
	}

	s.logger.Info("payment recorded",
		"bill_id", b.BillID,
		"payref_id", p.PayrefID,
		"paid_amount", p.PaidAmount.StringFixed(2),
		"currency", p.Currency)

	if err := s.notifier.QueueReceipt(b, p); err != nil {
		s.logger.Error("queue receipt", "bill_id", b.BillID, "error", err)
	}

	outcome := forwarder.PaymentOutcome{
		BillID:        b.BillID,
		ControlNumber: p.CustCntrNum,
		PayrefID:      p.PayrefID,
		PaidAmount:    p.PaidAmount.StringFixed(2),
		Currency:      p.Currency,
		TrxDate:       p.TrxDate.Format("2006-01-02T15:04:05"),
	}
	if p.PayerName != nil {
		outcome.PayerName = *p.PayerName
	}
	s.forwarder.ForwardPayment(ctx, b.SysInfo, outcome)
	return nil
}

// GetByBillRef exposes the settlement row for status derivation and
// reconciliation matching.
func (s *Service) GetByBillRef(billRef int64) (*paymenttypes.Payment, error) {
	return s.repo.GetByBillRef(billRef)
}

func (s *Service) resolveBill(billID string, cntrNum int64) (*billing.Bill, error) {
	if billID != "" {
		if b, err := s.bills.GetByBillID(billID); err == nil {
			return b, nil
		}
	}
	b, err := s.bills.GetByControlNumber(cntrNum)
	if err != nil {
		return nil, fmt.Errorf("no bill for id %q or control number %d: %w", billID, cntrNum, err)
	}
	return b, nil
}
