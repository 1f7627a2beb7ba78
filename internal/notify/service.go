package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkumbo/billing-gateway/internal/core/datamodel/billing"
	"github.com/mkumbo/billing-gateway/internal/core/datamodel/delivery"
	paymenttypes "github.com/mkumbo/billing-gateway/internal/core/datamodel/payment"
	"github.com/mkumbo/billing-gateway/internal/jobs"
)

// RepositoryAPI is the persistence surface for delivery records.
type RepositoryAPI interface {
	GetOrCreate(d *delivery.Delivery) (*delivery.Delivery, bool, error)
	SetStatus(id int64, status delivery.Status, detail string) error
}

// Queue accepts background work for the actual send.
type Queue interface {
	Enqueue(job jobs.Job) error
}

// Service dispatches invoice and receipt notifications at most once per
// event. The delivery row's unique event key absorbs replays: a control
// number delivered twice or a payment reported through both the
// notification and reconciliation paths produces a single send.
type Service struct {
	repo     RepositoryAPI
	notifier Notifier
	queue    Queue
	logger   *slog.Logger
}

func NewService(repo RepositoryAPI, notifier Notifier, queue Queue, logger *slog.Logger) *Service {
	return &Service{repo: repo, notifier: notifier, queue: queue, logger: logger}
}

// InvoiceEventKey identifies one control-number issuance.
func InvoiceEventKey(cntrNum int64) string {
	return fmt.Sprintf("auto:invoice_cn:%d", cntrNum)
}

// ReceiptEventKey identifies one settled payment.
func ReceiptEventKey(payrefID string) string {
	return fmt.Sprintf("auto:receipt_payref:%s", payrefID)
}

// QueueInvoice sends the customer their control number. Repeat calls for
// the same control number are no-ops.
func (s *Service) QueueInvoice(bill *billing.Bill, cntrNum int64) error {
	recipient := recipientFor(bill)
	msg := Message{
		To:      recipient,
		Subject: fmt.Sprintf("Control number for bill %s", bill.BillID),
		Body: fmt.Sprintf(
			"Your bill %s has been assigned control number %d.\n\nAmount due: %s %s\nExpires: %s\n",
			bill.BillID, cntrNum, bill.Amount.StringFixed(2), bill.Currency,
			bill.ExpiresAt.Format("2006-01-02"),
		),
	}
	return s.queueOnce(InvoiceEventKey(cntrNum), delivery.KindInvoice, bill.ID, msg)
}

// QueueReceipt sends the customer a payment receipt. Repeat calls for
// the same payref are no-ops.
func (s *Service) QueueReceipt(bill *billing.Bill, p *paymenttypes.Payment) error {
	recipient := recipientFor(bill)
	if p.PayerEmail != nil && *p.PayerEmail != "" {
		recipient = *p.PayerEmail
	}
	msg := Message{
		To:      recipient,
		Subject: fmt.Sprintf("Payment receipt for bill %s", bill.BillID),
		Body: fmt.Sprintf(
			"Payment received for bill %s.\n\nAmount paid: %s %s\nReference: %s\nTransaction date: %s\n",
			bill.BillID, p.PaidAmount.StringFixed(2), p.Currency, p.PayrefID,
			p.TrxDate.Format("2006-01-02 15:04"),
		),
	}
	return s.queueOnce(ReceiptEventKey(p.PayrefID), delivery.KindReceipt, bill.ID, msg)
}

func (s *Service) queueOnce(eventKey string, kind delivery.Kind, billRef int64, msg Message) error {
	row, created, err := s.repo.GetOrCreate(&delivery.Delivery{
		EventKey:  eventKey,
		Kind:      kind,
		BillRef:   billRef,
		Recipient: msg.To,
		Status:    delivery.StatusQueued,
	})
	if err != nil {
		return fmt.Errorf("record delivery %s: %w", eventKey, err)
	}
	if !created {
		s.logger.Debug("delivery already recorded, skipping", "event_key", eventKey, "status", row.Status)
		return nil
	}
	if msg.To == "" {
		s.logger.Warn("no recipient for delivery", "event_key", eventKey)
		return s.repo.SetStatus(row.ID, delivery.StatusFailed, "no recipient address")
	}

	id := row.ID
	return s.queue.Enqueue(jobs.Job{
		Name:        "notify:" + eventKey,
		MaxAttempts: 3,
		Backoff:     30 * time.Second,
		Run: func(ctx context.Context) error {
			if err := s.notifier.Send(ctx, msg); err != nil {
				return err
			}
			return s.repo.SetStatus(id, delivery.StatusSent, "")
		},
		OnFailure: func(ctx context.Context, err error) {
			if serr := s.repo.SetStatus(id, delivery.StatusFailed, err.Error()); serr != nil {
				s.logger.Error("mark delivery failed", "event_key", eventKey, "error", serr)
			}
		},
	})
}

func recipientFor(bill *billing.Bill) string {
	if bill.Customer != nil && bill.Customer.Email != nil {
		return *bill.Customer.Email
	}
	return ""
}
