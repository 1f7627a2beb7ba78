package notify_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/mkumbo/billing-gateway/internal/core/datamodel/billing"
	"github.com/mkumbo/billing-gateway/internal/core/datamodel/delivery"
	paymenttypes "github.com/mkumbo/billing-gateway/internal/core/datamodel/payment"
	"github.com/mkumbo/billing-gateway/internal/jobs"
	"github.com/mkumbo/billing-gateway/internal/notify"
)

func TestNotify(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Notify Suite")
}

type mockDeliveryRepo struct {
	mu     sync.Mutex
	byKey  map[string]*delivery.Delivery
	nextID int64
}

func newMockDeliveryRepo() *mockDeliveryRepo {
	return &mockDeliveryRepo{byKey: make(map[string]*delivery.Delivery)}
}

func (m *mockDeliveryRepo) GetOrCreate(d *delivery.Delivery) (*delivery.Delivery, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byKey[d.EventKey]; ok {
		return existing, false, nil
	}
	m.nextID++
	d.ID = m.nextID
	m.byKey[d.EventKey] = d
	return d, true, nil
}

func (m *mockDeliveryRepo) SetStatus(id int64, status delivery.Status, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.byKey {
		if d.ID == id {
			d.Status = status
			d.Detail = detail
		}
	}
	return nil
}

func (m *mockDeliveryRepo) get(key string) *delivery.Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byKey[key]
}

// inline queue runs jobs synchronously so assertions see the end state.
type inlineQueue struct{}

func (inlineQueue) Enqueue(job jobs.Job) error {
	if err := job.Run(context.Background()); err != nil {
		if job.OnFailure != nil {
			job.OnFailure(context.Background(), err)
		}
	}
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (n *recordingNotifier) Send(ctx context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

var _ = Describe("Delivery service", func() {
	var (
		repo     *mockDeliveryRepo
		notifier *recordingNotifier
		svc      *notify.Service
		bill     *billing.Bill
	)

	BeforeEach(func() {
		repo = newMockDeliveryRepo()
		notifier = &recordingNotifier{}
		svc = notify.NewService(repo, notifier, inlineQueue{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

		email := "payer@example.org"
		bill = &billing.Bill{
			ID:        42,
			BillID:    "KDD20260815101500",
			Amount:    decimal.RequireFromString("15000.00"),
			Currency:  "TZS",
			ExpiresAt: time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
			Customer:  &billing.Customer{FirstName: "Asha", LastName: "Mrema", Email: &email},
		}
	})

	It("sends one invoice per control number", func() {
		Expect(svc.QueueInvoice(bill, 991234567890)).To(Succeed())
		Expect(svc.QueueInvoice(bill, 991234567890)).To(Succeed())

		Expect(notifier.count()).To(Equal(1))
		row := repo.get(notify.InvoiceEventKey(991234567890))
		Expect(row).NotTo(BeNil())
		Expect(row.Status).To(Equal(delivery.StatusSent))
	})

	It("sends one receipt per payref even across delivery paths", func() {
		p := &paymenttypes.Payment{
			PayrefID:   "PR100",
			PaidAmount: decimal.RequireFromString("15000.00"),
			Currency:   "TZS",
			TrxDate:    time.Now(),
		}
		Expect(svc.QueueReceipt(bill, p)).To(Succeed())
		Expect(svc.QueueReceipt(bill, p)).To(Succeed())

		Expect(notifier.count()).To(Equal(1))
		Expect(repo.get(notify.ReceiptEventKey("PR100")).Kind).To(Equal(delivery.KindReceipt))
	})

	It("prefers the payer email from the settlement report", func() {
		payerEmail := "actual-payer@example.org"
		p := &paymenttypes.Payment{
			PayrefID:   "PR101",
			PaidAmount: decimal.RequireFromString("500.00"),
			Currency:   "TZS",
			TrxDate:    time.Now(),
			PayerEmail: &payerEmail,
		}
		Expect(svc.QueueReceipt(bill, p)).To(Succeed())
		Expect(notifier.sent[0].To).To(Equal(payerEmail))
	})

	It("marks the delivery failed when the bill has no reachable address", func() {
		bill.Customer.Email = nil
		Expect(svc.QueueInvoice(bill, 991234567891)).To(Succeed())

		Expect(notifier.count()).To(BeZero())
		row := repo.get(notify.InvoiceEventKey(991234567891))
		Expect(row.Status).To(Equal(delivery.StatusFailed))
	})
})
