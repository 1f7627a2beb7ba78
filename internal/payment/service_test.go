package payment_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/mkumbo/billing-gateway/internal/core/datamodel/billing"
	paymenttypes "github.com/mkumbo/billing-gateway/internal/core/datamodel/payment"
	"github.com/mkumbo/billing-gateway/internal/forwarder"
	"github.com/mkumbo/billing-gateway/internal/gepg"
	paymentpkg "github.com/mkumbo/billing-gateway/internal/payment"
)

func TestPayment(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Payment Suite")
}

type mockPaymentRepo struct {
	mu       sync.Mutex
	payments map[int64]*paymenttypes.Payment
	nextID   int64
}

func newMockPaymentRepo() *mockPaymentRepo {
	return &mockPaymentRepo{payments: make(map[int64]*paymenttypes.Payment)}
}

func (m *mockPaymentRepo) Create(p *paymenttypes.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.payments[p.BillRef]; ok && existing.CustCntrNum == p.CustCntrNum {
		return paymentpkg.ErrPaymentExists
	}
	m.nextID++
	p.ID = m.nextID
	m.payments[p.BillRef] = p
	return nil
}

func (m *mockPaymentRepo) GetByBillRef(billRef int64) (*paymenttypes.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[billRef]; ok {
		return p, nil
	}
	return nil, errors.New("payment not found")
}

func (m *mockPaymentRepo) GetByPayrefID(payrefID string) (*paymenttypes.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.PayrefID == payrefID {
			return p, nil
		}
	}
	return nil, errors.New("payment not found")
}

type mockBillLookup struct {
	byID map[string]*billing.Bill
	byCN map[int64]*billing.Bill
}

func (m *mockBillLookup) GetByBillID(billID string) (*billing.Bill, error) {
	if b, ok := m.byID[billID]; ok {
		return b, nil
	}
	return nil, errors.New("bill not found")
}

func (m *mockBillLookup) GetByControlNumber(cntrNum int64) (*billing.Bill, error) {
	if b, ok := m.byCN[cntrNum]; ok {
		return b, nil
	}
	return nil, errors.New("bill not found")
}

type recordingReceipts struct {
	mu      sync.Mutex
	payrefs []string
}

func (r *recordingReceipts) QueueReceipt(b *billing.Bill, p *paymenttypes.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payrefs = append(r.payrefs, p.PayrefID)
	return nil
}

type recordingForwarder struct {
	mu       sync.Mutex
	outcomes []forwarder.PaymentOutcome
}

func (f *recordingForwarder) ForwardPayment(ctx context.Context, sys *billing.SystemInfo, outcome forwarder.PaymentOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

var _ = Describe("Payment service", func() {
	var (
		repo     *mockPaymentRepo
		lookup   *mockBillLookup
		receipts *recordingReceipts
		fwd      *recordingForwarder
		svc      *paymentpkg.Service
		bill     *billing.Bill
	)

	notification := func() gepg.PaymentNotification {
		return gepg.PaymentNotification{
			ReqID:       "req-005",
			BillID:      "KDD20260815101500",
			CustCntrNum: "991234567890",
			PspCode:     "PSP001",
			TrxID:       "T100",
			PayrefID:    "PR100",
			BillAmount:  decimal.RequireFromString("15000.00"),
			PaidAmount:  decimal.RequireFromString("15000.00"),
			Currency:    "TZS",
			TrxDate:     time.Date(2026, 8, 15, 14, 30, 0, 0, time.UTC),
			PayerName:   "Asha Mrema",
		}
	}

	BeforeEach(func() {
		repo = newMockPaymentRepo()
		cn := int64(991234567890)
		bill = &billing.Bill{
			ID:            42,
			BillID:        "KDD20260815101500",
			ControlNumber: &cn,
			SysInfo:       &billing.SystemInfo{IsActive: true},
		}
		lookup = &mockBillLookup{
			byID: map[string]*billing.Bill{bill.BillID: bill},
			byCN: map[int64]*billing.Bill{cn: bill},
		}
		receipts = &recordingReceipts{}
		fwd = &recordingForwarder{}
		svc = paymentpkg.NewService(repo, lookup, receipts, fwd,
			slog.New(slog.NewTextHandler(io.Discard, nil)))
	})

	It("records a payment and queues the receipt", func() {
		Expect(svc.RecordNotification(context.Background(), notification())).To(Succeed())

		p, err := svc.GetByBillRef(42)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.PayrefID).To(Equal("PR100"))
		Expect(p.PaidAmount.Equal(decimal.RequireFromString("15000.00"))).To(BeTrue())
		Expect(receipts.payrefs).To(Equal([]string{"PR100"}))
		Expect(fwd.outcomes).To(HaveLen(1))
		Expect(fwd.outcomes[0].ControlNumber).To(Equal(int64(991234567890)))
	})

	It("treats a duplicate notification as settled", func() {
		Expect(svc.RecordNotification(context.Background(), notification())).To(Succeed())
		Expect(svc.RecordNotification(context.Background(), notification())).To(Succeed())

		Expect(receipts.payrefs).To(HaveLen(1))
		Expect(fwd.outcomes).To(HaveLen(1))
	})

	It("resolves the bill by control number when the bill id is absent", func() {
		n := notification()
		n.BillID = ""
		Expect(svc.RecordNotification(context.Background(), n)).To(Succeed())

		_, err := svc.GetByBillRef(42)
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects a notification for an unknown bill", func() {
		n := notification()
		n.BillID = "UNKNOWN"
		n.CustCntrNum = "111111111111"
		Expect(svc.RecordNotification(context.Background(), n)).To(HaveOccurred())
	})

	It("rejects a malformed control number", func() {
		n := notification()
		n.CustCntrNum = "not-a-number"
		Expect(svc.RecordNotification(context.Background(), n)).To(HaveOccurred())
	})

	It("records a settlement discovered during reconciliation", func() {
		trxDate := time.Date(2026, 8, 15, 14, 30, 0, 0, time.UTC)
		rec := gepg.ReconciliationRecord{
			CustCntrNum: "991234567890",
			PayrefID:    "PR200",
			BillAmount:  decimal.RequireFromString("15000.00"),
			PaidAmount:  decimal.RequireFromString("15000.00"),
			Currency:    "TZS",
			TrxDate:     &trxDate,
		}
		Expect(svc.RecordSettlement(context.Background(), bill, rec)).To(Succeed())

		p, err := svc.GetByBillRef(42)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.PayrefID).To(Equal("PR200"))
		Expect(receipts.payrefs).To(Equal([]string{"PR200"}))
	})
})
