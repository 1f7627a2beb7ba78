package callback_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mkumbo/billing-gateway/internal/callback"
	"github.com/mkumbo/billing-gateway/internal/core/datamodel/gatewaylog"
	"github.com/mkumbo/billing-gateway/internal/gepg"
	"github.com/mkumbo/billing-gateway/internal/jobs"
	"github.com/mkumbo/billing-gateway/internal/ledger"
)

func TestCallback(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Callback Suite")
}

type mockLedgerRepo struct {
	mu     sync.Mutex
	rows   map[string]*gatewaylog.Log
	nextID int64
}

func newMockLedgerRepo() *mockLedgerRepo {
	return &mockLedgerRepo{rows: make(map[string]*gatewaylog.Log)}
}

func (m *mockLedgerRepo) key(reqID string, reqType gatewaylog.RequestType) string {
	return reqID + "|" + string(reqType)
}

func (m *mockLedgerRepo) GetOrCreate(entry *gatewaylog.Log) (*gatewaylog.Log, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(entry.ReqID, entry.ReqType)
	if existing, ok := m.rows[k]; ok {
		return existing, false, nil
	}
	m.nextID++
	entry.ID = m.nextID
	m.rows[k] = entry
	return entry, true, nil
}

func (m *mockLedgerRepo) GetByReqID(reqID string, reqType gatewaylog.RequestType) (*gatewaylog.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[m.key(reqID, reqType)]; ok {
		return row, nil
	}
	return nil, ledger.ErrNotFound
}

func (m *mockLedgerRepo) GetByBillID(billID string) ([]*gatewaylog.Log, error) { return nil, nil }

func (m *mockLedgerRepo) ListByStatus(reqType gatewaylog.RequestType, status gatewaylog.Status, limit int) ([]*gatewaylog.Log, error) {
	return nil, nil
}

func (m *mockLedgerRepo) Update(id int64, updates map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ID != id {
			continue
		}
		if v, ok := updates["status"]; ok {
			row.Status = v.(gatewaylog.Status)
		}
		if v, ok := updates["bill_id"]; ok {
			s := v.(string)
			row.BillID = &s
		}
	}
	return nil
}

type inlineQueue struct{}

func (inlineQueue) Enqueue(job jobs.Job) error {
	if err := job.Run(context.Background()); err != nil {
		if job.OnFailure != nil {
			job.OnFailure(context.Background(), err)
		}
	}
	return nil
}

type recordingBills struct {
	mu            sync.Mutex
	cnResponses   []gepg.ControlNumberResponse
	cancellations []gepg.CancellationResponse
}

func (b *recordingBills) ApplyControlNumberResponse(ctx context.Context, res gepg.ControlNumberResponse, raw []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cnResponses = append(b.cnResponses, res)
	return nil
}

func (b *recordingBills) ApplyCancellationResponse(ctx context.Context, res gepg.CancellationResponse, raw []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancellations = append(b.cancellations, res)
	return nil
}

type recordingPayments struct {
	mu            sync.Mutex
	notifications []gepg.PaymentNotification
	err           error
}

func (p *recordingPayments) RecordNotification(ctx context.Context, n gepg.PaymentNotification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.notifications = append(p.notifications, n)
	return nil
}

type recordingAlerts struct {
	mu       sync.Mutex
	subjects []string
}

func (a *recordingAlerts) Alert(ctx context.Context, subject, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subjects = append(a.subjects, subject)
}

type recordingRecon struct {
	mu        sync.Mutex
	responses []gepg.ReconciliationResponse
}

func (r *recordingRecon) ApplyResponse(ctx context.Context, res gepg.ReconciliationResponse, raw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, res)
	return nil
}

var _ = Describe("Callback handler", func() {
	var (
		bills    *recordingBills
		payments *recordingPayments
		recon    *recordingRecon
		alerts   *recordingAlerts
		ldgRepo  *mockLedgerRepo
		handler  *callback.Handler
	)

	BeforeEach(func() {
		bills = &recordingBills{}
		payments = &recordingPayments{}
		recon = &recordingRecon{}
		alerts = &recordingAlerts{}
		ldgRepo = newMockLedgerRepo()
		discard := slog.New(slog.NewTextHandler(io.Discard, nil))
		handler = callback.NewHandler(bills, payments, recon,
			ledger.NewService(ldgRepo, discard), inlineQueue{}, alerts, gepg.NoopSigner{}, discard)
	})

	post := func(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		h(rec, req)
		return rec
	}

	Describe("ControlNumberResponse", func() {
		const body = `<Gepg><billSubRes><BillTrxInf><ResId>R1</ResId><ReqId>req-001</ReqId><GrpBillId>KDD20260815101500</GrpBillId><CustCntrNum>991234567890</CustCntrNum><ResStsCode>7101</ResStsCode></BillTrxInf></billSubRes></Gepg>`

		It("processes the result and returns a signed ack", func() {
			rec := post(handler.ControlNumberResponse, body)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/xml"))
			Expect(rec.Body.String()).To(ContainSubstring("<billSubResAck>"))
			Expect(rec.Body.String()).To(ContainSubstring("<AckStsCode>7101</AckStsCode>"))
			Expect(bills.cnResponses).To(HaveLen(1))
			Expect(bills.cnResponses[0].CustCntrNum).To(Equal("991234567890"))
		})

		It("routes a cancellation result to the cancellation path", func() {
			cancelBody := `<Gepg><billCanclRes><ResId>R2</ResId><ReqId>req-003</ReqId><GrpBillId>KDD20260815101500</GrpBillId><CanclStsCode>7283</CanclStsCode></billCanclRes></Gepg>`
			rec := post(handler.ControlNumberResponse, cancelBody)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("<billCanclReqAck>"))
			Expect(bills.cancellations).To(HaveLen(1))
			Expect(bills.cnResponses).To(BeEmpty())
		})

		It("still returns 200 with an error ack for garbage input", func() {
			rec := post(handler.ControlNumberResponse, "not xml")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("<AckStsCode>7202</AckStsCode>"))
			Expect(bills.cnResponses).To(BeEmpty())
		})
	})

	Describe("PaymentNotification", func() {
		const body = `<Gepg><pmtSpNtfReq><PymtTrxInf><ReqId>req-005</ReqId><GrpBillId>KDD20260815101500</GrpBillId><CustCntrNum>991234567890</CustCntrNum><TrxId>T100</TrxId><PayRefId>PR100</PayRefId><BillAmt>15000.00</BillAmt><PaidAmt>15000.00</PaidAmt><Ccy>TZS</Ccy></PymtTrxInf></pmtSpNtfReq></Gepg>`

		It("records the payment and acknowledges", func() {
			rec := post(handler.PaymentNotification, body)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("<pmtSpNtfReqAck>"))
			Expect(payments.notifications).To(HaveLen(1))

			row, err := ldgRepo.GetByReqID("req-005", gatewaylog.ReqTypePaymentNotification)
			Expect(err).NotTo(HaveOccurred())
			Expect(row.Status).To(Equal(gatewaylog.StatusSuccess))
			Expect(row.BillID).NotTo(BeNil())
		})

		It("skips reprocessing for a redelivered notification", func() {
			post(handler.PaymentNotification, body)
			post(handler.PaymentNotification, body)

			Expect(payments.notifications).To(HaveLen(1))
		})

		It("marks the ledger row on processing failure but still acknowledges", func() {
			payments.err = context.DeadlineExceeded
			rec := post(handler.PaymentNotification, body)

			Expect(rec.Code).To(Equal(http.StatusOK))
			row, err := ldgRepo.GetByReqID("req-005", gatewaylog.ReqTypePaymentNotification)
			Expect(err).NotTo(HaveOccurred())
			Expect(row.Status).To(Equal(gatewaylog.StatusError))
		})

		It("alerts the operator once processing gives up", func() {
			payments.err = context.DeadlineExceeded
			post(handler.PaymentNotification, body)

			Expect(alerts.subjects).To(HaveLen(1))
			Expect(alerts.subjects[0]).To(ContainSubstring("payment-notification:req-005"))
		})
	})

	Describe("ReconciliationResponse", func() {
		const body = `<Gepg><sucSpPmtRes><SucSpPmtTrxDtl><ResId>R9</ResId><ReqId>req-006</ReqId><PayStsCode>7101</PayStsCode><PmtTrxDtls><PmtTrxDtl><CustCntrNum>991234567890</CustCntrNum><PayRefId>PR100</PayRefId><BillAmt>15000.00</BillAmt><PaidAmt>15000.00</PaidAmt><Ccy>TZS</Ccy></PmtTrxDtl></PmtTrxDtls></SucSpPmtTrxDtl></sucSpPmtRes></Gepg>`

		It("hands the settlement report to the reconciliation engine", func() {
			rec := post(handler.ReconciliationResponse, body)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("<sucSpPmtResAck>"))
			Expect(recon.responses).To(HaveLen(1))
			Expect(recon.responses[0].Records).To(HaveLen(1))
		})
	})
})
