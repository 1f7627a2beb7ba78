package gepg_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/mkumbo/billing-gateway/internal/core/datamodel/billing"
	"github.com/mkumbo/billing-gateway/internal/core/datamodel/gatewaylog"
	"github.com/mkumbo/billing-gateway/internal/gepg"
)

func testBill() *billing.Bill {
	desc := "Business license fee"
	genBy := "jdoe"
	email := "payer@example.org"
	cell := "255700000001"
	return &billing.Bill{
		BillID:       "KDD20260815101500",
		GroupBillID:  "KDD20260815101500",
		BillType:     billing.BillTypeNormal,
		PayType:      billing.PayTypeAny,
		Description:  &desc,
		Amount:       decimal.RequireFromString("15000.00"),
		EqvAmount:    decimal.RequireFromString("15000.00"),
		Currency:     "TZS",
		ExchangeRate: decimal.RequireFromString("1.00"),
		PayOption:    billing.PayOptionExact,
		PayPlan:      billing.PayPlanPostPaid,
		PayLimitType: billing.PayLimitNone,
		GeneratedAt:  time.Date(2026, 8, 15, 10, 15, 0, 0, time.UTC),
		ExpiresAt:    time.Date(2026, 9, 14, 10, 15, 0, 0, time.UTC),
		GeneratedBy:  &genBy,
		ApprovedBy:   &genBy,
		Department:   &billing.Department{Code: "KDD"},
		Customer: &billing.Customer{
			FirstName:  "Asha",
			LastName:   "Mrema",
			TIN:        "123456789",
			IDNum:      "19900101-00001-00001-01",
			IDType:     billing.CustIDTypeNIN,
			AccountNum: "ACC-001",
			CellNum:    &cell,
			Email:      &email,
		},
		Items: []billing.BillItem{
			{
				RefOnPay:  "N",
				Amount:    decimal.RequireFromString("15000.00"),
				EqvAmount: decimal.RequireFromString("15000.00"),
				RevenueSourceItem: &billing.RevenueSourceItem{
					RevenueSource: &billing.RevenueSource{
						Name:    "Business License",
						GfsCode: "140101",
					},
				},
			},
		},
	}
}

var spConfig = gepg.ServiceProviderConfig{
	GrpCode:   "SP10001",
	SpCode:    "SP10001",
	SubSpCode: "1001",
	SysCode:   "KDBS",
}

var _ = Describe("Payload composition", func() {
	It("wraps the bill submission body in a signed envelope", func() {
		data, err := gepg.ComposeBillSubmission("req-001", testBill(), spConfig, gepg.NoopSigner{})
		Expect(err).NotTo(HaveOccurred())

		doc := string(data)
		Expect(doc).To(HavePrefix("<Gepg>"))
		Expect(doc).To(HaveSuffix("</Gepg>"))
		Expect(doc).To(ContainSubstring("<billSubReq>"))
		Expect(doc).To(ContainSubstring("<ReqId>req-001</ReqId>"))
		Expect(doc).To(ContainSubstring("<GrpBillId>KDD20260815101500</GrpBillId>"))
		Expect(doc).To(ContainSubstring("<BillAmt>15000.00</BillAmt>"))
		Expect(doc).To(ContainSubstring("<BillGenDt>2026-08-15T10:15:00</BillGenDt>"))
		Expect(doc).To(ContainSubstring("<CustName>Asha Mrema</CustName>"))
		Expect(doc).To(ContainSubstring("<GfsCode>140101</GfsCode>"))
		Expect(doc).To(ContainSubstring("<signature></signature>"))
	})

	It("formats the reconciliation request date as a calendar day", func() {
		date := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)
		data, err := gepg.ComposeReconciliationRequest("req-002", spConfig, date, gepg.NoopSigner{})
		Expect(err).NotTo(HaveOccurred())

		doc := string(data)
		Expect(doc).To(ContainSubstring("<sucSpPmtReq>"))
		Expect(doc).To(ContainSubstring("<TrxDt>2026-08-14</TrxDt>"))
		Expect(doc).To(ContainSubstring("<SpGrpCode>SP10001</SpGrpCode>"))
	})

	It("composes the cancellation request with the recorded reason", func() {
		cancel := &billing.CancelledBill{
			Reason: "duplicate bill",
			GenBy:  "jdoe",
			ApprBy: "asupervisor",
		}
		data, err := gepg.ComposeBillCancellation("req-003", testBill(), cancel, spConfig, gepg.NoopSigner{})
		Expect(err).NotTo(HaveOccurred())

		doc := string(data)
		Expect(doc).To(ContainSubstring("<billCanclReq>"))
		Expect(doc).To(ContainSubstring("<CanclReasn>duplicate bill</CanclReasn>"))
		Expect(doc).To(ContainSubstring("<GrpBillId>KDD20260815101500</GrpBillId>"))
	})

	It("composes signed acknowledgement envelopes for callbacks", func() {
		data, err := gepg.ComposePaymentNotificationAck("ack-1", "req-009", gepg.AckStatusContinue, gepg.NoopSigner{})
		Expect(err).NotTo(HaveOccurred())

		doc := string(data)
		Expect(doc).To(ContainSubstring("<pmtSpNtfReqAck>"))
		Expect(doc).To(ContainSubstring("<ReqId>req-009</ReqId>"))
		Expect(doc).To(ContainSubstring("<AckStsCode>7101</AckStsCode>"))
	})
})

var _ = Describe("Client", func() {
	newClient := func(baseURL string) *gepg.Client {
		return gepg.NewClient(gepg.ClientConfig{
			BaseURL:     baseURL,
			SpCode:      "SP10001",
			Timeout:     2 * time.Second,
			MaxAttempts: 3,
			Backoff:     time.Millisecond,
		}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}

	It("sends protocol headers and returns the parsed ack", func() {
		var gotCom, gotCode, gotAlg, gotCT string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotCom = r.Header.Get("Gepg-Com")
			gotCode = r.Header.Get("Gepg-Code")
			gotAlg = r.Header.Get("Gepg-Alg")
			gotCT = r.Header.Get("Content-Type")
			w.Write([]byte(`<Gepg><billSubReqAck><ReqId>req-001</ReqId><AckId>A1</AckId><AckStsCode>7101</AckStsCode></billSubReqAck></Gepg>`))
		}))
		defer srv.Close()

		ack, raw, err := newClient(srv.URL).Submit(context.Background(), gatewaylog.ReqTypeControlNumber, []byte("<Gepg/>"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ack.Accepted()).To(BeTrue())
		Expect(string(raw)).To(ContainSubstring("billSubReqAck"))
		Expect(gotCom).To(Equal("default.sp.in"))
		Expect(gotCode).To(Equal("SP10001"))
		Expect(gotAlg).To(Equal("00S2"))
		Expect(gotCT).To(Equal("application/xml"))
	})

	It("retries server errors until the gateway answers", func() {
		var hits int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			if hits < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte(`<Gepg><sucSpPmtReqAck><ReqId>req-006</ReqId><AckId>A2</AckId><AckStsCode>7101</AckStsCode></sucSpPmtReqAck></Gepg>`))
		}))
		defer srv.Close()

		ack, _, err := newClient(srv.URL).Submit(context.Background(), gatewaylog.ReqTypeReconciliation, []byte("<Gepg/>"))
		Expect(err).NotTo(HaveOccurred())
		Expect(hits).To(Equal(3))
		Expect(ack.ReqID).To(Equal("req-006"))
	})

	It("gives up after the configured number of attempts", func() {
		var hits int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, _, err := newClient(srv.URL).Submit(context.Background(), gatewaylog.ReqTypeControlNumber, []byte("<Gepg/>"))
		Expect(err).To(HaveOccurred())
		Expect(hits).To(Equal(3))
	})

	It("does not retry a client error response", func() {
		var hits int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		_, _, err := newClient(srv.URL).Submit(context.Background(), gatewaylog.ReqTypeControlNumber, []byte("<Gepg/>"))
		Expect(err).To(HaveOccurred())
		Expect(hits).To(Equal(1))
	})
})

var _ = Describe("RSA signing", func() {
	var signer gepg.Signer

	BeforeEach(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		Expect(err).NotTo(HaveOccurred())

		keyPath := filepath.Join(GinkgoT().TempDir(), "sp.key")
		pemData := pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		})
		Expect(os.WriteFile(keyPath, pemData, 0o600)).To(Succeed())

		signer, err = gepg.NewRSASigner(keyPath)
		Expect(err).NotTo(HaveOccurred())
	})

	It("produces a signature the same key verifies", func() {
		payload := []byte("<billSubReq><BillHdr><ReqId>r1</ReqId></BillHdr></billSubReq>")
		sig, err := signer.Sign(payload)
		Expect(err).NotTo(HaveOccurred())
		Expect(sig).NotTo(BeEmpty())
		Expect(signer.Verify(payload, sig)).To(Succeed())
	})

	It("rejects a signature over different content", func() {
		sig, err := signer.Sign([]byte("original"))
		Expect(err).NotTo(HaveOccurred())
		Expect(signer.Verify([]byte("tampered"), sig)).NotTo(Succeed())
	})
})

var _ = Describe("Response parsing", func() {
	It("parses an acknowledgement regardless of nesting", func() {
		ack, err := gepg.ParseAck([]byte(`<Gepg><billSubReqAck><TrxStsInf><ReqId>req-001</ReqId><AckId>A1</AckId><AckStsCode>7101</AckStsCode><AckStsDesc>Received</AckStsDesc></TrxStsInf></billSubReqAck><signature>x</signature></Gepg>`))
		Expect(err).NotTo(HaveOccurred())
		Expect(ack.ReqID).To(Equal("req-001"))
		Expect(ack.StatusCode).To(Equal("7101"))
		Expect(ack.Accepted()).To(BeTrue())
	})

	It("treats a non-continue ack code as not accepted", func() {
		ack, err := gepg.ParseAck([]byte(`<Gepg><billSubReqAck><ReqId>req-001</ReqId><AckId>A1</AckId><AckStsCode>7201</AckStsCode></billSubReqAck></Gepg>`))
		Expect(err).NotTo(HaveOccurred())
		Expect(ack.Accepted()).To(BeFalse())
	})

	It("parses the control number response", func() {
		res, err := gepg.ParseControlNumberResponse([]byte(`<Gepg><billSubRes><BillTrxInf><ResId>R1</ResId><ReqId>req-001</ReqId><GrpBillId>KDD20260815101500</GrpBillId><CustCntrNum>991234567890</CustCntrNum><ResStsCode>7101</ResStsCode><ResStsDesc>Successful</ResStsDesc></BillTrxInf></billSubRes></Gepg>`))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.BillID).To(Equal("KDD20260815101500"))
		Expect(res.CustCntrNum).To(Equal("991234567890"))
		Expect(res.StatusCode).To(Equal("7101"))
	})

	It("parses a payment notification with decimal amounts", func() {
		n, err := gepg.ParsePaymentNotification([]byte(`<Gepg><pmtSpNtfReq><PymtTrxInf><ReqId>req-005</ReqId><GrpBillId>KDD20260815101500</GrpBillId><CustCntrNum>991234567890</CustCntrNum><PspCode>PSP001</PspCode><PspName>CRDB</PspName><TrxId>T100</TrxId><PayRefId>PR100</PayRefId><BillAmt>15000.00</BillAmt><PaidAmt>15000.00</PaidAmt><Ccy>TZS</Ccy><TrxDtTm>2026-08-15T14:30:00</TrxDtTm><PyrName>Asha Mrema</PyrName></PymtTrxInf></pmtSpNtfReq></Gepg>`))
		Expect(err).NotTo(HaveOccurred())
		Expect(n.PayrefID).To(Equal("PR100"))
		Expect(n.PaidAmount.Equal(decimal.RequireFromString("15000.00"))).To(BeTrue())
		Expect(n.TrxDate.Hour()).To(Equal(14))
	})

	It("rejects a payment notification with a malformed amount", func() {
		_, err := gepg.ParsePaymentNotification([]byte(`<Gepg><pmtSpNtfReq><ReqId>req-005</ReqId><PaidAmt>not-a-number</PaidAmt></pmtSpNtfReq></Gepg>`))
		Expect(err).To(HaveOccurred())
	})

	It("parses every settlement record of a reconciliation response", func() {
		res, err := gepg.ParseReconciliationResponse([]byte(`<Gepg><sucSpPmtRes><SucSpPmtTrxDtl><ResId>R9</ResId><ReqId>req-006</ReqId><PayStsCode>7101</PayStsCode><PmtTrxDtls><PmtTrxDtl><CustCntrNum>991234567890</CustCntrNum><PayRefId>PR100</PayRefId><BillAmt>15000.00</BillAmt><PaidAmt>15000.00</PaidAmt><Ccy>TZS</Ccy><TrxDtTm>2026-08-15T14:30:00</TrxDtTm></PmtTrxDtl><PmtTrxDtl><CustCntrNum>991234567891</CustCntrNum><PayRefId>PR101</PayRefId><BillAmt>500.00</BillAmt><PaidAmt>500.00</PaidAmt><Ccy>USD</Ccy></PmtTrxDtl></PmtTrxDtls></SucSpPmtTrxDtl></sucSpPmtRes></Gepg>`))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.ReqID).To(Equal("req-006"))
		Expect(res.Records).To(HaveLen(2))
		Expect(res.Records[0].PayrefID).To(Equal("PR100"))
		Expect(res.Records[0].TrxDate).NotTo(BeNil())
		Expect(res.Records[1].Currency).To(Equal("USD"))
		Expect(res.Records[1].TrxDate).To(BeNil())
	})

	It("parses the cancellation response status", func() {
		res, err := gepg.ParseCancellationResponse([]byte(`<Gepg><billCanclRes><ResId>R2</ResId><ReqId>req-003</ReqId><GrpBillId>KDD20260815101500</GrpBillId><CanclStsCode>7283</CanclStsCode><CanclStsDesc>Bill has been cancelled</CanclStsDesc></billCanclRes></Gepg>`))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.StatusCode).To(Equal("7283"))
	})

	It("preserves malformed payloads for the audit trail", func() {
		raw := gepg.XMLToJSON([]byte("not xml at all"))
		Expect(string(raw)).To(ContainSubstring("not xml at all"))
		Expect(strings.HasPrefix(string(raw), "{")).To(BeTrue())
	})
})
