package forwarder_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mkumbo/billing-gateway/internal/core/datamodel/billing"
	"github.com/mkumbo/billing-gateway/internal/forwarder"
)

func TestForwarder(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Forwarder Suite")
}

var _ = Describe("Forwarder", func() {
	var fwd *forwarder.Forwarder

	BeforeEach(func() {
		fwd = forwarder.New(2*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	})

	It("posts the control number outcome to the registered callback", func() {
		var got forwarder.ControlNumberOutcome
		received := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer close(received)
			Expect(r.Header.Get("Content-Type")).To(Equal("application/json"))
			Expect(json.NewDecoder(r.Body).Decode(&got)).To(Succeed())
		}))
		defer srv.Close()

		cn := int64(991234567890)
		fwd.ForwardControlNumber(context.Background(), &billing.SystemInfo{
			IsActive:                true,
			CntrNumResponseCallback: srv.URL,
		}, forwarder.ControlNumberOutcome{
			BillID:        "KDD20260815101500",
			ControlNumber: &cn,
			StatusCode:    "7101",
		})

		Eventually(received).Should(BeClosed())
		Expect(got.BillID).To(Equal("KDD20260815101500"))
		Expect(*got.ControlNumber).To(Equal(cn))
	})

	It("skips inactive systems", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Fail("callback should not be invoked for inactive system")
		}))
		defer srv.Close()

		fwd.ForwardPayment(context.Background(), &billing.SystemInfo{
			IsActive:                false,
			PayNotificationCallback: srv.URL,
		}, forwarder.PaymentOutcome{BillID: "B1"})
	})

	It("swallows callback failures", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		// Must not panic or error; delivery is best effort.
		fwd.ForwardPayment(context.Background(), &billing.SystemInfo{
			IsActive:                true,
			PayNotificationCallback: srv.URL,
		}, forwarder.PaymentOutcome{BillID: "B1"})
	})
})
