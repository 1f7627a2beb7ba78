package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/mkumbo/billing-gateway/internal/core/datamodel/billing"
)

// ControlNumberOutcome is the JSON body forwarded when a control number
// request reaches its final state.
type ControlNumberOutcome struct {
	BillID        string `json:"bill_id"`
	ControlNumber *int64 `json:"control_number,omitempty"`
	StatusCode    string `json:"status_code"`
	StatusDesc    string `json:"status_desc"`
}

// PaymentOutcome is the JSON body forwarded when a payment lands.
type PaymentOutcome struct {
	BillID        string `json:"bill_id"`
	ControlNumber int64  `json:"control_number"`
	PayrefID      string `json:"payref_id"`
	PaidAmount    string `json:"paid_amount"`
	Currency      string `json:"currency"`
	TrxDate       string `json:"trx_date"`
	PayerName     string `json:"payer_name,omitempty"`
}

// Forwarder pushes gateway outcomes to the callback URLs registered for
// the integrating system a bill came from. Delivery is best effort: a
// failed push is logged and dropped, never retried, so a slow consumer
// cannot stall gateway processing.
type Forwarder struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func New(timeout time.Duration, logger *slog.Logger) *Forwarder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Forwarder{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// ForwardControlNumber pushes a control number outcome to the system
// that created the bill, if one is registered and active.
func (f *Forwarder) ForwardControlNumber(ctx context.Context, sys *billing.SystemInfo, outcome ControlNumberOutcome) {
	if sys == nil || !sys.IsActive {
		return
	}
	f.post(ctx, sys.CntrNumResponseCallback, outcome, "control_number", outcome.BillID)
}

// ForwardPayment pushes a payment outcome to the system that created the
// bill, if one is registered and active.
func (f *Forwarder) ForwardPayment(ctx context.Context, sys *billing.SystemInfo, outcome PaymentOutcome) {
	if sys == nil || !sys.IsActive {
		return
	}
	f.post(ctx, sys.PayNotificationCallback, outcome, "payment", outcome.BillID)
}

func (f *Forwarder) post(ctx context.Context, url string, payload any, kind, billID string) {
	if url == "" {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		f.logger.Error("marshal forwarded outcome", "kind", kind, "bill_id", billID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		f.logger.Error("build forward request", "kind", kind, "bill_id", billID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Warn("forward callback failed", "kind", kind, "bill_id", billID, "url", url, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		f.logger.Warn("forward callback rejected",
			"kind", kind,
			"bill_id", billID,
			"url", url,
			"status_code", resp.StatusCode)
		return
	}
	f.logger.Info("outcome forwarded", "kind", kind, "bill_id", billID, "status_code", resp.StatusCode)
}
