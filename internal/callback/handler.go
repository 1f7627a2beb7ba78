package callback

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/mkumbo/billing-gateway/internal/core/datamodel/gatewaylog"
	"github.com/mkumbo/billing-gateway/internal/gepg"
	"github.com/mkumbo/billing-gateway/internal/jobs"
	"github.com/mkumbo/billing-gateway/internal/ledger"
)

// BillServiceAPI lands asynchronous bill exchange results.
type BillServiceAPI interface {
	ApplyControlNumberResponse(ctx context.Context, res gepg.ControlNumberResponse, raw []byte) error
	ApplyCancellationResponse(ctx context.Context, res gepg.CancellationResponse, raw []byte) error
}

// PaymentServiceAPI lands real-time payment notifications.
type PaymentServiceAPI interface {
	RecordNotification(ctx context.Context, n gepg.PaymentNotification) error
}

// ReconciliationServiceAPI lands reconciliation responses.
type ReconciliationServiceAPI interface {
	ApplyResponse(ctx context.Context, res gepg.ReconciliationResponse, raw []byte) error
}

// Queue accepts the background work the callbacks hand off.
type Queue interface {
	Enqueue(job jobs.Job) error
}

// AlertsAPI raises operator alerts for callbacks whose processing
// exhausts its retries.
type AlertsAPI interface {
	Alert(ctx context.Context, subject, body string)
}

// Handler receives the gateway's asynchronous XML callbacks. Every
// endpoint acknowledges with HTTP 200 and a signed ack envelope no
// matter what, then processes the payload in the background; the
// gateway redelivers on anything else, and redelivery is already safe
// downstream.
type Handler struct {
	bills          BillServiceAPI
	payments       PaymentServiceAPI
	reconciliation ReconciliationServiceAPI
	ledger         *ledger.Service
	queue          Queue
	alerts         AlertsAPI
	signer         gepg.Signer
	logger         *slog.Logger
}

func NewHandler(
	bills BillServiceAPI,
	payments PaymentServiceAPI,
	reconciliation ReconciliationServiceAPI,
	ledgerSvc *ledger.Service,
	queue Queue,
	alerts AlertsAPI,
	signer gepg.Signer,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		bills:          bills,
		payments:       payments,
		reconciliation: reconciliation,
		ledger:         ledgerSvc,
		queue:          queue,
		alerts:         alerts,
		signer:         signer,
		logger:         logger,
	}
}

// ControlNumberResponse handles POST /api/v1/gepg/control-number-response.
// The gateway posts both billSubRes and billCanclRes results here; the
// body element decides which exchange the payload closes.
func (h *Handler) ControlNumberResponse(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("read control number response", "error", err)
		h.writeAck(w, gepg.ComposeControlNumberResponseAck, "", "7202")
		return
	}

	if cres, cerr := gepg.ParseCancellationResponse(body); cerr == nil && cres.StatusCode != "" {
		h.enqueue("cancellation-response:"+cres.ReqID, func(ctx context.Context) error {
			return h.bills.ApplyCancellationResponse(ctx, cres, body)
		})
		h.writeAck(w, gepg.ComposeCancellationResponseAck, cres.ResID, gepg.AckStatusContinue)
		return
	}

	res, err := gepg.ParseControlNumberResponse(body)
	if err != nil {
		h.logger.Error("parse control number response", "error", err)
		h.writeAck(w, gepg.ComposeControlNumberResponseAck, "", "7202")
		return
	}

	h.enqueue("control-number-response:"+res.ReqID, func(ctx context.Context) error {
		return h.bills.ApplyControlNumberResponse(ctx, res, body)
	})
	h.writeAck(w, gepg.ComposeControlNumberResponseAck, res.ResID, gepg.AckStatusContinue)
}

// PaymentNotification handles POST /api/v1/gepg/payment-notification.
// Each notification gets its own ledger row keyed by the gateway's req
// id, so a redelivered notification reuses the row and the settled
// payment makes the reprocessing a no-op.
func (h *Handler) PaymentNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("read payment notification", "error", err)
		h.writeAck(w, gepg.ComposePaymentNotificationAck, "", "7202")
		return
	}

	n, err := gepg.ParsePaymentNotification(body)
	if err != nil {
		h.logger.Error("parse payment notification", "error", err)
		h.writeAck(w, gepg.ComposePaymentNotificationAck, "", "7202")
		return
	}

	row, created, err := h.ledger.Open(n.ReqID, gatewaylog.ReqTypePaymentNotification, nil, nil, gepg.XMLToJSON(body))
	if err != nil {
		h.logger.Error("open ledger row for payment notification", "req_id", n.ReqID, "error", err)
		h.writeAck(w, gepg.ComposePaymentNotificationAck, n.ReqID, "7202")
		return
	}
	if !created && row.Status == gatewaylog.StatusSuccess {
		h.logger.Info("payment notification already processed", "req_id", n.ReqID)
		h.writeAck(w, gepg.ComposePaymentNotificationAck, n.ReqID, gepg.AckStatusContinue)
		return
	}

	rowID := row.ID
	h.enqueue("payment-notification:"+n.ReqID, func(ctx context.Context) error {
		if err := h.payments.RecordNotification(ctx, n); err != nil {
			if serr := h.ledger.SetStatus(rowID, gatewaylog.StatusError, err.Error()); serr != nil {
				h.logger.Error("mark notification row error", "req_id", n.ReqID, "error", serr)
			}
			return err
		}
		if n.BillID != "" {
			if serr := h.ledger.AttachBill(rowID, n.BillID); serr != nil {
				h.logger.Error("attach bill to notification row", "req_id", n.ReqID, "error", serr)
			}
		}
		return h.ledger.SetStatus(rowID, gatewaylog.StatusSuccess, "")
	})
	h.writeAck(w, gepg.ComposePaymentNotificationAck, n.ReqID, gepg.AckStatusContinue)
}

// ReconciliationResponse handles POST /api/v1/gepg/reconciliation-response.
func (h *Handler) ReconciliationResponse(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("read reconciliation response", "error", err)
		h.writeAck(w, gepg.ComposeReconciliationResponseAck, "", "7202")
		return
	}

	res, err := gepg.ParseReconciliationResponse(body)
	if err != nil {
		h.logger.Error("parse reconciliation response", "error", err)
		h.writeAck(w, gepg.ComposeReconciliationResponseAck, "", "7202")
		return
	}

	h.enqueue("reconciliation-response:"+res.ReqID, func(ctx context.Context) error {
		return h.reconciliation.ApplyResponse(ctx, res, body)
	})
	h.writeAck(w, gepg.ComposeReconciliationResponseAck, res.ResID, gepg.AckStatusContinue)
}

func (h *Handler) enqueue(name string, run func(ctx context.Context) error) {
	err := h.queue.Enqueue(jobs.Job{
		Name: name,
		Run:  run,
		OnFailure: func(ctx context.Context, err error) {
			h.logger.Error("callback processing failed", "job", name, "error", err)
			if h.alerts != nil {
				h.alerts.Alert(ctx, "Callback processing failed: "+name,
					fmt.Sprintf("Processing for %s gave up after exhausting retries.\n\nLast error: %v\n", name, err))
			}
		},
	})
	if err != nil {
		h.logger.Error("queue callback processing", "job", name, "error", err)
	}
}

type ackComposer func(ackID, refID, code string, signer gepg.Signer) ([]byte, error)

func (h *Handler) writeAck(w http.ResponseWriter, compose ackComposer, refID, code string) {
	ack, err := compose(uuid.NewString(), refID, code, h.signer)
	if err != nil {
		h.logger.Error("compose callback ack", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(ack); err != nil {
		h.logger.Error("write callback ack", "error", err)
	}
}
