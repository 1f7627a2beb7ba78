package reconciliation

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"

	apperrors "github.com/mkumbo/billing-gateway/internal"
	recontypes "github.com/mkumbo/billing-gateway/internal/core/datamodel/reconciliation"
	"github.com/mkumbo/billing-gateway/internal/transport"
)

type ServiceAPI interface {
	Get(date time.Time) (*recontypes.Run, []*recontypes.Record, error)
	Close(date time.Time, closedBy string, force bool) (*recontypes.Run, error)
}

type Handler struct {
	transport.BaseHandler
	Service ServiceAPI
	Logger  *slog.Logger
}

func NewHandler(service ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{Service: service, Logger: logger}
}

type closeRequest struct {
	ClosedBy string `json:"closed_by"`
	Force    bool   `json:"force"`
}

type recordView struct {
	PayrefID       string `json:"payref_id"`
	BillID         string `json:"bill_id,omitempty"`
	CustCntrNum    string `json:"cust_cntr_num"`
	PaidAmount     string `json:"paid_amount"`
	Currency       string `json:"currency"`
	MatchStatus    string `json:"match_status"`
	MismatchReason string `json:"mismatch_reason,omitempty"`
	ResolvedBill   *int64 `json:"resolved_bill_ref,omitempty"`
}

type runView struct {
	BusinessDate   string          `json:"business_date"`
	Status         string          `json:"status"`
	StatusDesc     string          `json:"status_desc,omitempty"`
	ReportedTotals json.RawMessage `json:"reported_totals,omitempty"`
	InternalTotals json.RawMessage `json:"internal_totals,omitempty"`
	TotalsMatch    *bool           `json:"totals_match,omitempty"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty"`
	ClosedBy       *string         `json:"closed_by,omitempty"`
	Records        []recordView    `json:"records"`
}

// GetRun handles GET /api/v1/reconciliations/{date}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	date, ok := h.parseDate(w, r)
	if !ok {
		return
	}

	run, records, err := h.Service.Get(date)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, toRunView(run, records))
}

// CloseRun handles POST /api/v1/reconciliations/{date}/close
func (h *Handler) CloseRun(w http.ResponseWriter, r *http.Request) {
	date, ok := h.parseDate(w, r)
	if !ok {
		return
	}

	var req closeRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.HandleError(w, apperrors.NewValidationError("invalid request body", apperrors.ErrCodeInvalidPayload))
			return
		}
	}
	if req.ClosedBy == "" {
		req.ClosedBy = "operator"
	}

	run, err := h.Service.Close(date, req.ClosedBy, req.Force)
	if err != nil {
		h.Logger.Error("CloseRun: service error", "error", err, "date", date.Format(businessDateLayout))
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("CloseRun: run closed",
		"business_date", date.Format(businessDateLayout), "closed_by", req.ClosedBy, "force", req.Force)
	h.WriteJSON(w, http.StatusOK, toRunView(run, nil))
}

func (h *Handler) parseDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := chi.URLParam(r, "date")
	date, err := time.Parse(businessDateLayout, raw)
	if err != nil {
		h.HandleError(w, apperrors.NewValidationError("date must be YYYY-MM-DD", apperrors.ErrCodeValidationFailed))
		return time.Time{}, false
	}
	return date, true
}

func toRunView(run *recontypes.Run, records []*recontypes.Record) runView {
	view := runView{
		BusinessDate:   run.BusinessDate.Format(businessDateLayout),
		Status:         string(run.Status),
		StatusDesc:     run.StatusDesc,
		ReportedTotals: run.ReportedTotals,
		InternalTotals: run.InternalTotals,
		TotalsMatch:    run.TotalsMatch,
		ClosedAt:       run.ClosedAt,
		ClosedBy:       run.ClosedBy,
		Records:        make([]recordView, 0, len(records)),
	}
	for _, rec := range records {
		view.Records = append(view.Records, recordView{
			PayrefID:       rec.PayrefID,
			BillID:         rec.BillID,
			CustCntrNum:    rec.CustCntrNum,
			PaidAmount:     rec.PaidAmount.StringFixed(2),
			Currency:       rec.Currency,
			MatchStatus:    string(rec.MatchStatus),
			MismatchReason: rec.MismatchReason,
			ResolvedBill:   rec.ResolvedBillRef,
		})
	}
	return view
}
