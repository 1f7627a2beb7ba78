package bill

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	apperrors "github.com/mkumbo/billing-gateway/internal"
	"github.com/mkumbo/billing-gateway/internal/core/datamodel/gatewaylog"
	"github.com/mkumbo/billing-gateway/internal/transport"
)

type ServiceAPI interface {
	Submit(req *CreateBillRequest) (*SubmitResult, error)
	Get(billID string) (*BillResponse, error)
	Status(billID string) (*StatusResponse, error)
	Resubmit(billID string) (*SubmitResult, error)
	Cancel(billID string, req *CancelBillRequest) (*SubmitResult, error)
	History(billID string) ([]*gatewaylog.Log, error)
}

type Handler struct {
	transport.BaseHandler
	Service ServiceAPI
	Logger  *slog.Logger
}

func NewHandler(service ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{Service: service, Logger: logger}
}

// CreateBill handles POST /api/v1/bills
func (h *Handler) CreateBill(w http.ResponseWriter, r *http.Request) {
	var req CreateBillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("CreateBill: failed to parse request body", "error", err)
		h.HandleError(w, apperrors.NewValidationError("invalid request body", apperrors.ErrCodeInvalidPayload))
		return
	}

	result, err := h.Service.Submit(&req)
	if err != nil {
		h.Logger.Error("CreateBill: service error", "error", err, "dept_code", req.DeptCode)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("CreateBill: bill submitted", "bill_id", result.BillID, "req_id", result.ReqID)
	h.WriteJSON(w, http.StatusAccepted, result)
}

// GetBill handles GET /api/v1/bills/{billID}
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	billID := chi.URLParam(r, "billID")

	resp, err := h.Service.Get(billID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

// GetBillStatus handles GET /api/v1/bills/{billID}/status
func (h *Handler) GetBillStatus(w http.ResponseWriter, r *http.Request) {
	billID := chi.URLParam(r, "billID")

	resp, err := h.Service.Status(billID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

// ResubmitBill handles POST /api/v1/bills/{billID}/resubmit
func (h *Handler) ResubmitBill(w http.ResponseWriter, r *http.Request) {
	billID := chi.URLParam(r, "billID")

	result, err := h.Service.Resubmit(billID)
	if err != nil {
		h.Logger.Error("ResubmitBill: service error", "error", err, "bill_id", billID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("ResubmitBill: control number re-requested", "bill_id", billID, "req_id", result.ReqID)
	h.WriteJSON(w, http.StatusAccepted, result)
}

// CancelBill handles POST /api/v1/bills/{billID}/cancel
func (h *Handler) CancelBill(w http.ResponseWriter, r *http.Request) {
	billID := chi.URLParam(r, "billID")

	var req CancelBillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("CancelBill: failed to parse request body", "error", err)
		h.HandleError(w, apperrors.NewValidationError("invalid request body", apperrors.ErrCodeInvalidPayload))
		return
	}

	result, err := h.Service.Cancel(billID, &req)
	if err != nil {
		h.Logger.Error("CancelBill: service error", "error", err, "bill_id", billID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("CancelBill: cancellation requested", "bill_id", billID, "req_id", result.ReqID)
	h.WriteJSON(w, http.StatusAccepted, result)
}

// GetBillHistory handles GET /api/v1/bills/{billID}/history
func (h *Handler) GetBillHistory(w http.ResponseWriter, r *http.Request) {
	billID := chi.URLParam(r, "billID")

	rows, err := h.Service.History(billID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	type entry struct {
		ReqID      string `json:"req_id"`
		ReqType    string `json:"req_type"`
		Status     string `json:"status"`
		StatusDesc string `json:"status_desc,omitempty"`
		CreatedAt  string `json:"created_at"`
	}
	out := make([]entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, entry{
			ReqID:      row.ReqID,
			ReqType:    string(row.ReqType),
			Status:     string(row.Status),
			StatusDesc: row.StatusDesc,
			CreatedAt:  row.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	h.WriteJSON(w, http.StatusOK, map[string]any{"bill_id": billID, "history": out})
}
