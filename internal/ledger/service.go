package ledger

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/mkumbo/billing-gateway/internal/core/datamodel/gatewaylog"
)

// ErrNotFound is returned when no ledger row exists for a lookup key.
var ErrNotFound = errors.New("ledger entry not found")

// RepositoryAPI is the persistence surface of the request ledger.
type RepositoryAPI interface {
	GetOrCreate(entry *gatewaylog.Log) (*gatewaylog.Log, bool, error)
	GetByReqID(reqID string, reqType gatewaylog.RequestType) (*gatewaylog.Log, error)
	GetByBillID(billID string) ([]*gatewaylog.Log, error)
	ListByStatus(reqType gatewaylog.RequestType, status gatewaylog.Status, limit int) ([]*gatewaylog.Log, error)
	Update(id int64, updates map[string]any) error
}

// Service keeps one audit row per protocol exchange. Rows are keyed by
// (req_id, req_type) so a replayed callback or a retried submission maps
// onto its existing row instead of creating a second one.
type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Open records the start of an outbound exchange. When a row for the key
// already exists it is returned as-is and created is false, which lets
// callers detect a duplicate submission.
func (s *Service) Open(reqID string, reqType gatewaylog.RequestType, billID, sysCode *string, reqData json.RawMessage) (*gatewaylog.Log, bool, error) {
	entry := &gatewaylog.Log{
		ReqID:   reqID,
		ReqType: reqType,
		BillID:  billID,
		SysCode: sysCode,
		Status:  gatewaylog.StatusPending,
		ReqData: reqData,
	}
	row, created, err := s.repo.GetOrCreate(entry)
	if err != nil {
		return nil, false, err
	}
	if !created {
		s.logger.Debug("ledger row already exists",
			"req_id", reqID,
			"req_type", reqType,
			"status", row.Status)
	}
	return row, created, nil
}

// RecordAck stores the synchronous acknowledgement and moves the row to
// the status the ack implies.
func (s *Service) RecordAck(id int64, ack json.RawMessage, status gatewaylog.Status, desc string) error {
	return s.repo.Update(id, map[string]any{
		"req_ack":     ack,
		"status":      status,
		"status_desc": desc,
	})
}

// RecordResponse stores the asynchronous final result for the exchange.
func (s *Service) RecordResponse(id int64, res json.RawMessage, status gatewaylog.Status, desc string) error {
	return s.repo.Update(id, map[string]any{
		"res_data":    res,
		"status":      status,
		"status_desc": desc,
	})
}

// RecordResponseAck stores the acknowledgement this side returned for an
// inbound message.
func (s *Service) RecordResponseAck(id int64, ack json.RawMessage) error {
	return s.repo.Update(id, map[string]any{"res_ack": ack})
}

// SetStatus updates the row status without touching any payload column.
func (s *Service) SetStatus(id int64, status gatewaylog.Status, desc string) error {
	return s.repo.Update(id, map[string]any{
		"status":      status,
		"status_desc": desc,
	})
}

// AttachBill links a ledger row to the bill it turned out to concern.
// Used for unsolicited callbacks where the bill is only known after
// parsing.
func (s *Service) AttachBill(id int64, billID string) error {
	return s.repo.Update(id, map[string]any{"bill_id": billID})
}

func (s *Service) GetByReqID(reqID string, reqType gatewaylog.RequestType) (*gatewaylog.Log, error) {
	return s.repo.GetByReqID(reqID, reqType)
}

// History returns every exchange recorded for a bill, oldest first.
func (s *Service) History(billID string) ([]*gatewaylog.Log, error) {
	return s.repo.GetByBillID(billID)
}

// Pending lists rows of one request type stuck in the given status, for
// sweep jobs that re-drive stalled exchanges.
func (s *Service) Pending(reqType gatewaylog.RequestType, status gatewaylog.Status, limit int) ([]*gatewaylog.Log, error) {
	return s.repo.ListByStatus(reqType, status, limit)
}
