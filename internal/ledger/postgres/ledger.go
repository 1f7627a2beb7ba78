package postgres

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mkumbo/billing-gateway/internal/core/datamodel/gatewaylog"
	ledgerpkg "github.com/mkumbo/billing-gateway/internal/ledger"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) ledgerpkg.RepositoryAPI {
	return &LedgerRepository{db: db}
}

// GetOrCreate inserts the row unless one with the same (req_id, req_type)
// exists. The unique index arbitrates concurrent inserts; on conflict the
// existing row is loaded and returned with created false.
func (r *LedgerRepository) GetOrCreate(entry *gatewaylog.Log) (*gatewaylog.Log, bool, error) {
	res := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "req_id"}, {Name: "req_type"}},
		DoNothing: true,
	}).Create(entry)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return entry, true, nil
	}

	var existing gatewaylog.Log
	err := r.db.Where("req_id = ? AND req_type = ?", entry.ReqID, entry.ReqType).First(&existing).Error
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (r *LedgerRepository) GetByReqID(reqID string, reqType gatewaylog.RequestType) (*gatewaylog.Log, error) {
	var entry gatewaylog.Log
	err := r.db.Where("req_id = ? AND req_type = ?", reqID, reqType).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledgerpkg.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *LedgerRepository) GetByBillID(billID string) ([]*gatewaylog.Log, error) {
	var entries []*gatewaylog.Log
	err := r.db.Where("bill_id = ?", billID).Order("created_at ASC").Find(&entries).Error
	return entries, err
}

func (r *LedgerRepository) ListByStatus(reqType gatewaylog.RequestType, status gatewaylog.Status, limit int) ([]*gatewaylog.Log, error) {
	var entries []*gatewaylog.Log
	q := r.db.Where("req_type = ? AND status = ?", reqType, status).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&entries).Error
	return entries, err
}

func (r *LedgerRepository) Update(id int64, updates map[string]any) error {
	return r.db.Model(&gatewaylog.Log{}).Where("id = ?", id).Updates(updates).Error
}
