package postgres

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/mkumbo/billing-gateway/internal"
	recontypes "github.com/mkumbo/billing-gateway/internal/core/datamodel/reconciliation"
	reconpkg "github.com/mkumbo/billing-gateway/internal/reconciliation"
)

type ReconciliationRepository struct {
	db *gorm.DB
}

func NewReconciliationRepository(db *gorm.DB) reconpkg.RepositoryAPI {
	return &ReconciliationRepository{db: db}
}

func (r *ReconciliationRepository) CreateRun(run *recontypes.Run) error {
	return r.db.Create(run).Error
}

func (r *ReconciliationRepository) GetRun(id int64) (*recontypes.Run, error) {
	var run recontypes.Run
	if err := r.db.First(&run, id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *ReconciliationRepository) GetRunByReqID(reqID string) (*recontypes.Run, error) {
	var run recontypes.Run
	if err := r.db.Where("req_id = ?", reqID).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRunByDate returns the latest run for a business date. Earlier
// errored runs for the same date stay behind it as history.
func (r *ReconciliationRepository) GetRunByDate(date time.Time) (*recontypes.Run, error) {
	var run recontypes.Run
	err := r.db.Where("business_date = ?", date.Format("2006-01-02")).
		Order("created_at DESC").First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// UpdateRun applies updates with a not-closed predicate so a transition
// racing a concurrent Close loses atomically instead of reopening a
// settled run.
func (r *ReconciliationRepository) UpdateRun(id int64, updates map[string]any) error {
	res := r.db.Model(&recontypes.Run{}).
		Where("id = ? AND status <> ?", id, recontypes.RunClosed).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrRunClosed
	}
	return nil
}

// UpsertRecord writes the record keyed by payref_id; re-processing the
// same settlement report rewrites rows in place.
func (r *ReconciliationRepository) UpsertRecord(rec *recontypes.Record) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "payref_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"run_id", "match_status", "mismatch_reason",
			"resolved_bill_ref", "resolved_payment_id", "updated_at",
		}),
	}).Create(rec).Error
}

func (r *ReconciliationRepository) ListRecords(runID int64) ([]*recontypes.Record, error) {
	var records []*recontypes.Record
	err := r.db.Where("run_id = ?", runID).Order("payref_id ASC").Find(&records).Error
	return records, err
}
