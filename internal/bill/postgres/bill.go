package postgres

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	billpkg "github.com/mkumbo/billing-gateway/internal/bill"
	"github.com/mkumbo/billing-gateway/internal/core/datamodel/billing"
	"github.com/mkumbo/billing-gateway/internal/core/datamodel/idempotency"
	paymenttypes "github.com/mkumbo/billing-gateway/internal/core/datamodel/payment"
)

type BillRepository struct {
	db *gorm.DB
}

func NewBillRepository(db *gorm.DB) billpkg.RepositoryAPI {
	return &BillRepository{db: db}
}

func (r *BillRepository) CreateBill(b *billing.Bill) error {
	return r.db.Create(b).Error
}

func (r *BillRepository) GetByBillID(billID string) (*billing.Bill, error) {
	var b billing.Bill
	err := r.db.
		Preload("Customer").
		Preload("Department").
		Preload("SysInfo").
		Preload("Items").
		Preload("Items.RevenueSourceItem").
		Preload("Items.RevenueSourceItem.RevenueSource").
		Where("bill_id = ?", billID).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BillRepository) SetControlNumber(billID string, cntrNum int64) error {
	return r.db.Model(&billing.Bill{}).
		Where("bill_id = ?", billID).
		Update("control_number", cntrNum).Error
}

func (r *BillRepository) HasPayment(billRef int64) (bool, error) {
	var count int64
	err := r.db.Model(&paymenttypes.Payment{}).Where("bill_ref = ?", billRef).Count(&count).Error
	return count > 0, err
}

func (r *BillRepository) GetDepartmentByCode(code string) (*billing.Department, error) {
	var d billing.Department
	if err := r.db.Where("code = ?", code).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *BillRepository) GetSystemInfoByCode(code string) (*billing.SystemInfo, error) {
	var s billing.SystemInfo
	if err := r.db.Where("code = ?", code).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// GetOrCreateCustomer reuses a customer row with the same identity
// document, so repeat billing for one person accumulates on one record.
func (r *BillRepository) GetOrCreateCustomer(c *billing.Customer) (*billing.Customer, error) {
	var existing billing.Customer
	err := r.db.Where("id_num = ? AND id_type = ?", c.IDNum, c.IDType).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	if err := r.db.Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

func (r *BillRepository) GetRevenueSourceItem(id int64) (*billing.RevenueSourceItem, error) {
	var rsi billing.RevenueSourceItem
	if err := r.db.Preload("RevenueSource").First(&rsi, id).Error; err != nil {
		return nil, err
	}
	return &rsi, nil
}

func (r *BillRepository) LatestRate(currency string) (*billing.ExchangeRate, error) {
	var rate billing.ExchangeRate
	err := r.db.Where("currency = ?", currency).Order("trx_date DESC").First(&rate).Error
	if err != nil {
		return nil, err
	}
	return &rate, nil
}

func (r *BillRepository) GetCancellation(billRef int64) (*billing.CancelledBill, error) {
	var c billing.CancelledBill
	if err := r.db.Where("bill_ref = ?", billRef).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCancellation upserts on bill_ref: a bill keeps a single
// cancellation record whose reason and status reflect the latest
// request.
func (r *BillRepository) CreateCancellation(c *billing.CancelledBill) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bill_ref"}},
		DoUpdates: clause.AssignmentColumns([]string{"reason", "status", "gen_by", "appr_by", "updated_at"}),
	}).Create(c).Error
}

func (r *BillRepository) SetCancellationStatus(billRef int64, status billing.CancellationStatus) error {
	return r.db.Model(&billing.CancelledBill{}).
		Where("bill_ref = ?", billRef).
		Update("status", status).Error
}

func (r *BillRepository) GetOrCreateIdem(rec *idempotency.Record) (*idempotency.Record, bool, error) {
	res := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "method"}, {Name: "path"}, {Name: "body_hash"}},
		DoNothing: true,
	}).Create(rec)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return rec, true, nil
	}

	var existing idempotency.Record
	err := r.db.Where("method = ? AND path = ? AND body_hash = ?", rec.Method, rec.Path, rec.BodyHash).
		First(&existing).Error
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (r *BillRepository) UpdateIdem(id int64, updates map[string]any) error {
	return r.db.Model(&idempotency.Record{}).Where("id = ?", id).Updates(updates).Error
}
