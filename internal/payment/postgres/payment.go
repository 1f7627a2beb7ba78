package postgres

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mkumbo/billing-gateway/internal/core/datamodel/billing"
	paymenttypes "github.com/mkumbo/billing-gateway/internal/core/datamodel/payment"
	paymentpkg "github.com/mkumbo/billing-gateway/internal/payment"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) paymentpkg.RepositoryAPI {
	return &PaymentRepository{db: db}
}

// Create inserts the settlement row. The composite unique index on
// (bill_ref, cust_cntr_num) turns duplicate deliveries into
// ErrPaymentExists instead of a second row.
func (r *PaymentRepository) Create(p *paymenttypes.Payment) error {
	res := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bill_ref"}, {Name: "cust_cntr_num"}},
		DoNothing: true,
	}).Create(p)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return paymentpkg.ErrPaymentExists
	}
	return nil
}

func (r *PaymentRepository) GetByBillRef(billRef int64) (*paymenttypes.Payment, error) {
	var p paymenttypes.Payment
	if err := r.db.Where("bill_ref = ?", billRef).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetByPayrefID(payrefID string) (*paymenttypes.Payment, error) {
	var p paymenttypes.Payment
	if err := r.db.Where("payref_id = ?", payrefID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// BillLookup resolves bills for inbound settlement reports.
type BillLookup struct {
	db *gorm.DB
}

func NewBillLookup(db *gorm.DB) paymentpkg.BillLookupAPI {
	return &BillLookup{db: db}
}

func (l *BillLookup) GetByBillID(billID string) (*billing.Bill, error) {
	var b billing.Bill
	err := l.db.Preload("Customer").Preload("SysInfo").
		Where("bill_id = ?", billID).First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (l *BillLookup) GetByControlNumber(cntrNum int64) (*billing.Bill, error) {
	var b billing.Bill
	err := l.db.Preload("Customer").Preload("SysInfo").
		Where("control_number = ?", cntrNum).First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}
