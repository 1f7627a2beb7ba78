package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment captures the settlement details reported by the gateway for a
// bill. A bill has at most one payment; the composite unique index on
// (bill_ref, cust_cntr_num) is the duplicate-delivery guard.
type Payment struct {
	ID          int64           `gorm:"primaryKey"`
	BillRef     int64           `gorm:"column:bill_ref;uniqueIndex:uniq_payment_bill_cntrnum;not null"`
	CustCntrNum int64           `gorm:"column:cust_cntr_num;uniqueIndex:uniq_payment_bill_cntrnum;not null"`
	PspCode     string          `gorm:"column:psp_code;size:10"`
	PspName     string          `gorm:"column:psp_name;size:200"`
	TrxID       string          `gorm:"column:trx_id;size:100;index"`
	PayrefID    string          `gorm:"column:payref_id;size:100;index"`
	BillAmount  decimal.Decimal `gorm:"column:bill_amount;type:numeric(32,2)"`
	PaidAmount  decimal.Decimal `gorm:"column:paid_amount;type:numeric(32,2)"`
	Currency    string          `gorm:"column:currency;size:3"`
	CollAccNum  string          `gorm:"column:coll_acc_num;size:50"`
	TrxDate     time.Time       `gorm:"column:trx_date"`
	PayChannel  string          `gorm:"column:pay_channel;size:50"`
	TrdptyTrxID string          `gorm:"column:trdpty_trx_id;size:50"`
	PayerName   *string         `gorm:"column:payer_name;size:200"`
	PayerCell   *string         `gorm:"column:payer_cell;size:12"`
	PayerEmail  *string         `gorm:"column:payer_email"`
	CreatedAt   time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;default:now()"`
}

func (Payment) TableName() string { return "payments" }
