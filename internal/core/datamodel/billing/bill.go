package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Gateway bill enumerations. The values go onto the wire verbatim.
const (
	BillTypeNormal   = 1
	BillTypeCombined = 2

	PayTypeAllAtOnce = 1
	PayTypeAny       = 2

	PayOptionFull     = 1
	PayOptionPartial  = 2
	PayOptionExact    = 3
	PayOptionInfinity = 4
	PayOptionLimited  = 5

	PayPlanPostPaid = 1
	PayPlanPrePaid  = 2

	PayLimitNone = 1
)

// Status is the bill lifecycle state. It is derived from related records
// on read and never stored, so the stored row cannot drift from the
// presence of a control number, payment or cancellation.
type Status string

const (
	StatusCreated     Status = "CREATED"
	StatusCNRequested Status = "CN_REQUESTED"
	StatusCNIssued    Status = "CN_ISSUED"
	StatusPaid        Status = "PAID"
)

type Bill struct {
	ID             int64            `gorm:"primaryKey"`
	BillID         string           `gorm:"column:bill_id;size:100;uniqueIndex;not null"`
	GroupBillID    string           `gorm:"column:grp_bill_id;size:100;uniqueIndex;not null"`
	SysInfoID      *int64           `gorm:"column:sys_info_id"`
	SysInfo        *SystemInfo      `gorm:"foreignKey:SysInfoID"`
	DepartmentID   int64            `gorm:"column:department_id;not null"`
	Department     *Department      `gorm:"foreignKey:DepartmentID"`
	CustomerID     int64            `gorm:"column:customer_id;not null"`
	Customer       *Customer        `gorm:"foreignKey:CustomerID"`
	BillType       int16            `gorm:"column:bill_type;default:1"`
	PayType        int16            `gorm:"column:pay_type;default:2"`
	Description    *string          `gorm:"column:description;size:500"`
	Amount         decimal.Decimal  `gorm:"column:amount;type:numeric(32,2)"`
	EqvAmount      decimal.Decimal  `gorm:"column:eqv_amount;type:numeric(32,2)"`
	MinAmount      *decimal.Decimal `gorm:"column:min_amount;type:numeric(32,2)"`
	MaxAmount      *decimal.Decimal `gorm:"column:max_amount;type:numeric(32,2)"`
	PayLimitType   int16            `gorm:"column:pay_limit_type;default:1"`
	Currency       string           `gorm:"column:currency;size:3;default:TZS"`
	ExchangeRate   decimal.Decimal  `gorm:"column:exchange_rate;type:numeric(32,2);default:1.00"`
	PayOption      int16            `gorm:"column:pay_option;default:3"`
	PayPlan        int16            `gorm:"column:pay_plan;default:1"`
	GeneratedAt    time.Time        `gorm:"column:generated_at;not null"`
	ExpiresAt      time.Time        `gorm:"column:expires_at;not null"`
	GeneratedBy    *string          `gorm:"column:generated_by;size:30"`
	ApprovedBy     *string          `gorm:"column:approved_by;size:30"`
	ControlNumber  *int64           `gorm:"column:control_number;uniqueIndex"`
	Items          []BillItem       `gorm:"foreignKey:BillRef"`
	CreatedAt      time.Time        `gorm:"column:created_at;default:now()"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;default:now()"`
}

func (Bill) TableName() string { return "bills" }

func (b *Bill) HasControlNumber() bool {
	return b.ControlNumber != nil && *b.ControlNumber != 0
}

// DeriveStatus computes the lifecycle state from related-record presence.
func (b *Bill) DeriveStatus(cnRequested, hasPayment bool) Status {
	switch {
	case hasPayment:
		return StatusPaid
	case b.HasControlNumber():
		return StatusCNIssued
	case cnRequested:
		return StatusCNRequested
	default:
		return StatusCreated
	}
}

type BillItem struct {
	ID                  int64              `gorm:"primaryKey"`
	BillRef             int64              `gorm:"column:bill_ref;not null;index"`
	DepartmentID        int64              `gorm:"column:department_id;not null"`
	RevenueSourceItemID int64              `gorm:"column:revenue_source_item_id;not null"`
	RevenueSourceItem   *RevenueSourceItem `gorm:"foreignKey:RevenueSourceItemID"`
	RefOnPay            string             `gorm:"column:ref_on_pay;size:1;default:N"`
	Description         string             `gorm:"column:description;size:255"`
	Quantity            int                `gorm:"column:quantity;default:1"`
	Amount              decimal.Decimal    `gorm:"column:amount;type:numeric(32,2)"`
	EqvAmount           decimal.Decimal    `gorm:"column:eqv_amount;type:numeric(32,2)"`
	MiscAmount          decimal.Decimal    `gorm:"column:misc_amount;type:numeric(32,2);default:0.00"`
	CreatedAt           time.Time          `gorm:"column:created_at;default:now()"`
	UpdatedAt           time.Time          `gorm:"column:updated_at;default:now()"`
}

func (BillItem) TableName() string { return "bill_items" }

type CancellationStatus string

const (
	CancellationPending   CancellationStatus = "PENDING"
	CancellationCancelled CancellationStatus = "CANCELLED"
	CancellationFailed    CancellationStatus = "FAILED"
	CancellationRecreated CancellationStatus = "RECREATED"
)

// CancelledBill is the one-to-one cancellation record for a bill.
type CancelledBill struct {
	ID        int64              `gorm:"primaryKey"`
	BillRef   int64              `gorm:"column:bill_ref;uniqueIndex;not null"`
	Reason    string             `gorm:"column:reason;size:255;not null"`
	Status    CancellationStatus `gorm:"column:status;size:20;default:PENDING"`
	GenBy     string             `gorm:"column:gen_by;size:66"`
	ApprBy    string             `gorm:"column:appr_by;size:66"`
	CreatedAt time.Time          `gorm:"column:created_at;default:now()"`
	UpdatedAt time.Time          `gorm:"column:updated_at;default:now()"`
}

func (CancelledBill) TableName() string { return "cancelled_bills" }
