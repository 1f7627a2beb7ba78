package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Customer identification reference types as defined by the gateway.
const (
	CustIDTypeNIN           = "1"
	CustIDTypeDriverLicense = "2"
	CustIDTypeTIN           = "3"
	CustIDTypeWalletPay     = "4"
)

type Customer struct {
	ID         int64     `gorm:"primaryKey"`
	FirstName  string    `gorm:"column:first_name;size:66;not null"`
	MiddleName *string   `gorm:"column:middle_name;size:66"`
	LastName   string    `gorm:"column:last_name;size:66;not null"`
	TIN        string    `gorm:"column:tin;size:20;default:000000000"`
	IDNum      string    `gorm:"column:id_num;size:50"`
	IDType     string    `gorm:"column:id_type;size:2;default:1"`
	AccountNum string    `gorm:"column:account_num;size:50"`
	CellNum    *string   `gorm:"column:cell_num;size:12"`
	Email      *string   `gorm:"column:email;uniqueIndex"`
	CreatedAt  time.Time `gorm:"column:created_at;default:now()"`
	UpdatedAt  time.Time `gorm:"column:updated_at;default:now()"`
}

func (Customer) TableName() string { return "customers" }

func (c *Customer) FullName() string {
	if c.MiddleName != nil && *c.MiddleName != "" {
		return fmt.Sprintf("%s %s %s", c.FirstName, *c.MiddleName, c.LastName)
	}
	return fmt.Sprintf("%s %s", c.FirstName, c.LastName)
}

type ServiceProvider struct {
	ID        int64     `gorm:"primaryKey"`
	Name      string    `gorm:"column:name;size:200;not null"`
	Code      string    `gorm:"column:code;size:10;uniqueIndex;not null"`
	GrpCode   string    `gorm:"column:grp_code;size:10;uniqueIndex;not null"`
	SysCode   string    `gorm:"column:sys_code;size:10;not null"`
	CreatedAt time.Time `gorm:"column:created_at;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;default:now()"`
}

func (ServiceProvider) TableName() string { return "service_providers" }

// Department is a billing collection center owned by a service provider.
type Department struct {
	ID                int64     `gorm:"primaryKey"`
	ServiceProviderID int64     `gorm:"column:service_provider_id;not null"`
	Name              string    `gorm:"column:name;size:255;uniqueIndex;not null"`
	Description       *string   `gorm:"column:description;size:255"`
	Code              string    `gorm:"column:code;size:20;uniqueIndex;not null"`
	AccountNum        string    `gorm:"column:account_num;size:50;not null"`
	CreatedAt         time.Time `gorm:"column:created_at;default:now()"`
	UpdatedAt         time.Time `gorm:"column:updated_at;default:now()"`
}

func (Department) TableName() string { return "billing_departments" }

type RevenueSource struct {
	ID          int64     `gorm:"primaryKey"`
	Name        string    `gorm:"column:name;size:255;not null"`
	GfsCode     string    `gorm:"column:gfs_code;size:20;not null"`
	Category    string    `gorm:"column:category;size:255"`
	SubCategory string    `gorm:"column:sub_category;size:255"`
	CreatedAt   time.Time `gorm:"column:created_at;default:now()"`
	UpdatedAt   time.Time `gorm:"column:updated_at;default:now()"`
}

func (RevenueSource) TableName() string { return "revenue_sources" }

type RevenueSourceItem struct {
	ID              int64           `gorm:"primaryKey"`
	RevenueSourceID int64           `gorm:"column:revenue_source_id;not null"`
	RevenueSource   *RevenueSource  `gorm:"foreignKey:RevenueSourceID"`
	Description     string          `gorm:"column:description;size:255;not null"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(32,2);not null"`
	Currency        string          `gorm:"column:currency;size:3;default:TZS"`
	CreatedAt       time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;default:now()"`
}

func (RevenueSourceItem) TableName() string { return "revenue_source_items" }

// SystemInfo registers an integrating system and the callback URLs the
// gateway outcomes are forwarded to.
type SystemInfo struct {
	ID                      int64     `gorm:"primaryKey"`
	Code                    string    `gorm:"column:code;size:50;uniqueIndex;not null"`
	Name                    string    `gorm:"column:name;size:200;not null"`
	CntrNumResponseCallback string    `gorm:"column:cntrnum_response_callback;not null"`
	PayNotificationCallback string    `gorm:"column:pay_notification_callback;not null"`
	IsActive                bool      `gorm:"column:is_active;default:true"`
	CreatedAt               time.Time `gorm:"column:created_at;default:now()"`
	UpdatedAt               time.Time `gorm:"column:updated_at;default:now()"`
}

func (SystemInfo) TableName() string { return "system_info" }

// ExchangeRate is reference data maintained by an external source; the
// billing flow only reads it.
type ExchangeRate struct {
	ID        int64           `gorm:"primaryKey"`
	Currency  string          `gorm:"column:currency;size:3;uniqueIndex:uniq_rate_ccy_date;not null"`
	TrxDate   time.Time       `gorm:"column:trx_date;type:date;uniqueIndex:uniq_rate_ccy_date;not null"`
	Buying    decimal.Decimal `gorm:"column:buying;type:numeric(32,4);not null"`
	Selling   decimal.Decimal `gorm:"column:selling;type:numeric(32,4);not null"`
	CreatedAt time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt time.Time       `gorm:"column:updated_at;default:now()"`
}

func (ExchangeRate) TableName() string { return "exchange_rates" }
