package bill

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mkumbo/billing-gateway/internal/core/datamodel/billing"
)

var validate = validator.New()

type CustomerPayload struct {
	FirstName  string  `json:"first_name" validate:"required,max=66"`
	MiddleName *string `json:"middle_name,omitempty" validate:"omitempty,max=66"`
	LastName   string  `json:"last_name" validate:"required,max=66"`
	TIN        string  `json:"tin,omitempty" validate:"omitempty,max=20"`
	IDNum      string  `json:"id_num" validate:"required,max=50"`
	IDType     string  `json:"id_type,omitempty" validate:"omitempty,oneof=1 2 3 4"`
	AccountNum string  `json:"account_num,omitempty" validate:"omitempty,max=50"`
	CellNum    *string `json:"cell_num,omitempty" validate:"omitempty,max=12"`
	Email      *string `json:"email,omitempty" validate:"omitempty,email"`
}

type ItemPayload struct {
	RevenueSourceItemID int64  `json:"revenue_source_item_id" validate:"required,gt=0"`
	Quantity            int    `json:"quantity,omitempty" validate:"omitempty,gt=0"`
	Description         string `json:"description,omitempty" validate:"omitempty,max=255"`
}

type CreateBillRequest struct {
	SysCode     string          `json:"sys_code,omitempty" validate:"omitempty,max=50"`
	DeptCode    string          `json:"dept_code" validate:"required,max=20"`
	Description string          `json:"description,omitempty" validate:"omitempty,max=500"`
	Currency    string          `json:"currency,omitempty" validate:"omitempty,len=3"`
	Customer    CustomerPayload `json:"customer" validate:"required"`
	Items       []ItemPayload   `json:"items" validate:"required,min=1,dive"`
	GeneratedBy string          `json:"generated_by,omitempty" validate:"omitempty,max=30"`
	ApprovedBy  string          `json:"approved_by,omitempty" validate:"omitempty,max=30"`
	ExpiryDays  int             `json:"expiry_days,omitempty" validate:"omitempty,gt=0,lte=365"`
}

func (r *CreateBillRequest) Validate() error {
	return validate.Struct(r)
}

type CancelBillRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
	GenBy  string `json:"gen_by,omitempty" validate:"omitempty,max=66"`
	ApprBy string `json:"appr_by,omitempty" validate:"omitempty,max=66"`
}

func (r *CancelBillRequest) Validate() error {
	return validate.Struct(r)
}

// SubmitResult is the canonical submission response. The same payload
// submitted twice yields the same result.
type SubmitResult struct {
	ReqID  string `json:"req_id"`
	BillID string `json:"bill_id"`
}

type ItemResponse struct {
	Description string          `json:"description"`
	GfsCode     string          `json:"gfs_code,omitempty"`
	Quantity    int             `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
}

type BillResponse struct {
	BillID        string          `json:"bill_id"`
	Status        billing.Status  `json:"status"`
	ControlNumber *int64          `json:"control_number,omitempty"`
	Description   *string         `json:"description,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	CustomerName  string          `json:"customer_name,omitempty"`
	DeptCode      string          `json:"dept_code,omitempty"`
	GeneratedAt   time.Time       `json:"generated_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	Cancelled     bool            `json:"cancelled"`
	Items         []ItemResponse  `json:"items,omitempty"`
}

type StatusResponse struct {
	BillID        string         `json:"bill_id"`
	Status        billing.Status `json:"status"`
	ControlNumber *int64         `json:"control_number,omitempty"`
	Cancelled     bool           `json:"cancelled"`
}
