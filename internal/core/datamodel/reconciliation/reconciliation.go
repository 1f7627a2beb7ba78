package reconciliation

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus is the per-business-date reconciliation state machine.
// ERROR is reachable from any non-CLOSED state; CLOSED is terminal.
type RunStatus string

const (
	RunRequested RunStatus = "REQUESTED"
	RunAcked     RunStatus = "ACKED"
	RunReceived  RunStatus = "RECEIVED"
	RunProcessed RunStatus = "PROCESSED"
	RunClosed    RunStatus = "CLOSED"
	RunError     RunStatus = "ERROR"
)

// CurrencyTotal aggregates settlement value per currency.
type CurrencyTotal struct {
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}

// Totals maps currency code to its aggregate.
type Totals map[string]CurrencyTotal

// Equal reports whether both maps agree on key set and values. A currency
// present on only one side is a mismatch.
func (t Totals) Equal(other Totals) bool {
	if len(t) != len(other) {
		return false
	}
	for ccy, a := range t {
		b, ok := other[ccy]
		if !ok || a.Count != b.Count || !a.Amount.Equal(b.Amount) {
			return false
		}
	}
	return true
}

// Run is one business-date reconciliation batch.
type Run struct {
	ID             int64           `gorm:"primaryKey"`
	ReqID          string          `gorm:"column:req_id;size:100;uniqueIndex;not null"`
	BusinessDate   time.Time       `gorm:"column:business_date;type:date;index;not null"`
	Status         RunStatus       `gorm:"column:status;size:20;default:REQUESTED;index"`
	StatusDesc     string          `gorm:"column:status_desc;size:500"`
	ReportedTotals json.RawMessage `gorm:"column:reported_totals;type:jsonb"`
	InternalTotals json.RawMessage `gorm:"column:internal_totals;type:jsonb"`
	TotalsMatch    *bool           `gorm:"column:totals_match"`
	ClosedAt       *time.Time      `gorm:"column:closed_at"`
	ClosedBy       *string         `gorm:"column:closed_by;size:66"`
	CreatedAt      time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;default:now()"`
}

func (Run) TableName() string { return "reconciliation_runs" }

func (r *Run) IsClosed() bool { return r.Status == RunClosed }

type MatchStatus string

const (
	Matched                MatchStatus = "MATCHED"
	Mismatch               MatchStatus = "MISMATCH"
	BillNotFound           MatchStatus = "BILL_NOT_FOUND"
	MissingInternalPayment MatchStatus = "MISSING_INTERNAL_PAYMENT"
	AutoCreated            MatchStatus = "AUTO_CREATED"
)

// Mismatch reason codes, comma-joined into Record.MismatchReason.
const (
	ReasonCurrencyMismatch         = "currency_mismatch"
	ReasonPaidAmountMismatch       = "paid_amount_mismatch"
	ReasonBillAmountMismatch       = "bill_amount_mismatch"
	ReasonControlNumberMismatch    = "control_number_mismatch"
	ReasonControlNumberFormatError = "control_number_format_error"
)

// Record is one settlement row reported by the gateway for a run, unique
// per payref_id so re-processing the same response upserts in place.
type Record struct {
	ID                int64           `gorm:"primaryKey"`
	RunID             int64           `gorm:"column:run_id;index;not null"`
	PayrefID          string          `gorm:"column:payref_id;size:100;uniqueIndex;not null"`
	BillID            string          `gorm:"column:bill_id;size:100;index"`
	GroupBillID       string          `gorm:"column:grp_bill_id;size:100"`
	CustCntrNum       string          `gorm:"column:cust_cntr_num;size:50"`
	BillCtrNum        string          `gorm:"column:bill_ctr_num;size:50"`
	SpCode            string          `gorm:"column:sp_code;size:10"`
	PspCode           string          `gorm:"column:psp_code;size:10"`
	PspName           string          `gorm:"column:psp_name;size:200"`
	TrxID             string          `gorm:"column:trx_id;size:100"`
	BillAmount        decimal.Decimal `gorm:"column:bill_amount;type:numeric(32,2)"`
	PaidAmount        decimal.Decimal `gorm:"column:paid_amount;type:numeric(32,2)"`
	Currency          string          `gorm:"column:currency;size:3"`
	CollAccNum        string          `gorm:"column:coll_acc_num;size:50"`
	TrxDate           *time.Time      `gorm:"column:trx_date"`
	PayChannel        string          `gorm:"column:pay_channel;size:50"`
	TrdptyTrxID       string          `gorm:"column:trdpty_trx_id;size:50"`
	PayerName         string          `gorm:"column:payer_name;size:200"`
	PayerCell         string          `gorm:"column:payer_cell;size:12"`
	PayerEmail        string          `gorm:"column:payer_email"`
	MatchStatus       MatchStatus     `gorm:"column:match_status;size:30;index"`
	MismatchReason    string          `gorm:"column:mismatch_reason;size:255"`
	ResolvedBillRef   *int64          `gorm:"column:resolved_bill_ref"`
	ResolvedPaymentID *int64          `gorm:"column:resolved_payment_id"`
	CreatedAt         time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;default:now()"`
}

func (Record) TableName() string { return "payment_reconciliations" }
