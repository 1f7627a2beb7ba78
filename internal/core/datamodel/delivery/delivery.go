package delivery

import "time"

type Kind string

const (
	KindInvoice Kind = "invoice"
	KindReceipt Kind = "receipt"
)

type Status string

const (
	StatusQueued Status = "QUEUED"
	StatusSent   Status = "SENT"
	StatusFailed Status = "FAILED"
)

// Delivery records one keyed document dispatch. EventKey is the
// idempotency key (e.g. auto:invoice_cn:{control_number}); the unique
// index makes repeat enqueues of the same event no-ops.
type Delivery struct {
	ID        int64     `gorm:"primaryKey"`
	EventKey  string    `gorm:"column:event_key;size:150;uniqueIndex;not null"`
	Kind      Kind      `gorm:"column:kind;size:20;not null"`
	BillRef   int64     `gorm:"column:bill_ref;index;not null"`
	Recipient string    `gorm:"column:recipient;size:255"`
	Status    Status    `gorm:"column:status;size:20;default:QUEUED"`
	Detail    string    `gorm:"column:detail;size:500"`
	CreatedAt time.Time `gorm:"column:created_at;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;default:now()"`
}

func (Delivery) TableName() string { return "document_deliveries" }
