package idempotency

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusFailed     Status = "FAILED"
)

// Record pins the canonical response for one distinct submission payload
// so retries of the same payload are served without duplicating work.
type Record struct {
	ID             int64           `gorm:"primaryKey"`
	Method         string          `gorm:"column:method;size:10;uniqueIndex:uniq_idem_key;not null"`
	Path           string          `gorm:"column:path;size:255;uniqueIndex:uniq_idem_key;not null"`
	BodyHash       string          `gorm:"column:body_hash;size:64;uniqueIndex:uniq_idem_key;not null"`
	Status         Status          `gorm:"column:status;size:20;default:IN_PROGRESS;index"`
	ResponseStatus int             `gorm:"column:response_status"`
	ResponseBody   json.RawMessage `gorm:"column:response_body;type:jsonb"`
	ReqID          string          `gorm:"column:req_id;size:100"`
	BillID         string          `gorm:"column:bill_id;size:100"`
	CreatedAt      time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;default:now()"`
}

func (Record) TableName() string { return "api_idempotency_records" }
