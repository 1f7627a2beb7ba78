package gatewaylog

import (
	"encoding/json"
	"time"
)

// RequestType identifies the protocol exchange a ledger row belongs to.
// The values match the gateway's request type codes.
type RequestType string

const (
	ReqTypeControlNumber       RequestType = "1"
	ReqTypeControlNumberReuse  RequestType = "2"
	ReqTypeControlNumberChange RequestType = "3"
	ReqTypeControlNumberCancel RequestType = "4"
	ReqTypePaymentNotification RequestType = "5"
	ReqTypeReconciliation      RequestType = "6"
	ReqTypeBillCancellation    RequestType = "7"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSuccess   Status = "SUCCESS"
	StatusError     Status = "ERROR"
	StatusRetrying  Status = "RETRYING"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Log is one Request Ledger row: the audit record of a single outbound
// request or inbound unsolicited callback, keyed by (req_id, req_type).
// Rows are created once and then only updated; never deleted.
type Log struct {
	ID         int64           `gorm:"primaryKey"`
	BillID     *string         `gorm:"column:bill_id;size:100;index"`
	SysCode    *string         `gorm:"column:sys_code;size:50"`
	ReqID      string          `gorm:"column:req_id;size:100;uniqueIndex:uniq_gwlog_req_id_type;not null"`
	ReqType    RequestType     `gorm:"column:req_type;size:1;uniqueIndex:uniq_gwlog_req_id_type;not null"`
	Status     Status          `gorm:"column:status;size:50;default:PENDING;index"`
	StatusDesc string          `gorm:"column:status_desc;size:500"`
	ReqData    json.RawMessage `gorm:"column:req_data;type:jsonb"`
	ReqAck     json.RawMessage `gorm:"column:req_ack;type:jsonb"`
	ResData    json.RawMessage `gorm:"column:res_data;type:jsonb"`
	ResAck     json.RawMessage `gorm:"column:res_ack;type:jsonb"`
	CreatedAt  time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;default:now()"`
}

func (Log) TableName() string { return "payment_gateway_logs" }
