package gepg

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AckStatusContinue is the gateway's "request accepted, final result
// follows asynchronously" code. Every other ack code is terminal.
const AckStatusContinue = "7101"

// Ack is the parsed synchronous acknowledgement for any request type.
type Ack struct {
	AckID      string
	ReqID      string
	StatusCode string
	StatusDesc string
}

func (a Ack) Accepted() bool { return a.StatusCode == AckStatusContinue }

// ParseAck extracts the acknowledgement fields common to all request
// types (billSubReqAck, sucSpPmtReqAck, billCanclReqAck share layout).
func ParseAck(data []byte) (Ack, error) {
	root, err := parseTree(data)
	if err != nil {
		return Ack{}, err
	}
	ack := Ack{
		AckID:      root.findText("AckId"),
		ReqID:      root.findText("ReqId"),
		StatusCode: root.findText("AckStsCode"),
		StatusDesc: root.findText("AckStsDesc"),
	}
	if ack.ReqID == "" && ack.AckID == "" {
		return Ack{}, errors.New("acknowledgement missing AckId and ReqId")
	}
	return ack, nil
}

// ControlNumberResponse is the asynchronous final result of a
// control-number request.
type ControlNumberResponse struct {
	ResID       string
	ReqID       string
	BillID      string
	CustCntrNum string
	StatusCode  string
	StatusDesc  string
	BillStsCode string
	BillStsDesc string
}

func ParseControlNumberResponse(data []byte) (ControlNumberResponse, error) {
	root, err := parseTree(data)
	if err != nil {
		return ControlNumberResponse{}, err
	}
	res := ControlNumberResponse{
		ResID:       root.findText("ResId"),
		ReqID:       root.findText("ReqId"),
		BillID:      root.findText("GrpBillId"),
		CustCntrNum: root.findText("CustCntrNum"),
		StatusCode:  root.findText("ResStsCode"),
		StatusDesc:  root.findText("ResStsDesc"),
		BillStsCode: root.findText("BillStsCode"),
		BillStsDesc: root.findText("BillStsDesc"),
	}
	if res.ReqID == "" {
		return ControlNumberResponse{}, errors.New("control number response missing ReqId")
	}
	return res, nil
}

// PaymentNotification is an unsolicited settlement report for one bill.
type PaymentNotification struct {
	ReqID       string
	BillID      string
	CustCntrNum string
	PspCode     string
	PspName     string
	TrxID       string
	PayrefID    string
	BillAmount  decimal.Decimal
	PaidAmount  decimal.Decimal
	Currency    string
	CollAccNum  string
	TrxDate     time.Time
	PayChannel  string
	TrdptyTrxID string
	PayerCell   string
	PayerEmail  string
	PayerName   string
}

func ParsePaymentNotification(data []byte) (PaymentNotification, error) {
	root, err := parseTree(data)
	if err != nil {
		return PaymentNotification{}, err
	}
	n := PaymentNotification{
		ReqID:       root.findText("ReqId"),
		BillID:      root.findText("GrpBillId"),
		CustCntrNum: root.findText("CustCntrNum"),
		PspCode:     root.findText("PspCode"),
		PspName:     root.findText("PspName"),
		TrxID:       root.findText("TrxId"),
		PayrefID:    root.findText("PayRefId"),
		Currency:    root.findText("Ccy"),
		CollAccNum:  root.findText("CollAccNum"),
		PayChannel:  root.findText("UsdPayChnl"),
		TrdptyTrxID: root.findText("TrdPtyTrxId"),
		PayerCell:   root.findText("PyrCellNum"),
		PayerEmail:  root.findText("PyrEmail"),
		PayerName:   root.findText("PyrName"),
	}
	if n.ReqID == "" {
		return PaymentNotification{}, errors.New("payment notification missing ReqId")
	}
	n.BillAmount, err = parseAmount(root.findText("BillAmt"))
	if err != nil {
		return PaymentNotification{}, fmt.Errorf("payment notification BillAmt: %w", err)
	}
	n.PaidAmount, err = parseAmount(root.findText("PaidAmt"))
	if err != nil {
		return PaymentNotification{}, fmt.Errorf("payment notification PaidAmt: %w", err)
	}
	if raw := root.findText("TrxDtTm"); raw != "" {
		n.TrxDate, err = time.Parse(dateTimeLayout, raw)
		if err != nil {
			return PaymentNotification{}, fmt.Errorf("payment notification TrxDtTm: %w", err)
		}
	}
	return n, nil
}

// ReconciliationRecord is one PmtTrxDtl entry of a reconciliation
// response.
type ReconciliationRecord struct {
	CustCntrNum string
	GroupBillID string
	SpCode      string
	BillID      string
	BillCtrNum  string
	PspCode     string
	PspName     string
	TrxID       string
	PayrefID    string
	BillAmount  decimal.Decimal
	PaidAmount  decimal.Decimal
	PayOption   string
	Currency    string
	CollAccNum  string
	TrxDate     *time.Time
	PayChannel  string
	TrdptyTrxID string
	QtRefID     string
	PayerCell   string
	PayerEmail  string
	PayerName   string
}

// ReconciliationResponse is the asynchronous settlement report for one
// reconciliation request.
type ReconciliationResponse struct {
	ResID      string
	ReqID      string
	StatusCode string
	StatusDesc string
	Records    []ReconciliationRecord
}

func ParseReconciliationResponse(data []byte) (ReconciliationResponse, error) {
	root, err := parseTree(data)
	if err != nil {
		return ReconciliationResponse{}, err
	}
	res := ReconciliationResponse{
		ResID:      root.findText("ResId"),
		ReqID:      root.findText("ReqId"),
		StatusCode: root.findText("PayStsCode"),
		StatusDesc: root.findText("PayStsDesc"),
	}
	if res.ReqID == "" {
		return ReconciliationResponse{}, errors.New("reconciliation response missing ReqId")
	}
	for _, dtl := range root.findAll("PmtTrxDtl") {
		rec := ReconciliationRecord{
			CustCntrNum: dtl.findText("CustCntrNum"),
			GroupBillID: dtl.findText("GrpBillId"),
			SpCode:      dtl.findText("SpCode"),
			BillID:      dtl.findText("BillId"),
			BillCtrNum:  dtl.findText("BillCtrNum"),
			PspCode:     dtl.findText("PspCode"),
			PspName:     dtl.findText("PspName"),
			TrxID:       dtl.findText("TrxId"),
			PayrefID:    dtl.findText("PayRefId"),
			PayOption:   dtl.findText("BillPayOpt"),
			Currency:    dtl.findText("Ccy"),
			CollAccNum:  dtl.findText("CollAccNum"),
			PayChannel:  dtl.findText("UsdPayChnl"),
			TrdptyTrxID: dtl.findText("TrdPtyTrxId"),
			QtRefID:     dtl.findText("QtRefId"),
			PayerCell:   dtl.findText("PyrCellNum"),
			PayerEmail:  dtl.findText("PyrEmail"),
			PayerName:   dtl.findText("PyrName"),
		}
		rec.BillAmount, err = parseAmount(dtl.findText("BillAmt"))
		if err != nil {
			return ReconciliationResponse{}, fmt.Errorf("reconciliation record %s BillAmt: %w", rec.PayrefID, err)
		}
		rec.PaidAmount, err = parseAmount(dtl.findText("PaidAmt"))
		if err != nil {
			return ReconciliationResponse{}, fmt.Errorf("reconciliation record %s PaidAmt: %w", rec.PayrefID, err)
		}
		if raw := dtl.findText("TrxDtTm"); raw != "" {
			t, err := time.Parse(dateTimeLayout, raw)
			if err != nil {
				return ReconciliationResponse{}, fmt.Errorf("reconciliation record %s TrxDtTm: %w", rec.PayrefID, err)
			}
			rec.TrxDate = &t
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

// CancellationResponse is the asynchronous final result of a bill
// cancellation request.
type CancellationResponse struct {
	ResID       string
	ReqID       string
	GroupBillID string
	StatusCode  string
	StatusDesc  string
}

func ParseCancellationResponse(data []byte) (CancellationResponse, error) {
	root, err := parseTree(data)
	if err != nil {
		return CancellationResponse{}, err
	}
	res := CancellationResponse{
		ResID:       root.findText("ResId"),
		ReqID:       root.findText("ReqId"),
		GroupBillID: root.findText("GrpBillId"),
		StatusCode:  root.findText("CanclStsCode"),
		StatusDesc:  root.findText("CanclStsDesc"),
	}
	if res.ReqID == "" {
		return CancellationResponse{}, errors.New("cancellation response missing ReqId")
	}
	return res, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
