package gepg

import (
	"encoding/xml"
	"time"

	"github.com/mkumbo/billing-gateway/internal/core/datamodel/billing"
)

const dateTimeLayout = "2006-01-02T15:04:05"

// ServiceProviderConfig carries the registration codes stamped onto every
// outbound request.
type ServiceProviderConfig struct {
	GrpCode   string
	SpCode    string
	SubSpCode string
	SysCode   string
}

type billSubReq struct {
	XMLName xml.Name `xml:"billSubReq"`
	Hdr     billHdr  `xml:"BillHdr"`
	Details billDtls `xml:"BillDtls"`
}

type billHdr struct {
	ReqID     string `xml:"ReqId"`
	SpGrpCode string `xml:"SpGrpCode"`
	SysCode   string `xml:"SysCode"`
	BillTyp   int16  `xml:"BillTyp"`
	PayTyp    int16  `xml:"PayTyp"`
	GrpBillID string `xml:"GrpBillId"`
}

type billDtls struct {
	Details []billDtl `xml:"BillDtl"`
}

type billDtl struct {
	BillID       string        `xml:"BillId"`
	SpCode       string        `xml:"SpCode"`
	CollCentCode string        `xml:"CollCentCode"`
	BillDesc     string        `xml:"BillDesc"`
	CustTin      string        `xml:"CustTin"`
	CustID       string        `xml:"CustId"`
	CustIDTyp    string        `xml:"CustIdTyp"`
	CustAccnt    string        `xml:"CustAccnt"`
	CustName     string        `xml:"CustName"`
	CustCellNum  string        `xml:"CustCellNum"`
	CustEmail    string        `xml:"CustEmail"`
	BillGenDt    string        `xml:"BillGenDt"`
	BillExprDt   string        `xml:"BillExprDt"`
	BillGenBy    string        `xml:"BillGenBy"`
	BillApprBy   string        `xml:"BillApprBy"`
	BillAmt      string        `xml:"BillAmt"`
	BillEqvAmt   string        `xml:"BillEqvAmt"`
	MinPayAmt    string        `xml:"MinPayAmt"`
	Ccy          string        `xml:"Ccy"`
	ExchRate     string        `xml:"ExchRate"`
	BillPayOpt   int16         `xml:"BillPayOpt"`
	PayPlan      int16         `xml:"PayPlan"`
	PayLimTyp    int16         `xml:"PayLimTyp"`
	PayLimAmt    string        `xml:"PayLimAmt"`
	CollPsp      string        `xml:"CollPsp"`
	Items        billItemsWrap `xml:"BillItems"`
}

type billItemsWrap struct {
	Items []billItemXML `xml:"BillItem"`
}

type billItemXML struct {
	RefBillID       string `xml:"RefBillId"`
	SubSpCode       string `xml:"SubSpCode"`
	GfsCode         string `xml:"GfsCode"`
	BillItemRef     string `xml:"BillItemRef"`
	UseItemRefOnPay string `xml:"UseItemRefOnPay"`
	BillItemAmt     string `xml:"BillItemAmt"`
	BillItemEqvAmt  string `xml:"BillItemEqvAmt"`
	CollSp          string `xml:"CollSp"`
}

// ComposeBillSubmission builds and signs the control-number request for a
// bill. The bill must have its customer, department and items loaded.
func ComposeBillSubmission(reqID string, bill *billing.Bill, sp ServiceProviderConfig, signer Signer) ([]byte, error) {
	dtl := billDtl{
		BillID:     bill.BillID,
		SpCode:     sp.SpCode,
		BillDesc:   strOrEmpty(bill.Description),
		BillGenDt:  bill.GeneratedAt.Format(dateTimeLayout),
		BillExprDt: bill.ExpiresAt.Format(dateTimeLayout),
		BillGenBy:  strOrEmpty(bill.GeneratedBy),
		BillApprBy: strOrEmpty(bill.ApprovedBy),
		BillAmt:    bill.Amount.StringFixed(2),
		BillEqvAmt: bill.EqvAmount.StringFixed(2),
		Ccy:        bill.Currency,
		ExchRate:   bill.ExchangeRate.StringFixed(2),
		BillPayOpt: bill.PayOption,
		PayPlan:    bill.PayPlan,
		PayLimTyp:  bill.PayLimitType,
		PayLimAmt:  "0.00",
	}
	if bill.MinAmount != nil {
		dtl.MinPayAmt = bill.MinAmount.StringFixed(2)
	}
	if bill.Department != nil {
		dtl.CollCentCode = bill.Department.Code
	}
	if c := bill.Customer; c != nil {
		dtl.CustTin = c.TIN
		dtl.CustID = c.IDNum
		dtl.CustIDTyp = c.IDType
		dtl.CustAccnt = c.AccountNum
		dtl.CustName = c.FullName()
		dtl.CustCellNum = strOrEmpty(c.CellNum)
		dtl.CustEmail = strOrEmpty(c.Email)
	}
	for _, item := range bill.Items {
		xmlItem := billItemXML{
			RefBillID:       bill.BillID,
			SubSpCode:       sp.SubSpCode,
			UseItemRefOnPay: item.RefOnPay,
			BillItemAmt:     item.Amount.StringFixed(2),
			BillItemEqvAmt:  item.EqvAmount.StringFixed(2),
			CollSp:          sp.SpCode,
		}
		if rsi := item.RevenueSourceItem; rsi != nil && rsi.RevenueSource != nil {
			xmlItem.GfsCode = rsi.RevenueSource.GfsCode
			xmlItem.BillItemRef = rsi.RevenueSource.Name
		}
		dtl.Items.Items = append(dtl.Items.Items, xmlItem)
	}

	body := billSubReq{
		Hdr: billHdr{
			ReqID:     reqID,
			SpGrpCode: sp.GrpCode,
			SysCode:   sp.SysCode,
			BillTyp:   bill.BillType,
			PayTyp:    bill.PayType,
			GrpBillID: bill.GroupBillID,
		},
		Details: billDtls{Details: []billDtl{dtl}},
	}
	return seal(body, signer)
}

type sucSpPmtReq struct {
	XMLName   xml.Name `xml:"sucSpPmtReq"`
	ReqID     string   `xml:"ReqId"`
	SpGrpCode string   `xml:"SpGrpCode"`
	SysCode   string   `xml:"SysCode"`
	TrxDt     string   `xml:"TrxDt"`
	Rsv1      string   `xml:"Rsv1"`
	Rsv2      string   `xml:"Rsv2"`
	Rsv3      string   `xml:"Rsv3"`
}

// ComposeReconciliationRequest builds and signs the settlement report
// request for one business date.
func ComposeReconciliationRequest(reqID string, sp ServiceProviderConfig, businessDate time.Time, signer Signer) ([]byte, error) {
	body := sucSpPmtReq{
		ReqID:     reqID,
		SpGrpCode: sp.GrpCode,
		SysCode:   sp.SysCode,
		TrxDt:     businessDate.Format("2006-01-02"),
	}
	return seal(body, signer)
}

type billCanclReq struct {
	XMLName     xml.Name `xml:"billCanclReq"`
	ReqID       string   `xml:"ReqId"`
	SpGrpCode   string   `xml:"SpGrpCode"`
	SysCode     string   `xml:"SysCode"`
	BillTyp     int16    `xml:"BillTyp"`
	GrpBillID   string   `xml:"GrpBillId"`
	CanclGenBy  string   `xml:"CanclGenBy"`
	CanclApprBy string   `xml:"CanclApprBy"`
	CanclReasn  string   `xml:"CanclReasn"`
}

// ComposeBillCancellation builds and signs the cancellation request for an
// issued bill.
func ComposeBillCancellation(reqID string, bill *billing.Bill, cancel *billing.CancelledBill, sp ServiceProviderConfig, signer Signer) ([]byte, error) {
	body := billCanclReq{
		ReqID:       reqID,
		SpGrpCode:   sp.GrpCode,
		SysCode:     sp.SysCode,
		BillTyp:     bill.BillType,
		GrpBillID:   bill.GroupBillID,
		CanclGenBy:  cancel.GenBy,
		CanclApprBy: cancel.ApprBy,
		CanclReasn:  cancel.Reason,
	}
	return seal(body, signer)
}

// Acknowledgement envelopes returned synchronously to the gateway from
// the callback endpoints. Each carries the id of the message being
// acknowledged and a status code, and is signed like any other payload.

type billSubResAck struct {
	XMLName    xml.Name `xml:"billSubResAck"`
	AckID      string   `xml:"AckId"`
	ResID      string   `xml:"ResId"`
	AckStsCode string   `xml:"AckStsCode"`
}

type pmtSpNtfReqAck struct {
	XMLName    xml.Name `xml:"pmtSpNtfReqAck"`
	AckID      string   `xml:"AckId"`
	ReqID      string   `xml:"ReqId"`
	AckStsCode string   `xml:"AckStsCode"`
}

type sucSpPmtResAck struct {
	XMLName    xml.Name `xml:"sucSpPmtResAck"`
	AckID      string   `xml:"AckId"`
	ResID      string   `xml:"ResId"`
	AckStsCode string   `xml:"AckStsCode"`
}

type billCanclReqAck struct {
	XMLName    xml.Name `xml:"billCanclReqAck"`
	AckID      string   `xml:"AckId"`
	ResID      string   `xml:"ResId"`
	AckStsCode string   `xml:"AckStsCode"`
}

func ComposeControlNumberResponseAck(ackID, resID, code string, signer Signer) ([]byte, error) {
	return seal(billSubResAck{AckID: ackID, ResID: resID, AckStsCode: code}, signer)
}

func ComposePaymentNotificationAck(ackID, reqID, code string, signer Signer) ([]byte, error) {
	return seal(pmtSpNtfReqAck{AckID: ackID, ReqID: reqID, AckStsCode: code}, signer)
}

func ComposeReconciliationResponseAck(ackID, resID, code string, signer Signer) ([]byte, error) {
	return seal(sucSpPmtResAck{AckID: ackID, ResID: resID, AckStsCode: code}, signer)
}

func ComposeCancellationResponseAck(ackID, resID, code string, signer Signer) ([]byte, error) {
	return seal(billCanclReqAck{AckID: ackID, ResID: resID, AckStsCode: code}, signer)
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
