package ecpay

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/buymall/buypay/internal/constants"

	"github.com/shopspring/decimal"
)

// CallbackResult 付款结果通知解析结果
type CallbackResult struct {
	MerchantID      string
	MerchantTradeNo string
	RtnCode         int
	RtnMsg          string
	TradeNo         string
	TradeAmt        int64
	PaymentDate     string
	PaymentType     string
	ChargeFee       decimal.Decimal
	TradeDate       string
	ExpireDate      string
	Simulated       bool
	CustomFields    [4]string
	Raw             Params
}

// Paid 是否付款成功
func (r *CallbackResult) Paid() bool {
	return r.RtnCode == constants.ECPayRtnCodeSuccess
}

// PaymentInfoIssued 是否为取号通知（ATM、超商代码或条码），尚未付款
func (r *CallbackResult) PaymentInfoIssued() bool {
	return r.RtnCode == constants.ECPayRtnCodeATMInfo || r.RtnCode == constants.ECPayRtnCodeCVSInfo
}

// PaymentDeadline 解析取号通知的缴费期限；ATM 只给日期，视为当日 23:59:59
func (r *CallbackResult) PaymentDeadline(loc *time.Location) (time.Time, bool) {
	raw := strings.TrimSpace(r.ExpireDate)
	if raw == "" {
		return time.Time{}, false
	}
	if at, err := ParseTradeDate(raw, loc); err == nil {
		return at, true
	}
	if loc == nil {
		loc = time.Local
	}
	day, err := time.ParseInLocation("2006/01/02", raw, loc)
	if err != nil {
		return time.Time{}, false
	}
	return day.Add(24*time.Hour - time.Second), true
}

// ParseCallback 解析已通过校验的回调参数；不做检查码校验
func ParseCallback(params Params) (*CallbackResult, error) {
	tradeNo := strings.TrimSpace(params[FieldMerchantTradeNo])
	if tradeNo == "" {
		return nil, fmt.Errorf("%w: missing MerchantTradeNo", ErrParamInvalid)
	}
	rtnCode, err := strconv.Atoi(strings.TrimSpace(params[FieldRtnCode]))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid RtnCode", ErrParamInvalid)
	}
	result := &CallbackResult{
		MerchantID:      strings.TrimSpace(params[FieldMerchantID]),
		MerchantTradeNo: tradeNo,
		RtnCode:         rtnCode,
		RtnMsg:          params[FieldRtnMsg],
		TradeNo:         strings.TrimSpace(params[FieldTradeNo]),
		PaymentDate:     strings.TrimSpace(params[FieldPaymentDate]),
		PaymentType:     strings.TrimSpace(params[FieldPaymentType]),
		TradeDate:       strings.TrimSpace(params[FieldTradeDate]),
		ExpireDate:      strings.TrimSpace(params[FieldExpireDate]),
		Simulated:       strings.TrimSpace(params[FieldSimulatePaid]) == "1",
		CustomFields: [4]string{
			params[FieldCustomField1],
			params[FieldCustomField2],
			params[FieldCustomField3],
			params[FieldCustomField4],
		},
		Raw: params.Clone(),
	}
	if raw := strings.TrimSpace(params[FieldTradeAmt]); raw != "" {
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid TradeAmt", ErrParamInvalid)
		}
		result.TradeAmt = amount
	}
	if raw := strings.TrimSpace(params[FieldChargeFee]); raw != "" {
		fee, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid PaymentTypeChargeFee", ErrParamInvalid)
		}
		result.ChargeFee = fee
	}
	return result, nil
}

// VerifyAndParse 校验检查码后解析回调
func (s *Signer) VerifyAndParse(params Params) (*CallbackResult, Verification, error) {
	verification := s.VerifyCallbackDetail(params)
	if !verification.Valid {
		return nil, verification, fmt.Errorf("%w: %s", ErrChecksumMismatch, verification.Reason)
	}
	result, err := ParseCallback(params)
	if err != nil {
		verification.Valid = false
		verification.Reason = constants.CallbackReasonMalformedParams
		return nil, verification, err
	}
	return result, verification, nil
}

// CallbackAck 回覆绿界的应答内容
func CallbackAck(err error) string {
	if err == nil {
		return constants.ECPayCallbackSuccess
	}
	return fmt.Sprintf(constants.ECPayCallbackFailFmt, err.Error())
}
