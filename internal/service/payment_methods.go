package service

import (
	"github.com/buymall/buypay/internal/constants"
	"github.com/buymall/buypay/internal/models"

	"github.com/shopspring/decimal"
)

// PaymentMethodView 平台付款方式
type PaymentMethodView struct {
	ID             int          `json:"id"`
	Name           string       `json:"name"`
	Type           string       `json:"type"`
	Description    string       `json:"description"`
	Fee            models.Money `json:"fee"`
	ChoosePayment  string       `json:"choose_payment"`
	Degraded       bool         `json:"degraded"`
	FallbackReason string       `json:"fallback_reason,omitempty"`
}

type paymentMethodDef struct {
	id          int
	name        string
	methodType  string
	description string
	fee         int64
}

// 平台付款方式目录，手续费单位为新台币元
var paymentMethodCatalog = []paymentMethodDef{
	{constants.PaymentMethodAny, "綠界付款頁選擇", constants.PaymentMethodTypeAny, "於綠界付款頁面自行選擇付款方式", 0},
	{constants.PaymentMethodCredit, "信用卡", constants.PaymentMethodTypeCard, "支援 Visa、MasterCard、JCB", 0},
	{constants.PaymentMethodATM, "ATM 轉帳", constants.PaymentMethodTypeTransfer, "取得虛擬帳號後轉帳", 15},
	{constants.PaymentMethodCVS, "超商代碼", constants.PaymentMethodTypeCode, "至超商以代碼繳費", 25},
	{constants.PaymentMethodBarcode, "超商條碼", constants.PaymentMethodTypeCode, "至超商以條碼繳費", 25},
	{constants.PaymentMethodWebATM, "網路 ATM", constants.PaymentMethodTypeTransfer, "使用晶片讀卡機線上轉帳", 10},
	{constants.PaymentMethodApplePay, "Apple Pay", constants.PaymentMethodTypeWallet, "使用 Apple Pay 付款", 0},
	{constants.PaymentMethodTWQR, "台灣 Pay", constants.PaymentMethodTypeWallet, "掃描 TWQR 付款", 0},
}

// ListMethods 列出付款方式，以及当前环境实际送出的绿界代码
func (s *PaymentService) ListMethods() []PaymentMethodView {
	views := make([]PaymentMethodView, 0, len(paymentMethodCatalog))
	for _, def := range paymentMethodCatalog {
		res := s.signer.ResolveMethod(def.id)
		views = append(views, PaymentMethodView{
			ID:             def.id,
			Name:           def.name,
			Type:           def.methodType,
			Description:    def.description,
			Fee:            models.NewMoneyFromDecimal(decimal.NewFromInt(def.fee)),
			ChoosePayment:  res.Code,
			Degraded:       res.Fallback,
			FallbackReason: res.Reason,
		})
	}
	return views
}
