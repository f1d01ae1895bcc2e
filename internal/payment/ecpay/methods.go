package ecpay

import (
	"sort"
	"strings"

	"github.com/buymall/buypay/internal/constants"
)

// ChoosePayment 代码
const (
	ChoosePaymentAll      = "ALL"
	ChoosePaymentCredit   = "Credit"
	ChoosePaymentWebATM   = "WebATM"
	ChoosePaymentATM      = "ATM"
	ChoosePaymentCVS      = "CVS"
	ChoosePaymentBarcode  = "BARCODE"
	ChoosePaymentApplePay = "ApplePay"
	ChoosePaymentTWQR     = "TWQR"
)

// 降级原因
const (
	FallbackReasonUnsupported = "unsupported_by_merchant"
	FallbackReasonUnknown     = "unknown_method"
)

var knownChoosePayments = map[string]struct{}{
	ChoosePaymentAll:      {},
	ChoosePaymentCredit:   {},
	ChoosePaymentWebATM:   {},
	ChoosePaymentATM:      {},
	ChoosePaymentCVS:      {},
	ChoosePaymentBarcode:  {},
	ChoosePaymentApplePay: {},
	ChoosePaymentTWQR:     {},
}

// IsKnownChoosePayment 判断是否为绿界定义的付款方式代码
func IsKnownChoosePayment(code string) bool {
	_, ok := knownChoosePayments[code]
	return ok
}

// MethodTable 平台付款方式 ID → 绿界 ChoosePayment 映射。
// Codes 列出当前商店凭证支持的方式，Degraded 标记被映射到非本意代码的 ID。
type MethodTable struct {
	Codes    map[int]string
	Degraded map[int]bool
	Fallback string
}

// MethodResolution 付款方式解析结果
type MethodResolution struct {
	Requested int
	Code      string
	Fallback  bool
	Reason    string
}

// SandboxMethodTable 共用测试商店 2000132 只支持信用卡，其余方式降级为 Credit
func SandboxMethodTable() MethodTable {
	return MethodTable{
		Codes: map[int]string{
			constants.PaymentMethodAny:      ChoosePaymentAll,
			constants.PaymentMethodCredit:   ChoosePaymentCredit,
			constants.PaymentMethodATM:      ChoosePaymentCredit,
			constants.PaymentMethodCVS:      ChoosePaymentCredit,
			constants.PaymentMethodBarcode:  ChoosePaymentCredit,
			constants.PaymentMethodWebATM:   ChoosePaymentCredit,
			constants.PaymentMethodApplePay: ChoosePaymentCredit,
			constants.PaymentMethodTWQR:     ChoosePaymentCredit,
		},
		Degraded: map[int]bool{
			constants.PaymentMethodATM:      true,
			constants.PaymentMethodCVS:      true,
			constants.PaymentMethodBarcode:  true,
			constants.PaymentMethodWebATM:   true,
			constants.PaymentMethodApplePay: true,
			constants.PaymentMethodTWQR:     true,
		},
		Fallback: ChoosePaymentCredit,
	}
}

// ProductionMethodTable 正式商店的完整映射
func ProductionMethodTable() MethodTable {
	return MethodTable{
		Codes: map[int]string{
			constants.PaymentMethodAny:      ChoosePaymentAll,
			constants.PaymentMethodCredit:   ChoosePaymentCredit,
			constants.PaymentMethodATM:      ChoosePaymentATM,
			constants.PaymentMethodCVS:      ChoosePaymentCVS,
			constants.PaymentMethodBarcode:  ChoosePaymentBarcode,
			constants.PaymentMethodWebATM:   ChoosePaymentWebATM,
			constants.PaymentMethodApplePay: ChoosePaymentApplePay,
			constants.PaymentMethodTWQR:     ChoosePaymentTWQR,
		},
		Degraded: map[int]bool{},
		Fallback: ChoosePaymentCredit,
	}
}

// DefaultMethodTable 按环境选择映射表
func DefaultMethodTable(env string) MethodTable {
	if strings.EqualFold(strings.TrimSpace(env), constants.EnvironmentProduction) {
		return ProductionMethodTable()
	}
	return SandboxMethodTable()
}

// NewMethodTable 由配置构建映射表，overrides 覆盖 base 中的同名 ID。
// 覆盖代码与 ID 本意不符时无从判断，因此覆盖项一律视为非降级。
func NewMethodTable(base MethodTable, overrides map[int]string, fallback string) MethodTable {
	table := MethodTable{
		Codes:    make(map[int]string, len(base.Codes)+len(overrides)),
		Degraded: make(map[int]bool, len(base.Degraded)),
		Fallback: base.Fallback,
	}
	for id, code := range base.Codes {
		table.Codes[id] = code
	}
	for id, degraded := range base.Degraded {
		table.Degraded[id] = degraded
	}
	for id, code := range overrides {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		table.Codes[id] = code
		delete(table.Degraded, id)
	}
	if fb := strings.TrimSpace(fallback); fb != "" {
		table.Fallback = fb
	}
	if table.Fallback == "" {
		table.Fallback = ChoosePaymentCredit
	}
	return table
}

// Resolve 解析付款方式；0 固定为 ALL，未知 ID 退回 Fallback 并标记
func (t MethodTable) Resolve(id int) MethodResolution {
	if id == constants.PaymentMethodAny {
		return MethodResolution{Requested: id, Code: ChoosePaymentAll}
	}
	fallback := t.Fallback
	if fallback == "" {
		fallback = ChoosePaymentCredit
	}
	code, ok := t.Codes[id]
	if !ok || code == "" {
		return MethodResolution{Requested: id, Code: fallback, Fallback: true, Reason: FallbackReasonUnknown}
	}
	if t.Degraded[id] {
		return MethodResolution{Requested: id, Code: code, Fallback: true, Reason: FallbackReasonUnsupported}
	}
	return MethodResolution{Requested: id, Code: code}
}

// IDs 返回已配置的付款方式 ID（升序）
func (t MethodTable) IDs() []int {
	ids := make([]int, 0, len(t.Codes))
	for id := range t.Codes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
