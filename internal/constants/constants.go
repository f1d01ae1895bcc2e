package constants

// 运行环境常量
const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"
)

// 支付尝试状态常量
const (
	PaymentStatusInitiated = "initiated"
	PaymentStatusSuccess   = "success"
	PaymentStatusFailed    = "failed"
	PaymentStatusExpired   = "expired"
)

// 支付提供方常量
const (
	PaymentProviderECPay = "ecpay"
	PaymentProviderMock  = "mock"
)

// 平台付款方式 ID（与前台约定，0 表示由付款人在金流页面自行选择）
const (
	PaymentMethodAny      = 0
	PaymentMethodCredit   = 1
	PaymentMethodATM      = 2
	PaymentMethodCVS      = 3
	PaymentMethodBarcode  = 4
	PaymentMethodWebATM   = 5
	PaymentMethodApplePay = 6
	PaymentMethodTWQR     = 7
)

// 平台付款方式类型
const (
	PaymentMethodTypeCard     = "CARD"
	PaymentMethodTypeTransfer = "TRANSFER"
	PaymentMethodTypeCode     = "CODE"
	PaymentMethodTypeWallet   = "WALLET"
	PaymentMethodTypeAny      = "ANY"
)

// 绿界回调常量
const (
	ECPayRtnCodeSuccess   = 1
	ECPayRtnCodeATMInfo   = 2        // ATM 虚拟帐号已取号
	ECPayRtnCodeCVSInfo   = 10100073 // 超商代码或条码已取号
	ECPayCallbackSuccess  = "1|OK"
	ECPayCallbackFailFmt  = "0|%s"
	ECPayTradeStatusPaid  = "1"
	ECPayTradeStatusUnpay = "0"
)

// 回调来源
const (
	CallbackSourceNotify = "notify"
	CallbackSourceResult = "order_result"
	CallbackSourceMock   = "mock"
	CallbackSourceQuery  = "query"
	CallbackSourceInfo   = "payment_info"
)

// 回调校验结果原因
const (
	CallbackReasonVerified         = "verified"
	CallbackReasonMissingChecksum  = "missing_checksum"
	CallbackReasonEmptyParams      = "empty_params"
	CallbackReasonChecksumMismatch = "checksum_mismatch"
	CallbackReasonMalformedParams  = "malformed_params"
)

// 队列与任务常量
const (
	QueueDefault             = "default"
	QueueCritical            = "critical"
	TaskPaymentTimeoutExpire = "payment:timeout_expire"
)

// 缓存 key 前缀
const (
	CacheKeyPaymentStatus = "payment:status"
	CacheKeyTradeNo       = "payment:trade_no"
)
