package models

import (
	"time"
)

// PaymentAttempt 一次结账尝试，对应一个绿界 MerchantTradeNo
type PaymentAttempt struct {
	ID              uint       `gorm:"primarykey" json:"id"`                                        // 主键
	OrderRef        string     `gorm:"index;size:64;not null" json:"order_ref"`                     // 商城订单号
	MerchantTradeNo string     `gorm:"uniqueIndex;size:20;not null" json:"merchant_trade_no"`       // 商店交易编号
	Provider        string     `gorm:"size:16;not null" json:"provider"`                            // ecpay / mock
	Environment     string     `gorm:"size:16;not null" json:"environment"`                         // sandbox / production
	MerchantID      string     `gorm:"size:16;not null" json:"merchant_id"`                         // 商店代号
	PaymentMethodID int        `gorm:"not null;default:0" json:"payment_method_id"`                 // 平台付款方式 ID
	ChoosePayment   string     `gorm:"size:16;not null" json:"choose_payment"`                      // 实际送出的付款方式
	MethodFallback  bool       `gorm:"not null;default:false" json:"method_fallback"`               // 是否已降级
	FallbackReason  string     `gorm:"size:32" json:"fallback_reason,omitempty"`                    // 降级原因
	TotalAmount     int64      `gorm:"not null" json:"total_amount"`                                // 金额（新台币元）
	ItemName        string     `gorm:"size:400;not null" json:"item_name"`                          // 商品名称
	TradeDesc       string     `gorm:"size:200;not null" json:"trade_desc"`                         // 交易描述
	Status          string     `gorm:"index;size:16;not null" json:"status"`                        // 支付状态
	CheckMacValue   string     `gorm:"size:64;not null" json:"-"`                                   // 送出时的检查码
	SignedFields    FieldList  `gorm:"type:json;not null" json:"-"`                                 // 送出的全部栏位
	GatewayTradeNo  string     `gorm:"index;size:32" json:"gateway_trade_no,omitempty"`             // 绿界交易编号
	PaymentType     string     `gorm:"size:32" json:"payment_type,omitempty"`                       // 绿界回传付款方式
	ChargeFee       Money      `gorm:"type:decimal(20,2);not null;default:0" json:"charge_fee"`     // 手续费
	RtnCode         int        `gorm:"not null;default:0" json:"rtn_code"`                          // 回传代码
	RtnMsg          string     `gorm:"size:200" json:"rtn_msg,omitempty"`                           // 回传讯息
	Simulated       bool       `gorm:"not null;default:false" json:"simulated"`                     // 模拟付款
	CallbackPayload JSON       `gorm:"type:json" json:"-"`                                          // 最近一次通过校验的回调
	ExpiresAt       time.Time  `gorm:"index;not null" json:"expires_at"`                            // 付款期限
	PaidAt          *time.Time `gorm:"index" json:"paid_at,omitempty"`                              // 付款时间
	CallbackAt      *time.Time `json:"callback_at,omitempty"`                                       // 回调时间
	ExpiredAt       *time.Time `json:"expired_at,omitempty"`                                        // 过期处理时间
	CreatedAt       time.Time  `gorm:"index" json:"created_at"`                                     // 创建时间
	UpdatedAt       time.Time  `json:"updated_at"`                                                  // 更新时间
}

// TableName 指定表名
func (PaymentAttempt) TableName() string {
	return "payment_attempts"
}

// CallbackLog 回调审计记录，校验失败的回调同样落库
type CallbackLog struct {
	ID               uint      `gorm:"primarykey" json:"id"`                    // 主键
	AttemptID        uint      `gorm:"index" json:"attempt_id"`                 // 关联尝试（未找到为 0）
	MerchantTradeNo  string    `gorm:"index;size:32" json:"merchant_trade_no"`  // 商店交易编号
	Source           string    `gorm:"size:16;not null" json:"source"`          // notify / order_result / payment_info / mock / query
	Verified         bool      `gorm:"not null" json:"verified"`                // 检查码是否通过
	Reason           string    `gorm:"size:32;not null" json:"reason"`          // 校验结果原因
	Outcome          string    `gorm:"size:64" json:"outcome"`                  // 处理结果
	RtnCode          string    `gorm:"size:8" json:"rtn_code"`                  // 回传代码原文
	ReceivedChecksum string    `gorm:"size:128" json:"received_checksum"`       // 收到的检查码
	ComputedChecksum string    `gorm:"size:64" json:"computed_checksum"`        // 本地重算的检查码
	ClientIP         string    `gorm:"size:64" json:"client_ip"`                // 来源 IP
	Payload          JSON      `gorm:"type:json" json:"payload"`                // 回调原文
	CreatedAt        time.Time `gorm:"index" json:"created_at"`                 // 创建时间
}

// TableName 指定表名
func (CallbackLog) TableName() string {
	return "payment_callback_logs"
}
