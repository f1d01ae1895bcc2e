package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/buymall/buypay/internal/constants"
)

const paymentStatusCacheTTL = 10 * time.Minute

// PaymentStatusSnapshot 支付状态快照，仅用于查询接口缓存
type PaymentStatusSnapshot struct {
	MerchantTradeNo string     `json:"merchant_trade_no"`
	OrderRef        string     `json:"order_ref"`
	Status          string     `json:"status"`
	TotalAmount     int64      `json:"total_amount"`
	ChoosePayment   string     `json:"choose_payment"`
	PaymentType     string     `json:"payment_type,omitempty"`
	GatewayTradeNo  string     `json:"gateway_trade_no,omitempty"`
	Simulated       bool       `json:"simulated"`
	ExpiresAt       time.Time  `json:"expires_at"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	UpdatedAt       int64      `json:"updated_at"`
}

func paymentStatusKey(tradeNo string) string {
	return fmt.Sprintf("%s:%s", constants.CacheKeyPaymentStatus, strings.TrimSpace(tradeNo))
}

// GetPaymentStatus 获取支付状态快照
func GetPaymentStatus(ctx context.Context, tradeNo string) (*PaymentStatusSnapshot, bool, error) {
	if strings.TrimSpace(tradeNo) == "" {
		return nil, false, nil
	}
	var snapshot PaymentStatusSnapshot
	hit, err := GetJSON(ctx, paymentStatusKey(tradeNo), &snapshot)
	if err != nil || !hit {
		return nil, hit, err
	}
	return &snapshot, true, nil
}

// SetPaymentStatus 写入支付状态快照
func SetPaymentStatus(ctx context.Context, snapshot *PaymentStatusSnapshot) error {
	if snapshot == nil || strings.TrimSpace(snapshot.MerchantTradeNo) == "" {
		return nil
	}
	snapshot.UpdatedAt = time.Now().Unix()
	return SetJSON(ctx, paymentStatusKey(snapshot.MerchantTradeNo), snapshot, paymentStatusCacheTTL)
}

// DelPaymentStatus 删除支付状态快照
func DelPaymentStatus(ctx context.Context, tradeNo string) error {
	if strings.TrimSpace(tradeNo) == "" {
		return nil
	}
	return Del(ctx, paymentStatusKey(tradeNo))
}
