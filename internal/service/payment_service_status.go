package service

import (
	"context"
	"strings"

	"github.com/buymall/buypay/internal/cache"
	"github.com/buymall/buypay/internal/models"
)

// GetStatus 查询交易状态，优先读取缓存快照
func (s *PaymentService) GetStatus(ctx context.Context, tradeNo string) (*cache.PaymentStatusSnapshot, error) {
	tradeNo = strings.TrimSpace(tradeNo)
	if tradeNo == "" {
		return nil, ErrPaymentInvalid
	}
	if snapshot, hit, err := cache.GetPaymentStatus(ctx, tradeNo); err == nil && hit {
		return snapshot, nil
	} else if err != nil {
		paymentLogger("merchant_trade_no", tradeNo).Debugw("payment_status_cache_read_failed", "error", err)
	}
	attempt, err := s.getAttemptByTradeNo(tradeNo)
	if err != nil {
		return nil, err
	}
	return s.cacheStatus(ctx, attempt), nil
}

// GetAttempt 获取支付尝试（不走缓存）
func (s *PaymentService) GetAttempt(tradeNo string) (*models.PaymentAttempt, error) {
	return s.getAttemptByTradeNo(tradeNo)
}

// GetLatestByOrderRef 获取订单最近一次支付尝试的状态
func (s *PaymentService) GetLatestByOrderRef(ctx context.Context, orderRef string) (*cache.PaymentStatusSnapshot, error) {
	orderRef = strings.TrimSpace(orderRef)
	if orderRef == "" {
		return nil, ErrPaymentInvalid
	}
	attempt, err := s.attemptRepo.GetLatestByOrderRef(orderRef)
	if err != nil {
		paymentLogger("order_ref", orderRef).Errorw("payment_attempt_fetch_failed", "error", err)
		return nil, ErrPaymentUpdateFailed
	}
	if attempt == nil {
		return nil, ErrPaymentNotFound
	}
	return s.cacheStatus(ctx, attempt), nil
}

// cacheStatus 写入状态快照；缓存失败不影响主流程
func (s *PaymentService) cacheStatus(ctx context.Context, attempt *models.PaymentAttempt) *cache.PaymentStatusSnapshot {
	snapshot := toStatusSnapshot(attempt)
	if snapshot == nil {
		return nil
	}
	if err := cache.SetPaymentStatus(ctx, snapshot); err != nil {
		paymentLogger("merchant_trade_no", snapshot.MerchantTradeNo).Warnw("payment_status_cache_write_failed", "error", err)
		// 避免旧快照继续被读取
		_ = cache.DelPaymentStatus(ctx, snapshot.MerchantTradeNo)
	}
	return snapshot
}

func toStatusSnapshot(attempt *models.PaymentAttempt) *cache.PaymentStatusSnapshot {
	if attempt == nil {
		return nil
	}
	return &cache.PaymentStatusSnapshot{
		MerchantTradeNo: attempt.MerchantTradeNo,
		OrderRef:        attempt.OrderRef,
		Status:          attempt.Status,
		TotalAmount:     attempt.TotalAmount,
		ChoosePayment:   attempt.ChoosePayment,
		PaymentType:     attempt.PaymentType,
		GatewayTradeNo:  attempt.GatewayTradeNo,
		Simulated:       attempt.Simulated,
		ExpiresAt:       attempt.ExpiresAt,
		PaidAt:          attempt.PaidAt,
	}
}
