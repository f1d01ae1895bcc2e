package worker

import (
	"context"
	"errors"
	"time"

	"github.com/buymall/buypay/internal/logger"
	"github.com/buymall/buypay/internal/models"
	"github.com/buymall/buypay/internal/provider"
	"github.com/buymall/buypay/internal/queue"
	"github.com/buymall/buypay/internal/service"

	"github.com/hibiken/asynq"
)

// PaymentExpirer 逾期支付处理
type PaymentExpirer interface {
	ExpireAttempt(ctx context.Context, id uint, now time.Time) (*models.PaymentAttempt, error)
	ExpireOverdue(ctx context.Context, now time.Time, limit int) (int, error)
}

// Consumer 异步任务消费者
type Consumer struct {
	payments PaymentExpirer
	now      func() time.Time
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	consumer := &Consumer{now: time.Now}
	if c != nil && c.PaymentService != nil {
		consumer.payments = c.PaymentService
	}
	return consumer
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskPaymentTimeoutExpire, c.handlePaymentTimeoutExpire)
}

func (c *Consumer) handlePaymentTimeoutExpire(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_payment_timeout_expire_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	payload, err := queue.ParsePaymentTimeoutExpirePayload(task)
	if err != nil {
		logger.Warnw("worker_payment_timeout_expire_invalid_payload", "error", err)
		// 载荷无法解析时重试无意义
		return errors.Join(err, asynq.SkipRetry)
	}
	if c.payments == nil {
		logger.Warnw("worker_payment_timeout_expire_skip_service_nil", "attempt_id", payload.AttemptID)
		return nil
	}
	attempt, err := c.payments.ExpireAttempt(ctx, payload.AttemptID, c.now())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentNotFound):
			logger.Debugw("worker_payment_timeout_expire_skip_not_found", "attempt_id", payload.AttemptID)
			return nil
		case errors.Is(err, service.ErrPaymentQueryFailed):
			logger.Warnw("worker_payment_timeout_expire_query_failed", "attempt_id", payload.AttemptID, "merchant_trade_no", payload.MerchantTradeNo, "error", err)
			return err
		default:
			logger.Warnw("worker_payment_timeout_expire_failed", "attempt_id", payload.AttemptID, "error", err)
			return err
		}
	}
	logger.Debugw("worker_payment_timeout_expire_done",
		"attempt_id", payload.AttemptID,
		"merchant_trade_no", payload.MerchantTradeNo,
		"status", attempt.Status,
	)
	return nil
}
