package queue

import (
	"encoding/json"
	"fmt"

	"github.com/buymall/buypay/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskPaymentTimeoutExpire 支付超时过期任务
	TaskPaymentTimeoutExpire = constants.TaskPaymentTimeoutExpire
)

// PaymentTimeoutExpirePayload 支付超时过期任务载荷
type PaymentTimeoutExpirePayload struct {
	AttemptID       uint   `json:"attempt_id"`
	MerchantTradeNo string `json:"merchant_trade_no"`
}

// NewPaymentTimeoutExpireTask 创建支付超时过期任务
func NewPaymentTimeoutExpireTask(payload PaymentTimeoutExpirePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentTimeoutExpire, body), nil
}

// ParsePaymentTimeoutExpirePayload 解析任务载荷
func ParsePaymentTimeoutExpirePayload(task *asynq.Task) (PaymentTimeoutExpirePayload, error) {
	var payload PaymentTimeoutExpirePayload
	if task == nil {
		return payload, fmt.Errorf("task is nil")
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, err
	}
	if payload.AttemptID == 0 {
		return payload, fmt.Errorf("attempt_id is required")
	}
	return payload, nil
}
