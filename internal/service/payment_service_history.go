package service

import (
	"strings"

	"github.com/buymall/buypay/internal/cache"
	"github.com/buymall/buypay/internal/constants"
	"github.com/buymall/buypay/internal/models"
	"github.com/buymall/buypay/internal/repository"
)

// OrderAttemptsQuery 订单支付记录查询条件
type OrderAttemptsQuery struct {
	OrderRef string
	Status   string
	Page     int
	PageSize int
}

// CallbackLogQuery 回调记录查询条件，商店交易编号与绿界交易编号至少给一个
type CallbackLogQuery struct {
	MerchantTradeNo string
	GatewayTradeNo  string
	Source          string
	Verified        *bool
	Page            int
	PageSize        int
}

var knownPaymentStatuses = map[string]struct{}{
	constants.PaymentStatusInitiated: {},
	constants.PaymentStatusSuccess:   {},
	constants.PaymentStatusFailed:    {},
	constants.PaymentStatusExpired:   {},
}

var knownCallbackSources = map[string]struct{}{
	constants.CallbackSourceNotify: {},
	constants.CallbackSourceResult: {},
	constants.CallbackSourceInfo:   {},
	constants.CallbackSourceMock:   {},
	constants.CallbackSourceQuery:  {},
}

// ListOrderAttempts 分页列出订单的全部支付尝试，最新在前
func (s *PaymentService) ListOrderAttempts(query OrderAttemptsQuery) ([]*cache.PaymentStatusSnapshot, int64, error) {
	orderRef := strings.TrimSpace(query.OrderRef)
	if orderRef == "" {
		return nil, 0, ErrPaymentInvalid
	}
	status := strings.TrimSpace(query.Status)
	if status != "" {
		if _, ok := knownPaymentStatuses[status]; !ok {
			return nil, 0, ErrPaymentInvalid
		}
	}
	page, pageSize := repository.NormalizePagination(query.Page, query.PageSize)
	attempts, total, err := s.attemptRepo.List(repository.PaymentAttemptListFilter{
		Page:     page,
		PageSize: pageSize,
		OrderRef: orderRef,
		Status:   status,
	})
	if err != nil {
		paymentLogger("order_ref", orderRef).Errorw("payment_attempt_list_failed", "error", err)
		return nil, 0, ErrPaymentUpdateFailed
	}
	snapshots := make([]*cache.PaymentStatusSnapshot, 0, len(attempts))
	for i := range attempts {
		snapshots = append(snapshots, toStatusSnapshot(&attempts[i]))
	}
	return snapshots, total, nil
}

// ListCallbackLogs 分页查询回调审计记录，供对帐使用
func (s *PaymentService) ListCallbackLogs(query CallbackLogQuery) ([]models.CallbackLog, int64, error) {
	tradeNo := strings.TrimSpace(query.MerchantTradeNo)
	gatewayNo := strings.TrimSpace(query.GatewayTradeNo)
	if tradeNo == "" && gatewayNo == "" {
		return nil, 0, ErrPaymentInvalid
	}
	source := strings.TrimSpace(query.Source)
	if source != "" {
		if _, ok := knownCallbackSources[source]; !ok {
			return nil, 0, ErrPaymentInvalid
		}
	}
	if s.callbackRepo == nil {
		return []models.CallbackLog{}, 0, nil
	}
	page, pageSize := repository.NormalizePagination(query.Page, query.PageSize)
	logs, total, err := s.callbackRepo.List(repository.CallbackLogListFilter{
		Page:            page,
		PageSize:        pageSize,
		MerchantTradeNo: tradeNo,
		GatewayTradeNo:  gatewayNo,
		Source:          source,
		Verified:        query.Verified,
	})
	if err != nil {
		paymentLogger("merchant_trade_no", tradeNo, "gateway_trade_no", gatewayNo).Errorw("payment_callback_log_list_failed", "error", err)
		return nil, 0, ErrPaymentUpdateFailed
	}
	return logs, total, nil
}
