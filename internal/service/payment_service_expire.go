package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/buymall/buypay/internal/constants"
	"github.com/buymall/buypay/internal/models"
	"github.com/buymall/buypay/internal/payment/ecpay"
)

const defaultExpireBatch = 100

// ExpireAttempt 处理逾期未付款的尝试：先向绿界查询，已付款则补记成功，否则标记过期
func (s *PaymentService) ExpireAttempt(ctx context.Context, id uint, now time.Time) (*models.PaymentAttempt, error) {
	if id == 0 {
		return nil, ErrPaymentInvalid
	}
	attempt, err := s.attemptRepo.GetByID(id)
	if err != nil {
		return nil, ErrPaymentUpdateFailed
	}
	if attempt == nil {
		return nil, ErrPaymentNotFound
	}
	log := paymentLogger("attempt_id", attempt.ID, "merchant_trade_no", attempt.MerchantTradeNo)
	if attempt.Status != constants.PaymentStatusInitiated {
		log.Debugw("payment_expire_skip_status", "current_status", attempt.Status)
		return attempt, nil
	}
	if now.Before(attempt.ExpiresAt) {
		log.Debugw("payment_expire_skip_not_due", "expires_at", attempt.ExpiresAt)
		return attempt, nil
	}

	if s.querier != nil {
		info, err := s.querier.QueryTradeInfo(ctx, attempt.MerchantTradeNo)
		if err != nil {
			log.Warnw("payment_expire_query_failed", "error", err)
			return nil, fmt.Errorf("%w: %v", ErrPaymentQueryFailed, err)
		}
		if info.Paid() {
			log.Infow("payment_expire_found_paid", "gateway_trade_no", info.TradeNo)
			return s.applyQueriedPaid(ctx, attempt, info)
		}
	}

	hit, err := s.attemptRepo.TransitionStatus(attempt.ID, []string{constants.PaymentStatusInitiated}, map[string]interface{}{
		"status":     constants.PaymentStatusExpired,
		"expired_at": now,
		"updated_at": now,
	})
	if err != nil {
		log.Errorw("payment_expire_update_failed", "error", err)
		return nil, ErrPaymentUpdateFailed
	}
	refreshed, err := s.attemptRepo.GetByID(attempt.ID)
	if err == nil && refreshed != nil {
		attempt = refreshed
	}
	if hit {
		s.cacheStatus(ctx, attempt)
		log.Infow("payment_expired")
	}
	return attempt, nil
}

// applyQueriedPaid 以查询结果构造回调记录，复用回调的状态推进
func (s *PaymentService) applyQueriedPaid(ctx context.Context, attempt *models.PaymentAttempt, info *ecpay.TradeInfo) (*models.PaymentAttempt, error) {
	result := &ecpay.CallbackResult{
		MerchantID:      s.signer.MerchantID(),
		MerchantTradeNo: attempt.MerchantTradeNo,
		RtnCode:         constants.ECPayRtnCodeSuccess,
		RtnMsg:          "QueryTradeInfo",
		TradeNo:         info.TradeNo,
		TradeAmt:        info.TradeAmt,
		PaymentDate:     info.PaymentDate,
		PaymentType:     info.PaymentType,
		Raw:             info.Raw,
	}
	record := &models.CallbackLog{
		MerchantTradeNo: attempt.MerchantTradeNo,
		Source:          constants.CallbackSourceQuery,
		Verified:        true,
		Reason:          constants.CallbackReasonVerified,
		RtnCode:         info.TradeStatus,
		Payload:         paramsToJSON(info.Raw),
	}
	log := paymentLogger("merchant_trade_no", attempt.MerchantTradeNo, "callback_source", constants.CallbackSourceQuery)
	outcome, err := s.applyCallbackResult(ctx, result, record, log)
	if err != nil {
		return nil, err
	}
	return outcome.Attempt, nil
}

// ExpireOverdue 批量处理逾期尝试，返回已处理数量
func (s *PaymentService) ExpireOverdue(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultExpireBatch
	}
	attempts, err := s.attemptRepo.ListOverdue(now, limit)
	if err != nil {
		paymentLogger().Errorw("payment_expire_sweep_list_failed", "error", err)
		return 0, ErrPaymentUpdateFailed
	}
	processed := 0
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if _, err := s.ExpireAttempt(ctx, attempts[i].ID, now); err != nil {
			paymentLogger("attempt_id", attempts[i].ID).Warnw("payment_expire_sweep_item_failed", "error", err)
			continue
		}
		processed++
	}
	if len(attempts) > 0 {
		paymentLogger().Infow("payment_expire_sweep_done", "candidates", len(attempts), "processed", processed)
	}
	return processed, nil
}

// SimulatePaid 仅限模拟模式：以部署凭证签出一笔付款成功回调并走正常回调流程
func (s *PaymentService) SimulatePaid(ctx context.Context, tradeNo string) (*CallbackOutcome, error) {
	if !s.mockEnabled {
		return nil, ErrMockDisabled
	}
	attempt, err := s.getAttemptByTradeNo(tradeNo)
	if err != nil {
		return nil, err
	}
	now := s.signer.Now()
	params := ecpay.Params{
		ecpay.FieldMerchantID:      s.signer.MerchantID(),
		ecpay.FieldMerchantTradeNo: attempt.MerchantTradeNo,
		ecpay.FieldRtnCode:         strconv.Itoa(constants.ECPayRtnCodeSuccess),
		ecpay.FieldRtnMsg:          "交易成功",
		ecpay.FieldTradeNo:         fmt.Sprintf("%s%08d", now.Format("060102150405"), attempt.ID),
		ecpay.FieldTradeAmt:        strconv.FormatInt(attempt.TotalAmount, 10),
		ecpay.FieldPaymentDate:     ecpay.FormatTradeDate(now),
		ecpay.FieldPaymentType:     "Credit_CreditCard",
		ecpay.FieldChargeFee:       "0",
		ecpay.FieldTradeDate:       attempt.SignedFields.Get(ecpay.FieldMerchantTradeDate),
		ecpay.FieldSimulatePaid:    "1",
		ecpay.FieldCustomField1:    attempt.SignedFields.Get(ecpay.FieldCustomField1),
		ecpay.FieldCustomField2:    attempt.SignedFields.Get(ecpay.FieldCustomField2),
		ecpay.FieldCustomField3:    attempt.SignedFields.Get(ecpay.FieldCustomField3),
		ecpay.FieldCustomField4:    attempt.SignedFields.Get(ecpay.FieldCustomField4),
	}
	signed, err := s.signer.SignParams(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentInvalid, err)
	}
	paymentLogger("merchant_trade_no", attempt.MerchantTradeNo).Infow("payment_mock_paid")
	return s.HandleCallback(ctx, CallbackInput{Params: signed, Source: constants.CallbackSourceMock})
}
