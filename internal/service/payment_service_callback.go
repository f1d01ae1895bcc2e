package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/buymall/buypay/internal/constants"
	"github.com/buymall/buypay/internal/models"
	"github.com/buymall/buypay/internal/payment/ecpay"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CallbackInput 绿界回调输入
type CallbackInput struct {
	Params   ecpay.Params
	ClientIP string
	Source   string
}

// CallbackOutcome 回调处理结果
type CallbackOutcome struct {
	Attempt  *models.PaymentAttempt
	Result   *ecpay.CallbackResult
	Changed  bool
	Previous string
}

// 回调处理结果标记，写入回调记录
const (
	outcomeRejected         = "rejected"
	outcomeNotFound         = "attempt_not_found"
	outcomeMerchantMismatch = "merchant_mismatch"
	outcomeAmountMismatch   = "amount_mismatch"
	outcomeIdempotent       = "idempotent"
	outcomeStaleIgnored     = "stale_ignored"
	outcomePaymentInfo      = "payment_info_issued"
	outcomeUpdateFailed     = "update_failed"
)

// HandleCallback 校验检查码并按回传结果推进支付状态；校验失败不重试
func (s *PaymentService) HandleCallback(ctx context.Context, input CallbackInput) (*CallbackOutcome, error) {
	source := strings.TrimSpace(input.Source)
	if source == "" {
		source = constants.CallbackSourceNotify
	}
	tradeNo := strings.TrimSpace(input.Params[ecpay.FieldMerchantTradeNo])
	log := paymentLogger(
		"merchant_trade_no", tradeNo,
		"callback_source", source,
		"client_ip", input.ClientIP,
		"rtn_code", input.Params[ecpay.FieldRtnCode],
	)
	log.Infow("ecpay_callback_received")

	record := &models.CallbackLog{
		MerchantTradeNo: tradeNo,
		Source:          source,
		RtnCode:         input.Params[ecpay.FieldRtnCode],
		ClientIP:        input.ClientIP,
		Payload:         paramsToJSON(input.Params),
	}

	result, verification, err := s.signer.VerifyAndParse(input.Params)
	record.Verified = verification.Valid
	record.Reason = verification.Reason
	record.ReceivedChecksum = verification.Received
	record.ComputedChecksum = verification.Computed
	if err != nil {
		record.Outcome = outcomeRejected
		s.writeCallbackLog(record, log)
		if errors.Is(err, ecpay.ErrChecksumMismatch) {
			log.Warnw("ecpay_callback_checksum_mismatch",
				"reason", verification.Reason,
				"received_checksum", verification.Received,
				"computed_checksum", verification.Computed,
			)
			return nil, ErrChecksumMismatch
		}
		log.Warnw("ecpay_callback_malformed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPaymentInvalid, err)
	}
	return s.applyCallbackResult(ctx, result, record, log)
}

func (s *PaymentService) applyCallbackResult(ctx context.Context, result *ecpay.CallbackResult, record *models.CallbackLog, log *zap.SugaredLogger) (*CallbackOutcome, error) {
	if result.MerchantID != s.signer.MerchantID() {
		record.Outcome = outcomeMerchantMismatch
		s.writeCallbackLog(record, log)
		log.Warnw("ecpay_callback_merchant_mismatch",
			"stored_merchant_id", s.signer.MerchantID(),
			"callback_merchant_id", result.MerchantID,
		)
		return nil, ErrPaymentMerchantMismatch
	}

	attempt, err := s.attemptRepo.GetByTradeNo(result.MerchantTradeNo)
	if err != nil {
		record.Outcome = outcomeUpdateFailed
		s.writeCallbackLog(record, log)
		log.Errorw("ecpay_callback_attempt_fetch_failed", "error", err)
		return nil, ErrPaymentUpdateFailed
	}
	if attempt == nil {
		record.Outcome = outcomeNotFound
		s.writeCallbackLog(record, log)
		log.Warnw("ecpay_callback_attempt_not_found")
		return nil, ErrPaymentNotFound
	}
	record.AttemptID = attempt.ID

	if result.TradeAmt != attempt.TotalAmount {
		record.Outcome = outcomeAmountMismatch
		s.writeCallbackLog(record, log)
		log.Warnw("ecpay_callback_amount_mismatch",
			"stored_amount", attempt.TotalAmount,
			"callback_amount", result.TradeAmt,
		)
		return nil, ErrPaymentAmountMismatch
	}

	outcome := &CallbackOutcome{Attempt: attempt, Result: result, Previous: attempt.Status}
	now := s.signer.Now()

	// 已成功的不再回退状态
	if attempt.Status == constants.PaymentStatusSuccess {
		log.Infow("ecpay_callback_idempotent_success", "current_status", attempt.Status)
		if err := s.updateCallbackMeta(attempt, result, now); err != nil {
			record.Outcome = outcomeUpdateFailed
			s.writeCallbackLog(record, log)
			return nil, err
		}
		record.Outcome = outcomeIdempotent
		s.writeCallbackLog(record, log)
		return outcome, nil
	}

	if result.PaymentInfoIssued() {
		return s.applyPaymentInfo(ctx, outcome, record, now, log)
	}

	target := constants.PaymentStatusFailed
	from := []string{constants.PaymentStatusInitiated}
	updates := map[string]interface{}{
		"gateway_trade_no": result.TradeNo,
		"payment_type":     result.PaymentType,
		"charge_fee":       models.NewMoneyFromDecimal(result.ChargeFee),
		"rtn_code":         result.RtnCode,
		"rtn_msg":          result.RtnMsg,
		"simulated":        result.Simulated,
		"callback_payload": paramsToJSON(result.Raw),
		"callback_at":      now,
		"updated_at":       now,
	}
	if result.Paid() {
		target = constants.PaymentStatusSuccess
		// 本地已判定失败或过期后仍收到付款成功，以绿界为准
		from = []string{constants.PaymentStatusInitiated, constants.PaymentStatusFailed, constants.PaymentStatusExpired}
		paidAt := parsePaymentDate(result.PaymentDate, now)
		updates["paid_at"] = paidAt
	}
	updates["status"] = target

	changed := false
	err = s.db.Transaction(func(tx *gorm.DB) error {
		hit, err := s.attemptRepo.WithTx(tx).TransitionStatus(attempt.ID, from, updates)
		if err != nil {
			return err
		}
		changed = hit
		record.Outcome = target
		if !hit {
			record.Outcome = outcomeStaleIgnored
		}
		return s.callbackRepo.WithTx(tx).Create(record)
	})
	if err != nil {
		log.Errorw("ecpay_callback_apply_failed", "target_status", target, "error", err)
		record.ID = 0
		record.Outcome = outcomeUpdateFailed
		s.writeCallbackLog(record, log)
		return nil, ErrPaymentUpdateFailed
	}

	refreshed, err := s.attemptRepo.GetByID(attempt.ID)
	if err == nil && refreshed != nil {
		attempt = refreshed
	}
	outcome.Attempt = attempt
	outcome.Changed = changed
	if changed {
		s.cacheStatus(ctx, attempt)
	}
	log.Infow("ecpay_callback_processed",
		"previous_status", outcome.Previous,
		"new_status", attempt.Status,
		"changed", changed,
		"simulated", result.Simulated,
		"gateway_trade_no", result.TradeNo,
	)
	return outcome, nil
}

// applyPaymentInfo 取号通知不推进状态，只记录取号结果并把付款期限顺延到缴费期限。
// 顺延后已排入队列的过期任务会因未到期跳过，由定时扫描接手。
func (s *PaymentService) applyPaymentInfo(ctx context.Context, outcome *CallbackOutcome, record *models.CallbackLog, now time.Time, log *zap.SugaredLogger) (*CallbackOutcome, error) {
	attempt, result := outcome.Attempt, outcome.Result
	updates := map[string]interface{}{
		"gateway_trade_no": result.TradeNo,
		"payment_type":     result.PaymentType,
		"rtn_code":         result.RtnCode,
		"rtn_msg":          result.RtnMsg,
		"callback_payload": paramsToJSON(result.Raw),
		"callback_at":      now,
		"updated_at":       now,
	}
	deadline, ok := result.PaymentDeadline(time.Local)
	if ok && deadline.After(attempt.ExpiresAt) {
		updates["expires_at"] = deadline
	}

	hit := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		hit, err = s.attemptRepo.WithTx(tx).TransitionStatus(attempt.ID, []string{constants.PaymentStatusInitiated}, updates)
		if err != nil {
			return err
		}
		record.Outcome = outcomePaymentInfo
		if !hit {
			record.Outcome = outcomeStaleIgnored
		}
		return s.callbackRepo.WithTx(tx).Create(record)
	})
	if err != nil {
		log.Errorw("ecpay_payment_info_apply_failed", "error", err)
		record.ID = 0
		record.Outcome = outcomeUpdateFailed
		s.writeCallbackLog(record, log)
		return nil, ErrPaymentUpdateFailed
	}
	if refreshed, err := s.attemptRepo.GetByID(attempt.ID); err == nil && refreshed != nil {
		outcome.Attempt = refreshed
	}
	if hit {
		s.cacheStatus(ctx, outcome.Attempt)
	}
	log.Infow("ecpay_payment_info_issued",
		"payment_type", result.PaymentType,
		"expire_date", result.ExpireDate,
		"expires_at", outcome.Attempt.ExpiresAt,
		"applied", hit,
	)
	return outcome, nil
}

// updateCallbackMeta 已成功的尝试仅补齐回调信息
func (s *PaymentService) updateCallbackMeta(attempt *models.PaymentAttempt, result *ecpay.CallbackResult, now time.Time) error {
	if attempt.GatewayTradeNo == "" && result.TradeNo != "" {
		attempt.GatewayTradeNo = result.TradeNo
	}
	if attempt.PaymentType == "" && result.PaymentType != "" {
		attempt.PaymentType = result.PaymentType
	}
	if attempt.PaidAt == nil {
		paidAt := parsePaymentDate(result.PaymentDate, now)
		attempt.PaidAt = &paidAt
	}
	attempt.CallbackAt = &now
	attempt.UpdatedAt = now
	if err := s.attemptRepo.Update(attempt); err != nil {
		return ErrPaymentUpdateFailed
	}
	return nil
}

func (s *PaymentService) writeCallbackLog(record *models.CallbackLog, log *zap.SugaredLogger) {
	if s.callbackRepo == nil || record == nil {
		return
	}
	if record.Reason == "" {
		record.Reason = constants.CallbackReasonMalformedParams
	}
	if err := s.callbackRepo.Create(record); err != nil {
		log.Errorw("ecpay_callback_log_failed", "error", err)
	}
}

func parsePaymentDate(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	at, err := ecpay.ParseTradeDate(raw, time.Local)
	if err != nil {
		return fallback
	}
	return at
}

func paramsToJSON(params ecpay.Params) models.JSON {
	if params == nil {
		return nil
	}
	out := make(models.JSON, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
