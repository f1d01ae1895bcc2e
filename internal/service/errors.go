package service

import (
	"errors"

	"github.com/buymall/buypay/internal/payment/ecpay"
)

var (
	ErrPaymentInvalid          = errors.New("payment invalid")
	ErrPaymentNotFound         = errors.New("payment not found")
	ErrPaymentAmountInvalid    = errors.New("payment amount invalid")
	ErrPaymentAmountMismatch   = errors.New("payment amount mismatch")
	ErrPaymentMerchantMismatch = errors.New("payment merchant mismatch")
	ErrPaymentCreateFailed     = errors.New("payment create failed")
	ErrPaymentUpdateFailed     = errors.New("payment update failed")
	ErrPaymentRequestTampered  = errors.New("payment request tampered")
	ErrPaymentNotPayable       = errors.New("payment not payable")
	ErrPaymentQueryFailed      = errors.New("payment query failed")
	ErrTradeNoExhausted        = errors.New("merchant trade no exhausted")
	ErrMockDisabled            = errors.New("mock payment disabled")
	ErrServiceTokenInvalid     = errors.New("service token invalid")
	ErrServiceTokenDisabled    = errors.New("service token disabled")
	// ErrChecksumMismatch 回调检查码不符，属确定性错误，不应重试
	ErrChecksumMismatch = ecpay.ErrChecksumMismatch
)
