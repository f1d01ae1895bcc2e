package public

import (
	"errors"

	"github.com/buymall/buypay/internal/http/response"
	"github.com/buymall/buypay/internal/service"

	"github.com/gin-gonic/gin"
)

// mappedHandlerError 定义业务错误到接口错误响应的映射关系。
type mappedHandlerError struct {
	target error
	code   int
	key    string
}

func respondWithMappedError(c *gin.Context, err error, rules []mappedHandlerError, fallbackCode int, fallbackKey string) {
	for _, rule := range rules {
		if errors.Is(err, rule.target) {
			respondError(c, rule.code, rule.key, nil)
			return
		}
	}
	respondError(c, fallbackCode, fallbackKey, err)
}

func concatMappedHandlerErrors(groups ...[]mappedHandlerError) []mappedHandlerError {
	total := 0
	for _, group := range groups {
		total += len(group)
	}
	result := make([]mappedHandlerError, 0, total)
	for _, group := range groups {
		result = append(result, group...)
	}
	return result
}

var paymentLookupErrorRules = []mappedHandlerError{
	{target: service.ErrPaymentInvalid, code: response.CodeBadRequest, key: "error.payment_invalid"},
	{target: service.ErrPaymentNotFound, code: response.CodeNotFound, key: "error.payment_not_found"},
}

var paymentCheckoutErrorRules = concatMappedHandlerErrors(paymentLookupErrorRules, []mappedHandlerError{
	{target: service.ErrPaymentAmountInvalid, code: response.CodeBadRequest, key: "error.payment_amount_invalid"},
	{target: service.ErrTradeNoExhausted, code: response.CodeConflict, key: "error.payment_trade_no_exhausted"},
})

var paymentPayableErrorRules = concatMappedHandlerErrors(paymentLookupErrorRules, []mappedHandlerError{
	{target: service.ErrPaymentNotPayable, code: response.CodeBadRequest, key: "error.payment_not_payable"},
})

// 回调类错误，篡改与不符均属确定性错误
var paymentCallbackErrorRules = concatMappedHandlerErrors(paymentLookupErrorRules, []mappedHandlerError{
	{target: service.ErrChecksumMismatch, code: response.CodeBadRequest, key: "error.payment_checksum_mismatch"},
	{target: service.ErrPaymentAmountMismatch, code: response.CodeBadRequest, key: "error.payment_amount_mismatch"},
	{target: service.ErrPaymentMerchantMismatch, code: response.CodeBadRequest, key: "error.payment_merchant_mismatch"},
})

var paymentMockErrorRules = concatMappedHandlerErrors(paymentCallbackErrorRules, []mappedHandlerError{
	{target: service.ErrMockDisabled, code: response.CodeNotFound, key: "error.payment_mock_disabled"},
})

func respondPaymentCheckoutError(c *gin.Context, err error) {
	respondWithMappedError(c, err, paymentCheckoutErrorRules, response.CodeInternal, "error.payment_create_failed")
}

func respondPaymentLookupError(c *gin.Context, err error) {
	respondWithMappedError(c, err, paymentLookupErrorRules, response.CodeInternal, "error.payment_fetch_failed")
}

// respondPaymentPayableError 篡改属于内部数据问题，按 500 记录原始错误
func respondPaymentPayableError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrPaymentRequestTampered) {
		respondError(c, response.CodeInternal, "error.payment_request_tampered", err)
		return
	}
	respondWithMappedError(c, err, paymentPayableErrorRules, response.CodeInternal, "error.payment_fetch_failed")
}

func respondPaymentCallbackError(c *gin.Context, err error) {
	respondWithMappedError(c, err, paymentCallbackErrorRules, response.CodeInternal, "error.payment_update_failed")
}

func respondPaymentMockError(c *gin.Context, err error) {
	respondWithMappedError(c, err, paymentMockErrorRules, response.CodeInternal, "error.payment_update_failed")
}
