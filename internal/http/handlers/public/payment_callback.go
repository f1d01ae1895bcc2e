package public

import (
	"net/http"
	"strings"

	"github.com/buymall/buypay/internal/constants"
	"github.com/buymall/buypay/internal/http/response"
	"github.com/buymall/buypay/internal/payment/ecpay"
	"github.com/buymall/buypay/internal/service"

	"github.com/gin-gonic/gin"
)

const callbackLogValueLimit = 512

// ECPayNotify 处理绿界服务端通知（ReturnURL），应答 1|OK 或 0|原因
func (h *Handler) ECPayNotify(c *gin.Context) {
	h.handleGatewayNotify(c, constants.CallbackSourceNotify)
}

// ECPayPaymentInfo 处理 ATM、超商代码取号通知（PaymentInfoURL），应答格式同 ReturnURL
func (h *Handler) ECPayPaymentInfo(c *gin.Context) {
	h.handleGatewayNotify(c, constants.CallbackSourceInfo)
}

func (h *Handler) handleGatewayNotify(c *gin.Context, source string) {
	form, err := parseCallbackForm(c)
	if err != nil {
		requestLog(c).Warnw("ecpay_notify_parse_failed", "source", source, "client_ip", c.ClientIP(), "error", err)
		c.String(http.StatusOK, ecpay.CallbackAck(err))
		return
	}
	requestLog(c).Infow("ecpay_notify_received",
		"source", source,
		"client_ip", c.ClientIP(),
		"content_type", strings.TrimSpace(c.GetHeader("Content-Type")),
		"merchant_trade_no", truncateCallbackLogValue(getFirstValue(form, ecpay.FieldMerchantTradeNo)),
		"field_count", len(form),
	)
	outcome, err := h.PaymentService.HandleCallback(c.Request.Context(), service.CallbackInput{
		Params:   ecpay.ParamsFromForm(form),
		ClientIP: c.ClientIP(),
		Source:   source,
	})
	if err != nil {
		requestLog(c).Warnw("ecpay_notify_rejected", "source", source, "error", err)
		c.String(http.StatusOK, ecpay.CallbackAck(err))
		return
	}
	requestLog(c).Infow("ecpay_notify_done",
		"source", source,
		"merchant_trade_no", outcome.Attempt.MerchantTradeNo,
		"status", outcome.Attempt.Status,
		"changed", outcome.Changed,
	)
	c.String(http.StatusOK, ecpay.CallbackAck(nil))
}

// ECPayOrderResult 处理浏览器经 OrderResultURL 带回的结果，校验后返回交易状态
func (h *Handler) ECPayOrderResult(c *gin.Context) {
	form, err := parseCallbackForm(c)
	if err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	outcome, err := h.PaymentService.HandleCallback(c.Request.Context(), service.CallbackInput{
		Params:   ecpay.ParamsFromForm(form),
		ClientIP: c.ClientIP(),
		Source:   constants.CallbackSourceResult,
	})
	if err != nil {
		respondPaymentCallbackError(c, err)
		return
	}
	attempt := outcome.Attempt
	response.Success(c, gin.H{
		"merchant_trade_no": attempt.MerchantTradeNo,
		"order_ref":         attempt.OrderRef,
		"status":            attempt.Status,
		"total_amount":      attempt.TotalAmount,
		"payment_type":      attempt.PaymentType,
		"rtn_code":          outcome.Result.RtnCode,
		"rtn_msg":           outcome.Result.RtnMsg,
		"paid_at":           attempt.PaidAt,
	})
}

func parseCallbackForm(c *gin.Context) (map[string][]string, error) {
	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	if len(c.Request.PostForm) > 0 {
		return c.Request.PostForm, nil
	}
	return c.Request.Form, nil
}

func getFirstValue(form map[string][]string, key string) string {
	if values, ok := form[key]; ok && len(values) > 0 {
		return values[0]
	}
	return ""
}

func truncateCallbackLogValue(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) <= callbackLogValueLimit {
		return raw
	}
	return raw[:callbackLogValueLimit] + "...(truncated)"
}
