package public

import (
	"strconv"
	"strings"

	"github.com/buymall/buypay/internal/http/response"
	"github.com/buymall/buypay/internal/repository"
	"github.com/buymall/buypay/internal/service"

	"github.com/gin-gonic/gin"
)

// ListOrderPayments 订单的全部支付尝试，最新在前
func (h *Handler) ListOrderPayments(c *gin.Context) {
	page, pageSize := parsePageQuery(c)
	snapshots, total, err := h.PaymentService.ListOrderAttempts(service.OrderAttemptsQuery{
		OrderRef: c.Param("order_ref"),
		Status:   strings.TrimSpace(c.Query("status")),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		respondPaymentLookupError(c, err)
		return
	}
	response.SuccessWithPage(c, snapshots, response.BuildPagination(page, pageSize, total))
}

// ListPaymentCallbacks 回调审计记录，按商店交易编号或绿界交易编号对帐
func (h *Handler) ListPaymentCallbacks(c *gin.Context) {
	page, pageSize := parsePageQuery(c)
	query := service.CallbackLogQuery{
		MerchantTradeNo: strings.TrimSpace(c.Query("merchant_trade_no")),
		GatewayTradeNo:  strings.TrimSpace(c.Query("gateway_trade_no")),
		Source:          strings.TrimSpace(c.Query("source")),
		Page:            page,
		PageSize:        pageSize,
	}
	if raw := strings.TrimSpace(c.Query("verified")); raw != "" {
		verified, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(c, response.CodeBadRequest, "error.bad_request", nil)
			return
		}
		query.Verified = &verified
	}
	logs, total, err := h.PaymentService.ListCallbackLogs(query)
	if err != nil {
		respondPaymentLookupError(c, err)
		return
	}
	response.SuccessWithPage(c, logs, response.BuildPagination(page, pageSize, total))
}

func parsePageQuery(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(repository.DefaultPageSize)))
	return repository.NormalizePagination(page, pageSize)
}
