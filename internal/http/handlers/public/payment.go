package public

import (
	"net/http"
	"strings"
	"time"

	handlershared "github.com/buymall/buypay/internal/http/handlers/shared"
	"github.com/buymall/buypay/internal/http/response"
	"github.com/buymall/buypay/internal/models"
	"github.com/buymall/buypay/internal/payment/ecpay"
	"github.com/buymall/buypay/internal/service"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	qrcodeDefaultSize = 256
	qrcodeMinSize     = 128
	qrcodeMaxSize     = 1024
)

// CheckoutItemRequest 结账商品
type CheckoutItemRequest struct {
	Name     string `json:"name" binding:"required"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

// CreateCheckoutRequest 创建结账请求
type CreateCheckoutRequest struct {
	OrderRef        string                `json:"order_ref" binding:"required"`
	TotalAmount     int64                 `json:"total_amount"`
	ItemName        string                `json:"item_name"`
	Items           []CheckoutItemRequest `json:"items" binding:"dive"`
	TradeDesc       string                `json:"trade_desc"`
	PaymentMethodID int                   `json:"payment_method_id"`
	ClientBackURL   string                `json:"client_back_url"`
	OrderResultURL  string                `json:"order_result_url"`
	CustomFields    []string              `json:"custom_fields" binding:"max=4"`
}

// QRCodeQuery QR Code 查询参数
type QRCodeQuery struct {
	Size int `form:"size"`
}

// CheckoutFieldView 送出栏位，保持签章时的顺序
type CheckoutFieldView struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CheckoutView 结账响应
type CheckoutView struct {
	MerchantTradeNo string              `json:"merchant_trade_no"`
	OrderRef        string              `json:"order_ref"`
	Status          string              `json:"status"`
	Provider        string              `json:"provider"`
	Environment     string              `json:"environment"`
	TotalAmount     int64               `json:"total_amount"`
	ChoosePayment   string              `json:"choose_payment"`
	MethodFallback  bool                `json:"method_fallback"`
	FallbackReason  string              `json:"fallback_reason,omitempty"`
	PaymentURL      string              `json:"payment_url"`
	RedirectURL     string              `json:"redirect_url"`
	FormURL         string              `json:"form_url"`
	FormFields      []CheckoutFieldView `json:"form_fields"`
	ExpiresAt       time.Time           `json:"expires_at"`
}

// CreateCheckout 创建绿界结账
func (h *Handler) CreateCheckout(c *gin.Context) {
	var req CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}

	input := service.CreateCheckoutInput{
		OrderRef:        req.OrderRef,
		TotalAmount:     req.TotalAmount,
		ItemName:        req.ItemName,
		TradeDesc:       req.TradeDesc,
		PaymentMethodID: req.PaymentMethodID,
		ClientBackURL:   req.ClientBackURL,
		OrderResultURL:  req.OrderResultURL,
		ClientIP:        c.ClientIP(),
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, service.CheckoutItem{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    item.Price,
		})
	}
	copy(input.CustomFields[:], req.CustomFields)

	result, err := h.PaymentService.CreateCheckout(c.Request.Context(), input)
	if err != nil {
		respondPaymentCheckoutError(c, err)
		return
	}

	view := buildCheckoutView(result.Attempt, result.Request)
	if result.MethodFallback {
		response.SuccessWithMsg(c, handlershared.Message("success.payment_method_fallback"), view)
		return
	}
	response.Success(c, view)
}

// ListPaymentMethods 列出付款方式
func (h *Handler) ListPaymentMethods(c *gin.Context) {
	response.Success(c, gin.H{
		"environment": h.PaymentService.Environment(),
		"mock":        h.PaymentService.MockEnabled(),
		"methods":     h.PaymentService.ListMethods(),
	})
}

// GetPaymentStatus 查询交易状态
func (h *Handler) GetPaymentStatus(c *gin.Context) {
	snapshot, err := h.PaymentService.GetStatus(c.Request.Context(), c.Param("trade_no"))
	if err != nil {
		respondPaymentLookupError(c, err)
		return
	}
	response.Success(c, snapshot)
}

// GetOrderPayment 查询订单最近一次支付
func (h *Handler) GetOrderPayment(c *gin.Context) {
	snapshot, err := h.PaymentService.GetLatestByOrderRef(c.Request.Context(), c.Param("order_ref"))
	if err != nil {
		respondPaymentLookupError(c, err)
		return
	}
	response.Success(c, snapshot)
}

// RenderPaymentForm 输出自动提交到绿界的表单页
func (h *Handler) RenderPaymentForm(c *gin.Context) {
	_, req, ok := h.loadPayableRequest(c)
	if !ok {
		return
	}
	page, err := req.RenderForm()
	if err != nil {
		respondError(c, response.CodeInternal, "error.internal", err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
}

// RedirectPayment 以 GET 方式跳转至绿界付款页
func (h *Handler) RedirectPayment(c *gin.Context) {
	_, req, ok := h.loadPayableRequest(c)
	if !ok {
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusFound, req.RedirectURL())
}

// PaymentQRCode 输出跳转地址的 QR Code
func (h *Handler) PaymentQRCode(c *gin.Context) {
	var query QRCodeQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	_, req, ok := h.loadPayableRequest(c)
	if !ok {
		return
	}
	png, err := qrcode.Encode(req.RedirectURL(), qrcode.Medium, normalizeQRCodeSize(query.Size))
	if err != nil {
		respondError(c, response.CodeInternal, "error.qrcode_failed", err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// MockPay 模拟付款成功，仅在开启模拟模式时可用
func (h *Handler) MockPay(c *gin.Context) {
	tradeNo := strings.TrimSpace(c.Param("trade_no"))
	outcome, err := h.PaymentService.SimulatePaid(c.Request.Context(), tradeNo)
	if err != nil {
		respondPaymentMockError(c, err)
		return
	}
	requestLog(c).Infow("payment_mock_pay_done",
		"merchant_trade_no", tradeNo,
		"changed", outcome.Changed,
		"status", outcome.Attempt.Status,
	)
	response.Success(c, gin.H{
		"merchant_trade_no": outcome.Attempt.MerchantTradeNo,
		"previous_status":   outcome.Previous,
		"status":            outcome.Attempt.Status,
		"changed":           outcome.Changed,
		"simulated":         outcome.Attempt.Simulated,
	})
}

func (h *Handler) loadPayableRequest(c *gin.Context) (*models.PaymentAttempt, *ecpay.OutboundRequest, bool) {
	attempt, req, err := h.PaymentService.GetPayableRequest(c.Request.Context(), c.Param("trade_no"))
	if err != nil {
		respondPaymentPayableError(c, err)
		return nil, nil, false
	}
	return attempt, req, true
}

func buildCheckoutView(attempt *models.PaymentAttempt, req *ecpay.OutboundRequest) CheckoutView {
	fields := make([]CheckoutFieldView, 0, len(req.Fields))
	for _, f := range req.Fields {
		fields = append(fields, CheckoutFieldView{Key: f.Key, Value: f.Value})
	}
	return CheckoutView{
		MerchantTradeNo: attempt.MerchantTradeNo,
		OrderRef:        attempt.OrderRef,
		Status:          attempt.Status,
		Provider:        attempt.Provider,
		Environment:     attempt.Environment,
		TotalAmount:     attempt.TotalAmount,
		ChoosePayment:   attempt.ChoosePayment,
		MethodFallback:  attempt.MethodFallback,
		FallbackReason:  attempt.FallbackReason,
		PaymentURL:      req.URL,
		RedirectURL:     req.RedirectURL(),
		FormURL:         "/api/v1/payments/" + attempt.MerchantTradeNo + "/form",
		FormFields:      fields,
		ExpiresAt:       attempt.ExpiresAt,
	}
}

func normalizeQRCodeSize(size int) int {
	switch {
	case size <= 0:
		return qrcodeDefaultSize
	case size < qrcodeMinSize:
		return qrcodeMinSize
	case size > qrcodeMaxSize:
		return qrcodeMaxSize
	}
	return size
}
