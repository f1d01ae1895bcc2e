package router

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/buymall/buypay/internal/cache"
	"github.com/buymall/buypay/internal/config"
	handlershared "github.com/buymall/buypay/internal/http/handlers/shared"
	publichandlers "github.com/buymall/buypay/internal/http/handlers/public"
	"github.com/buymall/buypay/internal/http/response"
	"github.com/buymall/buypay/internal/logger"
	"github.com/buymall/buypay/internal/models"
	"github.com/buymall/buypay/internal/provider"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 2 * time.Second

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	publicHandler := publichandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "buypay"
	}
	checkoutRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:checkout", redisPrefix),
		WindowSeconds: cfg.Security.CheckoutRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.CheckoutRateLimit.MaxAttempts,
		BlockSeconds:  cfg.Security.CheckoutRateLimit.BlockSeconds,
		MessageKey:    "error.too_many_requests",
	}

	// 中间件
	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	serviceAuth := ServiceTokenMiddleware(c.ServiceTokens)

	apiV1 := r.Group("/api/v1")
	{
		payments := apiV1.Group("/payments")
		{
			// 买家浏览器与绿界直接访问
			payments.GET("/methods", publicHandler.ListPaymentMethods)
			payments.GET("/:trade_no/form", publicHandler.RenderPaymentForm)
			payments.GET("/:trade_no/redirect", publicHandler.RedirectPayment)
			payments.GET("/:trade_no/qrcode", publicHandler.PaymentQRCode)

			// 绿界回调，以检查码验证来源
			payments.POST("/ecpay/notify", publicHandler.ECPayNotify)
			payments.POST("/ecpay/result", publicHandler.ECPayOrderResult)
			payments.POST("/ecpay/payment-info", publicHandler.ECPayPaymentInfo)
		}

		// 商城后端调用
		storefront := apiV1.Group("", serviceAuth)
		{
			storefront.POST("/payments/checkout", RateLimitMiddleware(cache.Client(), checkoutRule, KeyByIP), publicHandler.CreateCheckout)
			storefront.GET("/payments/callbacks", publicHandler.ListPaymentCallbacks)
			storefront.GET("/payments/:trade_no", publicHandler.GetPaymentStatus)
			storefront.POST("/payments/:trade_no/mock-pay", publicHandler.MockPay)
			storefront.GET("/orders/:order_ref/payment", publicHandler.GetOrderPayment)
			storefront.GET("/orders/:order_ref/payments", publicHandler.ListOrderPayments)
		}
	}

	// 健康检查
	r.GET("/healthz", healthCheck)

	r.NoRoute(func(ctx *gin.Context) {
		response.NotFound(ctx, handlershared.Message("error.not_found"))
	})

	return r
}

// healthCheck 数据库不可用视为不健康，redis 未启用不影响
func healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	status := gin.H{"status": "ok", "database": "ok", "redis": "disabled"}
	code := http.StatusOK
	if err := pingDatabase(ctx); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if cache.Enabled() {
		status["redis"] = "ok"
		if err := cache.Ping(ctx); err != nil {
			status["status"] = "degraded"
			status["redis"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	c.JSON(code, status)
}

func pingDatabase(ctx context.Context) error {
	if models.DB == nil {
		return fmt.Errorf("database not initialized")
	}
	sqlDB, err := models.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
