package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/buymall/buypay/internal/config"
	"github.com/buymall/buypay/internal/http/response"
	"github.com/buymall/buypay/internal/models"
	"github.com/buymall/buypay/internal/provider"
	"github.com/buymall/buypay/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupRouterTest(t *testing.T) *gin.Engine {
	t.Helper()
	return setupRouterTestWith(t, nil)
}

func setupRouterTestWith(t *testing.T, configure func(*config.Config, *provider.Container)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:router_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	prev := models.DB
	models.DB = db
	t.Cleanup(func() { models.DB = prev })

	cfg := &config.Config{}
	cfg.Server.Mode = "debug"
	container := &provider.Container{Config: cfg}
	if configure != nil {
		configure(cfg, container)
	}
	return SetupRouter(cfg, container)
}

func TestStorefrontRoutesRequireServiceToken(t *testing.T) {
	r := setupRouterTestWith(t, func(cfg *config.Config, c *provider.Container) {
		cfg.Security.ServiceToken = config.ServiceTokenConfig{Secret: "0123456789abcdef0123456789abcdef", Issuer: "buymall-storefront"}
		c.ServiceTokens = service.NewServiceTokenService(cfg.Security.ServiceToken, nil)
	})

	for _, path := range []string{
		"/api/v1/payments/BY20250820143015AB12",
		"/api/v1/orders/ORD-1/payment",
		"/api/v1/orders/ORD-1/payments",
		"/api/v1/payments/callbacks?merchant_trade_no=BY20250820143015AB12",
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		var resp struct {
			StatusCode int `json:"status_code"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response failed: %v", err)
		}
		if resp.StatusCode != response.CodeUnauthorized {
			t.Fatalf("%s: status_code want 401 got %d", path, resp.StatusCode)
		}
	}
}

func TestHealthz(t *testing.T) {
	r := setupRouterTest(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status want 200 got %d body=%s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response failed: %v", err)
	}
	if resp["status"] != "ok" || resp["redis"] != "disabled" {
		t.Fatalf("unexpected health response: %+v", resp)
	}
}

func TestNoRouteUsesEnvelope(t *testing.T) {
	r := setupRouterTest(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil))
	var resp struct {
		StatusCode int `json:"status_code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response failed: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Fatalf("status_code want 404 got %d", resp.StatusCode)
	}
}

func TestPaymentRoutesRegistered(t *testing.T) {
	r := setupRouterTest(t)
	want := map[string]bool{
		"POST /api/v1/payments/checkout":           false,
		"GET /api/v1/payments/methods":             false,
		"GET /api/v1/payments/callbacks":           false,
		"POST /api/v1/payments/ecpay/notify":       false,
		"POST /api/v1/payments/ecpay/result":       false,
		"POST /api/v1/payments/ecpay/payment-info": false,
		"GET /api/v1/payments/:trade_no":           false,
		"GET /api/v1/payments/:trade_no/form":      false,
		"GET /api/v1/payments/:trade_no/redirect":  false,
		"GET /api/v1/payments/:trade_no/qrcode":    false,
		"POST /api/v1/payments/:trade_no/mock-pay": false,
		"GET /api/v1/orders/:order_ref/payment":    false,
		"GET /api/v1/orders/:order_ref/payments":   false,
		"GET /healthz":                             false,
	}
	for _, route := range r.Routes() {
		key := route.Method + " " + route.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for key, found := range want {
		if !found {
			t.Fatalf("route %s not registered", key)
		}
	}
}
