package public

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/buymall/buypay/internal/cache"
	"github.com/buymall/buypay/internal/constants"
	handlershared "github.com/buymall/buypay/internal/http/handlers/shared"
	"github.com/buymall/buypay/internal/http/response"
	"github.com/buymall/buypay/internal/models"
	"github.com/buymall/buypay/internal/payment/ecpay"
	"github.com/buymall/buypay/internal/provider"
	"github.com/buymall/buypay/internal/repository"
	"github.com/buymall/buypay/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type seqReader struct {
	mu   sync.Mutex
	next byte
}

func (r *seqReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range p {
		p[i] = r.next
		r.next++
	}
	return len(p), nil
}

type envelope struct {
	StatusCode int             `json:"status_code"`
	Msg        string          `json:"msg"`
	Data       json.RawMessage `json:"data"`
}

type handlerFixture struct {
	engine *gin.Engine
	signer *ecpay.Signer
	now    time.Time
}

func setupPaymentHandlerTest(t *testing.T, mock bool) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:payment_handler_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}

	now := time.Now().Truncate(time.Second)
	signer, err := ecpay.NewSigner(ecpay.Config{
		Environment: constants.EnvironmentSandbox,
		ReturnURL:   "https://shop.example.com/api/v1/payments/ecpay/notify",
		TradeDesc:   "BUY商城訂單",
	}, ecpay.WithClock(func() time.Time { return now }), ecpay.WithRandom(&seqReader{}))
	if err != nil {
		t.Fatalf("new signer failed: %v", err)
	}
	svc := service.NewPaymentService(
		db,
		signer,
		nil,
		repository.NewPaymentAttemptRepository(db),
		repository.NewCallbackLogRepository(db),
		cache.NewMemoryTradeNoRegistry(time.Hour, nil),
		nil,
		service.PaymentOptions{Expire: 15 * time.Minute, MockEnabled: mock},
	)
	h := New(&provider.Container{Signer: signer, PaymentService: svc})

	engine := gin.New()
	api := engine.Group("/api/v1")
	api.POST("/payments/checkout", h.CreateCheckout)
	api.GET("/payments/methods", h.ListPaymentMethods)
	api.POST("/payments/ecpay/notify", h.ECPayNotify)
	api.POST("/payments/ecpay/result", h.ECPayOrderResult)
	api.POST("/payments/ecpay/payment-info", h.ECPayPaymentInfo)
	api.GET("/payments/callbacks", h.ListPaymentCallbacks)
	api.GET("/payments/:trade_no", h.GetPaymentStatus)
	api.GET("/payments/:trade_no/form", h.RenderPaymentForm)
	api.GET("/payments/:trade_no/redirect", h.RedirectPayment)
	api.GET("/payments/:trade_no/qrcode", h.PaymentQRCode)
	api.POST("/payments/:trade_no/mock-pay", h.MockPay)
	api.GET("/orders/:order_ref/payment", h.GetOrderPayment)
	api.GET("/orders/:order_ref/payments", h.ListOrderPayments)
	return &handlerFixture{engine: engine, signer: signer, now: now}
}

func (f *handlerFixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *handlerFixture) checkout(t *testing.T, body string) (envelope, CheckoutView) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := f.do(t, req)
	env := decodeEnvelope(t, w)
	var view CheckoutView
	if env.StatusCode == response.CodeOK {
		if err := json.Unmarshal(env.Data, &view); err != nil {
			t.Fatalf("decode checkout view failed: %v", err)
		}
	}
	return env, view
}

func (f *handlerFixture) notify(t *testing.T, path string, params ecpay.Params) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.do(t, req)
}

func (f *handlerFixture) paidParams(t *testing.T, view CheckoutView) ecpay.Params {
	t.Helper()
	signed, err := f.signer.SignParams(ecpay.Params{
		ecpay.FieldMerchantID:      f.signer.MerchantID(),
		ecpay.FieldMerchantTradeNo: view.MerchantTradeNo,
		ecpay.FieldRtnCode:         "1",
		ecpay.FieldRtnMsg:          "交易成功",
		ecpay.FieldTradeNo:         "2508201430150001",
		ecpay.FieldTradeAmt:        strconv.FormatInt(view.TotalAmount, 10),
		ecpay.FieldPaymentDate:     ecpay.FormatTradeDate(f.now),
		ecpay.FieldPaymentType:     "Credit_CreditCard",
		ecpay.FieldChargeFee:       "0",
		ecpay.FieldTradeDate:       ecpay.FormatTradeDate(f.now),
		ecpay.FieldSimulatePaid:    "0",
	})
	if err != nil {
		t.Fatalf("sign params failed: %v", err)
	}
	return signed
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected http status: %d body=%s", w.Code, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope failed: %v body=%s", err, w.Body.String())
	}
	return env
}

func TestCreateCheckoutReturnsSignedForm(t *testing.T) {
	f := setupPaymentHandlerTest(t, false)
	env, view := f.checkout(t, `{"order_ref":"ORD-1001","items":[{"name":"T恤","quantity":2,"price":250}],"payment_method_id":1}`)
	if env.StatusCode != response.CodeOK {
		t.Fatalf("unexpected status code: %d msg=%s", env.StatusCode, env.Msg)
	}
	if !strings.HasPrefix(view.MerchantTradeNo, ecpay.DefaultTradePrefix) || len(view.MerchantTradeNo) != 20 {
		t.Fatalf("unexpected trade no: %s", view.MerchantTradeNo)
	}
	if view.TotalAmount != 500 || view.ChoosePayment != "Credit" || view.MethodFallback {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Status != constants.PaymentStatusInitiated || view.Provider != constants.PaymentProviderECPay {
		t.Fatalf("unexpected status/provider: %s/%s", view.Status, view.Provider)
	}
	last := view.FormFields[len(view.FormFields)-1]
	if last.Key != ecpay.FieldCheckMacValue || len(last.Value) != 64 {
		t.Fatalf("checksum should be the last form field: %+v", last)
	}
	if !strings.HasPrefix(view.RedirectURL, view.PaymentURL+"?") {
		t.Fatalf("unexpected redirect url: %s", view.RedirectURL)
	}
}

func TestCreateCheckoutSandboxFallbackMessage(t *testing.T) {
	f := setupPaymentHandlerTest(t, false)
	env, view := f.checkout(t, `{"order_ref":"ORD-1002","total_amount":100,"item_name":"測試商品","payment_method_id":3}`)
	if env.StatusCode != response.CodeOK {
		t.Fatalf("unexpected status code: %d msg=%s", env.StatusCode, env.Msg)
	}
	if !view.MethodFallback || view.ChoosePayment != "Credit" {
		t.Fatalf("expected sandbox fallback to Credit: %+v", view)
	}
	if env.Msg != handlershared.Message("success.payment_method_fallback") {
		t.Fatalf("unexpected msg: %s", env.Msg)
	}
}

func TestCreateCheckoutValidation(t *testing.T) {
	f := setupPaymentHandlerTest(t, false)
	cases := []struct {
		name string
		body string
		code int
	}{
		{"missing order ref", `{"total_amount":100,"item_name":"A"}`, response.CodeBadRequest},
		{"zero amount", `{"order_ref":"ORD-1","item_name":"A"}`, response.CodeBadRequest},
		{"too many custom fields", `{"order_ref":"ORD-1","total_amount":1,"item_name":"A","custom_fields":["1","2","3","4","5"]}`, response.CodeBadRequest},
		{"malformed json", `{"order_ref":`, response.CodeBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, _ := f.checkout(t, tc.body)
			if env.StatusCode != tc.code {
				t.Fatalf("expected code %d, got %d msg=%s", tc.code, env.StatusCode, env.Msg)
			}
		})
	}
}

func TestPaymentFormRedirectAndQRCode(t *testing.T) {
	f := setupPaymentHandlerTest(t, false)
	_, view := f.checkout(t, `{"order_ref":"ORD-2001","total_amount":300,"item_name":"測試商品"}`)

	w := f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+view.MerchantTradeNo+"/form", nil))
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("unexpected form response: %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	body := w.Body.String()
	if !strings.Contains(body, view.MerchantTradeNo) || !strings.Contains(body, ecpay.FieldCheckMacValue) {
		t.Fatalf("form missing fields: %s", body)
	}

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+view.MerchantTradeNo+"/redirect", nil))
	if w.Code != http.StatusFound || w.Header().Get("Location") != view.RedirectURL {
		t.Fatalf("unexpected redirect: %d %s", w.Code, w.Header().Get("Location"))
	}

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+view.MerchantTradeNo+"/qrcode?size=200", nil))
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected qrcode response: %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("qrcode body is not png")
	}
}

func TestPaymentFormUnknownTradeNo(t *testing.T) {
	f := setupPaymentHandlerTest(t, false)
	w := f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/payments/BUY00000000000000000/form", nil))
	env := decodeEnvelope(t, w)
	if env.StatusCode != response.CodeNotFound {
		t.Fatalf("expected not found, got %d", env.StatusCode)
	}
}

func TestECPayNotifyMarksPaid(t *testing.T) {
	f := setupPaymentHandlerTest(t, false)
	_, view := f.checkout(t, `{"order_ref":"ORD-3001","total_amount":880,"item_name":"測試商品"}`)

	w := f.notify(t, "/api/v1/payments/ecpay/notify", f.paidParams(t, view))
	if w.Code != http.StatusOK || w.Body.String() != constants.ECPayCallbackSuccess {
		t.Fatalf("unexpected notify reply: %d %q", w.Code, w.Body.String())
	}

	env := decodeEnvelope(t, f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+view.MerchantTradeNo, nil)))
	var snapshot cache.PaymentStatusSnapshot
	if err := json.Unmarshal(env.Data, &snapshot); err != nil {
		t.Fatalf("decode snapshot failed: %v", err)
	}
	if snapshot.Status != constants.PaymentStatusSuccess || snapshot.GatewayTradeNo != "2508201430150001" {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}

	// 重复通知仍回 1|OK
	w = f.notify(t, "/api/v1/payments/ecpay/notify", f.paidParams(t, view))
	if w.Body.String() != constants.ECPayCallbackSuccess {
		t.Fatalf("duplicate notify should ack: %q", w.Body.String())
	}

	env = decodeEnvelope(t, f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/orders/ORD-3001/payment", nil)))
	if env.StatusCode != response.CodeOK {
		t.Fatalf("unexpected order payment code: %d", env.StatusCode)
	}
}

func TestECPayNotifyRejectsTamperedChecksum(t *testing.T) {
	f := setupPaymentHandlerTest(t, false)
	_, view := f.checkout(t, `{"order_ref":"ORD-3002","total_amount":880,"item_name":"測試商品"}`)
	params := f.paidParams(t, view)
	params[ecpay.FieldTradeAmt] = "1"

	w := f.notify(t, "/api/v1/payments/ecpay/notify", params)
	if !strings.HasPrefix(w.Body.String(), "0|") {
		t.Fatalf("tampered notify should be rejected: %q", w.Body.String())
	}

	env := decodeEnvelope(t, f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+view.MerchantTradeNo, nil)))
	var snapshot cache.PaymentStatusSnapshot
	if err := json.Unmarshal(env.Data, &snapshot); err != nil {
		t.Fatalf("decode snapshot failed: %v", err)
	}
	if snapshot.Status != constants.PaymentStatusInitiated {
		t.Fatalf("status should stay initiated, got %s", snapshot.Status)
	}
}

func TestECPayOrderResult(t *testing.T) {
	f := setupPaymentHandlerTest(t, false)
	_, view := f.checkout(t, `{"order_ref":"ORD-3003","total_amount":120,"item_name":"測試商品"}`)

	env := decodeEnvelope(t, f.notify(t, "/api/v1/payments/ecpay/result", f.paidParams(t, view)))
	if env.StatusCode != response.CodeOK {
		t.Fatalf("unexpected result code: %d msg=%s", env.StatusCode, env.Msg)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode result failed: %v", err)
	}
	if data["status"] != constants.PaymentStatusSuccess {
		t.Fatalf("unexpected result data: %+v", data)
	}

	params := f.paidParams(t, view)
	params[ecpay.FieldCheckMacValue] = strings.Repeat("0", 64)
	env = decodeEnvelope(t, f.notify(t, "/api/v1/payments/ecpay/result", params))
	if env.StatusCode != response.CodeBadRequest {
		t.Fatalf("expected checksum rejection, got %d", env.StatusCode)
	}
}

type pageEnvelope struct {
	StatusCode int                 `json:"status_code"`
	Data       json.RawMessage     `json:"data"`
	Pagination response.Pagination `json:"pagination"`
}

func decodePageEnvelope(t *testing.T, w *httptest.ResponseRecorder) pageEnvelope {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected http status: %d body=%s", w.Code, w.Body.String())
	}
	var env pageEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode page envelope failed: %v body=%s", err, w.Body.String())
	}
	return env
}

func TestECPayPaymentInfoKeepsInitiated(t *testing.T) {
	f := setupPaymentHandlerTest(t, false)
	_, view := f.checkout(t, `{"order_ref":"ORD-3004","total_amount":450,"item_name":"測試商品"}`)

	params := f.paidParams(t, view)
	params[ecpay.FieldRtnCode] = "10100073"
	params[ecpay.FieldRtnMsg] = "Get CVS Code Succeeded."
	params[ecpay.FieldPaymentType] = "CVS_CVS"
	params[ecpay.FieldExpireDate] = ecpay.FormatTradeDate(f.now.Add(72 * time.Hour))
	params[ecpay.FieldPaymentDate] = ""
	params, err := f.signer.SignParams(params)
	if err != nil {
		t.Fatalf("sign params failed: %v", err)
	}

	w := f.notify(t, "/api/v1/payments/ecpay/payment-info", params)
	if w.Code != http.StatusOK || w.Body.String() != constants.ECPayCallbackSuccess {
		t.Fatalf("unexpected payment info reply: %d %q", w.Code, w.Body.String())
	}

	env := decodeEnvelope(t, f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+view.MerchantTradeNo, nil)))
	var snapshot cache.PaymentStatusSnapshot
	if err := json.Unmarshal(env.Data, &snapshot); err != nil {
		t.Fatalf("decode snapshot failed: %v", err)
	}
	if snapshot.Status != constants.PaymentStatusInitiated || snapshot.PaymentType != "CVS_CVS" {
		t.Fatalf("payment info must keep the attempt open: %+v", snapshot)
	}
	if !snapshot.ExpiresAt.Equal(f.now.Add(72 * time.Hour)) {
		t.Fatalf("expires at should follow the code deadline: %v", snapshot.ExpiresAt)
	}

	page := decodePageEnvelope(t, f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/payments/callbacks?merchant_trade_no="+view.MerchantTradeNo+"&source=payment_info", nil)))
	if page.StatusCode != response.CodeOK || page.Pagination.Total != 1 {
		t.Fatalf("unexpected callback page: %+v", page)
	}
}

func TestListOrderPayments(t *testing.T) {
	f := setupPaymentHandlerTest(t, false)
	_, first := f.checkout(t, `{"order_ref":"ORD-5001","total_amount":100,"item_name":"測試商品"}`)
	_, second := f.checkout(t, `{"order_ref":"ORD-5001","total_amount":100,"item_name":"測試商品"}`)

	page := decodePageEnvelope(t, f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/orders/ORD-5001/payments?page=1&page_size=1", nil)))
	if page.StatusCode != response.CodeOK {
		t.Fatalf("unexpected status code: %d", page.StatusCode)
	}
	if page.Pagination != (response.Pagination{Page: 1, PageSize: 1, Total: 2, TotalPage: 2}) {
		t.Fatalf("unexpected pagination: %+v", page.Pagination)
	}
	var snapshots []cache.PaymentStatusSnapshot
	if err := json.Unmarshal(page.Data, &snapshots); err != nil {
		t.Fatalf("decode snapshots failed: %v", err)
	}
	if len(snapshots) != 1 || snapshots[0].MerchantTradeNo != second.MerchantTradeNo || snapshots[0].MerchantTradeNo == first.MerchantTradeNo {
		t.Fatalf("expected newest attempt first: %+v", snapshots)
	}

	env := decodeEnvelope(t, f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/orders/ORD-5001/payments?status=refunded", nil)))
	if env.StatusCode != response.CodeBadRequest {
		t.Fatalf("unknown status should be rejected, got %d", env.StatusCode)
	}
}

func TestListPaymentCallbacks(t *testing.T) {
	f := setupPaymentHandlerTest(t, false)
	_, view := f.checkout(t, `{"order_ref":"ORD-5002","total_amount":660,"item_name":"測試商品"}`)
	f.notify(t, "/api/v1/payments/ecpay/notify", f.paidParams(t, view))

	page := decodePageEnvelope(t, f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/payments/callbacks?gateway_trade_no=2508201430150001&verified=true", nil)))
	if page.StatusCode != response.CodeOK || page.Pagination.Total != 1 {
		t.Fatalf("unexpected callback page: %+v", page)
	}
	var logs []models.CallbackLog
	if err := json.Unmarshal(page.Data, &logs); err != nil {
		t.Fatalf("decode logs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].MerchantTradeNo != view.MerchantTradeNo || logs[0].Source != constants.CallbackSourceNotify {
		t.Fatalf("unexpected logs: %+v", logs)
	}

	cases := []string{
		"/api/v1/payments/callbacks",
		"/api/v1/payments/callbacks?merchant_trade_no=" + view.MerchantTradeNo + "&verified=maybe",
	}
	for _, path := range cases {
		env := decodeEnvelope(t, f.do(t, httptest.NewRequest(http.MethodGet, path, nil)))
		if env.StatusCode != response.CodeBadRequest {
			t.Fatalf("expected bad request for %s, got %d", path, env.StatusCode)
		}
	}
}

func TestMockPay(t *testing.T) {
	f := setupPaymentHandlerTest(t, false)
	_, view := f.checkout(t, `{"order_ref":"ORD-4001","total_amount":50,"item_name":"測試商品"}`)
	env := decodeEnvelope(t, f.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/payments/"+view.MerchantTradeNo+"/mock-pay", nil)))
	if env.StatusCode != response.CodeNotFound {
		t.Fatalf("mock pay should be disabled, got %d", env.StatusCode)
	}

	f = setupPaymentHandlerTest(t, true)
	_, view = f.checkout(t, `{"order_ref":"ORD-4002","total_amount":50,"item_name":"測試商品"}`)
	if view.Provider != constants.PaymentProviderMock {
		t.Fatalf("unexpected provider: %s", view.Provider)
	}
	env = decodeEnvelope(t, f.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/payments/"+view.MerchantTradeNo+"/mock-pay", nil)))
	if env.StatusCode != response.CodeOK {
		t.Fatalf("unexpected mock pay code: %d msg=%s", env.StatusCode, env.Msg)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode mock pay failed: %v", err)
	}
	if data["status"] != constants.PaymentStatusSuccess || data["simulated"] != true {
		t.Fatalf("unexpected mock pay data: %+v", data)
	}
}

func TestListPaymentMethods(t *testing.T) {
	f := setupPaymentHandlerTest(t, false)
	env := decodeEnvelope(t, f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/payments/methods", nil)))
	var data struct {
		Environment string                      `json:"environment"`
		Methods     []service.PaymentMethodView `json:"methods"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode methods failed: %v", err)
	}
	if data.Environment != constants.EnvironmentSandbox || len(data.Methods) != 8 {
		t.Fatalf("unexpected methods: %+v", data)
	}
}

func TestNormalizeQRCodeSize(t *testing.T) {
	cases := map[int]int{0: qrcodeDefaultSize, 50: qrcodeMinSize, 300: 300, 5000: qrcodeMaxSize}
	for in, want := range cases {
		if got := normalizeQRCodeSize(in); got != want {
			t.Fatalf("size %d: expected %d, got %d", in, want, got)
		}
	}
}
