package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/buymall/buypay/internal/cache"
	"github.com/buymall/buypay/internal/constants"
	"github.com/buymall/buypay/internal/logger"
	"github.com/buymall/buypay/internal/models"
	"github.com/buymall/buypay/internal/payment/ecpay"
	"github.com/buymall/buypay/internal/queue"
	"github.com/buymall/buypay/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// maxTradeNoAttempts 交易编号冲突时的最大生成次数
	maxTradeNoAttempts = 5
	// itemNameSeparator 绿界多商品名称分隔符
	itemNameSeparator    = "#"
	defaultPaymentExpire = 15 * time.Minute
)

// TradeQuerier 绿界订单查询
type TradeQuerier interface {
	QueryTradeInfo(ctx context.Context, merchantTradeNo string) (*ecpay.TradeInfo, error)
}

// PaymentOptions 支付服务运行参数
type PaymentOptions struct {
	Expire      time.Duration
	MockEnabled bool
}

// PaymentService 绿界结账服务
type PaymentService struct {
	signer       *ecpay.Signer
	querier      TradeQuerier
	attemptRepo  repository.PaymentAttemptRepository
	callbackRepo repository.CallbackLogRepository
	registry     cache.TradeNoRegistry
	queueClient  *queue.Client
	db           *gorm.DB
	expire       time.Duration
	mockEnabled  bool
}

// NewPaymentService 创建支付服务；querier 为 nil 时过期处理不查询绿界
func NewPaymentService(db *gorm.DB, signer *ecpay.Signer, querier TradeQuerier, attemptRepo repository.PaymentAttemptRepository, callbackRepo repository.CallbackLogRepository, registry cache.TradeNoRegistry, queueClient *queue.Client, options PaymentOptions) *PaymentService {
	expire := options.Expire
	if expire <= 0 {
		expire = defaultPaymentExpire
	}
	if registry == nil {
		registry = cache.NewMemoryTradeNoRegistry(cache.DefaultTradeNoTTL, nil)
	}
	return &PaymentService{
		signer:       signer,
		querier:      querier,
		attemptRepo:  attemptRepo,
		callbackRepo: callbackRepo,
		registry:     registry,
		queueClient:  queueClient,
		db:           db,
		expire:       expire,
		mockEnabled:  options.MockEnabled,
	}
}

func paymentLogger(kv ...interface{}) *zap.SugaredLogger {
	if len(kv) == 0 {
		return logger.S()
	}
	return logger.SW(kv...)
}

// MockEnabled 是否开启模拟付款
func (s *PaymentService) MockEnabled() bool {
	return s.mockEnabled
}

// Environment 当前绿界环境
func (s *PaymentService) Environment() string {
	return s.signer.Environment()
}

// CheckoutItem 结账商品
type CheckoutItem struct {
	Name     string
	Quantity int
	Price    int64
}

// CreateCheckoutInput 创建结账请求
type CreateCheckoutInput struct {
	OrderRef        string
	TotalAmount     int64
	ItemName        string
	Items           []CheckoutItem
	TradeDesc       string
	PaymentMethodID int
	ClientBackURL   string
	OrderResultURL  string
	CustomFields    [4]string
	ClientIP        string
}

// CheckoutResult 创建结账结果
type CheckoutResult struct {
	Attempt        *models.PaymentAttempt
	Request        *ecpay.OutboundRequest
	Method         ecpay.MethodResolution
	MethodFallback bool
}

// CreateCheckout 生成唯一交易编号、签章并保存支付尝试
func (s *PaymentService) CreateCheckout(ctx context.Context, input CreateCheckoutInput) (*CheckoutResult, error) {
	orderRef := strings.TrimSpace(input.OrderRef)
	if orderRef == "" {
		return nil, fmt.Errorf("%w: order ref is required", ErrPaymentInvalid)
	}
	itemName := strings.TrimSpace(input.ItemName)
	if itemName == "" {
		itemName = joinItemNames(input.Items)
	}
	if itemName == "" {
		return nil, fmt.Errorf("%w: item name is required", ErrPaymentInvalid)
	}
	amount := input.TotalAmount
	if amount <= 0 {
		amount = sumItems(input.Items)
	}
	if amount <= 0 {
		return nil, ErrPaymentAmountInvalid
	}

	method := s.signer.ResolveMethod(input.PaymentMethodID)
	log := paymentLogger(
		"order_ref", orderRef,
		"total_amount", amount,
		"payment_method_id", input.PaymentMethodID,
		"choose_payment", method.Code,
		"client_ip", input.ClientIP,
	)
	if method.Fallback {
		log.Warnw("ecpay_payment_method_fallback", "fallback_reason", method.Reason)
	}

	provider := constants.PaymentProviderECPay
	if s.mockEnabled {
		provider = constants.PaymentProviderMock
	}

	var (
		attempt *models.PaymentAttempt
		request *ecpay.OutboundRequest
	)
	for i := 0; i < maxTradeNoAttempts && attempt == nil; i++ {
		tradeNo := s.signer.GenerateTradeNumber(orderRef)
		reserved, err := s.registry.Reserve(ctx, tradeNo)
		if err != nil {
			log.Warnw("trade_no_reserve_failed", "merchant_trade_no", tradeNo, "error", err)
		} else if !reserved {
			log.Warnw("trade_no_collision", "merchant_trade_no", tradeNo, "source", "registry", "retry", i+1)
			continue
		}

		now := s.signer.Now()
		req, err := s.signer.BuildOutboundRequest(ecpay.CheckoutFields{
			MerchantTradeNo:   tradeNo,
			MerchantTradeDate: ecpay.FormatTradeDate(now),
			TotalAmount:       amount,
			TradeDesc:         input.TradeDesc,
			ItemName:          itemName,
			ChoosePayment:     method.Code,
			ClientBackURL:     input.ClientBackURL,
			OrderResultURL:    input.OrderResultURL,
			CustomFields:      input.CustomFields,
		})
		if err != nil {
			log.Warnw("checkout_build_failed", "error", err)
			return nil, fmt.Errorf("%w: %v", ErrPaymentInvalid, err)
		}

		candidate := &models.PaymentAttempt{
			OrderRef:        orderRef,
			MerchantTradeNo: tradeNo,
			Provider:        provider,
			Environment:     s.signer.Environment(),
			MerchantID:      s.signer.MerchantID(),
			PaymentMethodID: input.PaymentMethodID,
			ChoosePayment:   method.Code,
			MethodFallback:  method.Fallback,
			FallbackReason:  method.Reason,
			TotalAmount:     amount,
			ItemName:        req.Field(ecpay.FieldItemName),
			TradeDesc:       req.Field(ecpay.FieldTradeDesc),
			Status:          constants.PaymentStatusInitiated,
			CheckMacValue:   req.Field(ecpay.FieldCheckMacValue),
			SignedFields:    toFieldList(req.Fields),
			ChargeFee:       models.NewMoneyFromDecimal(decimal.Zero),
			ExpiresAt:       now.Add(s.expire),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.attemptRepo.Create(candidate); err != nil {
			if repository.IsUniqueViolation(err) {
				log.Warnw("trade_no_collision", "merchant_trade_no", tradeNo, "source", "unique_index", "retry", i+1)
				continue
			}
			log.Errorw("checkout_attempt_create_failed", "merchant_trade_no", tradeNo, "error", err)
			return nil, ErrPaymentCreateFailed
		}
		attempt = candidate
		request = req
	}
	if attempt == nil {
		log.Errorw("trade_no_exhausted", "attempts", maxTradeNoAttempts)
		return nil, ErrTradeNoExhausted
	}

	s.enqueueTimeoutExpire(attempt, log)
	s.cacheStatus(ctx, attempt)
	log.Infow("checkout_created",
		"merchant_trade_no", attempt.MerchantTradeNo,
		"provider", attempt.Provider,
		"method_fallback", method.Fallback,
		"expires_at", attempt.ExpiresAt,
	)
	return &CheckoutResult{
		Attempt:        attempt,
		Request:        request,
		Method:         method,
		MethodFallback: method.Fallback,
	}, nil
}

// RebuildRequest 由保存的栏位重建送出请求；重算检查码须与保存值一致
func (s *PaymentService) RebuildRequest(attempt *models.PaymentAttempt) (*ecpay.OutboundRequest, error) {
	if attempt == nil || len(attempt.SignedFields) == 0 {
		return nil, ErrPaymentInvalid
	}
	fields := make([]ecpay.Field, 0, len(attempt.SignedFields))
	for _, f := range attempt.SignedFields {
		if f.Key == ecpay.FieldCheckMacValue {
			continue
		}
		fields = append(fields, ecpay.Field{Key: f.Key, Value: f.Value})
	}
	computed, err := s.signer.Checksum(ecpay.ParamsFromFields(fields))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentRequestTampered, err)
	}
	stored := attempt.SignedFields.Get(ecpay.FieldCheckMacValue)
	if computed != attempt.CheckMacValue || computed != stored {
		paymentLogger("merchant_trade_no", attempt.MerchantTradeNo).Errorw("checkout_request_tampered",
			"stored_checksum", attempt.CheckMacValue,
			"computed_checksum", computed,
		)
		return nil, ErrPaymentRequestTampered
	}
	fields = append(fields, ecpay.Field{Key: ecpay.FieldCheckMacValue, Value: computed})
	return &ecpay.OutboundRequest{URL: s.signer.Config().PaymentURL, Fields: fields}, nil
}

// GetPayableRequest 获取仍可付款的交易请求
func (s *PaymentService) GetPayableRequest(ctx context.Context, tradeNo string) (*models.PaymentAttempt, *ecpay.OutboundRequest, error) {
	attempt, err := s.getAttemptByTradeNo(tradeNo)
	if err != nil {
		return nil, nil, err
	}
	if attempt.Status != constants.PaymentStatusInitiated || !s.signer.Now().Before(attempt.ExpiresAt) {
		return attempt, nil, ErrPaymentNotPayable
	}
	request, err := s.RebuildRequest(attempt)
	if err != nil {
		return attempt, nil, err
	}
	return attempt, request, nil
}

func (s *PaymentService) getAttemptByTradeNo(tradeNo string) (*models.PaymentAttempt, error) {
	tradeNo = strings.TrimSpace(tradeNo)
	if tradeNo == "" {
		return nil, ErrPaymentInvalid
	}
	attempt, err := s.attemptRepo.GetByTradeNo(tradeNo)
	if err != nil {
		paymentLogger("merchant_trade_no", tradeNo).Errorw("payment_attempt_fetch_failed", "error", err)
		return nil, ErrPaymentUpdateFailed
	}
	if attempt == nil {
		return nil, ErrPaymentNotFound
	}
	return attempt, nil
}

func (s *PaymentService) enqueueTimeoutExpire(attempt *models.PaymentAttempt, log *zap.SugaredLogger) {
	if s.queueClient == nil || !s.queueClient.Enabled() {
		return
	}
	delay := attempt.ExpiresAt.Sub(s.signer.Now())
	err := s.queueClient.EnqueuePaymentTimeoutExpire(queue.PaymentTimeoutExpirePayload{
		AttemptID:       attempt.ID,
		MerchantTradeNo: attempt.MerchantTradeNo,
	}, delay)
	if err != nil {
		// 定时扫描会兜底
		log.Warnw("payment_timeout_enqueue_failed", "merchant_trade_no", attempt.MerchantTradeNo, "error", err)
	}
}

func toFieldList(fields []ecpay.Field) models.FieldList {
	out := make(models.FieldList, 0, len(fields))
	for _, f := range fields {
		out = append(out, models.FieldPair{Key: f.Key, Value: f.Value})
	}
	return out
}

// joinItemNames 组合多商品名称，超过长度上限时按字元截断
func joinItemNames(items []CheckoutItem) string {
	names := make([]string, 0, len(items))
	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			continue
		}
		name = strings.ReplaceAll(name, itemNameSeparator, " ")
		if item.Quantity > 1 {
			name = fmt.Sprintf("%s x %d", name, item.Quantity)
		}
		names = append(names, name)
	}
	joined := strings.Join(names, itemNameSeparator)
	for len(joined) > ecpay.MaxItemNameLength {
		_, size := utf8.DecodeLastRuneInString(joined)
		joined = joined[:len(joined)-size]
	}
	return joined
}

func sumItems(items []CheckoutItem) int64 {
	var total int64
	for _, item := range items {
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		total += item.Price * int64(qty)
	}
	return total
}
