package ecpay

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/buymall/buypay/internal/constants"
)

// Signer 绿界请求签章器，无共享可变状态，可并发使用
type Signer struct {
	cfg Config
	now func() time.Time
	rnd io.Reader
}

// Option 签章器选项
type Option func(*Signer)

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRandom 替换随机源（测试用）
func WithRandom(rnd io.Reader) Option {
	return func(s *Signer) {
		s.rnd = rnd
	}
}

// NewSigner 创建签章器，凭证不完整时直接失败
func NewSigner(cfg Config, opts ...Option) (*Signer, error) {
	cfg.Normalize()
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	s := &Signer{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config 返回规范化后的配置副本
func (s *Signer) Config() Config {
	return s.cfg
}

// Environment 当前环境
func (s *Signer) Environment() string {
	return s.cfg.Environment
}

// MerchantID 商店代号
func (s *Signer) MerchantID() string {
	return s.cfg.MerchantID
}

// Now 签章器时钟
func (s *Signer) Now() time.Time {
	return s.now()
}

// GenerateTradeNumber 生成商店交易编号；订单号不参与生成
func (s *Signer) GenerateTradeNumber(_ string) string {
	return GenerateTradeNumber(s.cfg.TradePrefix, s.now(), s.rnd)
}

// ResolveMethod 解析平台付款方式
func (s *Signer) ResolveMethod(paymentMethodID int) MethodResolution {
	return s.cfg.Methods.Resolve(paymentMethodID)
}

// Checksum 使用本商店密钥计算检查码
func (s *Signer) Checksum(params Params) (string, error) {
	return ComputeChecksum(params, s.cfg.HashKey, s.cfg.HashIV)
}

// CheckoutFields 调用方提供的交易栏位
type CheckoutFields struct {
	MerchantTradeNo   string
	MerchantTradeDate string
	TotalAmount       int64
	TradeDesc         string
	ItemName          string
	ChoosePayment     string
	ReturnURL         string
	ClientBackURL     string
	OrderResultURL    string
	PaymentInfoURL    string
	NeedExtraPaidInfo string
	IgnorePayment     string
	PlatformID        string
	CustomFields      [4]string
}

// OutboundRequest 已签章的结账请求
type OutboundRequest struct {
	URL    string
	Fields []Field
}

// BuildOutboundRequest 合并商店固定参数、计算检查码并作为最后一个栏位附加
func (s *Signer) BuildOutboundRequest(input CheckoutFields) (*OutboundRequest, error) {
	if input.TotalAmount <= 0 {
		return nil, fmt.Errorf("%w: total amount must be positive", ErrParamInvalid)
	}
	itemName := strings.TrimSpace(input.ItemName)
	if itemName == "" {
		return nil, fmt.Errorf("%w: item name is required", ErrParamInvalid)
	}
	if len(itemName) > MaxItemNameLength {
		return nil, fmt.Errorf("%w: item name too long", ErrParamInvalid)
	}
	tradeDesc := strings.TrimSpace(input.TradeDesc)
	if tradeDesc == "" {
		tradeDesc = strings.TrimSpace(s.cfg.TradeDesc)
	}
	if tradeDesc == "" {
		tradeDesc = itemName
	}
	if len(tradeDesc) > MaxTradeDescLength {
		return nil, fmt.Errorf("%w: trade desc too long", ErrParamInvalid)
	}
	tradeNo := strings.TrimSpace(input.MerchantTradeNo)
	if tradeNo == "" {
		tradeNo = s.GenerateTradeNumber("")
	}
	if !isValidTradeNo(tradeNo) {
		return nil, fmt.Errorf("%w: merchant trade no %q", ErrParamInvalid, tradeNo)
	}
	tradeDate := strings.TrimSpace(input.MerchantTradeDate)
	if tradeDate == "" {
		tradeDate = FormatTradeDate(s.now())
	} else if _, err := ParseTradeDate(tradeDate, time.Local); err != nil {
		return nil, fmt.Errorf("%w: merchant trade date %q", ErrParamInvalid, tradeDate)
	}
	choose := strings.TrimSpace(input.ChoosePayment)
	if choose == "" {
		choose = ChoosePaymentAll
	}
	returnURL := firstNonEmpty(input.ReturnURL, s.cfg.ReturnURL)

	fields := []Field{
		{Key: FieldMerchantID, Value: s.cfg.MerchantID},
		{Key: FieldMerchantTradeNo, Value: tradeNo},
		{Key: FieldMerchantTradeDate, Value: tradeDate},
		{Key: FieldPaymentType, Value: PaymentTypeAIO},
		{Key: FieldTotalAmount, Value: strconv.FormatInt(input.TotalAmount, 10)},
		{Key: FieldTradeDesc, Value: tradeDesc},
		{Key: FieldItemName, Value: itemName},
		{Key: FieldReturnURL, Value: returnURL},
		{Key: FieldChoosePayment, Value: choose},
	}
	optional := []Field{
		{Key: FieldClientBackURL, Value: firstNonEmpty(input.ClientBackURL, s.cfg.ClientBackURL)},
		{Key: FieldOrderResultURL, Value: firstNonEmpty(input.OrderResultURL, s.cfg.OrderResultURL)},
		{Key: FieldPaymentInfoURL, Value: firstNonEmpty(input.PaymentInfoURL, s.cfg.PaymentInfoURL)},
		{Key: FieldNeedExtraPaidInfo, Value: strings.TrimSpace(input.NeedExtraPaidInfo)},
		{Key: FieldIgnorePayment, Value: strings.TrimSpace(input.IgnorePayment)},
		{Key: FieldPlatformID, Value: strings.TrimSpace(input.PlatformID)},
		{Key: FieldCustomField1, Value: input.CustomFields[0]},
		{Key: FieldCustomField2, Value: input.CustomFields[1]},
		{Key: FieldCustomField3, Value: input.CustomFields[2]},
		{Key: FieldCustomField4, Value: input.CustomFields[3]},
	}
	for _, f := range optional {
		if f.Value != "" {
			fields = append(fields, f)
		}
	}
	fields = append(fields, Field{Key: FieldEncryptType, Value: EncryptTypeSHA256})

	checksum, err := s.Checksum(ParamsFromFields(fields))
	if err != nil {
		return nil, err
	}
	fields = append(fields, Field{Key: FieldCheckMacValue, Value: checksum})
	return &OutboundRequest{URL: s.cfg.PaymentURL, Fields: fields}, nil
}

// SignParams 对任意参数集签章并返回带 CheckMacValue 的副本
func (s *Signer) SignParams(params Params) (Params, error) {
	checksum, err := s.Checksum(params)
	if err != nil {
		return nil, err
	}
	signed := params.Clone()
	signed[FieldCheckMacValue] = checksum
	return signed, nil
}

// Verification 回调校验明细
type Verification struct {
	Valid    bool
	Reason   string
	Received string
	Computed string
}

// VerifyCallbackDetail 取出回调的 CheckMacValue，以相同算法重算后不区分大小写比对
func (s *Signer) VerifyCallbackDetail(params Params) Verification {
	if len(params) == 0 {
		return Verification{Reason: constants.CallbackReasonEmptyParams}
	}
	received := strings.TrimSpace(params[FieldCheckMacValue])
	if received == "" {
		return Verification{Reason: constants.CallbackReasonMissingChecksum}
	}
	computed, err := s.Checksum(params)
	if err != nil {
		return Verification{Reason: constants.CallbackReasonMalformedParams, Received: received}
	}
	if !strings.EqualFold(received, computed) {
		return Verification{
			Reason:   constants.CallbackReasonChecksumMismatch,
			Received: received,
			Computed: computed,
		}
	}
	return Verification{
		Valid:    true,
		Reason:   constants.CallbackReasonVerified,
		Received: received,
		Computed: computed,
	}
}

// VerifyCallback 仅在检查码完全一致时返回 true，缺少检查码或参数为空一律 false
func (s *Signer) VerifyCallback(params Params) bool {
	return s.VerifyCallbackDetail(params).Valid
}

func isValidTradeNo(tradeNo string) bool {
	if tradeNo == "" || len(tradeNo) > MaxTradeNoLength {
		return false
	}
	for i := 0; i < len(tradeNo); i++ {
		c := tradeNo[i]
		if !('A' <= c && c <= 'Z' || 'a' <= c && c <= 'z' || '0' <= c && c <= '9') {
			return false
		}
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
