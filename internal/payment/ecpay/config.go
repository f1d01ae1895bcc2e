package ecpay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/buymall/buypay/internal/constants"
)

// 绿界固定参数
const (
	PaymentTypeAIO     = "aio"
	EncryptTypeSHA256  = "1"
	DefaultTradePrefix = "BY"
	MaxTradeNoLength   = 20
	MaxItemNameLength  = 400
	MaxTradeDescLength = 200
)

// 绿界共用测试商店凭证
const (
	SandboxMerchantID = "2000132"
	SandboxHashKey    = "5294y06JbISpM5x9"
	SandboxHashIV     = "v77hoKGq4kWxNNIS"
)

// 各环境默认网关地址
const (
	SandboxPaymentURL    = "https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5"
	ProductionPaymentURL = "https://payment.ecpay.com.tw/Cashier/AioCheckOut/V5"
	SandboxQueryURL      = "https://payment-stage.ecpay.com.tw/Cashier/QueryTradeInfo/V5"
	ProductionQueryURL   = "https://payment.ecpay.com.tw/Cashier/QueryTradeInfo/V5"
)

var (
	ErrConfigInvalid    = errors.New("ecpay config invalid")
	ErrParamInvalid     = errors.New("ecpay param invalid")
	ErrChecksumMismatch = errors.New("ecpay checksum mismatch")
	ErrRequestFailed    = errors.New("ecpay request failed")
	ErrResponseInvalid  = errors.New("ecpay response invalid")
)

// Config 绿界商店配置
type Config struct {
	Environment    string      // sandbox / production
	MerchantID     string      // 商店代号
	HashKey        string      // 检查码 HashKey
	HashIV         string      // 检查码 HashIV
	PaymentURL     string      // AioCheckOut 地址
	QueryURL       string      // QueryTradeInfo 地址
	ReturnURL      string      // 付款结果服务端通知地址
	OrderResultURL string      // 付款完成后浏览器导向地址
	ClientBackURL  string      // 返回商店按钮地址
	PaymentInfoURL string      // ATM/CVS 取号结果通知地址
	TradePrefix    string      // 交易编号前缀
	TradeDesc      string      // 默认交易描述
	Methods        MethodTable // 付款方式映射表
}

// Normalize 补齐环境默认值
func (c *Config) Normalize() {
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	if c.Environment == "" {
		c.Environment = constants.EnvironmentSandbox
	}
	c.MerchantID = strings.TrimSpace(c.MerchantID)
	c.HashKey = strings.TrimSpace(c.HashKey)
	c.HashIV = strings.TrimSpace(c.HashIV)
	if c.Environment == constants.EnvironmentSandbox {
		if c.MerchantID == "" {
			c.MerchantID = SandboxMerchantID
		}
		if c.HashKey == "" {
			c.HashKey = SandboxHashKey
		}
		if c.HashIV == "" {
			c.HashIV = SandboxHashIV
		}
	}
	if strings.TrimSpace(c.PaymentURL) == "" {
		c.PaymentURL = defaultPaymentURL(c.Environment)
	}
	if strings.TrimSpace(c.QueryURL) == "" {
		c.QueryURL = defaultQueryURL(c.Environment)
	}
	if strings.TrimSpace(c.TradePrefix) == "" {
		c.TradePrefix = DefaultTradePrefix
	}
	if c.Methods.Codes == nil {
		c.Methods = DefaultMethodTable(c.Environment)
	}
}

// ValidateConfig 校验商店凭证，任一密钥缺失都不允许签出请求
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrConfigInvalid)
	}
	switch cfg.Environment {
	case constants.EnvironmentSandbox, constants.EnvironmentProduction:
	default:
		return fmt.Errorf("%w: unknown environment %q", ErrConfigInvalid, cfg.Environment)
	}
	if strings.TrimSpace(cfg.MerchantID) == "" {
		return fmt.Errorf("%w: merchant_id is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.HashKey) == "" {
		return fmt.Errorf("%w: hash_key is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.HashIV) == "" {
		return fmt.Errorf("%w: hash_iv is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.PaymentURL) == "" {
		return fmt.Errorf("%w: payment_url is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.ReturnURL) == "" {
		return fmt.Errorf("%w: return_url is required", ErrConfigInvalid)
	}
	if len(cfg.TradePrefix) >= MaxTradeNoLength {
		return fmt.Errorf("%w: trade_prefix too long", ErrConfigInvalid)
	}
	if cfg.Environment == constants.EnvironmentProduction && cfg.MerchantID == SandboxMerchantID {
		return fmt.Errorf("%w: sandbox merchant used in production", ErrConfigInvalid)
	}
	return nil
}

func defaultPaymentURL(env string) string {
	if env == constants.EnvironmentProduction {
		return ProductionPaymentURL
	}
	return SandboxPaymentURL
}

func defaultQueryURL(env string) string {
	if env == constants.EnvironmentProduction {
		return ProductionQueryURL
	}
	return SandboxQueryURL
}
