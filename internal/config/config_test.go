package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/buymall/buypay/internal/payment/ecpay"

	"github.com/spf13/viper"
)

func loadYAML(t *testing.T, body string) (*Config, error) {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(body)); err != nil {
		t.Fatalf("read yaml failed: %v", err)
	}
	return FromViper(v)
}

func TestFromViperDefaults(t *testing.T) {
	cfg, err := loadYAML(t, "server:\n  port: \"9090\"\n")
	if err != nil {
		t.Fatalf("load config failed: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Database.Driver != "sqlite" {
		t.Fatalf("unexpected server/database config: %+v %+v", cfg.Server, cfg.Database)
	}
	if cfg.ECPay.Environment != "sandbox" || cfg.ECPay.TradeNoPrefix != ecpay.DefaultTradePrefix {
		t.Fatalf("unexpected ecpay defaults: %+v", cfg.ECPay)
	}
	if cfg.ECPay.PaymentExpire().Minutes() != 15 {
		t.Fatalf("unexpected payment expire: %v", cfg.ECPay.PaymentExpire())
	}
	if cfg.Security.CheckoutRateLimit.MaxAttempts != 20 {
		t.Fatalf("unexpected rate limit default: %+v", cfg.Security.CheckoutRateLimit)
	}
}

func TestFromViperEnvOverride(t *testing.T) {
	t.Setenv("ECPAY_MERCHANT_ID", "3009999")
	cfg, err := loadYAML(t, "ecpay:\n  merchant_id: \"2000132\"\n")
	if err != nil {
		t.Fatalf("load config failed: %v", err)
	}
	if cfg.ECPay.MerchantID != "3009999" {
		t.Fatalf("env override not applied: %s", cfg.ECPay.MerchantID)
	}
}

func TestFromViperRejectsMockInProduction(t *testing.T) {
	_, err := loadYAML(t, "ecpay:\n  environment: production\nmock:\n  enabled: true\n")
	if !errors.Is(err, ecpay.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestToSignerConfigMethodTable(t *testing.T) {
	cfg, err := loadYAML(t, `
ecpay:
  environment: sandbox
  fallback_method: ALL
  method_table:
    "2": ATM
`)
	if err != nil {
		t.Fatalf("load config failed: %v", err)
	}
	signerCfg, err := cfg.ECPay.ToSignerConfig()
	if err != nil {
		t.Fatalf("to signer config failed: %v", err)
	}
	if res := signerCfg.Methods.Resolve(2); res.Code != ecpay.ChoosePaymentATM || res.Fallback {
		t.Fatalf("override not applied: %+v", res)
	}
	if res := signerCfg.Methods.Resolve(3); res.Code != ecpay.ChoosePaymentCredit || !res.Fallback {
		t.Fatalf("sandbox degrade should remain: %+v", res)
	}
	if res := signerCfg.Methods.Resolve(99); res.Code != ecpay.ChoosePaymentAll {
		t.Fatalf("fallback method not applied: %+v", res)
	}

	bad := cfg.ECPay
	bad.MethodTable = map[string]string{"x": "ATM"}
	if _, err := bad.ToSignerConfig(); !errors.Is(err, ecpay.ErrConfigInvalid) {
		t.Fatalf("expected invalid key error, got %v", err)
	}
	bad.MethodTable = map[string]string{"2": "LinePay"}
	if _, err := bad.ToSignerConfig(); !errors.Is(err, ecpay.ErrConfigInvalid) {
		t.Fatalf("expected invalid code error, got %v", err)
	}
}

func TestFromViperServiceTokenRules(t *testing.T) {
	if _, err := loadYAML(t, "ecpay:\n  environment: production\n"); !errors.Is(err, ecpay.ErrConfigInvalid) {
		t.Fatalf("production without service token secret should fail, got %v", err)
	}
	if _, err := loadYAML(t, "security:\n  service_token:\n    secret: short\n"); !errors.Is(err, ecpay.ErrConfigInvalid) {
		t.Fatalf("short secret should fail, got %v", err)
	}
	cfg, err := loadYAML(t, "ecpay:\n  environment: production\nsecurity:\n  service_token:\n    secret: 0123456789abcdef0123456789abcdef\n")
	if err != nil {
		t.Fatalf("load config failed: %v", err)
	}
	token := cfg.Security.ServiceToken
	if !token.Enabled() || token.Issuer != "buymall-storefront" || token.Audience != "buypay" || token.Expire().Hours() != 720 {
		t.Fatalf("unexpected service token config: %+v", token)
	}
}
