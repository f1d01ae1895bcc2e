package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/buymall/buypay/internal/logger"
	"github.com/buymall/buypay/internal/payment/ecpay"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Security SecurityConfig `mapstructure:"security"`
	ECPay    ECPayConfig    `mapstructure:"ecpay"`
	Mock     MockConfig     `mapstructure:"mock"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		Level:      c.Level,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // 数据库驱动（sqlite/postgres）
	DSN    string             `mapstructure:"dsn"`    // 数据库连接串
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
	// SweepCron 逾期支付兜底扫描（robfig/cron 表达式，留空关闭）
	SweepCron  string `mapstructure:"sweep_cron"`
	SweepBatch int    `mapstructure:"sweep_batch"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	CheckoutRateLimit RateLimitConfig    `mapstructure:"checkout_rate_limit"`
	ServiceToken      ServiceTokenConfig `mapstructure:"service_token"`
}

// ServiceTokenConfig 商城后端调用凭证（HS256 JWT）
type ServiceTokenConfig struct {
	Secret      string `mapstructure:"secret"` // 留空则不校验，生产环境必填
	Issuer      string `mapstructure:"issuer"`
	Audience    string `mapstructure:"audience"`
	ExpireHours int    `mapstructure:"expire_hours"` // 签发凭证的默认有效期
}

// Enabled 是否启用凭证校验
func (c ServiceTokenConfig) Enabled() bool {
	return strings.TrimSpace(c.Secret) != ""
}

// Expire 签发凭证的有效期
func (c ServiceTokenConfig) Expire() time.Duration {
	if c.ExpireHours <= 0 {
		return 720 * time.Hour
	}
	return time.Duration(c.ExpireHours) * time.Hour
}

// RateLimitConfig 窗口限流配置
type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxAttempts   int `mapstructure:"max_attempts"`
	BlockSeconds  int `mapstructure:"block_seconds"`
}

// ECPayConfig 绿界商店配置
type ECPayConfig struct {
	Environment          string            `mapstructure:"environment"`
	MerchantID           string            `mapstructure:"merchant_id"`
	HashKey              string            `mapstructure:"hash_key"`
	HashIV               string            `mapstructure:"hash_iv"`
	PaymentURL           string            `mapstructure:"payment_url"`
	QueryURL             string            `mapstructure:"query_url"`
	ReturnURL            string            `mapstructure:"return_url"`
	OrderResultURL       string            `mapstructure:"order_result_url"`
	ClientBackURL        string            `mapstructure:"client_back_url"`
	PaymentInfoURL       string            `mapstructure:"payment_info_url"`
	TradeNoPrefix        string            `mapstructure:"trade_no_prefix"`
	TradeDesc            string            `mapstructure:"trade_desc"`
	PaymentExpireMinutes int               `mapstructure:"payment_expire_minutes"`
	QueryTimeoutSeconds  int               `mapstructure:"query_timeout_seconds"`
	FallbackMethod       string            `mapstructure:"fallback_method"`
	MethodTable          map[string]string `mapstructure:"method_table"` // 平台付款方式 ID → ChoosePayment
}

// PaymentExpire 支付有效期
func (c ECPayConfig) PaymentExpire() time.Duration {
	if c.PaymentExpireMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.PaymentExpireMinutes) * time.Minute
}

// QueryTimeout 查询订单超时
func (c ECPayConfig) QueryTimeout() time.Duration {
	if c.QueryTimeoutSeconds <= 0 {
		return ecpay.DefaultQueryTimeout
	}
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

// ToSignerConfig 转换为签章器配置，method_table 覆盖环境默认映射
func (c ECPayConfig) ToSignerConfig() (ecpay.Config, error) {
	cfg := ecpay.Config{
		Environment:    c.Environment,
		MerchantID:     c.MerchantID,
		HashKey:        c.HashKey,
		HashIV:         c.HashIV,
		PaymentURL:     c.PaymentURL,
		QueryURL:       c.QueryURL,
		ReturnURL:      c.ReturnURL,
		OrderResultURL: c.OrderResultURL,
		ClientBackURL:  c.ClientBackURL,
		PaymentInfoURL: c.PaymentInfoURL,
		TradePrefix:    c.TradeNoPrefix,
		TradeDesc:      c.TradeDesc,
	}
	overrides := make(map[int]string, len(c.MethodTable))
	for rawID, code := range c.MethodTable {
		id, err := strconv.Atoi(strings.TrimSpace(rawID))
		if err != nil || id < 0 {
			return ecpay.Config{}, fmt.Errorf("%w: method_table key %q", ecpay.ErrConfigInvalid, rawID)
		}
		code = strings.TrimSpace(code)
		if code != "" && !ecpay.IsKnownChoosePayment(code) {
			return ecpay.Config{}, fmt.Errorf("%w: method_table code %q", ecpay.ErrConfigInvalid, code)
		}
		overrides[id] = code
	}
	if fb := strings.TrimSpace(c.FallbackMethod); fb != "" && !ecpay.IsKnownChoosePayment(fb) {
		return ecpay.Config{}, fmt.Errorf("%w: fallback_method %q", ecpay.ErrConfigInvalid, fb)
	}
	cfg.Methods = ecpay.NewMethodTable(ecpay.DefaultMethodTable(c.Environment), overrides, c.FallbackMethod)
	return cfg, nil
}

// MockConfig 模拟付款配置（仅限开发环境）
type MockConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

const minServiceTokenSecretLength = 32

// Validate 校验跨段配置约束
func (c *Config) Validate() error {
	env := strings.ToLower(strings.TrimSpace(c.ECPay.Environment))
	if c.Mock.Enabled && env == "production" {
		return fmt.Errorf("%w: mock mode cannot be enabled in production", ecpay.ErrConfigInvalid)
	}
	if env == "production" && !c.Security.ServiceToken.Enabled() {
		return fmt.Errorf("%w: security.service_token.secret is required in production", ecpay.ErrConfigInvalid)
	}
	if secret := strings.TrimSpace(c.Security.ServiceToken.Secret); secret != "" && len(secret) < minServiceTokenSecretLength {
		return fmt.Errorf("%w: security.service_token.secret must be at least %d bytes", ecpay.ErrConfigInvalid, minServiceTokenSecretLength)
	}
	return nil
}

// Load 从 .env 与 config.yml 加载配置
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warnw("dotenv_load_failed", "error", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")     // 从当前目录查找
	v.AddConfigPath("../")   // 如果从 cmd/server 运行
	v.AddConfigPath("./etc") // etc 文件夹

	if err := v.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", v.ConfigFileUsed())
	}

	cfg, err := FromViper(v)
	if err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("配置解析失败: %w", err))
	}
	return cfg
}

// FromViper 在给定 viper 实例上补齐默认值、环境变量后解析
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// 环境变量支持，例如 ecpay.hash_key -> ECPAY_HASH_KEY
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "buypay.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/buypay.db")
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)
	v.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	v.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "buypay")
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.queues", map[string]int{
		"default":  10,
		"critical": 5,
	})
	v.SetDefault("queue.sweep_cron", "@every 5m")
	v.SetDefault("queue.sweep_batch", 100)
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		"Authorization",
		"Cache-Control",
		"X-Requested-With",
		"X-Request-ID",
	})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("cors.max_age", 600)
	v.SetDefault("security.checkout_rate_limit.window_seconds", 60)
	v.SetDefault("security.checkout_rate_limit.max_attempts", 20)
	v.SetDefault("security.checkout_rate_limit.block_seconds", 300)
	v.SetDefault("security.service_token.secret", "")
	v.SetDefault("security.service_token.issuer", "buymall-storefront")
	v.SetDefault("security.service_token.audience", "buypay")
	v.SetDefault("security.service_token.expire_hours", 720)
	v.SetDefault("ecpay.environment", "sandbox")
	v.SetDefault("ecpay.merchant_id", "")
	v.SetDefault("ecpay.hash_key", "")
	v.SetDefault("ecpay.hash_iv", "")
	v.SetDefault("ecpay.payment_url", "")
	v.SetDefault("ecpay.query_url", "")
	v.SetDefault("ecpay.return_url", "http://localhost:8080/api/v1/payments/ecpay/notify")
	v.SetDefault("ecpay.order_result_url", "")
	v.SetDefault("ecpay.client_back_url", "")
	v.SetDefault("ecpay.payment_info_url", "")
	v.SetDefault("ecpay.trade_no_prefix", ecpay.DefaultTradePrefix)
	v.SetDefault("ecpay.trade_desc", "BUY商城訂單")
	v.SetDefault("ecpay.payment_expire_minutes", 15)
	v.SetDefault("ecpay.query_timeout_seconds", 10)
	v.SetDefault("ecpay.fallback_method", ecpay.ChoosePaymentCredit)
	v.SetDefault("ecpay.method_table", map[string]string{})
	v.SetDefault("mock.enabled", false)
}
