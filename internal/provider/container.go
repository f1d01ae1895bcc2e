package provider

import (
	"fmt"

	"github.com/buymall/buypay/internal/cache"
	"github.com/buymall/buypay/internal/config"
	"github.com/buymall/buypay/internal/logger"
	"github.com/buymall/buypay/internal/models"
	"github.com/buymall/buypay/internal/payment/ecpay"
	"github.com/buymall/buypay/internal/queue"
	"github.com/buymall/buypay/internal/repository"
	"github.com/buymall/buypay/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client

	// ECPay
	Signer      *ecpay.Signer
	QueryClient *ecpay.QueryClient

	// Repositories
	PaymentAttemptRepo repository.PaymentAttemptRepository
	CallbackLogRepo    repository.CallbackLogRepository

	// Services
	TradeNoRegistry cache.TradeNoRegistry
	PaymentService  *service.PaymentService
	ServiceTokens   *service.ServiceTokenService
}

// NewContainer 初始化容器；绿界凭证无效时直接返回错误，不带病启动
func NewContainer(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
	}
	if err := c.initSigner(); err != nil {
		return nil, err
	}
	c.initRepositories()
	c.initServices()
	return c, nil
}

func (c *Container) initSigner() error {
	signerCfg, err := c.Config.ECPay.ToSignerConfig()
	if err != nil {
		return err
	}
	signer, err := ecpay.NewSigner(signerCfg)
	if err != nil {
		logger.Errorw("provider_init_ecpay_signer_failed",
			"ecpay", signerLogFields(signerCfg),
			"error", err,
		)
		return err
	}
	c.Signer = signer
	c.QueryClient = ecpay.NewQueryClient(signer, c.Config.ECPay.QueryTimeout())
	logger.Infow("provider_ecpay_signer_ready", "ecpay", signerLogFields(signer.Config()))
	return nil
}

// signerLogFields 签章器配置日志字段，密钥与 IV 遮蔽
func signerLogFields(cfg ecpay.Config) map[string]string {
	return logger.RedactFields(map[string]string{
		"environment":  cfg.Environment,
		"merchant_id":  cfg.MerchantID,
		"hash_key":     cfg.HashKey,
		"hash_iv":      cfg.HashIV,
		"payment_url":  cfg.PaymentURL,
		"query_url":    cfg.QueryURL,
		"return_url":   cfg.ReturnURL,
		"trade_prefix": cfg.TradePrefix,
	}, "hash_key", "hash_iv")
}

func (c *Container) initRepositories() {
	db := models.DB
	c.PaymentAttemptRepo = repository.NewPaymentAttemptRepository(db)
	c.CallbackLogRepo = repository.NewCallbackLogRepository(db)
}

func (c *Container) initServices() {
	c.ServiceTokens = service.NewServiceTokenService(c.Config.Security.ServiceToken, nil)
	if !c.ServiceTokens.Enabled() {
		logger.Warnw("provider_service_token_disabled", "hint", "set security.service_token.secret to protect storefront routes")
	}
	c.TradeNoRegistry = cache.NewTradeNoRegistry(cache.DefaultTradeNoTTL)
	c.PaymentService = service.NewPaymentService(
		models.DB,
		c.Signer,
		c.QueryClient,
		c.PaymentAttemptRepo,
		c.CallbackLogRepo,
		c.TradeNoRegistry,
		c.QueueClient,
		service.PaymentOptions{
			Expire:      c.Config.ECPay.PaymentExpire(),
			MockEnabled: c.Config.Mock.Enabled,
		},
	)
}

// Close 释放外部连接
func (c *Container) Close() {
	if c == nil {
		return
	}
	if err := c.QueueClient.Close(); err != nil {
		logger.Warnw("provider_close_queue_client_failed", "error", err)
	}
	if err := cache.Close(); err != nil {
		logger.Warnw("provider_close_redis_failed", "error", err)
	}
}
