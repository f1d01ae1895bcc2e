package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/buymall/buypay/internal/app"
	"github.com/buymall/buypay/internal/config"
	"github.com/buymall/buypay/internal/constants"
	"github.com/buymall/buypay/internal/logger"
	"github.com/buymall/buypay/internal/models"
	"github.com/buymall/buypay/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
	ansiDim   = "\033[2m"
	ansiGreen = "\033[32m"
	ansiCyan  = "\033[36m"
)

func main() {
	// 解析命令行参数
	var mode, issueSubject string
	var issueTTL time.Duration
	flag.StringVar(&mode, "mode", app.ModeAll, "启动模式: all (默认), api, worker")
	flag.StringVar(&issueSubject, "issue-token", "", "为商城后端签发调用凭证后退出，参数为凭证主体")
	flag.DurationVar(&issueTTL, "token-ttl", 0, "签发凭证的有效期，缺省读取 security.service_token.expire_hours")
	flag.Parse()

	// 加载配置
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()

	if issueSubject != "" {
		token, expiresAt, err := service.NewServiceTokenService(cfg.Security.ServiceToken, nil).Issue(issueSubject, issueTTL)
		if err != nil {
			stdLog.Fatalf("签发凭证失败: %v", err)
		}
		fmt.Printf("%s\n# expires_at=%s\n", token, expiresAt.Format(time.RFC3339))
		return
	}

	printStartupBanner()

	env := strings.ToLower(strings.TrimSpace(cfg.ECPay.Environment))
	if cfg.Server.Mode == "release" && env != constants.EnvironmentProduction {
		stdLog.Printf("警告: 当前以 release 模式运行，但绿界环境为 %q，付款不会真实入账", env)
	}
	if cfg.Mock.Enabled {
		stdLog.Printf("警告: 已开启模拟付款，仅限开发与测试环境使用")
	}

	// 初始化数据库
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}, cfg.Server.Mode == "debug"); err != nil {
		stdLog.Fatalf("数据库初始化失败: %v", err)
	}

	// 自动迁移数据库表
	if err := models.AutoMigrate(models.DB); err != nil {
		stdLog.Fatalf("数据库迁移失败: %v", err)
	}

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 绿界凭证无效时 app.Run 直接返回错误
	if err := app.Run(app.Options{
		Config:  cfg,
		Logger:  logger.S(),
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		Mode:    mode,
	}); err != nil {
		stdLog.Fatalf("服务运行失败: %v", err)
	}
}

func printStartupBanner() {
	fmt.Println(ansiCyan + ansiBold + "BUY商城 綠界付款服務 (buypay)" + ansiReset)
	fmt.Println(ansiGreen + "• 結帳:  POST /api/v1/payments/checkout" + ansiReset)
	fmt.Println(ansiGreen + "• 通知:  POST /api/v1/payments/ecpay/notify" + ansiReset)
	fmt.Println(ansiDim + "--------------------------------------------------------------" + ansiReset)
}
