package app

import (
	"errors"
	"strings"

	"github.com/buymall/buypay/internal/config"
	"github.com/buymall/buypay/internal/logger"
	"github.com/buymall/buypay/internal/provider"
	"github.com/buymall/buypay/internal/router"
	"github.com/buymall/buypay/internal/worker"
)

// BuildRunner 构建服务运行器
func BuildRunner(cfg *config.Config, mode string) (*Runner, *provider.Container, error) {
	if cfg == nil {
		return nil, nil, errors.New("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	container, err := provider.NewContainer(cfg)
	if err != nil {
		return nil, nil, err
	}

	var services []Service

	// 初始化 HTTP 服务
	if mode == ModeAll || mode == ModeAPI {
		engine := router.SetupRouter(cfg, container)
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		services = append(services, NewHTTPService(addr, engine))
	}

	if mode == ModeAll || mode == ModeWorker {
		// 队列关闭时仅依赖定时扫描处理逾期
		if cfg.Queue.Enabled {
			consumer := worker.NewConsumer(container)
			workerService, err := worker.NewService(&cfg.Queue, consumer)
			if err != nil {
				container.Close()
				return nil, nil, err
			}
			services = append(services, workerService)
		} else {
			logger.Infow("app_worker_skipped", "reason", "queue disabled")
		}

		if schedule := strings.TrimSpace(cfg.Queue.SweepCron); schedule != "" {
			sweeper, err := worker.NewSweeper(schedule, cfg.Queue.SweepBatch, container.PaymentService)
			if err != nil {
				container.Close()
				return nil, nil, err
			}
			services = append(services, sweeper)
		}
	}

	if len(services) == 0 {
		container.Close()
		return nil, nil, errors.New("no services initialized (check mode and config)")
	}

	return NewRunner(services...), container, nil
}

// Run 应用启动入口
func Run(opts Options) error {
	opts = normalizeOptions(opts)
	if opts.Config == nil {
		return errors.New("config is nil")
	}

	runner, container, err := BuildRunner(opts.Config, opts.Mode)
	if err != nil {
		return err
	}
	defer container.Close()

	addr := opts.Config.Server.Host + ":" + opts.Config.Server.Port
	opts.Logger.Infow("app_start",
		"addr", addr,
		"mode", opts.Mode,
		"ecpay_environment", container.Signer.Environment(),
		"mock", opts.Config.Mock.Enabled,
	)
	return RunWithOptions(runner, opts)
}
