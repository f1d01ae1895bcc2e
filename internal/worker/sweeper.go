package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/buymall/buypay/internal/logger"

	"github.com/robfig/cron/v3"
)

const defaultSweepBatch = 100

// Sweeper 定时扫描逾期未付款的尝试，作为延迟任务遗失时的兜底
type Sweeper struct {
	name     string
	schedule string
	batch    int
	payments PaymentExpirer
	cron     *cron.Cron
	now      func() time.Time
	mu       sync.Mutex
	running  bool
}

// NewSweeper 创建扫描服务；schedule 为 robfig/cron 表达式（支持 @every）
func NewSweeper(schedule string, batch int, payments PaymentExpirer) (*Sweeper, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil, errors.New("sweep cron is empty")
	}
	if payments == nil {
		return nil, errors.New("payment expirer is nil")
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, err
	}
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &Sweeper{
		name:     "payment_sweeper",
		schedule: schedule,
		batch:    batch,
		payments: payments,
		now:      time.Now,
	}, nil
}

// Name 服务名称
func (s *Sweeper) Name() string {
	if s == nil || s.name == "" {
		return "payment_sweeper"
	}
	return s.name
}

// Start 启动定时扫描，阻塞至 ctx 结束
func (s *Sweeper) Start(ctx context.Context) error {
	if s == nil || s.payments == nil {
		return errors.New("sweeper not initialized")
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return err
	}
	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	c.Start()
	logger.Infow("payment_sweeper_started", "schedule", s.schedule, "batch", s.batch)
	<-ctx.Done()
	return nil
}

// Stop 停止定时扫描并等待执行中的任务结束
func (s *Sweeper) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// RunOnce 执行一轮扫描，同一时间只允许一轮
func (s *Sweeper) RunOnce(ctx context.Context) int {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return 0
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	processed, err := s.payments.ExpireOverdue(ctx, s.now(), s.batch)
	if err != nil {
		logger.Warnw("payment_sweeper_run_failed", "error", err)
	}
	return processed
}
