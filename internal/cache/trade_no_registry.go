package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/buymall/buypay/internal/constants"
	"github.com/buymall/buypay/internal/logger"
)

// DefaultTradeNoTTL 交易编号占用时长，覆盖绿界同编号拒绝重复的期间
const DefaultTradeNoTTL = 24 * time.Hour

// TradeNoRegistry 记录近期已签出的交易编号
type TradeNoRegistry interface {
	// Reserve 占用编号，编号已被占用时返回 false
	Reserve(ctx context.Context, tradeNo string) (bool, error)
}

type redisTradeNoRegistry struct {
	ttl      time.Duration
	fallback *memoryTradeNoRegistry
}

func (r *redisTradeNoRegistry) Reserve(ctx context.Context, tradeNo string) (bool, error) {
	key := fmt.Sprintf("%s:%s", constants.CacheKeyTradeNo, strings.TrimSpace(tradeNo))
	ok, err := SetNX(ctx, key, "1", r.ttl)
	if err != nil {
		logger.Warnw("trade_no_registry_redis_failed", "merchant_trade_no", tradeNo, "error", err)
		// 数据库唯一索引仍会兜底
		return r.fallback.Reserve(ctx, tradeNo)
	}
	return ok, nil
}

type memoryTradeNoRegistry struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	nextGC time.Time
	now    func() time.Time
}

func newMemoryTradeNoRegistry(ttl time.Duration, now func() time.Time) *memoryTradeNoRegistry {
	if now == nil {
		now = time.Now
	}
	return &memoryTradeNoRegistry{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		nextGC: now().Add(ttl),
		now:    now,
	}
}

func (r *memoryTradeNoRegistry) Reserve(_ context.Context, tradeNo string) (bool, error) {
	tradeNo = strings.TrimSpace(tradeNo)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if exp, ok := r.seen[tradeNo]; ok && exp.After(now) {
		return false, nil
	}
	r.seen[tradeNo] = now.Add(r.ttl)
	if now.After(r.nextGC) {
		for no, exp := range r.seen {
			if !exp.After(now) {
				delete(r.seen, no)
			}
		}
		r.nextGC = now.Add(r.ttl)
	}
	return true, nil
}

// NewTradeNoRegistry Redis 可用时使用 SETNX，否则退回进程内记录
func NewTradeNoRegistry(ttl time.Duration) TradeNoRegistry {
	if ttl <= 0 {
		ttl = DefaultTradeNoTTL
	}
	memory := newMemoryTradeNoRegistry(ttl, nil)
	if !Enabled() {
		return memory
	}
	return &redisTradeNoRegistry{ttl: ttl, fallback: memory}
}

// NewMemoryTradeNoRegistry 进程内实现
func NewMemoryTradeNoRegistry(ttl time.Duration, now func() time.Time) TradeNoRegistry {
	if ttl <= 0 {
		ttl = DefaultTradeNoTTL
	}
	return newMemoryTradeNoRegistry(ttl, now)
}
