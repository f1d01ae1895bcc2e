package router

import (
	"fmt"
	"strings"
	"sync"
	"time"

	handlershared "github.com/buymall/buypay/internal/http/handlers/shared"
	"github.com/buymall/buypay/internal/http/response"
	"github.com/buymall/buypay/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimitKeyFunc 生成限流 key 的函数
type RateLimitKeyFunc func(*gin.Context) string

// RateLimitRule 限流规则
type RateLimitRule struct {
	Prefix        string
	WindowSeconds int
	MaxRequests   int
	BlockSeconds  int
	MessageKey    string
}

// 超限后写入封禁 key，封禁期间直接返回剩余秒数
var rateLimitScript = redis.NewScript(`
local blocked = redis.call("TTL", KEYS[2])
if blocked > 0 then
	return {-1, blocked}
end
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("TTL", KEYS[1])
if current > tonumber(ARGV[2]) and tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[2], "1", "EX", ARGV[3])
	ttl = tonumber(ARGV[3])
end
return {current, ttl}
`)

// RateLimitMiddleware 频率限制中间件；redis 不可用时退回进程内令牌桶
func RateLimitMiddleware(client *redis.Client, rule RateLimitRule, keyFunc RateLimitKeyFunc) gin.HandlerFunc {
	if rule.WindowSeconds <= 0 || rule.MaxRequests <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if client == nil {
		return localRateLimitMiddleware(newLocalRateLimiter(rule), rule, keyFunc)
	}
	return func(c *gin.Context) {
		key := resolveRateLimitKey(c, rule, keyFunc)
		result, err := rateLimitScript.Run(
			c.Request.Context(),
			client,
			[]string{key, key + ":block"},
			rule.WindowSeconds,
			rule.MaxRequests,
			rule.BlockSeconds,
		).Result()
		if err != nil {
			// redis 故障时放行，避免阻断结账
			logger.Warnw("rate_limit_redis_failed", "key", key, "error", err)
			c.Next()
			return
		}

		values, ok := result.([]interface{})
		if !ok || len(values) < 2 {
			logger.Warnw("rate_limit_result_invalid", "key", key)
			c.Next()
			return
		}
		count, ok := toInt64(values[0])
		if !ok {
			c.Next()
			return
		}
		ttlSeconds, _ := toInt64(values[1])
		if count < 0 || count > int64(rule.MaxRequests) {
			waitSeconds := int(ttlSeconds)
			if waitSeconds < 1 {
				waitSeconds = rule.WindowSeconds
			}
			respondRateLimited(c, rule, key, waitSeconds)
			return
		}

		c.Next()
	}
}

func localRateLimitMiddleware(limiter *localRateLimiter, rule RateLimitRule, keyFunc RateLimitKeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := resolveRateLimitKey(c, rule, keyFunc)
		if wait, ok := limiter.Allow(key, time.Now()); !ok {
			respondRateLimited(c, rule, key, int(wait.Round(time.Second)/time.Second))
			return
		}
		c.Next()
	}
}

func resolveRateLimitKey(c *gin.Context, rule RateLimitRule, keyFunc RateLimitKeyFunc) string {
	key := ""
	if keyFunc != nil {
		key = strings.TrimSpace(keyFunc(c))
	}
	if key == "" {
		key = c.ClientIP()
	}
	if rule.Prefix != "" {
		key = fmt.Sprintf("%s:%s", rule.Prefix, key)
	}
	return key
}

func respondRateLimited(c *gin.Context, rule RateLimitRule, key string, waitSeconds int) {
	if waitSeconds < 1 {
		waitSeconds = 1
	}
	msgKey := strings.TrimSpace(rule.MessageKey)
	if msgKey == "" {
		msgKey = "error.too_many_requests"
	}
	handlershared.RequestLog(c).Warnw("rate_limited", "key", key, "retry_after", waitSeconds)
	c.Header("Retry-After", fmt.Sprintf("%d", waitSeconds))
	response.ErrorWithData(c, response.CodeTooManyRequests, handlershared.Message(msgKey), gin.H{
		"retry_after": waitSeconds,
	})
	c.Abort()
}

type localLimiterEntry struct {
	limiter      *rate.Limiter
	blockedUntil time.Time
	lastSeen     time.Time
}

// localRateLimiter 按 key 维护令牌桶，窗口内最多 MaxRequests 次
type localRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*localLimiterEntry
	limit   rate.Limit
	burst   int
	block   time.Duration
	idle    time.Duration
}

func newLocalRateLimiter(rule RateLimitRule) *localRateLimiter {
	window := time.Duration(rule.WindowSeconds) * time.Second
	return &localRateLimiter{
		entries: make(map[string]*localLimiterEntry),
		limit:   rate.Limit(float64(rule.MaxRequests) / window.Seconds()),
		burst:   rule.MaxRequests,
		block:   time.Duration(rule.BlockSeconds) * time.Second,
		idle:    window + time.Duration(rule.BlockSeconds)*time.Second,
	}
}

// Allow 返回是否放行；拒绝时附带建议等待时间
func (l *localRateLimiter) Allow(key string, now time.Time) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(now)
	entry, ok := l.entries[key]
	if !ok {
		entry = &localLimiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	if now.Before(entry.blockedUntil) {
		return entry.blockedUntil.Sub(now), false
	}
	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return time.Second, false
	}
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return 0, true
	}
	reservation.CancelAt(now)
	if l.block > 0 {
		entry.blockedUntil = now.Add(l.block)
		return l.block, false
	}
	return delay, false
}

func (l *localRateLimiter) prune(now time.Time) {
	if len(l.entries) < 1024 {
		return
	}
	for key, entry := range l.entries {
		if now.Sub(entry.lastSeen) > l.idle && !now.Before(entry.blockedUntil) {
			delete(l.entries, key)
		}
	}
}

// KeyByIP 使用 IP 作为限流 key
func KeyByIP(c *gin.Context) string {
	return c.ClientIP()
}

func toInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
