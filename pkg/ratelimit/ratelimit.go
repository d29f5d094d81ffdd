package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimiter интерфейс для ограничения частоты запросов
type RateLimiter interface {
	// CheckRateLimit проверяет лимит для заданного ключа
	// Возвращает true, если лимит превышен
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// incrScript увеличивает счетчик и ставит TTL только при создании ключа.
// Проверка и увеличение выполняются одной командой на сервере.
var incrScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return current
`)

// RedisRateLimiter fixed window счетчик в Redis, общий для всех инстансов
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisRateLimiter создает новый экземпляр RedisRateLimiter
func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, prefix: "rate_limit:"}
}

// CheckRateLimit увеличивает счетчик ключа и сравнивает его с лимитом
func (r *RedisRateLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	current, err := incrScript.Run(ctx, r.client, []string{r.prefix + key}, window.Milliseconds()).Int64()
	if err != nil {
		return true, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	return current > int64(limit), nil
}

type counter struct {
	count   int
	resetAt time.Time
}

// MemoryRateLimiter локальный счетчик для одного инстанса (dev, тесты)
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*counter
	nowFn   func() time.Time
}

// NewMemoryRateLimiter создает локальный rate limiter
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		windows: make(map[string]*counter),
		nowFn:   time.Now,
	}
}

// CheckRateLimit реализует RateLimiter
func (m *MemoryRateLimiter) CheckRateLimit(_ context.Context, key string, limit int, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &counter{resetAt: now.Add(ttl)}
		m.windows[key] = w
		m.gc(now)
	}
	w.count++
	return w.count > limit, nil
}

// gc удаляет истекшие окна, чтобы карта не росла бесконечно
func (m *MemoryRateLimiter) gc(now time.Time) {
	if len(m.windows) < 1024 {
		return
	}
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
		}
	}
}
