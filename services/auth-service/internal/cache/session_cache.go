package cache

import (
	"sync"
	"time"

	"WorkshopPlatform/services/auth-service/internal/domain"
)

// SessionCache кэш claims сессий процесса. Ключ: дайджест токена.
// Источником истины не является: записи удаляются при отзыве, блокировке
// и истечении, отдельного TTL нет.
//
// Каждое удаление увеличивает epoch. Запись, прочитанная из базы до
// удаления, кладется через PutIfEpoch и отбрасывается, если epoch сменился.
type SessionCache struct {
	mu       sync.RWMutex
	entries  map[string]domain.SessionClaims
	byUser   map[string]map[string]struct{}
	byTenant map[string]map[string]struct{}
	epoch    uint64
	onResize func(int)
}

// Option настройка кэша
type Option func(*SessionCache)

// WithSizeObserver вызывает fn с новым размером после каждого изменения
func WithSizeObserver(fn func(int)) Option {
	return func(c *SessionCache) {
		c.onResize = fn
	}
}

// NewSessionCache создает пустой кэш
func NewSessionCache(opts ...Option) *SessionCache {
	c := &SessionCache{
		entries:  make(map[string]domain.SessionClaims),
		byUser:   make(map[string]map[string]struct{}),
		byTenant: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get возвращает claims по дайджесту токена
func (c *SessionCache) Get(tokenHash string) (domain.SessionClaims, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	claims, ok := c.entries[tokenHash]
	return claims, ok
}

// Epoch текущая эпоха инвалидаций
func (c *SessionCache) Epoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// Put кладет запись без проверки эпохи. Используется при выдаче сессии,
// когда токен еще никому не известен.
func (c *SessionCache) Put(tokenHash string, claims domain.SessionClaims) {
	c.mu.Lock()
	c.put(tokenHash, claims)
	n := len(c.entries)
	c.mu.Unlock()
	c.resized(n)
}

// PutIfEpoch кладет запись, только если с момента чтения epoch не было
// ни одной инвалидации
func (c *SessionCache) PutIfEpoch(tokenHash string, claims domain.SessionClaims, epoch uint64) bool {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return false
	}
	c.put(tokenHash, claims)
	n := len(c.entries)
	c.mu.Unlock()
	c.resized(n)
	return true
}

// Invalidate удаляет одну запись
func (c *SessionCache) Invalidate(tokenHash string) bool {
	return c.InvalidateMany([]string{tokenHash}) > 0
}

// InvalidateMany удаляет записи по списку дайджестов
func (c *SessionCache) InvalidateMany(tokenHashes []string) int {
	c.mu.Lock()
	c.epoch++
	removed := 0
	for _, h := range tokenHashes {
		if c.remove(h) {
			removed++
		}
	}
	n := len(c.entries)
	c.mu.Unlock()
	c.resized(n)
	return removed
}

// InvalidateByUser удаляет все записи пользователя
func (c *SessionCache) InvalidateByUser(userID string) int {
	return c.invalidateIndex(c.byUser, userID)
}

// InvalidateByTenant удаляет все записи бизнеса
func (c *SessionCache) InvalidateByTenant(tenantID string) int {
	return c.invalidateIndex(c.byTenant, tenantID)
}

// UpdateExpiry обновляет срок записи на месте
func (c *SessionCache) UpdateExpiry(tokenHash string, expiresAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	claims, ok := c.entries[tokenHash]
	if !ok {
		return false
	}
	claims.ExpiresAt = expiresAt
	c.entries[tokenHash] = claims
	return true
}

// Move переносит запись под новый дайджест после ротации токена
func (c *SessionCache) Move(oldHash, newHash string, expiresAt time.Time) bool {
	c.mu.Lock()
	c.epoch++
	claims, ok := c.entries[oldHash]
	if ok {
		c.remove(oldHash)
		claims.ExpiresAt = expiresAt
		c.put(newHash, claims)
	}
	n := len(c.entries)
	c.mu.Unlock()
	c.resized(n)
	return ok
}

// Len количество записей
func (c *SessionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *SessionCache) invalidateIndex(index map[string]map[string]struct{}, key string) int {
	c.mu.Lock()
	c.epoch++
	removed := 0
	for h := range index[key] {
		if c.remove(h) {
			removed++
		}
	}
	n := len(c.entries)
	c.mu.Unlock()
	c.resized(n)
	return removed
}

// put вызывается под mu
func (c *SessionCache) put(tokenHash string, claims domain.SessionClaims) {
	if _, exists := c.entries[tokenHash]; exists {
		c.remove(tokenHash)
	}
	c.entries[tokenHash] = claims
	addIndex(c.byUser, claims.UserID, tokenHash)
	addIndex(c.byTenant, claims.TenantID, tokenHash)
}

// remove вызывается под mu
func (c *SessionCache) remove(tokenHash string) bool {
	claims, ok := c.entries[tokenHash]
	if !ok {
		return false
	}
	delete(c.entries, tokenHash)
	dropIndex(c.byUser, claims.UserID, tokenHash)
	dropIndex(c.byTenant, claims.TenantID, tokenHash)
	return true
}

func (c *SessionCache) resized(n int) {
	if c.onResize != nil {
		c.onResize(n)
	}
}

func addIndex(index map[string]map[string]struct{}, key, tokenHash string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[tokenHash] = struct{}{}
}

func dropIndex(index map[string]map[string]struct{}, key, tokenHash string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, tokenHash)
	if len(set) == 0 {
		delete(index, key)
	}
}
