package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrSessionTerminated сессия завершена после отказа сервера в обновлении
var ErrSessionTerminated = errors.New("sesión finalizada, inicie sesión nuevamente")

const refreshKey = "refresh"

type refreshState int

const (
	stateIdle refreshState = iota
	stateInFlight
	stateSettled
)

// RefreshResult итог обновления сессии
type RefreshResult struct {
	ExpiresAt time.Time `json:"expira"`
	Rotated   bool      `json:"rotada"`
	CSRFToken string    `json:"csrf_token,omitempty"`
}

// RefreshFunc сетевой вызов обновления
type RefreshFunc func(ctx context.Context) (RefreshResult, error)

// SessionListener получает смену состояния сессии. Методы вызываются
// вне блокировок координатора.
type SessionListener interface {
	SessionRefreshed(res RefreshResult)
	SessionExpired(err error)
	OfflineChanged(offline bool)
}

// RefreshCoordinator сводит параллельные обновления сессии к одному
// сетевому вызову. Все ожидающие получают один и тот же результат.
// Завершенные вызовы не повторяются чаще, чем раз в throttle: в пределах
// окна возвращается последний результат.
type RefreshCoordinator struct {
	refresh  RefreshFunc
	listener SessionListener
	throttle time.Duration
	nowFn    func() time.Time

	group singleflight.Group
	calls atomic.Int64

	mu         sync.Mutex
	state      refreshState
	settledAt  time.Time
	last       RefreshResult
	lastErr    error
	offline    bool
	terminated bool
}

// NewRefreshCoordinator создает координатор
func NewRefreshCoordinator(refresh RefreshFunc, listener SessionListener, throttle time.Duration) *RefreshCoordinator {
	return &RefreshCoordinator{
		refresh:  refresh,
		listener: listener,
		throttle: throttle,
		nowFn:    time.Now,
	}
}

// Refresh присоединяется к текущему обновлению или запускает новое.
// Отмена ctx прекращает ожидание, но не сам сетевой вызов.
func (c *RefreshCoordinator) Refresh(ctx context.Context) (RefreshResult, error) {
	if res, err, ok := c.recent(); ok {
		return res, err
	}

	ch := c.group.DoChan(refreshKey, func() (interface{}, error) {
		return c.run(context.WithoutCancel(ctx))
	})

	select {
	case r := <-ch:
		res, _ := r.Val.(RefreshResult)
		return res, r.Err
	case <-ctx.Done():
		return RefreshResult{}, ctx.Err()
	}
}

// recent возвращает результат, если обновление уже не нужно
func (c *RefreshCoordinator) recent() (RefreshResult, error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminated {
		return RefreshResult{}, ErrSessionTerminated, true
	}
	if c.state == stateSettled && c.nowFn().Sub(c.settledAt) < c.throttle {
		return c.last, c.lastErr, true
	}
	return RefreshResult{}, nil, false
}

func (c *RefreshCoordinator) run(ctx context.Context) (RefreshResult, error) {
	// вызов мог завершиться между recent() и входом в группу
	if res, err, ok := c.recent(); ok {
		return res, err
	}

	c.mu.Lock()
	c.state = stateInFlight
	c.mu.Unlock()

	c.calls.Add(1)
	res, err := c.refresh(ctx)
	c.settle(res, err)
	return res, err
}

func (c *RefreshCoordinator) settle(res RefreshResult, err error) {
	c.mu.Lock()
	wasOffline := c.offline
	c.state = stateSettled
	c.settledAt = c.nowFn()
	c.last = res
	c.lastErr = err

	var expired bool
	switch {
	case err == nil:
		c.offline = false
	case IsUnreachable(err):
		c.offline = true
	case IsRejected(err):
		c.terminated = true
		expired = true
	}
	offline := c.offline
	c.mu.Unlock()

	if c.listener == nil {
		return
	}
	if err == nil {
		c.listener.SessionRefreshed(res)
	}
	if expired {
		c.listener.SessionExpired(err)
	}
	if offline != wasOffline {
		c.listener.OfflineChanged(offline)
	}
}

// Reachable сообщает об успешном ответе сервера вне обновления
func (c *RefreshCoordinator) Reachable() {
	c.mu.Lock()
	wasOffline := c.offline
	c.offline = false
	c.mu.Unlock()

	if wasOffline && c.listener != nil {
		c.listener.OfflineChanged(false)
	}
}

// Reset возвращает координатор в исходное состояние после нового входа
func (c *RefreshCoordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = stateIdle
	c.settledAt = time.Time{}
	c.last = RefreshResult{}
	c.lastErr = nil
	c.offline = false
	c.terminated = false
}

// Offline клиент в автономном режиме
func (c *RefreshCoordinator) Offline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offline
}

// Terminated сессия завершена
func (c *RefreshCoordinator) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

// Calls число выполненных сетевых обновлений
func (c *RefreshCoordinator) Calls() int64 {
	return c.calls.Load()
}

func (c *RefreshCoordinator) setOffline(offline bool) {
	c.mu.Lock()
	c.offline = offline
	c.mu.Unlock()
}
