package service

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	pkgerrors "WorkshopPlatform/pkg/errors"
	"WorkshopPlatform/pkg/logger"
	"WorkshopPlatform/pkg/metrics"
	"WorkshopPlatform/services/auth-service/internal/cache"
	"WorkshopPlatform/services/auth-service/internal/repository"
)

// Sweeper периодически деактивирует истекшие сессии. Корректность от него
// не зависит: Validate сам деактивирует истекшую сессию при обращении.
type Sweeper struct {
	sessions repository.SessionRepository
	cache    *cache.SessionCache
	metrics  *metrics.AuthMetrics
	log      logger.Logger
	schedule string
	timeout  time.Duration
	nowFn    func() time.Time

	mu        sync.Mutex
	cron      *cron.Cron
	isRunning bool
}

// NewSweeper создает новый экземпляр Sweeper.
// schedule в формате robfig/cron, например "@every 30m".
func NewSweeper(sessions repository.SessionRepository, sessionCache *cache.SessionCache, m *metrics.AuthMetrics, log logger.Logger, schedule string, timeout time.Duration) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		cache:    sessionCache,
		metrics:  m,
		log:      log,
		schedule: schedule,
		timeout:  timeout,
		nowFn:    time.Now,
	}
}

// RunOnce выполняет один проход очистки
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	hashes, err := s.sessions.DeactivateExpired(ctx, s.nowFn().UTC())
	if err != nil {
		s.metrics.Sweep(0, err)
		return 0, pkgerrors.Transient(err, "deactivate expired sessions")
	}
	s.cache.InvalidateMany(hashes)
	s.metrics.Sweep(len(hashes), nil)
	return len(hashes), nil
}

// Start регистрирует задачу и запускает планировщик.
// Повторный вызов ничего не делает.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		start := time.Now()
		n, err := s.RunOnce(runCtx)
		if err != nil {
			s.log.Error("session sweep failed", logger.Error(err))
			return
		}
		s.log.Info("session sweep completed",
			logger.Int("deactivated", n),
			logger.Duration("duration", time.Since(start)),
		)
	})
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrValidation, "invalid sweep schedule").WithDetails(s.schedule)
	}

	c.Start()
	s.cron = c
	s.isRunning = true
	s.log.Info("session sweeper started", logger.String("schedule", s.schedule))
	return nil
}

// Stop останавливает планировщик и ждет завершения текущего прохода
// не дольше, чем позволяет ctx
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	select {
	case <-s.cron.Stop().Done():
		s.log.Info("session sweeper stopped")
	case <-ctx.Done():
		s.log.Warn("session sweeper stop timed out")
	}
	s.isRunning = false
}
