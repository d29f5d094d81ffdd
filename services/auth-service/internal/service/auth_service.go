package service

import (
	"context"
	"time"

	"WorkshopPlatform/pkg/logger"
	"WorkshopPlatform/pkg/metrics"
	"WorkshopPlatform/pkg/validation"
	"WorkshopPlatform/services/auth-service/internal/audit"
	"WorkshopPlatform/services/auth-service/internal/cache"
	"WorkshopPlatform/services/auth-service/internal/domain"
	"WorkshopPlatform/services/auth-service/internal/pkg/hash"
	"WorkshopPlatform/services/auth-service/internal/pkg/password"
	"WorkshopPlatform/services/auth-service/internal/repository"
)

// AuthService интерфейс для сервиса аутентификации и сессий
type AuthService interface {
	Authenticate(ctx context.Context, req LoginRequest) (*domain.LoginResult, error)
	Validate(ctx context.Context, token string) (domain.SessionClaims, error)
	Renew(ctx context.Context, token string) (*domain.RenewResult, error)

	RevokeOne(ctx context.Context, token string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string) (int, error)
	RevokeAllForTenant(ctx context.Context, tenantID string) (int, error)

	BlockUser(ctx context.Context, actor domain.Actor, userID string) (int, error)
	UnblockUser(ctx context.Context, actor domain.Actor, userID string) (bool, error)
	RevokeUserSessions(ctx context.Context, actor domain.Actor, userID string) (int, error)
	SuspendTenant(ctx context.Context, actor domain.Actor, tenantID string) (int, error)
}

// LoginRequest данные попытки входа
type LoginRequest struct {
	Username  string
	Password  string
	TenantID  string
	IP        string
	UserAgent string
}

// Dependencies зависимости сервиса
type Dependencies struct {
	Users     repository.UserRepository
	Sessions  repository.SessionRepository
	Policies  PolicySource
	Cache     *cache.SessionCache
	Bus       cache.Bus
	Audit     audit.Sink
	Passwords password.Hasher
	Metrics   *metrics.AuthMetrics
	Logger    logger.Logger

	// RotateOnRenew выдавать новый токен при каждом продлении
	RotateOnRenew bool
}

// Service реализация AuthService
type Service struct {
	users         repository.UserRepository
	sessions      repository.SessionRepository
	policies      PolicySource
	cache         *cache.SessionCache
	bus           cache.Bus
	audit         audit.Sink
	passwords     password.Hasher
	tokens        *hash.TokenHasher
	validator     *validation.Validator
	metrics       *metrics.AuthMetrics
	log           logger.Logger
	rotateOnRenew bool
	nowFn         func() time.Time
}

// NewAuthService создает новый экземпляр сервиса
func NewAuthService(d Dependencies) *Service {
	bus := d.Bus
	if bus == nil {
		bus = cache.NopBus{}
	}
	sessionCache := d.Cache
	if sessionCache == nil {
		sessionCache = cache.NewSessionCache()
	}
	log := d.Logger
	if log == nil {
		log = logger.NewNop()
	}

	return &Service{
		users:         d.Users,
		sessions:      d.Sessions,
		policies:      d.Policies,
		cache:         sessionCache,
		bus:           bus,
		audit:         d.Audit,
		passwords:     d.Passwords,
		tokens:        hash.NewTokenHasher(),
		validator:     validation.NewValidator(),
		metrics:       d.Metrics,
		log:           log,
		rotateOnRenew: d.RotateOnRenew,
		nowFn:         time.Now,
	}
}

var _ AuthService = (*Service)(nil)

func (s *Service) now() time.Time {
	return s.nowFn().UTC()
}

func (s *Service) record(ctx context.Context, event domain.AuditEvent) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, event)
}

// publish рассылает инвалидацию другим экземплярам. Ошибка шины не
// откатывает уже выполненный отзыв.
func (s *Service) publish(ctx context.Context, scope cache.Scope, keys ...string) {
	if err := s.bus.Publish(ctx, scope, keys...); err != nil {
		s.log.Warn("failed to broadcast cache invalidation",
			logger.CtxField(ctx),
			logger.String("scope", string(scope)),
			logger.Error(err),
		)
	}
}
