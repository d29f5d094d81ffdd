package service

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	pkgerrors "WorkshopPlatform/pkg/errors"
	"WorkshopPlatform/pkg/logger"
	"WorkshopPlatform/pkg/metrics"
	"WorkshopPlatform/services/auth-service/internal/cache"
	"WorkshopPlatform/services/auth-service/internal/domain"
	"WorkshopPlatform/services/auth-service/internal/pkg/hash"
)

// Authenticate проверяет учетные данные и выдает новую сессию.
//
// Порядок проверок: пользователь в бизнесе, блокировка, неактивность,
// исчерпанные попытки, пароль. Неверный пароль атомарно увеличивает
// счетчик; попытка, достигшая лимита, возвращает AccountLocked.
func (s *Service) Authenticate(ctx context.Context, req LoginRequest) (result *domain.LoginResult, err error) {
	ctx, span := s.metrics.StartSpan(ctx, "auth.Authenticate", attribute.String("tenant_id", req.TenantID))
	defer func() {
		s.metrics.Login(outcome(err))
		metrics.EndSpan(span, err)
	}()

	if err := s.validator.ValidateRequiredFields(map[string]string{
		"username":   req.Username,
		"password":   req.Password,
		"negocio_id": req.TenantID,
	}); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation, "invalid login request").WithDetails(err.Error())
	}
	if err := s.validator.ValidatePassword(req.Password); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation, "invalid login request").WithDetails(err.Error())
	}

	log := s.log.With(
		logger.CtxField(ctx),
		logger.String("tenant_id", req.TenantID),
		logger.String("username", req.Username),
	)
	meta := map[string]string{"ip": req.IP, "user_agent": req.UserAgent}

	// Имя с недопустимыми символами не может существовать в базе
	if s.validator.ValidateUsername(req.Username) != nil {
		s.recordFailure(ctx, "", req.TenantID, "usuario_inexistente", meta)
		return nil, errInvalidCredentials()
	}

	policy, err := s.policies.Policy(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByUsername(ctx, req.TenantID, req.Username)
	if err != nil {
		if isNotFound(err) {
			log.Info("login rejected: unknown user")
			s.recordFailure(ctx, "", req.TenantID, "usuario_inexistente", meta)
			return nil, errInvalidCredentials()
		}
		return nil, pkgerrors.Transient(err, "find user")
	}
	log = log.With(logger.String("user_id", user.ID))
	now := s.now()

	if user.Locked {
		log.Info("login rejected: account locked")
		s.recordFailure(ctx, user.ID, user.TenantID, "cuenta_bloqueada", meta)
		return nil, errAccountLocked()
	}

	if user.LastAccessAt != nil && now.Sub(*user.LastAccessAt) > policy.InactivityThreshold() {
		log.Info("login rejected: account inactive", logger.Time("last_access", *user.LastAccessAt))
		s.recordFailure(ctx, user.ID, user.TenantID, "cuenta_inactiva", meta)
		return nil, errAccountInactive()
	}

	if user.FailedAttempts >= policy.MaxLoginAttempts {
		if _, err := s.users.Lock(ctx, user.ID); err != nil {
			return nil, pkgerrors.Transient(err, "lock user")
		}
		s.forgetUser(ctx, user.ID)
		log.Warn("account locked: attempts exhausted", logger.Int("attempts", user.FailedAttempts))
		s.record(ctx, domain.AuditEvent{
			Kind:        domain.EventAccountLocked,
			UserID:      user.ID,
			TenantID:    user.TenantID,
			Description: "Cuenta bloqueada por intentos fallidos",
			Metadata:    map[string]string{"intentos": strconv.Itoa(user.FailedAttempts)},
		})
		return nil, errAccountLocked()
	}

	ok, rehash, err := s.passwords.Verify(req.Password, user.PasswordHash)
	if err != nil {
		// Нераспознанный хеш считается несовпадением
		log.Error("stored password hash is unreadable", logger.Error(err))
	}
	if !ok {
		return nil, s.rejectPassword(ctx, log, user, policy, meta)
	}

	// Эпоха читается до фиксации входа: блокировка, пришедшая позже,
	// не даст положить новую сессию в кэш
	epoch := s.cache.Epoch()
	recorded, err := s.users.RecordSuccessfulLogin(ctx, user.ID, now)
	if err != nil {
		return nil, pkgerrors.Transient(err, "record login")
	}
	if !recorded {
		log.Info("login rejected: account locked during verification")
		s.recordFailure(ctx, user.ID, user.TenantID, "cuenta_bloqueada", meta)
		return nil, errAccountLocked()
	}
	if rehash {
		s.upgradeHash(ctx, log, user, req.Password)
	}

	token, err := hash.NewToken()
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal, "generate session token")
	}
	session := &domain.Session{
		ID:             uuid.NewString(),
		TokenHash:      s.tokens.Hash(token),
		UserID:         user.ID,
		TenantID:       user.TenantID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(policy.SessionTimeout()),
		LastActivityAt: now,
		Active:         true,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, pkgerrors.Transient(err, "create session")
	}

	s.cache.PutIfEpoch(session.TokenHash, domain.ClaimsFor(user, session), epoch)

	s.record(ctx, domain.AuditEvent{
		Kind:        domain.EventLoginSuccess,
		UserID:      user.ID,
		TenantID:    user.TenantID,
		Description: "Inicio de sesión exitoso",
		Metadata:    meta,
	})
	log.Info("user logged in",
		logger.String("session", hash.Fingerprint(session.TokenHash)),
		logger.Time("expires_at", session.ExpiresAt),
	)

	return &domain.LoginResult{
		Token:     token,
		User:      user.View(),
		ExpiresAt: session.ExpiresAt,
	}, nil
}

func (s *Service) rejectPassword(ctx context.Context, log logger.Logger, user *domain.User, policy domain.Policy, meta map[string]string) error {
	attempts, locked, err := s.users.RegisterFailedAttempt(ctx, user.ID, policy.MaxLoginAttempts)
	if err != nil {
		return pkgerrors.Transient(err, "register failed attempt")
	}

	failure := map[string]string{"intentos": strconv.Itoa(attempts)}
	for k, v := range meta {
		failure[k] = v
	}
	s.recordFailure(ctx, user.ID, user.TenantID, "password_incorrecto", failure)

	if locked {
		s.forgetUser(ctx, user.ID)
		log.Warn("account locked after failed attempt", logger.Int("attempts", attempts))
		s.record(ctx, domain.AuditEvent{
			Kind:        domain.EventAccountLocked,
			UserID:      user.ID,
			TenantID:    user.TenantID,
			Description: "Cuenta bloqueada por intentos fallidos",
			Metadata:    map[string]string{"intentos": strconv.Itoa(attempts)},
		})
		return errAccountLocked()
	}

	log.Info("login rejected: wrong password", logger.Int("attempts", attempts))
	return errInvalidCredentials()
}

// upgradeHash пересчитывает устаревший хеш. Ошибка не мешает входу:
// пароль уже проверен, миграция повторится при следующем входе.
func (s *Service) upgradeHash(ctx context.Context, log logger.Logger, user *domain.User, plain string) {
	upgraded, err := s.passwords.Hash(plain)
	if err != nil {
		log.Warn("failed to rehash password", logger.Error(err))
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, upgraded); err != nil {
		log.Warn("failed to store rehashed password", logger.Error(err))
		return
	}
	s.record(ctx, domain.AuditEvent{
		Kind:        domain.EventPasswordRehashed,
		UserID:      user.ID,
		TenantID:    user.TenantID,
		Description: "Hash de contraseña actualizado a argon2id",
	})
}

// forgetUser убирает из кэша сессии только что заблокированного пользователя:
// следующая проверка пойдет в базу, увидит блокировку и отзовет их
func (s *Service) forgetUser(ctx context.Context, userID string) {
	s.cache.InvalidateByUser(userID)
	s.publish(ctx, cache.ScopeUser, userID)
}

func (s *Service) recordFailure(ctx context.Context, userID, tenantID, reason string, meta map[string]string) {
	metadata := map[string]string{"motivo": reason}
	for k, v := range meta {
		if v != "" {
			metadata[k] = v
		}
	}
	s.record(ctx, domain.AuditEvent{
		Kind:        domain.EventLoginFailed,
		UserID:      userID,
		TenantID:    tenantID,
		Description: "Intento de inicio de sesión fallido",
		Metadata:    metadata,
	})
}

// outcome метка результата для метрик
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.ErrInvalidCredentials:
		return "invalid_credentials"
	case pkgerrors.ErrAccountLocked:
		return "locked"
	case pkgerrors.ErrAccountInactive:
		return "inactive"
	case pkgerrors.ErrInvalidSession:
		return "invalid"
	case pkgerrors.ErrSessionExpired:
		return "expired"
	case pkgerrors.ErrValidation:
		return "bad_request"
	case pkgerrors.ErrTransientStore:
		return "store_error"
	}
	return "error"
}
