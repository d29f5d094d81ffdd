package service

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	pkgerrors "WorkshopPlatform/pkg/errors"
	"WorkshopPlatform/pkg/logger"
	"WorkshopPlatform/pkg/metrics"
	"WorkshopPlatform/services/auth-service/internal/cache"
	"WorkshopPlatform/services/auth-service/internal/domain"
	"WorkshopPlatform/services/auth-service/internal/pkg/hash"
)

// Все операции отзыва идемпотентны: отсутствующая цель не ошибка.
// Кэш очищается после записи в базу, чтобы параллельная проверка
// не вернула в кэш уже отозванную сессию.

// RevokeOne деактивирует одну сессию (выход). Возвращает false,
// если активной сессии с таким токеном не было.
func (s *Service) RevokeOne(ctx context.Context, token string) (revoked bool, err error) {
	ctx, span := s.metrics.StartSpan(ctx, "auth.RevokeOne")
	defer func() { metrics.EndSpan(span, err) }()

	if token == "" {
		return false, nil
	}
	tokenHash := s.tokens.Hash(token)

	session, err := s.sessions.Deactivate(ctx, tokenHash)
	s.cache.Invalidate(tokenHash)
	if err != nil {
		return false, pkgerrors.Transient(err, "deactivate session")
	}
	s.publish(ctx, cache.ScopeTokens, tokenHash)

	if session == nil {
		return false, nil
	}

	s.metrics.Revoked("token", 1)
	s.record(ctx, domain.AuditEvent{
		Kind:        domain.EventLogout,
		UserID:      session.UserID,
		TenantID:    session.TenantID,
		Description: "Cierre de sesión",
		Metadata:    map[string]string{"sesion_id": session.ID},
	})
	s.log.Info("session revoked",
		logger.CtxField(ctx),
		logger.String("user_id", session.UserID),
		logger.String("tenant_id", session.TenantID),
		logger.String("session", hash.Fingerprint(tokenHash)),
	)
	return true, nil
}

// RevokeAllForUser деактивирует все активные сессии пользователя
func (s *Service) RevokeAllForUser(ctx context.Context, userID string) (n int, err error) {
	ctx, span := s.metrics.StartSpan(ctx, "auth.RevokeAllForUser", attribute.String("user_id", userID))
	defer func() { metrics.EndSpan(span, err) }()

	hashes, err := s.sessions.DeactivateByUser(ctx, userID)
	s.cache.InvalidateByUser(userID)
	if err != nil {
		return 0, pkgerrors.Transient(err, "deactivate user sessions")
	}
	s.publish(ctx, cache.ScopeUser, userID)

	s.metrics.Revoked("user", int64(len(hashes)))
	s.log.Info("user sessions revoked",
		logger.CtxField(ctx),
		logger.String("user_id", userID),
		logger.Int("count", len(hashes)),
	)
	return len(hashes), nil
}

// RevokeAllForTenant деактивирует все активные сессии бизнеса
func (s *Service) RevokeAllForTenant(ctx context.Context, tenantID string) (n int, err error) {
	ctx, span := s.metrics.StartSpan(ctx, "auth.RevokeAllForTenant", attribute.String("tenant_id", tenantID))
	defer func() { metrics.EndSpan(span, err) }()

	hashes, err := s.sessions.DeactivateByTenant(ctx, tenantID)
	s.cache.InvalidateByTenant(tenantID)
	if err != nil {
		return 0, pkgerrors.Transient(err, "deactivate tenant sessions")
	}
	s.publish(ctx, cache.ScopeTenant, tenantID)

	s.metrics.Revoked("tenant", int64(len(hashes)))
	s.log.Info("tenant sessions revoked",
		logger.CtxField(ctx),
		logger.String("tenant_id", tenantID),
		logger.Int("count", len(hashes)),
	)
	return len(hashes), nil
}

// BlockUser блокирует пользователя и отзывает все его сессии
func (s *Service) BlockUser(ctx context.Context, actor domain.Actor, userID string) (int, error) {
	user, err := s.targetUser(ctx, actor, userID)
	if err != nil || user == nil {
		return 0, err
	}

	if _, err := s.users.Lock(ctx, user.ID); err != nil {
		return 0, pkgerrors.Transient(err, "lock user")
	}
	n, err := s.RevokeAllForUser(ctx, user.ID)
	if err != nil {
		return 0, err
	}

	s.record(ctx, domain.AuditEvent{
		Kind:        domain.EventUserBlocked,
		UserID:      user.ID,
		TenantID:    user.TenantID,
		Description: "Usuario bloqueado por administrador",
		Metadata: map[string]string{
			"por":      actor.UserID,
			"sesiones": strconv.Itoa(n),
		},
	})
	s.log.Warn("user blocked",
		logger.CtxField(ctx),
		logger.String("user_id", user.ID),
		logger.String("tenant_id", user.TenantID),
		logger.String("actor_id", actor.UserID),
	)
	return n, nil
}

// UnblockUser снимает блокировку и обнуляет счетчик попыток
func (s *Service) UnblockUser(ctx context.Context, actor domain.Actor, userID string) (bool, error) {
	user, err := s.targetUser(ctx, actor, userID)
	if err != nil || user == nil {
		return false, err
	}

	ok, err := s.users.Unlock(ctx, user.ID)
	if err != nil {
		return false, pkgerrors.Transient(err, "unlock user")
	}

	s.record(ctx, domain.AuditEvent{
		Kind:        domain.EventUserUnblocked,
		UserID:      user.ID,
		TenantID:    user.TenantID,
		Description: "Usuario desbloqueado por administrador",
		Metadata:    map[string]string{"por": actor.UserID},
	})
	s.log.Info("user unblocked",
		logger.CtxField(ctx),
		logger.String("user_id", user.ID),
		logger.String("actor_id", actor.UserID),
	)
	return ok, nil
}

// RevokeUserSessions административный отзыв сессий пользователя без блокировки
func (s *Service) RevokeUserSessions(ctx context.Context, actor domain.Actor, userID string) (int, error) {
	user, err := s.targetUser(ctx, actor, userID)
	if err != nil || user == nil {
		return 0, err
	}

	n, err := s.RevokeAllForUser(ctx, user.ID)
	if err != nil {
		return 0, err
	}
	s.record(ctx, domain.AuditEvent{
		Kind:        domain.EventSessionsRevoked,
		UserID:      user.ID,
		TenantID:    user.TenantID,
		Description: "Sesiones revocadas por administrador",
		Metadata: map[string]string{
			"por":      actor.UserID,
			"sesiones": strconv.Itoa(n),
		},
	})
	return n, nil
}

// SuspendTenant отзывает все сессии бизнеса
func (s *Service) SuspendTenant(ctx context.Context, actor domain.Actor, tenantID string) (int, error) {
	if !actor.CanManageTenant(tenantID) {
		return 0, pkgerrors.New(pkgerrors.ErrForbidden, "tenant is outside of actor scope")
	}

	n, err := s.RevokeAllForTenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	s.record(ctx, domain.AuditEvent{
		Kind:        domain.EventTenantSuspended,
		UserID:      actor.UserID,
		TenantID:    tenantID,
		Description: "Negocio suspendido, sesiones revocadas",
		Metadata:    map[string]string{"sesiones": strconv.Itoa(n)},
	})
	s.log.Warn("tenant suspended",
		logger.CtxField(ctx),
		logger.String("tenant_id", tenantID),
		logger.String("actor_id", actor.UserID),
		logger.Int("count", n),
	)
	return n, nil
}

// targetUser возвращает nil без ошибки, если пользователя нет.
// Пользователь другого бизнеса вне полномочий инициатора.
func (s *Service) targetUser(ctx context.Context, actor domain.Actor, userID string) (*domain.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Transient(err, "find user")
	}
	if !actor.CanManageTenant(user.TenantID) {
		return nil, pkgerrors.New(pkgerrors.ErrForbidden, "user is outside of actor scope")
	}
	return user, nil
}
