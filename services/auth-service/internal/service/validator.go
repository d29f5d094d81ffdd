package service

import (
	"context"

	pkgerrors "WorkshopPlatform/pkg/errors"
	"WorkshopPlatform/pkg/logger"
	"WorkshopPlatform/pkg/metrics"
	"WorkshopPlatform/services/auth-service/internal/domain"
	"WorkshopPlatform/services/auth-service/internal/pkg/hash"
)

// Validate возвращает claims сессии по токену.
//
// Запись кэша используется, пока ее срок не прошел. Иначе сессия читается
// из базы: истекшая деактивируется, а сессия заблокированного пользователя
// отзывается вместе со всеми остальными его сессиями.
func (s *Service) Validate(ctx context.Context, token string) (claims domain.SessionClaims, err error) {
	if token == "" {
		s.metrics.Validation("none", "invalid")
		return domain.SessionClaims{}, errInvalidSession()
	}

	tokenHash := s.tokens.Hash(token)
	now := s.now()

	if cached, ok := s.cache.Get(tokenHash); ok {
		if now.Before(cached.ExpiresAt) {
			s.metrics.Validation("cache", "success")
			return cached, nil
		}
		s.cache.Invalidate(tokenHash)
	}

	ctx, span := s.metrics.StartSpan(ctx, "auth.Validate")
	defer func() {
		s.metrics.Validation("store", outcome(err))
		metrics.EndSpan(span, err)
	}()

	log := s.log.With(logger.CtxField(ctx), logger.String("session", hash.Fingerprint(tokenHash)))

	// Эпоха читается до базы: отзыв, случившийся между чтением
	// и записью в кэш, отменит запись
	epoch := s.cache.Epoch()

	session, err := s.sessions.FindActiveByTokenHash(ctx, tokenHash)
	if err != nil {
		if isNotFound(err) {
			return domain.SessionClaims{}, errInvalidSession()
		}
		return domain.SessionClaims{}, pkgerrors.Transient(err, "find session")
	}

	if session.Expired(now) {
		if _, err := s.sessions.Deactivate(ctx, tokenHash); err != nil {
			return domain.SessionClaims{}, pkgerrors.Transient(err, "deactivate expired session")
		}
		s.cache.Invalidate(tokenHash)
		log.Debug("session expired", logger.Time("expires_at", session.ExpiresAt))
		return domain.SessionClaims{}, errSessionExpired()
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		if !isNotFound(err) {
			return domain.SessionClaims{}, pkgerrors.Transient(err, "find session owner")
		}
		// Сессия без владельца
		if _, err := s.sessions.Deactivate(ctx, tokenHash); err != nil {
			return domain.SessionClaims{}, pkgerrors.Transient(err, "deactivate orphan session")
		}
		log.Warn("session owner not found", logger.String("user_id", session.UserID))
		return domain.SessionClaims{}, errInvalidSession()
	}

	if user.Locked {
		n, err := s.RevokeAllForUser(ctx, user.ID)
		if err != nil {
			return domain.SessionClaims{}, err
		}
		log.Warn("session of locked user rejected",
			logger.String("user_id", user.ID),
			logger.Int("revoked", n),
		)
		return domain.SessionClaims{}, errAccountLocked()
	}

	claims = domain.ClaimsFor(user, session)
	s.cache.PutIfEpoch(tokenHash, claims, epoch)
	return claims, nil
}
