package service

import (
	"context"
	"strconv"

	pkgerrors "WorkshopPlatform/pkg/errors"
	"WorkshopPlatform/pkg/logger"
	"WorkshopPlatform/pkg/metrics"
	"WorkshopPlatform/services/auth-service/internal/cache"
	"WorkshopPlatform/services/auth-service/internal/domain"
	"WorkshopPlatform/services/auth-service/internal/pkg/hash"
)

// Renew продлевает действующую сессию до now + session_timeout_minutes.
// Истекшая или отозванная сессия не продлевается. При включенной ротации
// выдается новый токен, а старый перестает действовать тем же запросом.
func (s *Service) Renew(ctx context.Context, token string) (result *domain.RenewResult, err error) {
	claims, err := s.Validate(ctx, token)
	if err != nil {
		s.metrics.Renewal(outcome(err))
		return nil, err
	}

	ctx, span := s.metrics.StartSpan(ctx, "auth.Renew")
	defer func() {
		s.metrics.Renewal(outcome(err))
		metrics.EndSpan(span, err)
	}()

	policy, err := s.policies.Policy(ctx, claims.TenantID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(policy.SessionTimeout())
	tokenHash := s.tokens.Hash(token)

	result = &domain.RenewResult{Token: token}

	if s.rotateOnRenew {
		newToken, err := hash.NewToken()
		if err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal, "generate session token")
		}
		newHash := s.tokens.Hash(newToken)

		session, err := s.sessions.Rotate(ctx, tokenHash, newHash, expiresAt, now)
		if err != nil {
			s.cache.Invalidate(tokenHash)
			if isNotFound(err) {
				return nil, errInvalidSession()
			}
			return nil, pkgerrors.Transient(err, "rotate session")
		}
		s.cache.Move(tokenHash, newHash, session.ExpiresAt)
		s.publish(ctx, cache.ScopeTokens, tokenHash)

		result.Token = newToken
		result.ExpiresAt = session.ExpiresAt
		result.Rotated = true
	} else {
		session, err := s.sessions.Extend(ctx, tokenHash, expiresAt, now)
		if err != nil {
			if isNotFound(err) {
				s.cache.Invalidate(tokenHash)
				return nil, errInvalidSession()
			}
			return nil, pkgerrors.Transient(err, "extend session")
		}
		s.cache.UpdateExpiry(tokenHash, session.ExpiresAt)
		result.ExpiresAt = session.ExpiresAt
	}

	s.record(ctx, domain.AuditEvent{
		Kind:        domain.EventSessionRenewed,
		UserID:      claims.UserID,
		TenantID:    claims.TenantID,
		Description: "Sesión renovada",
		Metadata:    map[string]string{"rotada": strconv.FormatBool(result.Rotated)},
	})
	s.log.Debug("session renewed",
		logger.CtxField(ctx),
		logger.String("user_id", claims.UserID),
		logger.String("session", hash.Fingerprint(tokenHash)),
		logger.Bool("rotated", result.Rotated),
		logger.Time("expires_at", result.ExpiresAt),
	)
	return result, nil
}
