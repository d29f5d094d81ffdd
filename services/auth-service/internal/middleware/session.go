package middleware

import (
	"context"
	"net/http"

	pkgerrors "WorkshopPlatform/pkg/errors"
	"WorkshopPlatform/pkg/logger"
	"WorkshopPlatform/services/auth-service/internal/domain"
	"WorkshopPlatform/services/auth-service/internal/pkg/hash"
	"WorkshopPlatform/services/auth-service/internal/service"
)

// SessionValidator проверка токена сессии
type SessionValidator interface {
	Validate(ctx context.Context, token string) (domain.SessionClaims, error)
}

// SessionConfig параметры проверки сессии
type SessionConfig struct {
	CookieName   string
	TenantHeader string
}

// RequireSession проверяет токен из cookie и кладет claims в контекст.
// Заголовок бизнеса обязателен и должен совпадать с бизнесом сессии.
func RequireSession(validator SessionValidator, cfg SessionConfig, log logger.Logger) func(http.Handler) http.Handler {
	tokens := hash.NewTokenHasher()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(cfg.CookieName)
			if err != nil || cookie.Value == "" {
				pkgerrors.WriteJSON(w, r, pkgerrors.New(pkgerrors.ErrUnauthorized, "session cookie missing"))
				return
			}

			tenantID := r.Header.Get(cfg.TenantHeader)
			if tenantID == "" {
				pkgerrors.WriteJSON(w, r, pkgerrors.New(pkgerrors.ErrValidation, "tenant header missing").
					WithDetails(cfg.TenantHeader+" is required"))
				return
			}

			claims, err := validator.Validate(r.Context(), cookie.Value)
			if err != nil {
				pkgerrors.WriteJSON(w, r, err)
				return
			}

			if claims.TenantID != tenantID {
				log.Warn("session used with another tenant",
					logger.CtxField(r.Context()),
					logger.String("user_id", claims.UserID),
					logger.String("session_tenant", claims.TenantID),
					logger.String("header_tenant", tenantID),
				)
				pkgerrors.WriteJSON(w, r, pkgerrors.New(pkgerrors.ErrInvalidSession, "tenant mismatch"))
				return
			}

			ctx := service.WithClaims(r.Context(), claims, tokens.Hash(cookie.Value))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission пропускает запрос, только если у сессии есть право
func RequirePermission(permission string, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := service.ClaimsFromContext(r.Context())
			if !ok {
				pkgerrors.WriteJSON(w, r, pkgerrors.New(pkgerrors.ErrUnauthorized, "no session in context"))
				return
			}
			if !claims.HasPermission(permission) {
				log.Warn("insufficient permissions",
					logger.CtxField(r.Context()),
					logger.String("user_id", claims.UserID),
					logger.String("required", permission),
					logger.String("path", r.URL.Path),
				)
				pkgerrors.WriteJSON(w, r, pkgerrors.New(pkgerrors.ErrForbidden, "insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
