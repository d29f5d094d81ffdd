package middleware

import (
	"net/http"

	pkgerrors "WorkshopPlatform/pkg/errors"
	"WorkshopPlatform/pkg/logger"
	"WorkshopPlatform/services/auth-service/internal/service"
)

// CSRFVerifier проверка анти-CSRF токена, привязанного к сессии
type CSRFVerifier interface {
	Verify(token, sessionHash string) error
}

// RequireCSRF проверяет заголовок header на изменяющих запросах.
// Ставится после RequireSession.
func RequireCSRF(verifier CSRFVerifier, header string, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			sessionHash := service.TokenHashFromContext(r.Context())
			if sessionHash == "" {
				pkgerrors.WriteJSON(w, r, pkgerrors.New(pkgerrors.ErrUnauthorized, "no session in context"))
				return
			}

			token := r.Header.Get(header)
			if token == "" {
				pkgerrors.WriteJSON(w, r, pkgerrors.New(pkgerrors.ErrForbidden, "csrf token missing"))
				return
			}
			if err := verifier.Verify(token, sessionHash); err != nil {
				log.Warn("csrf token rejected",
					logger.CtxField(r.Context()),
					logger.String("path", r.URL.Path),
					logger.Error(err),
				)
				pkgerrors.WriteJSON(w, r, pkgerrors.Wrap(err, pkgerrors.ErrForbidden, "csrf token rejected"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
