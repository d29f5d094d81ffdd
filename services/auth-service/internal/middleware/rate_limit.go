package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgerrors "WorkshopPlatform/pkg/errors"
	"WorkshopPlatform/pkg/logger"
	"WorkshopPlatform/pkg/ratelimit"
	"WorkshopPlatform/services/auth-service/internal/service"
)

// KeyFunc возвращает ключ ограничения для запроса
type KeyFunc func(r *http.Request) string

// ByIP ключ по адресу клиента
func ByIP(r *http.Request) string {
	return "ip:" + ClientIP(r)
}

// ByUser ключ по пользователю сессии, для анонимных запросов по IP
func ByUser(r *http.Request) string {
	if claims, ok := service.ClaimsFromContext(r.Context()); ok {
		return "user:" + claims.UserID
	}
	return ByIP(r)
}

// RateLimit ограничивает частоту запросов окном из pkg/ratelimit.
// prefix разделяет счетчики разных маршрутов. Сбой хранилища лимитов
// не блокирует запрос.
func RateLimit(limiter ratelimit.RateLimiter, prefix string, limit int, window time.Duration, key KeyFunc, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := prefix + ":" + key(r)

			exceeded, err := limiter.CheckRateLimit(r.Context(), k, limit, window)
			if err != nil {
				log.Error("rate limit check failed",
					logger.CtxField(r.Context()),
					logger.String("key", k),
					logger.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			if exceeded {
				log.Warn("rate limit exceeded",
					logger.CtxField(r.Context()),
					logger.String("key", k),
					logger.Int("limit", limit),
					logger.Duration("window", window),
					logger.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				pkgerrors.WriteJSON(w, r, pkgerrors.New(pkgerrors.ErrTooManyRequests, "too many requests"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP адрес клиента. Первый адрес X-Forwarded-For, затем X-Real-IP,
// затем RemoteAddr без порта.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
