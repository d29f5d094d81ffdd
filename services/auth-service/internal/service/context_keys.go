package service

import (
	"context"

	"WorkshopPlatform/services/auth-service/internal/domain"
)

// Ключи для использования в контексте.
// Используются для передачи данных между middleware и обработчиками.
type contextKey int

const (
	claimsKey contextKey = iota
	tokenHashKey
)

// WithClaims сохраняет claims проверенной сессии
func WithClaims(ctx context.Context, claims domain.SessionClaims, tokenHash string) context.Context {
	ctx = context.WithValue(ctx, claimsKey, claims)
	return context.WithValue(ctx, tokenHashKey, tokenHash)
}

// ClaimsFromContext возвращает claims, если запрос прошел проверку сессии
func ClaimsFromContext(ctx context.Context) (domain.SessionClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(domain.SessionClaims)
	return claims, ok
}

// TokenHashFromContext возвращает дайджест токена текущей сессии
func TokenHashFromContext(ctx context.Context) string {
	h, _ := ctx.Value(tokenHashKey).(string)
	return h
}
