package http

import (
	"net/http"
	"strings"
	"time"

	"WorkshopPlatform/services/auth-service/internal/pkg/hash"
)

// CookieConfig атрибуты cookie сессии
type CookieConfig struct {
	Name     string
	Domain   string
	Path     string
	Secure   bool
	SameSite string
}

var hasher = hash.NewTokenHasher()

func tokenHash(token string) string {
	return hasher.Hash(token)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.Cookie.Name,
		Value:    token,
		Domain:   h.cfg.Cookie.Domain,
		Path:     cookiePath(h.cfg.Cookie.Path),
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.cfg.Cookie.Secure,
		SameSite: sameSite(h.cfg.Cookie.SameSite),
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.Cookie.Name,
		Value:    "",
		Domain:   h.cfg.Cookie.Domain,
		Path:     cookiePath(h.cfg.Cookie.Path),
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.Cookie.Secure,
		SameSite: sameSite(h.cfg.Cookie.SameSite),
	})
}

func cookiePath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

func sameSite(mode string) http.SameSite {
	switch strings.ToLower(mode) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}
