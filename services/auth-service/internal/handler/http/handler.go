package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	pkgerrors "WorkshopPlatform/pkg/errors"
	"WorkshopPlatform/pkg/logger"
	"WorkshopPlatform/pkg/ratelimit"
	"WorkshopPlatform/services/auth-service/internal/domain"
	"WorkshopPlatform/services/auth-service/internal/middleware"
	"WorkshopPlatform/services/auth-service/internal/service"
)

// CSRFManager выпуск и проверка анти-CSRF токенов
type CSRFManager interface {
	Issue(sessionHash string) (string, time.Time, error)
	Verify(token, sessionHash string) error
}

// Config параметры HTTP границы
type Config struct {
	Cookie         CookieConfig
	TenantHeader   string
	CSRFHeader     string
	LoginPerMinute int
}

// Handler HTTP обработчики /api/v1/auth
type Handler struct {
	svc     service.AuthService
	csrf    CSRFManager
	limiter ratelimit.RateLimiter
	cfg     Config
	log     logger.Logger
}

// NewHandler создает новый экземпляр Handler
func NewHandler(svc service.AuthService, csrf CSRFManager, limiter ratelimit.RateLimiter, cfg Config, log logger.Logger) *Handler {
	if cfg.CSRFHeader == "" {
		cfg.CSRFHeader = "X-CSRF-Token"
	}
	if cfg.LoginPerMinute <= 0 {
		cfg.LoginPerMinute = 10
	}
	return &Handler{svc: svc, csrf: csrf, limiter: limiter, cfg: cfg, log: log}
}

// Routes маршруты сервиса, монтируются в /api/v1/auth
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	sessionCfg := middleware.SessionConfig{CookieName: h.cfg.Cookie.Name, TenantHeader: h.cfg.TenantHeader}

	r.With(middleware.RateLimit(h.limiter, "login", h.cfg.LoginPerMinute, time.Minute, middleware.ByIP, h.log)).
		Post("/login", h.login)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(h.svc, sessionCfg, h.log))

		r.Get("/session", h.session)
		r.Get("/csrf", h.issueCSRF)
		r.Post("/refresh", h.refresh)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireCSRF(h.csrf, h.cfg.CSRFHeader, h.log))
			r.Post("/logout", h.logout)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequirePermission(domain.PermissionBlockUsers, h.log))
				r.Post("/users/{id}/block", h.blockUser)
				r.Post("/users/{id}/unblock", h.unblockUser)
				r.Delete("/users/{id}/sessions", h.revokeUserSessions)
				r.Delete("/tenants/{id}/sessions", h.suspendTenant)
			})
		})
	})

	return r
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TenantID string `json:"negocio_id"`
}

type loginResponse struct {
	User      domain.UserView `json:"usuario"`
	ExpiresAt time.Time       `json:"expira"`
	CSRFToken string          `json:"csrf_token"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		pkgerrors.WriteJSON(w, r, pkgerrors.Wrap(err, pkgerrors.ErrValidation, "invalid request body").
			WithDetails("cuerpo JSON inválido"))
		return
	}
	if req.TenantID == "" {
		req.TenantID = r.Header.Get(h.cfg.TenantHeader)
	}

	res, err := h.svc.Authenticate(r.Context(), service.LoginRequest{
		Username:  strings.TrimSpace(req.Username),
		Password:  req.Password,
		TenantID:  req.TenantID,
		IP:        middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		pkgerrors.WriteJSON(w, r, err)
		return
	}

	csrfToken, _, err := h.csrf.Issue(tokenHash(res.Token))
	if err != nil {
		pkgerrors.WriteJSON(w, r, pkgerrors.Wrap(err, pkgerrors.ErrInternal, "issue csrf token"))
		return
	}

	h.setSessionCookie(w, res.Token, res.ExpiresAt)
	writeJSON(w, http.StatusOK, loginResponse{
		User:      res.User,
		ExpiresAt: res.ExpiresAt,
		CSRFToken: csrfToken,
	})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	claims, _ := service.ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, claims)
}

type csrfResponse struct {
	Token     string    `json:"csrf_token"`
	ExpiresAt time.Time `json:"expira"`
}

func (h *Handler) issueCSRF(w http.ResponseWriter, r *http.Request) {
	token, expiresAt, err := h.csrf.Issue(service.TokenHashFromContext(r.Context()))
	if err != nil {
		pkgerrors.WriteJSON(w, r, pkgerrors.Wrap(err, pkgerrors.ErrInternal, "issue csrf token"))
		return
	}
	writeJSON(w, http.StatusOK, csrfResponse{Token: token, ExpiresAt: expiresAt})
}

type refreshResponse struct {
	ExpiresAt time.Time `json:"expira"`
	Rotated   bool      `json:"rotada"`
	CSRFToken string    `json:"csrf_token,omitempty"`
}

// refresh не требует анти-CSRF токена: продление не меняет данных
// пользователя, а после ротации старый токен CSRF недействителен
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	cookie, _ := r.Cookie(h.cfg.Cookie.Name)

	res, err := h.svc.Renew(r.Context(), cookie.Value)
	if err != nil {
		pkgerrors.WriteJSON(w, r, err)
		return
	}

	resp := refreshResponse{ExpiresAt: res.ExpiresAt, Rotated: res.Rotated}
	if res.Rotated {
		resp.CSRFToken, _, err = h.csrf.Issue(tokenHash(res.Token))
		if err != nil {
			pkgerrors.WriteJSON(w, r, pkgerrors.Wrap(err, pkgerrors.ErrInternal, "issue csrf token"))
			return
		}
	}

	h.setSessionCookie(w, res.Token, res.ExpiresAt)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	cookie, _ := r.Cookie(h.cfg.Cookie.Name)

	if _, err := h.svc.RevokeOne(r.Context(), cookie.Value); err != nil {
		pkgerrors.WriteJSON(w, r, err)
		return
	}
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type revokedResponse struct {
	Revoked int `json:"sesiones_revocadas"`
}

func (h *Handler) blockUser(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.BlockUser(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		pkgerrors.WriteJSON(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revokedResponse{Revoked: n})
}

func (h *Handler) unblockUser(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.UnblockUser(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		pkgerrors.WriteJSON(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"desbloqueado": ok})
}

func (h *Handler) revokeUserSessions(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.RevokeUserSessions(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		pkgerrors.WriteJSON(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revokedResponse{Revoked: n})
}

func (h *Handler) suspendTenant(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.SuspendTenant(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		pkgerrors.WriteJSON(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revokedResponse{Revoked: n})
}

func actor(r *http.Request) domain.Actor {
	claims, _ := service.ClaimsFromContext(r.Context())
	return domain.ActorFrom(claims)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
