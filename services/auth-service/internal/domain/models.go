package domain

import (
	"time"
)

// User представляет пользователя системы (таблица usuarios).
// Имя пользователя уникально в рамках negocio_id.
type User struct {
	ID             string
	TenantID       string
	Username       string
	PasswordHash   string
	Name           string
	Email          string
	RoleID         string
	RoleName       string
	Permissions    []string
	Locked         bool
	FailedAttempts int
	LastAccessAt   *time.Time
}

// View возвращает представление пользователя без хеша пароля
func (u *User) View() UserView {
	return UserView{
		ID:          u.ID,
		TenantID:    u.TenantID,
		Username:    u.Username,
		Name:        u.Name,
		Email:       u.Email,
		Role:        u.RoleName,
		Permissions: append([]string(nil), u.Permissions...),
	}
}

// UserView пользователь, отдаваемый клиенту после входа
type UserView struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"negocio_id"`
	Username    string   `json:"username"`
	Name        string   `json:"nombre"`
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"rol"`
	Permissions []string `json:"permisos"`
}

// Session представляет сессию пользователя (таблица sesiones).
// Хранится только SHA-256 дайджест токена. Строки не удаляются,
// а деактивируются.
type Session struct {
	ID             string
	TokenHash      string
	UserID         string
	TenantID       string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastActivityAt time.Time
	Active         bool
}

// Expired сообщает, истекла ли сессия к моменту now
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionClaims данные сессии, которые получает вызывающий после проверки
type SessionClaims struct {
	UserID      string    `json:"usuario_id"`
	Username    string    `json:"username"`
	Name        string    `json:"nombre"`
	Role        string    `json:"rol"`
	Permissions []string  `json:"permisos"`
	TenantID    string    `json:"negocio_id"`
	ExpiresAt   time.Time `json:"expira"`
}

// ClaimsFor собирает claims из пользователя и сессии
func ClaimsFor(u *User, s *Session) SessionClaims {
	return SessionClaims{
		UserID:      u.ID,
		Username:    u.Username,
		Name:        u.Name,
		Role:        u.RoleName,
		Permissions: append([]string(nil), u.Permissions...),
		TenantID:    s.TenantID,
		ExpiresAt:   s.ExpiresAt,
	}
}

// HasPermission проверяет право. "*" разрешает всё.
func (c SessionClaims) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		if p == "*" || p == permission {
			return true
		}
	}
	return false
}

// Права, которые проверяет сервис
const (
	// PermissionBlockUsers блокировка пользователей и отзыв их сессий
	PermissionBlockUsers = "usuarios:bloquear"
	// PermissionPlatformAdmin действия над чужими бизнесами
	PermissionPlatformAdmin = "plataforma:admin"
)

// Actor инициатор административного действия
type Actor struct {
	UserID   string
	TenantID string
	Global   bool
}

// ActorFrom собирает инициатора из claims его сессии
func ActorFrom(c SessionClaims) Actor {
	return Actor{
		UserID:   c.UserID,
		TenantID: c.TenantID,
		Global:   c.HasPermission(PermissionPlatformAdmin),
	}
}

// CanManageTenant может ли инициатор управлять бизнесом tenantID
func (a Actor) CanManageTenant(tenantID string) bool {
	return a.Global || a.TenantID == tenantID
}

// LoginResult результат успешной аутентификации.
// Token передается клиенту только в HTTP-only cookie.
type LoginResult struct {
	Token     string
	User      UserView
	ExpiresAt time.Time
}

// RenewResult результат продления. Token отличается от исходного
// только при включенной ротации.
type RenewResult struct {
	Token     string
	ExpiresAt time.Time
	Rotated   bool
}

// Policy настраиваемые параметры входа и сессий
type Policy struct {
	MaxLoginAttempts      int
	InactiveUserDays      int
	SessionTimeoutMinutes int
}

// SessionTimeout длительность сессии
func (p Policy) SessionTimeout() time.Duration {
	return time.Duration(p.SessionTimeoutMinutes) * time.Minute
}

// InactivityThreshold срок неактивности, после которого вход запрещен
func (p Policy) InactivityThreshold() time.Duration {
	return time.Duration(p.InactiveUserDays) * 24 * time.Hour
}

// Ключи таблицы configuracion
const (
	PolicyKeyMaxLoginAttempts = "max_login_attempts"
	PolicyKeyInactiveUserDays = "inactive_user_days"
	PolicyKeySessionTimeout   = "session_timeout_minutes"
)

// EventKind тип события аудита
type EventKind string

const (
	EventLoginSuccess     EventKind = "login_exitoso"
	EventLoginFailed      EventKind = "login_fallido"
	EventLogout           EventKind = "logout"
	EventAccountLocked    EventKind = "cuenta_bloqueada"
	EventUserBlocked      EventKind = "usuario_bloqueado"
	EventUserUnblocked    EventKind = "usuario_desbloqueado"
	EventSessionsRevoked  EventKind = "sesiones_revocadas"
	EventTenantSuspended  EventKind = "negocio_suspendido"
	EventSessionRenewed   EventKind = "sesion_renovada"
	EventSessionExpired   EventKind = "sesion_expirada"
	EventPasswordRehashed EventKind = "password_migrado"
)

// AuditEvent неизменяемая запись журнала eventos_sistema
type AuditEvent struct {
	ID          string            `json:"id"`
	Kind        EventKind         `json:"tipo"`
	UserID      string            `json:"usuario_id,omitempty"`
	TenantID    string            `json:"negocio_id"`
	Description string            `json:"descripcion"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	OccurredAt  time.Time         `json:"fecha"`
}
