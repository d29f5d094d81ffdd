package repository

import (
	"context"
	"errors"
	"time"

	"WorkshopPlatform/services/auth-service/internal/domain"
)

// ErrNotFound запись не найдена
var ErrNotFound = errors.New("not found")

// UserRepository интерфейс для работы с пользователями (usuarios)
type UserRepository interface {
	// FindByUsername ищет пользователя в рамках negocio_id вместе с ролью
	FindByUsername(ctx context.Context, tenantID, username string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	// RegisterFailedAttempt атомарно увеличивает счетчик неудачных попыток
	// и блокирует пользователя, когда счетчик достигает maxAttempts
	RegisterFailedAttempt(ctx context.Context, id string, maxAttempts int) (attempts int, locked bool, err error)
	// Lock возвращает false, если пользователь не найден
	Lock(ctx context.Context, id string) (bool, error)
	Unlock(ctx context.Context, id string) (bool, error)
	// RecordSuccessfulLogin обнуляет счетчик только у незаблокированного
	// пользователя; false означает, что блокировка уже стоит
	RecordSuccessfulLogin(ctx context.Context, id string, at time.Time) (bool, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// SessionRepository интерфейс для работы с сессиями (sesiones).
// Сессии не удаляются, только деактивируются.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	FindActiveByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	// Deactivate возвращает деактивированную сессию или nil, если активной не было
	Deactivate(ctx context.Context, tokenHash string) (*domain.Session, error)
	DeactivateByUser(ctx context.Context, userID string) ([]string, error)
	DeactivateByTenant(ctx context.Context, tenantID string) ([]string, error)
	DeactivateExpired(ctx context.Context, now time.Time) ([]string, error)
	// Extend продлевает активную неистекшую сессию
	Extend(ctx context.Context, tokenHash string, expiresAt, now time.Time) (*domain.Session, error)
	// Rotate деактивирует активную неистекшую сессию и создает вместо нее
	// новую с newHash. Старая строка остается в истории.
	Rotate(ctx context.Context, oldHash, newHash string, expiresAt, now time.Time) (*domain.Session, error)
}

// AuditRepository запись событий в eventos_sistema
type AuditRepository interface {
	Insert(ctx context.Context, event *domain.AuditEvent) error
}

// PolicyRepository чтение параметров из configuracion.
// Возвращает глобальные значения, перекрытые значениями бизнеса.
type PolicyRepository interface {
	Load(ctx context.Context, tenantID string) (map[string]string, error)
}
