package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"WorkshopPlatform/pkg/database"
	"WorkshopPlatform/services/auth-service/internal/domain"
	"WorkshopPlatform/services/auth-service/internal/repository"
)

const userColumns = `u.id, u.negocio_id, u.username, u.password_hash, u.nombre, u.email,
	COALESCE(u.rol_id, ''), COALESCE(r.nombre, ''), r.permisos,
	u.bloqueado, u.intentos_fallidos, u.ultimo_acceso`

// UserRepository реализация репозитория пользователей для PostgreSQL
type UserRepository struct {
	db database.DB
}

// NewUserRepository создает новый экземпляр UserRepository
func NewUserRepository(db database.DB) *UserRepository {
	return &UserRepository{db: db}
}

var _ repository.UserRepository = (*UserRepository)(nil)

// FindByUsername возвращает пользователя по имени в рамках бизнеса
func (r *UserRepository) FindByUsername(ctx context.Context, tenantID, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + `
		FROM usuarios u LEFT JOIN roles r ON r.id = u.rol_id
		WHERE u.negocio_id = $1 AND u.username = $2`

	user, err := scanUser(r.db.QueryRow(ctx, query, tenantID, username))
	if err != nil {
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return user, nil
}

// FindByID возвращает пользователя по его ID
func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + `
		FROM usuarios u LEFT JOIN roles r ON r.id = u.rol_id
		WHERE u.id = $1`

	user, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, nil
}

// RegisterFailedAttempt увеличивает счетчик одним выражением, поэтому
// параллельные попытки входа не теряют инкременты
func (r *UserRepository) RegisterFailedAttempt(ctx context.Context, id string, maxAttempts int) (int, bool, error) {
	query := `UPDATE usuarios SET
		intentos_fallidos = intentos_fallidos + 1,
		bloqueado = bloqueado OR (intentos_fallidos + 1 >= $2)
	WHERE id = $1
	RETURNING intentos_fallidos, bloqueado`

	var attempts int
	var locked bool
	err := r.db.QueryRow(ctx, query, id, maxAttempts).Scan(&attempts, &locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, repository.ErrNotFound
		}
		return 0, false, fmt.Errorf("failed to register failed attempt: %w", err)
	}
	return attempts, locked, nil
}

// Lock блокирует пользователя
func (r *UserRepository) Lock(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE usuarios SET bloqueado = TRUE WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to lock user: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Unlock снимает блокировку и обнуляет счетчик попыток
func (r *UserRepository) Unlock(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE usuarios SET bloqueado = FALSE, intentos_fallidos = 0 WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to unlock user: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordSuccessfulLogin обнуляет счетчик и проставляет ultimo_acceso.
// Заблокированная строка не меняется: блокировка, поставленная параллельной
// попыткой после чтения пользователя, сохраняется.
func (r *UserRepository) RecordSuccessfulLogin(ctx context.Context, id string, at time.Time) (bool, error) {
	var locked bool
	err := r.db.QueryRow(ctx, `
		WITH upd AS (
			UPDATE usuarios SET intentos_fallidos = 0, ultimo_acceso = $2
			WHERE id = $1 AND NOT bloqueado
			RETURNING id
		)
		SELECT NOT EXISTS (SELECT 1 FROM upd) FROM usuarios WHERE id = $1`, id, at).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, repository.ErrNotFound
		}
		return false, fmt.Errorf("failed to record login: %w", err)
	}
	return !locked, nil
}

// UpdatePasswordHash заменяет хеш пароля
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE usuarios SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("failed to update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	var permissions []byte

	err := row.Scan(
		&user.ID,
		&user.TenantID,
		&user.Username,
		&user.PasswordHash,
		&user.Name,
		&user.Email,
		&user.RoleID,
		&user.RoleName,
		&permissions,
		&user.Locked,
		&user.FailedAttempts,
		&user.LastAccessAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if len(permissions) > 0 {
		if err := json.Unmarshal(permissions, &user.Permissions); err != nil {
			return nil, fmt.Errorf("decode role permissions: %w", err)
		}
	}
	return &user, nil
}
