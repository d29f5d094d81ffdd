package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"WorkshopPlatform/pkg/database"
	"WorkshopPlatform/services/auth-service/internal/domain"
	"WorkshopPlatform/services/auth-service/internal/repository"
)

const sessionColumns = `id, token_hash, usuario_id, negocio_id,
	fecha_creacion, fecha_expiracion, ultima_actividad, activa`

// SessionRepository реализация репозитория сессий для PostgreSQL
type SessionRepository struct {
	db database.DB
}

// NewSessionRepository создает новый экземпляр SessionRepository
func NewSessionRepository(db database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

var _ repository.SessionRepository = (*SessionRepository)(nil)

// Create сохраняет новую сессию
func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	query := `INSERT INTO sesiones (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		s.ID,
		s.TokenHash,
		s.UserID,
		s.TenantID,
		s.CreatedAt,
		s.ExpiresAt,
		s.LastActivityAt,
		s.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindActiveByTokenHash возвращает активную сессию. Истекшие тоже
// возвращаются: срок проверяет вызывающий.
func (r *SessionRepository) FindActiveByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sesiones WHERE token_hash = $1 AND activa`

	s, err := scanSession(r.db.QueryRow(ctx, query, tokenHash))
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// Deactivate деактивирует одну сессию
func (r *SessionRepository) Deactivate(ctx context.Context, tokenHash string) (*domain.Session, error) {
	query := `UPDATE sesiones SET activa = FALSE
		WHERE token_hash = $1 AND activa
		RETURNING ` + sessionColumns

	s, err := scanSession(r.db.QueryRow(ctx, query, tokenHash))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate session: %w", err)
	}
	return s, nil
}

// DeactivateByUser деактивирует все активные сессии пользователя
func (r *SessionRepository) DeactivateByUser(ctx context.Context, userID string) ([]string, error) {
	return r.deactivateMany(ctx,
		`UPDATE sesiones SET activa = FALSE WHERE usuario_id = $1 AND activa RETURNING token_hash`, userID)
}

// DeactivateByTenant деактивирует все активные сессии бизнеса
func (r *SessionRepository) DeactivateByTenant(ctx context.Context, tenantID string) ([]string, error) {
	return r.deactivateMany(ctx,
		`UPDATE sesiones SET activa = FALSE WHERE negocio_id = $1 AND activa RETURNING token_hash`, tenantID)
}

// DeactivateExpired деактивирует сессии, срок которых прошел к моменту now
func (r *SessionRepository) DeactivateExpired(ctx context.Context, now time.Time) ([]string, error) {
	return r.deactivateMany(ctx,
		`UPDATE sesiones SET activa = FALSE WHERE activa AND fecha_expiracion <= $1 RETURNING token_hash`, now)
}

// Extend продлевает сессию, если она активна и не истекла
func (r *SessionRepository) Extend(ctx context.Context, tokenHash string, expiresAt, now time.Time) (*domain.Session, error) {
	query := `UPDATE sesiones SET fecha_expiracion = $2, ultima_actividad = $3
		WHERE token_hash = $1 AND activa AND fecha_expiracion > $3
		RETURNING ` + sessionColumns

	s, err := scanSession(r.db.QueryRow(ctx, query, tokenHash, expiresAt, now))
	if err != nil {
		return nil, fmt.Errorf("failed to extend session: %w", err)
	}
	return s, nil
}

// Rotate одним выражением деактивирует старую сессию и вставляет новую:
// старый токен перестает находиться в тот же момент, когда начинает
// работать новый
func (r *SessionRepository) Rotate(ctx context.Context, oldHash, newHash string, expiresAt, now time.Time) (*domain.Session, error) {
	query := `WITH old AS (
			UPDATE sesiones SET activa = FALSE, ultima_actividad = $4
			WHERE token_hash = $1 AND activa AND fecha_expiracion > $4
			RETURNING usuario_id, negocio_id
		)
		INSERT INTO sesiones (` + sessionColumns + `)
		SELECT $5, $2, usuario_id, negocio_id, $4, $3, $4, TRUE FROM old
		RETURNING ` + sessionColumns

	s, err := scanSession(r.db.QueryRow(ctx, query, oldHash, newHash, expiresAt, now, uuid.NewString()))
	if err != nil {
		return nil, fmt.Errorf("failed to rotate session: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) deactivateMany(ctx context.Context, query string, arg any) ([]string, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate sessions: %w", err)
	}
	hashes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect deactivated sessions: %w", err)
	}
	return hashes, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(
		&s.ID,
		&s.TokenHash,
		&s.UserID,
		&s.TenantID,
		&s.CreatedAt,
		&s.ExpiresAt,
		&s.LastActivityAt,
		&s.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}
