package postgres

import (
	"context"
	"fmt"

	"WorkshopPlatform/pkg/database"
	"WorkshopPlatform/services/auth-service/internal/repository"
)

// PolicyRepository читает параметры входа из configuracion
type PolicyRepository struct {
	db database.DB
}

// NewPolicyRepository создает новый экземпляр PolicyRepository
func NewPolicyRepository(db database.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

var _ repository.PolicyRepository = (*PolicyRepository)(nil)

// Load возвращает значения бизнеса поверх глобальных (negocio_id IS NULL)
func (r *PolicyRepository) Load(ctx context.Context, tenantID string) (map[string]string, error) {
	// NULLS FIRST: строки бизнеса перезаписывают глобальные
	rows, err := r.db.Query(ctx,
		`SELECT clave, valor FROM configuracion
		WHERE negocio_id IS NULL OR negocio_id = $1
		ORDER BY negocio_id NULLS FIRST`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan configuration: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	return values, nil
}
