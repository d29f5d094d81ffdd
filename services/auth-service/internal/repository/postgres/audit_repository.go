package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"WorkshopPlatform/pkg/database"
	"WorkshopPlatform/services/auth-service/internal/domain"
	"WorkshopPlatform/services/auth-service/internal/repository"
)

// AuditRepository пишет события в eventos_sistema. Только вставка.
type AuditRepository struct {
	db database.DB
}

// NewAuditRepository создает новый экземпляр AuditRepository
func NewAuditRepository(db database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

var _ repository.AuditRepository = (*AuditRepository)(nil)

// Insert добавляет событие
func (r *AuditRepository) Insert(ctx context.Context, e *domain.AuditEvent) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
	}

	var userID *string
	if e.UserID != "" {
		userID = &e.UserID
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO eventos_sistema (id, tipo, usuario_id, negocio_id, descripcion, metadata, fecha)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, string(e.Kind), userID, e.TenantID, e.Description, metadata, e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}
