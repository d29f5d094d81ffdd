package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"WorkshopPlatform/pkg/database"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema создает таблицы и индексы, если их нет.
// Все выражения идемпотентны, вызывается при каждом старте.
func EnsureSchema(ctx context.Context, db database.DB) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
