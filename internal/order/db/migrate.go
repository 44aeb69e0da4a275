package db

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"bar-orders/internal/models"
)

// Migrate creates the engine's tables plus the read-only collaborator
// tables (users, events) it validates against. Idempotent. This is the
// dialect-agnostic path for sqlite test databases; the Postgres schema
// is managed by the versioned migrations (MigrateUp).
func Migrate(bunDB *bun.DB) {
	ctx := context.Background()

	tables := []interface{}{
		(*models.User)(nil),
		(*models.Event)(nil),
		(*models.Order)(nil),
		(*models.OrderItem)(nil),
		(*models.ParticipationRecord)(nil),
	}

	for _, model := range tables {
		if _, err := bunDB.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			log.Fatalf("create table failed: %v", err)
		}
	}

	log.Println("order engine tables ready")
}
