package processor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/forgo/writeway/internal/model"
)

// UsersHandler is the TableHandler for the users table. name and email
// are required string fields; email collisions surface as a Postgres
// unique violation, a non-retryable domain failure under the
// classifier's safelist.
//
// Namespace is table-scoped, not per-entity: spec.md §4.5/§4.6 invalidate
// the whole `users` namespace on any committed users write, since cached
// reads (list pages, pagination) span many entities and CDCC invalidates
// at the same granularity.
func UsersHandler() TableHandler {
	return TableHandler{
		Table:        model.TableUsers,
		InsertDomain: insertUser,
		Namespace: func(entityID uuid.UUID) string {
			return string(model.TableUsers)
		},
	}
}

func insertUser(ctx context.Context, tx pgx.Tx, entityID uuid.UUID, data map[string]any) error {
	name, ok := data["name"].(string)
	if !ok || name == "" {
		return fmt.Errorf("users.name is required")
	}
	email, ok := data["email"].(string)
	if !ok || email == "" {
		return fmt.Errorf("users.email is required")
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO users (user_id, name, email) VALUES ($1, $2, $3)
	`, entityID, name, email)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}
