// Package processor implements the Write Processor: one consumer loop
// per table driving the transactional write protocol (spec.md §4.3)
// against the idempotency ledger and domain tables.
package processor

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/forgo/writeway/internal/model"
)

// TableHandler is the per-table capability set the write protocol needs,
// realized as a plain value rather than an interface-inheritance
// hierarchy (spec.md §9's "abstract handler with per-table subclasses"
// redesign note).
type TableHandler struct {
	// Table is the entity table this handler writes to.
	Table model.EntityTable

	// InsertDomain inserts the domain row for entityID using data, inside
	// tx. It wraps driver errors with %w so Run can still classify them
	// via errors.As; InsertDomain itself makes no retry decisions.
	InsertDomain func(ctx context.Context, tx pgx.Tx, entityID uuid.UUID, data map[string]any) error

	// Namespace returns the cache namespace to invalidate after a
	// successful write to entityID.
	Namespace func(entityID uuid.UUID) string
}
