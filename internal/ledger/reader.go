// Package ledger implements the Status Reader and the background
// sweeper that reconciles stale pending operations.
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/forgo/writeway/internal/model"
	"github.com/forgo/writeway/internal/store"
)

// Reader is the Status Reader: a single read operation over the
// idempotency ledger.
type Reader struct {
	store *store.Store
}

// NewReader builds a Reader bound to s.
func NewReader(s *store.Store) *Reader {
	return &Reader{store: s}
}

// Get returns the status projection for operationID. Callers that want
// spec.md §4.4's "no row ⇒ pending" behavior should check
// errors.Is(err, store.ErrNotFound) themselves; Get surfaces the
// underlying store error unchanged rather than papering over it, since
// the gateway handler is the layer that knows the pending default.
func (r *Reader) Get(ctx context.Context, operationID uuid.UUID) (*model.StatusResponse, error) {
	op, err := r.store.GetOperation(ctx, operationID)
	if err != nil {
		return nil, fmt.Errorf("read operation status: %w", err)
	}

	resp := &model.StatusResponse{
		Status:      op.Status,
		OperationID: op.OperationID,
		Table:       op.EntityTable,
		Error:       op.Error,
	}
	if op.Status != model.StatusFailed {
		resp.EntityID = &op.EntityID
	}
	return resp, nil
}
