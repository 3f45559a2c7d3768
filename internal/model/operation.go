package model

import (
	"time"

	"github.com/google/uuid"
)

// EntityTable enumerates the domain tables the write pipeline supports.
type EntityTable string

const (
	TableUsers  EntityTable = "users"
	TableOrders EntityTable = "orders"
)

// Valid reports whether t is one of the supported tables.
func (t EntityTable) Valid() bool {
	switch t {
	case TableUsers, TableOrders:
		return true
	default:
		return false
	}
}

// OpType enumerates the kind of mutation an Operation represents.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// OperationStatus enumerates the lifecycle states of an Operation. Once a
// status leaves Pending it is terminal.
type OperationStatus string

const (
	StatusPending   OperationStatus = "pending"
	StatusCompleted OperationStatus = "completed"
	StatusFailed    OperationStatus = "failed"
)

// Operation is the idempotency ledger's row: the system of record for
// whether a logical write has been applied. operation_id is supplied by
// the caller and doubles as the durable queue's dedup id; entity_id is
// allocated by the processor at admission into the ledger.
type Operation struct {
	OperationID uuid.UUID       `json:"operation_id"`
	EntityTable EntityTable     `json:"entity_table"`
	EntityID    uuid.UUID       `json:"entity_id"`
	OpType      OpType          `json:"op_type"`
	Status      OperationStatus `json:"status"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// WriteRequest is the wire shape accepted by the write gateway and
// published to the durable queue verbatim.
type WriteRequest struct {
	OperationID uuid.UUID      `json:"operation_id"`
	Table       EntityTable    `json:"table"`
	Data        map[string]any `json:"data"`
}

// Validate checks the structural invariants of a WriteRequest: a non-nil
// operation_id, a supported table and a non-nil data object. Per-table
// payload shape is the
// processor's concern, not the wire envelope's.
func (r WriteRequest) Validate() []FieldError {
	var errs []FieldError
	if r.OperationID == uuid.Nil {
		errs = append(errs, FieldError{Field: "operation_id", Message: "must be a well-formed identifier"})
	}
	if !r.Table.Valid() {
		errs = append(errs, FieldError{Field: "table", Message: "must be a supported table"})
	}
	if r.Data == nil {
		errs = append(errs, FieldError{Field: "data", Message: "must be a JSON object"})
	}
	return errs
}

// AcceptedResponse is the write gateway's 202 response body.
type AcceptedResponse struct {
	Status      string    `json:"status"`
	OperationID uuid.UUID `json:"operation_id"`
	AcceptedAt  time.Time `json:"accepted_at"`
}

// StatusResponse is the status reader's response body. Table and EntityID
// are only populated once an Operation row exists; when the ledger has no
// row yet the caller still observes Status: pending.
type StatusResponse struct {
	Status      OperationStatus `json:"status"`
	OperationID uuid.UUID       `json:"operation_id"`
	Table       EntityTable     `json:"table,omitempty"`
	EntityID    *uuid.UUID      `json:"entity_id,omitempty"`
	Error       *string         `json:"error,omitempty"`
}
