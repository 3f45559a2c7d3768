// Package model defines the wire and domain types shared across the
// write pipeline's components.
//
// The model package contains the Operation ledger row, the Write Request
// wire envelope, the CDC event shape, and the RFC 9457 error envelope.
// These types are shared by the gateway, processor, CDC consumer, and
// status reader so the wire contract between them is defined once.
//
// # Domain Types
//
//   - Operation: the idempotency ledger's row (operation_id, status, entity_id)
//   - WriteRequest: the wire envelope submitted to the write gateway
//   - CDCEvent: a row-change event consumed by the CDC consumer
//
// # JSON Serialization
//
// All models use json struct tags for wire serialization:
//
//	type WriteRequest struct {
//	    OperationID uuid.UUID      `json:"operation_id"`
//	    Table       EntityTable    `json:"table"`
//	    Data        map[string]any `json:"data"`
//	}
//
// # Error Types
//
// RFC 9457 Problem Details errors are defined in errors.go:
//
//	type ProblemDetails struct {
//	    Type    string    `json:"type"`
//	    Title   string    `json:"title"`
//	    Status  int       `json:"status"`
//	    Detail  string    `json:"detail,omitempty"`
//	}
package model
