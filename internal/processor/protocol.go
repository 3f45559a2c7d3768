package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/forgo/writeway/internal/cache"
	"github.com/forgo/writeway/internal/model"
	"github.com/forgo/writeway/internal/queue"
	"github.com/forgo/writeway/internal/store"
)

// nakBackoff is the short delay used when naking a message for
// retryable-infrastructure redelivery, per spec.md §4.3.
const nakBackoff = 1 * time.Second

// Deps are the shared collaborators every table's Run call needs:
// explicit dependencies, no ambient singletons, per spec.md §9.
type Deps struct {
	Store      *store.Store
	Cache      *cache.Keystore
	DLQ        queue.Publisher
	MaxDeliver int
}

// Run applies the write protocol of spec.md §4.3 to one delivered
// message, producing exactly one terminal outcome: ack, nak-with-delay,
// or route-to-DLQ-then-ack.
func Run(ctx context.Context, deps Deps, handler TableHandler, msg queue.Message) {
	var req model.WriteRequest
	if err := json.Unmarshal(msg.Data(), &req); err != nil {
		recordBestEffortDecodeFailure(ctx, deps.Store, msg, err)
		_ = msg.Ack()
		return
	}

	entityID := uuid.New()

	tx, err := deps.Store.BeginTx(ctx)
	if err != nil {
		handleInfraError(ctx, deps, handler, msg, err)
		return
	}

	op := model.Operation{
		OperationID: req.OperationID,
		EntityTable: handler.Table,
		EntityID:    entityID,
		OpType:      model.OpCreate,
		CreatedAt:   time.Now(),
	}

	if err := deps.Store.InsertPendingOperation(ctx, tx, op); err != nil {
		_ = tx.Rollback(ctx)

		if errors.Is(err, store.ErrDuplicateOperation) {
			slog.Info("duplicate operation, skip",
				slog.String("operation_id", req.OperationID.String()),
				slog.String("table", string(handler.Table)),
			)
			_ = msg.Ack()
			return
		}

		handleInfraError(ctx, deps, handler, msg, err)
		return
	}

	if err := handler.InsertDomain(ctx, tx, entityID, req.Data); err != nil {
		_ = tx.Rollback(ctx)

		if IsRetryable(err) {
			handleRetryableFailure(ctx, deps, handler, msg, err)
			return
		}

		recordTerminalFailure(ctx, deps.Store, op, err)
		_ = msg.Ack()
		return
	}

	completedAt := time.Now()
	if err := deps.Store.CompleteOperation(ctx, tx, req.OperationID, completedAt); err != nil {
		_ = tx.Rollback(ctx)
		handleInfraError(ctx, deps, handler, msg, err)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		handleInfraError(ctx, deps, handler, msg, err)
		return
	}

	if deps.Cache != nil {
		if _, err := deps.Cache.InvalidateNamespace(ctx, handler.Namespace(entityID)); err != nil {
			slog.Warn("cache invalidation failed, relying on CDC and TTL convergence",
				slog.String("operation_id", req.OperationID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	_ = msg.Ack()
}

// recordBestEffortDecodeFailure records a failed operation when the
// payload itself could not be decoded. The entity table and id are
// unknown at this point, so the record carries only what the envelope's
// bytes allow recovering; if even that fails the decode error still wins
// and the message is still acked, since a malformed payload will never
// become decodable on redelivery.
func recordBestEffortDecodeFailure(ctx context.Context, s *store.Store, msg queue.Message, decodeErr error) {
	var partial struct {
		OperationID uuid.UUID `json:"operation_id"`
	}
	if err := json.Unmarshal(msg.Data(), &partial); err != nil || partial.OperationID == uuid.Nil {
		slog.Error("undecodable write message, cannot record ledger failure",
			slog.String("subject", msg.Subject()),
			slog.String("error", decodeErr.Error()),
		)
		return
	}

	op := model.Operation{
		OperationID: partial.OperationID,
		EntityID:    uuid.New(),
		OpType:      model.OpCreate,
	}
	if err := s.FailOperation(ctx, op, fmt.Sprintf("decode error: %s", decodeErr), time.Now()); err != nil {
		slog.Error("failed to record decode failure in ledger",
			slog.String("operation_id", partial.OperationID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// recordTerminalFailure records a non-retryable domain failure. Its own
// failure is logged but never masks the original error, since the
// original is already the reason this message is terminating.
func recordTerminalFailure(ctx context.Context, s *store.Store, op model.Operation, cause error) {
	if err := s.FailOperation(ctx, op, cause.Error(), time.Now()); err != nil {
		slog.Error("failed to record terminal failure in ledger",
			slog.String("operation_id", op.OperationID.String()),
			slog.String("cause", cause.Error()),
			slog.String("record_error", err.Error()),
		)
	}
}

// handleInfraError treats a failure from the store itself (not yet
// attributed to a specific table write) as retryable infrastructure
// trouble.
func handleInfraError(ctx context.Context, deps Deps, handler TableHandler, msg queue.Message, err error) {
	handleRetryableFailure(ctx, deps, handler, msg, err)
}

// handleRetryableFailure naks for redelivery, or on the final attempt
// dead-letters the message and only then acks the original. Per
// spec.md §4.3, no ledger failure is recorded on the final attempt: the
// likely cause is store unavailability, which would also fail the
// recording.
func handleRetryableFailure(ctx context.Context, deps Deps, handler TableHandler, msg queue.Message, cause error) {
	// DeliveryAttempt is 1-based; the final attempt NATS will make is
	// attempt == MaxDeliver (spec.md §4.3's 0-based k == max_deliver-1).
	attempt := msg.DeliveryAttempt()

	if attempt < deps.MaxDeliver {
		if err := msg.Nak(nakBackoff); err != nil {
			slog.Error("failed to nak message", slog.String("error", err.Error()))
		}
		return
	}

	dlqSubject := "writes-dlq." + string(handler.Table)
	dlqPayload, err := json.Marshal(dlqEnvelope{
		OriginalSubject: msg.Subject(),
		Payload:         msg.Data(),
		Error:           cause.Error(),
		DeliveryCount:   attempt,
	})
	if err != nil {
		slog.Error("failed to encode dlq envelope", slog.String("error", err.Error()))
		_ = msg.Nak(nakBackoff)
		return
	}

	if err := deps.DLQ.Publish(ctx, dlqSubject, dlqPayload, uuid.New().String()); err != nil {
		slog.Error("failed to publish to dlq, will redeliver", slog.String("error", err.Error()))
		_ = msg.Nak(nakBackoff)
		return
	}

	slog.Warn("routed message to dlq after exhausting retries",
		slog.String("subject", msg.Subject()),
		slog.Int("delivery_count", attempt),
		slog.String("cause", cause.Error()),
	)
	_ = msg.Ack()
}

// dlqEnvelope is the payload published to the DLQ stream, carrying
// enough context for an operator to inspect and replay the message.
type dlqEnvelope struct {
	OriginalSubject string `json:"original_subject"`
	Payload         []byte `json:"payload"`
	Error           string `json:"error"`
	DeliveryCount   int    `json:"delivery_count"`
}
