package processor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/forgo/writeway/internal/model"
)

// OrdersHandler is the TableHandler for the orders table. user_id, item
// and quantity are required; a missing user_id foreign key surfaces as a
// Postgres foreign-key violation, non-retryable under the classifier's
// safelist.
//
// Namespace is table-scoped: see UsersHandler's doc comment.
func OrdersHandler() TableHandler {
	return TableHandler{
		Table:        model.TableOrders,
		InsertDomain: insertOrder,
		Namespace: func(entityID uuid.UUID) string {
			return string(model.TableOrders)
		},
	}
}

func insertOrder(ctx context.Context, tx pgx.Tx, entityID uuid.UUID, data map[string]any) error {
	userIDStr, ok := data["user_id"].(string)
	if !ok || userIDStr == "" {
		return fmt.Errorf("orders.user_id is required")
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return fmt.Errorf("orders.user_id is not a valid uuid: %w", err)
	}

	item, ok := data["item"].(string)
	if !ok || item == "" {
		return fmt.Errorf("orders.item is required")
	}

	// JSON numbers decode to float64 through map[string]any.
	quantityFloat, ok := data["quantity"].(float64)
	if !ok || quantityFloat <= 0 {
		return fmt.Errorf("orders.quantity must be a positive number")
	}
	quantity := int64(quantityFloat)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (order_id, user_id, item, quantity) VALUES ($1, $2, $3, $4)
	`, entityID, userID, item, quantity)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}
