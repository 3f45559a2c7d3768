// Package cdc implements the CDC Consumer: a durable consumer on the
// change-data-capture stream that translates row-change events into
// cache namespace invalidations (spec.md §4.6).
package cdc

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/forgo/writeway/internal/cache"
	"github.com/forgo/writeway/internal/model"
	"github.com/forgo/writeway/internal/queue"
)

// nakBackoff is the delay used when naking a CDC event for redelivery
// after a transient invalidation failure.
const nakBackoff = 1 * time.Second

// Consumer drives the CDC dispatch table against a cache.Keystore.
type Consumer struct {
	cache *cache.Keystore
}

// New returns a Consumer invalidating namespaces in ck.
func New(ck *cache.Keystore) *Consumer {
	return &Consumer{cache: ck}
}

// Handle applies the dispatch table of spec.md §4.6 to one delivered CDC
// event. Invalidation failures are retried via nak; they are never
// escalated to a DLQ, since stale cache entries self-heal via TTL and the
// durable cursor will redeliver the event.
func (c *Consumer) Handle(ctx context.Context, msg queue.Message) {
	var event model.CDCEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		slog.Error("undecodable cdc event, acking to avoid poison redelivery",
			slog.String("subject", msg.Subject()),
			slog.String("error", err.Error()),
		)
		_ = msg.Ack()
		return
	}

	if event.Op == model.CDCRead {
		_ = msg.Ack()
		return
	}

	namespaces := namespacesFor(event)

	for _, ns := range namespaces {
		deleted, err := c.cache.InvalidateNamespace(ctx, ns)
		if err != nil {
			slog.Warn("cdc invalidation failed, will redeliver",
				slog.String("namespace", ns),
				slog.String("table", string(event.Table)),
				slog.String("op", string(event.Op)),
				slog.String("error", err.Error()),
			)
			_ = msg.Nak(nakBackoff)
			return
		}
		slog.Debug("cdc invalidated namespace",
			slog.String("namespace", ns),
			slog.Int64("keys_deleted", deleted),
		)
	}

	_ = msg.Ack()
}

// namespacesFor returns the cache namespaces an event invalidates, per
// spec.md §4.6's dispatch table. A users delete additionally invalidates
// orders, since order views join against user rows (FK cascade
// semantics invalidate dependent views).
func namespacesFor(event model.CDCEvent) []string {
	switch event.Table {
	case model.TableUsers:
		if event.Op == model.CDCDelete {
			return []string{string(model.TableUsers), string(model.TableOrders)}
		}
		return []string{string(model.TableUsers)}
	case model.TableOrders:
		return []string{string(model.TableOrders)}
	default:
		return nil
	}
}

// Run blocks, dispatching every CDC event consumer delivers to Handle,
// until ctx is canceled.
func Run(ctx context.Context, consumer queue.Consumer, c *Consumer) error {
	slog.Info("starting cdc consumer")

	err := consumer.Consume(ctx, c.Handle)
	if err != nil {
		return err
	}

	slog.Info("cdc consumer stopped")
	return nil
}
