package processor

import (
	"context"
	"log/slog"

	"github.com/forgo/writeway/internal/queue"
)

// ConsumeTable blocks, running handler's write protocol against every
// message consumer delivers for its table, until ctx is canceled. One
// ConsumeTable call should run in its own goroutine per table: JetStream's
// Consume callback already dispatches concurrently within a consumer, so
// this does not add its own worker pool on top.
func ConsumeTable(ctx context.Context, consumer queue.Consumer, deps Deps, handler TableHandler) error {
	slog.Info("starting write processor consumer", slog.String("table", string(handler.Table)))

	err := consumer.Consume(ctx, func(ctx context.Context, msg queue.Message) {
		Run(ctx, deps, handler, msg)
	})
	if err != nil {
		return err
	}

	slog.Info("write processor consumer stopped", slog.String("table", string(handler.Table)))
	return nil
}
