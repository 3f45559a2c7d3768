package main

import (
	"context"
	"log/slog"
	"os"
	"syscall"

	"os/signal"

	"github.com/forgo/writeway/internal/cache"
	"github.com/forgo/writeway/internal/cdc"
	"github.com/forgo/writeway/internal/config"
	"github.com/forgo/writeway/internal/queue"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ck, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		slog.Error("failed to connect to redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer ck.Close()

	natsClient, err := queue.Connect(cfg.Queue.URL)
	if err != nil {
		slog.Error("failed to connect to nats", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer natsClient.Close()

	if err := natsClient.EnsureStream(ctx, queue.StreamSpec{
		Name:     cfg.Queue.CDCStream,
		Subjects: []string{"cdc.*"},
	}); err != nil {
		slog.Error("failed to ensure cdc stream", slog.String("error", err.Error()))
		os.Exit(1)
	}

	consumer, err := queue.NewMultiSubjectConsumer(ctx, natsClient, queue.MultiConsumerSpec{
		Stream:         cfg.Queue.CDCStream,
		Durable:        cfg.Queue.ConsumerPrefix + "-cdc",
		FilterSubjects: []string{"cdc.users", "cdc.orders"},
		AckWait:        cfg.Queue.AckWait,
		MaxDeliver:     cfg.Queue.MaxDeliver,
	})
	if err != nil {
		slog.Error("failed to create cdc consumer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	c := cdc.New(ck)
	if err := cdc.Run(ctx, consumer, c); err != nil {
		slog.Error("cdc consumer exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("cdc consumer exited")
}
