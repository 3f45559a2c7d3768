package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/forgo/writeway/internal/cache"
	"github.com/forgo/writeway/internal/config"
	"github.com/forgo/writeway/internal/processor"
	"github.com/forgo/writeway/internal/queue"
	"github.com/forgo/writeway/internal/store"
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

	st, err := store.New(ctx, cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer st.Close()

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

	dlqPublisher := queue.NewPublisher(natsClient)
	defer dlqPublisher.Close()

	deps := processor.Deps{
		Store:      st,
		Cache:      ck,
		DLQ:        dlqPublisher,
		MaxDeliver: cfg.Queue.MaxDeliver,
	}

	handlers := []processor.TableHandler{
		processor.UsersHandler(),
		processor.OrdersHandler(),
	}

	var wg sync.WaitGroup
	for _, handler := range handlers {
		handler := handler

		consumer, err := queue.NewConsumer(ctx, natsClient, queue.ConsumerSpec{
			Stream:        cfg.Queue.Stream,
			Durable:       cfg.Queue.ConsumerPrefix + "-" + string(handler.Table),
			FilterSubject: "writes." + string(handler.Table),
			AckWait:       cfg.Queue.AckWait,
			MaxDeliver:    cfg.Queue.MaxDeliver,
		})
		if err != nil {
			slog.Error("failed to create consumer",
				slog.String("table", string(handler.Table)),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := processor.ConsumeTable(ctx, consumer, deps, handler); err != nil {
				slog.Error("consumer loop exited with error",
					slog.String("table", string(handler.Table)),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	slog.Info("write processor running", slog.Int("tables", len(handlers)))
	wg.Wait()
	slog.Info("write processor exited")
}
