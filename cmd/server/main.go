package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/forgo/writeway/internal/config"
	"github.com/forgo/writeway/internal/gateway"
	"github.com/forgo/writeway/internal/ledger"
	"github.com/forgo/writeway/internal/middleware"
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

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer st.Close()

	slog.Info("connected to postgres")

	natsClient, err := queue.Connect(cfg.Queue.URL)
	if err != nil {
		slog.Error("failed to connect to nats", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer natsClient.Close()

	if err := natsClient.EnsureStream(ctx, queue.StreamSpec{
		Name:     cfg.Queue.Stream,
		Subjects: []string{"writes.*"},
	}); err != nil {
		slog.Error("failed to ensure writes stream", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := natsClient.EnsureStream(ctx, queue.StreamSpec{
		Name:     cfg.Queue.DLQStream,
		Subjects: []string{"writes-dlq.*"},
	}); err != nil {
		slog.Error("failed to ensure dlq stream", slog.String("error", err.Error()))
		os.Exit(1)
	}

	publisher := queue.NewPublisher(natsClient)

	admitter := gateway.NewAdmitter(cfg.Admission)
	reader := ledger.NewReader(st)
	srv := gateway.NewServer(admitter, publisher, reader)

	sweeper := ledger.NewSweeper(st, 30*time.Second, 5*time.Minute)
	sweeper.Start()
	defer sweeper.Stop()

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{})
	defer rateLimiter.Stop()

	mux := http.NewServeMux()
	srv.Routes(mux)

	wrapped := middleware.Chain(
		mux,
		middleware.RequestID,
		middleware.Logger,
		middleware.Recovery,
		middleware.CORS(cfg.Server.AllowedOrigins),
		middleware.RateLimit(rateLimiter),
		middleware.Compress,
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      wrapped,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting write gateway",
			slog.String("port", cfg.Server.Port),
			slog.String("env", cfg.Server.Env),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down write gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", slog.String("error", err.Error()))
	}

	slog.Info("write gateway exited")
}
