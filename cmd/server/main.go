package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dontdude/testworker/internal/config"
	"github.com/dontdude/testworker/internal/domain"
	"github.com/dontdude/testworker/internal/platform/queue"
	"github.com/dontdude/testworker/internal/platform/web"
	"github.com/dontdude/testworker/internal/protocol"
)

func main() {
	// 1. Initialize logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	_ = godotenv.Load()
	cfg, err := config.Load(nil)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to the Redis outcome bus when workers publish there
	var source domain.EventSource
	hub := newHub()
	if cfg.Events.Sink == config.SinkRedis {
		rc := cfg.Events.Redis
		bus, err := queue.NewRedisBus(ctx, queue.RedisOptions{Addr: rc.Addr, Stream: rc.Stream, Channel: rc.Channel})
		if err != nil {
			slog.Error("Redis unavailable", "error", err)
			os.Exit(1)
		}
		defer bus.Close()
		source = bus

		// 3. Start outcome broadcaster (background goroutine)
		go broadcastOutcomes(ctx, bus, hub)
	}

	// 4. Setup rate limiter
	// Rate: 0.5 tokens/sec (1 request every 2s), Capacity: 5 (Burst)
	limiter := web.NewRateLimiter(0.5, 5.0)
	defer limiter.Stop()

	// 5. Setup router and middleware
	gw := &gateway{
		workerAddr: cfg.Gateway.WorkerAddr,
		submit:     protocol.Submit,
		source:     source,
		hub:        hub,
	}
	handler := enableCORS(gw.routes(limiter))

	srv := &http.Server{
		Addr:              cfg.Gateway.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("API Server starting", "addr", cfg.Gateway.Addr, "worker", cfg.Gateway.WorkerAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	hub.closeAll()
	slog.Info("API Server stopped")
}

// broadcastOutcomes forwards every live outcome event to connected WebSocket clients.
func broadcastOutcomes(ctx context.Context, source domain.EventSource, hub *hub) {
	slog.Info("Starting outcome broadcaster")

	events, err := source.Subscribe(ctx)
	if err != nil {
		slog.Error("Failed to subscribe to outcomes", "error", err)
		return
	}

	for event := range events {
		hub.broadcast(event)
	}
}
