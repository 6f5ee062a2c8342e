package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dontdude/testworker/internal/config"
	"github.com/dontdude/testworker/internal/domain"
	"github.com/dontdude/testworker/internal/pipeline"
	"github.com/dontdude/testworker/internal/platform/docker"
	"github.com/dontdude/testworker/internal/platform/javatool"
	"github.com/dontdude/testworker/internal/platform/kafka"
	"github.com/dontdude/testworker/internal/platform/logging"
	"github.com/dontdude/testworker/internal/platform/queue"
	"github.com/dontdude/testworker/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	// 1. Load configuration (port may come from the first argument)
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Initialize logger (append-only file, fixed offset timestamps)
	logger, closer, err := logging.Open(cfg.LogDir, cfg.Port, logging.Zone(cfg.LogTZOffsetHours))
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("Starting worker", "port", cfg.Port, "backend", cfg.Backend, "events", cfg.Events.Sink)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Build compiler and test runner
	compiler, runner, cleanup, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	// 4. Build outcome publisher
	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	// 5. Wire the request handler and start listening
	handler := pipeline.NewHandler(pipeline.Options{
		Compiler:       compiler,
		Runner:         runner,
		Publisher:      publisher,
		Logger:         logger,
		ClassMarker:    cfg.ClassMarker,
		ReadTimeout:    cfg.ReadTimeout,
		CompileTimeout: cfg.CompileTimeout,
		Port:           cfg.Port,
	})

	listener, err := worker.Listen(cfg.ListenAddr(), handler, logger)
	if err != nil {
		return err
	}

	err = listener.Run(ctx)
	logger.Info("Worker stopped")
	return err
}

func toolchain(cfg config.Config) javatool.Toolchain {
	return javatool.Toolchain{
		Javac:          cfg.Java.Javac,
		Java:           cfg.Java.Java,
		JUnitJar:       cfg.Java.JUnitJar,
		ExtraClasspath: cfg.Java.ExtraClasspath,
	}
}

func newBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (domain.Compiler, domain.TestRunner, func(), error) {
	tc := toolchain(cfg)

	if cfg.Backend == config.BackendDocker {
		client, err := docker.NewClient(ctx, docker.Config{
			Image:       cfg.Docker.Image,
			MemoryBytes: cfg.Docker.MemoryMB * 1024 * 1024,
			Pull:        cfg.Docker.Pull,
		}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		cleanup := func() { _ = client.Close() }
		return docker.NewCompiler(client, tc), docker.NewRunner(client, tc), cleanup, nil
	}

	return javatool.NewCompiler(tc, logger), javatool.NewRunner(tc, logger), func() {}, nil
}

func newPublisher(ctx context.Context, cfg config.Config, logger *slog.Logger) (domain.EventPublisher, error) {
	switch cfg.Events.Sink {
	case config.SinkRedis:
		rc := cfg.Events.Redis
		bus, err := queue.NewRedisBus(ctx, queue.RedisOptions{
			Addr:    rc.Addr,
			Stream:  rc.Stream,
			Channel: rc.Channel,
			MaxLen:  rc.StreamMaxLen,
		})
		if err != nil {
			return nil, err
		}
		go bus.StartRetentionRoutine(ctx, rc.RetentionPeriod, rc.StreamMaxLen)
		logger.Info("Publishing outcomes to Redis", "addr", rc.Addr, "stream", rc.Stream)
		return bus, nil

	case config.SinkKafka:
		kc := cfg.Events.Kafka
		p, err := kafka.NewPublisher(kafka.PublisherConfig{Brokers: kc.Brokers, Topic: kc.Topic})
		if err != nil {
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		logger.Info("Publishing outcomes to Kafka", "brokers", kc.Brokers, "topic", kc.Topic)
		return p, nil

	default:
		return domain.NopPublisher{}, nil
	}
}
