package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/dontdude/testworker/internal/protocol"
)

func main() {
	// 1. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	defaultAddr := os.Getenv("WORKER_ADDR")
	if defaultAddr == "" {
		defaultAddr = "127.0.0.1:5000"
	}

	// 2. Parse arguments
	addr := flag.String("addr", defaultAddr, "worker address")
	timeout := flag.Int("timeout", 0, "requested timeout in seconds (0 sends an empty line)")
	wait := flag.Duration("wait", 90*time.Second, "give up after this long")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <source-path>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *wait)
	defer cancel()

	// 3. Submit and print the framed response
	req := protocol.Request{SourcePath: flag.Arg(0), TimeoutSeconds: *timeout}
	slog.Info("Submitting request", "addr", *addr, "path", req.SourcePath, "timeout", req.TimeoutSeconds)

	start := time.Now()
	resp, err := protocol.Submit(ctx, *addr, req)
	if err != nil {
		slog.Error("Request failed", "error", err)
		os.Exit(1)
	}

	slog.Info("Response received", "kind", resp.Kind, "result", resp.Headline(), "elapsed", time.Since(start))
	fmt.Print(resp.String())

	if resp.Kind != protocol.KindRunResult {
		os.Exit(1)
	}
}
