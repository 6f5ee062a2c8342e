//go:build integration

package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/dontdude/testworker/internal/domain"
)

func startRedis(t *testing.T, ctx context.Context) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("skipping Redis integration test (requires Docker): %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	opts, err := redis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse %q: %v", uri, err)
	}
	return opts.Addr
}

func sampleEvent(i int) domain.OutcomeEvent {
	return domain.OutcomeEvent{
		RequestID: fmt.Sprintf("req-%d", i),
		Port:      5000,
		Kind:      "RUN_RESULT",
		Headline:  "OVERALL_RESULT: PASSED",
		At:        time.Now().UTC(),
	}
}

func TestRedisBusPublishSubscribeAndHistory(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	addr := startRedis(t, ctx)
	bus, err := NewRedisBus(ctx, RedisOptions{Addr: addr})
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	defer bus.Close()

	subCtx, stop := context.WithCancel(ctx)
	defer stop()
	live, err := bus.Subscribe(subCtx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for i := 1; i <= 3; i++ {
		if err := bus.Publish(ctx, sampleEvent(i)); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	for i := 1; i <= 3; i++ {
		select {
		case got := <-live:
			if got.RequestID != fmt.Sprintf("req-%d", i) {
				t.Fatalf("live event %d = %q", i, got.RequestID)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("timed out waiting for live event %d", i)
		}
	}

	recent, err := bus.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].RequestID != "req-3" || recent[1].RequestID != "req-2" {
		t.Fatalf("recent = %+v", recent)
	}

	stop()
	select {
	case _, ok := <-live:
		if ok {
			t.Fatalf("expected live channel to close after cancel")
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("live channel not closed after cancel")
	}
}

func TestRedisBusTrim(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	addr := startRedis(t, ctx)
	bus, err := NewRedisBus(ctx, RedisOptions{Addr: addr, Stream: "test:outcomes"})
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	defer bus.Close()

	for i := 0; i < 10; i++ {
		if err := bus.Publish(ctx, sampleEvent(i)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	removed, err := bus.Trim(ctx, 4)
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	if removed != 6 {
		t.Fatalf("removed = %d, want 6", removed)
	}

	recent, err := bus.Recent(ctx, 100)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 4 || recent[0].RequestID != "req-9" {
		t.Fatalf("recent = %+v", recent)
	}
}
