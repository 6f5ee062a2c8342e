package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dontdude/testworker/internal/domain"
)

// Default key names.
const (
	DefaultStream  = "goxec:outcomes"
	DefaultChannel = "goxec:outcomes:live"
)

// RedisBus publishes outcome events to a Redis stream (history) and a
// pub/sub channel (live feed).
type RedisBus struct {
	client  *redis.Client
	stream  string
	channel string
	maxLen  int64
}

// Ensure RedisBus satisfies the interfaces
var (
	_ domain.EventPublisher = (*RedisBus)(nil)
	_ domain.EventSource    = (*RedisBus)(nil)
)

// RedisOptions configures a RedisBus.
type RedisOptions struct {
	Addr    string
	Stream  string
	Channel string
	// MaxLen caps the stream approximately on every write; zero disables capping.
	MaxLen int64
}

// NewRedisBus connects to Redis and verifies the connection (Fail-Fast).
func NewRedisBus(ctx context.Context, opts RedisOptions) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: opts.Addr,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisBus(rdb, opts), nil
}

func newRedisBus(rdb *redis.Client, opts RedisOptions) *RedisBus {
	if opts.Stream == "" {
		opts.Stream = DefaultStream
	}
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	return &RedisBus{
		client:  rdb,
		stream:  opts.Stream,
		channel: opts.Channel,
		maxLen:  opts.MaxLen,
	}
}

// Publish appends the event to the stream using XADD and broadcasts it on the
// live channel.
func (r *RedisBus) Publish(ctx context.Context, event domain.OutcomeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"event": data,
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	// One round trip for both writes.
	pipe := r.client.TxPipeline()
	pipe.XAdd(ctx, args)
	pipe.Publish(ctx, r.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Subscribe streams live events from the pub/sub channel until ctx ends.
func (r *RedisBus) Subscribe(ctx context.Context) (<-chan domain.OutcomeEvent, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)

	// Wait for confirmation that we are subscribed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to outcomes: %w", err)
	}

	outCh := make(chan domain.OutcomeEvent)

	go func() {
		defer close(outCh)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event domain.OutcomeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					slog.Error("Failed to unmarshal outcome", "error", err)
					continue
				}

				select {
				case outCh <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return outCh, nil
}

// Recent returns up to n of the newest events from the stream using XREVRANGE.
func (r *RedisBus) Recent(ctx context.Context, n int64) ([]domain.OutcomeEvent, error) {
	msgs, err := r.client.XRevRangeN(ctx, r.stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read outcome history: %w", err)
	}

	events := make([]domain.OutcomeEvent, 0, len(msgs))
	for _, msg := range msgs {
		val, ok := msg.Values["event"].(string)
		if !ok {
			slog.Error("Invalid message format", "msgID", msg.ID)
			continue
		}
		var event domain.OutcomeEvent
		if err := json.Unmarshal([]byte(val), &event); err != nil {
			slog.Error("Failed to unmarshal outcome", "msgID", msg.ID, "error", err)
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Close closes the underlying client.
func (r *RedisBus) Close() error {
	return r.client.Close()
}
