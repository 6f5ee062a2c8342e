package domain

import (
	"context"
	"time"
)

// OutcomeEvent records how a single request was answered.
type OutcomeEvent struct {
	RequestID  string        `json:"request_id"`
	Port       int           `json:"port"`
	SourcePath string        `json:"source_path"`
	Kind       string        `json:"kind"`
	Headline   string        `json:"headline"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	At         time.Time     `json:"at"`
}

// EventPublisher defines the contract for shipping outcome events to an external system.
// It decouples the worker from the underlying broker (Redis, Kafka, etc.).
type EventPublisher interface {
	// Publish delivers one event. Failures never change the response sent to the client.
	Publish(ctx context.Context, event OutcomeEvent) error

	Close() error
}

// EventSource streams outcome events published by any worker.
type EventSource interface {
	// Subscribe returns a channel that is closed when ctx ends.
	Subscribe(ctx context.Context) (<-chan OutcomeEvent, error)

	// Recent returns up to n of the latest events, newest first.
	Recent(ctx context.Context, n int64) ([]OutcomeEvent, error)
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, OutcomeEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
