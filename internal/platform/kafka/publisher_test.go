package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/dontdude/testworker/internal/domain"
)

type fakeWriter struct {
	messages []kafkago.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func sampleEvent() domain.OutcomeEvent {
	return domain.OutcomeEvent{
		RequestID:  "req-1",
		Port:       5000,
		SourcePath: "/work/CalculatorTest.java",
		Kind:       "RUN_RESULT",
		Headline:   "OVERALL_RESULT: PASSED",
		Elapsed:    1500 * time.Millisecond,
		At:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestNewPublisherValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewPublisher(PublisherConfig{}); err == nil {
		t.Fatalf("expected error when brokers missing")
	}

	p, err := NewPublisher(PublisherConfig{Brokers: []string{"localhost:9092"}})
	if err != nil {
		t.Fatalf("NewPublisher returned error: %v", err)
	}
	w, ok := p.writer.(*kafkago.Writer)
	if !ok {
		t.Fatalf("unexpected writer type %T", p.writer)
	}
	if w.Topic != DefaultTopic {
		t.Fatalf("topic = %q, want %q", w.Topic, DefaultTopic)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestPublisherWritesKeyedMessage(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	p := newPublisher(writer)

	event := sampleEvent()
	if err := p.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if len(writer.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(writer.messages))
	}

	msg := writer.messages[0]
	if string(msg.Key) != "req-1" {
		t.Fatalf("key = %q", msg.Key)
	}
	if !msg.Time.Equal(event.At) {
		t.Fatalf("time = %v", msg.Time)
	}

	var decoded domain.OutcomeEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.RequestID != event.RequestID || decoded.Kind != event.Kind ||
		decoded.Elapsed != event.Elapsed || !decoded.At.Equal(event.At) {
		t.Fatalf("decoded = %+v, want %+v", decoded, event)
	}

	_ = p.Close()
	if !writer.closed {
		t.Fatalf("writer not closed")
	}
}

func TestPublisherWrapsWriteError(t *testing.T) {
	t.Parallel()

	p := newPublisher(&fakeWriter{err: errors.New("leader not available")})
	err := p.Publish(context.Background(), sampleEvent())
	if err == nil || !strings.Contains(err.Error(), "write message: leader not available") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPublisherNotInitialized(t *testing.T) {
	t.Parallel()

	var p Publisher
	if err := p.Publish(context.Background(), sampleEvent()); err == nil {
		t.Fatalf("expected error from zero publisher")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close on zero publisher: %v", err)
	}
}
