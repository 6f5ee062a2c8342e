package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/dontdude/testworker/internal/domain"
)

var oneClass = domain.Suite{{Name: "CalculatorTest", Path: "/work/CalculatorTest.class"}}

func TestExecuteCompleted(t *testing.T) {
	t.Parallel()

	want := domain.Summary{Total: 4, Passed: 3, Failed: 1, Elapsed: 120 * time.Millisecond}
	runner := &stubRunner{run: func(ctx context.Context, suite domain.Suite, out io.Writer) (domain.Summary, error) {
		fmt.Fprintln(out, "hello from CalculatorTest")
		return want, nil
	}}

	got := NewExecutor(runner, discardLogger()).Execute(context.Background(), oneClass, time.Second)
	if got.Status != domain.ExecutionCompleted {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Summary != want {
		t.Fatalf("summary = %+v", got.Summary)
	}
	if got.Output != "hello from CalculatorTest\n" {
		t.Fatalf("output = %q", got.Output)
	}
}

func TestExecuteRunnerErrorAndPanic(t *testing.T) {
	t.Parallel()

	failing := &stubRunner{run: func(ctx context.Context, suite domain.Suite, out io.Writer) (domain.Summary, error) {
		return domain.Summary{}, errors.New("engine failed to start")
	}}
	got := NewExecutor(failing, discardLogger()).Execute(context.Background(), oneClass, time.Second)
	if got.Status != domain.ExecutionRuntimeError || got.Message != "engine failed to start" {
		t.Fatalf("outcome = %+v", got)
	}

	panicking := &stubRunner{run: func(ctx context.Context, suite domain.Suite, out io.Writer) (domain.Summary, error) {
		panic("engine exploded")
	}}
	got = NewExecutor(panicking, discardLogger()).Execute(context.Background(), oneClass, time.Second)
	if got.Status != domain.ExecutionRuntimeError || got.Message != "engine exploded" {
		t.Fatalf("outcome = %+v", got)
	}
}

func TestExecuteTimeoutReturnsPromptlyAndSealsCapture(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	lateWrite := make(chan error, 1)
	cancelled := make(chan struct{})

	// The runner notices cancellation but keeps writing afterwards, like a
	// test that ignores interruption.
	runner := &stubRunner{run: func(ctx context.Context, suite domain.Suite, out io.Writer) (domain.Summary, error) {
		fmt.Fprint(out, "before deadline")
		<-ctx.Done()
		close(cancelled)
		<-release
		_, err := fmt.Fprint(out, "after deadline")
		lateWrite <- err
		return domain.Summary{Total: 1, Passed: 1}, nil
	}}

	deadline := 100 * time.Millisecond
	start := time.Now()
	got := NewExecutor(runner, discardLogger()).Execute(context.Background(), oneClass, deadline)
	elapsed := time.Since(start)

	if got.Status != domain.ExecutionTimedOut {
		t.Fatalf("status = %s", got.Status)
	}
	if elapsed < deadline || elapsed > deadline+time.Second {
		t.Fatalf("Execute returned after %s, deadline %s", elapsed, deadline)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatalf("runner context was not cancelled")
	}

	close(release)
	select {
	case err := <-lateWrite:
		if !errors.Is(err, io.ErrClosedPipe) {
			t.Fatalf("late write error = %v, want io.ErrClosedPipe", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("runner did not finish")
	}
}

func TestExecuteParentCancelled(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{run: func(ctx context.Context, suite domain.Suite, out io.Writer) (domain.Summary, error) {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return domain.Summary{}, ctx.Err()
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := NewExecutor(runner, discardLogger()).Execute(ctx, oneClass, time.Minute)
	if got.Status != domain.ExecutionRuntimeError {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestCaptureSeal(t *testing.T) {
	t.Parallel()

	c := &capture{}
	if _, err := c.Write([]byte("kept")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := c.Seal(); got != "kept" {
		t.Fatalf("Seal = %q", got)
	}
	if n, err := c.Write([]byte("dropped")); n != 0 || !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("Write after seal = (%d, %v)", n, err)
	}
	if got := c.Seal(); got != "kept" {
		t.Fatalf("second Seal = %q", got)
	}
}
