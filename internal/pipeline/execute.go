package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dontdude/testworker/internal/domain"
)

// capture collects one execution's output. Once sealed it rejects writes, so
// an execution unit that outlives its deadline cannot leak into later output.
type capture struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	sealed bool
}

func (c *capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return 0, io.ErrClosedPipe
	}
	return c.buf.Write(p)
}

// Seal stops accepting writes and returns everything captured so far.
func (c *capture) Seal() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = true
	return c.buf.String()
}

// Executor runs a suite under a hard wall-clock deadline.
type Executor struct {
	runner domain.TestRunner
	logger *slog.Logger
}

// NewExecutor returns an Executor using runner.
func NewExecutor(runner domain.TestRunner, logger *slog.Logger) *Executor {
	return &Executor{runner: runner, logger: logger}
}

type runResult struct {
	summary domain.Summary
	err     error
}

// Execute starts the run on its own goroutine and waits at most deadline.
// On timeout the run context is cancelled and TimedOut is returned without
// waiting for the runner to notice.
func (e *Executor) Execute(ctx context.Context, suite domain.Suite, deadline time.Duration) domain.ExecutionOutcome {
	out := &capture{}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan runResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("test runner panicked", "panic", r, "stack", string(debug.Stack()))
				done <- runResult{err: fmt.Errorf("%v", r)}
			}
		}()
		summary, err := e.runner.Run(runCtx, suite, out)
		done <- runResult{summary: summary, err: err}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case res := <-done:
		output := out.Seal()
		if res.err != nil {
			return domain.ExecutionOutcome{Status: domain.ExecutionRuntimeError, Message: res.err.Error()}
		}
		return domain.ExecutionOutcome{Status: domain.ExecutionCompleted, Summary: res.summary, Output: output}

	case <-timer.C:
		cancel()
		out.Seal()
		e.logger.Warn("execution timed out", "deadline", deadline)
		return domain.ExecutionOutcome{Status: domain.ExecutionTimedOut}

	case <-ctx.Done():
		cancel()
		out.Seal()
		return domain.ExecutionOutcome{Status: domain.ExecutionRuntimeError, Message: ctx.Err().Error()}
	}
}
