package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dontdude/testworker/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubCompiler struct {
	mu     sync.Mutex
	report domain.CompileReport
	err    error
	panic  any
	calls  [][2]string
	// hold, when set, stalls Compile until it is closed, ignoring ctx.
	hold chan struct{}
}

func (s *stubCompiler) Compile(ctx context.Context, sourcePath, outputDir string) (domain.CompileReport, error) {
	s.mu.Lock()
	s.calls = append(s.calls, [2]string{sourcePath, outputDir})
	s.mu.Unlock()
	if s.hold != nil {
		<-s.hold
	}
	if s.panic != nil {
		panic(s.panic)
	}
	return s.report, s.err
}

func (s *stubCompiler) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// stubRunner treats every class file whose base name is a key of tests as
// loadable; files listed in broken fail to load.
type stubRunner struct {
	tests         map[string][]string
	broken        map[string]bool
	supportsPanic bool
	run           func(ctx context.Context, suite domain.Suite, out io.Writer) (domain.Summary, error)
}

func (s *stubRunner) Load(ctx context.Context, path string) (domain.Artifact, error) {
	base := filepath.Base(path)
	if s.broken[base] {
		return domain.Artifact{}, errors.New("truncated class file")
	}
	name := base[:len(base)-len(".class")]
	return domain.Artifact{Name: name, Path: path, TestCases: s.tests[base]}, nil
}

func (s *stubRunner) SupportsTestCase(a domain.Artifact) bool {
	if s.supportsPanic {
		panic("capability check exploded")
	}
	return len(a.TestCases) > 0
}

func (s *stubRunner) Run(ctx context.Context, suite domain.Suite, out io.Writer) (domain.Summary, error) {
	if s.run == nil {
		return domain.Summary{}, nil
	}
	return s.run(ctx, suite, out)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OutcomeEvent
	err    error
	// hold, when set, stalls Publish until it is closed or ctx ends.
	hold chan struct{}
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.OutcomeEvent) error {
	if p.hold != nil {
		select {
		case <-p.hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) snapshot() []domain.OutcomeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.OutcomeEvent(nil), p.events...)
}

// workspace creates a directory holding a source file and the named class files.
func workspace(t *testing.T, classes ...string) (dir, source string) {
	t.Helper()
	dir = t.TempDir()
	source = filepath.Join(dir, "CalculatorTest.java")
	if err := os.WriteFile(source, []byte("class CalculatorTest {}"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	for _, c := range classes {
		if err := os.WriteFile(filepath.Join(dir, c), []byte{0xCA, 0xFE, 0xBA, 0xBE}, 0o644); err != nil {
			t.Fatalf("write class: %v", err)
		}
	}
	return dir, source
}
