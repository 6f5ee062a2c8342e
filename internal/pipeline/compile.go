package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dontdude/testworker/internal/domain"
)

// ErrCompileTimeout is reported when the compiler misses its deadline.
var ErrCompileTimeout = errors.New("compilation timed out")

// CompileStage wraps a domain.Compiler and normalizes every way it can fail
// into a CompileOutcome.
type CompileStage struct {
	compiler domain.Compiler
	timeout  time.Duration
	logger   *slog.Logger
}

// NewCompileStage returns a CompileStage using compiler. A positive timeout
// bounds each compilation; zero leaves it unbounded.
func NewCompileStage(compiler domain.Compiler, timeout time.Duration, logger *slog.Logger) *CompileStage {
	return &CompileStage{compiler: compiler, timeout: timeout, logger: logger}
}

type compileResult struct {
	report domain.CompileReport
	err    error
}

// Compile writes artifacts next to the source file. It never returns an
// error; failures are carried in the outcome's diagnostics.
func (s *CompileStage) Compile(ctx context.Context, sourcePath string) domain.CompileOutcome {
	outputDir := filepath.Dir(sourcePath)

	compileCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan compileResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("compiler panicked", "panic", r)
				done <- compileResult{err: fmt.Errorf("%v", r)}
			}
		}()
		report, err := s.compiler.Compile(compileCtx, sourcePath, outputDir)
		done <- compileResult{report: report, err: err}
	}()

	var expired <-chan time.Time
	if s.timeout > 0 {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var res compileResult
	select {
	case res = <-done:
	case <-expired:
		cancel()
		s.logger.Warn("compilation timed out", "timeout", s.timeout)
		res = compileResult{err: fmt.Errorf("%w after %s", ErrCompileTimeout, s.timeout)}
	case <-ctx.Done():
		res = compileResult{err: ctx.Err()}
	}

	report, err := res.report, res.err
	switch {
	case errors.Is(err, domain.ErrCompilerUnavailable):
		return domain.CompileOutcome{Diagnostics: err.Error()}
	case err != nil:
		return domain.CompileOutcome{Diagnostics: "EXCEPTION: " + err.Error()}
	case !report.OK:
		return domain.CompileOutcome{Diagnostics: report.Diagnostics}
	}

	return domain.CompileOutcome{OK: true, ArtifactDir: outputDir, Diagnostics: report.Diagnostics}
}
