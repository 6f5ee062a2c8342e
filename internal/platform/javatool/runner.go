package javatool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/dontdude/testworker/internal/domain"
	"github.com/dontdude/testworker/internal/platform/classfile"
)

// DefaultWaitDelay bounds how long Run waits for output pipes after the
// launcher has been killed.
const DefaultWaitDelay = 2 * time.Second

// ErrNoSummary is returned when the launcher exits without printing its summary.
var ErrNoSummary = errors.New("test launcher exited without a summary")

// Runner loads compiled classes and runs them with the JUnit console launcher.
type Runner struct {
	tc        Toolchain
	logger    *slog.Logger
	waitDelay time.Duration
}

var _ domain.TestRunner = (*Runner)(nil)

// NewRunner returns a Runner using the given toolchain.
func NewRunner(tc Toolchain, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{tc: tc, logger: logger, waitDelay: DefaultWaitDelay}
}

// Load reads the class file at path and records its @Test methods.
func (r *Runner) Load(ctx context.Context, path string) (domain.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return domain.Artifact{}, err
	}
	c, err := classfile.ReadFile(path)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("load class: %w", err)
	}
	return domain.Artifact{
		Name:      c.Name,
		Path:      path,
		TestCases: c.MethodsAnnotatedWith(TestAnnotation),
	}, nil
}

// SupportsTestCase reports whether the class declares at least one @Test method.
func (r *Runner) SupportsTestCase(a domain.Artifact) bool {
	return len(a.TestCases) > 0
}

// Run launches the suite in a fresh JVM. Cancelling ctx kills the launcher's
// whole process group.
func (r *Runner) Run(ctx context.Context, suite domain.Suite, output io.Writer) (domain.Summary, error) {
	if len(suite) == 0 {
		return domain.Summary{}, errors.New("empty suite")
	}

	classDir := filepath.Dir(suite[0].Path)
	args := r.tc.LaunchArgs(classDir, suite.Names())

	filter := NewSummaryFilter(output)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = classDir
	cmd.Stdout = filter
	cmd.Stderr = filter
	cmd.WaitDelay = r.waitDelay
	configureProcessGroup(cmd)

	r.logger.Debug("launching tests", "classes", suite.Names(), "dir", classDir)
	runErr := cmd.Run()
	filter.Flush()

	if ctx.Err() != nil {
		return domain.Summary{}, ctx.Err()
	}

	summary, ok := filter.Summary()
	if !ok {
		if runErr != nil {
			return domain.Summary{}, fmt.Errorf("test launcher: %w", runErr)
		}
		return domain.Summary{}, ErrNoSummary
	}

	// The launcher exits 1 when any test failed; the summary already says so.
	if runErr != nil {
		r.logger.Debug("test launcher exited non-zero", "error", runErr)
	}
	return summary, nil
}
