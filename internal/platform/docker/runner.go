package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dontdude/testworker/internal/domain"
	"github.com/dontdude/testworker/internal/platform/javatool"
)

// Runner executes the JUnit console launcher inside a disposable container.
// Loading and capability checks read class files on the host.
type Runner struct {
	client *Client
	tc     javatool.Toolchain
	local  *javatool.Runner
}

// Check if Runner implements domain.TestRunner
var _ domain.TestRunner = (*Runner)(nil)

// NewRunner returns a containerized test runner.
func NewRunner(client *Client, tc javatool.Toolchain) *Runner {
	return &Runner{client: client, tc: tc, local: javatool.NewRunner(tc, client.logger)}
}

func (r *Runner) Load(ctx context.Context, path string) (domain.Artifact, error) {
	return r.local.Load(ctx, path)
}

func (r *Runner) SupportsTestCase(a domain.Artifact) bool {
	return r.local.SupportsTestCase(a)
}

// Run kills the container if ctx ends before the launcher exits.
func (r *Runner) Run(ctx context.Context, suite domain.Suite, output io.Writer) (domain.Summary, error) {
	if len(suite) == 0 {
		return domain.Summary{}, errors.New("empty suite")
	}

	classDir := filepath.Dir(suite[0].Path)
	filter := javatool.NewSummaryFilter(output)

	// Both streams share the filter so their relative order is preserved.
	code, err := r.client.run(ctx, runSpec{
		cmd:     r.tc.LaunchArgs(classDir, suite.Names()),
		workDir: classDir,
		mounts:  bindMounts(nil, append([]string{classDir}, jarPaths(r.tc)...)),
	}, filter, filter)
	filter.Flush()
	if err != nil {
		return domain.Summary{}, err
	}

	summary, ok := filter.Summary()
	if !ok {
		return domain.Summary{}, fmt.Errorf("test launcher exited with code %d: %w", code, javatool.ErrNoSummary)
	}
	return summary, nil
}
