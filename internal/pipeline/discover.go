package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dontdude/testworker/internal/domain"
)

// Discoverer selects the compiled classes that carry runnable test cases.
type Discoverer struct {
	runner domain.TestRunner
	marker string
	logger *slog.Logger
}

// NewDiscoverer returns a Discoverer matching class files whose names contain marker.
func NewDiscoverer(runner domain.TestRunner, marker string, logger *slog.Logger) *Discoverer {
	return &Discoverer{runner: runner, marker: marker, logger: logger}
}

// Discover visits candidates in lexical filename order. A candidate that fails
// to load is logged and skipped. An unreadable directory yields an empty suite.
func (d *Discoverer) Discover(ctx context.Context, artifactDir string) domain.Suite {
	entries, err := os.ReadDir(artifactDir)
	if err != nil {
		d.logger.Warn("cannot list artifact directory", "dir", artifactDir, "error", err)
		return nil
	}

	var suite domain.Suite
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasSuffix(name, ".class") || !strings.Contains(name, d.marker) {
			continue
		}

		path := filepath.Join(artifactDir, name)
		artifact, err := d.runner.Load(ctx, path)
		if err != nil {
			d.logger.Warn("skipping unloadable class", "path", path, "error", err)
			continue
		}
		if !d.runner.SupportsTestCase(artifact) {
			continue
		}
		suite = append(suite, artifact)
	}
	return suite
}
