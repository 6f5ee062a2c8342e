package docker

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dontdude/testworker/internal/domain"
	"github.com/dontdude/testworker/internal/platform/javatool"
)

// Compiler runs javac inside a disposable container. The output directory is
// bind-mounted so the classes land on the host.
type Compiler struct {
	client *Client
	tc     javatool.Toolchain
}

// Check if Compiler implements domain.Compiler
var _ domain.Compiler = (*Compiler)(nil)

// NewCompiler returns a containerized compiler. tc paths refer to the image's
// binaries and to host jar paths, which are mounted read-only.
func NewCompiler(client *Client, tc javatool.Toolchain) *Compiler {
	return &Compiler{client: client, tc: tc}
}

func (c *Compiler) Compile(ctx context.Context, sourcePath, outputDir string) (domain.CompileReport, error) {
	args := c.tc.CompileArgs(sourcePath, outputDir)

	var out bytes.Buffer
	code, err := c.client.run(ctx, runSpec{
		cmd:     args,
		workDir: outputDir,
		mounts:  bindMounts([]string{outputDir}, jarPaths(c.tc)),
	}, &out, &out)
	if err != nil {
		return domain.CompileReport{}, fmt.Errorf("containerized javac: %w", err)
	}

	return domain.CompileReport{OK: code == 0, Diagnostics: out.String()}, nil
}

func jarPaths(tc javatool.Toolchain) []string {
	return append([]string{tc.JUnitJar}, tc.ExtraClasspath...)
}
