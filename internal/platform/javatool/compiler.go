package javatool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/dontdude/testworker/internal/domain"
)

// Compiler compiles a single source file with a local javac.
type Compiler struct {
	tc     Toolchain
	logger *slog.Logger
}

var _ domain.Compiler = (*Compiler)(nil)

// NewCompiler returns a Compiler using the given toolchain.
func NewCompiler(tc Toolchain, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{tc: tc, logger: logger}
}

// Compile runs javac. A non-zero exit is reported through the CompileReport,
// not as an error.
func (c *Compiler) Compile(ctx context.Context, sourcePath, outputDir string) (domain.CompileReport, error) {
	args := c.tc.CompileArgs(sourcePath, outputDir)

	bin, err := exec.LookPath(args[0])
	if err != nil {
		c.logger.Error("javac not found", "javac", args[0], "error", err)
		return domain.CompileReport{}, domain.ErrCompilerUnavailable
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	configureProcessGroup(cmd)

	err = cmd.Run()
	if err == nil {
		return domain.CompileReport{OK: true, Diagnostics: out.String()}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return domain.CompileReport{OK: false, Diagnostics: out.String()}, nil
	}
	if ctx.Err() != nil {
		return domain.CompileReport{}, fmt.Errorf("javac interrupted: %w", ctx.Err())
	}
	return domain.CompileReport{}, fmt.Errorf("run javac: %w", err)
}
