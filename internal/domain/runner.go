package domain

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrCompilerUnavailable reports that no compiler backend could be reached at all.
var ErrCompilerUnavailable = errors.New("no Java compiler found (is a JDK installed instead of a JRE?)")

// CompileReport is what a Compiler returns for a source file it managed to process.
type CompileReport struct {
	// OK is true when the compiler produced artifacts without errors.
	OK bool
	// Diagnostics is the compiler's raw error output.
	Diagnostics string
}

// Compiler defines the contract for turning a submitted source file into runnable artifacts.
// Artifacts are written into outputDir.
type Compiler interface {
	Compile(ctx context.Context, sourcePath, outputDir string) (CompileReport, error)
}

// Artifact is a compiled candidate loaded by a TestRunner.
type Artifact struct {
	// Name is the fully qualified class name (e.g. "CalculatorTest").
	Name string
	// Path is the artifact location on disk.
	Path string
	// TestCases lists the methods carrying the test-case tag.
	TestCases []string
}

// Suite is the set of artifacts selected for execution.
type Suite []Artifact

// Names returns the artifact names in suite order.
func (s Suite) Names() []string {
	names := make([]string, 0, len(s))
	for _, a := range s {
		names = append(names, a.Name)
	}
	return names
}

// Summary aggregates the counts reported by a test run.
type Summary struct {
	Total   int
	Passed  int
	Failed  int
	Aborted int
	Skipped int
	Elapsed time.Duration
}

// TestRunner defines the contract for loading compiled artifacts and executing a suite.
// Implementations must stop their work when ctx is cancelled, as promptly as the engine allows.
type TestRunner interface {
	// Load reads a compiled candidate. A load error is fatal only for that candidate.
	Load(ctx context.Context, path string) (Artifact, error)

	// SupportsTestCase reports whether the artifact exposes at least one tagged test method.
	SupportsTestCase(a Artifact) bool

	// Run executes the suite, writing everything the tests print to output.
	Run(ctx context.Context, suite Suite, output io.Writer) (Summary, error)
}

// CompileOutcome is the normalized result of the compile stage.
type CompileOutcome struct {
	OK          bool
	ArtifactDir string
	Diagnostics string
}

// ExecutionStatus enumerates the ways an execution can end.
type ExecutionStatus string

const (
	ExecutionCompleted    ExecutionStatus = "completed"
	ExecutionTimedOut     ExecutionStatus = "timed_out"
	ExecutionRuntimeError ExecutionStatus = "runtime_error"
)

// ExecutionOutcome is the result of the execution stage.
type ExecutionOutcome struct {
	Status ExecutionStatus
	// Summary and Output are set for ExecutionCompleted.
	Summary Summary
	Output  string
	// Message is set for ExecutionRuntimeError.
	Message string
}
