// Package protocol implements the newline-delimited text protocol spoken between
// a client and a worker.
//
// A request is two lines: the absolute path of the source file and an optional
// timeout in seconds. A response is a tag line, a body, and the sentinel line.
package protocol

import (
	"fmt"
	"io"
	"strings"

	"github.com/dontdude/testworker/internal/domain"
)

// Kind is the tag on the first line of a response.
type Kind string

const (
	KindCompileError Kind = "COMPILE_ERROR"
	KindRuntimeError Kind = "RUNTIME_ERROR"
	KindRunResult    Kind = "RUN_RESULT"
)

// Sentinel terminates every response.
const Sentinel = "__END__"

// TimeoutBody is the RUN_RESULT body sent when execution exceeded its deadline.
const TimeoutBody = "TIMEOUT"

const separator = "======================"

// Response is one fully rendered answer.
type Response struct {
	Kind Kind
	Body string
}

// CompileError builds a COMPILE_ERROR response.
func CompileError(text string) Response {
	return Response{Kind: KindCompileError, Body: text}
}

// RuntimeError builds a RUNTIME_ERROR response.
func RuntimeError(text string) Response {
	return Response{Kind: KindRuntimeError, Body: text}
}

// RunResult builds a RUN_RESULT response.
func RunResult(text string) Response {
	return Response{Kind: KindRunResult, Body: text}
}

// Timeout is reported under the RUN_RESULT tag, not an error tag.
func Timeout() Response {
	return RunResult(TimeoutBody)
}

// Completed renders captured output followed by the fixed summary block.
func Completed(output string, s domain.Summary) Response {
	var b strings.Builder
	b.WriteString(output)
	b.WriteString("\n" + separator + "\n")
	fmt.Fprintf(&b, "Total tests:     %d\n", s.Total)
	fmt.Fprintf(&b, "Successful:      %d\n", s.Passed)
	fmt.Fprintf(&b, "Failed:          %d\n", s.Failed)
	fmt.Fprintf(&b, "Aborted:         %d\n", s.Aborted)
	fmt.Fprintf(&b, "Skipped:         %d\n", s.Skipped)
	fmt.Fprintf(&b, "Total time:      %.3f s\n", elapsedSeconds(s))
	fmt.Fprintf(&b, "%s%s\n", overallPrefix, Overall(s))
	return RunResult(b.String())
}

// Overall is FAILED when at least one test failed, PASSED otherwise.
func Overall(s domain.Summary) string {
	if s.Failed > 0 {
		return "FAILED"
	}
	return "PASSED"
}

func elapsedSeconds(s domain.Summary) float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return s.Elapsed.Seconds()
}

const overallPrefix = "OVERALL_RESULT: "

// Headline summarizes the response in one line for logs and events: the
// overall result of a completed run, otherwise the first body line.
func (r Response) Headline() string {
	if r.Kind == KindRunResult {
		if i := strings.LastIndex(r.Body, overallPrefix); i >= 0 {
			line, _, _ := strings.Cut(r.Body[i:], "\n")
			return line
		}
	}
	line, _, _ := strings.Cut(r.Body, "\n")
	return line
}

// String returns the exact bytes written on the wire.
func (r Response) String() string {
	var b strings.Builder
	b.WriteString(string(r.Kind))
	b.WriteByte('\n')
	b.WriteString(r.Body)
	if r.Body != "" && !strings.HasSuffix(r.Body, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(Sentinel)
	b.WriteByte('\n')
	return b.String()
}

// WriteTo writes the rendered response to w.
func (r Response) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, r.String())
	return int64(n), err
}
