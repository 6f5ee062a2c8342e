package javatool

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/dontdude/testworker/internal/domain"
)

const launcherOutput = `adding 1 + 2

dividing by zero

Failures (1):
  JUnit Jupiter:CalculatorTest:divides()
    MethodSource [className = 'CalculatorTest', methodName = 'divides', methodParameterTypes = '']
    => java.lang.ArithmeticException: / by zero
       CalculatorTest.divides(CalculatorTest.java:21)
       java.base/java.util.ArrayList.forEach(ArrayList.java:1596)

Test run finished after 64 ms
[         3 containers found      ]
[         0 containers skipped    ]
[         3 containers started    ]
[         0 containers aborted    ]
[         3 containers successful ]
[         0 containers failed     ]
[         4 tests found           ]
[         0 tests skipped         ]
[         4 tests started         ]
[         0 tests aborted         ]
[         3 tests successful      ]
[         1 tests failed          ]
`

func TestSummaryFilterSplitsSummaryFromOutput(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	f := NewSummaryFilter(&out)

	// Feed in odd-sized chunks to exercise line reassembly.
	data := []byte(launcherOutput)
	for len(data) > 0 {
		n := 7
		if n > len(data) {
			n = len(data)
		}
		if _, err := f.Write(data[:n]); err != nil {
			t.Fatalf("Write error: %v", err)
		}
		data = data[n:]
	}
	f.Flush()

	got, ok := f.Summary()
	if !ok {
		t.Fatalf("expected summary to be seen")
	}
	want := domain.Summary{Total: 4, Passed: 3, Failed: 1, Elapsed: 64 * time.Millisecond}
	if got != want {
		t.Fatalf("summary = %+v, want %+v", got, want)
	}

	if got := out.String(); got != "adding 1 + 2\n\ndividing by zero\n" {
		t.Fatalf("launcher report leaked into output:\n%s", got)
	}
}

func TestSummaryFilterKeepsOutputAfterFailureListing(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	f := NewSummaryFilter(&out)
	_, _ = f.Write([]byte("Failures (1):\n  JUnit Jupiter:XTest:x()\n    => boom\n\nlate line\n"))
	f.Flush()

	if out.String() != "late line\n" {
		t.Fatalf("output = %q", out.String())
	}
	if strings.Contains(out.String(), "boom") {
		t.Fatalf("failure entry leaked: %q", out.String())
	}
}

func TestSummaryFilterWithoutSummary(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	f := NewSummaryFilter(&out)
	_, _ = f.Write([]byte("Error: Could not find or load main class\npartial"))
	f.Flush()

	if _, ok := f.Summary(); ok {
		t.Fatalf("expected no summary")
	}
	if out.String() != "Error: Could not find or load main class\npartial" {
		t.Fatalf("output = %q", out.String())
	}
}
