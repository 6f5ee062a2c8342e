package javatool

import (
	"bytes"
	"io"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/dontdude/testworker/internal/domain"
)

var (
	finishedLine = regexp.MustCompile(`^Test run finished after (\d+) ms\s*$`)
	countLine    = regexp.MustCompile(`^\[\s*(\d+) (tests|containers) (found|skipped|started|aborted|successful|failed)\s*\]\s*$`)
	failuresLine = regexp.MustCompile(`^Failures \(\d+\):\s*$`)
)

// SummaryFilter forwards launcher output line by line, diverting the
// launcher's own report (the failure listing and the execution summary)
// away from the output. Only the counts are kept, as a domain.Summary.
type SummaryFilter struct {
	mu      sync.Mutex
	out     io.Writer
	pending []byte
	blank   [][]byte // blank lines held until the next line shows who printed them
	report  bool     // inside the failure listing
	summary domain.Summary
	seen    bool
}

// NewSummaryFilter returns a filter writing non-summary lines to out.
func NewSummaryFilter(out io.Writer) *SummaryFilter {
	return &SummaryFilter{out: out}
}

// Write always reports len(p) so the launcher never sees a short write.
func (f *SummaryFilter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending = append(f.pending, p...)
	for {
		i := bytes.IndexByte(f.pending, '\n')
		if i < 0 {
			break
		}
		f.line(f.pending[:i+1])
		f.pending = f.pending[i+1:]
	}
	return len(p), nil
}

// Flush handles a trailing line without a newline.
func (f *SummaryFilter) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) > 0 {
		f.line(f.pending)
		f.pending = nil
	}
	if !f.report && !f.seen {
		f.release()
	}
	f.blank = nil
}

// Summary returns the parsed counts and whether the summary block was seen.
func (f *SummaryFilter) Summary() (domain.Summary, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summary, f.seen
}

func (f *SummaryFilter) line(raw []byte) {
	text := string(bytes.TrimRight(raw, "\r\n"))

	if m := finishedLine.FindStringSubmatch(text); m != nil {
		ms, _ := strconv.Atoi(m[1])
		f.summary.Elapsed = time.Duration(ms) * time.Millisecond
		f.seen = true
		f.report = false
		f.blank = nil
		return
	}

	if m := countLine.FindStringSubmatch(text); m != nil {
		f.seen = true
		f.report = false
		f.blank = nil
		if m[2] != "tests" {
			return
		}
		n, _ := strconv.Atoi(m[1])
		switch m[3] {
		case "found":
			f.summary.Total = n
		case "successful":
			f.summary.Passed = n
		case "failed":
			f.summary.Failed = n
		case "aborted":
			f.summary.Aborted = n
		case "skipped":
			f.summary.Skipped = n
		}
		return
	}

	if failuresLine.MatchString(text) {
		f.report = true
		f.blank = nil
		return
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		if !f.report {
			f.blank = append(f.blank, raw)
		}
		return
	}

	// Failure entries are indented; anything flush left ends the listing.
	if f.report {
		if raw[0] == ' ' || raw[0] == '\t' {
			return
		}
		f.report = false
	}

	f.release()
	// Errors writing to the capture are not the launcher's concern.
	_, _ = f.out.Write(raw)
}

func (f *SummaryFilter) release() {
	for _, b := range f.blank {
		_, _ = f.out.Write(b)
	}
	f.blank = nil
}
