// Package pipeline turns one worker connection into one framed response:
// read the request, compile, discover tests, execute them under a deadline,
// and reply.
package pipeline

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Timeout bounds, in seconds.
const (
	DefaultTimeoutSeconds = 10
	MinTimeoutSeconds     = 1
	MaxTimeoutSeconds     = 60
)

// Fixed response texts.
const (
	MissingSourceMessage = "codePath not exist or empty"
	NoTestsMessage       = "No test classes with @Test found in Test*.class"
)

// Request is a parsed worker request. Timeout is the effective execution deadline.
type Request struct {
	SourcePath string
	Timeout    time.Duration
}

// ParseTimeout converts the raw timeout line into an execution deadline.
// A value v with 1 < v <= 60 yields v-1 seconds, leaving one second of the
// caller's budget for compile and framing. Anything else yields the default.
func ParseTimeout(line string) time.Duration {
	v, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || v <= MinTimeoutSeconds || v > MaxTimeoutSeconds {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(clamp(v-1, MinTimeoutSeconds, MaxTimeoutSeconds)) * time.Second
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// SourcePath strips the line terminator from the raw path line and reports
// whether it names an existing file system entry.
func SourcePath(line string) (string, bool) {
	path := strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(path) == "" {
		return "", false
	}
	if _, err := os.Stat(path); err != nil {
		return path, false
	}
	return path, true
}
