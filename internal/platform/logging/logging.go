// Package logging builds the worker's append-only, timestamped log.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// TimeLayout renders millisecond timestamps with a numeric zone offset.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Zone returns a fixed zone offsetHours east of UTC.
func Zone(offsetHours int) *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", offsetHours), offsetHours*60*60)
}

// New returns a text logger writing to w whose timestamps are rendered in loc.
func New(w io.Writer, loc *time.Location) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String(slog.TimeKey, a.Value.Time().In(loc).Format(TimeLayout))
			}
			return a
		},
	}))
}

// FilePath is the log file location for a worker bound to port.
func FilePath(dir string, port int) string {
	return filepath.Join(dir, fmt.Sprintf("worker_main_%d.log", port))
}

// Open creates dir if needed and opens the worker log in append mode.
// The returned closer must be closed on shutdown.
func Open(dir string, port int, loc *time.Location) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}

	f, err := os.OpenFile(FilePath(dir, port), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	return New(f, loc), f, nil
}
