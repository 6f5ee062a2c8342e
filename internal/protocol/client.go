package protocol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ErrNoSentinel is returned when the connection ends before the sentinel line.
var ErrNoSentinel = errors.New("response ended before " + Sentinel)

// Request is what a client submits to a worker.
type Request struct {
	SourcePath string
	// TimeoutSeconds is sent verbatim; zero leaves the line empty so the worker applies its default.
	TimeoutSeconds int
}

// WriteRequest writes the two request lines.
func WriteRequest(w io.Writer, req Request) error {
	timeout := ""
	if req.TimeoutSeconds != 0 {
		timeout = strconv.Itoa(req.TimeoutSeconds)
	}
	if _, err := fmt.Fprintf(w, "%s\n%s\n", req.SourcePath, timeout); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// ReadResponse reads one response up to and including the sentinel line.
// The returned Body keeps its trailing newline.
func ReadResponse(r *bufio.Reader) (Response, error) {
	tag, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Response{}, ErrNoSentinel
		}
		return Response{}, fmt.Errorf("read tag: %w", err)
	}

	kind := Kind(strings.TrimRight(tag, "\r\n"))
	switch kind {
	case KindCompileError, KindRuntimeError, KindRunResult:
	default:
		return Response{}, fmt.Errorf("unknown response tag %q", kind)
	}

	var body strings.Builder
	for {
		line, err := r.ReadString('\n')
		if strings.TrimRight(line, "\r\n") == Sentinel {
			return Response{Kind: kind, Body: body.String()}, nil
		}
		body.WriteString(line)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Response{}, ErrNoSentinel
			}
			return Response{}, fmt.Errorf("read body: %w", err)
		}
	}
}

// Submit dials a worker, sends req and waits for the full response.
// The connection deadline is the context deadline when one is set.
func Submit(ctx context.Context, addr string, req Request) (Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Response{}, fmt.Errorf("dial worker %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// Unblock reads when the caller gives up without a deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := WriteRequest(conn, req); err != nil {
		return Response{}, err
	}

	resp, err := ReadResponse(bufio.NewReader(conn))
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, err
	}
	return resp, nil
}
