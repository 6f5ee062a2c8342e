package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
)

// ConnHandler serves one accepted connection to completion.
type ConnHandler interface {
	Serve(ctx context.Context, conn net.Conn)
}

// Listener accepts connections on a loopback port and hands them to the
// handler strictly one at a time.
type Listener struct {
	ln      net.Listener
	handler ConnHandler
	logger  *slog.Logger
}

// Listen binds addr. The worker only ever listens on the loopback interface.
func Listen(addr string, handler ConnHandler, logger *slog.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{ln: ln, handler: handler, logger: logger}, nil
}

// Addr is the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Run accepts until ctx is cancelled or the listener is closed. The next
// connection is not accepted before the current one has been served; clients
// queue in the kernel backlog meanwhile. Accept errors are logged and the
// loop continues.
func (l *Listener) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = l.ln.Close()
	})
	defer stop()

	l.logger.Info("Worker listening", "addr", l.ln.Addr().String())

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.logger.Info("Worker stopped accepting connections")
				return nil
			}
			l.logger.Error("Accept failed", "error", err)
			continue
		}

		l.serve(ctx, conn)
	}
}

// serve keeps a handler panic from ending the accept loop.
func (l *Listener) serve(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Connection handler panicked", "panic", r, "stack", string(debug.Stack()))
			_ = conn.Close()
		}
	}()
	l.handler.Serve(ctx, conn)
}

// Close stops the listener; Run returns nil afterwards.
func (l *Listener) Close() error {
	return l.ln.Close()
}
