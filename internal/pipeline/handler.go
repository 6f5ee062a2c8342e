package pipeline

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/dontdude/testworker/internal/domain"
	"github.com/dontdude/testworker/internal/protocol"
)

const publishTimeout = 5 * time.Second

// Options wires a Handler to its collaborators.
type Options struct {
	Compiler  domain.Compiler
	Runner    domain.TestRunner
	Publisher domain.EventPublisher
	Logger    *slog.Logger

	// ClassMarker selects candidate class files by name.
	ClassMarker string
	// ReadTimeout bounds the wait for each request line. Zero disables it.
	ReadTimeout time.Duration
	// CompileTimeout bounds compilation. Zero disables it.
	CompileTimeout time.Duration
	// Port is recorded on published events.
	Port int
}

// Handler serves one connection at a time through the request state machine.
type Handler struct {
	compile   *CompileStage
	discover  *Discoverer
	execute   *Executor
	publisher domain.EventPublisher
	logger    *slog.Logger

	readTimeout time.Duration
	port        int
}

// NewHandler builds a Handler from opts.
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = domain.NopPublisher{}
	}
	marker := opts.ClassMarker
	if marker == "" {
		marker = "Test"
	}

	return &Handler{
		compile:     NewCompileStage(opts.Compiler, opts.CompileTimeout, logger),
		discover:    NewDiscoverer(opts.Runner, marker, logger),
		execute:     NewExecutor(opts.Runner, logger),
		publisher:   publisher,
		logger:      logger,
		readTimeout: opts.ReadTimeout,
		port:        opts.Port,
	}
}

// Serve handles conn to completion and closes it. A panic anywhere in the
// request is logged with its stack and the connection is dropped.
func (h *Handler) Serve(ctx context.Context, conn net.Conn) {
	start := time.Now()
	id := uuid.NewString()
	logger := h.logger.With("request_id", id)
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("request handler panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	logger.Info("connection accepted", "remote", conn.RemoteAddr().String())
	reader := bufio.NewReader(conn)

	// 1. Await source path
	h.armReadDeadline(conn)
	line, err := readLine(reader)
	if err != nil {
		logger.Warn("failed to read source path", "error", err)
	}
	path, ok := SourcePath(line)
	if !ok {
		logger.Warn("source path missing or not found", "path", path)
		h.respond(conn, logger, id, Request{SourcePath: path}, protocol.CompileError(MissingSourceMessage), start)
		return
	}

	// 2. Await timeout
	h.armReadDeadline(conn)
	line, err = readLine(reader)
	if err != nil {
		logger.Debug("timeout line unavailable, using default", "error", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	req := Request{SourcePath: path, Timeout: ParseTimeout(line)}
	logger.Info("request received", "path", req.SourcePath, "timeout", req.Timeout)

	resp := h.process(ctx, logger, req)
	h.respond(conn, logger, id, req, resp, start)
}

// process runs the compile, discover and execute states.
func (h *Handler) process(ctx context.Context, logger *slog.Logger, req Request) protocol.Response {
	// 3. Compile
	compiled := h.compile.Compile(ctx, req.SourcePath)
	if !compiled.OK {
		logger.Info("compilation failed")
		return protocol.CompileError(compiled.Diagnostics)
	}
	logger.Info("compilation succeeded", "dir", compiled.ArtifactDir)

	// 4. Discover
	suite := h.discover.Discover(ctx, compiled.ArtifactDir)
	if len(suite) == 0 {
		logger.Info("no test classes discovered")
		return protocol.RuntimeError(NoTestsMessage)
	}
	logger.Info("test classes discovered", "classes", suite.Names())

	// 5. Execute
	outcome := h.execute.Execute(ctx, suite, req.Timeout)
	logger.Info("execution finished", "status", outcome.Status)

	switch outcome.Status {
	case domain.ExecutionTimedOut:
		return protocol.Timeout()
	case domain.ExecutionRuntimeError:
		return protocol.RuntimeError(outcome.Message)
	default:
		return protocol.Completed(outcome.Output, outcome.Summary)
	}
}

// respond writes the framed response, closes conn, then publishes the
// outcome event. The client never waits on the event sink.
func (h *Handler) respond(conn net.Conn, logger *slog.Logger, id string, req Request, resp protocol.Response, start time.Time) {
	_, err := resp.WriteTo(conn)
	_ = conn.Close()
	if err != nil {
		logger.Error("failed to write response", "error", err)
		return
	}
	elapsed := time.Since(start)
	logger.Info("response sent", "kind", resp.Kind, "result", resp.Headline(), "elapsed", elapsed)

	event := domain.OutcomeEvent{
		RequestID:  id,
		Port:       h.port,
		SourcePath: req.SourcePath,
		Kind:       string(resp.Kind),
		Headline:   resp.Headline(),
		Elapsed:    elapsed,
		At:         time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.publisher.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish outcome", "error", err)
	}
}

func (h *Handler) armReadDeadline(conn net.Conn) {
	if h.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}

// readLine returns one line including its terminator. A final line without a
// terminator is returned with a nil error.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if errors.Is(err, io.EOF) && line != "" {
		return line, nil
	}
	return line, err
}
