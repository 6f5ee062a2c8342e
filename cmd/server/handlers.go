package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dontdude/testworker/internal/domain"
	"github.com/dontdude/testworker/internal/platform/web"
	"github.com/dontdude/testworker/internal/protocol"
)

// submitTimeout covers the longest worker deadline plus compile time.
const submitTimeout = 90 * time.Second

const (
	defaultHistory = 20
	maxHistory     = 500
)

type submitFunc func(ctx context.Context, addr string, req protocol.Request) (protocol.Response, error)

type gateway struct {
	workerAddr string
	submit     submitFunc
	// source is nil when no Redis bus is configured.
	source domain.EventSource
	hub    *hub
}

func (g *gateway) routes(limiter *web.RateLimiter) *http.ServeMux {
	mux := http.NewServeMux()

	// POST /api/run -> forwards to the worker (rate limited)
	mux.HandleFunc("POST /api/run", limiter.Middleware(g.handleRun))
	// GET /api/outcomes -> recent outcome history
	mux.HandleFunc("GET /api/outcomes", g.handleOutcomes)
	// GET /api/ws -> live outcome feed
	mux.HandleFunc("GET /api/ws", g.handleWS)
	mux.HandleFunc("GET /health", handleHealth)

	return mux
}

type runRequest struct {
	SourcePath string `json:"source_path"`
	Timeout    int    `json:"timeout"`
}

type runResponse struct {
	RequestID string `json:"request_id"`
	Kind      string `json:"kind"`
	Body      string `json:"body"`
}

func (g *gateway) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SourcePath == "" {
		writeError(w, http.StatusBadRequest, "source_path is required")
		return
	}

	requestID := uuid.NewString()
	slog.Info("Received submission", "requestID", requestID, "path", req.SourcePath, "timeout", req.Timeout)

	ctx, cancel := context.WithTimeout(r.Context(), submitTimeout)
	defer cancel()

	resp, err := g.submit(ctx, g.workerAddr, protocol.Request{SourcePath: req.SourcePath, TimeoutSeconds: req.Timeout})
	if err != nil {
		slog.Error("Worker request failed", "requestID", requestID, "error", err)
		writeError(w, http.StatusBadGateway, "worker unavailable")
		return
	}

	writeJSON(w, http.StatusOK, runResponse{
		RequestID: requestID,
		Kind:      string(resp.Kind),
		Body:      resp.Body,
	})
}

func (g *gateway) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	if g.source == nil {
		writeError(w, http.StatusServiceUnavailable, "outcome history is not configured")
		return
	}

	limit := int64(defaultHistory)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistory)
	}

	events, err := g.source.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to read outcomes", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// WebSocket Upgrader (Gorilla)
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // Allow all origins for dev
}

// handleWS upgrades the connection and keeps it registered until the client leaves.
func (g *gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	if g.source == nil {
		writeError(w, http.StatusServiceUnavailable, "live outcomes are not configured")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	slog.Info("Client connected via WebSocket", "remoteAddr", conn.RemoteAddr())
	g.hub.add(conn)
	defer func() {
		slog.Info("Client disconnected", "remoteAddr", conn.RemoteAddr())
		g.hub.remove(conn)
	}()

	// Reads only detect disconnects; the feed is one-way.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// enableCORS adds headers to allow requests from the Frontend.
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle Preflight OPTIONS request
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// hub tracks live WebSocket clients.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]struct{})}
}

func (h *hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast writes event to every client, dropping clients whose write fails.
func (h *hub) broadcast(event domain.OutcomeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			slog.Error("Failed to write to websocket", "remoteAddr", conn.RemoteAddr(), "error", err)
			delete(h.clients, conn)
			_ = conn.Close()
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.Close()
		delete(h.clients, conn)
	}
}
