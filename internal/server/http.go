package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/michaelbeckers79/attendee/internal/config"
	"github.com/michaelbeckers79/attendee/internal/metrics"
	"github.com/michaelbeckers79/attendee/internal/platform"
	"github.com/michaelbeckers79/attendee/internal/session"
	"github.com/michaelbeckers79/attendee/internal/webhook"
)

// PlatformFactory builds the meeting platform adapter for a new session
type PlatformFactory func(s *session.Session) platform.Adapter

// HTTPServer provides the bot control API and monitoring endpoints
type HTTPServer struct {
	server          *http.Server
	logger          *slog.Logger
	config          *config.Config
	registry        *session.Registry
	dispatcher      *webhook.Dispatcher
	platformFactory PlatformFactory
	metrics         *metrics.Metrics // optional, nil disables instrumentation

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg *config.Config, registry *session.Registry, dispatcher *webhook.Dispatcher,
	factory PlatformFactory, logger *slog.Logger, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:          logger,
		config:          cfg,
		registry:        registry,
		dispatcher:      dispatcher,
		platformFactory: factory,
		metrics:         m,
		startTime:       time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Bot session management
	mux.HandleFunc("/bots", h.withMetrics("/bots", h.withAuth(h.handleBots)))
	mux.HandleFunc("/bots/", h.withMetrics("/bots/{id}", h.withAuth(h.handleBotDetail)))

	// Monitoring endpoints
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.withAuth(h.handleStats)))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler exposes the configured route handler, used by tests
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Capture the status code for the request metrics
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		if h.metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// withAuth enforces the configured API key. Authentication is disabled
// when no key is configured. Both "Token <key>" and "Bearer <key>"
// schemes are accepted.
func (h *HTTPServer) withAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := h.config.Server.APIKey
		if apiKey == "" {
			handler(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "Token "+apiKey || header == "Bearer "+apiKey {
			handler(w, r)
			return
		}

		h.writeError(w, http.StatusUnauthorized, "Invalid or missing API key")
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// createBotRequest is the POST /bots payload
type createBotRequest struct {
	MeetingURL string         `json:"meeting_url"`
	WebhookURL string         `json:"webhook_url"`
	BotName    string         `json:"bot_name"`
	Language   string         `json:"language"`
	Metadata   map[string]any `json:"metadata"`
}

// handleBots implements POST /bots (create) and GET /bots (list)
func (h *HTTPServer) handleBots(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleCreateBot(w, r)
	case http.MethodGet:
		h.handleListBots(w, r)
	default:
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *HTTPServer) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if req.MeetingURL == "" {
		h.writeError(w, http.StatusBadRequest, "meeting_url is required")
		return
	}

	if !strings.Contains(req.MeetingURL, "teams.microsoft.com") {
		h.writeError(w, http.StatusBadRequest, "meeting_url must be a Microsoft Teams meeting link")
		return
	}

	if req.WebhookURL == "" {
		h.writeError(w, http.StatusBadRequest, "webhook_url is required")
		return
	}

	if !h.dispatcher.Validate(req.WebhookURL) {
		h.writeError(w, http.StatusBadRequest, "webhook_url failed validation")
		return
	}

	s := h.registry.Create(session.CreateRequest{
		MeetingURL: req.MeetingURL,
		WebhookURL: req.WebhookURL,
		BotName:    req.BotName,
		Language:   req.Language,
		Metadata:   req.Metadata,
	})

	adapter := h.platformFactory(s)
	go session.Run(context.Background(), s, adapter, h.config.Bot.GetPollIntervalDuration())

	h.writeJSON(w, http.StatusCreated, s.Snapshot())
}

func (h *HTTPServer) handleListBots(w http.ResponseWriter, r *http.Request) {
	sessions := h.registry.List()
	snapshots := make([]session.Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snapshots = append(snapshots, s.Snapshot())
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"total": len(snapshots),
		"bots":  snapshots,
	})
}

// handleBotDetail implements GET /bots/{id} and POST /bots/{id}/leave
func (h *HTTPServer) handleBotDetail(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/bots/")
	if path == "" {
		h.writeError(w, http.StatusBadRequest, "Bot ID required")
		return
	}

	if id, ok := strings.CutSuffix(path, "/leave"); ok {
		if r.Method != http.MethodPost {
			h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.handleLeaveBot(w, id)
		return
	}

	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s, ok := h.registry.Get(path)
	if !ok {
		h.writeError(w, http.StatusNotFound, "Bot not found")
		return
	}

	h.writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *HTTPServer) handleLeaveBot(w http.ResponseWriter, id string) {
	s, ok := h.registry.EndSession(id, "Session ended by request")
	if !ok {
		h.writeError(w, http.StatusNotFound, "Bot not found")
		return
	}

	h.writeJSON(w, http.StatusOK, s.Snapshot())
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "attendee",
			"version": "1.0.0",
		},
		"active_sessions": h.registry.ActiveCount(),
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"sessions":  h.registry.Stats(),
		"webhooks":  h.dispatcher.Stats(),
		"streams": map[string]any{
			"active_count": h.registry.ActiveStreamCount(),
		},
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"service": "Attendee Transcription Bot Service",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"POST /bots":            "Create a bot session and join a meeting",
			"GET /bots":             "List all bot sessions",
			"GET /bots/{id}":        "Get bot session status",
			"POST /bots/{id}/leave": "Leave the meeting and end the session",
			"GET /health":           "Service health check",
			"GET /stats":            "Service statistics",
			"GET /metrics":          "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
