package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/m-lange/puretools-remote/internal/entity"
	"github.com/m-lange/puretools-remote/internal/integration"
	"github.com/m-lange/puretools-remote/internal/plugins/hdmiswitch"
	"github.com/m-lange/puretools-remote/internal/puretools"
	"github.com/m-lange/puretools-remote/internal/shadowstate"

	"go.uber.org/zap"
)

// Controller is the switcher API the server exposes
type Controller interface {
	Devices() []hdmiswitch.Status
	Device(id string) (hdmiswitch.Status, error)
	SelectSource(ctx context.Context, id, label string) (hdmiswitch.Status, error)
	SetAutoSwitching(ctx context.Context, id string, on bool) (hdmiswitch.Status, error)
	UpdateOptions(id string, labels entity.InputLabelMap) (hdmiswitch.Status, error)
}

// ShadowSource returns the shadow state of every plugin
type ShadowSource interface {
	GetAllPluginStates() map[string]shadowstate.PluginShadowState
}

// Server provides the HTTP API of the bridge
type Server struct {
	controller Controller
	shadow     ShadowSource
	logger     *zap.Logger
	server     *http.Server
	endpoints  []Endpoint
}

// NewServer creates a new API server. shadow and metrics may be nil.
func NewServer(controller Controller, shadow ShadowSource, metrics http.Handler, logger *zap.Logger, port int) *Server {
	s := &Server{
		controller: controller,
		shadow:     shadow,
		logger:     logger.Named("api"),
	}

	mux := http.NewServeMux()
	s.handle(mux, "GET /{$}", "This sitemap", s.handleSitemap)
	s.handle(mux, "GET /health", `Health check, returns {"status": "ok"}`, s.handleHealth)
	s.handle(mux, "GET /api/switchers", "State of every switcher", s.handleListSwitchers)
	s.handle(mux, "GET /api/switchers/{id}", "State of one switcher", s.handleGetSwitcher)
	s.handle(mux, "POST /api/switchers/{id}/source", `Select a source by label, body {"source": "Apple TV"}`, s.handleSelectSource)
	s.handle(mux, "POST /api/switchers/{id}/auto", `Turn auto-switching on or off, body {"on": true}`, s.handleAutoSwitching)
	s.handle(mux, "PUT /api/switchers/{id}/options", `Replace input labels, body {"hdmi1": "Apple TV", ...}`, s.handleUpdateOptions)
	if shadow != nil {
		s.handle(mux, "GET /api/shadow", "Shadow state of every plugin", s.handleShadow)
	}
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
		s.endpoints = append(s.endpoints, Endpoint{Path: "/metrics", Method: http.MethodGet, Description: "Prometheus metrics"})
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

func (s *Server) handle(mux *http.ServeMux, pattern, description string, handler http.HandlerFunc) {
	mux.HandleFunc(pattern, handler)

	method, path, _ := strings.Cut(pattern, " ")
	s.endpoints = append(s.endpoints, Endpoint{
		Path:        strings.TrimSuffix(path, "{$}"),
		Method:      method,
		Description: description,
	})
}

// Handler returns the request router
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// SourceRequest is the body of POST /api/switchers/{id}/source
type SourceRequest struct {
	Source string `json:"source"`
}

// AutoRequest is the body of POST /api/switchers/{id}/auto
type AutoRequest struct {
	On *bool `json:"on"`
}

func (s *Server) handleListSwitchers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.controller.Devices())
}

func (s *Server) handleGetSwitcher(w http.ResponseWriter, r *http.Request) {
	status, err := s.controller.Device(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSelectSource(w http.ResponseWriter, r *http.Request) {
	var req SourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Source == "" {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: `body must be {"source": "<label>"}`})
		return
	}

	status, err := s.controller.SelectSource(r.Context(), r.PathValue("id"), req.Source)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleAutoSwitching(w http.ResponseWriter, r *http.Request) {
	var req AutoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.On == nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: `body must be {"on": true|false}`})
		return
	}

	status, err := s.controller.SetAutoSwitching(r.Context(), r.PathValue("id"), *req.On)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleUpdateOptions(w http.ResponseWriter, r *http.Request) {
	var labels entity.InputLabelMap
	if err := json.NewDecoder(r.Body).Decode(&labels); err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "body must be an object of hdmi1..hdmi4 labels"})
		return
	}

	status, err := s.controller.UpdateOptions(r.PathValue("id"), labels)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleShadow(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.shadow.GetAllPluginStates())
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSitemap lists all endpoints, as HTML for browsers and as plain text
// otherwise
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head>
    <title>PureTools Remote</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
    </style>
</head>
<body>
    <h1>PureTools Remote</h1>
`)
		for _, ep := range s.endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprint(w, "</body>\n</html>\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "PureTools Remote API\n")
		fmt.Fprintf(w, "====================\n\n")
		for _, ep := range s.endpoints {
			fmt.Fprintf(w, "  %-6s %-32s %s\n", ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "\nExample:\n\n")
		fmt.Fprintf(w, "  curl -X POST -d '{\"source\": \"HDMI 2\"}' http://localhost:8080/api/switchers/living_room/source\n")
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

// statusFor maps controller errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, hdmiswitch.ErrUnknownSwitcher):
		return http.StatusNotFound
	case errors.Is(err, integration.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, puretools.ErrCannotConnect):
		return http.StatusBadGateway
	case errors.Is(err, hdmiswitch.ErrReadOnlyMode):
		return http.StatusConflict
	case errors.Is(err, entity.ErrInvalidOption):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", code),
			zap.Error(err))
	}
	s.writeJSON(w, code, ErrorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
