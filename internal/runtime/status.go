package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	loggingpkg "github.com/drblury/ttcflow/internal/runtime/logging"
)

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	State    string `json:"state"`
	Degraded bool   `json:"degraded"`
}

// StatusServer exposes a worker over HTTP: /healthz, /api/status and, when
// metrics are enabled, /metrics.
type StatusServer struct {
	worker         *Worker
	allowedOrigins []string
	mux            *http.ServeMux
	server         *http.Server
	listener       net.Listener
}

// NewStatusServer builds the status endpoints for w. allowedOrigins lists the
// CORS origins accepted by the JSON endpoints; "*" accepts any.
func NewStatusServer(w *Worker, allowedOrigins []string) *StatusServer {
	s := &StatusServer{
		worker:         w,
		allowedOrigins: allowedOrigins,
		mux:            http.NewServeMux(),
	}
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	if g := w.Gatherer(); g != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}
	return s
}

// Handler returns the server's routes.
func (s *StatusServer) Handler() http.Handler {
	return s.mux
}

// Start listens on port (0 picks a free one) and serves in the background.
func (s *StatusServer) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("status server listen: %w", err)
	}
	s.listener = ln
	s.server = &http.Server{Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}

	s.worker.Logger.Info("Starting status server", loggingpkg.LogFields{"address": ln.Addr().String()})
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.worker.Logger.Error("Status server stopped", err, loggingpkg.LogFields{"address": ln.Addr().String()})
		}
	}()
	return nil
}

// Addr is the listening address once started.
func (s *StatusServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.preflight(w, r) {
		return
	}
	state := s.worker.State()
	degraded := s.worker.Degraded()
	resp := HealthResponse{Status: "ok", State: state.String(), Degraded: degraded}
	code := http.StatusOK
	switch {
	case state != StateRunning:
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	case degraded:
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.preflight(w, r) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.worker.Stats())
}

// preflight sets CORS headers and answers OPTIONS requests.
func (s *StatusServer) preflight(w http.ResponseWriter, r *http.Request) bool {
	if allowed := s.allowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
		w.Header().Set("Access-Control-Allow-Origin", allowed)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

func (s *StatusServer) writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		s.worker.Logger.Error("Failed to encode status response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

// allowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (s *StatusServer) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if requestOrigin != "" && strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
