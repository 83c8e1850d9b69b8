// Package health serves the liveness/readiness probe endpoint. It only reads
// a snapshot of the watch session; it never influences the watch loop.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/podwatch-sh/agent/internal/watch"
)

// StatusReader exposes a read-only snapshot of the watch session.
type StatusReader interface {
	Status() watch.Status
}

// Server answers GET /health with 200 while the watch session is streaming
// and its cursor advanced within the health window, 503 otherwise. The same
// listener serves /metrics.
type Server struct {
	addr    string
	session StatusReader
	window  time.Duration
}

type response struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// NewServer creates a health server.
func NewServer(addr string, session StatusReader, window time.Duration) *Server {
	return &Server{
		addr:    addr,
		session: session,
		window:  window,
	}
}

// Handler returns the HTTP handler, exposed separately for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	status := http.StatusOK
	body := response{Status: "healthy", Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if !s.healthy() {
		status = http.StatusServiceUnavailable
		body.Status = "unhealthy"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) healthy() bool {
	status := s.session.Status()
	if status.State != watch.StateStreaming {
		return false
	}
	return time.Since(status.Cursor.LastAdvancedAt) <= s.window
}

// Start serves until the context is cancelled, then shuts the listener down.
func (s *Server) Start(ctx context.Context) error {
	logger := ctrl.Log.WithName("health-server")

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("health server started", "addr", s.addr, "window", s.window)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info("health server stopped")
		return nil
	}
}
