package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cuemby/alpinekube/pkg/metrics"
)

// HealthServer serves /health, /ready, /live and /metrics over HTTP
type HealthServer struct {
	checker *metrics.HealthChecker
	mux     *http.ServeMux
	server  *http.Server
}

// NewHealthServer creates a health server for addr reporting the given checker
func NewHealthServer(addr string, checker *metrics.HealthChecker) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		checker: checker,
		mux:     mux,
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	mux.HandleFunc("/health", getOnly(checker.HealthHandler()))
	mux.HandleFunc("/ready", getOnly(checker.ReadyHandler()))
	mux.HandleFunc("/live", getOnly(checker.LivenessHandler()))
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start serves until Shutdown
func (hs *HealthServer) Start() error {
	err := hs.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	return hs.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) Handler() http.Handler {
	return hs.mux
}

func getOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}
