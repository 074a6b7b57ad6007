// Package api exposes the service over HTTP: frame ingest (JSON and
// websocket), on-demand analysis, the full alert pipeline, incident
// history, health, and metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// MetricsSource contributes one named block to /api/v1/metrics.
type MetricsSource struct {
	Name    string
	Collect func() map[string]any
}

// ServerConfig wires the handlers and their rate limits.
type ServerConfig struct {
	Addr string

	Ingest   *IngestHandler
	Analysis *AnalysisHandler
	Alert    *AlertHandler
	Stream   *StreamHandler

	Health  []HealthCheck
	Metrics []MetricsSource

	// Requests per minute per IP. Zero uses the defaults.
	IngestRate  int
	AnalyzeRate int
}

// Server is the HTTP front of the service.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	limiters   []*RateLimiter
	health     []HealthCheck
	metrics    []MetricsSource
	logger     *zap.Logger
}

// NewServer builds the mux and registers every configured handler.
func NewServer(cfg ServerConfig) *Server {
	if cfg.IngestRate <= 0 {
		cfg.IngestRate = 600
	}
	if cfg.AnalyzeRate <= 0 {
		cfg.AnalyzeRate = 30
	}

	mux := http.NewServeMux()
	s := &Server{
		mux:     mux,
		health:  cfg.Health,
		metrics: cfg.Metrics,
		logger:  zap.L().Named("api-server"),
	}

	ingestLimiter := NewRateLimiter(cfg.IngestRate, time.Minute)
	analyzeLimiter := NewRateLimiter(cfg.AnalyzeRate, time.Minute)
	s.limiters = append(s.limiters, ingestLimiter, analyzeLimiter)

	if cfg.Ingest != nil {
		cfg.Ingest.RegisterRoutes(mux, ingestLimiter)
	}
	if cfg.Analysis != nil {
		cfg.Analysis.RegisterRoutes(mux, analyzeLimiter)
	}
	if cfg.Alert != nil {
		cfg.Alert.RegisterRoutes(mux, analyzeLimiter)
	}
	if cfg.Stream != nil {
		cfg.Stream.RegisterRoutes(mux)
	}

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/metrics", s.handleMetrics)

	s.httpServer = &http.Server{
		Addr:           cfg.Addr,
		Handler:        mux,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   120 * time.Second, // alert requests run the full pipeline
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.health))
	healthy := true
	for _, hc := range s.health {
		if err := hc.Check(ctx); err != nil {
			checks[hc.Name] = err.Error()
			healthy = false
			continue
		}
		checks[hc.Name] = "ok"
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]any, len(s.metrics))
	for _, m := range s.metrics {
		out[m.Name] = m.Collect()
	}
	writeJSON(w, http.StatusOK, out)
}

// Start blocks serving HTTP until shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// StartInBackground serves on a goroutine and logs terminal errors.
func (s *Server) StartInBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()
}

// Shutdown drains connections and stops the rate limiter janitors.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.limiters {
		rl.Close()
	}
	return s.httpServer.Shutdown(ctx)
}
