// Package server hosts the HTTP API and mounts plugin routes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/internal/registry"
	"github.com/HerbHall/lockwatch/internal/version"
	"github.com/HerbHall/lockwatch/pkg/plugin"
)

// VersionHeader is set on every core response.
const VersionHeader = "X-LockWatch-Version"

// Server is the LockWatch HTTP server.
type Server struct {
	httpServer *http.Server
	registry   *registry.Registry
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	mux        *http.ServeMux
}

// New builds the server and mounts core and plugin routes. A nil gatherer
// disables /metrics.
func New(addr string, reg *registry.Registry, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
			// No WriteTimeout: /pulse/stream holds a websocket open.
		},
		registry: reg,
		gatherer: gatherer,
		logger:   logger,
		mux:      mux,
	}
	s.registerCoreRoutes()
	s.mountPluginRoutes()
	s.httpServer.Handler = recoverPanics(logger, logRequests(logger, mux))
	return s
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) registerCoreRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// mountPluginRoutes registers every plugin route under /api/v1/{plugin}.
func (s *Server) mountPluginRoutes() {
	for name, routes := range s.registry.AllRoutes() {
		for _, route := range routes {
			pattern := fmt.Sprintf("%s /api/v1/%s%s", route.Method, name, route.Path)
			s.mux.HandleFunc(pattern, route.Handler)
			s.logger.Debug("mounted route", zap.String("plugin", name), zap.String("pattern", pattern))
		}
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status  string                         `json:"status"`
	Service string                         `json:"service"`
	Version map[string]string              `json:"version"`
	Plugins map[string]plugin.HealthStatus `json:"plugins,omitempty"`
}

// handleHealth reports "ok" unless a plugin is unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Service: "lockwatch", Version: version.Map(), Plugins: map[string]plugin.HealthStatus{}}
	for _, p := range s.registry.All() {
		hc, ok := p.(plugin.HealthChecker)
		if !ok {
			continue
		}
		st := hc.Health(ctx)
		resp.Plugins[p.Info().Name] = st
		switch {
		case st.Status == "unhealthy":
			resp.Status = "unhealthy"
		case st.Status == "degraded" && resp.Status == "ok":
			resp.Status = "degraded"
		}
	}

	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	type pluginResponse struct {
		Name        string   `json:"name"`
		Version     string   `json:"version"`
		Description string   `json:"description"`
		Required    bool     `json:"required"`
		Depends     []string `json:"depends_on,omitempty"`
	}
	plugins := s.registry.All()
	out := make([]pluginResponse, 0, len(plugins))
	for _, p := range plugins {
		pi := p.Info()
		out = append(out, pluginResponse{
			Name:        pi.Name,
			Version:     pi.Version,
			Description: pi.Description,
			Required:    pi.Required,
			Depends:     pi.Dependencies,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(VersionHeader, version.Short())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
