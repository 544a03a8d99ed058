package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/internal/registry"
	"github.com/HerbHall/lockwatch/pkg/plugin"
)

type fakePlugin struct {
	name   string
	health string
	routes []plugin.Route
}

func (f *fakePlugin) Info() plugin.PluginInfo {
	return plugin.PluginInfo{Name: f.name, Version: "0.1.0", APIVersion: plugin.APIVersionCurrent}
}
func (f *fakePlugin) Init(context.Context, plugin.Dependencies) error { return nil }
func (f *fakePlugin) Start(context.Context) error                     { return nil }
func (f *fakePlugin) Stop(context.Context) error                      { return nil }
func (f *fakePlugin) Routes() []plugin.Route                          { return f.routes }
func (f *fakePlugin) Health(context.Context) plugin.HealthStatus {
	return plugin.HealthStatus{Status: f.health}
}

func newTestServer(t *testing.T, gatherer prometheus.Gatherer, plugins ...plugin.Plugin) *Server {
	t.Helper()
	reg := registry.New(zap.NewNop())
	for _, p := range plugins {
		if err := reg.Register(p); err != nil {
			t.Fatal(err)
		}
	}
	if err := reg.Validate(); err != nil {
		t.Fatal(err)
	}
	return New("127.0.0.1:0", reg, gatherer, zap.NewNop())
}

func TestPluginRoutesMounted(t *testing.T) {
	p := &fakePlugin{name: "recon", health: "healthy", routes: []plugin.Route{
		{Method: "GET", Path: "/devices/{id}", Handler: func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(r.PathValue("id")))
		}},
	}}
	srv := newTestServer(t, nil, p)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/recon/devices/abc", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "abc" {
		t.Errorf("body = %q, want abc", w.Body.String())
	}
}

func TestHealth_Aggregates(t *testing.T) {
	tests := []struct {
		name       string
		states     []string
		wantStatus string
		wantCode   int
	}{
		{"all healthy", []string{"healthy", "healthy"}, "ok", http.StatusOK},
		{"one degraded", []string{"healthy", "degraded"}, "degraded", http.StatusOK},
		{"one unhealthy", []string{"degraded", "unhealthy"}, "unhealthy", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var plugins []plugin.Plugin
			for i, st := range tt.states {
				plugins = append(plugins, &fakePlugin{name: string(rune('a' + i)), health: st})
			}
			srv := newTestServer(t, nil, plugins...)

			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

			if w.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", w.Code, tt.wantCode)
			}
			if w.Header().Get(VersionHeader) == "" {
				t.Error("missing version header")
			}
			var body healthResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if len(body.Plugins) != len(tt.states) {
				t.Errorf("plugins = %d, want %d", len(body.Plugins), len(tt.states))
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "lockwatch_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	srv := newTestServer(t, reg)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "lockwatch_test_total 1") {
		t.Errorf("metrics output missing counter:\n%s", w.Body.String())
	}
}

func TestMetricsDisabledWithoutGatherer(t *testing.T) {
	srv := newTestServer(t, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRecoverPanics(t *testing.T) {
	p := &fakePlugin{name: "boom", routes: []plugin.Route{
		{Method: "GET", Path: "/", Handler: func(http.ResponseWriter, *http.Request) { panic("kaboom") }},
	}}
	srv := newTestServer(t, nil, p)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/boom/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content-type = %q", ct)
	}
}
