package pulse

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/internal/server"
	"github.com/HerbHall/lockwatch/pkg/models"
	"github.com/HerbHall/lockwatch/pkg/plugin"
)

// statusResponse is the body of GET /status.
type statusResponse struct {
	Running     bool                  `json:"running"`
	Interval    string                `json:"interval"`
	HealthScore *int                  `json:"health_score"`
	Latest      *models.MetricsSample `json:"latest"`
	OpenAlerts  int                   `json:"open_alerts"`
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/status", Handler: m.handleStatus},
		{Method: "POST", Path: "/monitor/start", Handler: m.handleStartMonitor},
		{Method: "POST", Path: "/monitor/stop", Handler: m.handleStopMonitor},
		{Method: "GET", Path: "/samples", Handler: m.handleSamples},
		{Method: "GET", Path: "/alerts", Handler: m.handleListAlerts},
		{Method: "POST", Path: "/alerts/{id}/acknowledge", Handler: m.handleAcknowledgeAlert},
		{Method: "GET", Path: "/stream", Handler: m.handleStream},
	}
}

// handleStatus reports whether the monitor runs and the latest health.
//
//	@Summary		Monitor status
//	@Tags			pulse
//	@Produce		json
//	@Success		200 {object} statusResponse
//	@Router			/pulse/status [get]
func (m *Module) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Running:  m.monitor.Running(),
		Interval: m.cfg.Interval.String(),
	}
	if s, ok := m.monitor.Latest(); ok {
		score := HealthScore(s)
		resp.HealthScore = &score
		resp.Latest = &s
	}
	resp.OpenAlerts = m.monitor.unresolvedCount()
	writeJSON(w, http.StatusOK, resp)
}

// handleStartMonitor starts sampling. Starting a running monitor is a no-op.
//
//	@Summary		Start monitoring
//	@Tags			pulse
//	@Success		200 {object} map[string]bool
//	@Router			/pulse/monitor/start [post]
func (m *Module) handleStartMonitor(w http.ResponseWriter, r *http.Request) {
	m.monitor.Start(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"running": m.monitor.Running()})
}

// handleStopMonitor stops sampling and waits for the loop to exit.
//
//	@Summary		Stop monitoring
//	@Tags			pulse
//	@Success		200 {object} map[string]bool
//	@Router			/pulse/monitor/stop [post]
func (m *Module) handleStopMonitor(w http.ResponseWriter, _ *http.Request) {
	m.monitor.Stop()
	writeJSON(w, http.StatusOK, map[string]bool{"running": m.monitor.Running()})
}

// handleSamples returns recent samples, oldest first.
//
//	@Summary		Recent samples
//	@Tags			pulse
//	@Produce		json
//	@Param			limit query int false "Maximum samples" default(100)
//	@Success		200 {array} models.MetricsSample
//	@Failure		400 {object} server.Problem
//	@Router			/pulse/samples [get]
func (m *Module) handleSamples(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m.monitor.Samples(limit))
}

// handleListAlerts returns held alerts, or persisted history with
// history=true.
//
//	@Summary		List alerts
//	@Tags			pulse
//	@Produce		json
//	@Param			history query bool false "Read persisted history"
//	@Param			unresolved query bool false "Only unresolved alerts"
//	@Param			limit query int false "Maximum alerts"
//	@Success		200 {array} models.Alert
//	@Failure		503 {object} server.Problem
//	@Router			/pulse/alerts [get]
func (m *Module) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	unresolved := q.Get("unresolved") == "true"

	if q.Get("history") == "true" {
		if m.store == nil {
			server.NoStore(w, "pulse", r.URL.Path)
			return
		}
		alerts, err := m.store.ListAlerts(r.Context(), limit, unresolved)
		if err != nil {
			m.logger.Warn("failed to list alerts", zap.Error(err))
			server.InternalError(w, "failed to list alerts", r.URL.Path)
			return
		}
		if alerts == nil {
			alerts = []models.Alert{}
		}
		writeJSON(w, http.StatusOK, alerts)
		return
	}

	held := m.monitor.Alerts()
	out := make([]models.Alert, 0, len(held))
	for _, a := range held {
		if unresolved && a.Resolved {
			continue
		}
		out = append(out, a)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAcknowledgeAlert resolves an alert.
//
//	@Summary		Acknowledge alert
//	@Tags			pulse
//	@Produce		json
//	@Param			id path string true "Alert ID"
//	@Success		200 {object} models.Alert
//	@Failure		404 {object} server.Problem
//	@Router			/pulse/alerts/{id}/acknowledge [post]
func (m *Module) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, err := m.monitor.Acknowledge(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		server.NotFound(w, "alert "+id+" not found", r.URL.Path)
		return
	}
	if err != nil {
		m.logger.Warn("failed to acknowledge alert", zap.String("alert_id", id), zap.Error(err))
		server.InternalError(w, "failed to acknowledge alert", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleStream upgrades to a websocket pushing samples and alerts.
//
//	@Summary		Live stream
//	@Description	Websocket. Each frame is {"type":"metrics"|"alert","data":...}.
//	@Tags			pulse
//	@Router			/pulse/stream [get]
func (m *Module) handleStream(w http.ResponseWriter, r *http.Request) {
	streamHandler(m.monitor, m.logger.Named("stream"))(w, r)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		server.BadRequest(w, "limit must be a non-negative integer", r.URL.Path)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
