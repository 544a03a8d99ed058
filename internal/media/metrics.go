package media

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the media collectors.
type Metrics struct {
	ActiveStreams prometheus.Gauge
	Resolutions   *prometheus.CounterVec
	StartFailures prometheus.Counter
	PTZCommands   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lockwatch_media_active_streams",
			Help: "Streams started through this process and not yet stopped.",
		}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lockwatch_media_resolutions_total",
			Help: "Stream source resolutions by resolver (onvif or composed).",
		}, []string{"resolver"}),
		StartFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lockwatch_media_start_failures_total",
			Help: "Stream starts rejected by the media server.",
		}),
		PTZCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lockwatch_media_ptz_commands_total",
			Help: "PTZ commands by direction and result.",
		}, []string{"direction", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.ActiveStreams, m.Resolutions, m.StartFailures, m.PTZCommands)
	}
	return m
}
