package pulse

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/HerbHall/lockwatch/pkg/models"
)

// Metrics are the pulse collectors. Names use the lockwatch_pulse_ prefix.
type Metrics struct {
	LatencyMS         prometheus.Gauge
	PacketLoss        prometheus.Gauge
	Bandwidth         *prometheus.GaugeVec
	ConnectedDevices  prometheus.Gauge
	ActiveConnections prometheus.Gauge
	HealthScore       prometheus.Gauge
	Samples           prometheus.Counter
	AlertsRaised      *prometheus.CounterVec
	AlertsOpen        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when it is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LatencyMS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lockwatch_pulse_latency_avg_ms",
			Help: "Average endpoint latency of the latest sample.",
		}),
		PacketLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lockwatch_pulse_packet_loss_percent",
			Help: "Packet loss of the latest sample.",
		}),
		Bandwidth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lockwatch_pulse_bandwidth_mbps",
			Help: "Bandwidth of the latest sample by direction.",
		}, []string{"direction"}),
		ConnectedDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lockwatch_pulse_connected_devices",
			Help: "Discovered devices at the latest sample.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lockwatch_pulse_active_connections",
			Help: "Established TCP connections at the latest sample.",
		}),
		HealthScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lockwatch_pulse_health_score",
			Help: "Network health score (0-100) of the latest sample.",
		}),
		Samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lockwatch_pulse_samples_total",
			Help: "Monitor passes completed.",
		}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lockwatch_pulse_alerts_total",
			Help: "Alerts raised by type and severity.",
		}, []string{"type", "severity"}),
		AlertsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lockwatch_pulse_alerts_unresolved",
			Help: "Unresolved alerts held in memory.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.LatencyMS, m.PacketLoss, m.Bandwidth, m.ConnectedDevices,
			m.ActiveConnections, m.HealthScore, m.Samples, m.AlertsRaised, m.AlertsOpen)
	}
	return m
}

// ObserveSample updates the gauges from s.
func (m *Metrics) ObserveSample(s models.MetricsSample) {
	m.Samples.Inc()
	m.LatencyMS.Set(s.Latency.Avg)
	m.PacketLoss.Set(s.PacketLoss)
	m.Bandwidth.WithLabelValues("download").Set(s.Bandwidth.Download)
	m.Bandwidth.WithLabelValues("upload").Set(s.Bandwidth.Upload)
	m.ConnectedDevices.Set(float64(s.ConnectedDevices))
	m.ActiveConnections.Set(float64(s.ActiveConnections))
	m.HealthScore.Set(float64(HealthScore(s)))
}

// ObserveAlert counts a raised alert.
func (m *Metrics) ObserveAlert(a models.Alert) {
	m.AlertsRaised.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
}
