package recon

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the recon collectors. Metric names use the lockwatch_recon_ prefix.
type Metrics struct {
	ScansTotal      *prometheus.CounterVec
	ScanDuration    prometheus.Histogram
	DevicesFound    *prometheus.CounterVec
	ProbeAttempts   *prometheus.CounterVec
	ConnectivityOK  *prometheus.CounterVec
	DevicesByStatus *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lockwatch_recon_scans_total",
				Help: "Discovery scans by trigger and outcome (live or demo).",
			},
			[]string{"trigger", "outcome"},
		),
		ScanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lockwatch_recon_scan_duration_seconds",
				Help:    "Wall time of a discovery scan.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
			},
		),
		DevicesFound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lockwatch_recon_devices_found_total",
				Help: "Devices classified by discovery, by protocol.",
			},
			[]string{"protocol"},
		),
		ProbeAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lockwatch_recon_probe_attempts_total",
				Help: "Protocol probe attempts by protocol and result.",
			},
			[]string{"protocol", "result"},
		),
		ConnectivityOK: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lockwatch_recon_connectivity_tests_total",
				Help: "Connectivity tests by winning method (none when offline).",
			},
			[]string{"method"},
		),
		DevicesByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lockwatch_recon_devices",
				Help: "Persisted devices by status.",
			},
			[]string{"status"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.ScansTotal, m.ScanDuration, m.DevicesFound, m.ProbeAttempts, m.ConnectivityOK, m.DevicesByStatus)
	}
	return m
}

// RecordScan records a completed discovery.
func (m *Metrics) RecordScan(res *DiscoveryResult, trigger string) {
	outcome := "live"
	if res.Demo {
		outcome = "demo"
	}
	m.ScansTotal.WithLabelValues(trigger, outcome).Inc()
	m.ScanDuration.Observe(res.CompletedAt.Sub(res.StartedAt).Seconds())
	if res.Demo {
		return
	}
	for i := range res.Devices {
		m.DevicesFound.WithLabelValues(string(res.Devices[i].Protocol)).Inc()
	}
	for _, attempts := range res.Attempts {
		for _, a := range attempts {
			result := "fail"
			if a.OK {
				result = "ok"
			}
			m.ProbeAttempts.WithLabelValues(string(a.Protocol), result).Inc()
		}
	}
}

// RecordConnectivity records a connectivity test outcome.
func (m *Metrics) RecordConnectivity(res *ConnectivityResult) {
	method := res.Method
	if !res.Online {
		method = "none"
	}
	m.ConnectivityOK.WithLabelValues(method).Inc()
}

// SetDeviceCount sets the persisted device gauge for status.
func (m *Metrics) SetDeviceCount(status string, n int) {
	m.DevicesByStatus.WithLabelValues(status).Set(float64(n))
}
