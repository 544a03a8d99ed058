package models

import "time"

// BandwidthSource records where a bandwidth figure came from.
type BandwidthSource string

const (
	BandwidthLink      BandwidthSource = "link"      // wireless link rate reported by the driver
	BandwidthMeasured  BandwidthSource = "measured"  // timed transfer
	BandwidthSynthetic BandwidthSource = "synthetic" // estimate, not a measurement
)

// Bandwidth is in megabits per second.
type Bandwidth struct {
	Download float64         `json:"download"`
	Upload   float64         `json:"upload"`
	Total    float64         `json:"total"`
	Source   BandwidthSource `json:"source"`
}

// Latency is in milliseconds over the endpoints that answered.
type Latency struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Avg     float64 `json:"avg"`
	Samples int     `json:"samples"`
	Probed  int     `json:"probed"`
}

// MetricsSample is one monitor pass.
type MetricsSample struct {
	Timestamp         time.Time `json:"timestamp"`
	Bandwidth         Bandwidth `json:"bandwidth"`
	Latency           Latency   `json:"latency"`
	PacketLoss        float64   `json:"packet_loss"` // percent
	PacketLossMethod  string    `json:"packet_loss_method"`
	ConnectedDevices  int       `json:"connected_devices"`
	ActiveConnections int       `json:"active_connections"`
}

// AlertType categorizes an alert.
type AlertType string

const (
	AlertBandwidth  AlertType = "bandwidth"
	AlertLatency    AlertType = "latency"
	AlertSecurity   AlertType = "security"
	AlertDevice     AlertType = "device"
	AlertConnection AlertType = "connection"
)

// AlertSeverity ranks an alert.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is raised by threshold evaluation or device events. It stays
// unresolved until acknowledged.
type Alert struct {
	ID         string        `json:"id"`
	Type       AlertType     `json:"type"`
	Metric     string        `json:"metric,omitempty"` // sample field that breached, for threshold alerts
	Severity   AlertSeverity `json:"severity"`
	Message    string        `json:"message"`
	Value      float64       `json:"value"`
	Timestamp  time.Time     `json:"timestamp"`
	Resolved   bool          `json:"resolved"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
	DeviceRef  string        `json:"device_ref,omitempty"`
}
