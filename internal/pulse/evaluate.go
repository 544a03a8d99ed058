package pulse

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/HerbHall/lockwatch/pkg/models"
)

// Metric names carried on threshold alerts.
const (
	MetricReachability = "reachability"
	MetricLatency      = "latency"
	MetricPacketLoss   = "packet_loss"
	MetricDownload     = "download"
)

// Thresholds are the alert limits applied to every sample.
type Thresholds struct {
	LatencyMediumMS   float64 `mapstructure:"latency_medium_ms"`
	LatencyHighMS     float64 `mapstructure:"latency_high_ms"`
	PacketLossMedium  float64 `mapstructure:"packet_loss_medium"`
	PacketLossHigh    float64 `mapstructure:"packet_loss_high"`
	DownloadMediumMbp float64 `mapstructure:"download_medium_mbps"`
}

// DefaultThresholds returns the stock limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LatencyMediumMS:   500,
		LatencyHighMS:     1000,
		PacketLossMedium:  5,
		PacketLossHigh:    10,
		DownloadMediumMbp: 10,
	}
}

// Evaluate checks s against th and returns at most one alert per metric.
// All alerts are unresolved and stamped with the sample time.
func Evaluate(s models.MetricsSample, th Thresholds) []models.Alert {
	var out []models.Alert
	add := func(metric string, typ models.AlertType, sev models.AlertSeverity, value float64, msg string) {
		out = append(out, models.Alert{
			ID:        uuid.NewString(),
			Type:      typ,
			Metric:    metric,
			Severity:  sev,
			Message:   msg,
			Value:     value,
			Timestamp: s.Timestamp,
		})
	}

	switch {
	case s.Latency.Probed > 0 && s.Latency.Samples == 0:
		add(MetricReachability, models.AlertConnection, models.SeverityHigh, 0,
			fmt.Sprintf("all %d latency endpoints unreachable", s.Latency.Probed))
	case s.Latency.Avg > th.LatencyHighMS:
		add(MetricLatency, models.AlertLatency, models.SeverityHigh, s.Latency.Avg,
			fmt.Sprintf("average latency %.0fms exceeds %.0fms", s.Latency.Avg, th.LatencyHighMS))
	case s.Latency.Avg > th.LatencyMediumMS:
		add(MetricLatency, models.AlertLatency, models.SeverityMedium, s.Latency.Avg,
			fmt.Sprintf("average latency %.0fms exceeds %.0fms", s.Latency.Avg, th.LatencyMediumMS))
	}

	switch {
	case s.PacketLoss > th.PacketLossHigh:
		add(MetricPacketLoss, models.AlertConnection, models.SeverityHigh, s.PacketLoss,
			fmt.Sprintf("packet loss %.1f%% exceeds %.0f%%", s.PacketLoss, th.PacketLossHigh))
	case s.PacketLoss > th.PacketLossMedium:
		add(MetricPacketLoss, models.AlertConnection, models.SeverityMedium, s.PacketLoss,
			fmt.Sprintf("packet loss %.1f%% exceeds %.0f%%", s.PacketLoss, th.PacketLossMedium))
	}

	if s.Bandwidth.Download < th.DownloadMediumMbp {
		add(MetricDownload, models.AlertBandwidth, models.SeverityMedium, s.Bandwidth.Download,
			fmt.Sprintf("download %.1f Mbps below %.0f Mbps (%s)", s.Bandwidth.Download, th.DownloadMediumMbp, s.Bandwidth.Source))
	}
	return out
}

// HealthScore rates a sample from 0 to 100.
func HealthScore(s models.MetricsSample) int {
	score := 100.0
	switch {
	case s.Latency.Avg > 1000:
		score -= 30
	case s.Latency.Avg > 500:
		score -= 20
	case s.Latency.Avg > 100:
		score -= 10
	}
	score -= 2 * s.PacketLoss
	switch {
	case s.Bandwidth.Download < 5:
		score -= 30
	case s.Bandwidth.Download < 10:
		score -= 20
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return int(score)
}
