package pulse

import "github.com/HerbHall/lockwatch/pkg/models"

// Event topics published by the Pulse module.
const (
	TopicMetricsSampled = "pulse.metrics.sampled"
	TopicAlertRaised    = "pulse.alert.raised"
	TopicAlertResolved  = "pulse.alert.resolved"
	TopicMonitorStarted = "pulse.monitor.started"
	TopicMonitorStopped = "pulse.monitor.stopped"
)

// AlertEvent is the payload for TopicAlertRaised and TopicAlertResolved.
type AlertEvent struct {
	Alert models.Alert `json:"alert"`
}

// SampleEvent is the payload for TopicMetricsSampled.
type SampleEvent struct {
	Sample      models.MetricsSample `json:"sample"`
	HealthScore int                  `json:"health_score"`
}
