package pulse

import (
	"testing"
	"time"

	"github.com/HerbHall/lockwatch/internal/testutil"
	"github.com/HerbHall/lockwatch/pkg/models"
)

func sampleWith(latency, loss, download float64) models.MetricsSample {
	s := testutil.NewSample(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s.Latency = models.Latency{Min: latency, Max: latency, Avg: latency, Samples: 3, Probed: 3}
	s.PacketLoss = loss
	s.Bandwidth.Download = download
	return s
}

func TestEvaluate_Latency(t *testing.T) {
	tests := []struct {
		latency float64
		want    models.AlertSeverity
	}{
		{1200, models.SeverityHigh},
		{600, models.SeverityMedium},
		{1000, models.SeverityMedium},
		{500, ""},
		{100, ""},
	}
	for _, tt := range tests {
		alerts := Evaluate(sampleWith(tt.latency, 0, 100), DefaultThresholds())
		var got models.AlertSeverity
		n := 0
		for _, a := range alerts {
			if a.Type == models.AlertLatency {
				got = a.Severity
				n++
			}
		}
		if n > 1 {
			t.Errorf("latency %v: %d latency alerts, want at most 1", tt.latency, n)
		}
		if got != tt.want {
			t.Errorf("latency %v: severity = %q, want %q", tt.latency, got, tt.want)
		}
	}
}

func TestEvaluate_PacketLossAndDownload(t *testing.T) {
	tests := []struct {
		name     string
		sample   models.MetricsSample
		wantType models.AlertType
		wantSev  models.AlertSeverity
	}{
		{"loss high", sampleWith(20, 12, 100), models.AlertConnection, models.SeverityHigh},
		{"loss medium", sampleWith(20, 6, 100), models.AlertConnection, models.SeverityMedium},
		{"slow download", sampleWith(20, 0, 4), models.AlertBandwidth, models.SeverityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := Evaluate(tt.sample, DefaultThresholds())
			if len(alerts) != 1 {
				t.Fatalf("alerts = %+v, want 1", alerts)
			}
			a := alerts[0]
			if a.Type != tt.wantType || a.Severity != tt.wantSev {
				t.Errorf("alert = %s/%s, want %s/%s", a.Type, a.Severity, tt.wantType, tt.wantSev)
			}
			if a.ID == "" || a.Resolved || !a.Timestamp.Equal(tt.sample.Timestamp) {
				t.Errorf("alert fields = %+v", a)
			}
		})
	}
}

func TestEvaluate_AllEndpointsFailed(t *testing.T) {
	s := sampleWith(0, 0, 100)
	s.Latency = models.Latency{Probed: 3}

	alerts := Evaluate(s, DefaultThresholds())
	if len(alerts) != 1 || alerts[0].Type != models.AlertConnection || alerts[0].Severity != models.SeverityHigh {
		t.Errorf("alerts = %+v, want one high connection alert", alerts)
	}
}

func TestEvaluate_Healthy(t *testing.T) {
	if alerts := Evaluate(sampleWith(30, 0, 95), DefaultThresholds()); len(alerts) != 0 {
		t.Errorf("alerts = %+v, want none", alerts)
	}
}

func TestHealthScore(t *testing.T) {
	tests := []struct {
		name                    string
		latency, loss, download float64
		want                    int
	}{
		{"degraded example", 1100, 12, 4, 16},
		{"perfect", 20, 0, 100, 100},
		{"mild latency", 150, 0, 100, 90},
		{"medium latency and slow", 600, 0, 8, 60},
		{"floor at zero", 5000, 50, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HealthScore(sampleWith(tt.latency, tt.loss, tt.download)); got != tt.want {
				t.Errorf("HealthScore() = %d, want %d", got, tt.want)
			}
		})
	}
}
