package recon

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/pkg/models"
)

func TestNewScheduler_Valid(t *testing.T) {
	entries := []ScheduledScan{
		{Name: "nightly", Spec: "0 2 * * *", Start: "192.168.1.1", End: "192.168.1.20"},
		{Spec: "*/15 * * * *", Start: "10.0.0.5", End: "10.0.0.5", Protocols: []string{"onvif"}},
	}
	s, err := NewScheduler(entries, func(context.Context, DiscoverRequest, string) {}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	s.Start(context.Background())
	s.Stop()
}

func TestNewScheduler_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		entry   ScheduledScan
		wantErr string
	}{
		{"bad spec", ScheduledScan{Name: "x", Spec: "every day", Start: "10.0.0.1", End: "10.0.0.2"}, "spec"},
		{"bad range", ScheduledScan{Name: "y", Spec: "@hourly", Start: "10.0.0.9", End: "10.0.0.1"}, "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScheduler([]ScheduledScan{tt.entry}, nil, nil)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestScheduledScan_Request(t *testing.T) {
	req := ScheduledScan{
		Start: "10.0.0.1", End: "10.0.0.4", FacilityID: "north",
		Protocols: []string{"rtsp", "bogus", "http"},
	}.Request()

	if req.FacilityID != "north" || req.Start != "10.0.0.1" || req.End != "10.0.0.4" {
		t.Errorf("Request() = %+v", req)
	}
	want := []models.ProtocolKind{models.ProtocolRTSP, models.ProtocolHTTP}
	if len(req.Protocols) != len(want) || req.Protocols[0] != want[0] || req.Protocols[1] != want[1] {
		t.Errorf("Protocols = %v, want %v", req.Protocols, want)
	}
}
