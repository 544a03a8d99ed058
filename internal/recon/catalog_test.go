package recon

import (
	"testing"

	"github.com/HerbHall/lockwatch/pkg/models"
)

func TestCatalog_EmbeddedParses(t *testing.T) {
	c := NewCatalog()
	if err := c.Err(); err != nil {
		t.Fatalf("embedded profiles: %v", err)
	}
	if len(c.DemoTemplates()) < 2 {
		t.Errorf("demo templates = %d, want at least 2", len(c.DemoTemplates()))
	}
}

func TestCatalog_PortsInPriorityOrder(t *testing.T) {
	c := NewCatalog()
	tests := []struct {
		proto models.ProtocolKind
		want  []int
	}{
		{models.ProtocolONVIF, []int{80, 8080, 8000, 8899, 2020}},
		{models.ProtocolRTSP, []int{554, 8554}},
		{models.ProtocolHTTP, []int{80, 443}},
	}
	for _, tt := range tests {
		got := c.Ports(tt.proto)
		if len(got) != len(tt.want) {
			t.Fatalf("Ports(%s) = %v, want %v", tt.proto, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Ports(%s)[%d] = %d, want %d", tt.proto, i, got[i], tt.want[i])
			}
		}
	}
}

func TestCatalog_MatchVendor(t *testing.T) {
	c := NewCatalog()
	tests := []struct {
		hints  []string
		want   string
		wantOK bool
	}{
		{[]string{"Hikvision-Webs"}, "Hikvision", true},
		{[]string{"", "App-webs/"}, "Hikvision", true},
		{[]string{"AXIS P3245-V Network Camera"}, "Axis", true},
		{[]string{"nginx", "Welcome"}, "", false},
	}
	for _, tt := range tests {
		got, ok := c.MatchVendor(tt.hints...)
		if ok != tt.wantOK || got.Name != tt.want {
			t.Errorf("MatchVendor(%v) = %q, %v; want %q, %v", tt.hints, got.Name, ok, tt.want, tt.wantOK)
		}
	}
}

func TestCatalog_RTSPPath(t *testing.T) {
	c := NewCatalog()
	if got := c.RTSPPath("Dahua"); got != "/cam/realmonitor?channel=1&subtype=0" {
		t.Errorf("RTSPPath(Dahua) = %q", got)
	}
	if got := c.RTSPPath("Unknown"); got != "/stream1" {
		t.Errorf("RTSPPath(Unknown) = %q, want /stream1", got)
	}
}
