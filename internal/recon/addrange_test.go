package recon

import (
	"errors"
	"testing"
)

func TestParseRange_Invalid(t *testing.T) {
	tests := []struct {
		name, start, end string
	}{
		{"empty start", "", "192.168.1.10"},
		{"non-numeric octet", "192.168.1.x", "192.168.1.10"},
		{"too few octets", "192.168.1", "192.168.1.10"},
		{"octet out of range", "192.168.1.256", "192.168.1.300"},
		{"ipv6", "fe80::1", "fe80::2"},
		{"different /24", "192.168.1.1", "192.168.2.1"},
		{"start after end", "192.168.1.20", "192.168.1.10"},
		{"hostname", "camera.local", "192.168.1.10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRange(tt.start, tt.end)
			if !errors.Is(err, ErrInvalidRange) {
				t.Errorf("ParseRange(%q, %q) err = %v, want ErrInvalidRange", tt.start, tt.end, err)
			}
		})
	}
}

func TestParseRange_Valid(t *testing.T) {
	r, err := ParseRange(" 10.0.0.5 ", "10.0.0.5")
	if err != nil {
		t.Fatalf("ParseRange() error = %v", err)
	}
	if r.Size() != 1 {
		t.Errorf("Size() = %d, want 1", r.Size())
	}
	if r.String() != "10.0.0.5-10.0.0.5" {
		t.Errorf("String() = %q", r.String())
	}
}

func TestExpand(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		limit      int
		wantLen    int
		wantFirst  string
		wantLast   string
	}{
		{"small range", "192.168.1.1", "192.168.1.5", MaxTargets, 5, "192.168.1.1", "192.168.1.5"},
		{"exactly max", "192.168.1.1", "192.168.1.20", MaxTargets, 20, "192.168.1.1", "192.168.1.20"},
		{"clamped", "192.168.1.50", "192.168.1.254", MaxTargets, 20, "192.168.1.50", "192.168.1.69"},
		{"full /24 unclamped", "192.168.1.0", "192.168.1.255", 0, 256, "192.168.1.0", "192.168.1.255"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseRange(tt.start, tt.end)
			if err != nil {
				t.Fatal(err)
			}
			got := r.Expand(tt.limit)
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			if got[0].String() != tt.wantFirst {
				t.Errorf("first = %s, want %s", got[0], tt.wantFirst)
			}
			if got[len(got)-1].String() != tt.wantLast {
				t.Errorf("last = %s, want %s", got[len(got)-1], tt.wantLast)
			}
		})
	}
}
