package pulse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// mockChecker returns a fixed result. It stands in for both loss methods in
// sampler and monitor tests.
type mockChecker struct {
	result *CheckResult
	err    error
	method string
	calls  atomic.Int32
}

// Compile-time interface guards.
var (
	_ Checker = (*mockChecker)(nil)
	_ Checker = (*ICMPChecker)(nil)
	_ Checker = (*HTTPChecker)(nil)
)

func (m *mockChecker) Check(_ context.Context, _ string) (*CheckResult, error) {
	m.calls.Add(1)
	return m.result, m.err
}

func (m *mockChecker) Method() string {
	if m.method == "" {
		return LossMethodHTTP
	}
	return m.method
}

func TestNewICMPChecker(t *testing.T) {
	tests := []struct {
		name        string
		timeout     time.Duration
		count       int
		wantTimeout time.Duration
		wantCount   int
	}{
		{
			name:        "explicit values",
			timeout:     5 * time.Second,
			count:       3,
			wantTimeout: 5 * time.Second,
			wantCount:   3,
		},
		{
			name:        "zero count uses batch of ten",
			timeout:     time.Second,
			count:       0,
			wantTimeout: time.Second,
			wantCount:   10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewICMPChecker(tt.timeout, tt.count)

			if checker.timeout != tt.wantTimeout {
				t.Errorf("timeout = %v, want %v", checker.timeout, tt.wantTimeout)
			}
			if checker.count != tt.wantCount {
				t.Errorf("count = %v, want %v", checker.count, tt.wantCount)
			}
			if checker.Method() != LossMethodICMP {
				t.Errorf("Method() = %q", checker.Method())
			}
		})
	}
}

func TestHTTPChecker_AllAnswered(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	res, err := NewHTTPChecker(time.Second, 10).Check(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if res.Sent != 10 || res.Received != 10 || res.PacketLoss != 0 {
		t.Errorf("result = %+v, want 10/10 with zero loss", res)
	}
	if hits.Load() != 10 {
		t.Errorf("server hits = %d, want 10", hits.Load())
	}
	if !res.Success {
		t.Error("Success = false")
	}
}

func TestHTTPChecker_PartialLoss(t *testing.T) {
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Every fifth request hangs past the timeout.
		if n.Add(1)%5 == 0 {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res, err := NewHTTPChecker(200*time.Millisecond, 10).Check(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if res.PacketLoss != 0.2 {
		t.Errorf("PacketLoss = %v, want 0.2", res.PacketLoss)
	}
}

func TestHTTPChecker_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res, err := NewHTTPChecker(time.Second, 4).Check(context.Background(), url)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.PacketLoss != 1 || res.ErrorMessage == "" {
		t.Errorf("result = %+v, want total loss", res)
	}
}

func TestLossRatio(t *testing.T) {
	tests := []struct {
		sent, received int
		want           float64
	}{
		{10, 10, 0},
		{10, 9, 0.1},
		{10, 0, 1},
		{0, 0, 0},
		{4, 5, 0},
	}
	for _, tt := range tests {
		if got := lossRatio(tt.sent, tt.received); got != tt.want {
			t.Errorf("lossRatio(%d, %d) = %v, want %v", tt.sent, tt.received, got, tt.want)
		}
	}
}
