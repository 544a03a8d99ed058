package pulse

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/HerbHall/lockwatch/internal/protocol/httpprobe"
)

// Packet-loss methods.
const (
	LossMethodHTTP = "http"
	LossMethodICMP = "icmp"
)

// CheckResult is the outcome of one batch of probes against a target.
type CheckResult struct {
	Success      bool      `json:"success"`
	Sent         int       `json:"sent"`
	Received     int       `json:"received"`
	LatencyMs    float64   `json:"latency_ms"`
	PacketLoss   float64   `json:"packet_loss"` // 0.0 to 1.0
	ErrorMessage string    `json:"error_message,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// Checker sends a batch of probes to target and reports the loss ratio.
type Checker interface {
	Check(ctx context.Context, target string) (*CheckResult, error)
	Method() string
}

// ICMPChecker pings targets using ICMP via pro-bing. Raw sockets need root
// (or CAP_NET_RAW); unprivileged UDP pings need net.ipv4.ping_group_range.
type ICMPChecker struct {
	timeout time.Duration
	count   int
}

// NewICMPChecker creates a new ICMP checker with the given timeout and ping count.
func NewICMPChecker(timeout time.Duration, count int) *ICMPChecker {
	if count <= 0 {
		count = 10
	}
	return &ICMPChecker{
		timeout: timeout,
		count:   count,
	}
}

// Method implements Checker.
func (c *ICMPChecker) Method() string { return LossMethodICMP }

// Check pings the target and returns the result.
func (c *ICMPChecker) Check(ctx context.Context, target string) (*CheckResult, error) {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return nil, fmt.Errorf("create pinger: %w", err)
	}

	pinger.Count = c.count
	pinger.Interval = 100 * time.Millisecond
	pinger.Timeout = c.timeout
	pinger.SetPrivileged(runtime.GOOS == "windows" || os.Geteuid() == 0)

	// Run pinger in a goroutine for context cancellation.
	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case runErr := <-done:
		stats := pinger.Statistics()
		result := &CheckResult{
			Sent:      c.count,
			CheckedAt: time.Now().UTC(),
		}
		if runErr != nil {
			// Socket setup failed; nothing was measured.
			return nil, fmt.Errorf("ping %s: %w", target, runErr)
		}

		result.Received = stats.PacketsRecv
		result.LatencyMs = float64(stats.AvgRtt) / float64(time.Millisecond)
		result.PacketLoss = lossRatio(c.count, stats.PacketsRecv)
		result.Success = stats.PacketsRecv > 0
		if !result.Success {
			result.ErrorMessage = "all packets lost"
		}
		return result, nil

	case <-ctx.Done():
		pinger.Stop()
		<-done
		return &CheckResult{
			Sent:         c.count,
			PacketLoss:   1.0,
			ErrorMessage: "check cancelled",
			CheckedAt:    time.Now().UTC(),
		}, nil
	}
}

// HTTPChecker approximates packet loss with a batch of concurrent HEAD
// requests: a request that gets no response within the timeout counts as
// lost. It needs no privileges but measures request failure, not datagram
// loss.
type HTTPChecker struct {
	prober *httpprobe.Prober
	count  int
}

// NewHTTPChecker returns an HTTPChecker sending count requests per batch.
func NewHTTPChecker(timeout time.Duration, count int) *HTTPChecker {
	if count <= 0 {
		count = 10
	}
	return &HTTPChecker{prober: httpprobe.New(timeout), count: count}
}

// Method implements Checker.
func (c *HTTPChecker) Method() string { return LossMethodHTTP }

// Check sends the batch to target, which must be a URL.
func (c *HTTPChecker) Check(ctx context.Context, target string) (*CheckResult, error) {
	var (
		mu       sync.Mutex
		received int
		totalRTT time.Duration
		wg       sync.WaitGroup
	)
	for i := 0; i < c.count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.prober.Head(ctx, target)
			if err != nil {
				return
			}
			mu.Lock()
			received++
			totalRTT += res.Latency
			mu.Unlock()
		}()
	}
	wg.Wait()

	result := &CheckResult{
		Sent:       c.count,
		Received:   received,
		PacketLoss: lossRatio(c.count, received),
		Success:    received > 0,
		CheckedAt:  time.Now().UTC(),
	}
	if received > 0 {
		result.LatencyMs = float64(totalRTT) / float64(received) / float64(time.Millisecond)
	} else {
		result.ErrorMessage = "no responses"
	}
	return result, nil
}

func lossRatio(sent, received int) float64 {
	if sent <= 0 {
		return 0
	}
	if received > sent {
		received = sent
	}
	return float64(sent-received) / float64(sent)
}
