package pulse

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/internal/protocol/httpprobe"
	"github.com/HerbHall/lockwatch/pkg/models"
)

// DeviceCounter counts persisted devices. The recon module satisfies it.
type DeviceCounter interface {
	CountDevices(ctx context.Context, status models.DeviceStatus) (int, error)
}

// Sampler takes one MetricsSample. Its sub-measurements run concurrently and
// each one degrades to a zero value on failure.
type Sampler struct {
	Bandwidth        BandwidthEstimator
	LatencyEndpoints []string
	Latency          *httpprobe.Prober
	Loss             Checker
	LossFallback     Checker // used when Loss returns an error
	LossTarget       string
	Devices          DeviceCounter
	Connections      ConnectionCounter
	Now              func() time.Time
	Logger           *zap.Logger
}

// Sample measures everything once.
func (s *Sampler) Sample(ctx context.Context) models.MetricsSample {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	out := models.MetricsSample{Timestamp: now().UTC()}
	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	if s.Bandwidth != nil {
		run(func() {
			bw, err := s.Bandwidth.Estimate(ctx)
			if err != nil {
				logger.Debug("bandwidth estimate failed", zap.Error(err))
				return
			}
			out.Bandwidth = bw
		})
	}
	run(func() { out.Latency = s.measureLatency(ctx) })
	if s.Loss != nil {
		run(func() { out.PacketLoss, out.PacketLossMethod = s.measureLoss(ctx, logger) })
	}
	if s.Devices != nil {
		run(func() {
			n, err := s.Devices.CountDevices(ctx, models.DeviceStatusDiscovered)
			if err != nil {
				logger.Debug("device count failed", zap.Error(err))
				return
			}
			out.ConnectedDevices = n
		})
	}
	if s.Connections != nil {
		run(func() {
			n, err := s.Connections()
			if err != nil {
				logger.Debug("connection count failed", zap.Error(err))
				return
			}
			out.ActiveConnections = n
		})
	}
	wg.Wait()
	return out
}

// measureLatency HEADs every endpoint in parallel. Failed endpoints are
// excluded from min/max/avg but counted in Probed.
func (s *Sampler) measureLatency(ctx context.Context) models.Latency {
	res := models.Latency{Probed: len(s.LatencyEndpoints)}
	if len(s.LatencyEndpoints) == 0 || s.Latency == nil {
		return res
	}

	ms := make([]float64, len(s.LatencyEndpoints))
	ok := make([]bool, len(s.LatencyEndpoints))
	var wg sync.WaitGroup
	for i, ep := range s.LatencyEndpoints {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := s.Latency.Head(ctx, ep)
			if err != nil {
				return
			}
			ms[i] = float64(r.Latency) / float64(time.Millisecond)
			ok[i] = true
		}()
	}
	wg.Wait()

	sum := 0.0
	for i := range ms {
		if !ok[i] {
			continue
		}
		if res.Samples == 0 || ms[i] < res.Min {
			res.Min = ms[i]
		}
		if ms[i] > res.Max {
			res.Max = ms[i]
		}
		sum += ms[i]
		res.Samples++
	}
	if res.Samples > 0 {
		res.Avg = sum / float64(res.Samples)
	}
	return res
}

// measureLoss returns the loss percentage and the method that produced it.
func (s *Sampler) measureLoss(ctx context.Context, logger *zap.Logger) (float64, string) {
	for _, c := range []Checker{s.Loss, s.LossFallback} {
		if c == nil {
			continue
		}
		res, err := c.Check(ctx, LossTarget(c.Method(), s.LossTarget))
		if err != nil {
			logger.Debug("packet loss check failed", zap.String("method", c.Method()), zap.Error(err))
			continue
		}
		return res.PacketLoss * 100, c.Method()
	}
	return 0, ""
}

// LossTarget adapts target to what method expects: a URL for http, a bare
// host for icmp.
func LossTarget(method, target string) string {
	switch method {
	case LossMethodHTTP:
		if !strings.Contains(target, "://") {
			return "https://" + target
		}
		return target
	case LossMethodICMP:
		if u, err := url.Parse(target); err == nil && u.Host != "" {
			return u.Hostname()
		}
		return target
	}
	return target
}
