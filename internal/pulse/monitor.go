package pulse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/pkg/models"
	"github.com/HerbHall/lockwatch/pkg/plugin"
)

const (
	// DefaultInterval is the time between monitor passes.
	DefaultInterval = 5 * time.Second

	SampleCapacity = 100
	AlertCapacity  = 50
)

// SampleSource takes one metrics sample. *Sampler satisfies it.
type SampleSource interface {
	Sample(ctx context.Context) models.MetricsSample
}

// AlertStore persists alerts. *PulseStore satisfies it.
type AlertStore interface {
	InsertAlert(ctx context.Context, a models.Alert) error
	ResolveAlert(ctx context.Context, id string, at time.Time) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
}

// Ticker is the subset of *time.Ticker the monitor loop uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker firing every d.
type TickerFactory func(d time.Duration) Ticker

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker wraps time.NewTicker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Subscriber receives monitor output. Either callback may be nil. Callbacks
// run on the monitor goroutine and must not block.
type Subscriber struct {
	OnMetrics func(models.MetricsSample)
	OnAlert   func(models.Alert)
}

// MonitorConfig controls a Monitor.
type MonitorConfig struct {
	Interval   time.Duration
	Thresholds Thresholds
	// SuppressUnresolved skips a breach while an unresolved alert for the
	// same metric and severity is held.
	SuppressUnresolved bool
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithTickerFactory replaces time.NewTicker.
func WithTickerFactory(f TickerFactory) MonitorOption {
	return func(m *Monitor) { m.newTicker = f }
}

// WithAlertStore persists alerts to s.
func WithAlertStore(s AlertStore) MonitorOption {
	return func(m *Monitor) { m.store = s }
}

// WithBus publishes monitor events to bus.
func WithBus(bus plugin.EventBus) MonitorOption {
	return func(m *Monitor) { m.bus = bus }
}

// WithMetrics updates the Prometheus collectors after each pass.
func WithMetrics(metrics *Metrics) MonitorOption {
	return func(m *Monitor) { m.metrics = metrics }
}

// WithNow replaces time.Now.
func WithNow(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// Monitor samples the network on an interval, evaluates thresholds, and
// keeps the most recent samples and alerts in memory.
type Monitor struct {
	source    SampleSource
	cfg       MonitorConfig
	store     AlertStore
	bus       plugin.EventBus
	metrics   *Metrics
	logger    *zap.Logger
	newTicker TickerFactory
	now       func() time.Time

	samples *Ring[models.MetricsSample]
	alerts  *Ring[models.Alert]

	// writeMu serializes appends from the loop and from RaiseAlert.
	writeMu sync.Mutex

	subMu   sync.Mutex
	subs    []subscription
	nextSub int

	runMu  sync.Mutex
	ticker Ticker
	cancel context.CancelFunc
	done   chan struct{}
}

type subscription struct {
	id int
	s  Subscriber
}

// NewMonitor returns a stopped Monitor.
func NewMonitor(source SampleSource, cfg MonitorConfig, logger *zap.Logger, opts ...MonitorOption) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		source:    source,
		cfg:       cfg,
		logger:    logger,
		newTicker: NewTimeTicker,
		now:       time.Now,
		samples:   NewRing[models.MetricsSample](SampleCapacity),
		alerts:    NewRing[models.Alert](AlertCapacity),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start begins sampling. It takes one sample immediately, then one per
// interval. Calling Start on a running monitor does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.ticker != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.ticker = m.newTicker(m.cfg.Interval)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(loopCtx, m.ticker.C(), m.done)

	m.logger.Info("monitor started", zap.Duration("interval", m.cfg.Interval))
	m.publish(ctx, TopicMonitorStarted, nil)
}

// Stop halts sampling and waits for an in-flight pass to finish. Calling
// Stop on a stopped monitor does nothing.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.ticker == nil {
		return
	}

	m.ticker.Stop()
	m.cancel()
	<-m.done
	m.ticker = nil
	m.cancel = nil
	m.done = nil

	m.logger.Info("monitor stopped")
	m.publish(context.Background(), TopicMonitorStopped, nil)
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.ticker != nil
}

func (m *Monitor) loop(ctx context.Context, tick <-chan time.Time, done chan<- struct{}) {
	defer close(done)
	m.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			m.pass(ctx)
		}
	}
}

// pass samples once and evaluates the result.
func (m *Monitor) pass(ctx context.Context) {
	sample := m.source.Sample(ctx)
	if ctx.Err() != nil {
		// Stopped mid-pass; the sample is incomplete.
		return
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.samples.Push(sample)
	if m.metrics != nil {
		m.metrics.ObserveSample(sample)
	}
	for _, sub := range m.subscribers() {
		if sub.OnMetrics != nil {
			sub.OnMetrics(sample)
		}
	}
	m.publish(ctx, TopicMetricsSampled, SampleEvent{Sample: sample, HealthScore: HealthScore(sample)})

	for _, a := range Evaluate(sample, m.cfg.Thresholds) {
		if m.cfg.SuppressUnresolved && m.hasUnresolved(a.Metric, a.Severity) {
			m.logger.Debug("alert suppressed",
				zap.String("metric", a.Metric),
				zap.String("severity", string(a.Severity)),
			)
			continue
		}
		m.raise(ctx, a)
	}
}

// RaiseAlert records an alert produced outside threshold evaluation.
func (m *Monitor) RaiseAlert(ctx context.Context, a models.Alert) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.raise(ctx, a)
}

func (m *Monitor) raise(ctx context.Context, a models.Alert) {
	m.alerts.Push(a)
	if m.store != nil {
		if err := m.store.InsertAlert(ctx, a); err != nil {
			m.logger.Warn("failed to persist alert", zap.String("alert_id", a.ID), zap.Error(err))
		}
	}
	for _, sub := range m.subscribers() {
		if sub.OnAlert != nil {
			sub.OnAlert(a)
		}
	}
	m.publish(ctx, TopicAlertRaised, AlertEvent{Alert: a})
	if m.metrics != nil {
		m.metrics.ObserveAlert(a)
		m.metrics.AlertsOpen.Set(float64(m.unresolvedCount()))
	}
	m.logger.Info("alert raised",
		zap.String("alert_id", a.ID),
		zap.String("type", string(a.Type)),
		zap.String("severity", string(a.Severity)),
		zap.String("message", a.Message),
	)
}

func (m *Monitor) hasUnresolved(metric string, sev models.AlertSeverity) bool {
	return m.alerts.Any(func(a models.Alert) bool {
		return !a.Resolved && a.Metric == metric && a.Severity == sev
	})
}

func (m *Monitor) unresolvedCount() int {
	n := 0
	for _, a := range m.alerts.Snapshot() {
		if !a.Resolved {
			n++
		}
	}
	return n
}

// Acknowledge resolves the alert with id in memory and in the store. An id
// held in neither place returns ErrNotFound.
func (m *Monitor) Acknowledge(ctx context.Context, id string) (*models.Alert, error) {
	at := m.now().UTC()
	var acked models.Alert
	inRing := m.alerts.Update(func(a *models.Alert) bool {
		if a.ID != id {
			return false
		}
		if !a.Resolved {
			a.Resolved = true
			a.ResolvedAt = &at
		}
		acked = *a
		return true
	})

	if m.store != nil {
		err := m.store.ResolveAlert(ctx, id, at)
		switch {
		case errors.Is(err, ErrNotFound) && inRing:
		case err != nil:
			return nil, fmt.Errorf("acknowledge alert %s: %w", id, err)
		}
	} else if !inRing {
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}

	if !inRing {
		stored, err := m.store.GetAlert(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("acknowledge alert %s: %w", id, err)
		}
		acked = *stored
	}

	if m.metrics != nil {
		m.metrics.AlertsOpen.Set(float64(m.unresolvedCount()))
	}
	m.publish(ctx, TopicAlertResolved, AlertEvent{Alert: acked})
	return &acked, nil
}

// SubscribeWithLatest hands s the newest sample, if any, and then subscribes
// it. No pass can land in between, so s sees each sample exactly once.
func (m *Monitor) SubscribeWithLatest(s Subscriber) (unsubscribe func()) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if latest, ok := m.samples.Latest(); ok && s.OnMetrics != nil {
		s.OnMetrics(latest)
	}
	return m.Subscribe(s)
}

// Subscribe registers s and returns a function that removes it.
// Subscribers are notified in registration order.
func (m *Monitor) Subscribe(s Subscriber) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs = append(m.subs, subscription{id: id, s: s})
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			for i, sub := range m.subs {
				if sub.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (m *Monitor) subscribers() []Subscriber {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	out := make([]Subscriber, len(m.subs))
	for i, sub := range m.subs {
		out[i] = sub.s
	}
	return out
}

// Samples returns up to limit recent samples, oldest first. limit <= 0
// returns all of them.
func (m *Monitor) Samples(limit int) []models.MetricsSample {
	return m.samples.Last(limit)
}

// Alerts returns the held alerts, oldest first.
func (m *Monitor) Alerts() []models.Alert {
	return m.alerts.Snapshot()
}

// Latest returns the newest sample.
func (m *Monitor) Latest() (models.MetricsSample, bool) {
	return m.samples.Latest()
}

// HealthScore scores the newest sample. It reports false before the first
// sample.
func (m *Monitor) HealthScore() (int, bool) {
	s, ok := m.samples.Latest()
	if !ok {
		return 0, false
	}
	return HealthScore(s), true
}

func (m *Monitor) publish(ctx context.Context, topic string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.PublishAsync(ctx, plugin.Event{
		Topic:     topic,
		Source:    "pulse",
		Timestamp: m.now().UTC(),
		Payload:   payload,
	})
}
