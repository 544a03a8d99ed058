// Package pulse samples network health on an interval, raises threshold
// alerts, and streams both to subscribers.
package pulse

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/internal/protocol/httpprobe"
	"github.com/HerbHall/lockwatch/internal/recon"
	"github.com/HerbHall/lockwatch/pkg/models"
	"github.com/HerbHall/lockwatch/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.HTTPProvider    = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
)

// Config holds the pulse settings read from plugins.pulse.
type Config struct {
	Interval          time.Duration
	Autostart         bool
	LatencyEndpoints  []string
	LatencyTimeout    time.Duration
	LossMethod        string
	LossCount         int
	LossTarget        string
	WiFi              bool
	DownloadURL       string
	SyntheticDownload float64
	SyntheticUpload   float64
	Thresholds        Thresholds
	Suppress          bool
	MQTT              MQTTConfig
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Interval:  DefaultInterval,
		Autostart: true,
		LatencyEndpoints: []string{
			"https://1.1.1.1",
			"https://8.8.8.8",
			"https://www.google.com",
		},
		LatencyTimeout:    2 * time.Second,
		LossMethod:        LossMethodHTTP,
		LossCount:         10,
		LossTarget:        "1.1.1.1",
		WiFi:              true,
		SyntheticDownload: 50,
		SyntheticUpload:   10,
		Thresholds:        DefaultThresholds(),
		MQTT:              MQTTConfig{TopicPrefix: "lockwatch/alerts"},
	}
}

func loadConfig(c plugin.Config) (Config, error) {
	cfg := DefaultConfig()
	if c == nil {
		return cfg, nil
	}
	if d := c.GetDuration("interval"); d > 0 {
		cfg.Interval = d
	}
	if c.IsSet("autostart") {
		cfg.Autostart = c.GetBool("autostart")
	}
	if eps := c.GetStringSlice("latency.endpoints"); len(eps) > 0 {
		cfg.LatencyEndpoints = eps
	}
	if d := c.GetDuration("latency.timeout"); d > 0 {
		cfg.LatencyTimeout = d
	}
	if s := c.GetString("packet_loss.method"); s != "" {
		if s != LossMethodHTTP && s != LossMethodICMP {
			return cfg, fmt.Errorf("packet_loss.method %q: want %s or %s", s, LossMethodHTTP, LossMethodICMP)
		}
		cfg.LossMethod = s
	}
	if n := c.GetInt("packet_loss.count"); n > 0 {
		cfg.LossCount = n
	}
	if s := c.GetString("packet_loss.target"); s != "" {
		cfg.LossTarget = s
	}
	if c.IsSet("bandwidth.wifi") {
		cfg.WiFi = c.GetBool("bandwidth.wifi")
	}
	cfg.DownloadURL = c.GetString("bandwidth.download_url")
	if c.IsSet("bandwidth.synthetic_download") {
		cfg.SyntheticDownload = c.GetFloat64("bandwidth.synthetic_download")
	}
	if c.IsSet("bandwidth.synthetic_upload") {
		cfg.SyntheticUpload = c.GetFloat64("bandwidth.synthetic_upload")
	}
	if c.IsSet("thresholds") {
		if err := c.UnmarshalKey("thresholds", &cfg.Thresholds); err != nil {
			return cfg, fmt.Errorf("thresholds: %w", err)
		}
	}
	cfg.Suppress = c.GetBool("alerts.suppress_unresolved")
	if c.IsSet("mqtt") {
		if err := c.UnmarshalKey("mqtt", &cfg.MQTT); err != nil {
			return cfg, fmt.Errorf("mqtt: %w", err)
		}
	}
	return cfg, nil
}

// Module implements the pulse plugin.
type Module struct {
	logger  *zap.Logger
	cfg     Config
	store   *PulseStore
	bus     plugin.EventBus
	monitor *Monitor
	metrics *Metrics
	reg     prometheus.Registerer

	dialMQTT    func(MQTTConfig) (Publisher, error)
	source      SampleSource
	notifier    *Notifier
	unsubNotify func()
}

// Option configures a Module at construction.
type Option func(*Module)

// WithRegisterer registers the pulse collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Module) { m.reg = reg }
}

// WithSampleSource replaces the network sampler.
func WithSampleSource(s SampleSource) Option {
	return func(m *Module) { m.source = s }
}

// WithMQTTDialer replaces DialMQTT.
func WithMQTTDialer(dial func(MQTTConfig) (Publisher, error)) Option {
	return func(m *Module) { m.dialMQTT = dial }
}

// New creates the pulse module.
func New(opts ...Option) *Module {
	m := &Module{dialMQTT: DialMQTT}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Info implements plugin.Plugin.
func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "pulse",
		Version:     "0.2.0",
		Description: "Network health sampling and threshold alerts",
		APIVersion:  plugin.APIVersionCurrent,
	}
}

// Init implements plugin.Plugin.
func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.bus = deps.Bus

	cfg, err := loadConfig(deps.Config)
	if err != nil {
		return err
	}
	m.cfg = cfg

	if deps.Store != nil {
		if err := deps.Store.Migrate(ctx, "pulse", migrations()); err != nil {
			return fmt.Errorf("pulse migrations: %w", err)
		}
		m.store = NewPulseStore(deps.Store.DB())
	}

	if m.source == nil {
		m.source = m.newSampler(deps.Plugins)
	}
	m.metrics = NewMetrics(m.reg)

	opts := []MonitorOption{WithMetrics(m.metrics)}
	if m.store != nil {
		opts = append(opts, WithAlertStore(m.store))
	}
	if m.bus != nil {
		opts = append(opts, WithBus(m.bus))
	}
	m.monitor = NewMonitor(m.source, MonitorConfig{
		Interval:           cfg.Interval,
		Thresholds:         cfg.Thresholds,
		SuppressUnresolved: cfg.Suppress,
	}, m.logger.Named("monitor"), opts...)

	m.logger.Info("pulse module initialized",
		zap.Duration("interval", cfg.Interval),
		zap.String("packet_loss_method", cfg.LossMethod),
		zap.Bool("mqtt", cfg.MQTT.Broker != ""),
	)
	return nil
}

func (m *Module) newSampler(plugins plugin.PluginResolver) *Sampler {
	cfg := m.cfg

	var estimators chainEstimator
	if cfg.WiFi {
		estimators = append(estimators, WiFiEstimator{})
	}
	if cfg.DownloadURL != "" {
		estimators = append(estimators, NewDownloadEstimator(cfg.DownloadURL, 10*time.Second))
	}
	estimators = append(estimators, SyntheticEstimator{Download: cfg.SyntheticDownload, Upload: cfg.SyntheticUpload})

	httpLoss := NewHTTPChecker(cfg.LatencyTimeout, cfg.LossCount)
	s := &Sampler{
		Bandwidth:        estimators,
		LatencyEndpoints: cfg.LatencyEndpoints,
		Latency:          httpprobe.New(cfg.LatencyTimeout),
		Loss:             httpLoss,
		LossTarget:       LossTarget(cfg.LossMethod, cfg.LossTarget),
		Connections:      NewConnectionCounter(),
		Logger:           m.logger.Named("sampler"),
	}
	if cfg.LossMethod == LossMethodICMP {
		s.Loss = NewICMPChecker(cfg.LatencyTimeout, cfg.LossCount)
		s.LossFallback = httpLoss
	}
	if plugins != nil {
		s.Devices = reconDevices{plugins: plugins}
	}
	return s
}

// Start implements plugin.Plugin.
func (m *Module) Start(ctx context.Context) error {
	if m.cfg.MQTT.Broker != "" {
		pub, err := m.dialMQTT(m.cfg.MQTT)
		if err != nil {
			// Alerts still reach the API and the stream.
			m.logger.Warn("mqtt notifier disabled", zap.String("broker", m.cfg.MQTT.Broker), zap.Error(err))
		} else {
			m.notifier = NewNotifier(pub, m.cfg.MQTT.TopicPrefix, m.cfg.MQTT.QoS, m.logger.Named("mqtt"))
			m.unsubNotify = m.monitor.Subscribe(Subscriber{OnAlert: m.notifier.Notify})
		}
	}
	if m.cfg.Autostart {
		m.monitor.Start(ctx)
	}
	m.logger.Info("pulse module started", zap.Bool("monitoring", m.monitor.Running()))
	return nil
}

// Stop implements plugin.Plugin.
func (m *Module) Stop(_ context.Context) error {
	if m.monitor != nil {
		m.monitor.Stop()
	}
	if m.unsubNotify != nil {
		m.unsubNotify()
		m.unsubNotify = nil
	}
	if m.notifier != nil {
		m.notifier.Close()
		m.notifier = nil
	}
	m.logger.Info("pulse module stopped")
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: recon.TopicDeviceLost, Handler: m.handleDeviceLost},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.monitor == nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: "pulse not initialized"}
	}
	details := map[string]string{"running": strconv.FormatBool(m.monitor.Running())}
	if score, ok := m.monitor.HealthScore(); ok {
		details["health_score"] = strconv.Itoa(score)
	}
	if m.store == nil {
		return plugin.HealthStatus{Status: "degraded", Message: "alert history not persisted", Details: details}
	}
	return plugin.HealthStatus{Status: "healthy", Details: details}
}

// Monitor returns the module's monitor.
func (m *Module) Monitor() *Monitor { return m.monitor }

// reconDevices resolves the recon plugin at call time, so pulse runs with or
// without it.
type reconDevices struct {
	plugins plugin.PluginResolver
}

func (r reconDevices) CountDevices(ctx context.Context, status models.DeviceStatus) (int, error) {
	p, ok := r.plugins.Resolve("recon")
	if !ok {
		return 0, nil
	}
	dc, ok := p.(DeviceCounter)
	if !ok {
		return 0, nil
	}
	return dc.CountDevices(ctx, status)
}
