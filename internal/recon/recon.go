// Package recon discovers cameras and network devices in a bounded address
// range, persists them per facility, and tests their connectivity.
package recon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/lockwatch/internal/protocol/snmp"
	"github.com/HerbHall/lockwatch/pkg/models"
	"github.com/HerbHall/lockwatch/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Trigger values recorded in scan history.
const (
	TriggerAPI = "api"
	TriggerCLI = "cli"
)

// Config holds the recon settings read from plugins.recon.
type Config struct {
	FacilityID   string
	MaxTargets   int
	ProbeTimeout time.Duration
	DemoCount    int
	ScanRate     float64
	ScanBurst    int
	ReverseDNS   bool
	ARP          bool
	Community    string
	Schedules    []ScheduledScan
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		FacilityID:   "default",
		MaxTargets:   MaxTargets,
		ProbeTimeout: DefaultProbeTimeout,
		DemoCount:    2,
		ScanRate:     0.2,
		ScanBurst:    2,
		ReverseDNS:   true,
		ARP:          true,
	}
}

func loadConfig(c plugin.Config) (Config, error) {
	cfg := DefaultConfig()
	if c == nil {
		return cfg, nil
	}
	if s := c.GetString("facility_id"); s != "" {
		cfg.FacilityID = s
	}
	if c.IsSet("max_targets") {
		cfg.MaxTargets = c.GetInt("max_targets")
	}
	if d := c.GetDuration("probe_timeout"); d > 0 {
		cfg.ProbeTimeout = d
	}
	if c.IsSet("demo.count") {
		cfg.DemoCount = c.GetInt("demo.count")
	}
	if c.IsSet("scan_rate") {
		cfg.ScanRate = c.GetFloat64("scan_rate")
	}
	if c.IsSet("scan_burst") {
		cfg.ScanBurst = c.GetInt("scan_burst")
	}
	if c.IsSet("enrich.reverse_dns") {
		cfg.ReverseDNS = c.GetBool("enrich.reverse_dns")
	}
	if c.IsSet("enrich.arp") {
		cfg.ARP = c.GetBool("enrich.arp")
	}
	cfg.Community = c.GetString("snmp.community")
	if c.IsSet("schedules") {
		if err := c.UnmarshalKey("schedules", &cfg.Schedules); err != nil {
			return cfg, fmt.Errorf("schedules: %w", err)
		}
	}
	return cfg, nil
}

// Module implements the recon plugin.
type Module struct {
	logger   *zap.Logger
	cfg      Config
	store    *ReconStore
	bus      plugin.EventBus
	catalog  *Catalog
	orch     *Orchestrator
	tester   *ConnectivityTester
	metrics  *Metrics
	limiter  *rate.Limiter
	sched    *Scheduler
	reg      prometheus.Registerer
	creds    CredentialSource
	envCheck func() error

	mu         sync.Mutex
	scanCtx    context.Context
	scanCancel context.CancelFunc
	wg         sync.WaitGroup
}

// Option configures a Module at construction.
type Option func(*Module)

// WithRegisterer registers the recon collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Module) { m.reg = reg }
}

// WithEnvironmentCheck replaces the interface check run before each scan.
func WithEnvironmentCheck(fn func() error) Option {
	return func(m *Module) { m.envCheck = fn }
}

// New creates the recon module.
func New(opts ...Option) *Module {
	m := &Module{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Info implements plugin.Plugin.
func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "recon",
		Version:     "0.3.0",
		Description: "Camera and device discovery over ONVIF, RTSP and HTTP",
		Required:    true,
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
		if err := deps.Store.Migrate(ctx, "recon", migrations()); err != nil {
			return fmt.Errorf("recon migrations: %w", err)
		}
		m.store = NewReconStore(deps.Store.DB())
	}

	m.catalog = NewCatalog()
	if err := m.catalog.Err(); err != nil {
		return fmt.Errorf("recon catalog: %w", err)
	}
	if deps.Plugins != nil {
		m.creds = vaultCredentials{plugins: deps.Plugins}
	}

	enricher := &Enricher{
		OUI:     NewOUITable(),
		Catalog: m.catalog,
		Logger:  m.logger.Named("enrich"),
	}
	if cfg.ARP {
		enricher.ARP = SystemARP{}
	}
	if cfg.ReverseDNS {
		enricher.DNS = net.DefaultResolver
	}
	if cfg.Community != "" {
		enricher.SNMP = snmp.NewClient(cfg.Community, 0)
	}

	prober := NewProber(m.catalog, m.logger.Named("prober"), WithCredentials(m.creds))
	m.orch = NewOrchestrator(prober, enricher, m.catalog, OrchestratorConfig{
		MaxTargets: cfg.MaxTargets,
		DemoCount:  cfg.DemoCount,
		EnvCheck:   m.envCheck,
	}, m.logger)
	m.tester = NewConnectivityTester(m.creds, m.logger.Named("connectivity"))
	m.metrics = NewMetrics(m.reg)
	m.limiter = newLimiter(cfg.ScanRate, cfg.ScanBurst)

	if len(cfg.Schedules) > 0 {
		m.sched, err = NewScheduler(cfg.Schedules, m.runScheduled, m.logger.Named("schedule"))
		if err != nil {
			return err
		}
	}

	m.logger.Info("recon module initialized",
		zap.String("facility_id", cfg.FacilityID),
		zap.Int("max_targets", cfg.MaxTargets),
		zap.Int("schedules", len(cfg.Schedules)),
	)
	return nil
}

func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Start implements plugin.Plugin.
func (m *Module) Start(ctx context.Context) error {
	m.mu.Lock()
	m.scanCtx, m.scanCancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	if m.sched != nil {
		m.sched.Start(m.scanCtx)
	}
	m.refreshDeviceGauges(ctx)
	m.logger.Info("recon module started")
	return nil
}

// Stop implements plugin.Plugin. It cancels running scans and waits for them.
func (m *Module) Stop(_ context.Context) error {
	if m.sched != nil {
		m.sched.Stop()
	}
	m.mu.Lock()
	if m.scanCancel != nil {
		m.scanCancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
	m.logger.Info("recon module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	if m.store == nil {
		return plugin.HealthStatus{Status: "degraded", Message: "device store not available"}
	}
	n, err := m.store.CountDevices(ctx, models.DeviceStatusDiscovered)
	if err != nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: err.Error()}
	}
	return plugin.HealthStatus{
		Status:  "healthy",
		Details: map[string]string{"online_devices": fmt.Sprint(n)},
	}
}

// CountDevices returns the number of persisted devices with status. The
// pulse monitor uses it for the connected-device count.
func (m *Module) CountDevices(ctx context.Context, status models.DeviceStatus) (int, error) {
	if m.store == nil {
		return 0, errors.New("recon store not available")
	}
	return m.store.CountDevices(ctx, status)
}

// Catalog returns the embedded camera profile catalog.
func (m *Module) Catalog() *Catalog { return m.catalog }

// DeviceByAddress returns the persisted device at address in facilityID
// (the configured facility when empty).
func (m *Module) DeviceByAddress(ctx context.Context, facilityID, address string) (*models.DeviceRecord, error) {
	if m.store == nil {
		return nil, ErrNotFound
	}
	if facilityID == "" {
		facilityID = m.cfg.FacilityID
	}
	return m.store.GetDeviceByAddress(ctx, facilityID, address)
}

// Discover runs one scan, persists live devices, records history and
// publishes events. Only ErrInvalidRange is returned for bad input.
func (m *Module) Discover(ctx context.Context, req DiscoverRequest, trigger string) (*DiscoveryResult, error) {
	if req.FacilityID == "" {
		req.FacilityID = m.cfg.FacilityID
	}
	if req.Timeout <= 0 {
		req.Timeout = m.cfg.ProbeTimeout
	}

	if _, err := ParseRange(req.Start, req.End); err != nil {
		return nil, err
	}

	m.publish(ctx, TopicScanStarted, ScanEvent{FacilityID: req.FacilityID, Range: req.Start + "-" + req.End, Trigger: trigger})
	res, err := m.orch.Discover(ctx, req)
	if err != nil {
		return nil, err
	}
	m.metrics.RecordScan(res, trigger)

	if !res.Demo {
		m.persistDevices(ctx, res)
	}
	if m.store != nil {
		sc := &ScanRecord{
			ID:          res.ScanID,
			FacilityID:  res.FacilityID,
			Range:       res.Range,
			Requested:   res.Requested,
			Probed:      res.Probed,
			Found:       len(res.Devices),
			Demo:        res.Demo,
			DemoReason:  res.DemoReason,
			Trigger:     trigger,
			StartedAt:   res.StartedAt,
			CompletedAt: res.CompletedAt,
		}
		if res.Demo {
			sc.Found = 0
		}
		if err := m.store.InsertScan(ctx, sc); err != nil {
			m.logger.Warn("failed to record scan", zap.String("scan_id", res.ScanID), zap.Error(err))
		}
	}

	found := len(res.Devices)
	if res.Demo {
		found = 0
	}
	m.publish(ctx, TopicScanCompleted, ScanEvent{
		ScanID: res.ScanID, FacilityID: res.FacilityID, Range: res.Range,
		Trigger: trigger, Found: found, Demo: res.Demo,
	})
	m.refreshDeviceGauges(ctx)
	return res, nil
}

func (m *Module) persistDevices(ctx context.Context, res *DiscoveryResult) {
	if m.store == nil {
		return
	}
	for i := range res.Devices {
		rec, err := models.RecordFromDiscovery(res.FacilityID, res.Devices[i], res.Devices[i].DiscoveredAt)
		if err != nil {
			m.logger.Warn("failed to build device record", zap.String("address", res.Devices[i].Address), zap.Error(err))
			continue
		}
		created, err := m.store.UpsertDevice(ctx, &rec)
		if err != nil {
			m.logger.Warn("failed to persist device", zap.String("address", rec.Address), zap.Error(err))
			continue
		}
		topic := TopicDeviceUpdated
		if created {
			topic = TopicDeviceDiscovered
		}
		m.publish(ctx, topic, DeviceEvent{Device: rec, ScanID: res.ScanID})
	}
}

// TestConnection runs the connectivity chain against req.Address and, when
// the device is known in facilityID, records the outcome. A transition from
// discovered to unreachable publishes TopicDeviceLost.
func (m *Module) TestConnection(ctx context.Context, facilityID string, req ConnectivityRequest) ConnectivityResult {
	res := m.tester.Test(ctx, req)
	m.metrics.RecordConnectivity(&res)
	if m.store == nil {
		return res
	}
	if facilityID == "" {
		facilityID = m.cfg.FacilityID
	}

	status := models.DeviceStatusUnreachable
	if res.Online {
		status = models.DeviceStatusDiscovered
	}
	now := time.Now().UTC()
	prev, err := m.store.UpdateStatus(ctx, facilityID, req.Address, status, now)
	if errors.Is(err, ErrNotFound) {
		return res
	}
	if err != nil {
		m.logger.Warn("failed to record connectivity", zap.String("address", req.Address), zap.Error(err))
		return res
	}
	if prev == models.DeviceStatusDiscovered && status == models.DeviceStatusUnreachable {
		if rec, err := m.store.GetDeviceByAddress(ctx, facilityID, req.Address); err == nil {
			m.publish(ctx, TopicDeviceLost, DeviceLostEvent{
				DeviceID:   rec.ID,
				FacilityID: facilityID,
				Address:    rec.Address,
				LastSeen:   rec.LastSeen,
			})
		}
	}
	m.refreshDeviceGauges(ctx)
	return res
}

// runScheduled is the ScanRunner given to the cron scheduler.
func (m *Module) runScheduled(ctx context.Context, req DiscoverRequest, trigger string) {
	m.wg.Add(1)
	defer m.wg.Done()
	if _, err := m.Discover(ctx, req, trigger); err != nil {
		m.logger.Warn("scheduled scan failed", zap.String("trigger", trigger), zap.Error(err))
	}
}

func (m *Module) refreshDeviceGauges(ctx context.Context) {
	if m.store == nil || m.metrics == nil {
		return
	}
	for _, st := range []models.DeviceStatus{models.DeviceStatusDiscovered, models.DeviceStatusUnreachable} {
		n, err := m.store.CountDevices(ctx, st)
		if err != nil {
			m.logger.Debug("device count failed", zap.Error(err))
			return
		}
		m.metrics.SetDeviceCount(string(st), n)
	}
}

func (m *Module) publish(ctx context.Context, topic string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.PublishAsync(ctx, plugin.Event{
		Topic:     topic,
		Source:    "recon",
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

// vaultCredentials looks up camera credentials from the vault plugin at
// call time, so recon works whether or not the vault is enabled.
type vaultCredentials struct {
	plugins plugin.PluginResolver
}

func (v vaultCredentials) Lookup(ctx context.Context, address string) (username, password string, ok bool, err error) {
	p, found := v.plugins.Resolve("vault")
	if !found {
		return "", "", false, nil
	}
	src, isSource := p.(CredentialSource)
	if !isSource {
		return "", "", false, nil
	}
	return src.Lookup(ctx, address)
}
