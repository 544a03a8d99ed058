// Package media resolves camera stream sources, hands them to the external
// media server, and relays PTZ commands.
package media

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/internal/protocol/onvif"
	"github.com/HerbHall/lockwatch/internal/recon"
	"github.com/HerbHall/lockwatch/pkg/models"
	"github.com/HerbHall/lockwatch/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// ErrNotFound is returned for a stream this process did not start.
var ErrNotFound = errors.New("not found")

// Config holds the media settings read from plugins.media.
type Config struct {
	ServerURL      string
	Timeout        time.Duration
	PTZTimeout     time.Duration
	ONVIFTimeout   time.Duration
	DefaultQuality Quality
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ServerURL:      "http://127.0.0.1:8889",
		Timeout:        10 * time.Second,
		PTZTimeout:     3 * time.Second,
		ONVIFTimeout:   onvif.DefaultTimeout,
		DefaultQuality: QualityMedium,
	}
}

func loadConfig(c plugin.Config) (Config, error) {
	cfg := DefaultConfig()
	if c == nil {
		return cfg, nil
	}
	if s := c.GetString("server_url"); s != "" {
		cfg.ServerURL = s
	}
	if d := c.GetDuration("timeout"); d > 0 {
		cfg.Timeout = d
	}
	if d := c.GetDuration("ptz_timeout"); d > 0 {
		cfg.PTZTimeout = d
	}
	if d := c.GetDuration("onvif_timeout"); d > 0 {
		cfg.ONVIFTimeout = d
	}
	q, err := ParseQuality(c.GetString("default_quality"), cfg.DefaultQuality)
	if err != nil {
		return cfg, fmt.Errorf("default_quality: %w", err)
	}
	cfg.DefaultQuality = q
	return cfg, nil
}

// activeStream is a stream started by this module.
type activeStream struct {
	handle *StreamHandle
	source models.StreamDescriptor
}

// Module implements the media plugin.
type Module struct {
	logger   *zap.Logger
	cfg      Config
	bus      plugin.EventBus
	server   Server
	resolver *Resolver
	metrics  *Metrics
	reg      prometheus.Registerer
	newID    func() string

	mu      sync.Mutex
	streams map[string]activeStream

	// ptzWG tracks in-flight PTZ commands so Stop can wait for them.
	ptzWG sync.WaitGroup
}

// Option configures a Module at construction.
type Option func(*Module)

// WithServer replaces the HTTP media server client.
func WithServer(s Server) Option {
	return func(m *Module) { m.server = s }
}

// WithRegisterer registers the media collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Module) { m.reg = reg }
}

// New creates the media module.
func New(opts ...Option) *Module {
	m := &Module{
		newID:   uuid.NewString,
		streams: make(map[string]activeStream),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Info implements plugin.Plugin.
func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "media",
		Version:     "0.1.0",
		Description: "Stream source resolution and PTZ control",
		APIVersion:  plugin.APIVersionCurrent,
	}
}

// Init implements plugin.Plugin.
func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
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

	if m.server == nil {
		m.server = NewHTTPServer(cfg.ServerURL, cfg.Timeout, m.logger.Named("server"))
	}
	m.metrics = NewMetrics(m.reg)

	opts := []ResolverOption{WithONVIFTimeout(cfg.ONVIFTimeout)}
	if deps.Plugins != nil {
		opts = append(opts,
			WithCredentialSource(vaultCredentials{plugins: deps.Plugins}),
			WithDeviceLookup(reconDevices{plugins: deps.Plugins}),
		)
	}
	m.resolver = NewResolver(recon.NewCatalog(), m.logger.Named("resolver"), opts...)

	m.logger.Info("media module initialized",
		zap.String("server_url", cfg.ServerURL),
		zap.String("default_quality", string(cfg.DefaultQuality)),
	)
	return nil
}

// Start implements plugin.Plugin.
func (m *Module) Start(ctx context.Context) error {
	if !m.server.Health(ctx) {
		m.logger.Warn("media server not reachable", zap.String("server_url", m.cfg.ServerURL))
	}
	m.logger.Info("media module started")
	return nil
}

// Stop implements plugin.Plugin. It waits for in-flight PTZ commands and
// stops every stream this module started.
func (m *Module) Stop(ctx context.Context) error {
	m.ptzWG.Wait()

	m.mu.Lock()
	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.StopStream(ctx, id); err != nil && !errors.Is(err, ErrStreamNotFound) {
			errs = append(errs, err)
		}
	}
	m.logger.Info("media module stopped", zap.Int("streams_stopped", len(ids)))
	return errors.Join(errs...)
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	if m.server == nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: "media not initialized"}
	}
	details := map[string]string{
		"server_url": m.cfg.ServerURL,
		"streams":    strconv.Itoa(m.streamCount()),
	}
	if !m.server.Health(ctx) {
		return plugin.HealthStatus{Status: "degraded", Message: "media server not reachable", Details: details}
	}
	return plugin.HealthStatus{Status: "healthy", Details: details}
}

// Resolve returns the stream source for t with credentials embedded.
func (m *Module) Resolve(ctx context.Context, t Target) (models.StreamDescriptor, error) {
	desc, err := m.resolver.Resolve(ctx, t)
	if err != nil {
		return desc, err
	}
	m.metrics.Resolutions.WithLabelValues(desc.Resolver).Inc()
	return desc, nil
}

// StartRequest asks for a stream of one camera.
type StartRequest struct {
	StreamID string
	Target   Target
	Quality  Quality
}

// StartStream resolves the camera's source and hands it to the media
// server. An empty StreamID gets a generated one.
func (m *Module) StartStream(ctx context.Context, req StartRequest) (*StreamHandle, models.StreamDescriptor, error) {
	desc, err := m.Resolve(ctx, req.Target)
	if err != nil {
		return nil, models.StreamDescriptor{}, err
	}

	id := strings.TrimSpace(req.StreamID)
	if id == "" {
		id = m.newID()
	}
	quality := req.Quality
	if quality == "" {
		quality = m.cfg.DefaultQuality
	}

	h, err := m.server.Start(ctx, id, desc.URI, quality)
	if err != nil {
		m.metrics.StartFailures.Inc()
		return nil, desc, err
	}

	m.mu.Lock()
	m.streams[h.ID] = activeStream{handle: h, source: desc}
	n := len(m.streams)
	m.mu.Unlock()
	m.metrics.ActiveStreams.Set(float64(n))

	redacted := desc.Redacted()
	m.logger.Info("stream started",
		zap.String("stream_id", h.ID),
		zap.String("address", desc.DeviceAddress),
		zap.String("resolver", desc.Resolver),
		zap.String("source", redacted.URI),
	)
	m.publish(ctx, TopicStreamStarted, StreamEvent{
		StreamID:      h.ID,
		DeviceAddress: desc.DeviceAddress,
		Source:        redacted.URI,
		Resolver:      desc.Resolver,
	})
	return h, desc, nil
}

// StopStream stops id on the media server and forgets it.
func (m *Module) StopStream(ctx context.Context, id string) error {
	m.mu.Lock()
	s, tracked := m.streams[id]
	m.mu.Unlock()

	err := m.server.Stop(ctx, id)
	if err != nil && !errors.Is(err, ErrStreamNotFound) {
		return err
	}

	m.mu.Lock()
	delete(m.streams, id)
	n := len(m.streams)
	m.mu.Unlock()
	m.metrics.ActiveStreams.Set(float64(n))

	if err != nil && !tracked {
		return fmt.Errorf("stream %s: %w", id, ErrNotFound)
	}
	m.logger.Info("stream stopped", zap.String("stream_id", id))
	m.publish(ctx, TopicStreamStopped, StreamEvent{StreamID: id, DeviceAddress: s.source.DeviceAddress})
	return nil
}

// Streams returns the streams started by this module, ordered by id.
func (m *Module) Streams() []StreamHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StreamHandle, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, *s.handle)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Module) streamCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// PTZRequest is a continuous move command for one camera profile.
type PTZRequest struct {
	Target    Target
	Direction onvif.Direction
}

// MovePTZ validates req and sends it in the background under the PTZ
// timeout. Failures are logged and published, never returned.
func (m *Module) MovePTZ(ctx context.Context, req PTZRequest) error {
	if _, err := onvif.VelocityFor(req.Direction); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if strings.TrimSpace(req.Target.Address) == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidTarget)
	}
	if req.Target.ProfileToken == "" {
		return fmt.Errorf("%w: profile_token is required", ErrInvalidTarget)
	}

	// The command outlives the HTTP request that asked for it.
	ctx = context.WithoutCancel(ctx)
	m.ptzWG.Add(1)
	go func() {
		defer m.ptzWG.Done()
		m.sendPTZ(ctx, req)
	}()
	return nil
}

func (m *Module) sendPTZ(parent context.Context, req PTZRequest) {
	ctx, cancel := context.WithTimeout(parent, m.cfg.PTZTimeout)
	defer cancel()

	client := m.resolver.ONVIFClient(ctx, req.Target)
	err := client.ContinuousMove(ctx, req.Target.ProfileToken, req.Direction)
	if err == nil {
		m.metrics.PTZCommands.WithLabelValues(string(req.Direction), "ok").Inc()
		m.logger.Debug("ptz command sent",
			zap.String("address", req.Target.Address),
			zap.String("direction", string(req.Direction)),
		)
		return
	}

	m.metrics.PTZCommands.WithLabelValues(string(req.Direction), "fail").Inc()
	m.logger.Warn("ptz command failed",
		zap.String("address", req.Target.Address),
		zap.String("direction", string(req.Direction)),
		zap.Error(err),
	)
	m.publish(parent, TopicPTZFailed, PTZEvent{
		DeviceAddress: req.Target.Address,
		ProfileToken:  req.Target.ProfileToken,
		Direction:     string(req.Direction),
		Error:         err.Error(),
	})
}

func (m *Module) publish(ctx context.Context, topic string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.PublishAsync(ctx, plugin.Event{
		Topic:     topic,
		Source:    "media",
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

// vaultCredentials resolves the vault plugin at call time.
type vaultCredentials struct {
	plugins plugin.PluginResolver
}

func (v vaultCredentials) Lookup(ctx context.Context, address string) (username, password string, ok bool, err error) {
	p, found := v.plugins.Resolve("vault")
	if !found {
		return "", "", false, nil
	}
	src, isSource := p.(recon.CredentialSource)
	if !isSource {
		return "", "", false, nil
	}
	return src.Lookup(ctx, address)
}

// reconDevices resolves the recon plugin at call time.
type reconDevices struct {
	plugins plugin.PluginResolver
}

func (r reconDevices) DeviceByAddress(ctx context.Context, facilityID, address string) (*models.DeviceRecord, error) {
	p, found := r.plugins.Resolve("recon")
	if !found {
		return nil, ErrNotFound
	}
	d, ok := p.(DeviceLookup)
	if !ok {
		return nil, ErrNotFound
	}
	return d.DeviceByAddress(ctx, facilityID, address)
}
