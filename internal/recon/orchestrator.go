package recon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/pkg/models"
)

// DefaultProbeTimeout is the per-target deadline.
const DefaultProbeTimeout = 5 * time.Second

// ErrEnvironmentUnsupported means the host cannot do network discovery at
// all. Discover turns it into the demo fallback.
var ErrEnvironmentUnsupported = errors.New("environment does not support network discovery")

// DiscoverRequest is the input to Discover.
type DiscoverRequest struct {
	Start      string
	End        string
	Protocols  []models.ProtocolKind
	Timeout    time.Duration
	FacilityID string
}

// DiscoveryResult is the aggregated outcome of one scan.
type DiscoveryResult struct {
	ScanID      string                    `json:"scan_id"`
	FacilityID  string                    `json:"facility_id,omitempty"`
	Range       string                    `json:"range"`
	Devices     []models.DiscoveredDevice `json:"devices"`
	Demo        bool                      `json:"demo"`
	DemoReason  string                    `json:"demo_reason,omitempty"`
	Requested   int                       `json:"requested"`
	Probed      int                       `json:"probed"`
	Clamped     bool                      `json:"clamped"`
	Attempts    map[string][]Attempt      `json:"attempts,omitempty"`
	StartedAt   time.Time                 `json:"started_at"`
	CompletedAt time.Time                 `json:"completed_at"`
}

// TargetProber classifies one address. *Prober satisfies it.
type TargetProber interface {
	Probe(ctx context.Context, address string, protocols []models.ProtocolKind) ProbeResult
}

// Orchestrator expands a range into concurrent probes and aggregates the
// results. It keeps no state between calls.
type Orchestrator struct {
	prober     TargetProber
	enricher   *Enricher
	catalog    *Catalog
	envCheck   func() error
	now        func() time.Time
	maxTargets int
	demoCount  int
	logger     *zap.Logger
}

// OrchestratorConfig holds the tunables of an Orchestrator.
type OrchestratorConfig struct {
	MaxTargets int
	DemoCount  int
	// EnvCheck overrides the interface check; nil uses CheckEnvironment.
	EnvCheck func() error
}

// NewOrchestrator returns an Orchestrator. enricher may be nil.
func NewOrchestrator(prober TargetProber, enricher *Enricher, catalog *Catalog, cfg OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	o := &Orchestrator{
		prober:     prober,
		enricher:   enricher,
		catalog:    catalog,
		envCheck:   cfg.EnvCheck,
		now:        time.Now,
		maxTargets: cfg.MaxTargets,
		demoCount:  cfg.DemoCount,
		logger:     logger,
	}
	if o.envCheck == nil {
		o.envCheck = CheckEnvironment
	}
	if o.maxTargets <= 0 || o.maxTargets > MaxTargets {
		o.maxTargets = MaxTargets
	}
	if o.demoCount < 0 {
		o.demoCount = 0
	}
	return o
}

// Discover probes the requested range. Only ErrInvalidRange is returned;
// every other failure degrades to an empty set and then to demo devices.
func (o *Orchestrator) Discover(ctx context.Context, req DiscoverRequest) (*DiscoveryResult, error) {
	rng, err := ParseRange(req.Start, req.End)
	if err != nil {
		return nil, err
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	targets := rng.Expand(o.maxTargets)
	res := &DiscoveryResult{
		ScanID:     uuid.NewString(),
		FacilityID: req.FacilityID,
		Range:      rng.String(),
		Requested:  rng.Size(),
		Clamped:    rng.Size() > len(targets),
		StartedAt:  o.now().UTC(),
	}
	defer func() { res.CompletedAt = o.now().UTC() }()

	if err := o.envCheck(); err != nil {
		o.logger.Warn("discovery unavailable, returning demo devices", zap.Error(err))
		o.fillDemo(res, targets, err.Error())
		return res, nil
	}

	probes := o.probeAll(ctx, targets, req.Protocols, timeout)
	res.Probed = len(probes)
	res.Attempts = make(map[string][]Attempt, len(probes))
	for _, p := range probes {
		res.Attempts[p.Address] = p.Attempts
		if p.Status != models.DeviceStatusDiscovered {
			continue
		}
		res.Devices = append(res.Devices, models.DiscoveredDevice{
			Address:      p.Address,
			Port:         p.Port,
			Protocol:     p.Protocol,
			Manufacturer: p.Manufacturer,
			Model:        p.Model,
			Status:       models.DeviceStatusDiscovered,
			Services:     []models.ServiceInfo{{Protocol: p.Protocol, Port: p.Port, Banner: p.Banner}},
			DiscoveredAt: o.now().UTC(),
		})
	}

	if len(res.Devices) == 0 {
		o.fillDemo(res, targets, "no device answered any probe")
		return res, nil
	}
	if o.enricher != nil {
		o.enricher.Enrich(ctx, res.Devices)
	}
	return res, nil
}

// probeAll runs one probe per target concurrently and returns the results
// in target order. A probe's failure or panic never affects its siblings.
func (o *Orchestrator) probeAll(ctx context.Context, targets []netip.Addr, protocols []models.ProtocolKind, timeout time.Duration) []ProbeResult {
	results := make([]ProbeResult, len(targets))
	var wg sync.WaitGroup
	for i, addr := range targets {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			results[i] = ProbeResult{Address: addr, Status: models.DeviceStatusUnreachable, Protocol: models.ProtocolUnknown}
			defer func() {
				if r := recover(); r != nil {
					o.logger.Warn("probe panicked", zap.String("address", addr), zap.Any("panic", r))
				}
			}()

			tctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			results[i] = o.prober.Probe(tctx, addr, protocols)
		}(i, addr.String())
	}
	wg.Wait()
	return results
}

// fillDemo substitutes placeholder devices, addressed from the start of
// the requested range.
func (o *Orchestrator) fillDemo(res *DiscoveryResult, targets []netip.Addr, reason string) {
	res.Demo = true
	res.DemoReason = reason
	res.Devices = demoDevices(o.catalog.DemoTemplates(), targets, o.demoCount, o.now().UTC())
}

func demoDevices(templates []DemoTemplate, targets []netip.Addr, count int, now time.Time) []models.DiscoveredDevice {
	if len(templates) == 0 {
		templates = []DemoTemplate{{Protocol: models.ProtocolUnknown}}
	}
	out := make([]models.DiscoveredDevice, 0, count)
	for i := 0; i < count; i++ {
		tpl := templates[i%len(templates)]
		addr := fmt.Sprintf("demo-%d", i+1)
		if i < len(targets) {
			addr = targets[i].String()
		}
		out = append(out, models.DiscoveredDevice{
			Address:      addr,
			Port:         tpl.Port,
			Protocol:     tpl.Protocol,
			Manufacturer: models.KnownString(tpl.Manufacturer),
			Model:        models.KnownString(tpl.Model),
			Status:       models.DeviceStatusDemo,
			DiscoveredAt: now,
		})
	}
	return out
}

// CheckEnvironment reports ErrEnvironmentUnsupported unless the host has at
// least one up, non-loopback interface with an address.
func CheckEnvironment() error {
	ifaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEnvironmentUnsupported, err)
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err == nil && len(addrs) > 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: no usable network interface", ErrEnvironmentUnsupported)
}
