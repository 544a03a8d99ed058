package recon

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/internal/protocol/snmp"
	"github.com/HerbHall/lockwatch/pkg/models"
)

// HostResolver performs reverse DNS lookups. *net.Resolver satisfies it.
type HostResolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// SystemQuerier reads SNMP system information. *snmp.Client satisfies it.
type SystemQuerier interface {
	System(ctx context.Context, host string) (*snmp.SystemInfo, error)
}

// Enricher fills in MAC, manufacturer, hostname and OS details for
// discovered devices. Every source is optional and failures are ignored.
type Enricher struct {
	ARP     ARPReader
	OUI     *OUITable
	DNS     HostResolver
	SNMP    SystemQuerier
	Catalog *Catalog
	Timeout time.Duration
	Logger  *zap.Logger
}

// Enrich updates devices in place.
func (e *Enricher) Enrich(ctx context.Context, devices []models.DiscoveredDevice) {
	if len(devices) == 0 {
		return
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var arp map[string]string
	if e.ARP != nil {
		t, err := e.ARP.Table(ctx)
		if err != nil {
			e.Logger.Debug("arp table unavailable", zap.Error(err))
		}
		arp = t
	}

	var wg sync.WaitGroup
	for i := range devices {
		wg.Add(1)
		go func(d *models.DiscoveredDevice) {
			defer wg.Done()
			e.enrichOne(ctx, d, arp)
		}(&devices[i])
	}
	wg.Wait()
}

func (e *Enricher) enrichOne(ctx context.Context, d *models.DiscoveredDevice, arp map[string]string) {
	if mac, ok := arp[d.Address]; ok && !d.MAC.IsKnown() {
		d.MAC = models.Known(mac)
	}
	if mac, ok := d.MAC.Get(); ok && !d.Manufacturer.IsKnown() && e.OUI != nil {
		d.Manufacturer = models.KnownString(e.OUI.Lookup(mac))
	}

	if e.DNS != nil && !d.Hostname.IsKnown() {
		if names, err := e.DNS.LookupAddr(ctx, d.Address); err == nil && len(names) > 0 {
			d.Hostname = models.KnownString(strings.TrimSuffix(names[0], "."))
		}
	}

	if e.SNMP == nil {
		return
	}
	info, err := e.SNMP.System(ctx, d.Address)
	if err != nil {
		e.Logger.Debug("snmp enrichment failed", zap.String("address", d.Address), zap.Error(err))
		return
	}
	if !d.OSInfo.IsKnown() {
		d.OSInfo = models.KnownString(info.Descr)
	}
	if !d.Hostname.IsKnown() {
		d.Hostname = models.KnownString(info.Name)
	}
	if !d.Manufacturer.IsKnown() && e.Catalog != nil {
		if v, ok := e.Catalog.MatchVendor(info.Descr); ok {
			d.Manufacturer = models.Known(v.Name)
		}
	}
}
