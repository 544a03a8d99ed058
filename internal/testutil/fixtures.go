package testutil

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/lockwatch/pkg/models"
)

// NewDevice returns a discovered ONVIF camera. Override fields with opts.
func NewDevice(opts ...func(*models.DiscoveredDevice)) models.DiscoveredDevice {
	d := models.DiscoveredDevice{
		Address:      "192.168.1.100",
		Port:         80,
		Protocol:     models.ProtocolONVIF,
		Manufacturer: models.Known("Hikvision"),
		Model:        models.Known("DS-2CD2143G0-I"),
		MAC:          models.Known("44:19:b6:00:00:01"),
		Status:       models.DeviceStatusDiscovered,
		Services:     []models.ServiceInfo{{Protocol: models.ProtocolONVIF, Port: 80}},
		DiscoveredAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithAddress sets the device address.
func WithAddress(addr string) func(*models.DiscoveredDevice) {
	return func(d *models.DiscoveredDevice) { d.Address = addr }
}

// WithProtocol sets the classifying protocol and its single service entry.
func WithProtocol(p models.ProtocolKind, port int) func(*models.DiscoveredDevice) {
	return func(d *models.DiscoveredDevice) {
		d.Protocol = p
		d.Port = port
		d.Services = []models.ServiceInfo{{Protocol: p, Port: port}}
	}
}

// WithStatus sets the device status.
func WithStatus(s models.DeviceStatus) func(*models.DiscoveredDevice) {
	return func(d *models.DiscoveredDevice) { d.Status = s }
}

// WithUnknownIdentity clears manufacturer and model.
func WithUnknownIdentity() func(*models.DiscoveredDevice) {
	return func(d *models.DiscoveredDevice) {
		d.Manufacturer = models.Unknown[string]()
		d.Model = models.Unknown[string]()
	}
}

// NewRecord returns a persisted record for facility "test-facility".
func NewRecord(opts ...func(*models.DeviceRecord)) models.DeviceRecord {
	now := time.Now().UTC().Truncate(time.Second)
	r := models.DeviceRecord{
		ID:           uuid.NewString(),
		FacilityID:   "test-facility",
		Address:      "192.168.1.100",
		DeviceType:   models.DeviceTypeCamera,
		Protocol:     models.ProtocolONVIF,
		Manufacturer: "Hikvision",
		Model:        "DS-2CD2143G0-I",
		OpenPorts:    json.RawMessage(`[80]`),
		Services:     json.RawMessage(`[{"protocol":"onvif","port":80}]`),
		Status:       models.DeviceStatusDiscovered,
		FirstSeen:    now,
		LastSeen:     now,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// WithRecordAddress sets the record address.
func WithRecordAddress(addr string) func(*models.DeviceRecord) {
	return func(r *models.DeviceRecord) { r.Address = addr }
}

// WithLastSeen sets the record's last_seen timestamp.
func WithLastSeen(t time.Time) func(*models.DeviceRecord) {
	return func(r *models.DeviceRecord) { r.LastSeen = t }
}

// NewSample returns a healthy metrics sample taken at ts.
func NewSample(ts time.Time) models.MetricsSample {
	return models.MetricsSample{
		Timestamp:         ts,
		Bandwidth:         models.Bandwidth{Download: 95, Upload: 20, Total: 115, Source: models.BandwidthMeasured},
		Latency:           models.Latency{Min: 12, Max: 40, Avg: 25, Samples: 3, Probed: 3},
		PacketLoss:        0,
		PacketLossMethod:  "http",
		ConnectedDevices:  4,
		ActiveConnections: 10,
	}
}
