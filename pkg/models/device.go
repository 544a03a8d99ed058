package models

import (
	"encoding/json"
	"time"
)

// UnknownLabel is shown for manufacturer and model when nothing was learned.
const UnknownLabel = "Unknown"

// ProtocolKind identifies which protocol classified a device.
type ProtocolKind string

const (
	ProtocolONVIF   ProtocolKind = "onvif"
	ProtocolRTSP    ProtocolKind = "rtsp"
	ProtocolHTTP    ProtocolKind = "http"
	ProtocolUnknown ProtocolKind = "unknown"
)

// ParseProtocolKind maps a user-supplied protocol name to a ProtocolKind.
func ParseProtocolKind(s string) (ProtocolKind, bool) {
	switch ProtocolKind(s) {
	case ProtocolONVIF, ProtocolRTSP, ProtocolHTTP:
		return ProtocolKind(s), true
	}
	return ProtocolUnknown, false
}

// DeviceStatus is the discovery outcome for a device.
type DeviceStatus string

const (
	// DeviceStatusDiscovered means a live probe succeeded.
	DeviceStatusDiscovered DeviceStatus = "discovered"
	// DeviceStatusDemo marks a synthetic placeholder. Never persisted.
	DeviceStatusDemo DeviceStatus = "demo"
	// DeviceStatusUnreachable means every probe failed.
	DeviceStatusUnreachable DeviceStatus = "unreachable"
)

// DeviceType classifies the device for display.
type DeviceType string

const (
	DeviceTypeCamera  DeviceType = "camera"
	DeviceTypeNVR     DeviceType = "nvr"
	DeviceTypeNetwork DeviceType = "network"
	DeviceTypeUnknown DeviceType = "unknown"
)

// DeviceTypeFor guesses the device type from the classifying protocol.
func DeviceTypeFor(p ProtocolKind) DeviceType {
	switch p {
	case ProtocolONVIF, ProtocolRTSP:
		return DeviceTypeCamera
	case ProtocolHTTP:
		return DeviceTypeNetwork
	default:
		return DeviceTypeUnknown
	}
}

// ServiceInfo is one protocol endpoint confirmed on a device.
type ServiceInfo struct {
	Protocol ProtocolKind `json:"protocol"`
	Port     int          `json:"port"`
	Banner   string       `json:"banner,omitempty"`
}

// DiscoveredDevice is one entry of a discovery result.
type DiscoveredDevice struct {
	Address      string           `json:"address"`
	Port         int              `json:"port,omitempty"`
	Protocol     ProtocolKind     `json:"protocol"`
	Manufacturer Optional[string] `json:"manufacturer"`
	Model        Optional[string] `json:"model"`
	MAC          Optional[string] `json:"mac"`
	Hostname     Optional[string] `json:"hostname"`
	OSInfo       Optional[string] `json:"os_info"`
	Status       DeviceStatus     `json:"status"`
	Services     []ServiceInfo    `json:"services,omitempty"`
	DiscoveredAt time.Time        `json:"discovered_at"`
}

// ManufacturerName returns the manufacturer or "Unknown".
func (d DiscoveredDevice) ManufacturerName() string {
	return d.Manufacturer.OrElse(UnknownLabel)
}

// ModelName returns the model or "Unknown".
func (d DiscoveredDevice) ModelName() string {
	return d.Model.OrElse(UnknownLabel)
}

// OpenPorts returns the distinct ports of the confirmed services.
func (d DiscoveredDevice) OpenPorts() []int {
	seen := make(map[int]bool, len(d.Services))
	ports := make([]int, 0, len(d.Services))
	for _, s := range d.Services {
		if s.Port == 0 || seen[s.Port] {
			continue
		}
		seen[s.Port] = true
		ports = append(ports, s.Port)
	}
	return ports
}

// DeviceRecord is the persisted form of a device, unique per (FacilityID, Address).
type DeviceRecord struct {
	ID           string           `json:"id"`
	FacilityID   string           `json:"facility_id"`
	Address      string           `json:"address"`
	MAC          Optional[string] `json:"mac"`
	Hostname     Optional[string] `json:"hostname"`
	DeviceType   DeviceType       `json:"device_type"`
	Protocol     ProtocolKind     `json:"protocol"`
	Manufacturer string           `json:"manufacturer"`
	Model        string           `json:"model"`
	OSInfo       Optional[string] `json:"os_info"`
	OpenPorts    json.RawMessage  `json:"open_ports"`
	Services     json.RawMessage  `json:"services"`
	Status       DeviceStatus     `json:"status"`
	FirstSeen    time.Time        `json:"first_seen"`
	LastSeen     time.Time        `json:"last_seen"`
}

// RecordFromDiscovery converts a discovery entry into a DeviceRecord for facilityID.
func RecordFromDiscovery(facilityID string, d DiscoveredDevice, seen time.Time) (DeviceRecord, error) {
	ports, err := json.Marshal(d.OpenPorts())
	if err != nil {
		return DeviceRecord{}, err
	}
	services := d.Services
	if services == nil {
		services = []ServiceInfo{}
	}
	svc, err := json.Marshal(services)
	if err != nil {
		return DeviceRecord{}, err
	}
	return DeviceRecord{
		FacilityID:   facilityID,
		Address:      d.Address,
		MAC:          d.MAC,
		Hostname:     d.Hostname,
		DeviceType:   DeviceTypeFor(d.Protocol),
		Protocol:     d.Protocol,
		Manufacturer: d.ManufacturerName(),
		Model:        d.ModelName(),
		OSInfo:       d.OSInfo,
		OpenPorts:    ports,
		Services:     svc,
		Status:       d.Status,
		FirstSeen:    seen,
		LastSeen:     seen,
	}, nil
}
