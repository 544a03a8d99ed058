package recon

import (
	"time"

	"github.com/HerbHall/lockwatch/pkg/models"
)

// Event topics published by the Recon module.
const (
	TopicDeviceDiscovered = "recon.device.discovered"
	TopicDeviceUpdated    = "recon.device.updated"
	TopicDeviceLost       = "recon.device.lost"
	TopicScanStarted      = "recon.scan.started"
	TopicScanCompleted    = "recon.scan.completed"
)

// DeviceEvent is the payload for TopicDeviceDiscovered and TopicDeviceUpdated.
type DeviceEvent struct {
	Device models.DeviceRecord `json:"device"`
	ScanID string              `json:"scan_id,omitempty"`
}

// DeviceLostEvent is the payload for TopicDeviceLost events.
type DeviceLostEvent struct {
	DeviceID   string    `json:"device_id"`
	FacilityID string    `json:"facility_id"`
	Address    string    `json:"address"`
	LastSeen   time.Time `json:"last_seen"`
}

// ScanEvent is the payload for the scan topics. Result fields are zero on
// TopicScanStarted.
type ScanEvent struct {
	ScanID     string `json:"scan_id"`
	FacilityID string `json:"facility_id"`
	Range      string `json:"range"`
	Trigger    string `json:"trigger"`
	Found      int    `json:"found"`
	Demo       bool   `json:"demo"`
}
