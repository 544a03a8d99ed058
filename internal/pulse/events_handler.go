package pulse

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/internal/recon"
	"github.com/HerbHall/lockwatch/pkg/models"
	"github.com/HerbHall/lockwatch/pkg/plugin"
)

// handleDeviceLost raises a device alert when recon reports that a
// previously discovered device stopped answering.
func (m *Module) handleDeviceLost(ctx context.Context, event plugin.Event) {
	if m.monitor == nil {
		return
	}

	var lost recon.DeviceLostEvent
	switch p := event.Payload.(type) {
	case recon.DeviceLostEvent:
		lost = p
	case *recon.DeviceLostEvent:
		if p == nil {
			return
		}
		lost = *p
	default:
		m.logger.Warn("unexpected payload type for device lost event",
			zap.String("type", fmt.Sprintf("%T", event.Payload)),
		)
		return
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = m.monitor.now().UTC()
	}
	ref := lost.DeviceID
	if ref == "" {
		ref = lost.Address
	}
	m.monitor.RaiseAlert(ctx, models.Alert{
		ID:        uuid.NewString(),
		Type:      models.AlertDevice,
		Severity:  models.SeverityMedium,
		Message:   fmt.Sprintf("device %s in facility %s is unreachable", lost.Address, lost.FacilityID),
		Timestamp: ts,
		DeviceRef: ref,
	})
}
