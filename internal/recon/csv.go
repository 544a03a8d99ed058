package recon

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/HerbHall/lockwatch/pkg/models"
)

// csvHeaders returns the CSV column headers.
func csvHeaders() []string {
	return []string{
		"id", "facility_id", "address", "mac_address", "hostname",
		"device_type", "protocol", "manufacturer", "model", "os",
		"open_ports", "status", "first_seen", "last_seen",
	}
}

// deviceToCSVRow converts a record to a CSV row (matching csvHeaders order).
// Unknown optional fields become empty cells.
func deviceToCSVRow(d models.DeviceRecord) []string {
	return []string{
		d.ID,
		d.FacilityID,
		d.Address,
		d.MAC.OrElse(""),
		d.Hostname.OrElse(""),
		string(d.DeviceType),
		string(d.Protocol),
		d.Manufacturer,
		d.Model,
		d.OSInfo.OrElse(""),
		portsCell(d.OpenPorts),
		string(d.Status),
		d.FirstSeen.UTC().Format(time.RFC3339),
		d.LastSeen.UTC().Format(time.RFC3339),
	}
}

// portsCell renders a JSON int array as "80;554".
func portsCell(raw []byte) string {
	s := strings.Trim(strings.TrimSpace(string(raw)), "[]")
	if s == "" {
		return ""
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			out = append(out, strconv.Itoa(n))
		}
	}
	return strings.Join(out, ";")
}

// writeDevicesCSV writes a header row followed by one row per record.
func writeDevicesCSV(w io.Writer, devices []models.DeviceRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeaders()); err != nil {
		return err
	}
	for i := range devices {
		if err := cw.Write(deviceToCSVRow(devices[i])); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
