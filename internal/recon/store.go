package recon

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/lockwatch/pkg/models"
	"github.com/HerbHall/lockwatch/pkg/plugin"
)

// Repository errors.
var (
	ErrNotFound   = errors.New("not found")
	ErrDemoRecord = errors.New("demo devices are never persisted")
)

// Times are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create recon_devices and recon_scans",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE recon_devices (
						id           TEXT PRIMARY KEY,
						facility_id  TEXT NOT NULL,
						address      TEXT NOT NULL,
						mac          TEXT,
						hostname     TEXT,
						device_type  TEXT NOT NULL,
						protocol     TEXT NOT NULL,
						manufacturer TEXT NOT NULL,
						model        TEXT NOT NULL,
						os_info      TEXT,
						open_ports   TEXT NOT NULL DEFAULT '[]',
						services     TEXT NOT NULL DEFAULT '[]',
						status       TEXT NOT NULL,
						first_seen   TEXT NOT NULL,
						last_seen    TEXT NOT NULL,
						UNIQUE (facility_id, address)
					)`,
					`CREATE INDEX idx_recon_devices_status ON recon_devices(status)`,
					`CREATE TABLE recon_scans (
						id           TEXT PRIMARY KEY,
						facility_id  TEXT NOT NULL,
						ip_range     TEXT NOT NULL,
						requested    INTEGER NOT NULL,
						probed       INTEGER NOT NULL,
						found        INTEGER NOT NULL,
						demo         INTEGER NOT NULL,
						demo_reason  TEXT NOT NULL DEFAULT '',
						trigger      TEXT NOT NULL DEFAULT 'api',
						started_at   TEXT NOT NULL,
						completed_at TEXT NOT NULL
					)`,
					`CREATE INDEX idx_recon_scans_started ON recon_scans(started_at)`,
				}
				for _, s := range stmts {
					if _, err := tx.Exec(s); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}

// ScanRecord is one row of scan history.
type ScanRecord struct {
	ID          string    `json:"id"`
	FacilityID  string    `json:"facility_id"`
	Range       string    `json:"range"`
	Requested   int       `json:"requested"`
	Probed      int       `json:"probed"`
	Found       int       `json:"found"`
	Demo        bool      `json:"demo"`
	DemoReason  string    `json:"demo_reason,omitempty"`
	Trigger     string    `json:"trigger"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// ReconStore persists device records and scan history.
type ReconStore struct {
	db *sql.DB
}

// NewReconStore wraps db. Migrations must already be applied.
func NewReconStore(db *sql.DB) *ReconStore {
	return &ReconStore{db: db}
}

// UpsertDevice inserts rec or updates the existing row for
// (FacilityID, Address). The id and first_seen of an existing row are kept;
// optional fields that are unknown in rec do not erase stored values.
// It returns the stored id and first_seen, and whether the row was new.
func (s *ReconStore) UpsertDevice(ctx context.Context, rec *models.DeviceRecord) (created bool, err error) {
	if rec.Status == models.DeviceStatusDemo {
		return false, ErrDemoRecord
	}
	if rec.LastSeen.IsZero() {
		rec.LastSeen = time.Now().UTC()
	}
	if rec.FirstSeen.IsZero() {
		rec.FirstSeen = rec.LastSeen
	}
	newID := uuid.NewString()
	ports, services := jsonOrEmpty(rec.OpenPorts), jsonOrEmpty(rec.Services)

	var id, firstSeen string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO recon_devices (
			id, facility_id, address, mac, hostname, device_type, protocol,
			manufacturer, model, os_info, open_ports, services, status, first_seen, last_seen
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(facility_id, address) DO UPDATE SET
			mac          = COALESCE(excluded.mac, recon_devices.mac),
			hostname     = COALESCE(excluded.hostname, recon_devices.hostname),
			device_type  = excluded.device_type,
			protocol     = excluded.protocol,
			manufacturer = excluded.manufacturer,
			model        = excluded.model,
			os_info      = COALESCE(excluded.os_info, recon_devices.os_info),
			open_ports   = excluded.open_ports,
			services     = excluded.services,
			status       = excluded.status,
			last_seen    = excluded.last_seen
		RETURNING id, first_seen`,
		newID, rec.FacilityID, rec.Address, nullString(rec.MAC), nullString(rec.Hostname),
		string(rec.DeviceType), string(rec.Protocol), rec.Manufacturer, rec.Model, nullString(rec.OSInfo),
		ports, services, string(rec.Status), formatTime(rec.FirstSeen), formatTime(rec.LastSeen),
	).Scan(&id, &firstSeen)
	if err != nil {
		return false, fmt.Errorf("upsert device %s/%s: %w", rec.FacilityID, rec.Address, err)
	}
	fs, err := parseTime(firstSeen)
	if err != nil {
		return false, fmt.Errorf("upsert device %s/%s: first_seen: %w", rec.FacilityID, rec.Address, err)
	}
	rec.ID, rec.FirstSeen = id, fs
	return id == newID, nil
}

const deviceColumns = `id, facility_id, address, mac, hostname, device_type, protocol,
	manufacturer, model, os_info, open_ports, services, status, first_seen, last_seen`

// GetDevice returns the record with id, or ErrNotFound.
func (s *ReconStore) GetDevice(ctx context.Context, id string) (*models.DeviceRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM recon_devices WHERE id = ?`, id)
	rec, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get device %s: %w", id, err)
	}
	return rec, nil
}

// GetDeviceByAddress returns the record for (facilityID, address), or ErrNotFound.
func (s *ReconStore) GetDeviceByAddress(ctx context.Context, facilityID, address string) (*models.DeviceRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM recon_devices WHERE facility_id = ? AND address = ?`, facilityID, address)
	rec, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %s/%s: %w", facilityID, address, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get device %s/%s: %w", facilityID, address, err)
	}
	return rec, nil
}

// ListDevices returns the devices of facilityID, or of every facility when
// facilityID is empty. Records are ordered by facility, then numerically by
// address.
func (s *ReconStore) ListDevices(ctx context.Context, facilityID string) ([]models.DeviceRecord, error) {
	query := `SELECT ` + deviceColumns + ` FROM recon_devices`
	var args []any
	if facilityID != "" {
		query += ` WHERE facility_id = ?`
		args = append(args, facilityID)
	}
	query += ` ORDER BY facility_id, address`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []models.DeviceRecord
	for rows.Next() {
		rec, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("list devices: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	slices.SortStableFunc(out, func(a, b models.DeviceRecord) int {
		if c := strings.Compare(a.FacilityID, b.FacilityID); c != 0 {
			return c
		}
		return compareAddress(a.Address, b.Address)
	})
	return out, nil
}

// compareAddress orders IP addresses numerically. Anything that does not
// parse sorts after them, as text.
func compareAddress(a, b string) int {
	ipA, errA := netip.ParseAddr(a)
	ipB, errB := netip.ParseAddr(b)
	switch {
	case errA == nil && errB == nil:
		return ipA.Compare(ipB)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}

// CountDevices counts records with status, or all records when status is empty.
func (s *ReconStore) CountDevices(ctx context.Context, status models.DeviceStatus) (int, error) {
	query, args := `SELECT COUNT(*) FROM recon_devices`, []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count devices: %w", err)
	}
	return n, nil
}

// UpdateStatus sets the status of (facilityID, address) and returns the
// previous status. last_seen only moves when the device answered.
func (s *ReconStore) UpdateStatus(ctx context.Context, facilityID, address string, status models.DeviceStatus, at time.Time) (models.DeviceStatus, error) {
	if status == models.DeviceStatusDemo {
		return "", ErrDemoRecord
	}
	var prev models.DeviceStatus
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM recon_devices WHERE facility_id = ? AND address = ?`, facilityID, address,
	).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("device %s/%s: %w", facilityID, address, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("update status %s/%s: %w", facilityID, address, err)
	}

	query := `UPDATE recon_devices SET status = ? WHERE facility_id = ? AND address = ?`
	args := []any{string(status), facilityID, address}
	if status == models.DeviceStatusDiscovered {
		query = `UPDATE recon_devices SET status = ?, last_seen = ? WHERE facility_id = ? AND address = ?`
		args = []any{string(status), formatTime(at), facilityID, address}
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("update status %s/%s: %w", facilityID, address, err)
	}
	return prev, nil
}

// InsertScan records a completed scan.
func (s *ReconStore) InsertScan(ctx context.Context, sc *ScanRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recon_scans (id, facility_id, ip_range, requested, probed, found, demo, demo_reason, trigger, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.FacilityID, sc.Range, sc.Requested, sc.Probed, sc.Found, sc.Demo, sc.DemoReason, sc.Trigger,
		formatTime(sc.StartedAt), formatTime(sc.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert scan %s: %w", sc.ID, err)
	}
	return nil
}

// ListScans returns the most recent scans first.
func (s *ReconStore) ListScans(ctx context.Context, limit int) ([]ScanRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, facility_id, ip_range, requested, probed, found, demo, demo_reason, trigger, started_at, completed_at
		FROM recon_scans ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var out []ScanRecord
	for rows.Next() {
		var sc ScanRecord
		var started, completed string
		if err := rows.Scan(&sc.ID, &sc.FacilityID, &sc.Range, &sc.Requested, &sc.Probed, &sc.Found,
			&sc.Demo, &sc.DemoReason, &sc.Trigger, &started, &completed); err != nil {
			return nil, fmt.Errorf("list scans: %w", err)
		}
		if sc.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("list scans: started_at: %w", err)
		}
		if sc.CompletedAt, err = parseTime(completed); err != nil {
			return nil, fmt.Errorf("list scans: completed_at: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(r rowScanner) (*models.DeviceRecord, error) {
	var (
		rec                   models.DeviceRecord
		mac, hostname, osInfo sql.NullString
		deviceType, proto, st string
		ports, services       string
		firstSeen, lastSeen   string
	)
	err := r.Scan(&rec.ID, &rec.FacilityID, &rec.Address, &mac, &hostname, &deviceType, &proto,
		&rec.Manufacturer, &rec.Model, &osInfo, &ports, &services, &st, &firstSeen, &lastSeen)
	if err != nil {
		return nil, err
	}
	rec.MAC = optionalString(mac)
	rec.Hostname = optionalString(hostname)
	rec.OSInfo = optionalString(osInfo)
	rec.DeviceType = models.DeviceType(deviceType)
	rec.Protocol = models.ProtocolKind(proto)
	rec.Status = models.DeviceStatus(st)
	rec.OpenPorts = json.RawMessage(ports)
	rec.Services = json.RawMessage(services)
	if rec.FirstSeen, err = parseTime(firstSeen); err != nil {
		return nil, fmt.Errorf("first_seen: %w", err)
	}
	if rec.LastSeen, err = parseTime(lastSeen); err != nil {
		return nil, fmt.Errorf("last_seen: %w", err)
	}
	return &rec, nil
}

func nullString(o models.Optional[string]) sql.NullString {
	v, ok := o.Get()
	return sql.NullString{String: v, Valid: ok}
}

func optionalString(ns sql.NullString) models.Optional[string] {
	if !ns.Valid {
		return models.Unknown[string]()
	}
	return models.Known(ns.String)
}

func jsonOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "[]"
	}
	return string(raw)
}
