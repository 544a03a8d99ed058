package pulse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/lockwatch/pkg/models"
	"github.com/HerbHall/lockwatch/pkg/plugin"
)

// ErrNotFound is returned when an alert id is unknown.
var ErrNotFound = errors.New("alert not found")

const timeLayout = "2006-01-02T15:04:05.000000000Z"

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create pulse_alerts",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE pulse_alerts (
						id          TEXT PRIMARY KEY,
						type        TEXT NOT NULL,
						severity    TEXT NOT NULL,
						message     TEXT NOT NULL,
						value       REAL NOT NULL DEFAULT 0,
						device_ref  TEXT NOT NULL DEFAULT '',
						created_at  TEXT NOT NULL,
						resolved    INTEGER NOT NULL DEFAULT 0,
						resolved_at TEXT
					)`,
					`CREATE INDEX idx_pulse_alerts_created ON pulse_alerts(created_at)`,
					`CREATE INDEX idx_pulse_alerts_unresolved ON pulse_alerts(resolved, type, severity)`,
				}
				for _, s := range stmts {
					if _, err := tx.Exec(s); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Version:     2,
			Description: "add pulse_alerts.metric",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`ALTER TABLE pulse_alerts ADD COLUMN metric TEXT NOT NULL DEFAULT ''`)
				return err
			},
		},
	}
}

// PulseStore persists alert history.
type PulseStore struct {
	db *sql.DB
}

// NewPulseStore wraps db. Migrations must already be applied.
func NewPulseStore(db *sql.DB) *PulseStore {
	return &PulseStore{db: db}
}

// InsertAlert stores a new alert.
func (s *PulseStore) InsertAlert(ctx context.Context, a models.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pulse_alerts (id, type, metric, severity, message, value, device_ref, created_at, resolved, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Type), a.Metric, string(a.Severity), a.Message, a.Value, a.DeviceRef,
		a.Timestamp.UTC().Format(timeLayout), a.Resolved, nullTime(a.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", a.ID, err)
	}
	return nil
}

// ResolveAlert marks id resolved at at. Resolving twice keeps the first time.
func (s *PulseStore) ResolveAlert(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pulse_alerts SET resolved = 1, resolved_at = COALESCE(resolved_at, ?) WHERE id = ?`,
		at.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("resolve alert %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve alert %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetAlert returns one alert.
func (s *PulseStore) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM pulse_alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", id, err)
	}
	return a, nil
}

// ListAlerts returns up to limit alerts, newest first.
func (s *PulseStore) ListAlerts(ctx context.Context, limit int, unresolvedOnly bool) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + alertColumns + ` FROM pulse_alerts`
	if unresolvedOnly {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("list alerts: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

const alertColumns = `id, type, metric, severity, message, value, device_ref, created_at, resolved, resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(r rowScanner) (*models.Alert, error) {
	var (
		a          models.Alert
		typ, sev   string
		created    string
		resolvedAt sql.NullString
	)
	if err := r.Scan(&a.ID, &typ, &a.Metric, &sev, &a.Message, &a.Value, &a.DeviceRef, &created, &a.Resolved, &resolvedAt); err != nil {
		return nil, err
	}
	a.Type = models.AlertType(typ)
	a.Severity = models.AlertSeverity(sev)
	ts, err := time.Parse(timeLayout, created)
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	a.Timestamp = ts
	if resolvedAt.Valid {
		rt, err := time.Parse(timeLayout, resolvedAt.String)
		if err != nil {
			return nil, fmt.Errorf("resolved_at: %w", err)
		}
		a.ResolvedAt = &rt
	}
	return &a, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}
