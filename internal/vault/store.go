package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/lockwatch/pkg/plugin"
)

// ErrNotFound is returned when no credential is stored for an address.
var ErrNotFound = errors.New("credential not found")

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Meta keys.
const (
	metaSalt     = "salt"
	metaVerifier = "verifier"
)

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create vault tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE vault_meta (
						key   TEXT PRIMARY KEY,
						value BLOB NOT NULL
					)`,
					`CREATE TABLE vault_credentials (
						address    TEXT PRIMARY KEY,
						username   TEXT NOT NULL,
						secret     BLOB NOT NULL,
						note       TEXT NOT NULL DEFAULT '',
						created_at TEXT NOT NULL,
						updated_at TEXT NOT NULL
					)`,
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

// Credential is a stored login without its secret.
type Credential struct {
	Address   string    `json:"address"`
	Username  string    `json:"username"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VaultStore persists sealed credentials.
type VaultStore struct {
	db *sql.DB
}

// NewVaultStore wraps db. Migrations must already be applied.
func NewVaultStore(db *sql.DB) *VaultStore {
	return &VaultStore{db: db}
}

// GetMeta returns the value for key, or nil when unset.
func (s *VaultStore) GetMeta(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM vault_meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vault meta %s: %w", key, err)
	}
	return v, nil
}

// PutMeta sets key to value.
func (s *VaultStore) PutMeta(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vault_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("put vault meta %s: %w", key, err)
	}
	return nil
}

// Upsert stores or replaces the credential for c.Address. It reports whether
// a new row was created.
func (s *VaultStore) Upsert(ctx context.Context, c Credential, secret []byte) (created bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("upsert credential %s: %w", c.Address, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists bool
	if err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM vault_credentials WHERE address = ?)`, c.Address,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("upsert credential %s: %w", c.Address, err)
	}

	now := c.UpdatedAt.UTC().Format(timeLayout)
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO vault_credentials (address, username, secret, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			username   = excluded.username,
			secret     = excluded.secret,
			note       = excluded.note,
			updated_at = excluded.updated_at`,
		c.Address, c.Username, secret, c.Note, now, now,
	); err != nil {
		return false, fmt.Errorf("upsert credential %s: %w", c.Address, err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("upsert credential %s: %w", c.Address, err)
	}
	return !exists, nil
}

// Get returns the credential and sealed secret for address.
func (s *VaultStore) Get(ctx context.Context, address string) (*Credential, []byte, error) {
	var (
		c                Credential
		secret           []byte
		created, updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT address, username, secret, note, created_at, updated_at
		FROM vault_credentials WHERE address = ?`, address,
	).Scan(&c.Address, &c.Username, &secret, &c.Note, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("credential %s: %w", address, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get credential %s: %w", address, err)
	}
	c.CreatedAt, _ = time.Parse(timeLayout, created)
	c.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &c, secret, nil
}

// List returns every credential ordered by address.
func (s *VaultStore) List(ctx context.Context) ([]Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, username, note, created_at, updated_at
		FROM vault_credentials ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		var (
			c                Credential
			created, updated string
		)
		if err := rows.Scan(&c.Address, &c.Username, &c.Note, &created, &updated); err != nil {
			return nil, fmt.Errorf("list credentials: %w", err)
		}
		c.CreatedAt, _ = time.Parse(timeLayout, created)
		c.UpdatedAt, _ = time.Parse(timeLayout, updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Count returns the number of stored credentials.
func (s *VaultStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vault_credentials`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count credentials: %w", err)
	}
	return n, nil
}

// Delete removes the credential for address.
func (s *VaultStore) Delete(ctx context.Context, address string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vault_credentials WHERE address = ?`, address)
	if err != nil {
		return fmt.Errorf("delete credential %s: %w", address, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete credential %s: %w", address, err)
	}
	if n == 0 {
		return fmt.Errorf("credential %s: %w", address, ErrNotFound)
	}
	return nil
}
