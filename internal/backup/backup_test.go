package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HerbHall/lockwatch/internal/store"
)

// newDB creates a database with one row at dir/lockwatch.db.
func newDB(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "lockwatch.db")
	s, err := store.New(path)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()
	if _, err := s.DB().Exec(`CREATE TABLE marker (v TEXT); INSERT INTO marker VALUES ('kept')`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return path
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	dbPath := newDB(t, src)
	cfgPath := filepath.Join(src, "lockwatch.yaml")
	if err := os.WriteFile(cfgPath, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := Backup(ctx, dbPath, cfgPath, archive); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	dst := t.TempDir()
	restored, err := Restore(ctx, archive, dst, false)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if len(restored) != 2 {
		t.Fatalf("restored = %v, want db and config", restored)
	}

	s, err := store.New(filepath.Join(dst, "lockwatch.db"))
	if err != nil {
		t.Fatalf("open restored db: %v", err)
	}
	defer s.Close()
	var v string
	if err := s.DB().QueryRow(`SELECT v FROM marker`).Scan(&v); err != nil || v != "kept" {
		t.Errorf("restored row = %q, %v; want kept", v, err)
	}

	cfg, err := os.ReadFile(filepath.Join(dst, "lockwatch.yaml"))
	if err != nil || string(cfg) != "log:\n  level: debug\n" {
		t.Errorf("restored config = %q, %v", cfg, err)
	}
}

func TestBackup_MissingConfigSkipped(t *testing.T) {
	ctx := context.Background()
	dbPath := newDB(t, t.TempDir())
	archive := filepath.Join(t.TempDir(), "b.tar.gz")

	if err := Backup(ctx, dbPath, "/nonexistent/lockwatch.yaml", archive); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	restored, err := Restore(ctx, archive, t.TempDir(), false)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if len(restored) != 1 {
		t.Errorf("restored = %v, want only the database", restored)
	}
}

func TestBackup_MissingDatabase(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "b.tar.gz")
	if err := Backup(context.Background(), "/nonexistent/lockwatch.db", "", archive); err == nil {
		t.Fatal("Backup() error = nil, want error")
	}
	if _, err := os.Stat(archive); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("archive left behind: %v", err)
	}
}

func TestRestore_RefusesOverwriteWithoutForce(t *testing.T) {
	ctx := context.Background()
	dbPath := newDB(t, t.TempDir())
	archive := filepath.Join(t.TempDir(), "b.tar.gz")
	if err := Backup(ctx, dbPath, "", archive); err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	existing := filepath.Join(dst, "lockwatch.db")
	if err := os.WriteFile(existing, []byte("old"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(existing+"-wal", []byte("stale"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Restore(ctx, archive, dst, false); !errors.Is(err, ErrExists) {
		t.Fatalf("Restore() error = %v, want ErrExists", err)
	}
	if _, err := Restore(ctx, archive, dst, true); err != nil {
		t.Fatalf("Restore(force) error = %v", err)
	}
	if _, err := os.Stat(existing + "-wal"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale WAL not removed: %v", err)
	}
}

func TestDefaultArchiveName(t *testing.T) {
	got := DefaultArchiveName(time.Date(2025, 6, 1, 14, 3, 9, 0, time.UTC))
	if want := "lockwatch-backup-20250601-140309.tar.gz"; got != want {
		t.Errorf("DefaultArchiveName() = %q, want %q", got, want)
	}
}
