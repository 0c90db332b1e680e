package repo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/fieldops-backend/internal/domain"
)

func TestOpenSQLite_MissingParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "fieldops.db")
	db, err := OpenSQLite(path)
	if db != nil || !os.IsNotExist(err) {
		t.Fatalf("OpenSQLite(%q) = %v, %v; want not-exist error", path, db, err)
	}
}

func TestOpenSQLite_Pragmas(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "fieldops.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	want := map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"foreign_keys": "1",
		"busy_timeout": "5000",
	}
	for name, v := range want {
		var got string
		if err := db.Raw("PRAGMA " + name).Row().Scan(&got); err != nil {
			t.Fatalf("PRAGMA %s: %v", name, err)
		}
		if strings.ToLower(got) != v {
			t.Errorf("PRAGMA %s = %q; want %q", name, got, v)
		}
	}
	if n := sqlDB.Stats().MaxOpenConnections; n != maxOpenConns {
		t.Errorf("MaxOpenConnections = %d; want %d", n, maxOpenConns)
	}
}

func TestAutoMigrate_CreatesEveryTable(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "fieldops.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	// Running it twice is a no-op.
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("second AutoMigrate: %v", err)
	}
	for _, m := range Models() {
		if !db.Migrator().HasTable(m) {
			t.Fatalf("no table for %T", m)
		}
	}

	now := time.Now().UTC()
	rows := []any{
		&domain.KVEntry{Key: "fieldops:tasks", Value: "[]"},
		&domain.Chat{ID: "c1", UserID: "u1", Title: "Late pickups", SubjectKind: domain.KindIssues, SubjectID: "i-1", CreatedAt: now, UpdatedAt: now},
		&domain.Message{ID: "m1", ChatID: "c1", Role: "user", Content: "what now?", CreatedAt: now, UpdatedAt: now},
		&domain.Idempotency{ID: "k1", Key: "k1", UserID: "u1", Scope: "tasks", ResourceID: "t-1", Status: 201, CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
	}
	for _, r := range rows {
		if err := db.Create(r).Error; err != nil {
			t.Fatalf("insert %T: %v", r, err)
		}
	}

	p := &domain.Partner{ID: "p1", Name: "Agen Maju", VolumeM1: 1000, VolumeCurrent: 1150}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("insert partner: %v", err)
	}
	if p.Status != "GROWTH" {
		t.Fatalf("partner status = %q; want GROWTH derived on save", p.Status)
	}
}
