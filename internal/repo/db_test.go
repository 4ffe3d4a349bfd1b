package repo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tbourn/max-bridge/internal/domain"
)

func TestOpenSQLite_CreatesDataDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "var", "lib", "bridge.db")

	db, err := OpenSQLite(path, Options{Silent: true})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	if fi, err := os.Stat(filepath.Dir(path)); err != nil || !fi.IsDir() {
		t.Fatalf("data dir not created: %v", err)
	}
	if got := sqlDB.Stats().MaxOpenConnections; got != 8 {
		t.Fatalf("MaxOpenConnections = %d", got)
	}
}

func TestOpenSQLite_ParentIsAFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	db, err := OpenSQLite(filepath.Join(blocker, "bridge.db"))
	if err == nil || db != nil {
		t.Fatalf("expected error, got db=%v", db)
	}
	if !strings.Contains(err.Error(), "data dir") {
		t.Fatalf("err = %v", err)
	}
}

func TestOpenSQLite_Pragmas(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "bridge.db"), Options{Silent: true})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	cases := map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"foreign_keys": "1",
		"busy_timeout": "5000",
	}
	for name, want := range cases {
		var got string
		if err := db.Raw("PRAGMA " + name + ";").Row().Scan(&got); err != nil {
			t.Fatalf("PRAGMA %s: %v", name, err)
		}
		if strings.ToLower(got) != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestAutoMigrate_BridgeTables(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "bridge.db"), Options{Tracing: true, Silent: true})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, table := range []string{"dialogue_states", "preferences", "idempotency"} {
		if !db.Migrator().HasTable(table) {
			t.Errorf("table %s missing", table)
		}
	}

	// A second migration is a no-op and the unique chat index holds.
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	if err := db.Create(&domain.DialogueState{ChatID: 7, LastStep: domain.StepCommand}).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := db.Create(&domain.DialogueState{ChatID: 7, LastStep: domain.StepCommand}).Error; err == nil {
		t.Fatal("duplicate chat_id accepted")
	}
}
