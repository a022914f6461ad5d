package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openJournal(t *testing.T, dir string) func() {
	t.Helper()
	conn, err := Init(dir)
	if err != nil {
		t.Fatalf("Init(%s): %v", dir, err)
	}
	return func() { conn.Close() }
}

func TestInit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "home", ".capsules")
	conn, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer conn.Close()

	info, err := os.Stat(Path(dir))
	if err != nil {
		t.Fatalf("journal file missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("journal mode = %o, want 600", perm)
	}

	var mode string
	if err := conn.QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %s, want wal", mode)
	}

	for _, obj := range []struct{ typ, name string }{
		{"table", "runs"},
		{"index", "idx_runs_started"},
		{"index", "idx_runs_target"},
	} {
		var name string
		err := conn.QueryRow("SELECT name FROM sqlite_master WHERE type=? AND name=?", obj.typ, obj.name).Scan(&name)
		if err != nil {
			t.Errorf("%s %s not found: %v", obj.typ, obj.name, err)
		}
	}
}

func TestInit_ReopenKeepsVersion(t *testing.T) {
	dir := t.TempDir()
	openJournal(t, dir)()

	conn, err := Init(dir)
	if err != nil {
		t.Fatalf("second Init: %v", err)
	}
	defer conn.Close()

	v, err := GetUserVersion(conn)
	if err != nil {
		t.Fatalf("GetUserVersion: %v", err)
	}
	if v != CurrentSchemaVersion {
		t.Errorf("user_version = %d, want %d", v, CurrentSchemaVersion)
	}
}

func TestInit_RefusesNewerSchema(t *testing.T) {
	dir := t.TempDir()
	conn, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := SetUserVersion(conn, CurrentSchemaVersion+1); err != nil {
		t.Fatalf("SetUserVersion: %v", err)
	}
	conn.Close()

	_, err = Init(dir)
	if err == nil {
		t.Fatal("expected Init to refuse a newer schema")
	}
	if !strings.Contains(err.Error(), "newer than this build") {
		t.Errorf("error = %v", err)
	}
}
