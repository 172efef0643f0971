package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flightline/flightline/internal/lock"
)

func runRootCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	_, err := rootCmd.ExecuteC()
	rootCmd.SetArgs(nil)
	return strings.TrimSpace(buf.String()), err
}

// useTempHome points the config loader at an empty home so commands run
// against default paths under it.
func useTempHome(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("FLIGHTLINE_HOME", tmp)
	t.Setenv("FLIGHTLINE_CONFIG", filepath.Join(tmp, ".flightline", "config.json"))
	return tmp
}

func TestStoreSetGetListCLI(t *testing.T) {
	useTempHome(t)

	if _, err := runRootCommand(t, "store", "init"); err != nil {
		t.Fatalf("store init: %v", err)
	}
	if _, err := runRootCommand(t, "store", "set", "crew", "pilot", `{"name":"kim"}`); err != nil {
		t.Fatalf("store set: %v", err)
	}
	out, err := runRootCommand(t, "store", "get", "crew", "pilot")
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("get output not json: %v\nout=%s", err, out)
	}
	if got["name"] != "kim" {
		t.Errorf("unexpected value: %v", got)
	}

	if _, err := runRootCommand(t, "store", "set", "crew", "copilot", "sam"); err != nil {
		t.Fatalf("store set plain: %v", err)
	}
	out, err = runRootCommand(t, "store", "list", "crew")
	if err != nil {
		t.Fatalf("store list: %v", err)
	}
	if !strings.Contains(out, "pilot") || !strings.Contains(out, "copilot") {
		t.Errorf("list missing keys: %s", out)
	}

	out, err = runRootCommand(t, "store", "list", "crew", "co")
	if err != nil {
		t.Fatalf("store list prefix: %v", err)
	}
	if out != "copilot" {
		t.Errorf("prefix filter failed: %q", out)
	}
}

func TestStoreGetMissingKey(t *testing.T) {
	useTempHome(t)
	if _, err := runRootCommand(t, "store", "init"); err != nil {
		t.Fatalf("store init: %v", err)
	}
	if _, err := runRootCommand(t, "store", "get", "crew", "nobody"); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestStoreAppendCLI(t *testing.T) {
	useTempHome(t)
	if _, err := runRootCommand(t, "store", "append", "log", "events", "first", "--meta", `{"actor":"cli"}`); err != nil {
		t.Fatalf("store append: %v", err)
	}
	out, err := runRootCommand(t, "store", "get", "log", "events")
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	var seq []map[string]any
	if err := json.Unmarshal([]byte(out), &seq); err != nil {
		t.Fatalf("sequence not json: %v\nout=%s", err, out)
	}
	if len(seq) != 1 || seq[0]["value"] != "first" {
		t.Errorf("unexpected sequence: %v", seq)
	}
}

func TestStoreMetaRejectsJunk(t *testing.T) {
	useTempHome(t)
	if _, err := runRootCommand(t, "store", "set", "a", "b", "c", "--meta", "not-json"); err == nil {
		t.Error("expected error for junk meta")
	}
}

func TestLandCLI(t *testing.T) {
	home := useTempHome(t)

	for i := 0; i < 3; i++ {
		if _, err := runRootCommand(t, "store", "append", "log", "events", "entry"); err != nil {
			t.Fatalf("store append: %v", err)
		}
	}
	out, err := runRootCommand(t, "land", "--max", "1")
	if err != nil {
		t.Fatalf("land: %v", err)
	}
	if !strings.Contains(out, "dropped:  2") {
		t.Errorf("expected 2 dropped entries, got:\n%s", out)
	}
	if !strings.Contains(out, "released: true") {
		t.Errorf("lock should be released, got:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(home, ".flightline", "plane.lock")); !os.IsNotExist(err) {
		t.Error("lock file should be gone after landing")
	}
	// The pass is recorded in the local timeline.
	if _, err := os.Stat(filepath.Join(home, ".flightline", "timeline.db")); err != nil {
		t.Errorf("timeline db missing: %v", err)
	}
}

func TestLockStatusAndReleaseCLI(t *testing.T) {
	home := useTempHome(t)
	lockFile := filepath.Join(home, ".flightline", "plane.lock")
	if err := os.MkdirAll(filepath.Dir(lockFile), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	out, err := runRootCommand(t, "lock", "status")
	if err != nil {
		t.Fatalf("lock status: %v", err)
	}
	if !strings.Contains(out, "free") {
		t.Errorf("expected free lock, got:\n%s", out)
	}

	rec, err := lock.Acquire(lockFile, "plane", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	out, err = runRootCommand(t, "lock", "status")
	if err != nil {
		t.Fatalf("lock status: %v", err)
	}
	if !strings.Contains(out, "held") || !strings.Contains(out, rec.Owner) {
		t.Errorf("expected held lock with owner, got:\n%s", out)
	}

	if _, err := runRootCommand(t, "lock", "release"); err == nil {
		t.Error("release without owner or force should fail")
	}
	out, err = runRootCommand(t, "lock", "release", "wrong-owner")
	if err != nil {
		t.Fatalf("lock release: %v", err)
	}
	if !strings.Contains(out, "Not released") {
		t.Errorf("owner mismatch should not release, got:\n%s", out)
	}
	out, err = runRootCommand(t, "lock", "release", rec.Owner)
	if err != nil {
		t.Fatalf("lock release: %v", err)
	}
	if !strings.Contains(out, "Released") {
		t.Errorf("matching owner should release, got:\n%s", out)
	}
}
