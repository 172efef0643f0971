package cli

import (
	"strings"
	"testing"
)

func TestVersionCLI(t *testing.T) {
	if _, err := runRootCommand(t, "version"); err != nil {
		t.Fatalf("version: %v", err)
	}
}

func TestStatusCLI(t *testing.T) {
	useTempHome(t)
	// Point the mailbox at a port nothing listens on so the health probe
	// fails fast.
	t.Setenv("FLIGHTLINE_MAILBOX_URL", "http://127.0.0.1:1")

	if _, err := runRootCommand(t, "store", "init"); err != nil {
		t.Fatalf("store init: %v", err)
	}
	out, err := runRootCommand(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"Version:", "Store:", "Lock:", "Mailbox:"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "free") {
		t.Errorf("lock should be free:\n%s", out)
	}
	if !strings.Contains(out, "unreachable") {
		t.Errorf("mailbox should be unreachable:\n%s", out)
	}
}
