package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/flightline/flightline/internal/config"
)

func TestNewExecRunnerNoCommand(t *testing.T) {
	_, err := NewExecRunner(config.RunnerConfig{})
	if !errors.Is(err, ErrNoRunner) {
		t.Errorf("expected ErrNoRunner, got %v", err)
	}
}

func TestSubstitutePrompt(t *testing.T) {
	tests := []struct {
		name    string
		command []string
		want    []string
	}{
		{
			name:    "placeholder replaced",
			command: []string{"runner", "--prompt", "{prompt_file}"},
			want:    []string{"runner", "--prompt", "/tmp/p.md"},
		},
		{
			name:    "placeholder inside arg",
			command: []string{"sh", "-c", "cat {prompt_file} | runner"},
			want:    []string{"sh", "-c", "cat /tmp/p.md | runner"},
		},
		{
			name:    "no placeholder appends",
			command: []string{"runner", "--fast"},
			want:    []string{"runner", "--fast", "/tmp/p.md"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := substitutePrompt(tt.command, "/tmp/p.md")
			if strings.Join(got, " ") != strings.Join(tt.want, " ") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecRunnerSuccessReadsPrompt(t *testing.T) {
	// $0 is the substituted prompt path, so the script checks the prompt
	// really reaches the runner.
	r, err := NewExecRunner(config.RunnerConfig{
		Command: []string{"sh", "-c", `grep -q "bd-7" "$0"`, "{prompt_file}"},
	})
	if err != nil {
		t.Fatalf("NewExecRunner: %v", err)
	}
	code, err := r.RunStep(context.Background(), Job{IssueID: "bd-7", Step: "dev-story", ThreadID: "bd-7"})
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	if code != 0 {
		t.Errorf("expected exit 0, got %d", code)
	}
}

func TestExecRunnerNonzeroExit(t *testing.T) {
	r, err := NewExecRunner(config.RunnerConfig{Command: []string{"sh", "-c", "exit 3"}})
	if err != nil {
		t.Fatalf("NewExecRunner: %v", err)
	}
	code, err := r.RunStep(context.Background(), Job{IssueID: "bd-1", Step: "dev-story"})
	if err != nil {
		t.Fatalf("nonzero exit is not an invocation error: %v", err)
	}
	if code != 3 {
		t.Errorf("expected exit 3, got %d", code)
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	r, err := NewExecRunner(config.RunnerConfig{Command: []string{"/no/such/flightline-runner"}})
	if err != nil {
		t.Fatalf("NewExecRunner: %v", err)
	}
	code, err := r.RunStep(context.Background(), Job{IssueID: "bd-1", Step: "dev-story"})
	if err == nil {
		t.Fatal("expected invocation error")
	}
	if code != -1 {
		t.Errorf("expected code -1, got %d", code)
	}
	if !strings.Contains(err.Error(), "runner") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExecRunnerTimeout(t *testing.T) {
	r, err := NewExecRunner(config.RunnerConfig{
		Command: []string{"sh", "-c", "sleep 5"},
		Timeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewExecRunner: %v", err)
	}
	start := time.Now()
	code, _ := r.RunStep(context.Background(), Job{IssueID: "bd-1", Step: "dev-story"})
	if time.Since(start) > 3*time.Second {
		t.Fatal("timeout not applied")
	}
	if code == 0 {
		t.Error("killed run should not report success")
	}
}

func TestStepPrompt(t *testing.T) {
	p := stepPrompt(Job{
		IssueID:  "bd-4",
		Step:     "review-story",
		ThreadID: "bd-4",
		Meta:     map[string]any{"prev_step": "dev-story", "prev_exit_code": 2},
	})
	for _, want := range []string{"review-story", "bd-4", "Conversation thread", "prev_exit_code"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}

	bare := stepPrompt(Job{IssueID: "bd-5", Step: "dev-story"})
	if strings.Contains(bare, "Conversation thread") {
		t.Error("prompt should omit empty thread")
	}
	if strings.Contains(bare, "previous step") {
		t.Error("prompt should omit empty meta")
	}
}
