package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/flightline/flightline/internal/config"
)

// PromptFilePlaceholder marks where the prompt path is substituted into the
// runner command template. Templates without it get the path appended.
const PromptFilePlaceholder = "{prompt_file}"

// ErrNoRunner indicates the runner command is not configured.
var ErrNoRunner = errors.New("no runner command configured")

// Runner executes one pipeline step and reports the process exit code. A
// nonzero code means the step failed; the relay forwards it downstream as
// metadata instead of halting.
type Runner interface {
	RunStep(ctx context.Context, job Job) (int, error)
}

// ExecRunner invokes the configured external command with the step prompt
// written to a temporary file.
type ExecRunner struct {
	command []string
	workDir string
	timeout time.Duration
}

// NewExecRunner builds the runner from config. A missing command is an error
// so daemons refuse to start without one.
func NewExecRunner(cfg config.RunnerConfig) (*ExecRunner, error) {
	if len(cfg.Command) == 0 {
		return nil, ErrNoRunner
	}
	return &ExecRunner{
		command: append([]string(nil), cfg.Command...),
		workDir: cfg.WorkDir,
		timeout: cfg.Timeout,
	}, nil
}

// RunStep writes the step prompt to a temp file, runs the command, and
// returns the process exit code. Transport-level failures (command missing,
// temp file unwritable) surface as errors with code -1.
func (r *ExecRunner) RunStep(ctx context.Context, job Job) (int, error) {
	promptPath, err := writePrompt(job)
	if err != nil {
		return -1, err
	}
	defer os.Remove(promptPath)

	argv := substitutePrompt(r.command, promptPath)
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if r.workDir != "" {
		cmd.Dir = r.workDir
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		if stderr.Len() > 0 {
			return -1, fmt.Errorf("runner %s: %w (%s)", argv[0], err, strings.TrimSpace(stderr.String()))
		}
		return -1, fmt.Errorf("runner %s: %w", argv[0], err)
	}
	return 0, nil
}

// substitutePrompt replaces the placeholder in the command template, or
// appends the prompt path when no placeholder is present.
func substitutePrompt(command []string, promptPath string) []string {
	argv := make([]string, len(command))
	replaced := false
	for i, arg := range command {
		if strings.Contains(arg, PromptFilePlaceholder) {
			argv[i] = strings.ReplaceAll(arg, PromptFilePlaceholder, promptPath)
			replaced = true
			continue
		}
		argv[i] = arg
	}
	if !replaced {
		argv = append(argv, promptPath)
	}
	return argv
}

func writePrompt(job Job) (string, error) {
	f, err := os.CreateTemp("", "flightline-step-*.md")
	if err != nil {
		return "", fmt.Errorf("runner prompt file: %w", err)
	}
	if _, err := f.WriteString(stepPrompt(job)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("runner prompt file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("runner prompt file: %w", err)
	}
	return f.Name(), nil
}

// stepPrompt renders the instruction handed to the external runner.
func stepPrompt(job Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Execute the %s step for work item %s.\n", job.Step, job.IssueID)
	if job.ThreadID != "" {
		fmt.Fprintf(&b, "Conversation thread: %s\n", job.ThreadID)
	}
	if len(job.Meta) > 0 {
		if meta, err := json.MarshalIndent(job.Meta, "", "  "); err == nil {
			b.WriteString("\nContext from the previous step:\n")
			b.Write(meta)
			b.WriteString("\n")
		}
	}
	return b.String()
}
