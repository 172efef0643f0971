// Package backlog reads eligible work items from a beads-style issue tracker
// through its CLI. The relay only lists and labels items; item content is owned
// by the tracker.
package backlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/flightline/flightline/internal/config"
)

// Item is one tracker work item as reported by the CLI.
type Item struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Status   string   `json:"status,omitempty"`
	Labels   []string `json:"labels,omitempty"`
	Priority int      `json:"priority,omitempty"`
}

// Tracker is the narrow view of the issue tracker the dispatcher needs.
type Tracker interface {
	// ReadyItems returns eligible items in the tracker's own ordering.
	ReadyItems(ctx context.Context) ([]Item, error)
	// AddLabel attaches a label to one item.
	AddLabel(ctx context.Context, id, label string) error
}

// CLIClient implements Tracker by shelling out to the tracker binary.
type CLIClient struct {
	command string
	status  string
	label   string
	timeout time.Duration

	// runFunc overrides command execution. Nil means run the real binary.
	runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewCLIClient builds a tracker client from config.
func NewCLIClient(cfg config.BacklogConfig) *CLIClient {
	command := cfg.Command
	if command == "" {
		command = "bd"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CLIClient{
		command: command,
		status:  cfg.Status,
		label:   cfg.Label,
		timeout: timeout,
	}
}

// ReadyItems lists items matching the configured status/label filter.
func (c *CLIClient) ReadyItems(ctx context.Context) ([]Item, error) {
	args := []string{"list", "--json"}
	if c.status != "" {
		args = append(args, "--status", c.status)
	}
	if c.label != "" {
		args = append(args, "--label", c.label)
	}
	out, err := c.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("backlog list: %w", err)
	}
	var items []Item
	if err := json.Unmarshal(bytes.TrimSpace(out), &items); err != nil {
		return nil, fmt.Errorf("backlog list: parse output: %w", err)
	}
	return items, nil
}

// AddLabel attaches a label to the given item.
func (c *CLIClient) AddLabel(ctx context.Context, id, label string) error {
	if _, err := c.run(ctx, "label", "add", id, label); err != nil {
		return fmt.Errorf("backlog label %s: %w", id, err)
	}
	return nil
}

func (c *CLIClient) run(ctx context.Context, args ...string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	fn := c.runFunc
	if fn == nil {
		fn = runExec
	}
	return fn(ctx, c.command, args...)
}

func runExec(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%s %s: %w (%s)", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return stdout.Bytes(), nil
}
