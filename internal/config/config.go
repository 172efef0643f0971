// Package config provides configuration types and loading for flightline.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Store, Lock, Mailbox, Relay, Runner, Backlog, Timeline, Mirror, Notify.
type Config struct {
	Store    StoreConfig    `json:"store"`
	Lock     LockConfig     `json:"lock"`
	Mailbox  MailboxConfig  `json:"mailbox"`
	Relay    RelayConfig    `json:"relay"`
	Runner   RunnerConfig   `json:"runner"`
	Backlog  BacklogConfig  `json:"backlog"`
	Timeline TimelineConfig `json:"timeline"`
	Mirror   MirrorConfig   `json:"mirror"`
	Notify   NotifyConfig   `json:"notify"`
}

// ---------------------------------------------------------------------------
// Store – shared plane document
// ---------------------------------------------------------------------------

// StoreConfig groups settings for the plane document store.
type StoreConfig struct {
	Path              string `json:"path" envconfig:"PATH"`
	MaxJournalEntries int    `json:"maxJournalEntries" envconfig:"MAX_JOURNAL_ENTRIES"`
}

// ---------------------------------------------------------------------------
// Lock – advisory file lock guarding the store
// ---------------------------------------------------------------------------

// LockConfig groups settings for the advisory store lock.
type LockConfig struct {
	Path string        `json:"path" envconfig:"PATH"`
	Name string        `json:"name" envconfig:"NAME"`
	TTL  time.Duration `json:"ttl" envconfig:"TTL"`
}

// ---------------------------------------------------------------------------
// Mailbox – agent mail server connection
// ---------------------------------------------------------------------------

// MailboxConfig contains settings for the mailbox RPC server.
type MailboxConfig struct {
	URL           string        `json:"url" envconfig:"URL"`
	APIKey        string        `json:"apiKey" envconfig:"API_KEY"`
	ProjectPath   string        `json:"projectPath" envconfig:"PROJECT_PATH"`
	ProjectName   string        `json:"projectName" envconfig:"PROJECT_NAME"`
	ContactPolicy string        `json:"contactPolicy" envconfig:"CONTACT_POLICY"`
	Timeout       time.Duration `json:"timeout" envconfig:"TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Relay – daemon identity and pipeline routing
// ---------------------------------------------------------------------------

// RelayConfig contains settings for the relay daemons.
type RelayConfig struct {
	Role         string        `json:"role" envconfig:"ROLE"`
	AgentName    string        `json:"agentName" envconfig:"AGENT_NAME"`
	PollInterval time.Duration `json:"pollInterval" envconfig:"POLL_INTERVAL"`
	Pipeline     []StageConfig `json:"pipeline"`
}

// StageConfig describes one stage of the relay pipeline.
type StageConfig struct {
	Role      string `json:"role"`
	Step      string `json:"step"`
	AgentName string `json:"agentName,omitempty"`
}

// ---------------------------------------------------------------------------
// Runner – external step executor
// ---------------------------------------------------------------------------

// RunnerConfig contains settings for the external runner subprocess.
// Command is the argv template; a "{prompt_file}" element is replaced with the
// path of the prompt file, which is appended when no placeholder is present.
type RunnerConfig struct {
	Command []string      `json:"command" envconfig:"COMMAND"`
	WorkDir string        `json:"workDir" envconfig:"WORK_DIR"`
	Timeout time.Duration `json:"timeout" envconfig:"TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Backlog – external issue tracker
// ---------------------------------------------------------------------------

// BacklogConfig contains settings for the beads-style backlog CLI.
type BacklogConfig struct {
	Command     string        `json:"command" envconfig:"COMMAND"`
	Status      string        `json:"status" envconfig:"STATUS"`
	Label       string        `json:"label" envconfig:"LABEL"`
	ActiveLabel string        `json:"activeLabel" envconfig:"ACTIVE_LABEL"`
	Timeout     time.Duration `json:"timeout" envconfig:"TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Timeline – local audit trail
// ---------------------------------------------------------------------------

// TimelineConfig contains settings for the sqlite audit trail.
type TimelineConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	DBPath  string `json:"dbPath" envconfig:"DB_PATH"`
}

// ---------------------------------------------------------------------------
// Mirror – fleet event mirror via Kafka
// ---------------------------------------------------------------------------

// MirrorConfig contains settings for the Kafka relay-event mirror.
type MirrorConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Brokers string `json:"brokers" envconfig:"BROKERS"`
	Topic   string `json:"topic" envconfig:"TOPIC"`
}

// ---------------------------------------------------------------------------
// Notify – human-facing completion notices
// ---------------------------------------------------------------------------

// NotifyConfig contains settings for webhook notifications.
type NotifyConfig struct {
	SlackWebhookURL string `json:"slackWebhookUrl" envconfig:"SLACK_WEBHOOK_URL"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:              "~/" + ConfigDir + "/plane.json",
			MaxJournalEntries: 5000,
		},
		Lock: LockConfig{
			Path: "~/" + ConfigDir + "/plane.lock",
			Name: "plane",
			TTL:  time.Minute,
		},
		Mailbox: MailboxConfig{
			URL:           "http://127.0.0.1:8765",
			ContactPolicy: "auto",
			Timeout:       30 * time.Second,
		},
		Relay: RelayConfig{
			PollInterval: 15 * time.Second,
			Pipeline:     DefaultPipeline(),
		},
		Runner: RunnerConfig{
			Timeout: 30 * time.Minute,
		},
		Backlog: BacklogConfig{
			Command:     "bd",
			Status:      "ready",
			ActiveLabel: "relay-active",
			Timeout:     30 * time.Second,
		},
		Timeline: TimelineConfig{
			Enabled: true,
			DBPath:  "~/" + ConfigDir + "/timeline.db",
		},
		Mirror: MirrorConfig{
			Topic: "flightline-events",
		},
	}
}

// DefaultPipeline returns the standard four-stage relay pipeline.
func DefaultPipeline() []StageConfig {
	return []StageConfig{
		{Role: "dispatcher", Step: "create-story"},
		{Role: "validator", Step: "validate-story"},
		{Role: "dev", Step: "dev-story"},
		{Role: "reviewer", Step: "review-story"},
	}
}
