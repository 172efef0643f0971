package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".flightline"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("FLIGHTLINE_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := resolveHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("FLIGHTLINE_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return home, nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load process env vars from ~/.config/flightline/env (and fallbacks) first.
	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil // Use defaults if we can't find config path
	}

	data, err := loadResolvedConfig(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	// If file doesn't exist, continue with defaults

	// Override with environment variables for each group
	envconfig.Process("FLIGHTLINE_STORE", &cfg.Store)
	envconfig.Process("FLIGHTLINE_LOCK", &cfg.Lock)
	envconfig.Process("FLIGHTLINE_MAILBOX", &cfg.Mailbox)
	envconfig.Process("FLIGHTLINE_RELAY", &cfg.Relay)
	envconfig.Process("FLIGHTLINE_RUNNER", &cfg.Runner)
	envconfig.Process("FLIGHTLINE_BACKLOG", &cfg.Backlog)
	envconfig.Process("FLIGHTLINE_TIMELINE", &cfg.Timeline)
	envconfig.Process("FLIGHTLINE_MIRROR", &cfg.Mirror)
	envconfig.Process("FLIGHTLINE_NOTIFY", &cfg.Notify)

	// Expand ~ in paths
	expandHome := func(p *string) {
		if strings.HasPrefix(*p, "~") {
			if home, err := resolveHomeDir(); err == nil {
				*p = filepath.Join(home, (*p)[1:])
			}
		}
	}
	expandHome(&cfg.Store.Path)
	expandHome(&cfg.Lock.Path)
	expandHome(&cfg.Timeline.DBPath)
	expandHome(&cfg.Runner.WorkDir)
	expandHome(&cfg.Mailbox.ProjectPath)

	if cfg.Relay.AgentName == "" {
		cfg.Relay.AgentName = cfg.Relay.Role
	}
	if len(cfg.Relay.Pipeline) == 0 {
		cfg.Relay.Pipeline = DefaultPipeline()
	}
	if cfg.Store.MaxJournalEntries <= 0 {
		cfg.Store.MaxJournalEntries = DefaultConfig().Store.MaxJournalEntries
	}
	if cfg.Lock.Name == "" {
		cfg.Lock.Name = DefaultConfig().Lock.Name
	}
	if cfg.Lock.TTL <= 0 {
		cfg.Lock.TTL = DefaultConfig().Lock.TTL
	}
	if cfg.Relay.PollInterval <= 0 {
		cfg.Relay.PollInterval = DefaultConfig().Relay.PollInterval
	}

	return cfg, nil
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// EnsureDir ensures a directory exists with proper permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// loadResolvedConfig reads the config file and substitutes ${VAR} references
// with environment values before decoding.
func loadResolvedConfig(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	substituteEnvValues(raw)
	return json.Marshal(raw)
}

func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			parts := envPattern.FindStringSubmatch(match)
			if len(parts) != 2 {
				return match
			}
			if value, ok := os.LookupEnv(parts[1]); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}
