package config

import (
	"os"
	"path/filepath"
	"strings"
)

// LoadEnvFileCandidates seeds the process environment from env files:
// $FLIGHTLINE_ENV_FILE first, then the usual dotfile locations.
// Variables already present in the environment always win.
func LoadEnvFileCandidates() {
	for _, path := range envFilePaths() {
		_ = loadEnvFile(path)
	}
}

func envFilePaths() []string {
	var paths []string
	if p := strings.TrimSpace(os.Getenv("FLIGHTLINE_ENV_FILE")); p != "" {
		paths = append(paths, p)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return paths
	}
	paths = append(paths,
		filepath.Join(home, ".config", "flightline", "env"),
		filepath.Join(home, ".flightline", "env"),
		filepath.Join(home, ".flightline", ".env"),
	)
	return dedupePaths(paths)
}

func dedupePaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	return out
}

// loadEnvFile applies KEY=VALUE lines from path without overriding variables
// the process already defines. Comments, blank lines and an optional
// "export " prefix are tolerated; values may be single- or double-quoted.
func loadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, defined := os.LookupEnv(key); defined {
			continue
		}
		_ = os.Setenv(key, unquote(strings.TrimSpace(val)))
	}
	return nil
}

func unquote(v string) string {
	if len(v) >= 2 {
		if q := v[0]; (q == '"' || q == '\'') && v[len(v)-1] == q {
			return v[1 : len(v)-1]
		}
	}
	return v
}
