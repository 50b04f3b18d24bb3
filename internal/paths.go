package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RelayPaths holds the on-disk locations used by the hub
type RelayPaths struct {
	BaseDir      string // ~/.claude-relay unless overridden
	ConfigPath   string // server registry (JSON/JSONC)
	EnvPath      string // TELEGRAM_BOT_TOKEN / SHARED_SECRET
	DatabasePath string // session store
}

// DetectRelayPaths returns the default locations, honouring
// CLAUDE_RELAY_HOME when set.
func DetectRelayPaths() (RelayPaths, error) {
	base := os.Getenv("CLAUDE_RELAY_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return RelayPaths{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".claude-relay")
	}

	return RelayPaths{
		BaseDir:      base,
		ConfigPath:   filepath.Join(base, "config.json"),
		EnvPath:      filepath.Join(base, ".env"),
		DatabasePath: filepath.Join(base, "sessions.db"),
	}, nil
}

// GetRelayPaths applies explicit overrides on top of the detected defaults
func GetRelayPaths(configPath, envPath, dbPath string) (RelayPaths, error) {
	paths, err := DetectRelayPaths()
	if err != nil {
		return RelayPaths{}, err
	}
	if configPath != "" {
		paths.ConfigPath = ExpandPath(configPath)
	}
	if envPath != "" {
		paths.EnvPath = ExpandPath(envPath)
	}
	if dbPath != "" {
		paths.DatabasePath = ExpandPath(dbPath)
	}
	return paths, nil
}

// DatabaseExists reports whether the session database has been created yet
func (rp RelayPaths) DatabaseExists() bool {
	_, err := os.Stat(rp.DatabasePath)
	return err == nil
}

// ExpandPath expands a leading ~ to the home directory
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}
