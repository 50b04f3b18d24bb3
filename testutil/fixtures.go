package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// LocalRegistryJSON declares a single local server "kr4"
const LocalRegistryJSON = `{
  "central": {"webhookPort": 3000, "notificationPort": 3001, "ngrokEnabled": false},
  "servers": [
    {"id": "kr4", "alias": "Workstation", "type": "local"}
  ]
}`

// CreateRegistryFixture writes a registry file and returns its path
func CreateRegistryFixture(t *testing.T, dir, content string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatalf("Failed to create fixture directory: %v", err)
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write registry fixture: %v", err)
	}
	return path
}

// CreateEnvFixture writes a KEY=VALUE secrets file and returns its path
func CreateEnvFixture(t *testing.T, dir string, values map[string]string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("# test secrets\n")
	for k, v := range values {
		fmt.Fprintf(&b, "%s=%s\n", k, v)
	}
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		t.Fatalf("Failed to write env fixture: %v", err)
	}
	return path
}

// CreateRelayHome builds a complete hub directory (registry, env file) and
// points CLAUDE_RELAY_HOME at it
func CreateRelayHome(t *testing.T) string {
	t.Helper()
	dir := CreateTempDir(t)
	CreateRegistryFixture(t, dir, LocalRegistryJSON)
	CreateEnvFixture(t, dir, map[string]string{
		"TELEGRAM_BOT_TOKEN": "123456:TEST",
		"SHARED_SECRET":      "test-secret",
		"TELEGRAM_CHAT_ID":   "1001",
	})
	t.Setenv("CLAUDE_RELAY_HOME", dir)
	return dir
}
