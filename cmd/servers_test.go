package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iksnae/claude-relay/internal"
	"github.com/iksnae/claude-relay/testutil"
)

func loadTestRegistry(t *testing.T, home string) *internal.Registry {
	t.Helper()
	registry, err := internal.LoadRegistry(filepath.Join(home, "config.json"))
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}
	return registry
}

func TestServersList(t *testing.T) {
	testutil.CreateRelayHome(t)

	out, err := executeCommand(t, "servers", "list")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	for _, w := range []string{"1 server(s)", "kr4", "Workstation", "local"} {
		if !strings.Contains(out, w) {
			t.Errorf("output missing %q:\n%s", w, out)
		}
	}
}

func TestServersAddRemove(t *testing.T) {
	home := testutil.CreateRelayHome(t)

	_, err := executeCommand(t, "servers", "add", "gpu1",
		"--host", "10.0.0.5", "--user", "ops", "--key", "~/.ssh/id_ed25519", "--port", "2222", "--alias", "GPU box")
	if err != nil {
		t.Fatalf("add error = %v", err)
	}
	entry, ok := loadTestRegistry(t, home).Server("gpu1")
	if !ok {
		t.Fatal("gpu1 not written to registry")
	}
	if entry.Type != internal.ServerRemote || entry.SSHAddress() != "10.0.0.5:2222" || entry.SSH.User != "ops" {
		t.Errorf("unexpected entry: %+v", entry)
	}

	if _, err := executeCommand(t, "servers", "remove", "gpu1"); err != nil {
		t.Fatalf("remove error = %v", err)
	}
	if _, ok := loadTestRegistry(t, home).Server("gpu1"); ok {
		t.Error("gpu1 still present after remove")
	}
	if _, ok := loadTestRegistry(t, home).Server("kr4"); !ok {
		t.Error("remove dropped an unrelated server")
	}
}

func TestServersAdd_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"duplicate id", []string{"servers", "add", "kr4", "--local"}, "already exists"},
		{"second local", []string{"servers", "add", "lab", "--local"}, "at most one local"},
		{"no type", []string{"servers", "add", "lab"}, "either --local or --host"},
		{"both types", []string{"servers", "add", "lab", "--local", "--host", "h"}, "mutually exclusive"},
		{"remote without key", []string{"servers", "add", "lab", "--host", "h", "--user", "ops"}, "ssh.user and ssh.keyPath"},
		{"bad id", []string{"servers", "add", "Lab!", "--host", "h", "--user", "u", "--key", "k"}, "lowercase token"},
		{"remove unknown", []string{"servers", "remove", "nope"}, "unknown server"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := testutil.CreateRelayHome(t)
			before, _ := os.ReadFile(filepath.Join(home, "config.json"))

			_, err := executeCommand(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want %q", err, tt.want)
			}
			after, _ := os.ReadFile(filepath.Join(home, "config.json"))
			if !bytes.Equal(before, after) {
				t.Error("registry file changed after a rejected update")
			}
		})
	}
}

func TestServersAdd_CreatesRegistry(t *testing.T) {
	home := testutil.CreateTempDir(t)
	t.Setenv("CLAUDE_RELAY_HOME", home)

	if _, err := executeCommand(t, "servers", "add", "kr4", "--local"); err != nil {
		t.Fatalf("add error = %v", err)
	}
	registry := loadTestRegistry(t, home)
	if _, ok := registry.Server("kr4"); !ok {
		t.Error("kr4 missing from new registry")
	}
	if registry.Central().WebhookPort != internal.DefaultWebhookPort {
		t.Errorf("defaults not applied: %+v", registry.Central())
	}
}

func TestDisplayServers_Empty(t *testing.T) {
	var buf bytes.Buffer
	displayServers(&buf, nil)
	if !strings.Contains(buf.String(), "No servers declared") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}
