package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/iksnae/claude-relay/internal"
	"github.com/iksnae/claude-relay/testutil"
)

func TestSessionsList(t *testing.T) {
	home := testutil.CreateRelayHome(t)
	seeded := seedSessions(t, home, "kr4", 2)
	seedSessions(t, home, "gpu1", 1)

	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant []string
	}{
		{
			name:    "table",
			args:    []string{"sessions", "list"},
			want:    []string{"Found 3 session(s)", "kr4:1", "kr4:2", "gpu1:1", "project-2"},
			notWant: []string{seeded[0].Token},
		},
		{
			name:    "filtered by server",
			args:    []string{"sessions", "list", "--server", "gpu1"},
			want:    []string{"Found 1 session(s)", "gpu1:1"},
			notWant: []string{"kr4:1"},
		},
		{
			name: "chat format",
			args: []string{"sessions", "list", "-o", "chat"},
			want: []string{"📋 3 sessions", "kr4:2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := executeCommand(t, tt.args...)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("output unexpectedly contains %q", w)
				}
			}
		})
	}
}

func TestSessionsList_JSON(t *testing.T) {
	home := testutil.CreateRelayHome(t)
	seedSessions(t, home, "kr4", 2)

	out, err := executeCommand(t, "sessions", "list", "-o", "json")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	var list struct {
		Count    int                 `json:"count"`
		Sessions []*internal.Session `json:"sessions"`
	}
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if list.Count != 2 || list.Sessions[1].Address() != "kr4:2" {
		t.Errorf("unexpected list: %+v", list)
	}
}

func TestSessionsList_Errors(t *testing.T) {
	tests := []struct {
		name string
		seed bool
		args []string
		want string
	}{
		{"no database", false, []string{"sessions", "list"}, "no session database"},
		{"bad format", true, []string{"sessions", "list", "-o", "xml"}, "unsupported format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := testutil.CreateRelayHome(t)
			if tt.seed {
				seedSessions(t, home, "kr4", 1)
			}
			_, err := executeCommand(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestSessionsExpire(t *testing.T) {
	home := testutil.CreateRelayHome(t)
	seedSessions(t, home, "kr4", 3)
	time.Sleep(5 * time.Millisecond)

	out, err := executeCommand(t, "sessions", "expire", "--older-than", "1ms", "--dry-run")
	if err != nil {
		t.Fatalf("dry run error = %v", err)
	}
	if !strings.Contains(out, "3 session(s) would be expired") {
		t.Errorf("unexpected dry-run output:\n%s", out)
	}

	out, err = executeCommand(t, "sessions", "expire", "--older-than", "1ms")
	if err != nil {
		t.Fatalf("expire error = %v", err)
	}
	if !strings.Contains(out, "Expired 3 session(s)") {
		t.Errorf("unexpected output:\n%s", out)
	}

	// Numbers continue after expiry
	next := seedSessions(t, home, "kr4", 1)
	if next[0].ServerNumber != 4 {
		t.Errorf("next number = %d, want 4", next[0].ServerNumber)
	}
}

func TestSessionsExpire_RejectsNonPositive(t *testing.T) {
	testutil.CreateRelayHome(t)
	if _, err := executeCommand(t, "sessions", "expire", "--older-than", "0s"); err == nil {
		t.Error("expected error for --older-than 0s")
	}
}

func TestDisplaySessions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := now.Add(-time.Hour)

	tests := []struct {
		name     string
		sessions []*internal.Session
		want     []string
	}{
		{
			name:     "empty",
			sessions: nil,
			want:     []string{"No sessions found"},
		},
		{
			name: "with last command",
			sessions: []*internal.Session{
				{ServerID: "kr4", ServerNumber: 1, Project: "infra", Status: internal.StatusFailed,
					CreatedAt: at, LastSeenAt: at, LastCommand: "make test\nmake lint", LastCommandAt: &at},
			},
			want: []string{"kr4:1", "failed", "infra", "1h ago", "make test make lint", "/cmd kr4:1 <command>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			displaySessions(&buf, tt.sessions, now)
			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("output missing %q:\n%s", w, buf.String())
				}
			}
		})
	}
}

func TestFormatWhen(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"zero", time.Time{}, "—"},
		{"today", now.Add(-time.Hour), "Today"},
		{"old", now.AddDate(-2, 0, 0), now.AddDate(-2, 0, 0).Local().Format("2006-01-02")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatWhen(tt.t, now); !strings.Contains(got, tt.want) {
				t.Errorf("formatWhen() = %q, want %q", got, tt.want)
			}
		})
	}
}
