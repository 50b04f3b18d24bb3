package relay

import (
	"errors"
	"testing"

	"github.com/iksnae/claude-relay/internal"
)

func TestParseCommand(t *testing.T) {
	notification := "✅ Claude Code completed on Workstation\nProject: infra\nSession: kr4:3\n\nReply to this message"

	tests := []struct {
		name    string
		text    string
		replyTo string
		kind    CommandKind
		addr    string
		command string
		errIs   error
	}{
		{name: "help", text: "/help", kind: CommandHelp},
		{name: "start", text: "/start", kind: CommandHelp},
		{name: "sessions", text: "/sessions", kind: CommandSessions},
		{name: "sessions with bot suffix", text: "/sessions@relay_bot", kind: CommandSessions},
		{name: "servers", text: "  /servers  ", kind: CommandServers},
		{name: "dispatch", text: "/cmd kr4:1 echo hello", kind: CommandDispatch, addr: "kr4:1", command: "echo hello"},
		{name: "dispatch keeps command verbatim", text: "/cmd gpu1:12 ls  -la | grep 'a  b'", kind: CommandDispatch, addr: "gpu1:12", command: "ls  -la | grep 'a  b'"},
		{name: "dispatch multiline", text: "/cmd kr4:1\ncd /tmp\npwd", kind: CommandDispatch, addr: "kr4:1", command: "cd /tmp\npwd"},
		{name: "cmd without args", text: "/cmd", kind: CommandInvalid, errIs: errUsage},
		{name: "cmd without command", text: "/cmd kr4:1", kind: CommandInvalid, errIs: errUsage},
		{name: "cmd bad address", text: "/cmd kr4 ls", kind: CommandInvalid, errIs: internal.ErrBadAddress},
		{name: "cmd zero number", text: "/cmd kr4:0 ls", kind: CommandInvalid, errIs: internal.ErrBadAddress},
		{name: "cmd negative number", text: "/cmd kr4:-1 ls", kind: CommandInvalid, errIs: internal.ErrBadAddress},
		{name: "unknown slash command", text: "/reboot", kind: CommandNone},
		{name: "plain text", text: "hello there", kind: CommandNone},
		{name: "empty", text: "   ", kind: CommandNone},
		{name: "reply to notification", text: "git status", replyTo: notification, kind: CommandDispatch, addr: "kr4:3", command: "git status"},
		{name: "reply to other message", text: "git status", replyTo: "just chatting", kind: CommandNone},
		{name: "slash command in reply", text: "/sessions", replyTo: notification, kind: CommandSessions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCommand(tt.text, tt.replyTo)
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %s, want %s", got.Kind, tt.kind)
			}
			if tt.addr != "" && got.Address.String() != tt.addr {
				t.Errorf("Address = %s, want %s", got.Address, tt.addr)
			}
			if got.Command != tt.command {
				t.Errorf("Command = %q, want %q", got.Command, tt.command)
			}
			if tt.errIs != nil && !errors.Is(got.Err, tt.errIs) {
				t.Errorf("Err = %v, want %v", got.Err, tt.errIs)
			}
			if tt.errIs == nil && got.Err != nil {
				t.Errorf("unexpected Err: %v", got.Err)
			}
		})
	}
}

func TestCommandKindString(t *testing.T) {
	if CommandDispatch.String() != "dispatch" || CommandKind(99).String() != "none" {
		t.Errorf("unexpected kind names: %s, %s", CommandDispatch, CommandKind(99))
	}
}
