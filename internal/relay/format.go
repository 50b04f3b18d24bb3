package relay

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iksnae/claude-relay/internal"
)

const helpText = `Claude relay commands:
/sessions - list known sessions
/servers - list configured servers
/cmd <serverId>:<serverNumber> <command> - run a shell command on the session's server
/help - this message

Replying to a notification or a command result with plain text runs it on
that session's server. Edited messages are never run.`

// FormatServers renders the registry for chat
func FormatServers(servers []internal.ServerEntry) string {
	if len(servers) == 0 {
		return "No servers configured."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🖥 %d configured\n", len(servers))
	for _, s := range servers {
		switch s.Type {
		case internal.ServerRemote:
			user := ""
			if s.SSH != nil {
				user = s.SSH.User + "@"
			}
			fmt.Fprintf(&b, "\n• %s (%s) remote %s%s", s.ID, s.DisplayName(), user, s.SSHAddress())
		default:
			fmt.Fprintf(&b, "\n• %s (%s) local", s.ID, s.DisplayName())
		}
	}
	return b.String()
}

// FormatResult renders a dispatch outcome for chat. Every failure class
// is reported with whatever output was captured. The "Session:" line sits
// in the first chunk so a reply to the result continues the session.
func FormatResult(addr internal.Address, command string, result *internal.DispatchResult, err error) string {
	var dispatchErr *internal.DispatchError
	if result == nil && errors.As(err, &dispatchErr) {
		result = dispatchErr.Result
	}

	var b strings.Builder
	switch {
	case err == nil:
		fmt.Fprintf(&b, "✅ %s exit 0", addr)
	case errors.Is(err, internal.ErrTimedOut):
		fmt.Fprintf(&b, "⏱ %s timed out", addr)
	case errors.Is(err, internal.ErrNonZeroExit):
		code := -1
		if result != nil {
			code = result.ExitCode
		}
		fmt.Fprintf(&b, "❌ %s exit %d", addr, code)
	case errors.Is(err, internal.ErrUnreachableHost):
		fmt.Fprintf(&b, "🔌 %s unreachable: %v", addr, rootCause(err))
	default:
		fmt.Fprintf(&b, "⚠️ %s failed: %v", addr, err)
	}
	if result != nil && result.Duration > 0 {
		fmt.Fprintf(&b, " (%s)", result.Duration.Round(10*time.Millisecond))
	}
	fmt.Fprintf(&b, "\n%s%s\n$ %s\n", sessionLinePrefix, addr, command)

	if result == nil {
		return b.String()
	}
	if result.Stdout != "" {
		fmt.Fprintf(&b, "\n%s", ensureNewline(result.Stdout))
	}
	if result.Stderr != "" {
		fmt.Fprintf(&b, "\nstderr:\n%s", ensureNewline(result.Stderr))
	}
	if result.Stdout == "" && result.Stderr == "" && err == nil {
		b.WriteString("\n(no output)\n")
	}
	if result.Truncated {
		b.WriteString("\n[output truncated]\n")
	}
	return b.String()
}

func rootCause(err error) error {
	var dispatchErr *internal.DispatchError
	if errors.As(err, &dispatchErr) && dispatchErr.Err != nil {
		return dispatchErr.Err
	}
	return err
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
