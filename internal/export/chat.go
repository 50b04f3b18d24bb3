package export

import (
	"fmt"
	"io"
	"time"

	"github.com/iksnae/claude-relay/internal"
)

// ChatExporter renders sessions as plain text for a Telegram reply.
// Tokens are never included.
type ChatExporter struct {
	// Now anchors relative ages; time.Now when nil
	Now func() time.Time
}

// Export writes one line per session with its age
func (e *ChatExporter) Export(sessions []*internal.Session, w io.Writer) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions yet.")
		return err
	}

	now := time.Now()
	if e.Now != nil {
		now = e.Now()
	}

	noun := "sessions"
	if len(sessions) == 1 {
		noun = "session"
	}
	if _, err := fmt.Fprintf(w, "📋 %d %s\n", len(sessions), noun); err != nil {
		return err
	}
	for _, sess := range sessions {
		project := sess.Project
		if project == "" {
			project = "-"
		}
		_, _ = fmt.Fprintf(w, "\n%s %s · %s · %s ago\n", StatusIcon(sess.Status), sess.Address(), project, Age(now.Sub(sess.LastSeenAt)))
		if sess.LastCommand != "" {
			_, _ = fmt.Fprintf(w, "   last: %s\n", truncate(sess.LastCommand, 60))
		}
	}
	return nil
}

// Extension returns the file extension for this format
func (e *ChatExporter) Extension() string {
	return "txt"
}

// StatusIcon maps a session status to the emoji used in chat
func StatusIcon(status internal.SessionStatus) string {
	switch status {
	case internal.StatusRunning:
		return "⏳"
	case internal.StatusFailed:
		return "❌"
	default:
		return "✅"
	}
}

// Age renders a duration coarsely: 45s, 12m, 3h, 2d
func Age(d time.Duration) string {
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
