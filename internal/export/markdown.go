package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/iksnae/claude-relay/internal"
)

// MarkdownExporter exports sessions as a Markdown table. Tokens are
// redacted since the output is meant for sharing.
type MarkdownExporter struct{}

// Export exports sessions to Markdown format
func (e *MarkdownExporter) Export(sessions []*internal.Session, w io.Writer) error {
	_, _ = fmt.Fprintf(w, "# Sessions\n\n")
	_, _ = fmt.Fprintf(w, "**Count:** %d\n\n", len(sessions))

	if len(sessions) == 0 {
		_, _ = fmt.Fprintf(w, "_No sessions._\n")
		return nil
	}

	_, _ = fmt.Fprintf(w, "| Session | Project | Status | Created | Last seen | Token | Last command |\n")
	_, _ = fmt.Fprintf(w, "|---|---|---|---|---|---|---|\n")
	for _, sess := range sessions {
		_, err := fmt.Fprintf(w, "| %s | %s | %s | %s | %s | %s | %s |\n",
			sess.Address(),
			escapeCell(sess.Project),
			sess.Status,
			sess.CreatedAt.UTC().Format(time.RFC3339),
			sess.LastSeenAt.UTC().Format(time.RFC3339),
			internal.RedactToken(sess.Token),
			codeCell(sess.LastCommand),
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// escapeCell keeps a value from breaking the table row
func escapeCell(text string) string {
	text = strings.ReplaceAll(text, "|", "\\|")
	text = strings.ReplaceAll(text, "\n", " ")
	return text
}

func codeCell(command string) string {
	if command == "" {
		return ""
	}
	return "`" + strings.ReplaceAll(escapeCell(command), "`", "'") + "`"
}

// Extension returns the file extension for this format
func (e *MarkdownExporter) Extension() string {
	return "md"
}
