package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/claude-relay/internal"
	"github.com/iksnae/claude-relay/internal/export"
	"github.com/spf13/cobra"
)

var (
	sessionsOutput  string
	sessionsServer  string
	expireOlderThan time.Duration
	expireDryRun    bool
)

var (
	// Styles
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	addressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	projectStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Italic(true)
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List or expire recorded sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sessions",
	Long: `List every session the hub has recorded, oldest first.

Reads work while 'claude-relay serve' is running.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStoreForRead()
		if err != nil {
			return err
		}
		defer store.Close()

		sessions, err := store.ListSessions(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		sessions = filterByServer(sessions, sessionsServer)

		out := cmd.OutOrStdout()
		switch sessionsOutput {
		case "", "table":
			displaySessions(out, sessions, time.Now())
			return nil
		default:
			exporter, err := export.NewExporter(sessionsOutput)
			if err != nil {
				return err
			}
			return exporter.Export(redactTokens(sessions), out)
		}
	},
}

var sessionsExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Delete sessions not seen for a while",
	Long: `Delete sessions whose last activity is older than --older-than.

Session numbers are never reused: the next session on a server continues
from the highest number ever assigned. Expiry needs the writer lock, so
stop 'claude-relay serve' first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if expireOlderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		cutoff := time.Now().Add(-expireOlderThan)

		if expireDryRun {
			store, err := openStoreForRead()
			if err != nil {
				return err
			}
			defer store.Close()
			sessions, err := store.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			n := 0
			for _, s := range sessions {
				if s.LastSeenAt.Before(cutoff) {
					fmt.Fprintf(cmd.OutOrStdout(), "would expire %s (last seen %s)\n", s.Address(), s.LastSeenAt.Local().Format(time.DateTime))
					n++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d session(s) would be expired\n", n)
			return nil
		}

		paths, err := relayPaths()
		if err != nil {
			return err
		}
		store, err := internal.OpenSessionStore(paths.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open session store (is serve running?): %w", err)
		}
		defer store.Close()

		var removed int
		err = internal.ShowProgress(cmd.Context(), "Expiring sessions", func(ctx context.Context) error {
			var expireErr error
			removed, expireErr = store.Expire(ctx, cutoff)
			return expireErr
		})
		if err != nil {
			return err
		}
		internal.PrintSuccess(fmt.Sprintf("Expired %d session(s) last seen before %s", removed, cutoff.Local().Format(time.DateTime)))
		return nil
	},
}

func filterByServer(sessions []*internal.Session, serverID string) []*internal.Session {
	if serverID == "" {
		return sessions
	}
	filtered := make([]*internal.Session, 0, len(sessions))
	for _, s := range sessions {
		if s.ServerID == serverID {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

func displaySessions(w io.Writer, sessions []*internal.Session, now time.Time) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, headerStyle.Render("📋 No sessions found"))
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("📋 Found %d session(s)", len(sessions))))
	fmt.Fprintln(w)

	// Use tabwriter for aligned columns with better spacing
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(tw, titleStyle.Render("Session")+"\t"+titleStyle.Render("Status")+"\t"+titleStyle.Render("Project")+"\t"+titleStyle.Render("Created")+"\t"+titleStyle.Render("Last seen")+"\t"+titleStyle.Render("Last command")+"\t")
	_, _ = fmt.Fprintln(tw, strings.Repeat("─", 100))

	for _, s := range sessions {
		project := dateStyle.Render("—")
		if s.Project != "" {
			project = projectStyle.Render(shorten(s.Project, 25))
		}
		last := dateStyle.Render("—")
		if s.LastCommand != "" {
			last = idStyle.Render(shorten(strings.ReplaceAll(s.LastCommand, "\n", " "), 40))
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			addressStyle.Render(s.Address()),
			export.StatusIcon(s.Status)+" "+string(s.Status),
			project,
			dateStyle.Render(formatWhen(s.CreatedAt, now)),
			dateStyle.Render(export.Age(now.Sub(s.LastSeenAt))+" ago"),
			last,
		)
	}
	_ = tw.Flush()

	fmt.Fprintln(w)
	fmt.Fprintln(w, idStyle.Render("💡 Tip: Reply to a notification, or send ")+
		lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Render("/cmd "+sessions[len(sessions)-1].Address()+" <command>")+
		idStyle.Render(" in Telegram"))
}

// formatWhen renders a timestamp relative to now, coarser the older it is
func formatWhen(t, now time.Time) string {
	if t.IsZero() {
		return "—"
	}
	t = t.Local()
	diff := now.Sub(t)
	switch {
	case diff < 24*time.Hour:
		return t.Format("Today 15:04")
	case diff < 7*24*time.Hour:
		return t.Format("Mon 15:04")
	case diff < 365*24*time.Hour:
		return t.Format("Jan 02 15:04")
	default:
		return t.Format("2006-01-02")
	}
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsExpireCmd)

	sessionsListCmd.Flags().StringVarP(&sessionsOutput, "output", "o", "table", "Output format (table, json, jsonl, yaml, md, chat)")
	sessionsListCmd.Flags().StringVar(&sessionsServer, "server", "", "Only show sessions of this server id")

	sessionsExpireCmd.Flags().DurationVar(&expireOlderThan, "older-than", 30*24*time.Hour, "Expire sessions last seen before this long ago")
	sessionsExpireCmd.Flags().BoolVar(&expireDryRun, "dry-run", false, "Only list what would be expired")
}
