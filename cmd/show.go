package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/iksnae/claude-relay/internal"
	"github.com/iksnae/claude-relay/internal/export"
	"github.com/spf13/cobra"
)

var (
	showToken  bool
	showOutput string
)

var (
	// Styles for show command
	sessionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("212")).
				Padding(0, 1).
				MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Width(14)

	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)
)

// showCmd represents the show command
var showCmd = &cobra.Command{
	Use:   "show <serverId:serverNumber>",
	Short: "Show one session",
	Long: `Display the details of one session, including the server it runs on and
the last command dispatched to it.

The session token is redacted unless --token is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := internal.ParseAddress(args[0])
		if err != nil {
			return err
		}

		store, err := openStoreForRead()
		if err != nil {
			return err
		}
		defer store.Close()

		session, err := store.GetSession(cmd.Context(), addr.ServerID, addr.ServerNumber)
		if errors.Is(err, internal.ErrNotFound) {
			return fmt.Errorf("session not found: %s (use 'claude-relay sessions list' to see available sessions)", addr)
		}
		if err != nil {
			return err
		}

		if showOutput != "" && showOutput != "text" {
			exporter, err := export.NewExporter(showOutput)
			if err != nil {
				return err
			}
			if !showToken {
				redacted := *session
				redacted.Token = internal.RedactToken(session.Token)
				session = &redacted
			}
			return exporter.Export([]*internal.Session{session}, cmd.OutOrStdout())
		}

		var server *internal.ServerEntry
		if paths, err := relayPaths(); err == nil {
			if registry, err := internal.LoadRegistry(paths.ConfigPath); err == nil {
				if entry, ok := registry.Server(session.ServerID); ok {
					server = &entry
				}
			} else {
				internal.LogDebug("Registry unavailable: %v", err)
			}
		}

		displaySession(cmd.OutOrStdout(), session, server, showToken)
		return nil
	},
}

func displaySession(w io.Writer, s *internal.Session, server *internal.ServerEntry, revealToken bool) {
	if s == nil {
		fmt.Fprintln(w, "No session")
		return
	}

	fmt.Fprintln(w, sessionHeaderStyle.Render(fmt.Sprintf("%s Session %s", export.StatusIcon(s.Status), s.Address())))

	field := func(label, value string) {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render(label), value)
	}

	field("Status", string(s.Status))
	if s.Project != "" {
		field("Project", s.Project)
	}
	switch {
	case server == nil:
		field("Server", s.ServerID+" (not in registry)")
	case server.Type == internal.ServerRemote:
		field("Server", fmt.Sprintf("%s, remote %s", server.DisplayName(), server.SSHAddress()))
	default:
		field("Server", fmt.Sprintf("%s, local", server.DisplayName()))
	}
	field("Created", s.CreatedAt.Local().Format(time.DateTime))
	field("Last seen", fmt.Sprintf("%s (%s)", s.LastSeenAt.Local().Format(time.DateTime), humanize.Time(s.LastSeenAt)))

	token := internal.RedactToken(s.Token)
	if revealToken {
		token = s.Token
	}
	field("Token", token)

	if s.LastCommand != "" {
		fmt.Fprintln(w)
		when := ""
		if s.LastCommandAt != nil {
			when = " at " + s.LastCommandAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s%s\n", labelStyle.Render("Last command"), when)
		fmt.Fprintln(w, commandStyle.Render("  $ "+s.LastCommand))
	}
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().BoolVar(&showToken, "token", false, "Print the full session token")
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "text", "Output format (text, json, yaml)")
}
