package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/claude-relay/internal"
	"github.com/iksnae/claude-relay/internal/telegram"
	"github.com/spf13/cobra"
)

var (
	healthcheckDetails bool
	healthcheckOffline bool
)

var (
	successStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)

	warningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214")).
		Bold(true)

	errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")).
		Bold(true)

	infoStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("39"))

	sectionStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("62")).
		Bold(true).
		Underline(true)
)

// healthReport accumulates the outcome of each step
type healthReport struct {
	w        io.Writer
	failures int
	warnings int
}

func (r *healthReport) step(n int, msg string) {
	fmt.Fprintln(r.w, infoStyle.Render(fmt.Sprintf("Step %d: %s...", n, msg)))
}

func (r *healthReport) ok(msg string) {
	fmt.Fprintln(r.w, successStyle.Render("✅ "+msg))
}

func (r *healthReport) warn(msg string) {
	r.warnings++
	fmt.Fprintln(r.w, warningStyle.Render("⚠️  "+msg))
}

func (r *healthReport) fail(msg string, err error) {
	r.failures++
	fmt.Fprintln(r.w, errorStyle.Render("❌ "+msg+":"), err)
}

func (r *healthReport) detail(format string, args ...interface{}) {
	if healthcheckDetails {
		fmt.Fprintf(r.w, "   "+format+"\n", args...)
	}
}

// healthcheckCmd represents the healthcheck command
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check that the hub is configured and reachable",
	Long: `Check the health of claude-relay by verifying:
  • Secrets file (bot token, shared secret, chat id)
  • Server registry
  • Session database
  • Telegram bot credentials (skipped with --offline)
  • A running hub's /health endpoint (skipped with --offline)`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHealthcheck(cmd.Context(), cmd.OutOrStdout())
	},
}

func runHealthcheck(ctx context.Context, w io.Writer) error {
	r := &healthReport{w: w}
	fmt.Fprintln(w, sectionStyle.Render("🔍 Claude Relay Health Check"))
	fmt.Fprintln(w)

	paths, err := relayPaths()
	if err != nil {
		return err
	}
	r.detail("Base directory: %s", paths.BaseDir)

	// Step 1: Secrets
	r.step(1, "Loading secrets")
	secrets, err := internal.LoadSecrets(paths.EnvPath)
	if err != nil {
		r.fail("Secrets unusable", err)
	} else {
		r.ok("Bot token and shared secret present")
		r.detail("Env file: %s", paths.EnvPath)
		r.detail("Bot token: %s", internal.RedactToken(secrets.BotToken))
		if secrets.ChatID == 0 {
			r.warn(internal.EnvChatID + " not set, notifications are disabled")
		} else {
			r.detail("Notification chat: %d", secrets.ChatID)
		}
		if secrets.WebhookSecret == "" {
			r.detail("No webhook secret token configured")
		}
	}
	fmt.Fprintln(w)

	// Step 2: Registry
	r.step(2, "Reading server registry")
	central := internal.CentralConfig{NotificationPort: internal.DefaultNotificationPort}
	registry, err := internal.LoadRegistry(paths.ConfigPath)
	if err != nil {
		r.fail("Registry unusable", err)
	} else {
		central = registry.Central()
		servers := registry.Servers()
		if len(servers) == 0 {
			r.warn("No servers declared")
		} else {
			r.ok(fmt.Sprintf("%d server(s) declared", len(servers)))
		}
		for _, s := range servers {
			r.detail("%s (%s) %s", s.ID, s.DisplayName(), s.Type)
		}
		r.detail("Ports: notifications %d, webhook %d", central.NotificationPort, central.WebhookPort)
	}
	fmt.Fprintln(w)

	// Step 3: Session store
	r.step(3, "Opening session database")
	if !paths.DatabaseExists() {
		r.warn("Session database not created yet (start 'claude-relay serve')")
		r.detail("Expected: %s", paths.DatabasePath)
	} else if store, err := internal.OpenSessionStoreReadOnly(paths.DatabasePath); err != nil {
		r.fail("Session database unusable", err)
	} else {
		if err := store.Ping(ctx); err != nil {
			r.fail("Session database unreachable", err)
		} else if count, err := store.Count(ctx); err != nil {
			r.fail("Failed to read sessions", err)
		} else {
			r.ok(fmt.Sprintf("Session database readable, %d session(s)", count))
		}
		_ = store.Close()
	}
	fmt.Fprintln(w)

	if !healthcheckOffline {
		// Step 4: Telegram
		r.step(4, "Contacting Telegram")
		if secrets == nil {
			r.warn("Skipped, no bot token")
		} else {
			checkCtx, cancel := context.WithTimeout(ctx, telegram.DefaultTimeout)
			me, err := newBotClient(secrets.BotToken).GetMe(checkCtx)
			cancel()
			if err != nil {
				r.fail("Telegram rejected the bot token", err)
			} else {
				r.ok("Bot @" + me.Username + " is reachable")
			}
		}
		fmt.Fprintln(w)

		// Step 5: Running hub
		r.step(5, "Probing running hub")
		status, err := probeHealth(ctx, central)
		switch {
		case err != nil:
			r.warn("Hub not reachable: " + err.Error())
		case status.Status == "ok":
			r.ok(fmt.Sprintf("Hub up %s, %d session(s)", status.Uptime, status.Sessions))
		default:
			r.warn(fmt.Sprintf("Hub reports %s (store %s)", status.Status, status.Store))
		}
		fmt.Fprintln(w)
	}

	// Summary
	fmt.Fprintln(w, sectionStyle.Render("📊 Summary"))
	fmt.Fprintln(w)
	switch {
	case r.failures > 0:
		fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("❌ Health check failed (%d problem(s))", r.failures)))
		return fmt.Errorf("health check failed: %d problem(s)", r.failures)
	case r.warnings > 0:
		fmt.Fprintln(w, warningStyle.Render(fmt.Sprintf("⚠️  Health check passed with %d warning(s)", r.warnings)))
	default:
		fmt.Fprintln(w, successStyle.Render("✅ Health check passed!"))
	}
	return nil
}

type hubHealth struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	Sessions int    `json:"sessions"`
	Uptime   string `json:"uptime"`
}

func probeHealth(ctx context.Context, central internal.CentralConfig) (*hubHealth, error) {
	host := central.BindAddress
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	url := "http://" + listenAddr(host, central.NotificationPort) + "/health"

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var health hubHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("invalid /health response (HTTP %d): %w", resp.StatusCode, err)
	}
	return &health, nil
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
	healthcheckCmd.Flags().BoolVarP(&healthcheckDetails, "details", "d", false, "Show detailed diagnostic information")
	healthcheckCmd.Flags().BoolVar(&healthcheckOffline, "offline", false, "Skip the Telegram and running-hub checks")
}
