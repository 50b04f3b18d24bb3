package cmd

import (
	"fmt"
	"os"

	"github.com/iksnae/claude-relay/internal"
	"github.com/iksnae/claude-relay/internal/telegram"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
	envPath    string
	dbPath     string
	version    string = "dev"
	commit     string = "unknown"
	date       string = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "claude-relay",
	Short: "Relay Claude Code notifications to Telegram and commands back",
	Long: `A hub that aggregates Claude Code completion notifications from your
machines into one Telegram chat, and runs the commands you reply with on
the machine that reported.

Execution hosts POST to /notify when a session finishes. Each session gets
a short address like kr4:3; reply to its notification, or send
"/cmd kr4:3 <command>", to run a shell command there (locally or over SSH).

Quick Start:
  claude-relay servers add kr4 --local     # Declare this machine
  claude-relay serve                       # Run the hub
  claude-relay sessions list               # See what has reported
  claude-relay webhook register            # Point Telegram at the tunnel

Files live in ~/.claude-relay (override with CLAUDE_RELAY_HOME):
  config.json   server registry (JSON, comments allowed)
  .env          TELEGRAM_BOT_TOKEN, SHARED_SECRET, TELEGRAM_CHAT_ID
  sessions.db   session store`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		internal.SetVerbose(verbose)
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Server registry file (default ~/.claude-relay/config.json)")
	rootCmd.PersistentFlags().StringVar(&envPath, "env-file", "", "Secrets file (default ~/.claude-relay/.env)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Session database (default ~/.claude-relay/sessions.db)")

	// Set version template to ensure --version flag works
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.SilenceErrors = true
}

// newBotClient builds the Telegram client; tests point it at a fake API
var newBotClient = telegram.NewClient

func relayPaths() (internal.RelayPaths, error) {
	paths, err := internal.GetRelayPaths(configPath, envPath, dbPath)
	if err != nil {
		return internal.RelayPaths{}, fmt.Errorf("failed to resolve paths: %w", err)
	}
	return paths, nil
}

// openStoreForRead opens the session database without taking the writer
// lock, so reads work while serve is running
func openStoreForRead() (*internal.SessionStore, error) {
	paths, err := relayPaths()
	if err != nil {
		return nil, err
	}
	if !paths.DatabaseExists() {
		return nil, fmt.Errorf("no session database at %s (has 'claude-relay serve' run yet?)", paths.DatabasePath)
	}
	store, err := internal.OpenSessionStoreReadOnly(paths.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return store, nil
}
