package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/iksnae/claude-relay/internal"
	"github.com/iksnae/claude-relay/internal/tunnel"
	"github.com/spf13/cobra"
)

var (
	webhookURL         string
	webhookNgrokAPI    string
	webhookAttempts    int
	webhookDropPending bool
)

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Manage the Telegram webhook registration",
}

var webhookRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Point the Telegram webhook at this hub",
	Long: `Register the Telegram webhook. By default the public URL is discovered from
the local ngrok agent (central.ngrokApiUrl); --url registers a fixed public
base URL instead. Registering the same URL again is harmless.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secrets, central, err := loadWebhookConfig()
		if err != nil {
			return err
		}
		bot := newBotClient(secrets.BotToken)

		var registered string
		err = internal.ShowProgress(cmd.Context(), "Registering Telegram webhook", func(ctx context.Context) error {
			if webhookURL != "" {
				registered = tunnel.WebhookURL(webhookURL)
				return bot.SetWebhook(ctx, registered, secrets.WebhookSecret)
			}
			apiURL := central.NgrokAPIURL
			if webhookNgrokAPI != "" {
				apiURL = webhookNgrokAPI
			}
			registrar := tunnel.NewRegistrar(apiURL, bot, secrets.WebhookSecret)
			if webhookAttempts > 0 {
				registrar.Attempts = webhookAttempts
			}
			var regErr error
			registered, regErr = registrar.Register(ctx)
			return regErr
		})
		if err != nil {
			return err
		}
		internal.PrintSuccess("Webhook registered: " + registered)
		return nil
	},
}

var webhookInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the current Telegram webhook registration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secrets, _, err := loadWebhookConfig()
		if err != nil {
			return err
		}
		info, err := newBotClient(secrets.BotToken).GetWebhookInfo(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		url := info.URL
		if url == "" {
			url = warningStyle.Render("(not set)")
		}
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render("URL"), url)
		fmt.Fprintf(out, "%s %d\n", labelStyle.Render("Pending"), info.PendingUpdateCount)
		if info.IPAddress != "" {
			fmt.Fprintf(out, "%s %s\n", labelStyle.Render("IP address"), info.IPAddress)
		}
		if info.MaxConnections > 0 {
			fmt.Fprintf(out, "%s %d\n", labelStyle.Render("Connections"), info.MaxConnections)
		}
		if info.LastErrorMessage != "" {
			when := time.Unix(info.LastErrorDate, 0).Local().Format(time.DateTime)
			fmt.Fprintf(out, "%s %s (%s)\n", labelStyle.Render("Last error"), errorStyle.Render(info.LastErrorMessage), when)
		}
		return nil
	},
}

var webhookDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the Telegram webhook registration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secrets, _, err := loadWebhookConfig()
		if err != nil {
			return err
		}
		if err := newBotClient(secrets.BotToken).DeleteWebhook(cmd.Context(), webhookDropPending); err != nil {
			return err
		}
		internal.PrintSuccess("Webhook deleted")
		return nil
	},
}

// loadWebhookConfig reads secrets and, when available, the hub settings.
// A missing registry falls back to defaults.
func loadWebhookConfig() (*internal.Secrets, internal.CentralConfig, error) {
	central := internal.CentralConfig{NgrokAPIURL: internal.DefaultNgrokAPIURL}
	paths, err := relayPaths()
	if err != nil {
		return nil, central, err
	}
	secrets, err := internal.LoadSecrets(paths.EnvPath)
	if err != nil {
		return nil, central, err
	}
	if registry, err := internal.LoadRegistry(paths.ConfigPath); err == nil {
		central = registry.Central()
	} else {
		internal.LogDebug("Using default hub settings: %v", err)
	}
	return secrets, central, nil
}

func init() {
	rootCmd.AddCommand(webhookCmd)
	webhookCmd.AddCommand(webhookRegisterCmd, webhookInfoCmd, webhookDeleteCmd)

	webhookRegisterCmd.Flags().StringVar(&webhookURL, "url", "", "Public base URL to register instead of asking ngrok")
	webhookRegisterCmd.Flags().StringVar(&webhookNgrokAPI, "ngrok-api", "", "ngrok agent API URL (default from registry)")
	webhookRegisterCmd.Flags().IntVar(&webhookAttempts, "attempts", tunnel.DefaultAttempts, "Polls of the ngrok agent before giving up")
	webhookDeleteCmd.Flags().BoolVar(&webhookDropPending, "drop-pending", false, "Discard updates Telegram has queued")
}
