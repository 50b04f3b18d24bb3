package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/iksnae/claude-relay/internal"
	"github.com/iksnae/claude-relay/internal/dispatch"
	"github.com/iksnae/claude-relay/internal/relay"
	"github.com/iksnae/claude-relay/internal/tunnel"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var (
	serveNoWatch bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the notification aggregator and Telegram command server",
	Long: `Run the hub. Two HTTP listeners are started:

  notificationPort   POST /notify, GET /health, GET /sessions
  webhookPort        POST /webhook/telegram, POST /command, GET /health

When central.ngrokEnabled is set, the public tunnel URL is discovered from
the local ngrok agent and registered as the Telegram webhook in the
background. The registry file is watched and reloaded on change.

SIGINT or SIGTERM stops accepting requests and waits for in-flight
commands to finish.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	paths, err := relayPaths()
	if err != nil {
		return err
	}
	secrets, err := internal.LoadSecrets(paths.EnvPath)
	if err != nil {
		return err
	}
	registry, err := internal.LoadRegistry(paths.ConfigPath)
	if err != nil {
		return err
	}
	if len(registry.Servers()) == 0 {
		internal.LogWarn("No servers declared in %s; every /notify will be rejected", paths.ConfigPath)
	}

	store, err := internal.OpenSessionStore(paths.DatabasePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			internal.LogWarn("Failed to close session store: %v", err)
		}
	}()

	central := registry.Central()
	router := dispatch.New(dispatch.OptionsFromConfig(central))
	defer router.Close()

	bot := newBotClient(secrets.BotToken)
	hub := &relay.Hub{
		Registry:   registry,
		Store:      store,
		Dispatcher: router,
		Notifier:   bot,
		Secrets:    *secrets,
		Started:    time.Now(),
	}
	if secrets.ChatID == 0 {
		internal.LogWarn("%s not set; session notifications are disabled", internal.EnvChatID)
	}

	servers := []*http.Server{
		newHTTPServer(listenAddr(central.BindAddress, central.NotificationPort), relay.NewAggregator(hub)),
		newHTTPServer(listenAddr(central.BindAddress, central.WebhookPort), relay.NewCommandServer(hub)),
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			shutdownAll(servers)
			return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
		}
		internal.LogInfo("Listening on %s", srv.Addr)
		go func(srv *http.Server) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	if !serveNoWatch {
		go func() {
			err := registry.Watch(ctx, func(err error) {
				if err == nil {
					router.Configure(dispatch.OptionsFromConfig(registry.Central()))
				}
			})
			if err != nil {
				internal.LogWarn("Registry watch stopped: %v", err)
			}
		}()
	}

	if central.NgrokEnabled {
		registrar := tunnel.NewRegistrar(central.NgrokAPIURL, bot, secrets.WebhookSecret)
		hub.Go(func() {
			if _, err := registrar.Register(ctx); err != nil {
				internal.LogError("Webhook registration failed, commands will not arrive until 'claude-relay webhook register' succeeds: %v", err)
			}
		})
	}

	internal.LogInfo("Hub running with %d server(s)", len(registry.Servers()))

	var runErr error
	select {
	case <-ctx.Done():
		internal.LogInfo("Shutting down")
	case runErr = <-errCh:
		internal.LogError("%v", runErr)
	}

	shutdownAll(servers)
	hub.Wait()
	return runErr
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

func listenAddr(bind string, port int) string {
	return net.JoinHostPort(bind, strconv.Itoa(port))
}

func shutdownAll(servers []*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			internal.LogWarn("Shutdown %s: %v", srv.Addr, err)
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Do not reload the registry when its file changes")
}
