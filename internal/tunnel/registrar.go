// Package tunnel discovers the public ngrok URL and points the Telegram
// webhook at it.
package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iksnae/claude-relay/internal"
)

// WebhookPath is where the command server accepts Telegram updates
const WebhookPath = "/webhook/telegram"

// Polling defaults
const (
	DefaultAttempts = 15
	DefaultInterval = time.Second
	DefaultTimeout  = 5 * time.Second
)

// WebhookSetter registers the webhook URL. *telegram.Client satisfies it.
type WebhookSetter interface {
	SetWebhook(ctx context.Context, webhookURL, secretToken string) error
}

// Tunnel is one entry of the ngrok agent's /api/tunnels listing
type Tunnel struct {
	Name      string `json:"name"`
	PublicURL string `json:"public_url"`
	Proto     string `json:"proto"`
}

type tunnelList struct {
	Tunnels []Tunnel `json:"tunnels"`
}

// Registrar polls the ngrok agent API and calls setWebhook once a public
// URL is available
type Registrar struct {
	APIURL      string
	Webhook     WebhookSetter
	SecretToken string
	Attempts    int
	Interval    time.Duration
	HTTP        *http.Client
}

// NewRegistrar creates a registrar with the default polling schedule
func NewRegistrar(apiURL string, webhook WebhookSetter, secretToken string) *Registrar {
	if apiURL == "" {
		apiURL = internal.DefaultNgrokAPIURL
	}
	return &Registrar{
		APIURL:      apiURL,
		Webhook:     webhook,
		SecretToken: secretToken,
		Attempts:    DefaultAttempts,
		Interval:    DefaultInterval,
		HTTP:        &http.Client{Timeout: DefaultTimeout},
	}
}

// Register waits for the tunnel and sets the webhook, returning the URL
// that was registered. Exhausted attempts yield ErrTunnelUnavailable.
func (r *Registrar) Register(ctx context.Context) (string, error) {
	public, err := r.WaitForTunnel(ctx)
	if err != nil {
		return "", err
	}
	webhookURL := WebhookURL(public)
	if err := r.Webhook.SetWebhook(ctx, webhookURL, r.SecretToken); err != nil {
		return "", fmt.Errorf("set webhook %s: %w", webhookURL, err)
	}
	internal.LogInfo("Telegram webhook set to %s", webhookURL)
	return webhookURL, nil
}

// WaitForTunnel polls until the agent reports a public URL
func (r *Registrar) WaitForTunnel(ctx context.Context) (string, error) {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		public, err := r.PublicURL(ctx)
		if err == nil {
			return public, nil
		}
		lastErr = err
		internal.LogDebug("Tunnel not ready (attempt %d/%d): %v", attempt, attempts, err)

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", internal.ErrTunnelUnavailable, ctx.Err())
		case <-time.After(r.Interval):
		}
	}
	return "", fmt.Errorf("%w after %d attempts: %v", internal.ErrTunnelUnavailable, attempts, lastErr)
}

// PublicURL asks the agent once, preferring an https tunnel
func (r *Registrar) PublicURL(ctx context.Context) (string, error) {
	client := r.HTTP
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(r.APIURL, "/")+"/api/tunnels", nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ngrok API returned %s", resp.Status)
	}
	var list tunnelList
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&list); err != nil {
		return "", fmt.Errorf("decode tunnels: %w", err)
	}
	return selectPublicURL(list.Tunnels)
}

func selectPublicURL(tunnels []Tunnel) (string, error) {
	fallback := ""
	for _, t := range tunnels {
		switch {
		case strings.HasPrefix(t.PublicURL, "https://"):
			return t.PublicURL, nil
		case fallback == "" && t.PublicURL != "":
			fallback = t.PublicURL
		}
	}
	if fallback == "" {
		return "", errors.New("no tunnels reported")
	}
	return fallback, nil
}

// WebhookURL appends the webhook path to a public base URL
func WebhookURL(public string) string {
	return strings.TrimRight(public, "/") + WebhookPath
}
