package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultBaseURL is the public Bot API endpoint
	DefaultBaseURL = "https://api.telegram.org"
	// DefaultTimeout bounds every Bot API call
	DefaultTimeout = 10 * time.Second
	// MaxMessageLength leaves headroom under Telegram's 4096 character limit
	MaxMessageLength = 4000

	maxResponseSize int64 = 1 << 20
)

// Client provides Telegram Bot API functionality
type Client struct {
	BotToken string
	BaseURL  string
	HTTP     *http.Client
}

// NewClient creates a new Telegram client
func NewClient(botToken string) *Client {
	return &Client{
		BotToken: botToken,
		BaseURL:  DefaultBaseURL,
		HTTP:     &http.Client{Timeout: DefaultTimeout},
	}
}

// API calls a Telegram Bot API method
func (c *Client) API(ctx context.Context, method string, params url.Values) (*Response, error) {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	apiURL := fmt.Sprintf("%s/bot%s/%s", strings.TrimRight(base, "/"), c.BotToken, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of errors.
		return nil, fmt.Errorf("telegram %s: %w", method, scrubURLError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("telegram %s: reading response: %w", method, err)
	}
	var result Response
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("telegram %s: HTTP %d: invalid response: %w", method, resp.StatusCode, err)
	}
	if !result.OK {
		return &result, &APIError{Method: method, Code: result.ErrorCode, Description: result.Description}
	}
	return &result, nil
}

// SendMessage sends text to a chat, split into MaxMessageLength chunks.
// Each chunk gets one immediate retry.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.SendReply(ctx, chatID, 0, text)
}

// SendReply is SendMessage threaded under replyTo (0 for none)
func (c *Client) SendReply(ctx context.Context, chatID int64, replyTo int, text string) error {
	messages := SplitMessage(text, MaxMessageLength)

	for i, msg := range messages {
		params := url.Values{
			"chat_id": {strconv.FormatInt(chatID, 10)},
			"text":    {msg},
		}
		if replyTo > 0 && i == 0 {
			params.Set("reply_to_message_id", strconv.Itoa(replyTo))
			params.Set("allow_sending_without_reply", "true")
		}

		if _, err := c.API(ctx, "sendMessage", params); err != nil {
			if _, err = c.API(ctx, "sendMessage", params); err != nil {
				return fmt.Errorf("send part %d/%d: %w", i+1, len(messages), err)
			}
		}

		// Small delay between messages to maintain order
		if len(messages) > 1 && i < len(messages)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
	return nil
}

// SetWebhook points Telegram at url. Repeating the call with the same
// arguments succeeds. Only new messages are subscribed; edits are not
// delivered.
func (c *Client) SetWebhook(ctx context.Context, webhookURL, secretToken string) error {
	params := url.Values{
		"url":             {webhookURL},
		"allowed_updates": {`["message"]`},
	}
	if secretToken != "" {
		params.Set("secret_token", secretToken)
	}
	_, err := c.API(ctx, "setWebhook", params)
	return err
}

// DeleteWebhook removes the webhook registration, optionally discarding
// queued updates
func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	params := url.Values{}
	if dropPending {
		params.Set("drop_pending_updates", "true")
	}
	_, err := c.API(ctx, "deleteWebhook", params)
	return err
}

// GetWebhookInfo reports the current webhook registration
func (c *Client) GetWebhookInfo(ctx context.Context) (*WebhookInfo, error) {
	result, err := c.API(ctx, "getWebhookInfo", url.Values{})
	if err != nil {
		return nil, err
	}
	var info WebhookInfo
	if err := json.Unmarshal(result.Result, &info); err != nil {
		return nil, fmt.Errorf("failed to parse webhook info: %w", err)
	}
	return &info, nil
}

// GetMe returns the bot's own user, which validates the token
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	result, err := c.API(ctx, "getMe", url.Values{})
	if err != nil {
		return nil, err
	}
	var me User
	if err := json.Unmarshal(result.Result, &me); err != nil {
		return nil, fmt.Errorf("failed to parse getMe result: %w", err)
	}
	return &me, nil
}

// SplitMessage splits a long message into chunks of at most maxLen bytes,
// preferring newline then space boundaries and never cutting a UTF-8
// sequence.
func SplitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var messages []string
	remaining := text

	for len(remaining) > 0 {
		if len(remaining) <= maxLen {
			messages = append(messages, remaining)
			break
		}

		splitAt := maxLen
		for splitAt > 0 && !utf8.RuneStart(remaining[splitAt]) {
			splitAt--
		}
		if splitAt == 0 {
			splitAt = maxLen
		}

		if idx := strings.LastIndex(remaining[:splitAt], "\n"); idx > maxLen/2 {
			splitAt = idx + 1
		} else if idx := strings.LastIndex(remaining[:splitAt], " "); idx > maxLen/2 {
			splitAt = idx + 1
		}

		if chunk := strings.TrimRight(remaining[:splitAt], " \n"); chunk != "" {
			messages = append(messages, chunk)
		}
		remaining = remaining[splitAt:]
	}

	return messages
}

func scrubURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}
