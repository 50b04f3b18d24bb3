package internal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Secrets holds the credentials consumed at process start
type Secrets struct {
	BotToken      string
	SharedSecret  string
	ChatID        int64   // notification target; 0 disables outbound notifications
	AllowedChats  []int64 // operator chats, always includes ChatID
	AllowedUsers  []int64 // optional sender filter
	WebhookSecret string  // optional X-Telegram-Bot-Api-Secret-Token
}

// Env keys
const (
	EnvBotToken      = "TELEGRAM_BOT_TOKEN"
	EnvSharedSecret  = "SHARED_SECRET"
	EnvChatID        = "TELEGRAM_CHAT_ID"
	EnvAllowedChats  = "TELEGRAM_ALLOWED_CHAT_IDS"
	EnvAllowedUsers  = "TELEGRAM_ALLOWED_USER_IDS"
	EnvWebhookSecret = "TELEGRAM_WEBHOOK_SECRET"
)

// ReadEnvFile parses KEY=VALUE lines. Blank lines and # comments are
// skipped, an optional "export " prefix and surrounding quotes are removed.
// A missing file yields an empty map.
func ReadEnvFile(path string) (map[string]string, error) {
	values := make(map[string]string)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		return nil, &ConfigError{Path: path, Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, &ConfigError{Path: path, Err: fmt.Errorf("line %d: expected KEY=VALUE", lineNo)}
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
			value = value[1 : len(value)-1]
		}
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return values, nil
}

// LoadSecrets reads the env file and overlays the process environment.
// Missing TELEGRAM_BOT_TOKEN or SHARED_SECRET is a startup misconfiguration.
func LoadSecrets(path string) (*Secrets, error) {
	values, err := ReadEnvFile(path)
	if err != nil {
		return nil, err
	}
	get := func(key string) string {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v
		}
		return values[key]
	}

	s := &Secrets{
		BotToken:      get(EnvBotToken),
		SharedSecret:  get(EnvSharedSecret),
		WebhookSecret: get(EnvWebhookSecret),
	}

	var missing []string
	if s.BotToken == "" {
		missing = append(missing, EnvBotToken)
	}
	if s.SharedSecret == "" {
		missing = append(missing, EnvSharedSecret)
	}
	if len(missing) > 0 {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("missing required %s", strings.Join(missing, ", "))}
	}

	if raw := get(EnvChatID); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &ConfigError{Path: path, Err: fmt.Errorf("%s: %w", EnvChatID, err)}
		}
		s.ChatID = id
		s.AllowedChats = append(s.AllowedChats, id)
	}
	chats, err := parseIDList(get(EnvAllowedChats))
	if err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("%s: %w", EnvAllowedChats, err)}
	}
	for _, id := range chats {
		if !containsID(s.AllowedChats, id) {
			s.AllowedChats = append(s.AllowedChats, id)
		}
	}
	if s.AllowedUsers, err = parseIDList(get(EnvAllowedUsers)); err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("%s: %w", EnvAllowedUsers, err)}
	}
	return s, nil
}

// IsAllowedSender reports whether a Telegram chat/user pair may issue commands
func (s *Secrets) IsAllowedSender(chatID, userID int64) bool {
	if !containsID(s.AllowedChats, chatID) {
		return false
	}
	if len(s.AllowedUsers) > 0 && !containsID(s.AllowedUsers, userID) {
		return false
	}
	return true
}

func parseIDList(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
