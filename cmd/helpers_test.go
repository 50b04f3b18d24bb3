package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/iksnae/claude-relay/internal"
	"github.com/iksnae/claude-relay/internal/telegram"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// resetFlags restores every flag to its default; cobra keeps parsed
// values between Execute calls
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// executeCommand runs the CLI and returns everything written to stdout
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	internal.SetConsoleOutput(&out, &errOut)
	internal.SetLogOutput(&errOut)
	t.Cleanup(func() {
		internal.SetConsoleOutput(os.Stdout, os.Stderr)
		internal.SetLogOutput(os.Stderr)
	})

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// seedSessions creates n sessions for serverID in the relay home database
func seedSessions(t *testing.T, home, serverID string, n int) []*internal.Session {
	t.Helper()
	store, err := internal.OpenSessionStore(filepath.Join(home, "sessions.db"))
	if err != nil {
		t.Fatalf("OpenSessionStore failed: %v", err)
	}
	defer store.Close()

	var sessions []*internal.Session
	for i := 0; i < n; i++ {
		s, err := store.CreateSession(context.Background(), serverID, fmt.Sprintf("project-%d", i+1), internal.StatusCompleted)
		if err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		sessions = append(sessions, s)
	}
	return sessions
}

type botCall struct {
	Method string
	Form   url.Values
}

// fakeBotAPI answers every Bot API method with result and records calls
type fakeBotAPI struct {
	mu     sync.Mutex
	calls  []botCall
	result map[string]string
}

func (b *fakeBotAPI) Calls() []botCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]botCall(nil), b.calls...)
}

// useFakeBot routes newBotClient to an httptest server for the test
func useFakeBot(t *testing.T, results map[string]string) *fakeBotAPI {
	t.Helper()
	bot := &fakeBotAPI{result: results}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		bot.mu.Lock()
		bot.calls = append(bot.calls, botCall{Method: method, Form: r.PostForm})
		result, ok := bot.result[method]
		bot.mu.Unlock()
		if !ok {
			result = "true"
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"ok":true,"result":%s}`, result)
	}))
	t.Cleanup(srv.Close)

	orig := newBotClient
	newBotClient = func(token string) *telegram.Client {
		c := orig(token)
		c.BaseURL = srv.URL
		return c
	}
	t.Cleanup(func() { newBotClient = orig })
	return bot
}
