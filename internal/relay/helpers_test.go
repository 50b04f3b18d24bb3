package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/iksnae/claude-relay/internal"
	"github.com/iksnae/claude-relay/internal/dispatch"
	"github.com/iksnae/claude-relay/testutil"
)

const (
	testSecret = "test-secret"
	testChat   = int64(1001)
)

type sentMessage struct {
	ChatID  int64
	ReplyTo int
	Text    string
}

// fakeNotifier records outbound chat messages
type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeNotifier) SendMessage(ctx context.Context, chatID int64, text string) error {
	return f.SendReply(ctx, chatID, 0, text)
}

func (f *fakeNotifier) SendReply(_ context.Context, chatID int64, replyTo int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{ChatID: chatID, ReplyTo: replyTo, Text: text})
	return f.err
}

func (f *fakeNotifier) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

// countingDispatcher wraps a real dispatcher and counts calls
type countingDispatcher struct {
	mu      sync.Mutex
	calls   []string
	wrapped dispatch.Dispatcher
}

func (d *countingDispatcher) Execute(ctx context.Context, target internal.ServerEntry, command string) (*internal.DispatchResult, error) {
	d.mu.Lock()
	d.calls = append(d.calls, target.ID+" "+command)
	d.mu.Unlock()
	return d.wrapped.Execute(ctx, target, command)
}

func (d *countingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type testHub struct {
	*Hub
	notifier   *fakeNotifier
	dispatcher *countingDispatcher
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()

	dir := testutil.CreateTempDir(t)
	store, err := internal.OpenSessionStore(filepath.Join(dir, "sessions.db"))
	if err != nil {
		t.Fatalf("OpenSessionStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg, err := internal.ParseRegistry([]byte(testutil.LocalRegistryJSON))
	if err != nil {
		t.Fatalf("ParseRegistry failed: %v", err)
	}

	router := dispatch.New(dispatch.Options{Timeout: 5 * time.Second, MaxOutputBytes: 4096})
	t.Cleanup(func() { router.Close() })

	notifier := &fakeNotifier{}
	dispatcher := &countingDispatcher{wrapped: router}
	hub := &Hub{
		Registry:   internal.NewRegistry(cfg),
		Store:      store,
		Dispatcher: dispatcher,
		Notifier:   notifier,
		Secrets: internal.Secrets{
			BotToken:     "123456:TEST",
			SharedSecret: testSecret,
			ChatID:       testChat,
			AllowedChats: []int64{testChat},
		},
		Started: time.Now(),
	}
	return &testHub{Hub: hub, notifier: notifier, dispatcher: dispatcher}
}

func doRequest(t *testing.T, h http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			buf.Write(testutil.JSONMarshal(t, b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func authHeaders() map[string]string {
	return map[string]string{"X-Shared-Secret": testSecret}
}
