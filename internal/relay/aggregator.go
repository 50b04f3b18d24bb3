package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/iksnae/claude-relay/internal"
	"github.com/iksnae/claude-relay/internal/export"
)

// maxExcerpt caps the reporter message copied into the notification
const maxExcerpt = 1000

// Aggregator serves /notify, /health and /sessions
type Aggregator struct {
	hub *Hub
	mux *http.ServeMux
}

// NewAggregator creates the notification-port handler
func NewAggregator(hub *Hub) *Aggregator {
	a := &Aggregator{
		hub: hub,
		mux: http.NewServeMux(),
	}
	a.routes()
	return a
}

func (a *Aggregator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *Aggregator) routes() {
	a.mux.HandleFunc("POST /notify", a.handleNotify)
	a.mux.HandleFunc("GET /health", a.hub.handleHealth)
	a.mux.HandleFunc("GET /sessions", a.handleSessions)
}

type notifyRequest struct {
	ServerID       string `json:"serverId"`
	Project        string `json:"project"`
	Status         string `json:"status"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	Message        string `json:"message,omitempty"`
	Secret         string `json:"secret,omitempty"`
}

type notifyResponse struct {
	ServerID     string `json:"serverId"`
	ServerNumber int64  `json:"serverNumber"`
	Token        string `json:"token"`
	Created      bool   `json:"created"`
}

type sessionsResponse struct {
	Count    int                 `json:"count"`
	Sessions []*internal.Session `json:"sessions"`
}

// presentedSecret picks the shared secret from headers first, then the body
func presentedSecret(r *http.Request, body string) string {
	if s := r.Header.Get("X-Shared-Secret"); s != "" {
		return s
	}
	if s := bearerToken(r); s != "" {
		return s
	}
	return body
}

func (a *Aggregator) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	parseErr := readJSON(r, &req)

	if !secretsEqual(presentedSecret(r, req.Secret), a.hub.Secrets.SharedSecret) {
		internal.LogWarn("Rejected /notify from %s: %v", r.RemoteAddr, internal.ErrAuthFailure)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if parseErr != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.ServerID == "" {
		writeError(w, http.StatusBadRequest, "serverId is required")
		return
	}
	server, ok := a.hub.Registry.Server(req.ServerID)
	if !ok {
		internal.LogWarn("Rejected /notify for unknown server %q", req.ServerID)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown server %q", req.ServerID))
		return
	}
	status, err := internal.ParseSessionStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}

	sess, created, err := a.hub.Store.CreateOrTouch(r.Context(), internal.NewSession{
		ServerID:       req.ServerID,
		Project:        req.Project,
		Status:         status,
		IdempotencyKey: key,
	})
	if err != nil {
		internal.LogError("Failed to record session for %s: %v", req.ServerID, err)
		if errors.Is(err, internal.ErrStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if created {
		internal.LogInfo("Session %s created (project=%q status=%s)", sess.Address(), sess.Project, sess.Status)
		a.notify(server, sess, req.Message)
	} else {
		internal.LogInfo("Session %s touched by retry (idempotency key)", sess.Address())
	}

	writeJSON(w, http.StatusOK, notifyResponse{
		ServerID:     sess.ServerID,
		ServerNumber: sess.ServerNumber,
		Token:        sess.Token,
		Created:      created,
	})
}

// notify pushes the new-session message in the background so a slow or
// failing Telegram never delays the reporter
func (a *Aggregator) notify(server internal.ServerEntry, sess *internal.Session, message string) {
	if a.hub.Notifier == nil || a.hub.Secrets.ChatID == 0 {
		internal.LogDebug("No notification chat configured; skipping message for %s", sess.Address())
		return
	}
	text := FormatNotification(server, sess, message)
	chatID := a.hub.Secrets.ChatID
	a.hub.Go(func() {
		if err := a.hub.Notifier.SendMessage(context.Background(), chatID, text); err != nil {
			internal.LogWarn("Failed to deliver notification for %s: %v", sess.Address(), err)
		}
	})
}

func (a *Aggregator) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.hub.Store.ListSessions(r.Context())
	if err != nil {
		internal.LogError("List sessions: %v", err)
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Count: len(sessions), Sessions: sessions})
}

// FormatNotification renders the chat message announcing a new session.
// The "Session:" line is what reply-to dispatch keys on.
func FormatNotification(server internal.ServerEntry, sess *internal.Session, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Claude Code %s on %s\n", export.StatusIcon(sess.Status), sess.Status, server.DisplayName())
	if sess.Project != "" {
		fmt.Fprintf(&b, "Project: %s\n", sess.Project)
	}
	fmt.Fprintf(&b, "%s%s\n", sessionLinePrefix, sess.Address())

	if msg := strings.TrimSpace(message); msg != "" {
		if r := []rune(msg); len(r) > maxExcerpt {
			msg = string(r[:maxExcerpt]) + "…"
		}
		fmt.Fprintf(&b, "\n%s\n", msg)
	}

	fmt.Fprintf(&b, "\nReply to this message with a command, or send:\n/cmd %s <command>", sess.Address())
	return b.String()
}
