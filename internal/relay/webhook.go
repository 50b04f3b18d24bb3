package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/iksnae/claude-relay/internal"
	"github.com/iksnae/claude-relay/internal/export"
	"github.com/iksnae/claude-relay/internal/telegram"
)

// Processing stages of one update, as they appear in logs
const (
	stageReceived      = "Received"
	stageParsed        = "Parsed"
	stageAuthenticated = "Authenticated"
	stageResolved      = "Resolved"
	stageDispatched    = "Dispatched"
	stageReplied       = "Replied"
	stageRejected      = "Rejected"
)

// seenUpdatesCap bounds the redelivery filter
const seenUpdatesCap = 1024

// CommandServer serves the Telegram webhook and programmatic dispatch
type CommandServer struct {
	hub *Hub
	mux *http.ServeMux

	seenMu    sync.Mutex
	seen      map[int64]struct{}
	seenOrder []int64
}

// NewCommandServer creates the webhook-port handler
func NewCommandServer(hub *Hub) *CommandServer {
	s := &CommandServer{
		hub:  hub,
		mux:  http.NewServeMux(),
		seen: make(map[int64]struct{}),
	}
	s.routes()
	return s
}

func (s *CommandServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *CommandServer) routes() {
	s.mux.HandleFunc("POST /webhook/telegram", s.handleWebhook)
	s.mux.HandleFunc("POST /command", s.handleCommand)
	s.mux.HandleFunc("GET /health", s.hub.handleHealth)
}

func logStage(trace, stage, format string, args ...interface{}) {
	internal.LogInfo("update %s %s: %s", trace, stage, fmt.Sprintf(format, args...))
}

// handleWebhook acknowledges every delivery immediately; Telegram retries
// anything else. Real work happens on a goroutine detached from the request.
func (s *CommandServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	trace := uuid.NewString()
	ack := func() { writeJSON(w, http.StatusOK, map[string]bool{"ok": true}) }

	if expected := s.hub.Secrets.WebhookSecret; expected != "" {
		if !secretsEqual(r.Header.Get("X-Telegram-Bot-Api-Secret-Token"), expected) {
			logStage(trace, stageRejected, "bad webhook secret token from %s", r.RemoteAddr)
			ack()
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		logStage(trace, stageRejected, "read body: %v", err)
		ack()
		return
	}
	var update telegram.Update
	if err := json.Unmarshal(body, &update); err != nil {
		logStage(trace, stageRejected, "invalid update JSON: %v", err)
		ack()
		return
	}
	if !s.firstDelivery(update.UpdateID) {
		internal.LogDebug("update %s: duplicate update_id %d ignored", trace, update.UpdateID)
		ack()
		return
	}

	msg := update.EffectiveMessage()
	if msg == nil {
		internal.LogDebug("update %s: update_id %d carries no message", trace, update.UpdateID)
		ack()
		return
	}
	edited := update.Message == nil

	ctx := context.WithoutCancel(r.Context())
	s.hub.Go(func() { s.processMessage(ctx, trace, msg, edited) })
	ack()
}

// firstDelivery records updateID and reports whether it was new
func (s *CommandServer) firstDelivery(updateID int64) bool {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()

	if _, ok := s.seen[updateID]; ok {
		return false
	}
	s.seen[updateID] = struct{}{}
	s.seenOrder = append(s.seenOrder, updateID)
	if len(s.seenOrder) > seenUpdatesCap {
		delete(s.seen, s.seenOrder[0])
		s.seenOrder = s.seenOrder[1:]
	}
	return true
}

// processMessage handles one message. An edited message is answered but
// never dispatched.
func (s *CommandServer) processMessage(ctx context.Context, trace string, msg *telegram.Message, edited bool) {
	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}
	logStage(trace, stageReceived, "chat=%d user=%d message=%d edited=%t", msg.Chat.ID, userID, msg.MessageID, edited)

	replyText := ""
	if msg.ReplyToMessage != nil {
		replyText = msg.ReplyToMessage.Text
	}
	cmd := ParseCommand(msg.Text, replyText)
	logStage(trace, stageParsed, "%s", cmd.Kind)

	if !s.hub.Secrets.IsAllowedSender(msg.Chat.ID, userID) {
		logStage(trace, stageRejected, "%v: chat=%d user=%d", internal.ErrAuthFailure, msg.Chat.ID, userID)
		return
	}
	logStage(trace, stageAuthenticated, "chat=%d", msg.Chat.ID)

	if edited {
		cmd = Command{Kind: CommandEdited}
	}

	var reply string
	switch cmd.Kind {
	case CommandEdited:
		logStage(trace, stageRejected, "edited message %d not run", msg.MessageID)
		reply = "✏️ Edited messages are not run. Send the command as a new message."
	case CommandNone:
		reply = "Unknown command. Send /help for usage."
	case CommandHelp:
		reply = helpText
	case CommandSessions:
		reply = s.sessionList(ctx)
	case CommandServers:
		reply = FormatServers(s.hub.Registry.Servers())
	case CommandInvalid:
		reply = "⚠️ " + cmd.Err.Error()
		if errors.Is(cmd.Err, internal.ErrBadAddress) {
			reply += "\n" + errUsage.Error()
		}
	case CommandDispatch:
		reply = s.dispatch(ctx, trace, cmd.Address, cmd.Command)
	}

	if err := s.hub.Notifier.SendReply(ctx, msg.Chat.ID, msg.MessageID, reply); err != nil {
		internal.LogWarn("update %s: reply failed: %v", trace, err)
		return
	}
	logStage(trace, stageReplied, "%d bytes", len(reply))
}

func (s *CommandServer) sessionList(ctx context.Context) string {
	sessions, err := s.hub.Store.ListSessions(ctx)
	if err != nil {
		internal.LogError("List sessions: %v", err)
		return "⚠️ Session store unavailable."
	}
	var buf bytes.Buffer
	if err := (&export.ChatExporter{}).Export(sessions, &buf); err != nil {
		return "⚠️ " + err.Error()
	}
	return buf.String()
}

// dispatch resolves addr and runs command, returning the chat reply
func (s *CommandServer) dispatch(ctx context.Context, trace string, addr internal.Address, command string) string {
	target, reply := s.resolve(ctx, addr)
	if reply != "" {
		logStage(trace, stageRejected, "%s: %s", addr, reply)
		return reply
	}
	logStage(trace, stageResolved, "%s -> %s (%s)", addr, target.ID, target.Type)

	if err := s.hub.Store.RecordCommand(ctx, addr.ServerID, addr.ServerNumber, command); err != nil {
		internal.LogWarn("update %s: record command: %v", trace, err)
	}

	result, err := s.hub.Dispatcher.Execute(ctx, target, command)
	logStage(trace, stageDispatched, "%s", dispatchOutcome(err))
	return FormatResult(addr, command, result, err)
}

// resolve looks up the session and its server. A non-empty reply means
// the command must not be dispatched.
func (s *CommandServer) resolve(ctx context.Context, addr internal.Address) (internal.ServerEntry, string) {
	sess, err := s.hub.Store.GetSession(ctx, addr.ServerID, addr.ServerNumber)
	switch {
	case errors.Is(err, internal.ErrNotFound):
		return internal.ServerEntry{}, fmt.Sprintf("❓ Session %s not found. Send /sessions to list them.", addr)
	case err != nil:
		internal.LogError("Get session %s: %v", addr, err)
		return internal.ServerEntry{}, "⚠️ Session store unavailable."
	}

	target, ok := s.hub.Registry.Server(sess.ServerID)
	if !ok {
		return internal.ServerEntry{}, fmt.Sprintf("⚠️ Server %s is not configured.", sess.ServerID)
	}
	return target, ""
}

func dispatchOutcome(err error) string {
	if err == nil {
		return "exit 0"
	}
	return err.Error()
}

type commandRequest struct {
	ServerID     string `json:"serverId"`
	ServerNumber int64  `json:"serverNumber"`
	Command      string `json:"command"`
}

type commandResponse struct {
	ServerID     string                   `json:"serverId"`
	ServerNumber int64                    `json:"serverNumber"`
	Result       *internal.DispatchResult `json:"result,omitempty"`
	Error        string                   `json:"error,omitempty"`
	ErrorKind    string                   `json:"errorKind,omitempty"`
}

// handleCommand dispatches on behalf of a caller holding the session token
func (s *CommandServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ServerID == "" || req.ServerNumber <= 0 || req.Command == "" {
		writeError(w, http.StatusBadRequest, "serverId, serverNumber and command are required")
		return
	}
	addr := internal.Address{ServerID: req.ServerID, ServerNumber: req.ServerNumber}

	sess, err := s.hub.Store.GetSession(r.Context(), addr.ServerID, addr.ServerNumber)
	switch {
	case errors.Is(err, internal.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case err != nil:
		internal.LogError("Get session %s: %v", addr, err)
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}

	if !secretsEqual(r.Header.Get("X-Session-Token"), sess.Token) {
		internal.LogWarn("Rejected /command for %s: %v", addr, internal.ErrAuthFailure)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	target, ok := s.hub.Registry.Server(sess.ServerID)
	if !ok {
		writeError(w, http.StatusConflict, fmt.Sprintf("server %s is not configured", sess.ServerID))
		return
	}

	if err := s.hub.Store.RecordCommand(r.Context(), addr.ServerID, addr.ServerNumber, req.Command); err != nil {
		internal.LogWarn("Record command for %s: %v", addr, err)
	}

	// The child must be reaped even if the caller disconnects.
	ctx := context.WithoutCancel(r.Context())
	result, err := s.hub.Dispatcher.Execute(ctx, target, req.Command)

	resp := commandResponse{ServerID: addr.ServerID, ServerNumber: addr.ServerNumber, Result: result}
	if err != nil {
		resp.Error = err.Error()
		resp.ErrorKind = errorKind(err)
		if result == nil {
			var dispatchErr *internal.DispatchError
			if errors.As(err, &dispatchErr) {
				resp.Result = dispatchErr.Result
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, internal.ErrTimedOut):
		return "TimedOut"
	case errors.Is(err, internal.ErrNonZeroExit):
		return "NonZeroExit"
	case errors.Is(err, internal.ErrUnreachableHost):
		return "UnreachableHost"
	default:
		return "Error"
	}
}
