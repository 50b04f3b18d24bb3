// Package relay implements the two HTTP faces of the hub: the notification
// aggregator that execution hosts report to, and the Telegram webhook
// server that turns operator messages into dispatched commands.
package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/iksnae/claude-relay/internal"
	"github.com/iksnae/claude-relay/internal/dispatch"
)

// Notifier delivers text to the operator chat. *telegram.Client satisfies it.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendReply(ctx context.Context, chatID int64, replyTo int, text string) error
}

// Hub is the shared state handed to both servers
type Hub struct {
	Registry   *internal.Registry
	Store      *internal.SessionStore
	Dispatcher dispatch.Dispatcher
	Notifier   Notifier
	Secrets    internal.Secrets
	Started    time.Time

	wg sync.WaitGroup
}

// Go runs fn in the background, detached from any request. Wait blocks
// until every such task has finished.
func (h *Hub) Go(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}

// Wait blocks until background work started with Go has finished
func (h *Hub) Wait() {
	h.wg.Wait()
}

type healthResponse struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	Sessions int    `json:"sessions"`
	Servers  int    `json:"servers"`
	Uptime   string `json:"uptime"`
}

// handleHealth reports liveness plus store reachability
func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:  "ok",
		Store:   "ok",
		Servers: len(h.Registry.Servers()),
		Uptime:  time.Since(h.Started).Round(time.Second).String(),
	}

	if err := h.Store.Ping(ctx); err != nil {
		internal.LogWarn("Health check: %v", err)
		resp.Status = "degraded"
		resp.Store = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	count, err := h.Store.Count(ctx)
	if err != nil {
		internal.LogWarn("Health check: %v", err)
		resp.Status = "degraded"
		resp.Store = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Sessions = count
	writeJSON(w, http.StatusOK, resp)
}
