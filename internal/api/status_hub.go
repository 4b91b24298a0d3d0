package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/veilgate/veilgate/internal/actor"
	"github.com/veilgate/veilgate/internal/credential"
	"github.com/veilgate/veilgate/internal/store"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// statusSnapshot is the JSON document pushed to connected admin/TUI
// clients, matching the four pools' GetStatus and the storage layer's
// own Status() (spec.md §6.9).
type statusSnapshot struct {
	Cookies         actor.Status[*credential.WebCookie]     `json:"cookies"`
	Keys            actor.Status[*credential.ApiKey]        `json:"keys"`
	CliTokens       actor.Status[*credential.CliToken]      `json:"cli_tokens"`
	ServiceAccounts actor.Status[*credential.ServiceAccount] `json:"service_accounts"`
	Storage         map[string]any                          `json:"storage"`
}

// statusHub polls every pool's GetStatus plus the storage layer's
// Status(), and pushes the resulting snapshot over websocket to every
// connected client whenever it changes — pure plumbing atop the existing
// C10 interface, not new actor semantics (spec.md §6.9).
type statusHub struct {
	mgr      *actor.Manager
	db       store.Storage
	interval time.Duration

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	last    string
}

func newStatusHub(mgr *actor.Manager, db store.Storage, interval time.Duration) *statusHub {
	return &statusHub{mgr: mgr, db: db, interval: interval, clients: make(map[*websocket.Conn]struct{})}
}

func (h *statusHub) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for range ticker.C {
		h.broadcastIfChanged()
	}
}

func (h *statusHub) snapshot(ctx context.Context) statusSnapshot {
	cookies, _ := h.mgr.Cookies.GetStatus(ctx)
	keys, _ := h.mgr.Keys.GetStatus(ctx)
	cli, _ := h.mgr.CliTokens.GetStatus(ctx)
	sa, _ := h.mgr.ServiceAccounts.GetStatus(ctx)
	return statusSnapshot{Cookies: cookies, Keys: keys, CliTokens: cli, ServiceAccounts: sa, Storage: h.db.Status(ctx)}
}

func (h *statusHub) broadcastIfChanged() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := json.Marshal(h.snapshot(ctx))
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if string(data) == h.last {
		return
	}
	h.last = string(data)
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// serveWS upgrades the admin status endpoint to a websocket, sends an
// immediate snapshot, and keeps the connection registered for
// broadcastIfChanged until the client disconnects.
func (h *statusHub) serveWS(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	data, err := json.Marshal(h.snapshot(ctx))
	cancel()
	if err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
