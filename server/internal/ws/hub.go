package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/markbook/markbook/server/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin checks belong to the reverse proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub pushes the risk dashboard to every connected WebSocket client each
// interval. Clients that fall behind are disconnected.
type Hub struct {
	store    *store.Store
	interval time.Duration

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// New returns a Hub reading dashboards from st.
func New(st *store.Store, interval time.Duration) *Hub {
	return &Hub{store: st, interval: interval, subs: make(map[*subscriber]struct{})}
}

// Run broadcasts on every tick until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	tick := time.NewTicker(h.interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			h.broadcast()
		case <-ctx.Done():
			h.mu.Lock()
			for s := range h.subs {
				h.dropLocked(s)
			}
			h.mu.Unlock()
			return
		}
	}
}

// ServeHTTP upgrades the request and serves dashboards to the client until
// it disconnects. ?tenant= narrows the dashboard to one tenant. The first
// dashboard goes out straight away rather than on the next tick.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s := newSubscriber(conn, r.URL.Query().Get("tenant"))

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.dropLocked(s)
		h.mu.Unlock()
	}()
	slog.Debug("ws: client connected", "remote", r.RemoteAddr, "tenant", s.tenant)

	if msg, err := encodeDashboard(h.store, s.tenant); err == nil {
		s.offer(msg)
	}
	go s.writeLoop()
	s.readLoop()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// dropLocked forgets s and closes its outbox. h.mu must be held.
func (h *Hub) dropLocked(s *subscriber) {
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.out)
}

// broadcast encodes the dashboard once per distinct tenant filter and hands
// it to each subscriber of that filter.
func (h *Hub) broadcast() {
	h.mu.RLock()
	groups := make(map[string][]*subscriber)
	for s := range h.subs {
		groups[s.tenant] = append(groups[s.tenant], s)
	}
	h.mu.RUnlock()

	for tenant, subs := range groups {
		msg, err := encodeDashboard(h.store, tenant)
		if err != nil {
			slog.Error("ws: encode dashboard", "tenant", tenant, "err", err)
			continue
		}
		h.mu.Lock()
		for _, s := range subs {
			if _, live := h.subs[s]; live && !s.offer(msg) {
				slog.Debug("ws: dropping slow client", "tenant", tenant)
				h.dropLocked(s)
			}
		}
		h.mu.Unlock()
	}
}
