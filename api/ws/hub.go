package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"resetwatch/core/tracker"
	"resetwatch/core/utils"
)

const writeTimeout = 5 * time.Second

// Hub fans tracker events out to websocket subscribers. Clients may narrow the
// stream with ?types=reset.detected,cycle.completed.
type Hub struct {
	mu     sync.RWMutex
	conns  map[*websocket.Conn]subscription
	logger *utils.Logger
}

type subscription struct {
	types map[string]struct{}
}

func (s subscription) wants(typ string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[typ]
	return ok
}

func NewHub(logger *utils.Logger) *Hub {
	return &Hub{conns: make(map[*websocket.Conn]subscription), logger: logger}
}

var _ tracker.EventSink = (*Hub)(nil)

func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub := subscription{types: map[string]struct{}{}}
		for _, t := range strings.Split(r.URL.Query().Get("types"), ",") {
			if t = strings.TrimSpace(t); t != "" {
				sub.types[t] = struct{}{}
			}
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		h.add(conn, sub)
		defer h.remove(conn)

		ctx := r.Context()
		for {
			var v any
			if err := wsjson.Read(ctx, conn, &v); err != nil {
				return
			}
		}
	}
}

// Publish never fails; slow or broken subscribers are dropped.
func (h *Hub) Publish(ctx context.Context, ev tracker.Event) error {
	for _, conn := range h.snapshot(ev.Type) {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(wctx, conn, ev)
		cancel()
		if err != nil {
			h.logger.Debugf("ws write %s: %v", ev.Type, err)
			h.remove(conn)
			_ = conn.Close(websocket.StatusPolicyViolation, "write failed")
		}
	}
	return nil
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*websocket.Conn]subscription)
	h.mu.Unlock()
	for conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) add(conn *websocket.Conn, sub subscription) {
	h.mu.Lock()
	h.conns[conn] = sub
	h.mu.Unlock()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

func (h *Hub) snapshot(typ string) []*websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*websocket.Conn, 0, len(h.conns))
	for conn, sub := range h.conns {
		if sub.wants(typ) {
			out = append(out, conn)
		}
	}
	return out
}
