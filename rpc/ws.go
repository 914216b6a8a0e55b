package rpc

import (
	"net/http"
	"strings"
	"sync"

	"cosmossdk.io/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/tolelom/zktrivia/events"
)

const subscriberBuffer = 64

type subscriber struct {
	id     string
	conn   *websocket.Conn
	send   chan events.Event
	filter map[events.EventType]bool // empty means everything
}

func (s *subscriber) wants(t events.EventType) bool {
	return len(s.filter) == 0 || s.filter[t]
}

// Hub fans chain events out to websocket subscribers. A subscriber whose
// buffer is full is disconnected rather than slowing block production.
type Hub struct {
	mu       sync.Mutex
	subs     map[string]*subscriber
	upgrader websocket.Upgrader
	logger   log.Logger
}

// NewHub creates a Hub fed by every event emitter publishes. origins lists
// the browser origins allowed to connect: empty allows only same-origin
// requests, and "*" allows any origin.
func NewHub(emitter *events.Emitter, origins []string, logger log.Logger) *Hub {
	h := &Hub{subs: make(map[string]*subscriber), logger: logger.With("module", "ws")}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(origins),
	}
	emitter.SubscribeAll(h.broadcast)
	return h
}

// originChecker returns nil for an empty list so gorilla's same-origin
// check applies.
func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.TrimSuffix(strings.ToLower(o), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[strings.ToLower(origin)]
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) broadcast(ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		if !s.wants(ev.Type) {
			continue
		}
		select {
		case s.send <- ev:
		default:
			h.logger.Warn("dropping slow subscriber", "subscriber", id)
			h.removeLocked(id)
		}
	}
}

func (h *Hub) removeLocked(id string) {
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.send)
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.subs {
		h.removeLocked(id)
	}
}

// serveWS upgrades the request and streams events as JSON. The optional
// "types" query parameter is a comma-separated list of event types.
func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	filter := make(map[events.EventType]bool)
	if q := r.URL.Query().Get("types"); q != "" {
		for _, t := range strings.Split(q, ",") {
			filter[events.EventType(strings.TrimSpace(t))] = true
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade", "err", err)
		return
	}

	s := &subscriber{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan events.Event, subscriberBuffer),
		filter: filter,
	}
	s.send <- events.Event{Type: "subscribed", Data: map[string]any{"subscriber": s.id}}

	h.mu.Lock()
	h.subs[s.id] = s
	h.mu.Unlock()
	h.logger.Debug("subscriber connected", "subscriber", s.id)

	go s.writePump()
	s.readPump(h)
}

// readPump discards client messages and unregisters on disconnect.
func (s *subscriber) readPump(h *Hub) {
	defer func() {
		h.remove(s.id)
		s.conn.Close()
	}()
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *subscriber) writePump() {
	defer s.conn.Close()
	for ev := range s.send {
		if err := s.conn.WriteJSON(ev); err != nil {
			return
		}
	}
}
