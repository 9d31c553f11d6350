package router

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/telemetry"
)

// Conn is one live client connection.
type Conn interface {
	ID() string
	// Send queues a frame for the connection without blocking. An error means the
	// frame was dropped.
	Send(frame []byte) error
}

// Message is the wire envelope for outbound frames.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Hub keeps live connections and the rooms they belong to, and delivers frames to them.
// It implements session.Dispatcher.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]Conn
	rooms map[string]map[string]struct{}
	// memberOf is the reverse index of rooms, used to clean up on disconnect.
	memberOf map[string]map[string]struct{}

	onRelease []func(sessionID string)
}

var _ session.Dispatcher = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		conns:    make(map[string]Conn),
		rooms:    make(map[string]map[string]struct{}),
		memberOf: make(map[string]map[string]struct{}),
	}
}

// Register makes conn addressable by its id.
func (h *Hub) Register(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[conn.ID()] = conn
	telemetry.ConnectionsActive.Inc()
}

// Connected reports whether connID is a live registered connection.
func (h *Hub) Connected(connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.conns[connID]
	return ok
}

// Unregister forgets the connection and removes it from every room. Session state is left
// untouched: a player or host that went away is still part of its session.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[connID]; !ok {
		return
	}

	delete(h.conns, connID)
	for sid := range h.memberOf[connID] {
		h.leaveLocked(sid, connID)
	}
	telemetry.ConnectionsActive.Dec()
}

func (h *Hub) Attach(sessionID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[sessionID] == nil {
		h.rooms[sessionID] = make(map[string]struct{})
	}
	h.rooms[sessionID][connID] = struct{}{}

	if h.memberOf[connID] == nil {
		h.memberOf[connID] = make(map[string]struct{})
	}
	h.memberOf[connID][sessionID] = struct{}{}
}

func (h *Hub) Detach(sessionID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(sessionID, connID)
}

// Release empties the room of a closed session and runs the OnRelease callbacks once the
// hub lock is dropped.
func (h *Hub) Release(sessionID string) {
	h.mu.Lock()
	for connID := range h.rooms[sessionID] {
		h.leaveLocked(sessionID, connID)
	}
	delete(h.rooms, sessionID)
	callbacks := h.onRelease
	h.mu.Unlock()

	for _, f := range callbacks {
		f(sessionID)
	}
}

// OnRelease registers f to run whenever a session's room is released. f runs under the
// session lock and must not call back into the session.
func (h *Hub) OnRelease(f func(sessionID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.onRelease = append(h.onRelease, f)
}

// Dispatch delivers every notification to its connection or to the whole room. Each
// destination is independent: a full or closed connection only loses its own copy.
func (h *Hub) Dispatch(sessionID string, ns ...session.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, n := range ns {
		frame, err := json.Marshal(Message{Event: n.Event, Data: n.Data})
		if err != nil {
			slog.Error("router: marshal notification failed", "event", n.Event, "error", err)
			continue
		}

		if n.ConnID != "" {
			h.sendLocked(sessionID, n.ConnID, n.Event, frame)
			continue
		}

		for connID := range h.rooms[sessionID] {
			h.sendLocked(sessionID, connID, n.Event, frame)
		}
	}
}

// Send delivers a single event outside of any session, e.g. an error reply.
func (h *Hub) Send(connID, event string, data any) {
	frame, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		slog.Error("router: marshal message failed", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	h.sendLocked("", connID, event, frame)
}

// Members returns the connection ids in the room of a session.
func (h *Hub) Members(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.rooms[sessionID]))
	for id := range h.rooms[sessionID] {
		ids = append(ids, id)
	}
	return ids
}

func (h *Hub) sendLocked(sessionID, connID, event string, frame []byte) {
	c, ok := h.conns[connID]
	if !ok {
		// Gone until it reconnects; the rejoin replays what it needs.
		return
	}

	if err := c.Send(frame); err != nil {
		telemetry.DeliveriesDropped.Inc()
		slog.Warn("router: delivery dropped",
			"session", sessionID,
			"conn", connID,
			"event", event,
			"error", err,
		)
	}
}

func (h *Hub) leaveLocked(sessionID, connID string) {
	if room, ok := h.rooms[sessionID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(h.rooms, sessionID)
		}
	}

	if sessions, ok := h.memberOf[connID]; ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(h.memberOf, connID)
		}
	}
}
