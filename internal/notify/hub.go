// Package notify fans project change events out to websocket subscribers.
package notify

import (
	"sync"

	"go.uber.org/zap"
)

// Subscriber receives raw event frames. Send must not block.
type Subscriber interface {
	Send(frame []byte) bool
}

// closer is implemented by subscribers backed by a connection. Closed
// subscribers are never added to a room, and subscribers that fall behind are
// closed so the client reconnects and re-fetches.
type closer interface {
	Closed() bool
	Close()
}

// Hub tracks which subscribers are in which project room on this instance.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[Subscriber]struct{}
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[Subscriber]struct{}),
		logger: logger.Named("hub"),
	}
}

// Join adds s to room. It reports false when s is already closed.
func (h *Hub) Join(room string, s Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := s.(closer); ok && c.Closed() {
		return false
	}

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[Subscriber]struct{})
		h.rooms[room] = members
	}
	members[s] = struct{}{}
	return true
}

func (h *Hub) Leave(room string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, s)
}

func (h *Hub) leaveLocked(room string, s Subscriber) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, s)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// LeaveAll removes s from every room, used when a socket closes.
func (h *Hub) LeaveAll(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.rooms {
		h.leaveLocked(room, s)
	}
}

// Broadcast delivers frame to every member of room. A subscriber that cannot
// take the frame misses it; connection-backed ones are closed and removed.
func (h *Hub) Broadcast(room string, frame []byte) int {
	h.mu.RLock()
	members := make([]Subscriber, 0, len(h.rooms[room]))
	for s := range h.rooms[room] {
		members = append(members, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range members {
		if s.Send(frame) {
			delivered++
			continue
		}
		h.logger.Debug("dropped frame for slow subscriber", zap.String("room", room))
		if c, ok := s.(closer); ok {
			c.Close()
			h.LeaveAll(s)
		}
	}
	return delivered
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
