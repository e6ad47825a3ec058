package ws

import (
	"sync"
)

// Hub keeps subscriber sets per roomID. Rooms are materialized lazily on the
// first join and dropped when the last member leaves; mutations of one room's
// member set are mutually exclusive, different rooms proceed in parallel.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

func (h *Hub) Join(roomID string, c *Conn) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok {
		r = newRoom()
		h.rooms[roomID] = r
	}
	r.add(c)
	h.mu.Unlock()

	c.addRoom(roomID)
}

// Leave removes c from the room. Idempotent: leaving a room never joined is a
// no-op. Reports whether c was a member, so callers emit presence-left only
// for real departures.
func (h *Hub) Leave(roomID string, c *Conn) bool {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	var was bool
	if ok {
		was = r.remove(c)
		if r.empty() {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()

	c.removeRoom(roomID)
	return was
}

func (h *Hub) IsMember(roomID string, c *Conn) bool {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	return ok && r.has(c)
}

// Broadcast delivers env to every connection currently in the room, except
// the one named by exceptConnID (empty string excludes nobody). Connections
// joining after the call started get nothing: push-only, no replay.
func (h *Hub) Broadcast(roomID string, env Envelope, exceptConnID string) {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if ok {
		r.broadcast(env, exceptConnID)
	}
}

// Roster is a point-in-time presence snapshot: distinct user ids reachable
// through the room's member set.
func (h *Hub) Roster(roomID string) []string {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return r.roster()
}

// ActiveRooms lists rooms that currently have members.
func (h *Hub) ActiveRooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		out = append(out, id)
	}
	return out
}
