package ws

import (
	"sync"

	"go.uber.org/zap"
)

// room is the subscriber set of one chat. It is position-blind to why a
// connection is a member: authorization happened before join, outside.
type room struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}
}

func newRoom() *room { return &room{conns: map[*Conn]struct{}{}} }

func (r *room) add(c *Conn) {
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()
}

func (r *room) remove(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c]; !ok {
		return false
	}
	delete(r.conns, c)
	return true
}

func (r *room) has(c *Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[c]
	return ok
}

func (r *room) empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns) == 0
}

// broadcast delivers env to every current member except exceptConnID.
// Delivery failure to one subscriber never blocks the others: the dead
// connection is skipped here and reaped by the liveness monitor later.
func (r *room) broadcast(env Envelope, exceptConnID string) {
	// Take a quick snapshot of the current connections
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	// Do the I/O outside the lock
	for _, c := range conns {
		if c.ID == exceptConnID {
			continue
		}
		if err := c.push(env); err != nil {
			zap.L().Debug("ws.broadcast_skip",
				zap.String("conn_id", c.ID),
				zap.String("event", env.Event),
				zap.Error(err),
			)
		}
	}
}

// roster resolves the member set to distinct bound user ids. Unidentified
// connections do not appear in presence.
func (r *room) roster() []string {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	seen := make(map[string]struct{}, len(conns))
	users := make([]string, 0, len(conns))
	for _, c := range conns {
		uid := c.UserID()
		if uid == "" {
			continue
		}
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		users = append(users, uid)
	}
	return users
}
