package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EnvelopeWriter is the transport seam of a connection. The production
// implementation is clientConn over gorilla; tests substitute a recorder.
type EnvelopeWriter interface {
	WriteEnvelope(Envelope) error
	Close() error
}

// maxMissedBeats is the fatal threshold: one missed heartbeat is recoverable
// (SUSPECT), the second is not.
const maxMissedBeats = 2

// Conn is one live transport session. It is created on handshake, owned by
// the Registry for its lifetime, and destroyed on disconnect or liveness
// timeout. A user may hold several concurrently.
type Conn struct {
	ID     string
	writer EnvelopeWriter

	mu       sync.Mutex
	userID   string // empty until identified
	rooms    map[string]struct{}
	lastBeat time.Time
	missed   int
}

func (c *Conn) push(env Envelope) error {
	return c.writer.WriteEnvelope(env)
}

func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Rooms returns a snapshot of the rooms this connection is joined to.
func (c *Conn) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

func (c *Conn) addRoom(roomID string) {
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	c.mu.Unlock()
}

func (c *Conn) removeRoom(roomID string) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

// beat records a heartbeat-ack: the connection is ALIVE again.
func (c *Conn) beat() {
	c.mu.Lock()
	c.missed = 0
	c.lastBeat = time.Now()
	c.mu.Unlock()
}

func (c *Conn) misses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.missed
}

func (c *Conn) markBeatSent() {
	c.mu.Lock()
	c.missed++
	c.mu.Unlock()
}

// Registry tracks every live connection and the identity bound to it.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// Register is invoked on transport handshake; the connection starts with no
// bound user and no rooms.
func (r *Registry) Register(w EnvelopeWriter) *Conn {
	c := &Conn{
		ID:       uuid.NewString(),
		writer:   w,
		rooms:    make(map[string]struct{}),
		lastBeat: time.Now(),
	}
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
	return c
}

// Identify binds a user id to the connection. Last write wins: which
// identities may be claimed is the auth layer's concern, not re-validated
// here, but an overwrite is worth noticing in the logs.
func (r *Registry) Identify(connID, userID string) {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	c.mu.Lock()
	prev := c.userID
	c.userID = userID
	c.mu.Unlock()

	if prev != "" && prev != userID {
		zap.L().Warn("ws.identify_overwrite",
			zap.String("conn_id", connID),
			zap.String("prev_user", prev),
			zap.String("user", userID),
		)
	}
}

func (r *Registry) Get(connID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// Unregister discards the connection. Idempotent: the second call for the
// same id returns nil. Room cleanup is the caller's cascade (see
// WsServer.dropConnection), keyed off the returned connection.
func (r *Registry) Unregister(connID string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return nil
	}
	delete(r.conns, connID)
	return c
}

// ConnectionsOf returns the ids of every live connection bound to userID.
func (r *Registry) ConnectionsOf(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, c := range r.conns {
		if c.UserID() == userID {
			out = append(out, id)
		}
	}
	return out
}

// All snapshots the live connections; used by the liveness sweep.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
