package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatrelay/internal/ws"
)

// Status is the connection-level state surfaced to the UI.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrNotJoined    = errors.New("room not joined")
)

type PresenceEvent struct {
	RoomID string
	UserID string
	Joined bool
}

type Options struct {
	URL    string
	UserID string

	HandshakeTimeout     time.Duration // default 5s
	WriteWait            time.Duration // default 5s
	ReconnectDelay       time.Duration // default 1s
	MaxReconnectAttempts int           // consecutive dial failures before giving up, default 10

	OnStatus   func(Status)
	OnPresence func(PresenceEvent)
}

func (o *Options) withDefaults() {
	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = 5 * time.Second
	}
	if o.WriteWait == 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = time.Second
	}
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = 10
	}
}

// frameWriter is the transport seam; *websocket.Conn satisfies it and tests
// substitute a recorder.
type frameWriter interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
}

type reqKind int

const (
	reqIdentify reqKind = iota
	reqJoin
	reqLeave
	reqSend
)

// pendingReq correlates replies to requests. The server's reader loop is
// sequential per connection, so replies arrive in request order and FIFO
// matching is exact.
type pendingReq struct {
	kind    reqKind
	roomID  string
	localID string // send only
}

// Client maintains one persistent connection for the whole session: it
// identifies itself after every (re)connect, reissues join-room for every
// open room (membership is connection-scoped and does not survive a
// reconnect) and feeds pushes into per-room Views. Rooms not yet rejoined
// are reported degraded rather than going silently stale.
type Client struct {
	opts Options

	mu       sync.Mutex
	conn     frameWriter
	status   Status
	views    map[string]*View
	degraded map[string]struct{}
	pending  []pendingReq
}

func NewClient(opts Options) *Client {
	opts.withDefaults()
	return &Client{
		opts:     opts,
		status:   StatusDisconnected,
		views:    make(map[string]*View),
		degraded: make(map[string]struct{}),
	}
}

// Run owns the dial/read/reconnect cycle and blocks until ctx is cancelled
// or the reconnect budget is exhausted.
func (c *Client) Run(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	attempts := 0

	for {
		if ctx.Err() != nil {
			c.setStatus(StatusDisconnected)
			return ctx.Err()
		}

		conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
		if err != nil {
			attempts++
			if attempts >= c.opts.MaxReconnectAttempts {
				c.setStatus(StatusDisconnected)
				return err
			}
			c.setStatus(StatusReconnecting)
			select {
			case <-ctx.Done():
				c.setStatus(StatusDisconnected)
				return ctx.Err()
			case <-time.After(c.opts.ReconnectDelay):
			}
			continue
		}
		attempts = 0

		c.attach(conn)
		c.readLoop(conn)
		_ = conn.Close()
		c.detach()
		c.setStatus(StatusReconnecting)

		select {
		case <-ctx.Done():
			c.setStatus(StatusDisconnected)
			return ctx.Err()
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

// JoinRoom opens a room: its View exists from this moment, marked degraded
// until the server confirms the subscription.
func (c *Client) JoinRoom(roomID string) {
	c.mu.Lock()
	if _, ok := c.views[roomID]; !ok {
		c.views[roomID] = NewView(roomID)
	}
	c.degraded[roomID] = struct{}{}
	connected := c.conn != nil
	if connected {
		c.pending = append(c.pending, pendingReq{kind: reqJoin, roomID: roomID})
	}
	c.mu.Unlock()

	if connected {
		if err := c.writeEnvelope(mustEnvelope(ws.EventJoinRoom, ws.JoinRoomRequest{RoomID: roomID})); err != nil {
			c.removePending(func(p pendingReq) bool { return p.kind == reqJoin && p.roomID == roomID })
		}
	}
}

func (c *Client) LeaveRoom(roomID string) {
	c.mu.Lock()
	delete(c.views, roomID)
	delete(c.degraded, roomID)
	connected := c.conn != nil
	if connected {
		c.pending = append(c.pending, pendingReq{kind: reqLeave, roomID: roomID})
	}
	c.mu.Unlock()

	if connected {
		if err := c.writeEnvelope(mustEnvelope(ws.EventLeaveRoom, ws.LeaveRoomRequest{RoomID: roomID})); err != nil {
			c.removePending(func(p pendingReq) bool { return p.kind == reqLeave && p.roomID == roomID })
		}
	}
}

// Send inserts the provisional entry first, then attempts the network write.
// Offline sends fail in place immediately and are never retried implicitly.
func (c *Client) Send(roomID, content string) (string, error) {
	c.mu.Lock()
	view, ok := c.views[roomID]
	if !ok {
		c.mu.Unlock()
		return "", ErrNotJoined
	}
	localID := view.Submit(c.opts.UserID, content)

	if c.conn == nil || c.status != StatusConnected {
		c.mu.Unlock()
		view.Fail(localID)
		return localID, ErrNotConnected
	}
	c.pending = append(c.pending, pendingReq{kind: reqSend, roomID: roomID, localID: localID})
	c.mu.Unlock()

	if err := c.writeEnvelope(mustEnvelope(ws.EventSendMessage,
		ws.SendMessageRequest{RoomID: roomID, Content: content})); err != nil {
		// The request never reached the wire, so no reply will come for
		// it; drop its slot or every later ack correlates one off.
		c.removePending(func(p pendingReq) bool { return p.localID == localID })
		view.Fail(localID)
		return localID, err
	}
	return localID, nil
}

func (c *Client) View(roomID string) *View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.views[roomID]
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// DegradedRooms lists open rooms whose subscription is not currently
// confirmed; their views may be stale.
func (c *Client) DegradedRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.degraded))
	for id := range c.degraded {
		out = append(out, id)
	}
	return out
}

// ---------------------------------------------------------------------------
//  connection lifecycle
// ---------------------------------------------------------------------------

func (c *Client) attach(conn frameWriter) {
	c.mu.Lock()
	c.conn = conn
	c.pending = c.pending[:0]
	c.pending = append(c.pending, pendingReq{kind: reqIdentify})
	rooms := make([]string, 0, len(c.views))
	for id := range c.views {
		c.degraded[id] = struct{}{}
		rooms = append(rooms, id)
		c.pending = append(c.pending, pendingReq{kind: reqJoin, roomID: id})
	}
	c.mu.Unlock()

	c.writeEnvelope(mustEnvelope(ws.EventIdentify, ws.IdentifyRequest{UserID: c.opts.UserID}))
	for _, id := range rooms {
		c.writeEnvelope(mustEnvelope(ws.EventJoinRoom, ws.JoinRoomRequest{RoomID: id}))
	}
	c.setStatus(StatusConnected)
}

func (c *Client) detach() {
	c.mu.Lock()
	c.conn = nil
	pending := c.pending
	c.pending = nil
	var views []*View
	for id := range c.views {
		c.degraded[id] = struct{}{}
		views = append(views, c.views[id])
	}
	c.mu.Unlock()

	// In-flight sends can no longer be acked on this connection.
	for _, p := range pending {
		if p.kind != reqSend {
			continue
		}
		for _, v := range views {
			if v.RoomID() == p.roomID {
				v.Fail(p.localID)
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var env ws.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		c.handleEnvelope(env)
	}
}

// ---------------------------------------------------------------------------
//  inbound events
// ---------------------------------------------------------------------------

func (c *Client) handleEnvelope(env ws.Envelope) {
	switch env.Event {
	case ws.EventHeartbeat:
		c.writeEnvelope(ws.Envelope{Event: ws.EventHeartbeatAck})

	case ws.EventNewMessage:
		var msg ws.MessageBody
		if err := json.Unmarshal(env.Body, &msg); err != nil {
			return
		}
		c.mu.Lock()
		view := c.views[msg.RoomID]
		c.mu.Unlock()
		if view != nil && view.ApplyPush(msg) {
			c.writeEnvelope(mustEnvelope(ws.EventMessageReceived,
				ws.MessageReceivedNote{MessageID: msg.MessageID}))
		}

	case ws.EventUserJoined, ws.EventUserLeft:
		var p ws.PresenceBody
		if err := json.Unmarshal(env.Body, &p); err != nil {
			return
		}
		if c.opts.OnPresence != nil {
			c.opts.OnPresence(PresenceEvent{
				RoomID: p.RoomID,
				UserID: p.UserID,
				Joined: env.Event == ws.EventUserJoined,
			})
		}

	case ws.EventIdentify + "-ack":
		c.popPending()

	case ws.EventJoinRoom + "-ack":
		req, ok := c.popPending()
		if !ok || req.kind != reqJoin {
			return
		}
		c.mu.Lock()
		delete(c.degraded, req.roomID)
		c.mu.Unlock()

	case ws.EventLeaveRoom + "-ack":
		c.popPending()

	case ws.EventSendMessage + "-ack":
		var msg ws.MessageBody
		if err := json.Unmarshal(env.Body, &msg); err != nil {
			return
		}
		req, ok := c.popPending()
		if !ok || req.kind != reqSend {
			return
		}
		c.mu.Lock()
		view := c.views[req.roomID]
		c.mu.Unlock()
		if view != nil {
			view.Ack(req.localID, msg)
		}

	case ws.EventError:
		var body ws.ErrorBody
		_ = json.Unmarshal(env.Body, &body)
		req, ok := c.popPending()
		if !ok {
			return
		}
		switch req.kind {
		case reqSend:
			c.mu.Lock()
			view := c.views[req.roomID]
			c.mu.Unlock()
			if view != nil {
				view.Fail(req.localID)
			}
		case reqJoin:
			// Room stays degraded; the UI shows it offline.
			zap.L().Warn("chatclient.join_rejected",
				zap.String("room_id", req.roomID),
				zap.String("error", body.Error),
			)
		}
	}
}

// ---------------------------------------------------------------------------
//  plumbing
// ---------------------------------------------------------------------------

// removePending discards the most recently queued request matching the
// predicate; used when a write fails after its slot was already taken.
func (c *Client) removePending(match func(pendingReq) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.pending) - 1; i >= 0; i-- {
		if match(c.pending[i]) {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

func (c *Client) popPending() (pendingReq, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return pendingReq{}, false
	}
	req := c.pending[0]
	c.pending = c.pending[1:]
	return req, true
}

func (c *Client) writeEnvelope(env ws.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	if err := conn.WriteJSON(env); err != nil {
		zap.L().Debug("chatclient.write", zap.String("event", env.Event), zap.Error(err))
		return err
	}
	return nil
}

func (c *Client) setStatus(st Status) {
	c.mu.Lock()
	changed := c.status != st
	c.status = st
	c.mu.Unlock()
	if changed && c.opts.OnStatus != nil {
		c.opts.OnStatus(st)
	}
}

func mustEnvelope(event string, body any) ws.Envelope {
	raw, err := json.Marshal(body)
	if err != nil {
		panic("chatclient: unmarshalable envelope body: " + err.Error())
	}
	return ws.Envelope{Event: event, Body: raw}
}
