package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatrelay/internal/services/message"
)

// recorderWriter captures everything pushed to a connection.
type recorderWriter struct {
	mu     sync.Mutex
	envs   []Envelope
	closed bool
	fail   bool
}

func (w *recorderWriter) WriteEnvelope(env Envelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("write failed")
	}
	w.envs = append(w.envs, env)
	return nil
}

func (w *recorderWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *recorderWriter) events() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.envs))
	for i, e := range w.envs {
		out[i] = e.Event
	}
	return out
}

func (w *recorderWriter) bodiesOf(event string) []json.RawMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []json.RawMessage
	for _, e := range w.envs {
		if e.Event == event {
			out = append(out, e.Body)
		}
	}
	return out
}

// loopbackPublisher short-circuits Redis: published envelopes go straight
// into the local hub, origin exclusion included.
type loopbackPublisher struct{ hub *Hub }

func (p loopbackPublisher) Publish(_ context.Context, roomID, originConnID string, env Envelope) error {
	p.hub.Broadcast(roomID, env, originConnID)
	return nil
}

type nopSubscriber struct{}

func (nopSubscriber) Subscribe(string)   {}
func (nopSubscriber) Unsubscribe(string) {}

type receiptRecorder struct {
	mu       sync.Mutex
	receipts []string // "<messageID>/<userID>"
}

func (r *receiptRecorder) RecordReceipt(_ context.Context, messageID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receipts = append(r.receipts, messageID+"/"+userID)
	return nil
}

// fakeMessageSvc is the external collaborator: authorization grants and
// authoritative writes, scriptable per test.
type fakeMessageSvc struct {
	mu        sync.Mutex
	denied    map[string]struct{} // "<userID>/<roomID>"
	recordErr error
	nextID    int
}

func newFakeMessageSvc() *fakeMessageSvc {
	return &fakeMessageSvc{denied: make(map[string]struct{})}
}

func (f *fakeMessageSvc) deny(userID, roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denied[userID+"/"+roomID] = struct{}{}
}

func (f *fakeMessageSvc) AuthorizeRoomAccess(_ context.Context, userID, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.denied[userID+"/"+roomID]; ok {
		return message.ErrAccessDenied
	}
	return nil
}

func (f *fakeMessageSvc) Record(_ context.Context, roomID, senderID, content string) (*message.MessageDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	f.nextID++
	return &message.MessageDTO{
		ID:        fmt.Sprintf("msg-%03d", f.nextID),
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now(),
	}, nil
}

func newTestServer(svc message.IMessageService) (*WsServer, *receiptRecorder) {
	hub := NewHub()
	receipts := &receiptRecorder{}
	srv := newWsServer(hub, NewRegistry(), loopbackPublisher{hub: hub}, nopSubscriber{}, receipts, svc, WsConfig{
		WriteWait:         time.Second,
		MaxMessageBytes:   4096,
		HeartbeatInterval: time.Minute,
	})
	return srv, receipts
}

// connect registers a recorder-backed connection, optionally identified.
func connect(s *WsServer, userID string) (*Conn, *recorderWriter) {
	w := &recorderWriter{}
	c := s.registry.Register(w)
	if userID != "" {
		s.registry.Identify(c.ID, userID)
	}
	return c, w
}

func dispatch(t *testing.T, s *WsServer, c *Conn, event string, body any) (any, error) {
	t.Helper()
	return s.router.dispatch(context.Background(), &ConnContext{Conn: c, Server: s}, mustEnvelope(event, body))
}

func mustJoin(t *testing.T, s *WsServer, c *Conn, roomID string) {
	t.Helper()
	_, err := dispatch(t, s, c, EventJoinRoom, JoinRoomRequest{RoomID: roomID})
	require.NoError(t, err)
}
