package chatclient

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/ws"
)

type EntryState int

const (
	// EntryPending is an optimistic local send not yet confirmed by the
	// authoritative write path.
	EntryPending EntryState = iota
	EntryConfirmed
	EntryFailed
)

// Entry is one row of a room's local view. Provisional rows are tracked by
// LocalID; confirmed rows additionally carry the authoritative message id.
type Entry struct {
	LocalID string
	State   EntryState
	Message ws.MessageBody
}

// View is the ordered, id-deduplicated message list for one open room. It
// merges three independent sources (the optimistic local insert, the send
// ack, and the broadcast push) and holds at most one entry per authoritative
// message id at all times.
type View struct {
	roomID string

	mu      sync.Mutex
	entries []Entry
	seen    map[string]struct{} // authoritative message ids present
}

func NewView(roomID string) *View {
	return &View{
		roomID: roomID,
		seen:   make(map[string]struct{}),
	}
}

func (v *View) RoomID() string { return v.roomID }

// Submit inserts a provisional entry immediately, so the UI never waits on a
// network round-trip, and returns its client-local id.
func (v *View) Submit(senderID, content string) string {
	localID := uuid.NewString()
	v.mu.Lock()
	v.entries = append(v.entries, Entry{
		LocalID: localID,
		State:   EntryPending,
		Message: ws.MessageBody{
			RoomID:    v.roomID,
			SenderID:  senderID,
			Content:   content,
			CreatedAt: time.Now(),
		},
	})
	v.mu.Unlock()
	return localID
}

// Ack reconciles the authoritative envelope against the provisional entry,
// matched by local id, never by server id. The entry is replaced in place,
// preserving its sort position. If the same envelope already arrived through
// a push, the provisional entry is removed instead — never duplicated.
func (v *View) Ack(localID string, msg ws.MessageBody) {
	v.mu.Lock()
	defer v.mu.Unlock()

	idx := v.indexOfLocal(localID)
	if idx < 0 {
		return
	}

	if _, dup := v.seen[msg.MessageID]; dup {
		v.entries = append(v.entries[:idx], v.entries[idx+1:]...)
		return
	}

	v.seen[msg.MessageID] = struct{}{}
	v.entries[idx] = Entry{LocalID: localID, State: EntryConfirmed, Message: msg}
}

// Fail marks the provisional entry failed in place. It is never silently
// dropped — the user must see the send did not go through.
func (v *View) Fail(localID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if idx := v.indexOfLocal(localID); idx >= 0 && v.entries[idx].State == EntryPending {
		v.entries[idx].State = EntryFailed
	}
}

// ApplyPush merges a broadcast envelope. Duplicates of messages already held
// (our own send, reconciled via the ack) are discarded silently; otherwise
// the entry is inserted and the view re-sorted by creation time, since push
// order need not match causal order under concurrent senders. Reports
// whether the envelope was new.
func (v *View) ApplyPush(msg ws.MessageBody) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, dup := v.seen[msg.MessageID]; dup {
		return false
	}
	v.seen[msg.MessageID] = struct{}{}
	v.entries = append(v.entries, Entry{State: EntryConfirmed, Message: msg})

	sort.SliceStable(v.entries, func(i, j int) bool {
		return v.entries[i].Message.CreatedAt.Before(v.entries[j].Message.CreatedAt)
	})
	return true
}

// Entries returns a snapshot of the view in display order.
func (v *View) Entries() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Entry, len(v.entries))
	copy(out, v.entries)
	return out
}

func (v *View) indexOfLocal(localID string) int {
	for i := range v.entries {
		if v.entries[i].LocalID == localID {
			return i
		}
	}
	return -1
}
