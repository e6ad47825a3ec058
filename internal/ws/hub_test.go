package ws

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHubConn(r *Registry, userID string) (*Conn, *recorderWriter) {
	w := &recorderWriter{}
	c := r.Register(w)
	if userID != "" {
		r.Identify(c.ID, userID)
	}
	return c, w
}

func TestHubRoomsAreLazyAndDroppedWhenEmpty(t *testing.T) {
	h := NewHub()
	reg := NewRegistry()
	c, _ := newHubConn(reg, "alice")

	assert.Empty(t, h.ActiveRooms())

	h.Join("general", c)
	assert.Equal(t, []string{"general"}, h.ActiveRooms())
	assert.True(t, h.IsMember("general", c))
	assert.Equal(t, []string{"general"}, c.Rooms())

	was := h.Leave("general", c)
	assert.True(t, was)
	assert.Empty(t, h.ActiveRooms())
	assert.Empty(t, c.Rooms())
}

func TestHubLeaveIdempotent(t *testing.T) {
	h := NewHub()
	reg := NewRegistry()
	c, _ := newHubConn(reg, "alice")

	// never joined
	assert.False(t, h.Leave("general", c))

	h.Join("general", c)
	assert.True(t, h.Leave("general", c))
	assert.False(t, h.Leave("general", c))
}

func TestHubBroadcastIsolatedPerRoom(t *testing.T) {
	h := NewHub()
	reg := NewRegistry()
	c1, w1 := newHubConn(reg, "alice")
	c2, w2 := newHubConn(reg, "bob")
	c3, w3 := newHubConn(reg, "carol")

	h.Join("general", c1)
	h.Join("general", c2)
	h.Join("random", c3)

	h.Broadcast("general", mustEnvelope(EventNewMessage, MessageBody{MessageID: "m1"}), "")

	assert.Equal(t, []string{EventNewMessage}, w1.events())
	assert.Equal(t, []string{EventNewMessage}, w2.events())
	assert.Empty(t, w3.events(), "members of other rooms must not receive the event")
}

func TestHubBroadcastExcludesOrigin(t *testing.T) {
	h := NewHub()
	reg := NewRegistry()
	c1, w1 := newHubConn(reg, "alice")
	c2, w2 := newHubConn(reg, "bob")

	h.Join("general", c1)
	h.Join("general", c2)

	h.Broadcast("general", mustEnvelope(EventUserJoined, PresenceBody{RoomID: "general", UserID: "bob"}), c2.ID)

	assert.Equal(t, []string{EventUserJoined}, w1.events())
	assert.Empty(t, w2.events(), "origin connection must be excluded")
}

func TestHubBroadcastPreservesOrder(t *testing.T) {
	h := NewHub()
	reg := NewRegistry()
	c, w := newHubConn(reg, "alice")
	h.Join("general", c)

	for i := 0; i < 5; i++ {
		body := MessageBody{MessageID: fmt.Sprintf("m%d", i)}
		h.Broadcast("general", mustEnvelope(EventNewMessage, body), "")
	}

	raws := w.bodiesOf(EventNewMessage)
	require.Len(t, raws, 5)
	for i, raw := range raws {
		var got MessageBody
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, fmt.Sprintf("m%d", i), got.MessageID)
	}
}

func TestHubBroadcastSkipsFailedWriter(t *testing.T) {
	h := NewHub()
	reg := NewRegistry()
	c1, w1 := newHubConn(reg, "alice")
	c2, w2 := newHubConn(reg, "bob")
	w1.fail = true

	h.Join("general", c1)
	h.Join("general", c2)

	h.Broadcast("general", mustEnvelope(EventNewMessage, MessageBody{MessageID: "m1"}), "")

	// the failed writer is skipped, not ejected; delivery to others proceeds
	assert.Equal(t, []string{EventNewMessage}, w2.events())
	assert.True(t, h.IsMember("general", c1))
}

func TestHubRosterDistinctUsersSkipsAnonymous(t *testing.T) {
	h := NewHub()
	reg := NewRegistry()
	c1, _ := newHubConn(reg, "alice")
	c2, _ := newHubConn(reg, "alice") // second device, same user
	c3, _ := newHubConn(reg, "bob")
	c4, _ := newHubConn(reg, "") // never identified

	h.Join("general", c1)
	h.Join("general", c2)
	h.Join("general", c3)
	h.Join("general", c4)

	assert.ElementsMatch(t, []string{"alice", "bob"}, h.Roster("general"))
	assert.Empty(t, h.Roster("no-such-room"))
}
