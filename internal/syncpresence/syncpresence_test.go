package syncpresence

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/require"
)

type fakeRoster struct {
	rooms map[string][]string
}

func (f fakeRoster) ActiveRooms() []string {
	out := make([]string, 0, len(f.rooms))
	for id := range f.rooms {
		out = append(out, id)
	}
	return out
}

func (f fakeRoster) Roster(roomID string) []string { return f.rooms[roomID] }

func TestMirrorOnceWritesTTLdSet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	src := fakeRoster{rooms: map[string][]string{
		"general": {"alice", "bob"},
	}}

	mock.ExpectDel("presence:room:general").SetVal(1)
	mock.ExpectSAdd("presence:room:general", "alice", "bob").SetVal(2)
	mock.ExpectExpire("presence:room:general", 30*time.Second).SetVal(true)

	mirrorOnce(context.Background(), db, src, 30*time.Second)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMirrorOnceNoRoomsNoRoundTrip(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mirrorOnce(context.Background(), db, fakeRoster{}, 30*time.Second)
	require.NoError(t, mock.ExpectationsWereMet())
}
