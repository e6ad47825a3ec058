package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisFanoutPublishesOnRoomChannel(t *testing.T) {
	db, mock := redismock.NewClientMock()
	f := NewRedisFanout(db)

	env := mustEnvelope(EventNewMessage, MessageBody{
		MessageID: "msg-001",
		RoomID:    "general",
		SenderID:  "alice",
		Content:   "hi",
		CreatedAt: time.Date(2025, 7, 27, 16, 5, 5, 0, time.UTC),
	})
	payload, err := json.Marshal(fanoutMessage{Origin: "conn-1", Envelope: env})
	require.NoError(t, err)

	mock.ExpectPublish("room:general:events", payload).SetVal(1)

	require.NoError(t, f.Publish(context.Background(), "general", "conn-1", env))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRoomChannelName(t *testing.T) {
	require.Equal(t, "room:general:events", roomChannel("general"))
}
