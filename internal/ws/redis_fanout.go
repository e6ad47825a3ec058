package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	roomChannelPrefix = "room:"
	roomChannelSuffix = ":events"

	receiptsStream = "receipts_stream"
)

func roomChannel(roomID string) string {
	return roomChannelPrefix + roomID + roomChannelSuffix
}

// Publisher is the fan-out seam: everything broadcast to a room goes through
// it, so delivery order per room is the order Publish was invoked in.
type Publisher interface {
	// Publish fans env out to every subscriber of roomID, on every
	// instance. originConnID, when non-empty, names the one connection the
	// event must NOT be delivered to (the joiner of a presence event).
	Publish(ctx context.Context, roomID, originConnID string, env Envelope) error
}

// ReceiptSink records client delivery acknowledgements for later
// persistence.
type ReceiptSink interface {
	RecordReceipt(ctx context.Context, messageID, userID string) error
}

// fanoutMessage is the wire format on the "room:<id>:events" channel.
type fanoutMessage struct {
	Origin   string   `json:"origin,omitempty"`
	Envelope Envelope `json:"envelope"`
}

// RedisFanout routes room events through Redis pub/sub so that subscribers
// on other instances see them too; the subscriptionManager on each instance
// replays them into its local Hub.
type RedisFanout struct {
	rdb *redis.Client
}

func NewRedisFanout(rdb *redis.Client) *RedisFanout {
	return &RedisFanout{rdb: rdb}
}

func (f *RedisFanout) Publish(ctx context.Context, roomID, originConnID string, env Envelope) error {
	payload, err := json.Marshal(fanoutMessage{Origin: originConnID, Envelope: env})
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, roomChannel(roomID), payload).Err()
}

func (f *RedisFanout) RecordReceipt(ctx context.Context, messageID, userID string) error {
	return f.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: receiptsStream,
		Values: map[string]any{
			"mid": messageID,
			"uid": userID,
			"at":  time.Now().Unix(),
		},
	}).Err()
}
