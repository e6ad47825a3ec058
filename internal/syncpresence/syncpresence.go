package syncpresence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "presence:room:"

// rosterSource is the slice of the hub this mirror needs.
type rosterSource interface {
	ActiveRooms() []string
	Roster(roomID string) []string
}

// Run mirrors each active room's presence roster into a TTL'd Redis set every
// interval, so out-of-process consumers (dashboards, other services) can read
// presence without holding a websocket. The mirror is advisory: the in-memory
// hub stays the source of truth and an expired key simply means the instance
// stopped reporting.
func Run(ctx context.Context, rdc *redis.Client, hub rosterSource, interval time.Duration) {
	ttl := 3 * interval
	tk := time.NewTicker(interval)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				mirrorOnce(ctx, rdc, hub, ttl)
			}
		}
	}()
}

func mirrorOnce(ctx context.Context, rdc *redis.Client, hub rosterSource, ttl time.Duration) {
	rooms := hub.ActiveRooms()
	if len(rooms) == 0 {
		return
	}

	// one pipelined round-trip for all rooms
	pipe := rdc.Pipeline()
	for _, roomID := range rooms {
		users := hub.Roster(roomID)
		if len(users) == 0 {
			continue
		}
		members := make([]any, len(users))
		for i, u := range users {
			members[i] = u
		}
		key := keyPrefix + roomID
		pipe.Del(ctx, key)
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		zap.L().Error("syncpresence.pipeline", zap.Error(err))
	}
}
