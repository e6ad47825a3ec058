package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// roomSubscriber is what the server needs from the subscription layer; tests
// plug in a no-op.
type roomSubscriber interface {
	Subscribe(roomID string)
	Unsubscribe(roomID string)
}

// subscriptionManager guarantees that we have **exactly one** Redis
// subscription per "room:<id>:events" channel ― no matter how many websocket
// clients join the same room on this instance.
type subscriptionManager struct {
	rdb  *redis.Client
	hub  *Hub
	mu   sync.Mutex
	subs map[string]*subEntry // roomID ➜ subscription data
}

type subEntry struct {
	refCnt int
	cancel context.CancelFunc
}

func newSubscriptionManager(rdb *redis.Client, hub *Hub) *subscriptionManager {
	return &subscriptionManager{
		rdb:  rdb,
		hub:  hub,
		subs: make(map[string]*subEntry),
	}
}

// Subscribe ensures that the process is subscribed to the room’s channel;
// subsequent calls for the same room only increment the ref‑counter.
func (sm *subscriptionManager) Subscribe(roomID string) {
	sm.mu.Lock()
	if e, ok := sm.subs[roomID]; ok {
		e.refCnt++
		sm.mu.Unlock()
		return
	}

	// First consumer → create Redis SUB and fan‑out loop.
	ctx, cancel := context.WithCancel(context.Background())
	ps := sm.rdb.Subscribe(ctx, roomChannel(roomID))

	sm.subs[roomID] = &subEntry{refCnt: 1, cancel: cancel}
	sm.mu.Unlock()

	go func() {
		defer ps.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ps.Channel():
				if !ok { // Redis connection closed.
					return
				}

				var fm fanoutMessage
				if err := json.Unmarshal([]byte(m.Payload), &fm); err != nil {
					zap.L().Warn("ws.fanout_decode_failed", zap.Error(err))
					continue
				}
				sm.hub.Broadcast(roomID, fm.Envelope, fm.Origin)
			}
		}
	}()
}

// Unsubscribe decrements the ref‑counter and tears the Redis SUB down when the
// last websocket client leaves the room.
func (sm *subscriptionManager) Unsubscribe(roomID string) {
	sm.mu.Lock()
	e, ok := sm.subs[roomID]
	if !ok {
		sm.mu.Unlock()
		return
	}
	e.refCnt--
	if e.refCnt > 0 {
		sm.mu.Unlock()
		return
	}
	delete(sm.subs, roomID)
	sm.mu.Unlock()

	// Outside the lock → stop the fan‑out goroutine.
	e.cancel()
}
