package ws

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LivenessMonitor runs the per-connection heartbeat cycle:
// ALIVE → (beat sent, no ack) → SUSPECT → (second miss) → DEAD → reaped.
// A reap is the only path by which an ungraceful disconnect becomes a normal
// leave from the other members' viewpoint.
type LivenessMonitor struct {
	registry *Registry
	interval time.Duration
	reap     func(*Conn)
}

func NewLivenessMonitor(registry *Registry, interval time.Duration, reap func(*Conn)) *LivenessMonitor {
	return &LivenessMonitor{registry: registry, interval: interval, reap: reap}
}

func (m *LivenessMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *LivenessMonitor) sweep() {
	beat := Envelope{Event: EventHeartbeat}

	for _, c := range m.registry.All() {
		if c.misses() >= maxMissedBeats {
			zap.L().Info("ws.liveness_reap", zap.String("conn_id", c.ID))
			m.reap(c)
			continue
		}
		c.markBeatSent()
		if err := c.push(beat); err != nil {
			// The write failure alone is not fatal; the missed-ack
			// counter converges on DEAD within two sweeps anyway.
			zap.L().Debug("ws.heartbeat_push", zap.String("conn_id", c.ID), zap.Error(err))
		}
	}
}
