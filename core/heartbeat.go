package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ipmsg-go/ipmsg/logger"
)

// Heartbeat periodically broadcasts the local node's presence. Sends are
// best-effort: a failed tick is logged and the next one happens at the
// normal interval.
type Heartbeat struct {
	interval atomic.Int64 // nanoseconds
	ticks    atomic.Uint64

	send     func() error
	registry *Registry
	log      logger.Logger
}

func NewHeartbeat(interval time.Duration, registry *Registry, send func() error, log logger.Logger) (*Heartbeat, error) {
	h := &Heartbeat{
		send:     send,
		registry: registry,
		log:      log,
	}
	if err := h.SetInterval(interval); err != nil {
		return nil, err
	}
	return h, nil
}

// SetInterval changes the broadcast cadence, applied from the next tick.
func (h *Heartbeat) SetInterval(interval time.Duration) error {
	if interval < MinHeartbeatInterval || interval > MaxHeartbeatInterval {
		return fmt.Errorf("%w: heartbeat interval %s outside [%s, %s]",
			ErrInvalidConfig, interval, MinHeartbeatInterval, MaxHeartbeatInterval)
	}
	h.interval.Store(int64(interval))
	return nil
}

func (h *Heartbeat) Interval() time.Duration {
	return time.Duration(h.interval.Load())
}

// Ticks returns the number of heartbeats attempted since start.
func (h *Heartbeat) Ticks() uint64 { return h.ticks.Load() }

// Run broadcasts once immediately, then on every interval until ctx is
// cancelled.
func (h *Heartbeat) Run(ctx context.Context) error {
	h.tick()

	timer := time.NewTimer(h.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			h.tick()
			timer.Reset(h.Interval())
		}
	}
}

func (h *Heartbeat) tick() {
	h.ticks.Add(1)
	h.registry.TouchLocal()

	if err := h.send(); err != nil {
		h.log.WithErr(err).Warn("presence broadcast failed")
	}
}
