package core

import (
	"context"
	"errors"
	"time"

	"github.com/ipmsg-go/ipmsg/logger"
)

// Supervisor runs the two registry maintenance jobs: the timeout check
// that marks stale peers Offline, and the cleanup that evicts long-dead
// entries. The jobs are independent tickers touching the registry only
// through its thread-safe API; a contended registry lock skips the cycle
// instead of blocking it.
type Supervisor struct {
	registry *Registry

	checkEvery   time.Duration
	cleanupEvery time.Duration
	retention    time.Duration

	// peerTimeout is read per cycle so SetPeerTimeout takes effect
	// without a restart.
	peerTimeout func() time.Duration

	log logger.Logger
}

func NewSupervisor(cfg Config, registry *Registry, peerTimeout func() time.Duration, log logger.Logger) *Supervisor {
	return &Supervisor{
		registry:     registry,
		checkEvery:   cfg.TimeoutCheckEvery,
		cleanupEvery: cfg.CleanupEvery,
		retention:    cfg.OfflineRetention,
		peerTimeout:  peerTimeout,
		log:          log,
	}
}

func (s *Supervisor) Run(ctx context.Context) error {
	check := time.NewTicker(s.checkEvery)
	defer check.Stop()

	cleanup := time.NewTicker(s.cleanupEvery)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-check.C:
			if err := s.registry.SweepTimeouts(s.peerTimeout()); errors.Is(err, ErrRegistryBusy) {
				s.log.Warn("registry busy, skipping timeout check cycle")
			}
		case <-cleanup.C:
			if err := s.registry.SweepOffline(s.retention); errors.Is(err, ErrRegistryBusy) {
				s.log.Warn("registry busy, skipping cleanup cycle")
			}
		}
	}
}
