package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipmsg-go/ipmsg/logger"
)

func testHeartbeatRegistry() *Registry {
	local := &Peer{Addr: "192.168.1.1", Username: "self"}
	return NewRegistry(local, NewDispatcher(logger.Discard()), logger.Discard())
}

func TestHeartbeatIntervalValidation(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		wantErr  bool
	}{
		{name: "too short", interval: 5 * time.Second, wantErr: true},
		{name: "lower bound", interval: 10 * time.Second, wantErr: false},
		{name: "upper bound", interval: 600 * time.Second, wantErr: false},
		{name: "too long", interval: 601 * time.Second, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHeartbeat(tt.interval, testHeartbeatRegistry(), func() error { return nil }, logger.Discard())
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHeartbeatRejectedIntervalKeepsPrevious(t *testing.T) {
	h, err := NewHeartbeat(60*time.Second, testHeartbeatRegistry(), func() error { return nil }, logger.Discard())
	require.NoError(t, err)

	assert.ErrorIs(t, h.SetInterval(time.Second), ErrInvalidConfig)
	assert.Equal(t, 60*time.Second, h.Interval())
}

func TestHeartbeatBroadcastsImmediatelyAndCounts(t *testing.T) {
	var sends atomic.Int64
	h, err := NewHeartbeat(60*time.Second, testHeartbeatRegistry(), func() error {
		sends.Add(1)
		return nil
	}, logger.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx)
	}()

	require.Eventually(t, func() bool { return sends.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), h.Ticks())

	cancel()
	<-done
}

func TestHeartbeatSurvivesSendFailure(t *testing.T) {
	reg := testHeartbeatRegistry()

	var sends atomic.Int64
	h, err := NewHeartbeat(60*time.Second, reg, func() error {
		sends.Add(1)
		return errors.New("network down")
	}, logger.Discard())
	require.NoError(t, err)

	// Failed sends still count as attempted ticks and still refresh the
	// sentinel.
	before := time.Now()
	h.tick()
	h.tick()

	assert.Equal(t, int64(2), sends.Load())
	assert.Equal(t, uint64(2), h.Ticks())

	local, _ := reg.Get("192.168.1.1")
	assert.False(t, local.LastSeen.Before(before))
}
