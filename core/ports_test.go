package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortPoolAcquireRelease(t *testing.T) {
	p := NewPortPool(8000, 8002)

	a, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 8000, a)

	b, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 8001, b)

	p.Release(a)

	c, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 8000, c, "released ports are reused")
	assert.Equal(t, 2, p.InUse())
}

func TestPortPoolExhaustion(t *testing.T) {
	p := NewPortPool(8000, 8001)

	_, err := p.Acquire()
	require.NoError(t, err)
	_, err = p.Acquire()
	require.NoError(t, err)

	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrNoFreePort)
}

func TestPortPoolConcurrentAcquire(t *testing.T) {
	p := NewPortPool(8000, 8099)

	var wg sync.WaitGroup
	seen := make(chan int, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			port, err := p.Acquire()
			if err == nil {
				seen <- port
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int]bool)
	for port := range seen {
		assert.False(t, unique[port], "port handed out twice")
		unique[port] = true
	}
	assert.Len(t, unique, 100)
}
