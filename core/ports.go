package core

import (
	"errors"
	"sync"
)

var ErrNoFreePort = errors.New("no free port in range")

// PortPool hands out TCP ports from a fixed range, one per transfer. The
// mutex guards only the reservation map; binding the port is the caller's
// business so the lock is never held across I/O.
type PortPool struct {
	mu   sync.Mutex
	lo   int
	hi   int
	used map[int]bool
}

func NewPortPool(lo, hi int) *PortPool {
	return &PortPool{
		lo:   lo,
		hi:   hi,
		used: make(map[int]bool),
	}
}

// Acquire reserves the lowest free port in the range.
func (p *PortPool) Acquire() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for port := p.lo; port <= p.hi; port++ {
		if !p.used[port] {
			p.used[port] = true
			return port, nil
		}
	}
	return 0, ErrNoFreePort
}

// Release returns a port to the pool; releasing an unreserved port is a
// no-op.
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.used, port)
}

// InUse reports the number of reserved ports.
func (p *PortPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.used)
}
