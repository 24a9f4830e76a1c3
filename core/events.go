package core

import (
	"sync"
	"time"

	"github.com/ipmsg-go/ipmsg/logger"
)

// Presence transition reasons carried by PeerOffline events.
const (
	ReasonExplicit = "explicit"
	ReasonTimeout  = "timeout"
)

type Event interface {
	event()
}

type PeerOnline struct {
	Addr        string
	DisplayName string
	At          time.Time
}

type PeerOffline struct {
	Addr        string
	DisplayName string
	Reason      string
	At          time.Time
}

type MessageReceived struct {
	From        string
	DisplayName string
	Content     string
	PacketID    uint64
	At          time.Time
}

// TransferRequest surfaces an incoming file offer. The task stays Pending
// until an external layer calls Accept or Reject with the task ID.
type TransferRequest struct {
	TaskID   string
	From     string
	FileName string
	FileSize int64
}

type TransferProgress struct {
	TaskID      string
	Transferred int64
	Total       int64
}

type TransferCompleted struct {
	TaskID   string
	FileName string
	Size     int64
	Checksum string
}

type TransferFailed struct {
	TaskID string
	Reason string
}

func (PeerOnline) event()        {}
func (PeerOffline) event()       {}
func (MessageReceived) event()   {}
func (TransferRequest) event()   {}
func (TransferProgress) event()  {}
func (TransferCompleted) event() {}
func (TransferFailed) event()    {}

const subscriberBuffer = 128

// Dispatcher fans events out to subscribers. Delivery is non-blocking: a
// subscriber whose channel is saturated loses events, with a warning, so
// emission can never stall packet processing or a transfer loop.
type Dispatcher struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
	log  logger.Logger
}

func NewDispatcher(log logger.Logger) *Dispatcher {
	return &Dispatcher{
		subs: make(map[int]chan Event),
		log:  log,
	}
}

// Subscribe returns a receive channel and a cancel func. Cancel closes the
// channel; pending events in the buffer remain readable.
func (d *Dispatcher) Subscribe() (<-chan Event, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.next
	d.next++

	ch := make(chan Event, subscriberBuffer)
	d.subs[id] = ch

	cancel := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if sub, ok := d.subs[id]; ok {
			delete(d.subs, id)
			close(sub)
		}
	}

	return ch, cancel
}

// Emit delivers ev to every subscriber. Callers must not hold registry or
// port-pool locks; the dispatcher takes only its own, and sends never
// block, so holding it across the loop cannot deadlock.
func (d *Dispatcher) Emit(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, ch := range d.subs {
		select {
		case ch <- ev:
		default:
			d.log.WithAny("event", ev).Warn("subscriber saturated, event dropped")
		}
	}
}
