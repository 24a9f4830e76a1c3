package core

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Direction int

const (
	DirectionOutgoing Direction = iota
	DirectionIncoming
)

func (d Direction) String() string {
	if d == DirectionIncoming {
		return "incoming"
	}
	return "outgoing"
}

type TaskStatus int

const (
	StatusPending TaskStatus = iota
	StatusActive
	StatusPaused
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s TaskStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether the status is final. Terminal states are
// immutable once reached.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var (
	ErrUnknownTask       = errors.New("unknown task")
	ErrInvalidTransition = errors.New("invalid task transition")
	ErrCancelled         = errors.New("transfer cancelled")
)

// Task tracks one file transfer. Status transitions are monotonic —
// pending, active, then a terminal state — except the active/paused
// cycle. Transferred never decreases and never exceeds FileSize.
type Task struct {
	ID        string
	Direction Direction
	PeerAddr  string
	FileName  string
	FileSize  int64
	TCPPort   int
	CreatedAt time.Time

	// localPath is the source file (outgoing) or destination file
	// (incoming, set once the offer is accepted).
	localPath string

	mu          sync.Mutex
	cond        *sync.Cond
	status      TaskStatus
	claimed     bool
	transferred int64
	checksum    string
	err         error
	updatedAt   time.Time
	lastEmit    time.Time
	conn        net.Conn
	closer      func() // extra resource closed on cancel (listener)
}

func newTask(direction Direction, peerAddr, fileName string, fileSize int64) *Task {
	t := &Task{
		ID:        uuid.NewString(),
		Direction: direction,
		PeerAddr:  peerAddr,
		FileName:  fileName,
		FileSize:  fileSize,
		CreatedAt: time.Now(),
		status:    StatusPending,
		updatedAt: time.Now(),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Task) Transferred() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferred
}

func (t *Task) Checksum() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checksum
}

func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Task) UpdatedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updatedAt
}

var validTransitions = map[TaskStatus][]TaskStatus{
	StatusPending: {StatusActive, StatusFailed, StatusCancelled},
	StatusActive:  {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:  {StatusActive, StatusFailed, StatusCancelled},
}

func (t *Task) transition(to TaskStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(to)
}

func (t *Task) transitionLocked(to TaskStatus) error {
	for _, next := range validTransitions[t.status] {
		if next == to {
			t.status = to
			t.updatedAt = time.Now()
			t.cond.Broadcast()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.status, to)
}

// claim takes exclusive ownership of a Pending task. Exactly one caller
// wins; Accept, Reject and Cancel race through here so a pending task
// gets exactly one transfer goroutine or one terminal event, never both.
func (t *Task) claim() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusPending || t.claimed {
		return false
	}
	t.claimed = true
	return true
}

// advance records n more transferred bytes, clamped to FileSize.
func (t *Task) advance(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transferred += n
	if t.transferred > t.FileSize {
		t.transferred = t.FileSize
	}
	t.updatedAt = time.Now()
}

// awaitActive blocks while the task is paused and returns the status that
// ended the wait.
func (t *Task) awaitActive() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.status == StatusPaused {
		t.cond.Wait()
	}
	return t.status
}

// shouldEmitProgress rate-limits progress events to one per minInterval;
// the caller emits a final unconditional event at completion.
func (t *Task) shouldEmitProgress(minInterval time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if now.Sub(t.lastEmit) < minInterval {
		return false
	}
	t.lastEmit = now
	return true
}

func (t *Task) setLocalPath(path string) {
	t.mu.Lock()
	t.localPath = path
	t.mu.Unlock()
}

// LocalPath is the source file of an outgoing task, or the destination of
// an incoming one once accepted.
func (t *Task) LocalPath() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.localPath
}

func (t *Task) setConn(conn net.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
}

func (t *Task) setCloser(fn func()) {
	t.mu.Lock()
	t.closer = fn
	t.mu.Unlock()
}

func (t *Task) fail(err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.transitionLocked(StatusFailed) != nil {
		return false
	}
	t.err = err
	return true
}

func (t *Task) complete(checksum string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	t.checksum = checksum
	return nil
}

// cancel moves the task to Cancelled and tears down its socket so any
// blocked I/O unblocks. Idempotent and safe from any goroutine.
func (t *Task) cancel(reason error) {
	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return
	}
	t.status = StatusCancelled
	t.err = reason
	t.updatedAt = time.Now()
	t.cond.Broadcast()
	conn := t.conn
	closer := t.closer
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if closer != nil {
		closer()
	}
}
