package core

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ipmsg-go/ipmsg/logger"
)

var (
	ErrNotPending   = errors.New("task is not pending")
	ErrNotIncoming  = errors.New("task is not an incoming transfer")
	ErrRejected     = errors.New("rejected by peer")
	ErrMalformedExt = errors.New("malformed file extension fields")
)

const (
	acceptTimeout = 60 * time.Second
	dialTimeout   = 30 * time.Second

	// progressEvery bounds the rate of TransferProgress events per task.
	progressEvery = 100 * time.Millisecond
)

// Engine coordinates file transfers: UDP handshake packets carry the
// offer and decline, the payload moves over an ad-hoc TCP connection on a
// port from the pool. Every task runs on its own goroutine; the engine
// mutex guards only the task map.
type Engine struct {
	mu    sync.Mutex
	tasks map[string]*Task

	ports    *PortPool
	dispatch *Dispatcher
	log      logger.Logger

	chunkSize   int
	downloadDir string

	// sendOffer and sendDecline put handshake packets on the wire; wired
	// by the Client so the engine stays free of codec and socket
	// concerns.
	sendOffer   func(peerAddr string, ext []string) error
	sendDecline func(peerAddr, taskID string) error
}

func NewEngine(cfg Config, dispatch *Dispatcher, log logger.Logger,
	sendOffer func(peerAddr string, ext []string) error,
	sendDecline func(peerAddr, taskID string) error,
) *Engine {
	return &Engine{
		tasks:       make(map[string]*Task),
		ports:       NewPortPool(cfg.PortRangeLo, cfg.PortRangeHi),
		dispatch:    dispatch,
		log:         log,
		chunkSize:   cfg.ChunkSize,
		downloadDir: cfg.DownloadDir,
		sendOffer:   sendOffer,
		sendDecline: sendDecline,
	}
}

// Task returns the live task for id; the task's own accessors are
// thread-safe.
func (e *Engine) Task(id string) (*Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	return t, ok
}

// Tasks returns all tasks ordered by creation time.
func (e *Engine) Tasks() []*Task {
	e.mu.Lock()
	tasks := make([]*Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		tasks = append(tasks, t)
	}
	e.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks
}

func (e *Engine) register(t *Task) {
	e.mu.Lock()
	e.tasks[t.ID] = t
	e.mu.Unlock()
}

// offerExtensions builds the handshake extension fields:
// task_id:file_name:size:port.
func offerExtensions(t *Task) []string {
	return []string{
		t.ID,
		t.FileName,
		strconv.FormatInt(t.FileSize, 10),
		strconv.Itoa(t.TCPPort),
	}
}

// parseOfferExtensions is the inverse of offerExtensions.
func parseOfferExtensions(ext []string) (id, name string, size int64, port int, err error) {
	if len(ext) != 4 {
		return "", "", 0, 0, fmt.Errorf("%w: %d of 4 fields", ErrMalformedExt, len(ext))
	}
	size, err = strconv.ParseInt(ext[2], 10, 64)
	if err != nil || size < 0 {
		return "", "", 0, 0, fmt.Errorf("%w: size %q", ErrMalformedExt, ext[2])
	}
	port, err = strconv.Atoi(ext[3])
	if err != nil || port <= 0 || port > 65535 {
		return "", "", 0, 0, fmt.Errorf("%w: port %q", ErrMalformedExt, ext[3])
	}
	if ext[0] == "" || ext[1] == "" {
		return "", "", 0, 0, fmt.Errorf("%w: empty id or name", ErrMalformedExt)
	}
	return ext[0], ext[1], size, port, nil
}

// OnOffer handles an inbound file-attach packet: it registers a Pending
// incoming task and surfaces it as a TransferRequest event. No TCP
// connection is opened until Accept.
func (e *Engine) OnOffer(pkt *Packet, srcAddr string) {
	id, name, size, port, err := parseOfferExtensions(pkt.Extensions)
	if err != nil {
		e.log.WithErr(err).WithStr("from", srcAddr).Warn("dropping malformed file offer")
		return
	}

	e.mu.Lock()
	if _, dup := e.tasks[id]; dup {
		e.mu.Unlock()
		return
	}
	t := newTask(DirectionIncoming, srcAddr, name, size)
	t.ID = id // correlate with the sender's task
	t.TCPPort = port
	e.tasks[id] = t
	e.mu.Unlock()

	e.dispatch.Emit(TransferRequest{
		TaskID:   t.ID,
		From:     srcAddr,
		FileName: name,
		FileSize: size,
	})
}

// OnDecline handles an inbound decline for one of our outgoing offers.
func (e *Engine) OnDecline(taskID string) {
	t, ok := e.Task(taskID)
	if !ok || t.Direction != DirectionOutgoing {
		return
	}
	t.cancel(ErrRejected)
}

// Accept opens the TCP connection for a pending incoming offer and starts
// receiving on its own goroutine.
func (e *Engine) Accept(taskID string) error {
	t, ok := e.Task(taskID)
	if !ok {
		return ErrUnknownTask
	}
	if t.Direction != DirectionIncoming {
		return ErrNotIncoming
	}
	if !t.claim() {
		return fmt.Errorf("%w: %s", ErrNotPending, t.Status())
	}

	go e.runIncoming(t)
	return nil
}

// Reject declines a pending incoming offer over UDP and cancels the task.
// No TCP connection is ever opened.
func (e *Engine) Reject(taskID string) error {
	t, ok := e.Task(taskID)
	if !ok {
		return ErrUnknownTask
	}
	if t.Direction != DirectionIncoming {
		return ErrNotIncoming
	}
	if !t.claim() {
		return fmt.Errorf("%w: %s", ErrNotPending, t.Status())
	}

	if err := e.sendDecline(t.PeerAddr, t.ID); err != nil {
		e.log.WithErr(err).WithStr("task", t.ID).Warn("failed to send decline")
	}

	t.cancel(ErrRejected)
	e.finish(t)
	return nil
}

// Cancel aborts a task from any state, closing its socket immediately.
// Idempotent; cancelling a terminal task is a no-op.
func (e *Engine) Cancel(taskID string) error {
	t, ok := e.Task(taskID)
	if !ok {
		return ErrUnknownTask
	}

	// An unclaimed pending incoming task has no transfer goroutine to
	// report the terminal state; a claimed one is the goroutine's to
	// finish.
	unclaimed := t.Direction == DirectionIncoming && t.claim()
	t.cancel(ErrCancelled)
	if unclaimed {
		e.finish(t)
	}
	return nil
}

// Pause suspends the chunk loop without closing the socket.
func (e *Engine) Pause(taskID string) error {
	t, ok := e.Task(taskID)
	if !ok {
		return ErrUnknownTask
	}
	return t.transition(StatusPaused)
}

// Resume continues a paused chunk loop.
func (e *Engine) Resume(taskID string) error {
	t, ok := e.Task(taskID)
	if !ok {
		return ErrUnknownTask
	}
	return t.transition(StatusActive)
}

func (e *Engine) progress(t *Task, final bool) {
	if !final && !t.shouldEmitProgress(progressEvery) {
		return
	}
	e.dispatch.Emit(TransferProgress{
		TaskID:      t.ID,
		Transferred: t.Transferred(),
		Total:       t.FileSize,
	})
}

// finish emits the terminal event for a task.
func (e *Engine) finish(t *Task) {
	switch t.Status() {
	case StatusCompleted:
		e.dispatch.Emit(TransferCompleted{
			TaskID:   t.ID,
			FileName: t.FileName,
			Size:     t.FileSize,
			Checksum: t.Checksum(),
		})
	case StatusFailed, StatusCancelled:
		reason := "transfer aborted"
		if err := t.Err(); err != nil {
			reason = err.Error()
		}
		e.dispatch.Emit(TransferFailed{TaskID: t.ID, Reason: reason})
	}
}
