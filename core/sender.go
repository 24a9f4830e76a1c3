package core

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"
)

var ErrNotRegularFile = errors.New("not a regular file")

// RequestSend offers path to the peer at peerAddr: it reserves a TCP port,
// starts listening on it, sends the UDP offer, and waits for the peer to
// connect on a dedicated goroutine. The returned task is Pending until the
// peer accepts.
func (e *Engine) RequestSend(peerAddr, path string) (*Task, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}

	port, err := e.ports.Acquire()
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		e.ports.Release(port)
		return nil, err
	}

	t := newTask(DirectionOutgoing, peerAddr, filepath.Base(path), info.Size())
	t.TCPPort = port
	t.localPath = path
	t.setCloser(func() { ln.Close() })
	e.register(t)

	if err := e.sendOffer(peerAddr, offerExtensions(t)); err != nil {
		ln.Close()
		e.ports.Release(port)
		t.fail(fmt.Errorf("offer send failed: %w", err))
		return nil, err
	}

	go e.runOutgoing(t, ln.(*net.TCPListener))
	return t, nil
}

// runOutgoing waits for the peer to dial the offered port, then streams
// the file in fixed-size chunks. The port is released and the sockets
// closed on every exit path.
func (e *Engine) runOutgoing(t *Task, ln *net.TCPListener) {
	defer func() {
		ln.Close()
		e.ports.Release(t.TCPPort)
		e.finish(t)
	}()

	ln.SetDeadline(time.Now().Add(acceptTimeout))

	conn, err := ln.Accept()
	if err != nil {
		// A decline or local cancel closes the listener while we block
		// here; keep that terminal state instead of reporting a failure.
		if !t.Status().Terminal() {
			t.fail(fmt.Errorf("waiting for peer: %w", err))
		}
		return
	}
	defer conn.Close()

	t.setConn(conn)
	if err := t.transition(StatusActive); err != nil {
		return
	}

	file, err := os.Open(t.localPath)
	if err != nil {
		t.fail(err)
		return
	}
	defer file.Close()

	sum, err := e.stream(t, file, conn)
	if err != nil {
		if !t.Status().Terminal() {
			t.fail(err)
		}
		return
	}

	if err := t.complete(sum); err == nil {
		e.progress(t, true)
	}
}

// stream copies src to dst chunk by chunk, honoring pause and cancel,
// advancing the task's byte count and emitting rate-limited progress
// events. It returns the hex sha256 of the payload.
func (e *Engine) stream(t *Task, src io.Reader, dst io.Writer) (string, error) {
	buf := make([]byte, e.chunkSize)
	sum := sha256.New()

	for t.Transferred() < t.FileSize {
		if st := t.awaitActive(); st != StatusActive {
			return "", fmt.Errorf("%w while streaming", ErrCancelled)
		}

		remaining := t.FileSize - t.Transferred()
		chunk := buf
		if remaining < int64(len(buf)) {
			chunk = buf[:remaining]
		}

		n, err := io.ReadFull(src, chunk)
		if n > 0 {
			if _, werr := dst.Write(chunk[:n]); werr != nil {
				return "", werr
			}
			sum.Write(chunk[:n])
			t.advance(int64(n))
			e.progress(t, false)
		}
		if err != nil {
			return "", err
		}
	}

	return checksumHex(sum), nil
}

func checksumHex(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
