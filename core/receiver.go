package core

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"
)

// runIncoming dials the sender's offered port and reads the file in
// fixed-size chunks into the download directory.
func (e *Engine) runIncoming(t *Task) {
	defer e.finish(t)

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(t.PeerAddr, fmt.Sprintf("%d", t.TCPPort)), dialTimeout)
	if err != nil {
		if !t.Status().Terminal() {
			t.fail(fmt.Errorf("connecting to sender: %w", err))
		}
		return
	}
	defer conn.Close()

	t.setConn(conn)
	if err := t.transition(StatusActive); err != nil {
		return
	}

	path, err := e.destPath(t.FileName)
	if err != nil {
		t.fail(err)
		return
	}

	file, err := os.Create(path)
	if err != nil {
		t.fail(err)
		return
	}
	defer file.Close()

	t.setLocalPath(path)

	sum, err := e.receiveBody(t, conn, file)
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

// receiveBody reads exactly FileSize bytes off the socket, chunk by
// chunk, honoring pause and cancel. A clean close before the full size is
// a short transfer and fails the task.
func (e *Engine) receiveBody(t *Task, conn net.Conn, file *os.File) (string, error) {
	buf := make([]byte, e.chunkSize)
	sum := sha256.New()

	for t.Transferred() < t.FileSize {
		if st := t.awaitActive(); st != StatusActive {
			return "", fmt.Errorf("%w while receiving", ErrCancelled)
		}

		remaining := t.FileSize - t.Transferred()
		chunk := buf
		if remaining < int64(len(buf)) {
			chunk = buf[:remaining]
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			if _, werr := file.Write(chunk[:n]); werr != nil {
				return "", werr
			}
			sum.Write(chunk[:n])
			t.advance(int64(n))
			e.progress(t, false)
		}
		if err != nil {
			if err == io.EOF && t.Transferred() == t.FileSize {
				break
			}
			return "", fmt.Errorf("short transfer at %d/%d bytes: %w", t.Transferred(), t.FileSize, err)
		}
	}

	return checksumHex(sum), nil
}

// destPath joins the download dir and name, deduplicating with a " (n)"
// suffix when the name is already taken. The name comes off the wire, so
// only its base component is ever used; path separators and ".." cannot
// escape the download directory.
func (e *Engine) destPath(name string) (string, error) {
	if err := os.MkdirAll(e.downloadDir, 0755); err != nil {
		return "", err
	}

	name = filepath.Base(name)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("unusable file name %q", name)
	}

	path := filepath.Join(e.downloadDir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path, nil
	}

	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]
	for i := 1; ; i++ {
		path = filepath.Join(e.downloadDir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, nil
		}
		if i > 10000 {
			return "", fmt.Errorf("cannot find a free name for %s", name)
		}
	}
}

// WaitTerminal blocks until the task reaches a terminal state or the
// timeout elapses; used by one-shot senders.
func (t *Task) WaitTerminal(timeout time.Duration) TaskStatus {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if st := t.Status(); st.Terminal() {
			return st
		}
		time.Sleep(50 * time.Millisecond)
	}
	return t.Status()
}
