package session

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

const readChunkSize = 4096

// handle wraps one spawned OS process together with its accumulated
// output, stdin writer, and fan-out subscribers. It never leaves the
// registry; callers only see Session snapshots.
type handle struct {
	mu     sync.Mutex
	sess   Session
	reaped bool // cmd.Wait has returned

	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdin  *stdinWriter
	buf    *OutputBuffer

	subMu sync.RWMutex
	subs  map[string]chan Chunk

	exitOnce sync.Once
	readers  sync.WaitGroup
}

// stdinWriter serializes writes to the child's stdin pipe and makes
// writing after close a reported, non-fatal condition.
type stdinWriter struct {
	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
}

func (sw *stdinWriter) Write(data []byte) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return false
	}
	if _, err := sw.w.Write(data); err != nil {
		return false
	}
	return true
}

func (sw *stdinWriter) Close() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if !sw.closed {
		sw.w.Close()
		sw.closed = true
	}
}

// snapshot returns a copy of the session record under the handle lock.
func (h *handle) snapshot() Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sess
}

func (h *handle) running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sess.Status == StatusRunning
}

// waitDone reports whether the OS process has actually been reaped, as
// opposed to merely marked terminated by a kill.
func (h *handle) waitDone() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reaped
}

// readStream forwards one pipe as fast as the process writes it. Each
// read becomes a chunk immediately; a shell prompt or half-written
// progress line reaches subscribers without waiting for a newline.
// Order within a single stream is preserved; stdout and stderr
// interleave arbitrarily.
func (h *handle) readStream(pipe io.Reader, stream Stream) {
	defer h.readers.Done()

	buf := make([]byte, readChunkSize)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			h.publish(Chunk{
				SessionID: h.sess.ID,
				Stream:    stream,
				Data:      string(buf[:n]),
				Timestamp: time.Now().UTC(),
			})
		}
		if err != nil {
			if err != io.EOF {
				slog.Debug("session stream closed with error",
					"session_id", h.sess.ID, "stream", stream, "error", err)
			}
			return
		}
	}
}

// publish retains a chunk and fans it out to every subscriber under
// the subscriber lock, so a concurrent Subscribe sees the chunk either
// in its backlog or live, never both. A subscriber whose channel is
// full has the chunk dropped; a slow viewer cannot stall the readers.
func (h *handle) publish(chunk Chunk) {
	h.subMu.RLock()
	defer h.subMu.RUnlock()

	h.buf.Append(chunk)
	for _, ch := range h.subs {
		select {
		case ch <- chunk:
		default:
		}
	}
}

// signal delivers sig to the child's process group, falling back to the
// child itself when no group exists.
func (h *handle) signal(sig syscall.Signal) {
	if h.cmd.Process == nil {
		return
	}
	pid := h.cmd.Process.Pid
	if err := syscall.Kill(-pid, sig); err != nil {
		_ = h.cmd.Process.Signal(sig)
	}
}

// terminate marks the session Exited immediately, before the OS
// process has been reaped. Reads taken after a kill must reflect it;
// the exit code stays nil until waitExit collects the real one.
func (h *handle) terminate() {
	h.mu.Lock()
	h.sess.Status = StatusExited
	h.mu.Unlock()
}

// markExited records the exit code exactly once, no matter how many
// times the exit is observed. The final exit chunk is retained and
// fanned out exactly once as well; the status flip may already have
// happened via terminate, never more than once in total.
func (h *handle) markExited(code int) {
	h.exitOnce.Do(func() {
		h.mu.Lock()
		h.sess.Status = StatusExited
		h.sess.ExitCode = &code
		h.reaped = true
		h.mu.Unlock()

		h.stdin.Close()

		h.publish(Chunk{
			SessionID: h.sess.ID,
			Stream:    StreamExit,
			Data:      strconv.Itoa(code),
			Timestamp: time.Now().UTC(),
		})
	})
}

// spawn starts the child process for req and returns a live handle.
// The shell runs req.Command via -c when present, otherwise as an
// interactive login shell.
func spawn(req CreateRequest, id, shell string, bufCapacity int) (*handle, error) {
	ctx, cancel := context.WithCancel(context.Background())

	var cmd *exec.Cmd
	if req.Command != "" {
		cmd = exec.CommandContext(ctx, shell, "-c", req.Command)
	} else {
		cmd = exec.CommandContext(ctx, shell, "-l", "-i")
	}
	cmd.Dir = req.WorkingDir
	// Own process group so a kill reaches the whole command chain.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		cancel()
		return nil, &SpawnError{Command: req.Command, Err: err}
	}
	cmd.Stdin = stdinR

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		stdinR.Close()
		stdinW.Close()
		return nil, &SpawnError{Command: req.Command, Err: err}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		stdinR.Close()
		stdinW.Close()
		return nil, &SpawnError{Command: req.Command, Err: err}
	}

	h := &handle{
		sess: Session{
			ID:         id,
			Title:      req.Title,
			WorkingDir: req.WorkingDir,
			ProjectID:  req.ProjectID,
			Command:    req.Command,
			Status:     StatusRunning,
			CreatedAt:  time.Now().UTC(),
		},
		cmd:    cmd,
		cancel: cancel,
		stdin:  &stdinWriter{w: stdinW},
		buf:    NewOutputBuffer(bufCapacity),
		subs:   make(map[string]chan Chunk),
	}

	if err := cmd.Start(); err != nil {
		cancel()
		stdinR.Close()
		stdinW.Close()
		return nil, &SpawnError{Command: req.Command, Err: err}
	}

	// The child holds the read end now.
	stdinR.Close()

	h.readers.Add(2)
	go h.readStream(stdoutPipe, StreamStdout)
	go h.readStream(stderrPipe, StreamStderr)

	return h, nil
}

// waitExit blocks until the child terminates, then records the exit.
// Both pipe readers are drained before Wait is called so subscribers
// see all output before the final event.
func (h *handle) waitExit() {
	h.readers.Wait()
	err := h.cmd.Wait()

	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	h.markExited(code)
	h.cancel()
}
