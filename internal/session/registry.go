package session

import (
	"os"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const (
	defaultBufferLines     = 1000
	defaultSubscriberDepth = 256
	defaultKillGrace       = 5 * time.Second
)

// Registry is the single source of truth for what is running. It owns
// every session record and the underlying OS processes; everything it
// hands out is a snapshot or an id.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*handle

	shell       string
	bufferLines int
	killGrace   time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithShell sets the shell used to spawn sessions.
func WithShell(shell string) Option {
	return func(r *Registry) {
		if strings.TrimSpace(shell) != "" {
			r.shell = shell
		}
	}
}

// WithBufferLines sets the per-session output retention bound.
func WithBufferLines(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.bufferLines = n
		}
	}
}

// WithKillGrace sets how long a terminated session may linger between
// SIGTERM and SIGKILL.
func WithKillGrace(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.killGrace = d
		}
	}
}

// NewRegistry creates an empty registry. Construct one per process and
// pass it by handle to the controller and gateways.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		handles:     make(map[string]*handle),
		shell:       defaultShell(),
		bufferLines: defaultBufferLines,
		killGrace:   defaultKillGrace,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// Create spawns a new session. With a command the shell runs it via -c
// and exits when it completes; without one an interactive login shell
// is started. The only failure mode is a SpawnError from the OS.
func (r *Registry) Create(req CreateRequest) (Session, error) {
	if req.WorkingDir == "" {
		req.WorkingDir, _ = os.Getwd()
	}
	if req.Title == "" {
		if req.Command != "" {
			req.Title = req.Command
		} else {
			req.Title = r.shell
		}
	}

	id := uuid.New().String()
	h, err := spawn(req, id, r.shell, r.bufferLines)
	if err != nil {
		return Session{}, err
	}

	r.mu.Lock()
	r.handles[id] = h
	r.mu.Unlock()

	go h.waitExit()

	return h.snapshot(), nil
}

// Get returns a snapshot of the session, or false if it is unknown.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	if !ok {
		return Session{}, false
	}
	return h.snapshot(), true
}

// List returns snapshots of all sessions, optionally filtered by
// project, ordered by creation time.
func (r *Registry) List(projectID string) []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.handles))
	for _, h := range r.handles {
		s := h.snapshot()
		if projectID != "" && s.ProjectID != projectID {
			continue
		}
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Write forwards data to the session's stdin. Writing to an unknown or
// already-exited session is a no-op reported as false, never an error.
func (r *Registry) Write(id string, data []byte) bool {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	if !ok || !h.running() {
		return false
	}
	return h.stdin.Write(data)
}

// Kill terminates a session. A running session is marked Exited
// synchronously, so reads taken after Kill returns already reflect it,
// then gets SIGTERM to its process group and SIGKILL after the grace
// period; its exit code lands once the process is reaped. A session
// already marked Exited is removed from the registry. Unknown ids
// report false. Callers must not assume the OS process is gone when
// Kill returns.
func (r *Registry) Kill(id string) bool {
	r.mu.Lock()
	h, ok := r.handles[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if !h.running() {
		delete(r.handles, id)
		r.mu.Unlock()
		return true
	}
	h.terminate()
	r.mu.Unlock()

	h.signal(syscall.SIGTERM)
	go func() {
		time.Sleep(r.killGrace)
		if !h.waitDone() {
			h.signal(syscall.SIGKILL)
			h.cancel()
		}
	}()
	return true
}

// Resize is a reserved contract for terminal geometry. Sessions run on
// plain pipes, not a PTY, so there is no window to resize: the call is
// accepted and reports whether the session exists, with no effect.
func (r *Registry) Resize(id string, cols, rows int) bool {
	_, ok := r.Get(id)
	return ok
}

// Output returns the session's retained output tail, raw and split
// into lines, for pull-based polling clients.
func (r *Registry) Output(id string, maxLines int) (string, []string, bool) {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	if !ok {
		return "", nil, false
	}

	var raw strings.Builder
	for _, c := range h.buf.Tail(maxLines) {
		if c.Stream == StreamExit {
			continue
		}
		raw.WriteString(c.Data)
	}
	return raw.String(), splitLines(raw.String()), true
}

// splitLines turns raw output into display lines, tolerating a missing
// final newline and CRLF endings.
func splitLines(raw string) []string {
	if raw == "" {
		return []string{}
	}
	lines := strings.Split(strings.TrimSuffix(raw, "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// Subscribe attaches a new fan-out channel to the session and returns
// the retained backlog captured before the subscription took effect.
// Multiple subscribers per session are supported; each holds its own
// channel and must Unsubscribe when done.
func (r *Registry) Subscribe(id string) (string, <-chan Chunk, []Chunk, bool) {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	if !ok {
		return "", nil, nil, false
	}

	subID := uuid.New().String()
	ch := make(chan Chunk, defaultSubscriberDepth)

	// Capture the backlog and register under the same lock so no chunk
	// is both replayed and delivered live.
	h.subMu.Lock()
	backlog := h.buf.Snapshot()
	h.subs[subID] = ch
	h.subMu.Unlock()

	return subID, ch, backlog, true
}

// Unsubscribe detaches a subscriber. The underlying process is not
// touched; sessions outlive their viewers.
func (r *Registry) Unsubscribe(id, subID string) {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	h.subMu.Lock()
	if ch, exists := h.subs[subID]; exists {
		delete(h.subs, subID)
		close(ch)
	}
	h.subMu.Unlock()
}

// Close terminates every running session and waits out the kill grace
// for stragglers. Used on process shutdown.
func (r *Registry) Close() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.handles))
	for id, h := range r.handles {
		if h.running() {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Kill(id)
	}

	deadline := time.Now().Add(r.killGrace)
	for time.Now().Before(deadline) {
		if r.allReaped() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}

	r.mu.RLock()
	for _, h := range r.handles {
		if !h.waitDone() {
			h.signal(syscall.SIGKILL)
			h.cancel()
		}
	}
	r.mu.RUnlock()
}

func (r *Registry) allReaped() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.handles {
		if !h.waitDone() {
			return false
		}
	}
	return true
}
