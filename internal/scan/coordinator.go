// Package scan coordinates the long-running project discovery task and
// broadcasts its progress to every attached scanner socket.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// CancelMessage is the scan-error text broadcast when a scan is stopped
// by request rather than by failure. Clients match on it to show a
// neutral message instead of an alarming one.
const CancelMessage = "scan cancelled"

const subscriberDepth = 512

// Phase is the coordinator's state. At most one scan is Running at any
// time system-wide; any terminal phase may re-enter Running via Start.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseCancelled Phase = "cancelled"
	PhaseFailed    Phase = "failed"
)

// ErrAlreadyRunning reports a start request while a scan is in flight.
// The request is a no-op; the running scan keeps its counter.
var ErrAlreadyRunning = errors.New("scan already running")

// Request parameterizes one scan run.
type Request struct {
	Directories []string
	MaxDepth    int
}

// Discovery is one candidate project reported by the Scanner.
type Discovery struct {
	Path string
	Data any
}

// Scanner is the externally supplied directory-discovery routine. It
// must observe ctx for cooperative cancellation and call report for
// each discovery, re-reporting a path to update its data.
type Scanner interface {
	Scan(ctx context.Context, req Request, report func(Discovery)) error
}

// ScannerFunc adapts a function to the Scanner interface.
type ScannerFunc func(ctx context.Context, req Request, report func(Discovery)) error

func (f ScannerFunc) Scan(ctx context.Context, req Request, report func(Discovery)) error {
	return f(ctx, req, report)
}

type subscriber struct {
	id   string
	send chan []byte
}

// Coordinator runs one cancellable scan at a time and fans its progress
// out to every attached socket, replaying current state to sockets that
// attach mid-scan.
type Coordinator struct {
	scanner  Scanner
	defaults Request

	mu        sync.Mutex
	phase     Phase
	total     int
	seen      map[string]struct{}
	cancel    context.CancelFunc
	subs      map[string]*subscriber
	cancelled bool
}

// NewCoordinator creates an idle coordinator. defaults fills in the
// directories and depth of start requests that omit them.
func NewCoordinator(scanner Scanner, defaults Request) *Coordinator {
	return &Coordinator{
		scanner:  scanner,
		defaults: defaults,
		phase:    PhaseIdle,
		seen:     make(map[string]struct{}),
		subs:     make(map[string]*subscriber),
	}
}

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// TotalDiscovered returns the current discovery counter.
func (c *Coordinator) TotalDiscovered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Start begins a new scan, resetting the counter. While a scan is
// Running it returns ErrAlreadyRunning and changes nothing.
func (c *Coordinator) Start(req Request) error {
	if len(req.Directories) == 0 {
		req.Directories = c.defaults.Directories
	}
	if req.MaxDepth <= 0 {
		req.MaxDepth = c.defaults.MaxDepth
	}

	c.mu.Lock()
	if c.phase == PhaseRunning {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.phase = PhaseRunning
	c.total = 0
	c.seen = make(map[string]struct{})
	c.cancel = cancel
	c.cancelled = false
	c.broadcastLocked(startedEvent{Type: eventScanStarted})
	c.mu.Unlock()

	go c.run(ctx, req)
	return nil
}

// Stop requests cooperative cancellation of the in-flight scan. It is a
// no-op unless a scan is Running.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseRunning || c.cancel == nil {
		return
	}
	c.cancelled = true
	c.cancel()
}

// run executes the scanner and always drives the coordinator to a
// terminal phase with a terminal broadcast, even if the routine panics.
func (c *Coordinator) run(ctx context.Context, req Request) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("scan panicked: %v", r)
			}
		}()
		err = c.scanner.Scan(ctx, req, c.report)
	}()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		// Release the context even on natural completion.
		c.cancel()
		c.cancel = nil
	}

	switch {
	case c.cancelled || errors.Is(err, context.Canceled):
		c.phase = PhaseCancelled
		c.broadcastLocked(errorEvent{Type: eventScanError, Error: CancelMessage})
	case err != nil:
		c.phase = PhaseFailed
		slog.Error("scan failed", "error", err)
		c.broadcastLocked(errorEvent{Type: eventScanError, Error: err.Error()})
	default:
		c.phase = PhaseCompleted
		c.broadcastLocked(completedEvent{Type: eventCompleted, TotalDiscovered: c.total})
	}
}

// report handles one discovery from the scanner. First sighting of a
// path increments the counter and broadcasts project-discovered; a
// re-reported path broadcasts project-updated, matched by path.
func (c *Coordinator) report(d Discovery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseRunning {
		return
	}

	if _, known := c.seen[d.Path]; known {
		c.broadcastLocked(updatedEvent{
			Type:        eventUpdated,
			ProjectPath: d.Path,
			ProjectData: d.Data,
		})
		return
	}

	c.seen[d.Path] = struct{}{}
	c.total++
	c.broadcastLocked(discoveredEvent{
		Type:            eventDiscovered,
		ProjectPath:     d.Path,
		ProjectData:     d.Data,
		TotalDiscovered: c.total,
	})
}

// broadcastLocked marshals an event and queues it for every subscriber.
// Callers hold c.mu, which is what guarantees the attach ordering: a
// socket registered under the same lock sees its replayed scan-status
// strictly before any later broadcast.
func (c *Coordinator) broadcastLocked(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal scan event", "error", err)
		return
	}
	for _, sub := range c.subs {
		select {
		case sub.send <- data:
		default:
			slog.Warn("scanner subscriber buffer full, dropping event", "subscriber", sub.id)
		}
	}
}

// sendLocked queues an event for a single subscriber.
func (c *Coordinator) sendLocked(sub *subscriber, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal scan event", "error", err)
		return
	}
	select {
	case sub.send <- data:
	default:
	}
}

// attach registers a socket's outbound queue. The connected ack and,
// while a scan is Running, the scan-status replay are queued under the
// same lock that broadcasts hold, so the replay always precedes the
// next discovery event on that socket.
func (c *Coordinator) attach() *subscriber {
	sub := &subscriber{
		id:   uuid.New().String(),
		send: make(chan []byte, subscriberDepth),
	}

	c.mu.Lock()
	c.subs[sub.id] = sub
	c.sendLocked(sub, connectedEvent{Type: eventConnected})
	if c.phase == PhaseRunning {
		c.sendLocked(sub, statusEvent{
			Type:            eventScanStatus,
			IsScanning:      true,
			TotalDiscovered: c.total,
		})
	}
	c.mu.Unlock()

	return sub
}

// detach removes a subscriber. The coordinator does not own socket
// lifecycles; this is purely the fan-out bookkeeping.
func (c *Coordinator) detach(sub *subscriber) {
	c.mu.Lock()
	if _, ok := c.subs[sub.id]; ok {
		delete(c.subs, sub.id)
		close(sub.send)
	}
	c.mu.Unlock()
}

// SubscriberCount reports how many sockets are attached.
func (c *Coordinator) SubscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// HandleScanner is the WebSocket endpoint shared by all scan clients.
func (c *Coordinator) HandleScanner(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("scanner websocket accept failed", "error", err)
		return
	}

	ctx := r.Context()
	sub := c.attach()
	defer c.detach(sub)

	// Writer: drain the subscriber queue onto the socket.
	writeCtx, stopWriter := context.WithCancel(ctx)
	defer stopWriter()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-writeCtx.Done():
				return
			case data, ok := <-sub.send:
				if !ok {
					return
				}
				if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
					return
				}
			}
		}
	}()

	// Reader: decode control commands until the client goes away.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.mu.Lock()
			c.sendLocked(sub, errorEvent{Type: eventScanError, Error: "invalid command"})
			c.mu.Unlock()
			continue
		}

		switch cmd.Action {
		case actionStartScan:
			req := Request{}
			if cmd.Payload != nil {
				req.Directories = cmd.Payload.Directories
				req.MaxDepth = cmd.Payload.MaxDepth
			}
			if err := c.Start(req); errors.Is(err, ErrAlreadyRunning) {
				// Signal the caller rather than silently ignoring the
				// rejected start: replay the live counter to it.
				c.mu.Lock()
				c.sendLocked(sub, statusEvent{
					Type:            eventScanStatus,
					IsScanning:      true,
					TotalDiscovered: c.total,
				})
				c.mu.Unlock()
			}
		case actionStopScan:
			c.Stop()
		default:
			c.mu.Lock()
			c.sendLocked(sub, errorEvent{Type: eventScanError, Error: "unknown action: " + cmd.Action})
			c.mu.Unlock()
		}
	}

	stopWriter()
	<-writerDone
	conn.Close(websocket.StatusNormalClosure, "")
}
