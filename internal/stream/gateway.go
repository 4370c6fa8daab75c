// Package stream bridges WebSocket connections to live session output
// and forwards client keystrokes into the process.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/user/devdeck/internal/session"
)

// Close reasons sent with a policy-violation close (code 1008).
const (
	reasonIDRequired      = "Terminal ID is required"
	reasonNotFound        = "Terminal not found"
	reasonProcessNotFound = "Terminal process not found"
)

// Gateway attaches sockets to sessions in the registry. Each connection
// serves exactly one session, named by the required id query parameter.
type Gateway struct {
	registry *session.Registry
}

// NewGateway creates a Gateway over the given registry.
func NewGateway(registry *session.Registry) *Gateway {
	return &Gateway{registry: registry}
}

// HandleTerminal is the per-session WebSocket endpoint. Process output
// flows to the socket verbatim in the order produced per stream; socket
// messages flow verbatim into the process stdin. Closing the socket
// detaches the viewer but never kills the session.
func (g *Gateway) HandleTerminal(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("terminal websocket accept failed", "error", err)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		conn.Close(websocket.StatusPolicyViolation, reasonIDRequired)
		return
	}

	sess, ok := g.registry.Get(id)
	if !ok {
		conn.Close(websocket.StatusPolicyViolation, reasonNotFound)
		return
	}

	subID, chunks, backlog, ok := g.registry.Subscribe(id)
	if !ok {
		conn.Close(websocket.StatusPolicyViolation, reasonProcessNotFound)
		return
	}
	defer g.registry.Unsubscribe(id, subID)

	ctx := r.Context()

	if err := writeLine(ctx, conn, fmt.Sprintf("Connected to terminal: %s\r\n", sess.Title)); err != nil {
		return
	}

	// Replay the queued backlog before live forwarding begins.
	for _, chunk := range backlog {
		if err := writeChunk(ctx, conn, chunk); err != nil {
			return
		}
		if chunk.Stream == session.StreamExit {
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}

	// Writer: forward live chunks until the process exits or the
	// client goes away.
	writeCtx, stopWriter := context.WithCancel(ctx)
	defer stopWriter()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-writeCtx.Done():
				return
			case chunk, ok := <-chunks:
				if !ok {
					return
				}
				if err := writeChunk(writeCtx, conn, chunk); err != nil {
					return
				}
				if chunk.Stream == session.StreamExit {
					conn.Close(websocket.StatusNormalClosure, "")
					return
				}
			}
		}
	}()

	// Reader: forward inbound frames byte-for-byte to stdin. A write
	// to a dead session is a no-op, not an error.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		g.registry.Write(id, data)
	}

	stopWriter()
	<-writerDone
	conn.Close(websocket.StatusNormalClosure, "")
}

// writeChunk sends one output chunk as a text frame. Process output is
// forwarded byte-for-byte as produced; only the synthetic final line
// carrying the exit code adds its own framing.
func writeChunk(ctx context.Context, conn *websocket.Conn, chunk session.Chunk) error {
	if chunk.Stream == session.StreamExit {
		return writeLine(ctx, conn, fmt.Sprintf("\r\n[Process exited with code %s]\r\n", chunk.Data))
	}
	return writeLine(ctx, conn, chunk.Data)
}

func writeLine(ctx context.Context, conn *websocket.Conn, line string) error {
	return conn.Write(ctx, websocket.MessageText, []byte(line))
}
