package session

import (
	"strings"
	"sync"
)

// OutputBuffer retains the most recent output of one session, bounded
// by a line budget. Chunks are stored exactly as produced; the budget
// is measured in completed lines, so the buffer is a live tail of the
// last N lines regardless of how reads were sized. Once over budget,
// the oldest chunk is evicted for every new line.
//
// The buffer is appended to only by the session's own reader goroutines
// and read by any number of concurrent viewers.
type OutputBuffer struct {
	mu       sync.RWMutex
	chunks   []Chunk
	lines    int // retention cost of everything in chunks
	capacity int
}

// NewOutputBuffer creates a buffer retaining at most capacity lines.
func NewOutputBuffer(capacity int) *OutputBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &OutputBuffer{capacity: capacity}
}

// chunkCost is a chunk's share of the line budget: the newlines it
// carries, with unterminated data costing one so runaway partial output
// still evicts. Exit markers are free; they must never push a real
// line out.
func chunkCost(c Chunk) int {
	if c.Stream == StreamExit {
		return 0
	}
	if n := strings.Count(c.Data, "\n"); n > 0 {
		return n
	}
	return 1
}

// Append adds a chunk, evicting the oldest ones once the line budget
// is exceeded. Eviction is whole-chunk, so the bound is exact when
// output arrives line-sized and approximate otherwise.
func (b *OutputBuffer) Append(chunk Chunk) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = append(b.chunks, chunk)
	b.lines += chunkCost(chunk)
	for len(b.chunks) > 1 && b.lines > b.capacity {
		b.lines -= chunkCost(b.chunks[0])
		b.chunks = b.chunks[1:]
	}
}

// Snapshot returns all retained chunks in chronological order.
func (b *OutputBuffer) Snapshot() []Chunk {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Chunk, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// Tail returns the retained chunks covering the last maxLines lines,
// in chronological order. maxLines <= 0 means everything retained.
func (b *OutputBuffer) Tail(maxLines int) []Chunk {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if maxLines <= 0 || b.lines <= maxLines {
		out := make([]Chunk, len(b.chunks))
		copy(out, b.chunks)
		return out
	}

	covered := 0
	start := len(b.chunks)
	for start > 0 && covered < maxLines {
		start--
		covered += chunkCost(b.chunks[start])
	}
	out := make([]Chunk, len(b.chunks)-start)
	copy(out, b.chunks[start:])
	return out
}

// Len reports how many lines are currently retained.
func (b *OutputBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lines
}
