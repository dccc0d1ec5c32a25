// Package logbuffer keeps the most recent output lines of a service.
package logbuffer

import "sync"

// DefaultCapacity is the number of lines retained per service.
const DefaultCapacity = 5000

// Buffer is a fixed-capacity FIFO of lines. Appending to a full buffer
// evicts the oldest line.
type Buffer struct {
	mu    sync.RWMutex
	lines []string
	start int
	size  int
	total uint64
}

// New creates a buffer holding at most capacity lines. A non-positive
// capacity selects DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{lines: make([]string, capacity)}
}

// Append adds a line, evicting the oldest one when full.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.lines)
	if b.size < capacity {
		b.lines[(b.start+b.size)%capacity] = line
		b.size++
	} else {
		b.lines[b.start] = line
		b.start = (b.start + 1) % capacity
	}
	b.total++
}

// Lines returns a copy of the retained lines, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, b.size)
	capacity := len(b.lines)
	for i := 0; i < b.size; i++ {
		out[i] = b.lines[(b.start+i)%capacity]
	}
	return out
}

// Tail returns at most n of the most recent lines.
func (b *Buffer) Tail(n int) []string {
	lines := b.Lines()
	if n <= 0 || n >= len(lines) {
		return lines
	}
	return lines[len(lines)-n:]
}

// Len is the number of retained lines.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity is the maximum number of retained lines.
func (b *Buffer) Capacity() int {
	return len(b.lines)
}

// Total counts every line ever appended, including evicted ones.
func (b *Buffer) Total() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}
