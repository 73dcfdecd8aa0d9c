// Package logreporter is the platform's own log-shipping agent: a bounded
// buffer fed by the application's log handler, and a dispatcher that
// periodically snapshots, filters, classifies, and POSTs batches to the
// telemetry ingestion endpoint.
package logreporter

import "sync"

// Record is a single buffered log line awaiting dispatch.
type Record struct {
	Severity  Severity
	EventID   int
	Category  string
	Message   string
	Tenant    string
	TimestampUnix int64
}

// Buffer is a bounded, thread-safe FIFO. Overflow drops the oldest record.
type Buffer struct {
	mu       sync.Mutex
	items    []Record
	capacity int
}

// NewBuffer creates a Buffer with the given capacity, clamped to a minimum
// of 100.
func NewBuffer(capacity int) *Buffer {
	if capacity < 100 {
		capacity = 100
	}
	return &Buffer{items: make([]Record, 0, capacity), capacity: capacity}
}

// Add appends a record, dropping the oldest if the buffer is full.
func (b *Buffer) Add(r Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) >= b.capacity {
		b.items = b.items[1:]
	}
	b.items = append(b.items, r)
}

// Snapshot returns a non-destructive, oldest-to-newest copy of the buffer.
func (b *Buffer) Snapshot() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Record(nil), b.items...)
}

// PeekBatch returns (without removing) up to n records from the head.
func (b *Buffer) PeekBatch(n int) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.items) {
		n = len(b.items)
	}
	return append([]Record(nil), b.items[:n]...)
}

// RemoveBatch removes up to n records from the head.
func (b *Buffer) RemoveBatch(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.items) {
		n = len(b.items)
	}
	b.items = b.items[n:]
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = b.items[:0]
}

// Len reports the current buffer length.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
