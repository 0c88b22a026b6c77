package output

import (
	"fmt"
	"sync"
	"time"
)

// DefaultLogSize is the number of lines a LogBuffer keeps.
const DefaultLogSize = 100

// LogEntry is one timestamped line.
type LogEntry struct {
	Time time.Time
	Text string
}

// LogBuffer keeps the most recent lines for periodic draining by a viewer.
// The oldest line is dropped when the buffer is full.
type LogBuffer struct {
	mu      sync.Mutex
	entries []LogEntry
	size    int
	dropped int
	now     func() time.Time
}

// NewLogBuffer returns a buffer holding at most size lines (DefaultLogSize if size < 1).
func NewLogBuffer(size int) *LogBuffer {
	if size < 1 {
		size = DefaultLogSize
	}
	return &LogBuffer{size: size, now: time.Now}
}

// Add appends a line.
func (b *LogBuffer) Add(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == b.size {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:b.size-1]
		b.dropped++
	}
	b.entries = append(b.entries, LogEntry{Time: b.now(), Text: text})
}

// Logf formats and appends a line.
func (b *LogBuffer) Logf(format string, a ...any) {
	b.Add(fmt.Sprintf(format, a...))
}

// Drain returns and clears buffered lines, oldest first.
func (b *LogBuffer) Drain() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.entries
	b.entries = nil
	return out
}

// Len returns the number of buffered lines.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Dropped returns how many lines were discarded because the buffer was full.
func (b *LogBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
