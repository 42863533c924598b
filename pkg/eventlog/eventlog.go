// Package eventlog provides the bounded, filterable transmission log: an
// append-only circular buffer of LogEntry values with FIFO eviction, plus the
// scroll-pinning contract consumed by presentation layers.
package eventlog

import (
	"strings"
	"sync"
	"time"

	"github.com/groundlink/missionwatch/pkg/models"
)

const (
	// DefaultCapacity is used by the minimal transmission log.
	DefaultCapacity = 200

	// ExtendedCapacity is used by the extended comms view.
	ExtendedCapacity = 500
)

// FilterAll is the wildcard value accepted by Filter fields.
const FilterAll = "ALL"

// Log is a capacity-bounded append-only transcript. When full, the oldest
// entry is evicted before inserting.
type Log struct {
	mu       sync.RWMutex
	capacity int
	entries  []models.LogEntry
	head     int
	size     int
	appended uint64
}

// New creates a log with the given capacity. Non-positive capacities fall
// back to DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity: capacity,
		entries:  make([]models.LogEntry, capacity),
	}
}

// Append adds an entry, evicting the oldest when at capacity. A zero
// timestamp is stamped with the current time.
func (l *Log) Append(entry models.LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.appended++
	if l.size < l.capacity {
		l.entries[(l.head+l.size)%l.capacity] = entry
		l.size++
		return
	}
	// Full: overwrite the oldest slot and advance the head.
	l.entries[l.head] = entry
	l.head = (l.head + 1) % l.capacity
}

// Appendf is a convenience for building an entry in one call.
func (l *Log) Appendf(entryType, nodeLabel, message string) {
	l.Append(models.LogEntry{
		Type:      entryType,
		NodeLabel: nodeLabel,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Capacity returns the fixed capacity of the log.
func (l *Log) Capacity() int {
	return l.capacity
}

// TotalAppended returns the lifetime append count, including evicted
// entries. Consumers tailing the log use it to find their delta.
func (l *Log) TotalAppended() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.appended
}

// Entries returns all retained entries, oldest first.
func (l *Log) Entries() []models.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.LogEntry, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.entries[(l.head+i)%l.capacity]
	}
	return out
}

// Filter selects entries matching all populated criteria.
type Filter struct {
	// Type must equal the entry type, or be FilterAll / empty
	Type string

	// NodeLabel must equal the entry's node label, or be FilterAll / empty
	NodeLabel string

	// SearchText, when non-empty, must be a case-insensitive substring of
	// the message or the node label
	SearchText string
}

// matches reports whether a single entry passes every criterion.
func (f Filter) matches(e models.LogEntry) bool {
	if f.Type != "" && f.Type != FilterAll && e.Type != f.Type {
		return false
	}
	if f.NodeLabel != "" && f.NodeLabel != FilterAll && e.NodeLabel != f.NodeLabel {
		return false
	}
	if f.SearchText != "" {
		needle := strings.ToLower(f.SearchText)
		if !strings.Contains(strings.ToLower(e.Message), needle) &&
			!strings.Contains(strings.ToLower(e.NodeLabel), needle) {
			return false
		}
	}
	return true
}

// Filter returns the subsequence of entries matching the filter, in original
// order. The identity filter (ALL/ALL/empty) returns everything.
func (l *Log) Filter(f Filter) []models.LogEntry {
	all := l.Entries()
	out := make([]models.LogEntry, 0, len(all))
	for _, e := range all {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	return out
}
