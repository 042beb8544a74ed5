// Package activity implements the append-only, newest-first activity log.
package activity

import (
	"fmt"
	"sync"
	"time"

	"lifeops-voice-agent/internal/models"
)

// Sink receives every entry after it has been committed to the log.
type Sink interface {
	OnLogEntry(entry models.LogEntry)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(entry models.LogEntry)

// OnLogEntry calls f(entry).
func (f SinkFunc) OnLogEntry(entry models.LogEntry) { f(entry) }

// Log is the session activity log. Entries are never evicted.
// Thread-safe for concurrent access.
type Log struct {
	mu      sync.RWMutex
	entries []models.LogEntry
	now     func() time.Time
	sinks   []Sink
}

// New creates an empty log stamped with the wall clock.
func New() *Log {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty log using now for timestamps.
func NewWithClock(now func() time.Time) *Log {
	return &Log{now: now}
}

// AddSink registers a sink. Sinks are called synchronously, outside the lock,
// in registration order.
func (l *Log) AddSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// Append inserts a new entry at the head of the log and returns it.
func (l *Log) Append(message string, typ models.LogType) models.LogEntry {
	entry := models.LogEntry{
		Time:    FormatTime(l.now()),
		Message: message,
		Type:    typ,
	}

	l.mu.Lock()
	l.entries = append(l.entries, models.LogEntry{})
	copy(l.entries[1:], l.entries)
	l.entries[0] = entry
	sinks := append([]Sink(nil), l.sinks...)
	l.mu.Unlock()

	for _, s := range sinks {
		s.OnLogEntry(entry)
	}
	return entry
}

// Entries returns a copy of the log, most recent first.
func (l *Log) Entries() []models.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.LogEntry(nil), l.entries...)
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// FormatTime renders t as zero-padded 24-hour HH:MM:SS.
func FormatTime(t time.Time) string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
}
