package sandboxproxy

import (
	"sync"
	"time"
)

// Entry is one proxy decision record.
type Entry struct {
	Host       string
	Port       int
	Method     string // "" for CONNECT tunnels
	Path       string // empty for CONNECT tunnels
	Action     Action
	StatusCode int // 0 for CONNECT tunnels and blocked requests
	DurationMs int64
	At         time.Time
}

// Log is an append-only buffer of decisions, read and cleared by the engine
// at finalization.
type Log struct {
	mu      sync.Mutex
	entries []Entry
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Append(e Entry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

// Drain returns all entries recorded so far and clears the buffer.
func (l *Log) Drain() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.entries
	l.entries = nil
	return out
}
