// Package eventlog keeps a bounded ring of sync engine events.
package eventlog

import (
	"log"
	"sync"
	"time"
)

// Level represents the severity of an entry.
type Level string

const (
	LevelError Level = "ERROR"
	LevelWarn  Level = "WARN"
	LevelInfo  Level = "INFO"
	LevelDebug Level = "DEBUG"
)

// Event names what the engine did.
type Event string

const (
	EventStarted           Event = "engine.started"
	EventClosed            Event = "engine.closed"
	EventDelivered         Event = "sync.delivered"
	EventDeliveryFailed    Event = "sync.failed"
	EventEncodeFailed      Event = "sync.encode_failed"
	EventConnected         Event = "conn.connected"
	EventConnectFailed     Event = "conn.connect_failed"
	EventReconnected       Event = "conn.reconnected"
	EventReconnectFailed   Event = "conn.reconnect_failed"
	EventReconnectDeferred Event = "conn.reconnect_deferred"
)

// Fields carries the structured detail of an entry.
type Fields map[string]any

// Entry is one recorded event.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Event     Event     `json:"event"`
	Message   string    `json:"message"`
	Fields    Fields    `json:"fields,omitempty"`
}

// Recent tracks the latest entries.
type Recent struct {
	mu         sync.Mutex
	entries    []Entry
	maxEntries int
	quiet      bool
	now        func() time.Time
}

// New creates a ring holding at most maxEntries (100 if <= 0).
func New(maxEntries int) *Recent {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &Recent{
		entries:    make([]Entry, 0, maxEntries),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Quiet stops echoing entries to the process log. Entries are still kept.
func (r *Recent) Quiet() *Recent {
	r.mu.Lock()
	r.quiet = true
	r.mu.Unlock()
	return r
}

// Record adds an entry and echoes it to the standard logger.
// Every entry must name its event.
func (r *Recent) Record(level Level, event Event, message string, fields Fields) {
	if event == "" {
		panic("eventlog.Record: event must be set")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, Entry{
		Timestamp: r.now().UTC(),
		Level:     level,
		Event:     event,
		Message:   message,
		Fields:    fields,
	})

	if len(r.entries) > r.maxEntries {
		r.entries = r.entries[len(r.entries)-r.maxEntries:]
	}

	if !r.quiet {
		log.Printf("[%s] %s: %s %v", level, event, message, fields)
	}
}

func (r *Recent) Error(event Event, message string, fields Fields) {
	r.Record(LevelError, event, message, fields)
}

func (r *Recent) Warn(event Event, message string, fields Fields) {
	r.Record(LevelWarn, event, message, fields)
}

func (r *Recent) Info(event Event, message string, fields Fields) {
	r.Record(LevelInfo, event, message, fields)
}

func (r *Recent) Debug(event Event, message string, fields Fields) {
	r.Record(LevelDebug, event, message, fields)
}

// Entries returns a copy of the retained entries, oldest first.
func (r *Recent) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Last returns the newest retained entry for event.
func (r *Recent) Last(event Event) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Event == event {
			return r.entries[i], true
		}
	}
	return Entry{}, false
}

// Counts returns the number of retained entries per level.
func (r *Recent) Counts() map[Level]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[Level]int, 4)
	for _, e := range r.entries {
		counts[e.Level]++
	}
	return counts
}

// Occurrences returns the number of retained entries per event.
func (r *Recent) Occurrences() map[Event]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[Event]int)
	for _, e := range r.entries {
		out[e.Event]++
	}
	return out
}
