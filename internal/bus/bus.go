// Package bus implements the in-process execution event bus. Every
// side-effecting component publishes ExecutionEvents here; the UI and the
// mission status board subscribe. Emission order is preserved for listeners
// and a bounded ring of recent events is kept for late subscribers.
package bus

import (
	"sync"
	"time"
)

// Phase identifies what the agent is doing when an event is emitted.
type Phase string

const (
	PhaseThinking       Phase = "thinking"
	PhaseReadingFile    Phase = "reading_file"
	PhaseWritingFile    Phase = "writing_file"
	PhaseRunningCommand Phase = "running_command"
	PhaseStreaming      Phase = "streaming"
	PhaseSearchingWeb   Phase = "searching_web"
	PhaseFinished       Phase = "finished"
	PhaseError          Phase = "error"
)

// Status marks the lifecycle position of an event within its phase.
type Status string

const (
	StatusStart    Status = "start"
	StatusProgress Status = "progress"
	StatusEnd      Status = "end"
)

// Event is a single execution event.
type Event struct {
	Phase     Phase          `json:"phase"`
	Message   string         `json:"message"`
	FilePath  string         `json:"file_path,omitempty"`
	Command   string         `json:"command,omitempty"`
	Status    Status         `json:"status,omitempty"`
	ExitCode  *int           `json:"exit_code,omitempty"`
	Success   *bool          `json:"success,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Listener receives events in emission order. Panics are swallowed so a
// misbehaving listener cannot break the emitting component.
type Listener func(Event)

const historyLimit = 200

// Bus fans out events to subscribers and keeps a bounded history ring.
type Bus struct {
	mu        sync.Mutex
	listeners []Listener
	history   []Event
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a listener for all subsequent events.
func (b *Bus) Subscribe(listener Listener) {
	if listener == nil {
		return
	}
	b.mu.Lock()
	b.listeners = append(b.listeners, listener)
	b.mu.Unlock()
}

// Emit records the event and delivers it to every listener in order.
func (b *Bus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.mu.Lock()
	b.history = append(b.history, event)
	if len(b.history) > historyLimit {
		b.history = b.history[len(b.history)-historyLimit:]
	}
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	for _, listener := range listeners {
		deliver(listener, event)
	}
}

func deliver(listener Listener, event Event) {
	defer func() {
		_ = recover()
	}()
	listener(event)
}

// History returns a copy of the retained events, oldest first.
func (b *Bus) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// IntPtr and BoolPtr build optional event fields.
func IntPtr(v int) *int    { return &v }
func BoolPtr(v bool) *bool { return &v }
