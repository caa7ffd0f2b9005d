// Package events fans live state changes out to TCP, WebSocket and NATS
// subscribers.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	TypeSyncProgress   = "sync.progress"
	TypeSyncFinished   = "sync.finished"
	TypeDownloadUpdate = "download.update"
	TypeLibraryUpdate  = "library.update"
	TypeLibraryRemove  = "library.remove"
)

type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

func New(typ string, at time.Time, data any) Event {
	return Event{ID: uuid.NewString(), Type: typ, At: at.UTC(), Data: data}
}

// Publisher must not block the caller for long; slow sinks drop or time out.
type Publisher interface {
	Publish(ev Event)
}

// Multi publishes to every non-nil publisher in order.
type Multi []Publisher

func (m Multi) Publish(ev Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ev)
		}
	}
}

type Nop struct{}

func (Nop) Publish(Event) {}

func OrNop(p Publisher) Publisher {
	if p == nil {
		return Nop{}
	}
	return p
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) OfType(typ string) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
