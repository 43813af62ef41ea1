package pipeline

import (
	"sync"
	"time"
)

// EventType identifies render progress notifications.
type EventType int

const (
	EventStageStarted EventType = iota
	EventStageFinished
	EventInstructionReady
	EventBackgroundReady
	EventWarning
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventStageStarted:
		return "stage_started"
	case EventStageFinished:
		return "stage_finished"
	case EventInstructionReady:
		return "instruction_ready"
	case EventBackgroundReady:
		return "background_ready"
	case EventWarning:
		return "warning"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one progress notification. Payload depends on Type: a
// StageEvent for stage events, an InstructionEvent for
// EventInstructionReady, the audio.Bed description for EventBackgroundReady
// and an error for EventError.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// StageEvent describes a stage boundary.
type StageEvent struct {
	Stage    string
	Duration time.Duration // zero on start
	Err      error
}

// InstructionEvent reports a synthesized instruction.
type InstructionEvent struct {
	Index    int
	Duration time.Duration
}

// Bus fans render events out to subscribers.
type Bus interface {
	Subscribe(t EventType, ch chan<- Event)
	Unsubscribe(t EventType, ch chan<- Event)
	// Publish delivers evt to every subscriber without blocking and reports
	// whether all of them received it. Full channels drop the event.
	Publish(evt Event) bool
}

// EventBus is the in-process Bus.
type EventBus struct {
	mu   sync.RWMutex
	subs map[EventType][]chan<- Event
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[EventType][]chan<- Event)}
}

func (b *EventBus) Subscribe(t EventType, ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], ch)
}

func (b *EventBus) Unsubscribe(t EventType, ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[t]
	for i, c := range subs {
		if c == ch {
			b.subs[t] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (b *EventBus) Publish(evt Event) bool {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := true
	for _, ch := range b.subs[evt.Type] {
		select {
		case ch <- evt:
		default:
			delivered = false
		}
	}
	return delivered
}
