package application

import (
	"sync"
	"time"

	"voice-session/internal/domain"
)

type EventType string

const (
	EventStateChanged  EventType = "state"
	EventTranscript    EventType = "transcript"
	EventSpeechStarted EventType = "speech_started"
	EventError         EventType = "error"
)

type Event struct {
	Type       EventType
	State      domain.SessionState
	Transcript string
	Kind       domain.ErrorKind
	Err        error
	TurnID     string
	At         time.Time
}

// broadcaster fans events out to subscribers without ever blocking the
// publisher; a full subscriber channel drops the event.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

func (b *broadcaster) subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
