package service

import (
	"sync"

	"github.com/paulmach/orb"
)

// Event kinds.
const (
	EventHover    = "hover"
	EventSelect   = "select"
	EventSearch   = "search"
	EventResult   = "result"
	EventClosed   = "closed"
	EventProgress = "progress"
)

// Event is a map change a client may want to redraw for. Session is empty
// for events that concern every session.
type Event struct {
	Session string    `json:"session,omitempty"`
	Kind    string    `json:"kind"`
	SiteID  string    `json:"siteId,omitempty"`
	IDs     []string  `json:"ids,omitempty"`
	Screen  orb.Point `json:"screen,omitempty"`
	Version uint64    `json:"version,omitempty"`
	Status  string    `json:"status,omitempty"`
}

// For reports whether e concerns session id.
func (e Event) For(id string) bool {
	return e.Session == "" || e.Session == id
}

// EventBus is a simple fan-out pub/sub for map events.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Publish sends an event to all subscribers (non-blocking).
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow, skip
		}
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// sessionSink forwards controller and search events of one session to
// the bus.
type sessionSink struct {
	id  string
	bus *EventBus
}

func (s sessionSink) OnHoverChange(siteID string, screen orb.Point) {
	s.bus.Publish(Event{Session: s.id, Kind: EventHover, SiteID: siteID, Screen: screen})
}

func (s sessionSink) OnSelect(siteID string) {
	s.bus.Publish(Event{Session: s.id, Kind: EventSelect, SiteID: siteID})
}

func (s sessionSink) OnSearchResultsChange(ids []string) {
	s.bus.Publish(Event{Session: s.id, Kind: EventSearch, IDs: ids})
}
