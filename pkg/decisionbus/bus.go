// Package decisionbus broadcasts decision events to many subscribers with
// filter-on-send and lag-drop semantics: producers never block, and a slow
// subscriber is told it lagged rather than disconnected or allowed to slow
// enforcement down.
package decisionbus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/edgepolicy/pkg/abac"
)

// defaultBacklog bounds how far a subscriber may lag before events are
// dropped for it specifically, when New is given a non-positive backlog.
const defaultBacklog = 64

// Filter selects which events a subscriber receives.
type Filter struct {
	TenantID string // empty matches any tenant
	Decision string // "allow", "deny", or empty for any
}

func (f Filter) matches(ev abac.Event) bool {
	if f.TenantID != "" && f.TenantID != ev.TenantID {
		return false
	}
	switch f.Decision {
	case "allow":
		return ev.Decision.Allow
	case "deny":
		return !ev.Decision.Allow
	default:
		return true
	}
}

// Lag is delivered on a subscriber's channel in place of a skipped batch,
// recording how many events were dropped.
type Lag struct {
	Skipped int
}

// Message is either a decision Event or a Lag notification.
type Message struct {
	Event *abac.Event
	Lag   *Lag
}

type subscriber struct {
	mu      sync.Mutex
	filter  Filter
	ch      chan Message
	lagging int
}

// seenRingSize bounds how many recently published event ids the bus
// remembers. The Redis relay uses this to skip events that originated
// locally and came back over the wire.
const seenRingSize = 256

// Bus is the in-process broadcaster.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]*subscriber
	backlog int

	seenMu   sync.Mutex
	seenIDs  map[string]struct{}
	seenRing [seenRingSize]string
	seenPos  int
}

// New creates an empty bus whose subscribers each buffer up to backlog
// events; a non-positive backlog selects the default.
func New(backlog int) *Bus {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &Bus{
		subs:    make(map[string]*subscriber),
		backlog: backlog,
		seenIDs: make(map[string]struct{}, seenRingSize),
	}
}

func (b *Bus) remember(id string) {
	b.seenMu.Lock()
	defer b.seenMu.Unlock()
	if old := b.seenRing[b.seenPos]; old != "" {
		delete(b.seenIDs, old)
	}
	b.seenRing[b.seenPos] = id
	b.seenIDs[id] = struct{}{}
	b.seenPos = (b.seenPos + 1) % seenRingSize
}

func (b *Bus) seen(id string) bool {
	b.seenMu.Lock()
	defer b.seenMu.Unlock()
	_, ok := b.seenIDs[id]
	return ok
}

// Subscription is a handle returned to callers of Subscribe.
type Subscription struct {
	id  string
	bus *Bus
	ch  <-chan Message
}

// Messages returns the channel this subscription receives on.
func (s *Subscription) Messages() <-chan Message { return s.ch }

// SetFilter updates this subscriber's filter. Ordering with respect to
// in-flight publishes is not guaranteed.
func (s *Subscription) SetFilter(f Filter) {
	s.bus.mu.RLock()
	sub, ok := s.bus.subs[s.id]
	s.bus.mu.RUnlock()
	if !ok {
		return
	}
	sub.mu.Lock()
	sub.filter = f
	sub.mu.Unlock()
}

// Close releases this subscriber's resources without affecting others.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, ok := s.bus.subs[s.id]; ok {
		close(sub.ch)
		delete(s.bus.subs, s.id)
	}
}

// Subscribe registers a new subscriber with the given initial filter.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	sub := &subscriber{filter: filter, ch: make(chan Message, b.backlog)}
	id := uuid.New().String()

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	return &Subscription{id: id, bus: b, ch: sub.ch}
}

// Publish sends ev to every matching subscriber without blocking. A
// subscriber whose channel is full is sent a lag notification (counted)
// instead, never disconnected.
func (b *Bus) Publish(ev abac.Event) {
	if ev.EventID != "" {
		b.remember(ev.EventID)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		sub.mu.Lock()
		f := sub.filter
		sub.mu.Unlock()

		if !f.matches(ev) {
			continue
		}

		// A subscriber that lagged hears about it before the next event
		// it receives, so the skip count lands in stream order.
		sub.mu.Lock()
		lagged := sub.lagging
		sub.mu.Unlock()
		if lagged > 0 {
			select {
			case sub.ch <- Message{Lag: &Lag{Skipped: lagged}}:
				sub.mu.Lock()
				sub.lagging -= lagged
				sub.mu.Unlock()
			default:
			}
		}

		evCopy := ev
		select {
		case sub.ch <- Message{Event: &evCopy}:
		default:
			// backlog full; drop this event for this subscriber only and
			// count it toward the next lag notification.
			sub.mu.Lock()
			sub.lagging++
			sub.mu.Unlock()
		}
	}
}
