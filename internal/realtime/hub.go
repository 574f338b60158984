// Package realtime is the in-process fan-out gateway: session-scoped
// broadcast topics plus per-participant unicast channels. Unicast channels
// are namespaced by session, so a participant id reused in another session
// can never receive cross-session traffic.
package realtime

import (
	"sync"

	"quiz-session-service/internal/domain"
)

const subscriberBuffer = 16

// Hub routes events to subscribers. Delivery is FIFO per channel; there is no
// ordering guarantee across channels.
type Hub struct {
	mu       sync.RWMutex
	topics   map[string]map[chan domain.Event]struct{}
	privates map[privateKey]map[chan domain.Event]struct{}
}

type privateKey struct {
	sessionID     string
	participantID string
}

func NewHub() *Hub {
	return &Hub{
		topics:   make(map[string]map[chan domain.Event]struct{}),
		privates: make(map[privateKey]map[chan domain.Event]struct{}),
	}
}

// SubscribeSession registers for session-wide broadcasts. The caller must
// invoke the returned cancel function to avoid leaks.
func (h *Hub) SubscribeSession(sessionID string) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, subscriberBuffer)
	h.mu.Lock()
	if h.topics[sessionID] == nil {
		h.topics[sessionID] = make(map[chan domain.Event]struct{})
	}
	h.topics[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if subs, ok := h.topics[sessionID]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(h.topics, sessionID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// SubscribeParticipant registers for one participant's private channel.
func (h *Hub) SubscribeParticipant(sessionID, participantID string) (<-chan domain.Event, func()) {
	key := privateKey{sessionID: sessionID, participantID: participantID}
	ch := make(chan domain.Event, subscriberBuffer)
	h.mu.Lock()
	if h.privates[key] == nil {
		h.privates[key] = make(map[chan domain.Event]struct{})
	}
	h.privates[key][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if subs, ok := h.privates[key]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(h.privates, key)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Broadcast delivers an event to every subscriber of the session topic.
func (h *Hub) Broadcast(sessionID string, ev domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.topics[sessionID] {
		deliver(ch, ev)
	}
}

// Unicast delivers an event to exactly one participant's private channel.
func (h *Hub) Unicast(sessionID, participantID string, ev domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.privates[privateKey{sessionID: sessionID, participantID: participantID}] {
		deliver(ch, ev)
	}
}

// deliver never blocks: a slow subscriber loses its oldest pending event so
// live sessions keep moving.
func deliver(ch chan domain.Event, ev domain.Event) {
	select {
	case ch <- ev:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}
