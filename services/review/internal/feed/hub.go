package feed

import (
	"sync"

	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/domain"
)

// Hub fans merged reviews out to the subscriptions of their content item.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]*Subscription
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]*Subscription)}
}

// Subscription delivers reviews of one content item to a callback.
type Subscription struct {
	hub       *Hub
	id        uint64
	contentID string
	fn        func(domain.Review)

	mu     sync.Mutex
	closed bool
}

// ContentID returns the content item the subscription is scoped to.
func (s *Subscription) ContentID() string { return s.contentID }

// Unsubscribe stops delivery. Once it returns the callback is not running and
// will not run again. It must not be called from inside the callback itself.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.hub.remove(s)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Subscription) deliver(r domain.Review) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || r.ContentID != s.contentID {
		return
	}
	s.fn(r)
}

// Subscribe registers fn for reviews of contentID.
func (h *Hub) Subscribe(contentID string, fn func(domain.Review)) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{hub: h, id: h.nextID, contentID: contentID, fn: fn}
	if h.subs[contentID] == nil {
		h.subs[contentID] = make(map[uint64]*Subscription)
	}
	h.subs[contentID][sub.id] = sub
	return sub
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.subs[s.contentID]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(h.subs, s.contentID)
		}
	}
}

// Publish delivers r to every subscription of r.ContentID, in turn.
func (h *Hub) Publish(r domain.Review) {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs[r.ContentID]))
	for _, s := range h.subs[r.ContentID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.deliver(r)
	}
}

// Subscribers returns the number of live subscriptions for contentID.
func (h *Hub) Subscribers(contentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[contentID])
}
