// Package hub fans session events out to the connections subscribed to them.
//
// Topics are keyed by session id. Every subscription owns a buffered queue;
// publishing never blocks, and a subscriber whose queue is full is dropped so
// a slow reader cannot stall the session that is publishing.
package hub

import (
	"log/slog"
	"sync"
)

// DefaultBuffer is the queue length of a subscription.
const DefaultBuffer = 256

// Metrics records hub instrumentation.
type Metrics interface {
	SubscriberDropped()
}

// Subscription is one subscriber's queue on a topic.
type Subscription struct {
	ID    string
	Topic string

	ch     chan []byte
	closed bool
}

// C returns the subscriber's queue. It is closed when the subscription is
// removed, either by Unsubscribe or because the subscriber fell behind.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Options configures a Hub.
type Options struct {
	Buffer  int
	Metrics Metrics
	Logger  *slog.Logger
}

// Hub maps topics to their subscriptions.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscription

	buffer  int
	metrics Metrics
	logger  *slog.Logger
}

// New creates an empty hub.
func New(opts Options) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Hub{
		topics:  make(map[string]map[string]*Subscription),
		buffer:  opts.Buffer,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

// Subscribe registers id on topic. Subscribing an id twice replaces the
// earlier subscription, whose queue is closed.
func (h *Hub) Subscribe(topic, id string) *Subscription {
	sub := &Subscription{ID: id, Topic: topic, ch: make(chan []byte, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[string]*Subscription)
		h.topics[topic] = subs
	}
	if old, ok := subs[id]; ok {
		old.close()
	}
	subs[id] = sub
	return sub
}

// Unsubscribe removes sub from its topic. It is safe to call more than once
// and after the subscription was dropped.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

// Publish delivers payload to every subscriber of topic except origin. It
// returns the number of subscribers that received it.
func (h *Hub) Publish(topic, origin string, payload []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for id, sub := range h.topics[topic] {
		if id == origin {
			continue
		}
		if h.offerLocked(sub, payload) {
			delivered++
		}
	}
	return delivered
}

// SendTo delivers payload to a single subscriber. It reports false if the
// subscriber is gone or was dropped.
func (h *Hub) SendTo(topic, id string, payload []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.topics[topic][id]
	if !ok {
		return false
	}
	return h.offerLocked(sub, payload)
}

// Count returns the number of subscribers of topic.
func (h *Hub) Count(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// CloseTopic drops every subscriber of topic.
func (h *Hub) CloseTopic(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.topics[topic] {
		sub.close()
	}
	delete(h.topics, topic)
}

func (h *Hub) offerLocked(sub *Subscription, payload []byte) bool {
	select {
	case sub.ch <- payload:
		return true
	default:
	}

	h.logger.Warn("dropping slow subscriber", "topic", sub.Topic, "subscriber", sub.ID)
	h.removeLocked(sub)
	if h.metrics != nil {
		h.metrics.SubscriberDropped()
	}
	return false
}

func (h *Hub) removeLocked(sub *Subscription) {
	subs := h.topics[sub.Topic]
	if current, ok := subs[sub.ID]; ok && current == sub {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(h.topics, sub.Topic)
		}
	}
	sub.close()
}

// close must be called with the hub lock held.
func (s *Subscription) close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
