package server

import (
	"sync"
)

// Hub fans out messages published on a topic to every subscribed channel.
// Topics are run IDs. A subscriber that is not reading loses messages
// instead of blocking the publisher.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[chan []byte]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[chan []byte]bool)}
}

// Subscribe registers ch for topic. The caller owns ch and must
// Unsubscribe before closing it.
func (h *Hub) Subscribe(ch chan []byte, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[chan []byte]bool)
		h.topics[topic] = subs
	}
	subs[ch] = true
}

// Unsubscribe removes ch from topic.
func (h *Hub) Unsubscribe(ch chan []byte, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.topics[topic]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Publish sends msg to every subscriber of topic.
func (h *Hub) Publish(topic string, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.topics[topic] {
		select {
		case ch <- msg:
		default:
			// drop if client not reading
		}
	}
}

// Subscribers returns the number of subscribers of topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}
