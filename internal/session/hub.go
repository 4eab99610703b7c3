package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"marketplace-dispatch/internal/domain"
	"marketplace-dispatch/internal/logx"
)

// Hub tracks the live WebSocket sessions of this instance, grouped by topic.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Client]struct{}
	logger logx.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger logx.Logger) *Hub {
	if logger == nil {
		logger = logx.Nop()
	}
	return &Hub{
		topics: make(map[string]map[*Client]struct{}),
		logger: logger,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[c.topic]
	if !ok {
		subs = make(map[*Client]struct{})
		h.topics[c.topic] = subs
	}
	subs[c] = struct{}{}
	h.logger.Debug("session registered", logx.String("topic", c.topic), logx.Int("sessions", len(subs)))
}

// unregister removes the client and reports whether it was still registered.
func (h *Hub) unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[c.topic]
	if !ok {
		return false
	}
	if _, ok := subs[c]; !ok {
		return false
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.topics, c.topic)
	}
	h.logger.Debug("session unregistered", logx.String("topic", c.topic))
	return true
}

// Subscribers returns the number of local sessions on the topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// IsOnline reports whether the courier has a session on this instance.
func (h *Hub) IsOnline(_ context.Context, courierID int64) (bool, error) {
	return h.Subscribers(domain.CourierTopic(courierID)) > 0, nil
}

// Touch is a no-op: local presence follows registration.
func (h *Hub) Touch(context.Context, int64) error { return nil }

// Clear is a no-op: local presence follows registration.
func (h *Hub) Clear(context.Context, int64) error { return nil }

// Deliver writes an encoded message to every local session of the topic and returns how many got it.
func (h *Hub) Deliver(topic string, payload []byte) int {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range clients {
		if c.enqueue(payload) {
			delivered++
			continue
		}
		h.logger.Warn("session send buffer full, dropping session", logx.String("topic", topic))
		c.close()
	}
	return delivered
}

// Publish delivers the event to the local sessions of the topic.
func (h *Hub) Publish(_ context.Context, topic string, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.Type, err)
	}
	if n := h.Deliver(topic, payload); n == 0 {
		h.logger.Debug("no local sessions for topic", logx.String("topic", topic), logx.String("event", string(ev.Type)))
	}
	return nil
}
