package bus

import (
	"context"
	"sync"
)

// Memory is an in-process bus. Publish delivers synchronously to every
// subscriber of the topic, the publisher included.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]Handler
	nextID uint64
	closed bool
}

// NewMemory creates an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[uint64]Handler)}
}

func (m *Memory) Publish(ctx context.Context, topic string, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, 0, len(m.subs[topic]))
	for _, h := range m.subs[topic] {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, topic string, h Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[uint64]Handler)
	}
	m.nextID++
	id := m.nextID
	m.subs[topic][id] = h

	return subscriptionFunc(func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if hs, ok := m.subs[topic]; ok {
			delete(hs, id)
			if len(hs) == 0 {
				delete(m.subs, topic)
			}
		}
		return nil
	}), nil
}

// Topics returns the topics with at least one subscriber.
func (m *Memory) Topics() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	topics := make([]string, 0, len(m.subs))
	for t := range m.subs {
		topics = append(topics, t)
	}
	return topics
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string]map[uint64]Handler)
	return nil
}

// Ping fails once the bus is closed.
func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}
