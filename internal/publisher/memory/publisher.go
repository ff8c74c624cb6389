// Package memory contains an in-memory publisher for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Publisher keeps every published message for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
}

// Message is one publish call with its payload as it would go on the wire.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish JSON-encodes payload, records it and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data})
	return id, nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
