// Package pubsub publishes run notices to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Publisher sends JSON payloads to named topics of one project. Topic
// handles are created on first use and kept until Close.
type Publisher struct {
	client     *pubsub.Client
	propagator propagation.TextMapPropagator

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Publisher on client. The caller owns client.
func New(client *pubsub.Client) *Publisher {
	return &Publisher{
		client:     client,
		propagator: otel.GetTextMapPropagator(),
		topics:     make(map[string]*pubsub.Topic),
	}
}

// Publish marshals the payload to JSON and waits for the server ack.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("pubsub client is not configured")
	}
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	attrs := propagation.MapCarrier{}
	p.propagator.Inject(ctx, attrs)
	msg := &pubsub.Message{Data: data, Attributes: attrs}

	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// Close flushes and stops every topic handle.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, t := range p.topics {
		t.Stop()
		delete(p.topics, name)
	}
}
