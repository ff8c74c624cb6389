// Package nats publishes run notices on NATS subjects with trace context in
// the message headers.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const flushTimeout = 5 * time.Second

// conn is the subset of *nats.Conn the publisher uses.
type conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Publisher sends JSON payloads; the topic argument is the subject.
type Publisher struct {
	conn       conn
	propagator propagation.TextMapPropagator
}

// Connect dials url and returns a Publisher that owns the connection.
func Connect(url string, opts ...nats.Option) (*Publisher, error) {
	opts = append([]nats.Option{nats.Name("patentcrawler")}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return New(nc), nil
}

// New wraps an existing connection.
func New(c conn) *Publisher {
	return &Publisher{conn: c, propagator: otel.GetTextMapPropagator()}
}

// Publish marshals payload, stamps a Nats-Msg-Id for JetStream dedupe and
// flushes so the server has the message before returning its id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("subject is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id := uuid.NewString()
	msg := &nats.Msg{Subject: topic, Data: data, Header: nats.Header{}}
	msg.Header.Set(nats.MsgIdHdr, id)
	p.propagator.Inject(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))

	if err := p.conn.PublishMsg(msg); err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return "", fmt.Errorf("flush %s: %w", topic, err)
	}
	return id, nil
}

// Close closes the connection.
func (p *Publisher) Close() {
	p.conn.Close()
}
