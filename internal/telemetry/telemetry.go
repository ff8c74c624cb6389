// Package telemetry installs OpenTelemetry context propagation and carries
// run identity as baggage, so consumers of run notices can correlate them
// with the run that produced them.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
)

// Baggage keys attached by WithRun.
const (
	RunIDKey      = "run_id"
	SessionKeyKey = "session"
)

var initOnce sync.Once

// InitPropagation sets the global propagator to W3C trace context plus
// baggage. It must run before publishers capture the global propagator.
func InitPropagation() propagation.TextMapPropagator {
	initOnce.Do(func() {
		otel.SetTextMapPropagator(
			propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		)
	})
	return otel.GetTextMapPropagator()
}

// WithRun returns ctx carrying runID and sessionKey as baggage members.
// Empty values are skipped; existing members are kept.
func WithRun(ctx context.Context, runID, sessionKey string) context.Context {
	bag := baggage.FromContext(ctx)
	for key, value := range map[string]string{RunIDKey: runID, SessionKeyKey: sessionKey} {
		if value == "" {
			continue
		}
		member, err := baggage.NewMemberRaw(key, value)
		if err != nil {
			continue
		}
		next, err := bag.SetMember(member)
		if err != nil {
			continue
		}
		bag = next
	}
	return baggage.ContextWithBaggage(ctx, bag)
}
