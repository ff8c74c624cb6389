package progress

import (
	"context"
	"sync"
)

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub and Recorder both satisfy it so
// the engine stays agnostic about how events are buffered or persisted.
type Emitter interface {
	Emit(evt Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit calls f(evt).
func (f EmitterFunc) Emit(evt Event) {
	f(evt)
}

// Tee returns an Emitter that forwards every event to each non-nil emitter
// in argument order.
func Tee(emitters ...Emitter) Emitter {
	kept := make([]Emitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			kept = append(kept, e)
		}
	}
	return EmitterFunc(func(evt Event) {
		for _, e := range kept {
			e.Emit(evt)
		}
	})
}

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})

// Recorder keeps events in arrival order. It is safe for concurrent use and
// also satisfies Sink so it can sit behind a Hub.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit appends evt.
func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Consume appends batch.
func (r *Recorder) Consume(_ context.Context, batch []Event) error {
	r.mu.Lock()
	r.events = append(r.events, batch...)
	r.mu.Unlock()
	return nil
}

// Close implements Sink.
func (r *Recorder) Close(context.Context) error {
	return nil
}
