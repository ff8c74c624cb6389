package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestHubBatchBySize verifies the hub flushes once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(HubConfig{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRunStart))
	hub.Emit(sampleEvent(StageSearchStart))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies small batches still flush on the ticker.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(HubConfig{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRunStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := &Hub{cfg: HubConfig{}.withDefaults(), events: make(chan Event)}
	start := time.Now()
	hub.Emit(sampleEvent(StageRunStart))
	hub.Emit(sampleEvent(StageRunStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(1), hub.dropped.Load())
}

func TestHubDropsInvalidAndLateEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(HubConfig{MaxBatchWait: time.Minute}, sink)

	hub.Emit(Event{Stage: StageRunStart})
	hub.Emit(sampleEvent(StageRunDone))
	require.NoError(t, hub.Close(context.Background()))
	hub.Emit(sampleEvent(StageRunDone))
	require.NoError(t, hub.Close(context.Background()))

	batches := sink.Batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	require.True(t, sink.closed)
}

// TestHubFlushOnClose ensures Close drains buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(HubConfig{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(StageRunStart))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)

	var nilHub *Hub
	nilHub.Emit(sampleEvent(StageRunStart))
	require.NoError(t, nilHub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	evt := sampleEvent(StageFieldEmpty)
	require.Error(t, evt.Validate())
	evt.Field = "claims"
	require.NoError(t, evt.Validate())

	bad := sampleEvent(Stage("NOPE"))
	require.Error(t, bad.Validate())
	bad = sampleEvent(StageRunDone)
	bad.Level = "loud"
	require.Error(t, bad.Validate())
	bad = sampleEvent(StageRunDone)
	bad.TS = time.Time{}
	require.Error(t, bad.Validate())
	bad = sampleEvent(StageRunDone)
	bad.Dur = -time.Second
	require.Error(t, bad.Validate())

	id := uuid.New()
	require.Equal(t, id, Event{RunID: UUIDToBytes(id)}.RunUUID())
}

func TestRecorderAndTee(t *testing.T) {
	t.Parallel()

	first := NewRecorder()
	second := NewRecorder()
	var seen []Stage
	emit := Tee(first, nil, second, EmitterFunc(func(evt Event) {
		seen = append(seen, evt.Stage)
	}))

	emit.Emit(sampleEvent(StageRunStart))
	emit.Emit(sampleEvent(StageRunDone))
	Discard.Emit(sampleEvent(StageRunDone))

	require.Equal(t, []Stage{StageRunStart, StageRunDone}, seen)
	require.Len(t, first.Events(), 2)
	require.Equal(t, first.Events(), second.Events())

	require.NoError(t, first.Consume(context.Background(), []Event{sampleEvent(StageDetailDone)}))
	require.Len(t, first.Events(), 3)
	require.NoError(t, first.Close(context.Background()))
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	return Event{
		RunID: UUIDToBytes(uuid.New()),
		TS:    time.Now(),
		Level: LevelInfo,
		Stage: stage,
	}
}
