package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HubConfig controls buffering and batching for the Hub.
//   - BufferSize: capacity of the intake channel (default 1024).
//   - MaxBatchEvents: flush once this many events queue (default 256).
//   - MaxBatchWait: flush after this long even if the batch is small (default 250ms).
//   - SinkTimeout: per-sink deadline while flushing (default 5s).
//   - Logger: optional logger for backpressure and sink warnings.
type HubConfig struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	Logger         *zap.Logger
}

func (c HubConfig) withDefaults() HubConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = 256
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = 250 * time.Millisecond
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub batches events on a background goroutine and fans them out to sinks.
// Emit never blocks: when the buffer is full the event is dropped.
type Hub struct {
	cfg     HubConfig
	sinks   []Sink
	events  chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	dropped atomic.Int64
	closed  atomic.Bool
	warn    rate.Sometimes

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts a Hub that forwards to sinks.
func NewHub(cfg HubConfig, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan Event, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		warn:   rate.Sometimes{Interval: 5 * time.Second},
	}
	go h.run()
	return h
}

// Emit enqueues evt. Invalid events and events emitted after Close are ignored.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.cfg.Logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		h.warn.Do(func() {
			h.cfg.Logger.Warn("progress events dropped due to backpressure",
				zap.Int64("dropped", h.dropped.Swap(0)))
		})
	}
}

// Close drains buffered events, flushes and closes the sinks, and waits for
// the background goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	ticker := time.NewTicker(h.cfg.MaxBatchWait)
	defer ticker.Stop()

	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				batch = h.flush(batch)
			}
		case <-ticker.C:
			batch = h.flush(batch)
		case <-h.stopCh:
			for drained := false; !drained; {
				select {
				case evt := <-h.events:
					batch = append(batch, evt)
				default:
					drained = true
				}
			}
			h.flush(batch)
			h.closeSinks()
			return
		}
	}
}

// flush hands a copy of batch to every sink and returns batch emptied.
func (h *Hub) flush(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	out := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.cfg.Logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
	return batch[:0]
}

func (h *Hub) closeSinks() {
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(h.closeCtx); err != nil {
			h.cfg.Logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
