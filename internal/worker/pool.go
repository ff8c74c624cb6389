// Package worker serializes extraction runs. Runs share one browser slot, so
// the pool executes a single task at a time from a bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/patent-crawler/internal/crawler"
	"github.com/JakeFAU/patent-crawler/internal/progress"
)

// DefaultQueueDepth bounds waiting tasks when Config leaves it unset.
const DefaultQueueDepth = 16

var (
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("worker queue is full")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("worker pool is closed")
)

// Runner executes one extraction.
type Runner interface {
	Run(ctx context.Context, cfg crawler.RunConfig, sessionKey string, events progress.Emitter) []crawler.PatentRecord
}

// Task is one queued extraction request.
type Task struct {
	Query      string
	MaxResults int
	SessionKey string
	FetchMode  crawler.FetchMode
}

// Outcome is what a finished task hands back to its submitter.
type Outcome struct {
	Records []crawler.PatentRecord
	Events  []progress.Event
}

// Config controls the pool.
type Config struct {
	QueueDepth int
}

type job struct {
	ctx   context.Context
	task  Task
	reply chan Outcome
}

// Pool runs tasks one at a time.
type Pool struct {
	runner Runner
	jobs   chan job
	logger *zap.Logger

	closeMu sync.RWMutex
	closed  bool
}

// New builds a Pool. Call Run to start consuming.
func New(runner Runner, cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Pool{
		runner: runner,
		jobs:   make(chan job, depth),
		logger: logger,
	}
}

// Submit queues task and waits for its outcome. It fails fast with
// ErrQueueFull rather than blocking when the queue is saturated. If ctx ends
// first the run is abandoned or, when already running, canceled.
func (p *Pool) Submit(ctx context.Context, task Task) (Outcome, error) {
	j := job{ctx: ctx, task: task, reply: make(chan Outcome, 1)}

	p.closeMu.RLock()
	if p.closed {
		p.closeMu.RUnlock()
		return Outcome{}, ErrClosed
	}
	select {
	case p.jobs <- j:
		p.closeMu.RUnlock()
	default:
		p.closeMu.RUnlock()
		return Outcome{}, ErrQueueFull
	}

	select {
	case out, ok := <-j.reply:
		if !ok {
			return Outcome{}, ErrClosed
		}
		return out, nil
	case <-ctx.Done():
		return Outcome{}, fmt.Errorf("wait for run: %w", ctx.Err())
	}
}

// Depth reports how many tasks are waiting.
func (p *Pool) Depth() int {
	return len(p.jobs)
}

// Run consumes tasks until ctx ends or the pool is closed and drained.
func (p *Pool) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.abandonQueued()
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			p.process(ctx, j)
		}
	}
}

func (p *Pool) process(poolCtx context.Context, j job) {
	if j.ctx.Err() != nil {
		p.logger.Debug("skipping abandoned task", zap.String("session_key", j.task.SessionKey))
		close(j.reply)
		return
	}
	runCtx, cancel := context.WithCancel(j.ctx)
	defer cancel()
	stop := context.AfterFunc(poolCtx, cancel)
	defer stop()

	rec := progress.NewRecorder()
	records := p.runner.Run(runCtx, crawler.RunConfig{
		Query:      j.task.Query,
		MaxResults: j.task.MaxResults,
		FetchMode:  j.task.FetchMode,
	}, j.task.SessionKey, rec)
	j.reply <- Outcome{Records: records, Events: rec.Events()}
}

func (p *Pool) abandonQueued() {
	for {
		select {
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			close(j.reply)
		default:
			return
		}
	}
}

// Close stops accepting tasks. Queued tasks still run if Run is active.
func (p *Pool) Close() {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.jobs)
}
