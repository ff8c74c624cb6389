package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/patent-crawler/internal/crawler"
	"github.com/JakeFAU/patent-crawler/internal/detail"
	"github.com/JakeFAU/patent-crawler/internal/dom"
	"github.com/JakeFAU/patent-crawler/internal/progress"
	"github.com/JakeFAU/patent-crawler/internal/search"
	"github.com/JakeFAU/patent-crawler/internal/telemetry"
)

// Config holds run defaults and the notification topic.
type Config struct {
	// Defaults fill the zero fields of every RunConfig.
	Defaults crawler.RunConfig
	// Topic receives a Notice after each run; empty disables publishing.
	Topic string
}

// Deps are the collaborators an Engine drives. Search, Detail and at least
// one launcher are required.
type Deps struct {
	Browser   crawler.Launcher
	HTTP      crawler.Launcher
	Search    *search.Walker
	Detail    *detail.Walker
	Store     crawler.ResultStore
	Publisher crawler.Publisher
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
	Digester  crawler.Digester
	// Monitor receives a copy of every event (typically a progress.Hub).
	Monitor progress.Emitter
	Logger  *zap.Logger
}

// Notice is published when a run finishes.
type Notice struct {
	RunID      string    `json:"run_id"`
	SessionKey string    `json:"session_key"`
	Query      string    `json:"query"`
	Count      int       `json:"count"`
	Mode       string    `json:"mode"`
	Digest     string    `json:"digest,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Engine runs extractions. It is safe for concurrent use, though callers are
// expected to serialize runs (see worker.Pool).
type Engine struct {
	cfg  Config
	deps Deps
}

// New validates deps and builds an Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Search == nil || deps.Detail == nil {
		return nil, errors.New("engine requires search and detail walkers")
	}
	if deps.Browser == nil && deps.HTTP == nil {
		return nil, errors.New("engine requires at least one launcher")
	}
	if deps.Clock == nil {
		return nil, errors.New("engine requires a clock")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	cfg.Defaults = cfg.Defaults.WithDefaults()
	return &Engine{cfg: cfg, deps: deps}, nil
}

// ExtractPatents runs query with the configured defaults and returns at most
// maxResults records. events receives the run's diagnostic events in order.
func (e *Engine) ExtractPatents(
	ctx context.Context,
	query string,
	maxResults int,
	sessionKey string,
	events progress.Emitter,
) []crawler.PatentRecord {
	return e.Run(ctx, crawler.RunConfig{Query: query, MaxResults: maxResults}, sessionKey, events)
}

// Run executes one extraction. Zero fields of cfg take the engine defaults.
// The result is never nil.
func (e *Engine) Run(
	ctx context.Context,
	cfg crawler.RunConfig,
	sessionKey string,
	events progress.Emitter,
) []crawler.PatentRecord {
	cfg = e.merge(cfg)
	runID := e.newRunID()
	rep := &reporter{
		runID: progress.UUIDToBytes(runID),
		clock: e.deps.Clock,
		out:   progress.Tee(events, e.deps.Monitor),
	}
	logger := e.deps.Logger.With(zap.String("run_id", runID.String()), zap.String("session_key", sessionKey))
	start := e.deps.Clock.Now()

	rep.Emit(progress.Event{
		Stage:   progress.StageRunStart,
		Message: fmt.Sprintf("extracting up to %d patents for %q", cfg.MaxResults, cfg.Query),
		Count:   cfg.MaxResults,
	})
	records, mode := e.execute(ctx, cfg, rep)
	if records == nil {
		records = []crawler.PatentRecord{}
	}
	e.handoff(ctx, sessionKey, records, rep, logger)
	notice := Notice{
		RunID:      runID.String(),
		SessionKey: sessionKey,
		Query:      cfg.Query,
		Count:      len(records),
		Mode:       string(mode),
		FinishedAt: e.deps.Clock.Now(),
	}
	if e.deps.Digester != nil {
		notice.Digest = e.deps.Digester.Digest(records)
	}
	e.announce(ctx, notice, rep, logger)

	dur := e.deps.Clock.Now().Sub(start)
	rep.Emit(progress.Event{
		Stage:   progress.StageRunDone,
		Message: fmt.Sprintf("run finished with %d records", len(records)),
		Count:   len(records),
		Dur:     max(dur, 0),
	})
	logger.Info("run finished", zap.Int("records", len(records)), zap.Duration("dur", dur))
	return records
}

// execute owns the session for the whole run; its single deferred Close is
// the only teardown point.
func (e *Engine) execute(ctx context.Context, cfg crawler.RunConfig, rep *reporter) ([]crawler.PatentRecord, crawler.FetchMode) {
	if cfg.MaxResults <= 0 || strings.TrimSpace(cfg.Query) == "" {
		rep.warn(progress.StageSearchDone, "nothing to search: empty query or non-positive result bound")
		return nil, ""
	}
	session, err := e.acquire(ctx, cfg.FetchMode, rep)
	if err != nil {
		rep.Emit(progress.Event{
			Level:   progress.LevelError,
			Stage:   progress.StageSearchFailed,
			Message: fmt.Sprintf("no fetch mode available: %v", err),
		})
		return nil, ""
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			e.deps.Logger.Warn("session close failed", zap.Error(cerr))
		}
	}()

	fetcher := boundedFetcher{Fetcher: session, timeout: cfg.Timeout}
	candidates := e.searchPhase(ctx, fetcher, cfg, rep)
	records := e.deps.Detail.WithDelay(cfg.Pause()).Enrich(ctx, fetcher, candidates, rep)
	return records, session.Mode()
}

// acquire launches the preferred mode and, if that fails, the other one.
// Once a launch has failed that mode is never tried again in the run.
func (e *Engine) acquire(ctx context.Context, pref crawler.FetchMode, rep *reporter) (crawler.Session, error) {
	var errs []error
	for i, launcher := range e.launchOrder(pref) {
		session, err := launcher.Launch(ctx)
		if err == nil {
			rep.setMode(session.Mode())
			rep.info(progress.StageModeSelected, fmt.Sprintf("using %s fetch mode", session.Mode()))
			return session, nil
		}
		errs = append(errs, err)
		if i == 0 {
			rep.Emit(progress.Event{
				Level:   progress.LevelWarn,
				Stage:   progress.StageModeFallback,
				Message: fmt.Sprintf("%s mode unavailable, falling back: %v", launcher.Mode(), err),
				Mode:    string(launcher.Mode()),
			})
		}
	}
	return nil, errors.Join(errs...)
}

func (e *Engine) launchOrder(pref crawler.FetchMode) []crawler.Launcher {
	order := []crawler.Launcher{e.deps.Browser, e.deps.HTTP}
	if pref == crawler.FetchModeHTTP {
		order = []crawler.Launcher{e.deps.HTTP, e.deps.Browser}
	}
	out := order[:0]
	for _, l := range order {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

// searchPhase tries each convention once, in order, until one yields results.
func (e *Engine) searchPhase(
	ctx context.Context,
	fetcher crawler.Fetcher,
	cfg crawler.RunConfig,
	rep *reporter,
) []crawler.PatentCandidate {
	var lastErr error
	for i, conv := range e.deps.Search.Conventions() {
		stage := progress.StageSearchStart
		if i > 0 {
			stage = progress.StageSearchAlternate
		}
		rep.Emit(progress.Event{
			Stage:   stage,
			Message: fmt.Sprintf("searching via %s convention", conv.Name()),
			URL:     conv.URL(cfg.Query),
		})
		candidates, err := e.deps.Search.Search(ctx, fetcher, conv, cfg.Query, cfg.MaxResults)
		if err != nil {
			lastErr = err
			rep.warn(stage, fmt.Sprintf("%s search failed: %v", conv.Name(), err))
			continue
		}
		lastErr = nil
		if len(candidates) > 0 {
			rep.Emit(progress.Event{
				Stage:   progress.StageSearchDone,
				Message: fmt.Sprintf("found %d candidates via %s", len(candidates), conv.Name()),
				Count:   len(candidates),
			})
			return candidates
		}
		rep.info(stage, fmt.Sprintf("no results via %s", conv.Name()))
	}
	if lastErr != nil {
		rep.Emit(progress.Event{
			Level:   progress.LevelError,
			Stage:   progress.StageSearchFailed,
			Message: fmt.Sprintf("search failed: %v", lastErr),
		})
		return nil
	}
	rep.warn(progress.StageSearchDone, "no search results")
	return nil
}

func (e *Engine) handoff(ctx context.Context, sessionKey string, records []crawler.PatentRecord, rep *reporter, logger *zap.Logger) {
	if e.deps.Store == nil || sessionKey == "" {
		return
	}
	if err := e.deps.Store.PutResults(ctx, sessionKey, records); err != nil {
		logger.Warn("store results failed", zap.Error(err))
		rep.warn(progress.StageStoreFailed, fmt.Sprintf("store results: %v", err))
	}
}

func (e *Engine) announce(ctx context.Context, notice Notice, rep *reporter, logger *zap.Logger) {
	if e.deps.Publisher == nil || e.cfg.Topic == "" {
		return
	}
	ctx = telemetry.WithRun(ctx, notice.RunID, notice.SessionKey)
	id, err := e.deps.Publisher.Publish(ctx, e.cfg.Topic, notice)
	if err != nil {
		logger.Warn("publish run notice failed", zap.Error(err))
		rep.warn(progress.StagePublishFailed, fmt.Sprintf("publish run notice: %v", err))
		return
	}
	logger.Debug("published run notice", zap.String("message_id", id))
}

func (e *Engine) merge(cfg crawler.RunConfig) crawler.RunConfig {
	d := e.cfg.Defaults
	if cfg.FetchMode == "" {
		cfg.FetchMode = d.FetchMode
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.PolitenessDelay == 0 {
		cfg.PolitenessDelay = d.PolitenessDelay
	}
	return cfg.WithDefaults()
}

func (e *Engine) newRunID() uuid.UUID {
	if e.deps.IDs != nil {
		if raw, err := e.deps.IDs.NewID(); err == nil {
			if id, err := uuid.Parse(raw); err == nil {
				return id
			}
		}
	}
	return uuid.New()
}

// boundedFetcher applies the run's per-request timeout to every fetch.
type boundedFetcher struct {
	crawler.Fetcher
	timeout time.Duration
}

func (b boundedFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (*dom.Document, error) {
	if b.timeout <= 0 {
		return b.Fetcher.Fetch(ctx, req)
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.Fetcher.Fetch(ctx, req)
}
