package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/baggage"

	"github.com/JakeFAU/patent-crawler/internal/crawler"
	"github.com/JakeFAU/patent-crawler/internal/middleware"
	"github.com/JakeFAU/patent-crawler/internal/progress"
	"github.com/JakeFAU/patent-crawler/internal/storage/memory"
	"github.com/JakeFAU/patent-crawler/internal/telemetry"
	"github.com/JakeFAU/patent-crawler/internal/worker"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	tasks []worker.Task
	out   worker.Outcome
	err   error
}

func (f *fakeSubmitter) Submit(_ context.Context, task worker.Task) (worker.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return f.out, f.err
}

func sampleOutcome() worker.Outcome {
	runID := uuid.MustParse("0190d6f4-7b1e-7c3a-9a4e-3f1e2d3c4b5a")
	return worker.Outcome{
		Records: []crawler.PatentRecord{{Title: "Cooling plate", PatentID: "US1A1", Link: "https://patents.example.com/patent/US1A1/en"}},
		Events: []progress.Event{{
			RunID:   progress.UUIDToBytes(runID),
			Seq:     1,
			TS:      time.Unix(100, 0).UTC(),
			Level:   progress.LevelInfo,
			Stage:   progress.StageRunDone,
			Message: "run finished with 1 records",
			Count:   1,
			Dur:     1500 * time.Millisecond,
		}},
	}
}

func newTestServer(runs Submitter, cfg Config) *Server {
	return NewServer(cfg, Deps{Runs: runs, Results: memory.NewResultStore()})
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	newTestServer(&fakeSubmitter{}, Config{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ok":true}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ready := NewServer(Config{}, Deps{Runs: &fakeSubmitter{}, Ready: func(context.Context) error { return nil }})
	rec := httptest.NewRecorder()
	ready.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	notReady := NewServer(Config{}, Deps{Runs: &fakeSubmitter{}, Ready: func(context.Context) error { return errors.New("db down") }})
	rec = httptest.NewRecorder()
	notReady.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "db down")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	newTestServer(&fakeSubmitter{}, Config{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLegacyEndpoint(t *testing.T) {
	t.Parallel()

	runs := &fakeSubmitter{out: sampleOutcome()}
	h := newTestServer(runs, Config{DefaultMaxResults: 5, FetchMode: crawler.FetchModeBrowser}).Handler()

	rec := post(t, h, "/get_patents_detailed", `{"description":"battery cooling"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Patents []crawler.PatentRecord `json:"patents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, runs.out.Records, body.Patents)
	require.NotContains(t, rec.Body.String(), "events")
	require.Equal(t, []worker.Task{{
		Query:      "battery cooling",
		MaxResults: 5,
		SessionKey: "default",
		FetchMode:  crawler.FetchModeBrowser,
	}}, runs.tasks)

	rec = post(t, h, "/get_patents_detailed", `{"description":"x","session_id":"s-2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "s-2", runs.tasks[1].SessionKey)
}

func TestV1PatentsReturnsEvents(t *testing.T) {
	t.Parallel()

	runs := &fakeSubmitter{out: sampleOutcome()}
	h := newTestServer(runs, Config{}).Handler()

	rec := post(t, h, "/v1/patents", `{"query":"q","max_results":2,"session_id":"abc","fetch_mode":"http"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{
		"session_id":"abc",
		"count":1,
		"patents":[{"title":"Cooling plate","abstract":"","patent_id":"US1A1","link":"https://patents.example.com/patent/US1A1/en","claims":"","description":"","inventor":"","assignee":"","classification":"","citations":"","date_published":""}],
		"events":[{"run_id":"0190d6f4-7b1e-7c3a-9a4e-3f1e2d3c4b5a","seq":1,"ts":"1970-01-01T00:01:40Z","level":"info","stage":"RUN_DONE","message":"run finished with 1 records","count":1,"duration_ms":1500}]
	}`, rec.Body.String())
	require.Equal(t, worker.Task{Query: "q", MaxResults: 2, SessionKey: "abc", FetchMode: crawler.FetchModeHTTP}, runs.tasks[0])
}

func TestValidation(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		path, body string
	}{
		"bad json":        {"/v1/patents", `{`},
		"missing query":   {"/v1/patents", `{"query":"  "}`},
		"negative max":    {"/v1/patents", `{"query":"q","max_results":-1}`},
		"max over limit":  {"/v1/patents", `{"query":"q","max_results":51}`},
		"bad session":     {"/v1/patents", `{"query":"q","session_id":"../x"}`},
		"bad mode":        {"/v1/patents", `{"query":"q","fetch_mode":"carrier-pigeon"}`},
		"legacy no query": {"/get_patents_detailed", `{"session_id":"s"}`},
		"legacy bad json": {"/get_patents_detailed", `nope`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			runs := &fakeSubmitter{}
			rec := post(t, newTestServer(runs, Config{}).Handler(), tc.path, tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Empty(t, runs.tasks)
		})
	}
}

func TestZeroMaxResultsIsAllowed(t *testing.T) {
	t.Parallel()

	runs := &fakeSubmitter{out: worker.Outcome{Records: []crawler.PatentRecord{}}}
	rec := post(t, newTestServer(runs, Config{}).Handler(), "/v1/patents", `{"query":"q","max_results":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, runs.tasks[0].MaxResults)
}

func TestSubmitErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err  error
		want int
	}{
		"queue full": {worker.ErrQueueFull, http.StatusServiceUnavailable},
		"closed":     {worker.ErrClosed, http.StatusServiceUnavailable},
		"timeout":    {context.DeadlineExceeded, http.StatusGatewayTimeout},
		"canceled":   {context.Canceled, http.StatusServiceUnavailable},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			rec := post(t, newTestServer(&fakeSubmitter{err: tc.err}, Config{}).Handler(), "/v1/patents", `{"query":"q"}`)
			require.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestGetSession(t *testing.T) {
	t.Parallel()

	store := memory.NewResultStore()
	require.NoError(t, store.PutResults(context.Background(), "s1", []crawler.PatentRecord{{PatentID: "US1A1"}}))
	h := NewServer(Config{}, Deps{Runs: &fakeSubmitter{}, Results: store}).Handler()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/v1/sessions/s1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"patent_id":"US1A1"`)
	require.Equal(t, http.StatusNotFound, get("/v1/sessions/other").Code)

	noReads := NewServer(Config{}, Deps{Runs: &fakeSubmitter{}}).Handler()
	rec = httptest.NewRecorder()
	noReads.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1", nil))
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestAPIKeyGuardsExtraction(t *testing.T) {
	t.Parallel()

	h := newTestServer(&fakeSubmitter{out: sampleOutcome()}, Config{APIKeys: []string{"k"}}).Handler()

	rec := post(t, h, "/v1/patents", `{"query":"q"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/patents", bytes.NewBufferString(`{"query":"q"}`))
	req.Header.Set("X-API-Key", "k")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	preflight := func(h http.Handler) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/v1/patents", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	withCORS := newTestServer(&fakeSubmitter{}, Config{
		APIKeys:     []string{"k"},
		CORSOrigins: []string{"https://app.example.com"},
	}).Handler()
	rec := preflight(withCORS)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = preflight(newTestServer(&fakeSubmitter{}, Config{}).Handler())
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

type baggageSubmitter struct {
	tenant chan string
}

func (b baggageSubmitter) Submit(ctx context.Context, _ worker.Task) (worker.Outcome, error) {
	b.tenant <- baggage.FromContext(ctx).Member("tenant").Value()
	return worker.Outcome{}, nil
}

func TestIncomingBaggageReachesRuns(t *testing.T) {
	t.Parallel()
	telemetry.InitPropagation()

	runs := baggageSubmitter{tenant: make(chan string, 1)}
	h := newTestServer(runs, Config{}).Handler()
	req := httptest.NewRequest(http.MethodPost, "/v1/patents", bytes.NewBufferString(`{"query":"q"}`))
	req.Header.Set("Baggage", "tenant=acme")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "acme", <-runs.tenant)
}

func TestRateLimitApplies(t *testing.T) {
	t.Parallel()

	h := newTestServer(&fakeSubmitter{out: sampleOutcome()}, Config{
		RateLimit: middleware.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1},
	}).Handler()
	require.Equal(t, http.StatusOK, post(t, h, "/v1/patents", `{"query":"q"}`).Code)
	require.Equal(t, http.StatusTooManyRequests, post(t, h, "/v1/patents", `{"query":"q"}`).Code)
}

func TestWorkerPoolIntegration(t *testing.T) {
	t.Parallel()

	pool := worker.New(runnerFunc(func(_ context.Context, cfg crawler.RunConfig, key string, events progress.Emitter) []crawler.PatentRecord {
		events.Emit(progress.Event{Stage: progress.StageRunStart})
		return []crawler.PatentRecord{{Title: cfg.Query, PatentID: key}}
	}), worker.Config{QueueDepth: 2}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	rec := post(t, NewServer(Config{}, Deps{Runs: pool}).Handler(), "/v1/patents", `{"query":"pump","session_id":"p"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"title":"pump"`)
	require.Contains(t, rec.Body.String(), `"stage":"RUN_START"`)
}

type runnerFunc func(ctx context.Context, cfg crawler.RunConfig, key string, events progress.Emitter) []crawler.PatentRecord

func (f runnerFunc) Run(ctx context.Context, cfg crawler.RunConfig, key string, events progress.Emitter) []crawler.PatentRecord {
	return f(ctx, cfg, key, events)
}
