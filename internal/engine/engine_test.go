package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/baggage"

	"github.com/JakeFAU/patent-crawler/internal/crawler"
	"github.com/JakeFAU/patent-crawler/internal/detail"
	"github.com/JakeFAU/patent-crawler/internal/dom"
	"github.com/JakeFAU/patent-crawler/internal/progress"
	"github.com/JakeFAU/patent-crawler/internal/search"
)

const (
	siteBase = "https://patents.example.com"
	webBase  = "https://web.example.com"
)

func resultsPage(ids ...string) string {
	body := "<html><body>"
	for _, id := range ids {
		body += fmt.Sprintf(`<article class="result"><a id="link" href="/patent/%s/en">Title %s</a><div class="abstract">Snippet %s</div></article>`, id, id, id)
	}
	return body + "</body></html>"
}

func detailPage(id string) string {
	return fmt.Sprintf(`<html><body><section id="abstract">Full abstract %s</section><section id="claims">1. Claim of %s.</section></body></html>`, id, id)
}

type pageSession struct {
	mu      sync.Mutex
	mode    crawler.FetchMode
	pages   map[string]string
	fetched []string
	closed  int
}

func (s *pageSession) Fetch(ctx context.Context, req crawler.FetchRequest) (*dom.Document, error) {
	s.mu.Lock()
	s.fetched = append(s.fetched, req.URL)
	s.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("fetch without deadline")
	}
	body, ok := s.pages[req.URL]
	if !ok {
		return nil, &crawler.FetchError{URL: req.URL, Mode: s.mode, Err: &crawler.HTTPStatusError{URL: req.URL, StatusCode: 404}}
	}
	return dom.Parse(req.URL, []byte(body))
}

func (s *pageSession) Mode() crawler.FetchMode { return s.mode }

func (s *pageSession) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

type fakeLauncher struct {
	mode     crawler.FetchMode
	err      error
	session  *pageSession
	launches int
}

func (l *fakeLauncher) Mode() crawler.FetchMode { return l.mode }

func (l *fakeLauncher) Launch(context.Context) (crawler.Session, error) {
	l.launches++
	if l.err != nil {
		return nil, l.err
	}
	l.session.mode = l.mode
	return l.session, nil
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type noPause struct{ delays []time.Duration }

func (p *noPause) Pause(_ context.Context, d time.Duration) { p.delays = append(p.delays, d) }

type memStore struct {
	mu   sync.Mutex
	data map[string][]crawler.PatentRecord
	err  error
}

func (s *memStore) PutResults(_ context.Context, key string, records []crawler.PatentRecord) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = map[string][]crawler.PatentRecord{}
	}
	s.data[key] = records
	return nil
}

type capturePublisher struct {
	topic   string
	payload any
	bag     baggage.Baggage
	err     error
}

func (p *capturePublisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	p.topic = topic
	p.payload = payload
	p.bag = baggage.FromContext(ctx)
	return "msg-1", p.err
}

type harness struct {
	engine    *Engine
	browser   *fakeLauncher
	http      *fakeLauncher
	session   *pageSession
	store     *memStore
	publisher *capturePublisher
	pauser    *noPause
}

func newHarness(t *testing.T, pages map[string]string, browserErr error) *harness {
	t.Helper()
	session := &pageSession{pages: pages}
	h := &harness{
		browser:   &fakeLauncher{mode: crawler.FetchModeBrowser, err: browserErr, session: session},
		http:      &fakeLauncher{mode: crawler.FetchModeHTTP, session: session},
		session:   session,
		store:     &memStore{},
		publisher: &capturePublisher{},
		pauser:    &noPause{},
	}
	sw, err := search.NewWalker(search.Config{
		BaseURL:          siteBase,
		AlternateBaseURL: webBase,
		AlternateEnabled: true,
	}, nil)
	require.NoError(t, err)
	eng, err := New(Config{
		Defaults: crawler.RunConfig{Timeout: 5 * time.Second},
		Topic:    "patent-runs",
	}, Deps{
		Browser:   h.browser,
		HTTP:      h.http,
		Search:    sw,
		Detail:    detail.NewWalker(detail.Config{}, nil, h.pauser, nil),
		Store:     h.store,
		Publisher: h.publisher,
		Clock:     &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	h.engine = eng
	return h
}

func siteURL(q string) string {
	return search.SiteConvention{BaseURL: siteBase}.URL(q)
}

func webURL(q string) string {
	return search.WebConvention{BaseURL: webBase, PatentHost: "patents.example.com"}.URL(q)
}

func stages(events []progress.Event) []progress.Stage {
	out := make([]progress.Stage, 0, len(events))
	for _, evt := range events {
		out = append(out, evt.Stage)
	}
	return out
}

func TestHappyPath(t *testing.T) {
	t.Parallel()

	pages := map[string]string{
		siteURL("battery cooling"):    resultsPage("US1A1", "US2B1", "US3C1"),
		siteBase + "/patent/US1A1/en": detailPage("US1A1"),
		siteBase + "/patent/US2B1/en": detailPage("US2B1"),
	}
	h := newHarness(t, pages, nil)
	rec := progress.NewRecorder()

	got := h.engine.ExtractPatents(context.Background(), "battery cooling", 2, "sess-1", rec)
	require.Len(t, got, 2)
	for i, id := range []string{"US1A1", "US2B1"} {
		require.Equal(t, id, got[i].PatentID)
		require.Equal(t, siteBase+"/patent/"+id+"/en", got[i].Link)
		require.Equal(t, "Title "+id, got[i].Title)
		require.Equal(t, "Full abstract "+id, got[i].Abstract)
		require.Equal(t, "1. Claim of "+id+".", got[i].Claims)
	}

	require.Equal(t, 1, h.browser.launches)
	require.Zero(t, h.http.launches)
	require.Equal(t, 1, h.session.closed)
	require.Equal(t, got, h.store.data["sess-1"])
	require.Equal(t, "patent-runs", h.publisher.topic)
	notice := h.publisher.payload.(Notice)
	require.Equal(t, 2, notice.Count)
	require.Equal(t, "browser", notice.Mode)
	require.Equal(t, "sess-1", notice.SessionKey)
	require.Equal(t, "sess-1", h.publisher.bag.Member("session").Value())
	require.Equal(t, notice.RunID, h.publisher.bag.Member("run_id").Value())
	require.Len(t, h.pauser.delays, 2)

	events := rec.Events()
	require.Equal(t, progress.StageRunStart, events[0].Stage)
	last := events[len(events)-1]
	require.Equal(t, progress.StageRunDone, last.Stage)
	require.Equal(t, 2, last.Count)
	for i, evt := range events {
		require.Equal(t, int64(i+1), evt.Seq)
		require.Equal(t, events[0].RunID, evt.RunID)
		require.NoError(t, evt.Validate())
		if i > 0 {
			require.True(t, evt.TS.After(events[i-1].TS))
		}
	}
	require.Contains(t, stages(events), progress.StageModeSelected)
	require.NotContains(t, stages(events), progress.StageSearchAlternate)
}

func TestZeroSearchResults(t *testing.T) {
	t.Parallel()

	pages := map[string]string{
		siteURL("nothing"): resultsPage(),
		webURL("nothing"):  "<html><body><a href=\"/about\">about</a></body></html>",
	}
	h := newHarness(t, pages, nil)
	rec := progress.NewRecorder()

	var got []crawler.PatentRecord
	require.NotPanics(t, func() {
		got = h.engine.ExtractPatents(context.Background(), "nothing", 5, "sess-empty", rec)
	})
	require.NotNil(t, got)
	require.Empty(t, got)
	require.Equal(t, []string{siteURL("nothing"), webURL("nothing")}, h.session.fetched)
	require.Equal(t, 1, h.session.closed)

	st := stages(rec.Events())
	require.Contains(t, st, progress.StageSearchAlternate)
	require.Contains(t, st, progress.StageSearchDone)
	require.NotContains(t, st, progress.StageDetailStart)
	require.Equal(t, []crawler.PatentRecord{}, h.store.data["sess-empty"])
}

func TestAlternateSearchFindsResults(t *testing.T) {
	t.Parallel()

	pages := map[string]string{
		siteURL("cooling"):            resultsPage(),
		webURL("cooling"):             `<a href="https://patents.example.com/patent/US7G1/en"><h3>Web hit</h3></a>`,
		siteBase + "/patent/US7G1/en": detailPage("US7G1"),
	}
	h := newHarness(t, pages, nil)
	got := h.engine.ExtractPatents(context.Background(), "cooling", 3, "s", nil)
	require.Len(t, got, 1)
	require.Equal(t, "Web hit", got[0].Title)
	require.Equal(t, "Full abstract US7G1", got[0].Abstract)
}

func TestSearchFetchFailureIsFatalButQuiet(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]string{}, nil)
	rec := progress.NewRecorder()
	got := h.engine.ExtractPatents(context.Background(), "q", 3, "s", rec)
	require.Empty(t, got)
	require.Len(t, h.session.fetched, 2)
	require.Equal(t, 1, h.session.closed)

	var fatal []progress.Event
	for _, evt := range rec.Events() {
		if evt.Stage == progress.StageSearchFailed {
			fatal = append(fatal, evt)
		}
	}
	require.Len(t, fatal, 1)
	require.Equal(t, progress.LevelError, fatal[0].Level)
}

func TestDetailFailureKeepsCandidate(t *testing.T) {
	t.Parallel()

	pages := map[string]string{
		siteURL("q"):                  resultsPage("US1A1", "US2B1"),
		siteBase + "/patent/US2B1/en": detailPage("US2B1"),
	}
	h := newHarness(t, pages, nil)
	got := h.engine.ExtractPatents(context.Background(), "q", 2, "s", nil)
	require.Len(t, got, 2)
	require.Equal(t, crawler.PatentRecord{
		Title:    "Title US1A1",
		Abstract: "Snippet US1A1",
		PatentID: "US1A1",
		Link:     siteBase + "/patent/US1A1/en",
	}, got[0])
	require.Equal(t, "Full abstract US2B1", got[1].Abstract)
	require.Equal(t, 1, h.session.closed)
}

func TestBrowserFallbackIsOneWay(t *testing.T) {
	t.Parallel()

	pages := map[string]string{
		siteURL("q"):                  resultsPage("US1A1", "US2B1"),
		siteBase + "/patent/US1A1/en": detailPage("US1A1"),
		siteBase + "/patent/US2B1/en": detailPage("US2B1"),
	}
	h := newHarness(t, pages, fmt.Errorf("%w: exec: not found", crawler.ErrBrowserUnavailable))
	rec := progress.NewRecorder()

	got := h.engine.ExtractPatents(context.Background(), "q", 2, "s", rec)
	require.Len(t, got, 2)
	require.Equal(t, 1, h.browser.launches)
	require.Equal(t, 1, h.http.launches)
	require.Equal(t, 1, h.session.closed)

	fallbacks := 0
	sawFallback := false
	for _, evt := range rec.Events() {
		if evt.Stage == progress.StageModeFallback {
			fallbacks++
			sawFallback = true
			continue
		}
		if sawFallback && evt.Mode != "" {
			require.Equal(t, "http", evt.Mode, "stage %s", evt.Stage)
		}
	}
	require.Equal(t, 1, fallbacks)
	require.Equal(t, "http", h.publisher.payload.(Notice).Mode)
}

func TestHTTPPreferenceSkipsBrowser(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]string{siteURL("q"): resultsPage("US1A1")}, nil)
	got := h.engine.Run(context.Background(), crawler.RunConfig{
		Query:      "q",
		MaxResults: 1,
		FetchMode:  crawler.FetchModeHTTP,
	}, "s", nil)
	require.Len(t, got, 1)
	require.Zero(t, h.browser.launches)
	require.Equal(t, 1, h.http.launches)
}

func TestNoModeAvailable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, errors.New("no chrome"))
	h.http.err = errors.New("no network")
	rec := progress.NewRecorder()
	got := h.engine.ExtractPatents(context.Background(), "q", 2, "s", rec)
	require.Empty(t, got)
	require.Zero(t, h.session.closed)
	require.Contains(t, stages(rec.Events()), progress.StageSearchFailed)
}

func TestNonPositiveMaxResults(t *testing.T) {
	t.Parallel()

	for _, limit := range []int{0, -3} {
		h := newHarness(t, map[string]string{siteURL("q"): resultsPage("US1A1")}, nil)
		got := h.engine.ExtractPatents(context.Background(), "q", limit, "s", nil)
		require.Empty(t, got)
		require.Zero(t, h.browser.launches)
		require.Empty(t, h.session.fetched)
	}
}

func TestStoreAndPublishFailuresAreEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]string{siteURL("q"): resultsPage("US1A1")}, nil)
	h.store.err = errors.New("disk full")
	h.publisher.err = errors.New("topic missing")
	rec := progress.NewRecorder()

	got := h.engine.ExtractPatents(context.Background(), "q", 1, "s", rec)
	require.Len(t, got, 1)
	st := stages(rec.Events())
	require.Contains(t, st, progress.StageStoreFailed)
	require.Contains(t, st, progress.StagePublishFailed)
	require.Equal(t, progress.StageRunDone, st[len(st)-1])
}

func TestMonitorReceivesEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]string{siteURL("q"): resultsPage()}, nil)
	monitor := progress.NewRecorder()
	h.engine.deps.Monitor = monitor
	caller := progress.NewRecorder()

	h.engine.ExtractPatents(context.Background(), "q", 1, "", caller)
	require.Equal(t, caller.Events(), monitor.Events())
	require.Empty(t, h.store.data)
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{})
	require.Error(t, err)

	sw, err := search.NewWalker(search.Config{BaseURL: siteBase}, nil)
	require.NoError(t, err)
	dw := detail.NewWalker(detail.Config{}, nil, &noPause{}, nil)
	_, err = New(Config{}, Deps{Search: sw, Detail: dw})
	require.Error(t, err)
	_, err = New(Config{}, Deps{Search: sw, Detail: dw, HTTP: &fakeLauncher{}})
	require.Error(t, err)
}

func TestPolitenessDelayDefaults(t *testing.T) {
	t.Parallel()

	pages := map[string]string{
		siteURL("q"):                  resultsPage("US1A1", "US2B1"),
		siteBase + "/patent/US1A1/en": detailPage("US1A1"),
		siteBase + "/patent/US2B1/en": detailPage("US2B1"),
	}
	cases := map[string]struct {
		defaults time.Duration
		run      time.Duration
		want     time.Duration
	}{
		"unset uses default":   {want: crawler.DefaultPolitenessDelay},
		"configured default":   {defaults: time.Second, want: time.Second},
		"disabled by defaults": {defaults: -1, want: 0},
		"run overrides":        {defaults: -1, run: 5 * time.Millisecond, want: 5 * time.Millisecond},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			sw, err := search.NewWalker(search.Config{BaseURL: siteBase}, nil)
			require.NoError(t, err)
			pauser := &noPause{}
			eng, err := New(Config{Defaults: crawler.RunConfig{PolitenessDelay: tc.defaults}}, Deps{
				HTTP:   &fakeLauncher{mode: crawler.FetchModeHTTP, session: &pageSession{pages: pages}},
				Search: sw,
				Detail: detail.NewWalker(detail.Config{}, nil, pauser, nil),
				Clock:  &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
			})
			require.NoError(t, err)

			got := eng.Run(context.Background(), crawler.RunConfig{
				Query:           "q",
				MaxResults:      2,
				FetchMode:       crawler.FetchModeHTTP,
				PolitenessDelay: tc.run,
			}, "default", nil)
			require.Len(t, got, 2)
			require.Equal(t, []time.Duration{tc.want, tc.want}, pauser.delays)
		})
	}
}
