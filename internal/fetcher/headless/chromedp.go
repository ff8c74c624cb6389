// Package headless implements the browser fetch mode on top of chromedp.
// A Launcher starts one browser per run; every Fetch opens a tab that stays
// alive until the returned document is closed so extraction can script it.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/patent-crawler/internal/crawler"
	"github.com/JakeFAU/patent-crawler/internal/dom"
)

// Config controls the behavior of the browser session.
type Config struct {
	UserAgent      string
	AcceptLanguage string
	// ExecPath overrides the browser binary lookup.
	ExecPath          string
	NavigationTimeout time.Duration
	// WaitTimeout bounds the readiness wait and in-page script calls.
	WaitTimeout   time.Duration
	LaunchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = crawler.DefaultTimeout
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 10 * time.Second
	}
	if c.LaunchTimeout <= 0 {
		c.LaunchTimeout = 30 * time.Second
	}
	return c
}

// Launcher starts chromedp-backed sessions.
type Launcher struct {
	cfg    Config
	logger *zap.Logger
}

// NewLauncher builds a Launcher.
func NewLauncher(cfg Config, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{cfg: cfg.withDefaults(), logger: logger}
}

// Mode reports crawler.FetchModeBrowser.
func (l *Launcher) Mode() crawler.FetchMode {
	return crawler.FetchModeBrowser
}

// Launch starts a browser and waits until it answers. Failures wrap
// crawler.ErrBrowserUnavailable and leave nothing running.
func (l *Launcher) Launch(ctx context.Context) (crawler.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	s := &Session{
		cfg:           l.cfg,
		logger:        l.logger,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}

	// The first Run allocates the browser and ties it to browserCtx, so it
	// must not run under a derived deadline.
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(browserCtx)
	}()
	timer := time.NewTimer(l.cfg.LaunchTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer.C:
		err = errors.New("launch timed out")
	}
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: %w", crawler.ErrBrowserUnavailable, err)
	}
	return s, nil
}

func (l *Launcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if l.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.cfg.UserAgent))
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	return opts
}

// Session owns one browser process for the duration of a run.
type Session struct {
	cfg    Config
	logger *zap.Logger

	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	closeOnce     sync.Once
}

// Mode reports crawler.FetchModeBrowser.
func (s *Session) Mode() crawler.FetchMode {
	return crawler.FetchModeBrowser
}

// Close terminates the browser. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.browserCancel()
		s.allocCancel()
	})
	return nil
}

// Fetch opens a tab, navigates, waits for request.WaitSelector and snapshots
// the DOM. A readiness timeout is not an error; the page is read as it is.
func (s *Session) Fetch(ctx context.Context, request crawler.FetchRequest) (*dom.Document, error) {
	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	fail := func(err error) (*dom.Document, error) {
		tabCancel()
		return nil, &crawler.FetchError{URL: request.URL, Mode: crawler.FetchModeBrowser, Err: err}
	}
	if err := chromedp.Run(tabCtx); err != nil {
		return fail(fmt.Errorf("open tab: %w", err))
	}
	t := &tab{ctx: tabCtx, timeout: s.cfg.WaitTimeout}

	meta := &responseMeta{}
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	if err := t.runWithin(ctx, s.cfg.NavigationTimeout,
		s.networkSetupAction(),
		chromedp.Navigate(request.URL),
	); err != nil {
		return fail(fmt.Errorf("navigate: %w", err))
	}
	if status := meta.status(); status != 0 && status != http.StatusOK {
		return fail(&crawler.HTTPStatusError{URL: request.URL, StatusCode: status})
	}
	if request.WaitSelector != "" {
		if err := t.run(ctx, chromedp.WaitReady(request.WaitSelector, chromedp.ByQuery)); err != nil {
			if ctx.Err() != nil {
				return fail(ctx.Err())
			}
			s.logger.Debug("readiness wait expired",
				zap.String("url", request.URL),
				zap.String("selector", request.WaitSelector),
				zap.Error(err),
			)
		}
	}

	var html, finalURL string
	if err := t.run(ctx,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return fail(fmt.Errorf("snapshot: %w", err))
	}
	if finalURL == "" {
		finalURL = request.URL
	}
	doc, err := dom.Parse(finalURL, []byte(html))
	if err != nil {
		return fail(err)
	}
	return doc.Attach(t, func() error {
		tabCancel()
		return nil
	}), nil
}

func (s *Session) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			override := emulation.SetUserAgentOverride(s.cfg.UserAgent)
			if s.cfg.AcceptLanguage != "" {
				override = override.WithAcceptLanguage(s.cfg.AcceptLanguage)
			}
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if s.cfg.AcceptLanguage != "" {
			headers := network.Headers{"Accept-Language": s.cfg.AcceptLanguage}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// tab implements dom.Scripter against a live chromedp target.
type tab struct {
	ctx     context.Context
	timeout time.Duration
}

func (t *tab) run(ctx context.Context, actions ...chromedp.Action) error {
	return t.runWithin(ctx, t.timeout, actions...)
}

// runWithin runs actions on the tab, bounded by timeout and by the caller's ctx.
func (t *tab) runWithin(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (t *tab) Evaluate(ctx context.Context, script string, out any) error {
	return t.run(ctx, chromedp.Evaluate(script, out))
}

func (t *tab) Click(ctx context.Context, selector string) error {
	return t.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (t *tab) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := t.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return text, nil
}

// responseMeta records the status of the main document response.
type responseMeta struct {
	mu   sync.RWMutex
	code int
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	if m.code == 0 {
		m.code = int(resp.Response.Status)
	}
	m.mu.Unlock()
}

func (m *responseMeta) status() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.code
}
