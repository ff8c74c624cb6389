// Package collyfetcher implements the plain HTTP fetch mode using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/patent-crawler/internal/crawler"
	"github.com/JakeFAU/patent-crawler/internal/dom"
)

const maxBodyBytes = 32 << 20

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
}

// Fetcher implements crawler.Session using the Colly collector. It holds no
// per-run resources, so Close is a no-op.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(maxBodyBytes),
	)
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Mode reports crawler.FetchModeHTTP.
func (f *Fetcher) Mode() crawler.FetchMode {
	return crawler.FetchModeHTTP
}

// Close satisfies crawler.Session.
func (f *Fetcher) Close() error {
	return nil
}

// Fetch issues a single GET and parses the body. Any status other than 200
// is returned as *crawler.HTTPStatusError. A ctx deadline shorter than the
// configured timeout becomes the request timeout, so the GET is abandoned
// together with the caller.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (*dom.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, &crawler.FetchError{URL: request.URL, Mode: crawler.FetchModeHTTP, Err: fmt.Errorf("colly fetch canceled: %w", err)}
	}
	var (
		resp     *colly.Response
		fetchErr error
	)
	collector := f.buildCollector(f.requestTimeout(ctx), &resp, &fetchErr)
	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return nil, &crawler.FetchError{URL: request.URL, Mode: crawler.FetchModeHTTP, Err: err}
	}
	if resp == nil {
		return nil, &crawler.FetchError{URL: request.URL, Mode: crawler.FetchModeHTTP, Err: fmt.Errorf("no response")}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &crawler.FetchError{
			URL:  request.URL,
			Mode: crawler.FetchModeHTTP,
			Err:  &crawler.HTTPStatusError{URL: request.URL, StatusCode: resp.StatusCode},
		}
	}
	doc, err := dom.Parse(resp.Request.URL.String(), resp.Body)
	if err != nil {
		return nil, &crawler.FetchError{URL: request.URL, Mode: crawler.FetchModeHTTP, Err: err}
	}
	return doc, nil
}

func (f *Fetcher) buildCollector(timeout time.Duration, resp **colly.Response, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(timeout)
	baseTransport := f.transport
	if baseTransport == nil {
		baseTransport = newHTTPTransport()
	}
	collector.WithTransport(baseTransport)

	f.configureCollectorHooks(collector, resp, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, resp **colly.Response, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		if f.cfg.AcceptLanguage != "" {
			r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*resp = r
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*resp = r
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) timeout() time.Duration {
	if f.cfg.Timeout > 0 {
		return f.cfg.Timeout
	}
	return crawler.DefaultTimeout
}

// requestTimeout is the configured timeout capped by ctx's deadline. It
// never returns zero, which colly would treat as no timeout.
func (f *Fetcher) requestTimeout(ctx context.Context) time.Duration {
	timeout := f.timeout()
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	return max(timeout, time.Millisecond)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// Launcher hands out HTTP fetchers; launching never fails.
type Launcher struct {
	cfg Config
}

// NewLauncher builds a Launcher for cfg.
func NewLauncher(cfg Config) *Launcher {
	return &Launcher{cfg: cfg}
}

// Mode reports crawler.FetchModeHTTP.
func (l *Launcher) Mode() crawler.FetchMode {
	return crawler.FetchModeHTTP
}

// Launch returns a fresh Fetcher.
func (l *Launcher) Launch(context.Context) (crawler.Session, error) {
	return New(l.cfg), nil
}
