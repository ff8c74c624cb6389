package search

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/patent-crawler/internal/crawler"
	"github.com/JakeFAU/patent-crawler/internal/dom"
)

// Config describes the endpoints the walker talks to.
type Config struct {
	// BaseURL is the patent site; canonical detail URLs are built on it.
	BaseURL string
	// AlternateBaseURL is the web search used when the site yields nothing.
	AlternateBaseURL string
	AlternateEnabled bool
}

// Walker runs search-phase queries.
type Walker struct {
	base        string
	conventions []Convention
	logger      *zap.Logger
}

// NewWalker validates cfg and builds a Walker.
func NewWalker(cfg Config, logger *zap.Logger) (*Walker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid search base url %q", cfg.BaseURL)
	}
	w := &Walker{
		base:        base.String(),
		conventions: []Convention{SiteConvention{BaseURL: base.String()}},
		logger:      logger,
	}
	if cfg.AlternateEnabled && cfg.AlternateBaseURL != "" {
		if _, err := url.Parse(cfg.AlternateBaseURL); err != nil {
			return nil, fmt.Errorf("invalid alternate search url %q: %w", cfg.AlternateBaseURL, err)
		}
		w.conventions = append(w.conventions, WebConvention{
			BaseURL:    cfg.AlternateBaseURL,
			PatentHost: base.Host,
		})
	}
	return w, nil
}

// Conventions returns the endpoint conventions in the order they are tried.
func (w *Walker) Conventions() []Convention {
	return append([]Convention(nil), w.conventions...)
}

// CanonicalURL builds the stable detail URL for an identifier.
func (w *Walker) CanonicalURL(id string) string {
	return w.base + "/patent/" + id + "/en"
}

// Search fetches one results page and returns at most maxResults candidates
// in document order. maxResults <= 0 returns nothing without fetching.
func (w *Walker) Search(
	ctx context.Context,
	fetcher crawler.Fetcher,
	conv Convention,
	query string,
	maxResults int,
) ([]crawler.PatentCandidate, error) {
	if maxResults <= 0 {
		return nil, nil
	}
	if fetcher == nil {
		return nil, errors.New("search requires a fetcher")
	}
	target := conv.URL(query)
	doc, err := fetcher.Fetch(ctx, crawler.FetchRequest{URL: target, WaitSelector: conv.WaitSelector()})
	if err != nil {
		return nil, fmt.Errorf("fetch %s results: %w", conv.Name(), err)
	}
	defer func() {
		if cerr := doc.Close(); cerr != nil {
			w.logger.Debug("close search document", zap.Error(cerr))
		}
	}()

	entries := conv.Entries(doc)
	candidates := make([]crawler.PatentCandidate, 0, min(len(entries), maxResults))
	for _, entry := range entries {
		if len(candidates) >= maxResults {
			break
		}
		cand, ok := w.candidate(doc, entry)
		if !ok {
			w.logger.Debug("dropping entry without link", zap.String("title", entry.Title))
			continue
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

func (w *Walker) candidate(doc *dom.Document, entry Entry) (crawler.PatentCandidate, bool) {
	resolved := doc.Resolve(entry.Href)
	id := ResolveID(resolved, entry.Hidden, entry.Snippet)
	cand := crawler.PatentCandidate{
		Title:           entry.Title,
		AbstractSnippet: entry.Snippet,
		PatentID:        id,
	}
	switch {
	case id != "":
		cand.DetailURL = w.CanonicalURL(id)
	case isHTTPURL(resolved):
		cand.DetailURL = resolved
	default:
		return crawler.PatentCandidate{}, false
	}
	return cand, true
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
