package search

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/patent-crawler/internal/dom"
	"github.com/JakeFAU/patent-crawler/internal/extract"
)

// Entry is one raw search hit as it appears on the results page.
type Entry struct {
	Href    string
	Title   string
	Snippet string
	// Hidden holds the text of hidden inline elements inside the entry.
	Hidden []string
}

// Convention is one way of asking an endpoint for results and reading them.
type Convention interface {
	Name() string
	URL(query string) string
	// WaitSelector is the readiness condition for browser fetches.
	WaitSelector() string
	Entries(doc *dom.Document) []Entry
}

// SiteConvention queries the patent site's own search page.
type SiteConvention struct {
	BaseURL string
}

// Name implements Convention.
func (SiteConvention) Name() string { return "site" }

// URL implements Convention.
func (c SiteConvention) URL(query string) string {
	escaped := url.QueryEscape(query)
	return strings.TrimRight(c.BaseURL, "/") + "/?q=(" + escaped + ")&oq=" + escaped
}

// WaitSelector implements Convention.
func (SiteConvention) WaitSelector() string { return "search-result-item, article.result" }

// Entries reads article.result blocks in document order.
func (SiteConvention) Entries(doc *dom.Document) []Entry {
	var entries []Entry
	doc.Find("article.result").Each(func(_ int, art *goquery.Selection) {
		link := art.Find("a#link").First()
		href, _ := link.Attr("href")
		if strings.TrimSpace(href) == "" {
			if ref, ok := art.Find("[data-result]").First().Attr("data-result"); ok && ref != "" {
				href = "/" + strings.TrimLeft(ref, "/")
			}
		}
		title := extract.Normalize(link.Text())
		if title == "" {
			title = extract.Normalize(art.Find("h3, .result-title").First().Text())
		}
		var hidden []string
		art.Find("[hidden], [style*='display:none'], [style*='display: none']").Each(func(_ int, s *goquery.Selection) {
			hidden = append(hidden, s.Text())
		})
		entries = append(entries, Entry{
			Href:    href,
			Title:   title,
			Snippet: extract.Normalize(strings.Join(dom.SelectionText(art.Find("div.abstract")), " ")),
			Hidden:  hidden,
		})
	})
	return entries
}

// WebConvention falls back to a general web search restricted to the patent
// host and keeps anchors that point at patent pages.
type WebConvention struct {
	BaseURL    string
	PatentHost string
}

// Name implements Convention.
func (WebConvention) Name() string { return "web" }

// URL implements Convention.
func (c WebConvention) URL(query string) string {
	q := "site:" + c.PatentHost + " " + query
	return strings.TrimRight(c.BaseURL, "/") + "/search?q=" + url.QueryEscape(q)
}

// WaitSelector implements Convention.
func (WebConvention) WaitSelector() string { return "#search, body" }

// Entries returns anchors whose href contains /patent/, skipping repeats.
func (WebConvention) Entries(doc *dom.Document) []Entry {
	var entries []Entry
	seen := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !strings.Contains(href, "/patent/") {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		title := extract.Normalize(a.Find("h3").First().Text())
		if title == "" {
			title = extract.Normalize(a.Text())
		}
		entries = append(entries, Entry{Href: href, Title: title})
	})
	return entries
}
