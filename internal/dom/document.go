// Package dom wraps parsed HTML so extraction code can run CSS selectors,
// path (XPath) queries, and raw-markup patterns against the same page, and,
// when the page came from a live browser tab, script it directly.
package dom

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// ErrNoScripting is returned when a document has no live page behind it.
var ErrNoScripting = errors.New("document does not support scripting")

// Scripter exposes operations that need a live page.
type Scripter interface {
	// Evaluate runs script in the page and decodes its result into out.
	Evaluate(ctx context.Context, script string, out any) error
	Click(ctx context.Context, selector string) error
	// Text returns the rendered text of the first element matching selector.
	Text(ctx context.Context, selector string) (string, error)
}

// Document is a parsed page. It is not safe for concurrent use.
type Document struct {
	base     *url.URL
	raw      string
	doc      *goquery.Document
	scripter Scripter

	closeOnce sync.Once
	closer    func() error
	closeErr  error
}

// Parse builds a Document from markup fetched from pageURL.
func Parse(pageURL string, body []byte) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc.Url = base
	return &Document{base: base, raw: string(body), doc: doc}, nil
}

// Attach binds a live page to the document. closer runs once on Close.
func (d *Document) Attach(s Scripter, closer func() error) *Document {
	d.scripter = s
	d.closer = closer
	return d
}

// URL returns the address the document was fetched from.
func (d *Document) URL() string {
	if d.base == nil {
		return ""
	}
	return d.base.String()
}

// Raw returns the markup as fetched.
func (d *Document) Raw() string {
	return d.raw
}

// Find runs a CSS selector against the document.
func (d *Document) Find(selector string) *goquery.Selection {
	return d.doc.Find(selector)
}

// XPath runs a path query against the document root.
func (d *Document) XPath(expr string) ([]*html.Node, error) {
	if len(d.doc.Nodes) == 0 {
		return nil, nil
	}
	nodes, err := htmlquery.QueryAll(d.doc.Nodes[0], expr)
	if err != nil {
		return nil, fmt.Errorf("xpath %q: %w", expr, err)
	}
	return nodes, nil
}

// Scripter returns the live page, if any.
func (d *Document) Scripter() (Scripter, error) {
	if d.scripter == nil {
		return nil, ErrNoScripting
	}
	return d.scripter, nil
}

// Resolve turns href into an absolute URL relative to the document.
func (d *Document) Resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if d.base == nil {
		return ref.String()
	}
	return d.base.ResolveReference(ref).String()
}

// Close releases the live page, if any. It is safe to call more than once.
func (d *Document) Close() error {
	d.closeOnce.Do(func() {
		if d.closer != nil {
			d.closeErr = d.closer()
		}
	})
	return d.closeErr
}
