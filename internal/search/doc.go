// Package search runs the first phase of an extraction: it asks a patent
// search endpoint for a query, walks the result entries in document order,
// and turns each into a crawler.PatentCandidate with a normalized identifier
// and a canonical detail-page URL.
package search
