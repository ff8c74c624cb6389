package crawler

import (
	"fmt"
	"strings"
	"time"
)

// FetchMode selects how documents are retrieved for a run.
type FetchMode string

// Supported fetch modes.
const (
	// FetchModeAuto prefers a browser session and falls back to HTTP.
	FetchModeAuto FetchMode = "auto"
	// FetchModeBrowser prefers a browser session and falls back to HTTP.
	FetchModeBrowser FetchMode = "browser"
	// FetchModeHTTP prefers plain HTTP and falls back to a browser session.
	FetchModeHTTP FetchMode = "http"
)

// ParseFetchMode converts user input into a FetchMode. Empty input means auto.
func ParseFetchMode(raw string) (FetchMode, error) {
	switch FetchMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FetchModeAuto:
		return FetchModeAuto, nil
	case FetchModeBrowser:
		return FetchModeBrowser, nil
	case FetchModeHTTP:
		return FetchModeHTTP, nil
	default:
		return "", fmt.Errorf("unknown fetch mode %q", raw)
	}
}

// Defaults applied when RunConfig leaves a value unset.
const (
	DefaultTimeout         = 60 * time.Second
	DefaultPolitenessDelay = 600 * time.Millisecond
)

// RunConfig captures the immutable inputs of a single extraction run.
type RunConfig struct {
	Query      string
	MaxResults int
	FetchMode  FetchMode
	// Timeout bounds every individual fetch.
	Timeout time.Duration
	// PolitenessDelay is the pause after each detail fetch. Zero means the
	// default; a negative value disables the pause.
	PolitenessDelay time.Duration
}

// WithDefaults returns a copy with zero values replaced by defaults.
func (c RunConfig) WithDefaults() RunConfig {
	if c.FetchMode == "" {
		c.FetchMode = FetchModeAuto
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PolitenessDelay == 0 {
		c.PolitenessDelay = DefaultPolitenessDelay
	}
	return c
}

// Pause returns the delay to apply after a detail fetch; a disabled pause
// is zero.
func (c RunConfig) Pause() time.Duration {
	return max(c.PolitenessDelay, 0)
}

// PatentCandidate is a search hit before detail-page enrichment.
type PatentCandidate struct {
	Title           string
	AbstractSnippet string
	PatentID        string
	DetailURL       string
}

// PatentRecord is a best-effort enriched patent. Every field may be empty.
type PatentRecord struct {
	Title          string `json:"title"`
	Abstract       string `json:"abstract"`
	PatentID       string `json:"patent_id"`
	Link           string `json:"link"`
	Claims         string `json:"claims"`
	Description    string `json:"description"`
	Inventor       string `json:"inventor"`
	Assignee       string `json:"assignee"`
	Classification string `json:"classification"`
	Citations      string `json:"citations"`
	DatePublished  string `json:"date_published"`
}

// RecordFromCandidate seeds a record with the search-phase values.
func RecordFromCandidate(c PatentCandidate) PatentRecord {
	return PatentRecord{
		Title:    c.Title,
		Abstract: c.AbstractSnippet,
		PatentID: c.PatentID,
		Link:     c.DetailURL,
	}
}

// FetchRequest describes a single document retrieval.
type FetchRequest struct {
	URL string
	// WaitSelector is the readiness condition for browser fetches. Ignored
	// by HTTP fetchers.
	WaitSelector string
}
