package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrBrowserUnavailable signals that a browser session could not be started.
	ErrBrowserUnavailable = errors.New("browser unavailable")
	// ErrSessionNotFound is returned by readers when no results exist for a key.
	ErrSessionNotFound = errors.New("session not found")
)

// HTTPStatusError reports a response whose status was not 200.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

// FetchError wraps any failure to produce a document for a URL.
type FetchError struct {
	URL  string
	Mode FetchMode
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch %s: %v", e.Mode, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
