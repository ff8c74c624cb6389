// Package system provides the wall-clock implementations of crawler.Clock
// and crawler.Pauser.
package system

import (
	"context"
	"time"
)

// Clock implements crawler.Clock and crawler.Pauser using the real time.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Pause sleeps for delay or until ctx is done.
func (Clock) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
