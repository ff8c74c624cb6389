package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/patent-crawler/internal/dom"
)

// Fetcher retrieves a URL and returns a parsed document. Callers must Close
// the returned document.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (*dom.Document, error)
	Mode() FetchMode
}

// Session is a Fetcher that holds resources for the lifetime of a run.
type Session interface {
	Fetcher
	Close() error
}

// Launcher starts a Session for one fetch mode.
type Launcher interface {
	Mode() FetchMode
	Launch(ctx context.Context) (Session, error)
}

// ResultStore receives the records of a finished run under a session key.
// The last writer for a key wins.
type ResultStore interface {
	PutResults(ctx context.Context, sessionKey string, records []PatentRecord) error
}

// ResultReader is implemented by stores that can return stored results.
type ResultReader interface {
	GetResults(ctx context.Context, sessionKey string) ([]PatentRecord, error)
}

// Publisher pushes run-completion notices to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Pauser blocks for the politeness delay between detail fetches. It returns
// early when ctx is done.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Digester fingerprints a run's records for change detection.
type Digester interface {
	Digest(records []PatentRecord) string
}
