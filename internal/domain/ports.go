package domain

import (
	"context"
	"io"
)

// RunRepository is the driven port for run persistence.
type RunRepository interface {
	Create(ctx context.Context, catalog string, maxPages int) (*Run, error)
	Get(ctx context.Context, id int64) (*Run, error)
	List(ctx context.Context, limit int) ([]Run, error)
	FindPending(ctx context.Context, limit int) ([]Run, error)
	Claim(ctx context.Context, id int64) error
	Complete(ctx context.Context, id int64, stats RunStats) error
	Fail(ctx context.Context, id int64, reason string) error
	Retry(ctx context.Context, id int64, reason string) error
	RecoverStale(ctx context.Context) (int64, error)
}

// Fetcher retrieves remote resources.
type Fetcher interface {
	// Get returns the full response body.
	Get(ctx context.Context, url string) ([]byte, error)
	// Stream returns the response body unread. The caller closes it.
	Stream(ctx context.Context, url string) (io.ReadCloser, error)
}

// PageParser turns an HTML document into a queryable tree.
type PageParser interface {
	Parse(html []byte) (Document, error)
}

// Document is a parsed page.
type Document interface {
	Select(selector string) []Element
}

// Element is a single node matched by a selector.
type Element interface {
	HasClass(name string) bool
	// Attr returns the attribute value and whether it was present.
	Attr(name string) (string, bool)
}

// Persister durably stores a named byte stream.
type Persister interface {
	Persist(ctx context.Context, name string, r io.Reader) (int64, error)
}

// Collector crawls one catalog.
type Collector interface {
	Name() string
	Run(ctx context.Context, maxPages int) (RunStats, error)
}
