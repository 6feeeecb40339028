// Package collector crawls paginated catalogs in two batch phases: scan every
// listing page for asset URLs, then fetch and persist every asset found.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/cwygoda/collector/internal/batch"
	"github.com/cwygoda/collector/internal/config"
	"github.com/cwygoda/collector/internal/domain"
)

// Phase names reported to an Observer.
const (
	PhaseScan  = "scan"
	PhaseFetch = "fetch"
)

// Observer is told about every job outcome. It must be safe for concurrent use.
type Observer interface {
	JobDone(catalog, phase string, err error)
	BytesPersisted(catalog string, n int64)
}

type nopObserver struct{}

func (nopObserver) JobDone(string, string, error) {}
func (nopObserver) BytesPersisted(string, int64)  {}

// Deps are the collaborators a Collector needs.
type Deps struct {
	Fetcher   domain.Fetcher
	Parser    domain.PageParser
	Persister domain.Persister
	Batch     *batch.Processor
	Observer  Observer
	Logger    *slog.Logger
}

// Collector crawls one catalog.
type Collector struct {
	cat       config.CatalogConfig
	base      *url.URL
	fetcher   domain.Fetcher
	parser    domain.PageParser
	persister domain.Persister
	batch     *batch.Processor
	observer  Observer
	logger    *slog.Logger
}

// New creates a collector for cat.
func New(cat config.CatalogConfig, deps Deps) (*Collector, error) {
	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("catalog %q: %w", cat.Name, err)
	}
	base, err := url.Parse(cat.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("catalog %q: invalid base_url %q", cat.Name, cat.BaseURL)
	}
	if deps.Fetcher == nil || deps.Parser == nil || deps.Persister == nil || deps.Batch == nil || deps.Logger == nil {
		return nil, errors.New("collector: missing dependency")
	}

	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Collector{
		cat:       cat,
		base:      base,
		fetcher:   deps.Fetcher,
		parser:    deps.Parser,
		persister: deps.Persister,
		batch:     deps.Batch,
		observer:  observer,
		logger:    deps.Logger.With("catalog", cat.Name),
	}, nil
}

// Name returns the catalog name.
func (c *Collector) Name() string {
	return c.cat.Name
}

// DefaultPages returns how many pages a run crawls when none is requested.
func (c *Collector) DefaultPages() int {
	return c.cat.PagesOrDefault()
}

// Run scans pages 1..maxPages and persists every asset found on them.
// Individual page or asset failures are logged and counted, never returned.
func (c *Collector) Run(ctx context.Context, maxPages int) (domain.RunStats, error) {
	if maxPages < 1 {
		return domain.RunStats{}, fmt.Errorf("%w: max pages must be at least 1, got %d", domain.ErrInvalidRun, maxPages)
	}

	pageURLs := c.PageURLs(maxPages)
	c.logger.Info("scanning catalog pages", "pages", len(pageURLs), "workers", c.batch.Size())
	perPage := batch.Process(ctx, c.batch, pageURLs, observe(c, PhaseScan, c.ScanPage))

	var assetURLs []string
	for _, urls := range perPage {
		assetURLs = append(assetURLs, urls...)
	}

	c.logger.Info("fetching assets", "assets", len(assetURLs))
	saved := batch.Process(ctx, c.batch, assetURLs, observe(c, PhaseFetch, c.FetchAsset))

	stats := domain.RunStats{
		PagesScanned: len(perPage),
		AssetsFound:  len(assetURLs),
		AssetsSaved:  len(saved),
	}
	for _, s := range saved {
		stats.BytesSaved += s.Bytes
	}

	c.logger.Info("catalog run finished",
		"pages_scanned", stats.PagesScanned,
		"pages_failed", len(pageURLs)-stats.PagesScanned,
		"assets_found", stats.AssetsFound,
		"assets_saved", stats.AssetsSaved,
		"bytes", stats.BytesSaved,
	)
	return stats, nil
}

// PageURLs returns the listing page URLs for pages 1..maxPages, in order.
func (c *Collector) PageURLs(maxPages int) []string {
	urls := make([]string, 0, maxPages)
	for n := 1; n <= maxPages; n++ {
		urls = append(urls, c.pageURL(n))
	}
	return urls
}

func (c *Collector) pageURL(n int) string {
	ref, err := url.Parse(fmt.Sprintf(c.cat.PagePath, n))
	if err != nil {
		return c.cat.BaseURL + fmt.Sprintf(c.cat.PagePath, n)
	}
	return c.base.ResolveReference(ref).String()
}

// observe reports every outcome of task, panics included, to the observer.
// A panic is counted as a failure and re-raised for the worker to recover.
func observe[R any](c *Collector, phase string, task batch.Task[R]) batch.Task[R] {
	return func(ctx context.Context, job string) (v R, err error) {
		defer func() {
			if r := recover(); r != nil {
				c.observer.JobDone(c.cat.Name, phase, fmt.Errorf("task panicked: %v", r))
				panic(r)
			}
		}()
		v, err = task(ctx, job)
		c.observer.JobDone(c.cat.Name, phase, err)
		return v, err
	}
}
