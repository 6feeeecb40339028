// Package dispatch polls the run ledger and executes pending crawl runs.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/cwygoda/collector/internal/domain"
)

// pollBatch is how many pending runs a single poll picks up.
const pollBatch = 10

// Collectors resolves a catalog name to its collector.
type Collectors interface {
	Lookup(name string) domain.Collector
}

// RunRecorder is notified when a run reaches a final state.
type RunRecorder interface {
	RunFinished(catalog string, status domain.RunStatus)
}

type nopRecorder struct{}

func (nopRecorder) RunFinished(string, domain.RunStatus) {}

// Dispatcher polls for pending runs and executes them one at a time.
type Dispatcher struct {
	svc          *domain.RunService
	collectors   Collectors
	recorder     RunRecorder
	pollInterval time.Duration
	maxRetries   int
	logger       *slog.Logger
}

// New creates a new dispatcher. A nil recorder discards run outcomes.
func New(svc *domain.RunService, collectors Collectors, recorder RunRecorder, pollInterval time.Duration, maxRetries int, logger *slog.Logger) *Dispatcher {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Dispatcher{
		svc:          svc,
		collectors:   collectors,
		recorder:     recorder,
		pollInterval: pollInterval,
		maxRetries:   maxRetries,
		logger:       logger,
	}
}

// Run starts the dispatch loop until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", "poll_interval", d.pollInterval)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher shutting down")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	runs, err := d.svc.GetPending(ctx, pollBatch)
	if err != nil {
		d.logger.Error("poll error", "error", err)
		return
	}

	for i := range runs {
		if ctx.Err() != nil {
			return
		}
		d.execute(ctx, &runs[i])
	}
}

func (d *Dispatcher) execute(ctx context.Context, run *domain.Run) {
	logger := d.logger.With("run_id", run.ID, "catalog", run.Catalog)

	c := d.collectors.Lookup(run.Catalog)
	if c == nil {
		logger.Warn("no collector for catalog")
		d.fail(ctx, logger, run.ID, run.Catalog, "no collector for catalog")
		return
	}

	if err := d.svc.MarkProcessing(ctx, run.ID); err != nil {
		logger.Warn("claim failed", "error", err)
		return
	}

	// Refresh to pick up the attempt count bumped by the claim.
	run, err := d.svc.Get(ctx, run.ID)
	if err != nil {
		logger.Error("refresh failed", "error", err)
		return
	}

	logger.Info("run started", "max_pages", run.MaxPages, "attempt", run.Attempts)

	stats, err := c.Run(ctx, run.MaxPages)
	if err != nil {
		logger.Error("run error", "error", err)
		if run.CanRetry(d.maxRetries) {
			if err := d.svc.MarkRetry(ctx, run.ID, err.Error()); err != nil {
				logger.Error("mark retry failed", "error", err)
			}
			return
		}
		d.fail(ctx, logger, run.ID, run.Catalog, err.Error())
		return
	}

	if err := d.svc.MarkComplete(ctx, run.ID, stats); err != nil {
		logger.Error("mark complete failed", "error", err)
		return
	}
	d.recorder.RunFinished(run.Catalog, domain.StatusCompleted)
	logger.Info("run completed",
		"pages_scanned", stats.PagesScanned,
		"assets_found", stats.AssetsFound,
		"assets_saved", stats.AssetsSaved,
		"bytes_saved", stats.BytesSaved,
	)
}

func (d *Dispatcher) fail(ctx context.Context, logger *slog.Logger, id int64, catalog, reason string) {
	if err := d.svc.MarkFailed(ctx, id, reason); err != nil {
		logger.Error("mark failed failed", "error", err)
		return
	}
	d.recorder.RunFinished(catalog, domain.StatusFailed)
}
