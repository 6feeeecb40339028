package domain

import (
	"context"
	"errors"
)

var (
	ErrInvalidRun        = errors.New("invalid run")
	ErrRunNotFound       = errors.New("run not found")
	ErrUnknownCatalog    = errors.New("unknown catalog")
	ErrMalformedAssetURL = errors.New("malformed asset URL")
)

// CatalogLookup reports whether a catalog name is known.
type CatalogLookup func(name string) bool

// RunService orchestrates run operations.
type RunService struct {
	repo    RunRepository
	catalog CatalogLookup
}

// NewRunService creates a new RunService. A nil lookup accepts every catalog.
func NewRunService(repo RunRepository, catalog CatalogLookup) *RunService {
	return &RunService{repo: repo, catalog: catalog}
}

// Submit creates a new pending run.
func (s *RunService) Submit(ctx context.Context, catalog string, maxPages int) (*Run, error) {
	if catalog == "" || maxPages < 1 {
		return nil, ErrInvalidRun
	}
	if s.catalog != nil && !s.catalog(catalog) {
		return nil, ErrUnknownCatalog
	}
	return s.repo.Create(ctx, catalog, maxPages)
}

// Get retrieves a run by ID.
func (s *RunService) Get(ctx context.Context, id int64) (*Run, error) {
	return s.repo.Get(ctx, id)
}

// List returns the most recent runs, newest first.
func (s *RunService) List(ctx context.Context, limit int) ([]Run, error) {
	return s.repo.List(ctx, limit)
}

// GetPending retrieves pending runs up to the limit.
func (s *RunService) GetPending(ctx context.Context, limit int) ([]Run, error) {
	return s.repo.FindPending(ctx, limit)
}

// MarkProcessing claims a run for processing.
func (s *RunService) MarkProcessing(ctx context.Context, id int64) error {
	return s.repo.Claim(ctx, id)
}

// MarkComplete marks a run as completed and records its stats.
func (s *RunService) MarkComplete(ctx context.Context, id int64, stats RunStats) error {
	return s.repo.Complete(ctx, id, stats)
}

// MarkFailed marks a run as permanently failed.
func (s *RunService) MarkFailed(ctx context.Context, id int64, reason string) error {
	return s.repo.Fail(ctx, id, reason)
}

// MarkRetry puts a run back to pending with error info.
func (s *RunService) MarkRetry(ctx context.Context, id int64, reason string) error {
	return s.repo.Retry(ctx, id, reason)
}

// RecoverStale resets runs left processing by a crash.
func (s *RunService) RecoverStale(ctx context.Context) (int64, error) {
	return s.repo.RecoverStale(ctx)
}
