// Package batch runs a task over a list of jobs with a fixed pool of workers
// that share one queue.
package batch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrNoWorkers is returned when a pool is requested with fewer than one worker.
var ErrNoWorkers = errors.New("batch: worker count must be at least 1")

// Processor owns a fixed pool of workers.
type Processor struct {
	workers []*Worker
	logger  *slog.Logger
}

// New creates a processor with count workers.
func New(count int, logger *slog.Logger) (*Processor, error) {
	if count < 1 {
		return nil, ErrNoWorkers
	}

	workers := make([]*Worker, count)
	for i := range workers {
		workers[i] = NewWorker(i+1, logger)
	}

	return &Processor{workers: workers, logger: logger}, nil
}

// Size returns the number of workers in the pool.
func (p *Processor) Size() int {
	return len(p.workers)
}

// Process runs task over jobs with every worker of p draining one shared queue,
// and returns once all workers are done.
//
// The returned slice holds one value per successful job. Its order says nothing
// about which job produced which value; tasks that need that mapping must put
// the job into their result.
func Process[R any](ctx context.Context, p *Processor, jobs []string, task Task[R]) []R {
	batchID := uuid.NewString()
	logger := p.logger.With("batch_id", batchID)
	q := NewQueue(jobs)

	perWorker := make([][]R, len(p.workers))
	var g errgroup.Group
	for i, w := range p.workers {
		g.Go(func() error {
			perWorker[i] = drain(ctx, logger.With("worker", w.id), q, task)
			return nil
		})
	}
	// Workers never return an error.
	_ = g.Wait()

	total := 0
	for _, rs := range perWorker {
		total += len(rs)
	}
	merged := make([]R, 0, total)
	for _, rs := range perWorker {
		merged = append(merged, rs...)
	}

	logger.Debug("batch complete", "jobs", len(jobs), "results", len(merged), "workers", len(p.workers))
	return merged
}
