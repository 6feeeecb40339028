package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Task turns one job into a result. It may fail.
type Task[R any] func(ctx context.Context, job string) (R, error)

// Outcome is what a single task invocation produced.
type Outcome[R any] struct {
	Job   string
	Value R
	Err   error
}

// OK reports whether the task succeeded.
func (o Outcome[R]) OK() bool {
	return o.Err == nil
}

// Worker drains jobs from a shared queue one at a time.
// It keeps no job state between batches and can be reused.
type Worker struct {
	id     int
	logger *slog.Logger
}

// NewWorker creates a worker that logs through logger.
func NewWorker(id int, logger *slog.Logger) *Worker {
	return &Worker{
		id:     id,
		logger: logger.With("worker", id),
	}
}

// ID returns the worker's position in its pool.
func (w *Worker) ID() int {
	return w.id
}

// Drain pops jobs from q until it is empty and applies task to each.
// Failed jobs are logged and skipped; only successful values are returned.
func Drain[R any](ctx context.Context, w *Worker, q *Queue, task Task[R]) []R {
	return drain(ctx, w.logger, q, task)
}

func drain[R any](ctx context.Context, logger *slog.Logger, q *Queue, task Task[R]) []R {
	var results []R

	for {
		job, ok := q.Pop()
		if !ok {
			return results
		}

		out := attempt(ctx, job, task)
		if !out.OK() {
			logger.Error("job failed", "job", out.Job, "error", out.Err)
			continue
		}

		logger.Debug("job completed", "job", out.Job)
		results = append(results, out.Value)
	}
}

// attempt runs task for job, turning a panic into a failed outcome.
func attempt[R any](ctx context.Context, job string, task Task[R]) (out Outcome[R]) {
	out.Job = job
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("task panicked: %v\n%s", r, debug.Stack())
		}
	}()

	out.Value, out.Err = task(ctx, job)
	return out
}
