package batch

import "sync"

// Queue is the job stack shared by every worker of one batch.
// Pop is the only way jobs leave it, so no job is handed out twice.
type Queue struct {
	mu   sync.Mutex
	jobs []string
}

// NewQueue copies jobs into a new queue. The caller's slice is never mutated.
func NewQueue(jobs []string) *Queue {
	q := &Queue{jobs: make([]string, len(jobs))}
	copy(q.jobs, jobs)
	return q
}

// Pop removes and returns the most recently added job.
// ok is false once the queue is empty.
func (q *Queue) Pop() (job string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.jobs)
	if n == 0 {
		return "", false
	}
	job = q.jobs[n-1]
	q.jobs = q.jobs[:n-1]
	return job, true
}

// Len returns the number of jobs still queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
