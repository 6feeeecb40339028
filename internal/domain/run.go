package domain

import "time"

// RunStatus represents the processing state of a crawl run.
type RunStatus string

const (
	StatusPending    RunStatus = "pending"
	StatusProcessing RunStatus = "processing"
	StatusCompleted  RunStatus = "completed"
	StatusFailed     RunStatus = "failed"
)

// Run is one requested crawl of a catalog.
type Run struct {
	ID       int64
	Catalog  string
	MaxPages int
	Status   RunStatus
	Attempts int
	Error    string
	RunStats
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RunStats summarizes what a collector run did.
// AssetsFound minus AssetsSaved is the number of assets that failed.
type RunStats struct {
	PagesScanned int
	AssetsFound  int
	AssetsSaved  int
	BytesSaved   int64
}

// CanRetry returns true if the run can be retried.
func (r *Run) CanRetry(maxAttempts int) bool {
	return r.Attempts < maxAttempts && r.Status != StatusCompleted
}
