package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/cwygoda/collector/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    catalog       TEXT NOT NULL,
    max_pages     INTEGER NOT NULL,
    status        TEXT NOT NULL DEFAULT 'pending',
    attempts      INTEGER NOT NULL DEFAULT 0,
    error         TEXT,
    pages_scanned INTEGER NOT NULL DEFAULT 0,
    assets_found  INTEGER NOT NULL DEFAULT 0,
    assets_saved  INTEGER NOT NULL DEFAULT 0,
    bytes_saved   INTEGER NOT NULL DEFAULT 0,
    created_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

const runColumns = `id, catalog, max_pages, status, attempts, COALESCE(error, ''),
       pages_scanned, assets_found, assets_saved, bytes_saved, created_at, updated_at`

// Repository implements domain.RunRepository using SQLite.
type Repository struct {
	db *sql.DB
}

// New creates a new SQLite repository, initializing the schema if needed.
func New(dbPath string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new pending run.
func (r *Repository) Create(ctx context.Context, catalog string, maxPages int) (*domain.Run, error) {
	now := time.Now()
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (catalog, max_pages, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		catalog, maxPages, domain.StatusPending, now, now,
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &domain.Run{
		ID:        id,
		Catalog:   catalog,
		MaxPages:  maxPages,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Get retrieves a run by ID.
func (r *Repository) Get(ctx context.Context, id int64) (*domain.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// List returns up to limit runs, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]domain.Run, error) {
	return r.query(ctx, `SELECT `+runColumns+` FROM runs ORDER BY id DESC LIMIT ?`, limit)
}

// FindPending returns pending runs up to limit, oldest first.
func (r *Repository) FindPending(ctx context.Context, limit int) ([]domain.Run, error) {
	return r.query(ctx,
		`SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		domain.StatusPending, limit,
	)
}

func (r *Repository) query(ctx context.Context, q string, args ...any) ([]domain.Run, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Claim atomically claims a pending run for processing.
func (r *Repository) Claim(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, attempts = attempts + 1, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusProcessing, time.Now(), id, domain.StatusPending,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

// Complete marks a run as completed and stores its stats.
func (r *Repository) Complete(ctx context.Context, id int64, stats domain.RunStats) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = NULL, pages_scanned = ?, assets_found = ?,
		 assets_saved = ?, bytes_saved = ?, updated_at = ? WHERE id = ?`,
		domain.StatusCompleted, stats.PagesScanned, stats.AssetsFound,
		stats.AssetsSaved, stats.BytesSaved, time.Now(), id,
	)
	return err
}

// Fail marks a run as permanently failed.
func (r *Repository) Fail(ctx context.Context, id int64, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		domain.StatusFailed, reason, time.Now(), id,
	)
	return err
}

// Retry marks a run for retry (back to pending with error info).
func (r *Repository) Retry(ctx context.Context, id int64, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		domain.StatusPending, reason, time.Now(), id,
	)
	return err
}

// RecoverStale resets all processing runs back to pending (for crash recovery).
// A recovered run starts again from page 1.
func (r *Repository) RecoverStale(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = 'recovered after crash', updated_at = ?
		 WHERE status = ?`,
		domain.StatusPending, time.Now(), domain.StatusProcessing,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var status string
	err := row.Scan(&run.ID, &run.Catalog, &run.MaxPages, &status, &run.Attempts, &run.Error,
		&run.PagesScanned, &run.AssetsFound, &run.AssetsSaved, &run.BytesSaved,
		&run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	return &run, nil
}
