package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cwygoda/collector/internal/domain"
)

// mockRepo implements domain.RunRepository for testing.
type mockRepo struct {
	mu     sync.Mutex
	runs   map[int64]*domain.Run
	nextID int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{runs: make(map[int64]*domain.Run), nextID: 1}
}

func (m *mockRepo) Create(ctx context.Context, catalog string, maxPages int) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := &domain.Run{
		ID:        m.nextID,
		Catalog:   catalog,
		MaxPages:  maxPages,
		Status:    domain.StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.runs[m.nextID] = run
	m.nextID++
	return run, nil
}

func (m *mockRepo) Get(ctx context.Context, id int64) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (m *mockRepo) List(ctx context.Context, limit int) ([]domain.Run, error) {
	return nil, nil
}

func (m *mockRepo) FindPending(ctx context.Context, limit int) ([]domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.Run
	for id := int64(1); id < m.nextID && len(result) < limit; id++ {
		if run := m.runs[id]; run.Status == domain.StatusPending {
			result = append(result, *run)
		}
	}
	return result, nil
}

func (m *mockRepo) Claim(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok || run.Status != domain.StatusPending {
		return domain.ErrRunNotFound
	}
	run.Status = domain.StatusProcessing
	run.Attempts++
	return nil
}

func (m *mockRepo) Complete(ctx context.Context, id int64, stats domain.RunStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return domain.ErrRunNotFound
	}
	run.Status = domain.StatusCompleted
	run.RunStats = stats
	return nil
}

func (m *mockRepo) Fail(ctx context.Context, id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return domain.ErrRunNotFound
	}
	run.Status = domain.StatusFailed
	run.Error = reason
	return nil
}

func (m *mockRepo) Retry(ctx context.Context, id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return domain.ErrRunNotFound
	}
	run.Status = domain.StatusPending
	run.Error = reason
	return nil
}

func (m *mockRepo) RecoverStale(ctx context.Context) (int64, error) { return 0, nil }

func (m *mockRepo) getRun(id int64) domain.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.runs[id]
}

// mockCollector implements domain.Collector for testing.
type mockCollector struct {
	mu    sync.Mutex
	name  string
	stats domain.RunStats
	err   error
	pages []int
}

func (c *mockCollector) Name() string { return c.name }

func (c *mockCollector) Run(ctx context.Context, maxPages int) (domain.RunStats, error) {
	c.mu.Lock()
	c.pages = append(c.pages, maxPages)
	c.mu.Unlock()
	return c.stats, c.err
}

func (c *mockCollector) calls() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.pages...)
}

type mapCollectors map[string]domain.Collector

func (m mapCollectors) Lookup(name string) domain.Collector { return m[name] }

type recorder struct {
	mu       sync.Mutex
	finished []domain.RunStatus
}

func (r *recorder) RunFinished(catalog string, status domain.RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, status)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(c *mockCollector) (*mockRepo, *Dispatcher, *recorder) {
	repo := newMockRepo()
	svc := domain.NewRunService(repo, nil)
	rec := &recorder{}
	collectors := mapCollectors{}
	if c != nil {
		collectors[c.name] = c
	}
	return repo, New(svc, collectors, rec, 50*time.Millisecond, 3, discardLogger()), rec
}

func TestDispatcher_Execute_Success(t *testing.T) {
	c := &mockCollector{name: "cooper-hewitt", stats: domain.RunStats{PagesScanned: 2, AssetsFound: 4, AssetsSaved: 3, BytesSaved: 99}}
	repo, d, rec := setup(c)

	run, _ := repo.Create(context.Background(), "cooper-hewitt", 2)
	d.execute(context.Background(), run)

	got := repo.getRun(run.ID)
	if got.Status != domain.StatusCompleted {
		t.Errorf("status = %q, want %q", got.Status, domain.StatusCompleted)
	}
	if got.RunStats != c.stats {
		t.Errorf("stats = %+v, want %+v", got.RunStats, c.stats)
	}
	if calls := c.calls(); len(calls) != 1 || calls[0] != 2 {
		t.Errorf("collector called with %v, want [2]", calls)
	}
	if len(rec.finished) != 1 || rec.finished[0] != domain.StatusCompleted {
		t.Errorf("recorded %v, want [completed]", rec.finished)
	}
}

func TestDispatcher_Execute_NoCollector(t *testing.T) {
	repo, d, rec := setup(nil)

	run, _ := repo.Create(context.Background(), "louvre", 1)
	d.execute(context.Background(), run)

	got := repo.getRun(run.ID)
	if got.Status != domain.StatusFailed {
		t.Errorf("status = %q, want %q", got.Status, domain.StatusFailed)
	}
	if got.Error != "no collector for catalog" {
		t.Errorf("error = %q, want %q", got.Error, "no collector for catalog")
	}
	if len(rec.finished) != 1 || rec.finished[0] != domain.StatusFailed {
		t.Errorf("recorded %v, want [failed]", rec.finished)
	}
}

func TestDispatcher_Execute_Retry(t *testing.T) {
	c := &mockCollector{name: "cooper-hewitt", err: errors.New("temporary error")}
	repo, d, rec := setup(c)

	run, _ := repo.Create(context.Background(), "cooper-hewitt", 1)
	d.execute(context.Background(), run)

	got := repo.getRun(run.ID)
	if got.Status != domain.StatusPending {
		t.Errorf("status = %q, want %q (retry)", got.Status, domain.StatusPending)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.Error != "temporary error" {
		t.Errorf("error = %q, want %q", got.Error, "temporary error")
	}
	if len(rec.finished) != 0 {
		t.Errorf("recorded %v, want nothing for a retry", rec.finished)
	}
}

func TestDispatcher_Execute_MaxRetriesExceeded(t *testing.T) {
	c := &mockCollector{name: "cooper-hewitt", err: errors.New("permanent error")}
	repo, d, rec := setup(c)

	run, _ := repo.Create(context.Background(), "cooper-hewitt", 1)

	for i := 0; i < 3; i++ {
		current := repo.getRun(run.ID)
		d.execute(context.Background(), &current)
	}

	got := repo.getRun(run.ID)
	if got.Status != domain.StatusFailed {
		t.Errorf("status = %q, want %q", got.Status, domain.StatusFailed)
	}
	if got.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", got.Attempts)
	}
	if len(rec.finished) != 1 || rec.finished[0] != domain.StatusFailed {
		t.Errorf("recorded %v, want [failed]", rec.finished)
	}
}

func TestDispatcher_Execute_AlreadyClaimed(t *testing.T) {
	c := &mockCollector{name: "cooper-hewitt"}
	repo, d, _ := setup(c)

	run, _ := repo.Create(context.Background(), "cooper-hewitt", 1)
	repo.Claim(context.Background(), run.ID)

	d.execute(context.Background(), run)

	if calls := c.calls(); len(calls) != 0 {
		t.Errorf("collector called %d times, want 0", len(calls))
	}
}

func TestDispatcher_Poll_ExecutesRuns(t *testing.T) {
	c := &mockCollector{name: "cooper-hewitt"}
	repo, d, _ := setup(c)

	repo.Create(context.Background(), "cooper-hewitt", 1)
	repo.Create(context.Background(), "cooper-hewitt", 4)

	d.poll(context.Background())

	calls := c.calls()
	if len(calls) != 2 {
		t.Fatalf("executed %d runs, want 2", len(calls))
	}
	for id := int64(1); id <= 2; id++ {
		if got := repo.getRun(id).Status; got != domain.StatusCompleted {
			t.Errorf("run %d status = %q, want %q", id, got, domain.StatusCompleted)
		}
	}
}

func TestDispatcher_Run_Cancellation(t *testing.T) {
	_, d, _ := setup(nil)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("dispatcher did not stop after context cancellation")
	}
}

func TestNew_NilRecorder(t *testing.T) {
	repo := newMockRepo()
	svc := domain.NewRunService(repo, nil)
	c := &mockCollector{name: "cooper-hewitt"}
	d := New(svc, mapCollectors{c.name: c}, nil, time.Second, 3, discardLogger())

	run, _ := repo.Create(context.Background(), "cooper-hewitt", 1)
	d.execute(context.Background(), run)

	if got := repo.getRun(run.ID).Status; got != domain.StatusCompleted {
		t.Errorf("status = %q, want %q", got, domain.StatusCompleted)
	}
}
