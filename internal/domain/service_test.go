package domain

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"
)

// mockRepo implements RunRepository for testing.
type mockRepo struct {
	runs      map[int64]*Run
	nextID    int64
	createErr error
	claimErr  error
}

func newMockRepo() *mockRepo {
	return &mockRepo{runs: make(map[int64]*Run), nextID: 1}
}

func (m *mockRepo) Create(ctx context.Context, catalog string, maxPages int) (*Run, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	run := &Run{
		ID:        m.nextID,
		Catalog:   catalog,
		MaxPages:  maxPages,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.runs[m.nextID] = run
	m.nextID++
	return run, nil
}

func (m *mockRepo) Get(ctx context.Context, id int64) (*Run, error) {
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

func (m *mockRepo) List(ctx context.Context, limit int) ([]Run, error) {
	var result []Run
	for _, run := range m.runs {
		result = append(result, *run)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockRepo) FindPending(ctx context.Context, limit int) ([]Run, error) {
	var result []Run
	for _, run := range m.runs {
		if run.Status == StatusPending {
			result = append(result, *run)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *mockRepo) Claim(ctx context.Context, id int64) error {
	if m.claimErr != nil {
		return m.claimErr
	}
	run, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = StatusProcessing
	run.Attempts++
	return nil
}

func (m *mockRepo) Complete(ctx context.Context, id int64, stats RunStats) error {
	run, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = StatusCompleted
	run.RunStats = stats
	return nil
}

func (m *mockRepo) Fail(ctx context.Context, id int64, reason string) error {
	run, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = StatusFailed
	run.Error = reason
	return nil
}

func (m *mockRepo) Retry(ctx context.Context, id int64, reason string) error {
	run, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = StatusPending
	run.Error = reason
	return nil
}

func (m *mockRepo) RecoverStale(ctx context.Context) (int64, error) {
	var count int64
	for _, run := range m.runs {
		if run.Status == StatusProcessing {
			run.Status = StatusPending
			count++
		}
	}
	return count, nil
}

func knownCatalog(name string) bool { return name == "cooper-hewitt" }

func TestRunService_Submit(t *testing.T) {
	tests := []struct {
		name     string
		catalog  string
		maxPages int
		wantErr  error
	}{
		{"valid run", "cooper-hewitt", 5, nil},
		{"unknown catalog", "louvre", 5, ErrUnknownCatalog},
		{"empty catalog", "", 5, ErrInvalidRun},
		{"zero pages", "cooper-hewitt", 0, ErrInvalidRun},
		{"negative pages", "cooper-hewitt", -2, ErrInvalidRun},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewRunService(newMockRepo(), knownCatalog)

			run, err := svc.Submit(context.Background(), tt.catalog, tt.maxPages)

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Submit() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if run.Catalog != tt.catalog || run.MaxPages != tt.maxPages {
				t.Errorf("Submit() run = %+v", run)
			}
			if run.Status != StatusPending {
				t.Errorf("Submit() status = %q, want %q", run.Status, StatusPending)
			}
		})
	}
}

func TestRunService_Submit_NilLookupAcceptsAnyCatalog(t *testing.T) {
	svc := NewRunService(newMockRepo(), nil)

	if _, err := svc.Submit(context.Background(), "anything", 1); err != nil {
		t.Errorf("Submit() error = %v", err)
	}
}

func TestRunService_Submit_RepoError(t *testing.T) {
	repo := newMockRepo()
	repo.createErr = errors.New("disk full")
	svc := NewRunService(repo, nil)

	if _, err := svc.Submit(context.Background(), "cooper-hewitt", 1); err == nil {
		t.Error("Submit() error = nil, want repo error")
	}
}

func TestRunService_Get(t *testing.T) {
	svc := NewRunService(newMockRepo(), nil)
	ctx := context.Background()

	created, _ := svc.Submit(ctx, "cooper-hewitt", 2)

	run, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if run.ID != created.ID {
		t.Errorf("Get() run.ID = %d, want %d", run.ID, created.ID)
	}

	_, err = svc.Get(ctx, 999)
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Get() error = %v, want %v", err, ErrRunNotFound)
	}
}

func TestRunService_List(t *testing.T) {
	svc := NewRunService(newMockRepo(), nil)
	ctx := context.Background()

	svc.Submit(ctx, "a", 1)
	svc.Submit(ctx, "b", 1)
	svc.Submit(ctx, "c", 1)

	runs, err := svc.List(ctx, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("List() returned %d runs, want 2", len(runs))
	}
	if runs[0].Catalog != "c" {
		t.Errorf("List()[0].Catalog = %q, want newest %q", runs[0].Catalog, "c")
	}
}

func TestRunService_GetPending(t *testing.T) {
	svc := NewRunService(newMockRepo(), nil)
	ctx := context.Background()

	svc.Submit(ctx, "a", 1)
	svc.Submit(ctx, "b", 1)
	svc.Submit(ctx, "c", 1)

	runs, err := svc.GetPending(ctx, 2)
	if err != nil {
		t.Fatalf("GetPending() error = %v", err)
	}
	if len(runs) > 2 {
		t.Errorf("GetPending() returned %d runs, want <= 2", len(runs))
	}
}

func TestRunService_Lifecycle(t *testing.T) {
	svc := NewRunService(newMockRepo(), nil)
	ctx := context.Background()

	run, _ := svc.Submit(ctx, "cooper-hewitt", 3)

	if err := svc.MarkProcessing(ctx, run.ID); err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}
	updated, _ := svc.Get(ctx, run.ID)
	if updated.Status != StatusProcessing {
		t.Errorf("Status = %q, want %q", updated.Status, StatusProcessing)
	}

	stats := RunStats{PagesScanned: 3, AssetsFound: 10, AssetsSaved: 9, BytesSaved: 1024}
	if err := svc.MarkComplete(ctx, run.ID, stats); err != nil {
		t.Fatalf("MarkComplete() error = %v", err)
	}
	updated, _ = svc.Get(ctx, run.ID)
	if updated.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", updated.Status, StatusCompleted)
	}
	if updated.RunStats != stats {
		t.Errorf("RunStats = %+v, want %+v", updated.RunStats, stats)
	}
}

func TestRunService_MarkFailed(t *testing.T) {
	svc := NewRunService(newMockRepo(), nil)
	ctx := context.Background()

	run, _ := svc.Submit(ctx, "cooper-hewitt", 1)
	svc.MarkProcessing(ctx, run.ID)

	if err := svc.MarkFailed(ctx, run.ID, "catalog unreachable"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	updated, _ := svc.Get(ctx, run.ID)
	if updated.Status != StatusFailed {
		t.Errorf("Status = %q, want %q", updated.Status, StatusFailed)
	}
	if updated.Error != "catalog unreachable" {
		t.Errorf("Error = %q, want %q", updated.Error, "catalog unreachable")
	}
}

func TestRunService_MarkRetry(t *testing.T) {
	svc := NewRunService(newMockRepo(), nil)
	ctx := context.Background()

	run, _ := svc.Submit(ctx, "cooper-hewitt", 1)
	svc.MarkProcessing(ctx, run.ID)

	if err := svc.MarkRetry(ctx, run.ID, "temporary error"); err != nil {
		t.Fatalf("MarkRetry() error = %v", err)
	}

	updated, _ := svc.Get(ctx, run.ID)
	if updated.Status != StatusPending {
		t.Errorf("Status = %q, want %q", updated.Status, StatusPending)
	}
}

func TestRunService_RecoverStale(t *testing.T) {
	svc := NewRunService(newMockRepo(), nil)
	ctx := context.Background()

	a, _ := svc.Submit(ctx, "a", 1)
	svc.Submit(ctx, "b", 1)
	svc.MarkProcessing(ctx, a.ID)

	n, err := svc.RecoverStale(ctx)
	if err != nil {
		t.Fatalf("RecoverStale() error = %v", err)
	}
	if n != 1 {
		t.Errorf("RecoverStale() = %d, want 1", n)
	}
}
