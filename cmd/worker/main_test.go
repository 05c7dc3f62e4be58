package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"citygen/internal/domain"
)

type completion struct {
	id      string
	status  domain.RunStatus
	reason  string
	outcome []byte
}

type queueRepo struct {
	mu        sync.Mutex
	queued    []*domain.Run
	completed []completion
	done      chan struct{}
}

func (q *queueRepo) Create(ctx context.Context, run *domain.Run) error { return nil }

func (q *queueRepo) Claim(ctx context.Context) (*domain.Run, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queued) == 0 {
		return nil, domain.ErrNotFound
	}
	run := q.queued[0]
	q.queued = q.queued[1:]
	return run, nil
}

func (q *queueRepo) Complete(ctx context.Context, runID string, status domain.RunStatus, reason string, outcomeJSON []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, completion{id: runID, status: status, reason: reason, outcome: outcomeJSON})
	if len(q.queued) == 0 && q.done != nil {
		close(q.done)
		q.done = nil
	}
	return nil
}

func (q *queueRepo) GetByID(ctx context.Context, runID string) (*domain.Run, error) {
	return nil, domain.ErrNotFound
}

func (q *queueRepo) List(ctx context.Context, limit int) ([]domain.Run, error) { return nil, nil }

type fakeOrchestrator struct {
	mu     sync.Mutex
	themes []string
}

func (f *fakeOrchestrator) Run(ctx context.Context, concept domain.Concept) domain.Outcome {
	f.mu.Lock()
	f.themes = append(f.themes, concept.Theme)
	f.mu.Unlock()
	return domain.Outcome{Status: domain.RunStatusSuccess, Reason: "reviewer satisfied", Iterations: 1}
}

type memWriter struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memWriter) Write(ctx context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[key] = data
	return key, nil
}

func TestWorkerCompletesQueuedRuns(t *testing.T) {
	repo := &queueRepo{
		queued: []*domain.Run{
			{ID: "r1", ConceptJSON: []byte(`{"theme":"harbour"}`)},
			{ID: "r2", ConceptJSON: []byte(`not json`)},
		},
		done: make(chan struct{}),
	}
	done := repo.done
	orch := &fakeOrchestrator{}
	files := &memWriter{files: map[string][]byte{}}
	w := &runWorker{runs: repo, orchestrator: orch, outcomes: files, logger: zerolog.Nop(), pollInterval: 5 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not drain the queue")
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}

	if len(orch.themes) != 1 || orch.themes[0] != "harbour" {
		t.Fatalf("orchestrator saw %v", orch.themes)
	}
	if len(repo.completed) != 2 {
		t.Fatalf("completed %d runs, want 2", len(repo.completed))
	}
	if repo.completed[0].status != domain.RunStatusSuccess {
		t.Fatalf("r1 status = %q", repo.completed[0].status)
	}
	if repo.completed[1].status != domain.RunStatusFailedPlanning {
		t.Fatalf("r2 status = %q, want failed_planning", repo.completed[1].status)
	}

	var stored domain.Outcome
	if err := json.Unmarshal(files.files["runs/r1/outcome.json"], &stored); err != nil {
		t.Fatalf("decode stored outcome: %v", err)
	}
	if stored.Reason != "reviewer satisfied" {
		t.Fatalf("stored reason = %q", stored.Reason)
	}
}

func TestSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("sleep returned %v", err)
	}
}
