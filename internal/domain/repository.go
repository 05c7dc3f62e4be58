package domain

import "context"

// RunRepository persists pipeline run records.
type RunRepository interface {
	Create(ctx context.Context, run *Run) error
	// Claim moves the oldest queued run to running. It returns ErrNotFound
	// when nothing is queued.
	Claim(ctx context.Context) (*Run, error)
	Complete(ctx context.Context, runID string, status RunStatus, reason string, outcomeJSON []byte) error
	GetByID(ctx context.Context, runID string) (*Run, error)
	List(ctx context.Context, limit int) ([]Run, error)
}
