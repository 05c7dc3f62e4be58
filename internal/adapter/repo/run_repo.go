package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"citygen/internal/domain"
	"citygen/internal/infra"
	"citygen/internal/sqlinline"
)

const maxListLimit = 100

// RunRepositoryPG implements domain.RunRepository over marked SQL.
type RunRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewRunRepository creates a run repository backed by PostgreSQL.
func NewRunRepository(sql infra.SQLExecutor) *RunRepositoryPG {
	return &RunRepositoryPG{sql: sql}
}

// Create inserts a queued run. An empty ID is filled with a new UUID.
func (r *RunRepositoryPG) Create(ctx context.Context, run *domain.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = domain.RunStatusQueued
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertRun, run.ID, string(run.Status), run.ConceptJSON)
	if err := row.Scan(&run.CreatedAt, &run.UpdatedAt); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Claim moves the oldest queued run to running.
func (r *RunRepositoryPG) Claim(ctx context.Context) (*domain.Run, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QWorkerClaimRun)
	var (
		run    domain.Run
		status string
	)
	if err := row.Scan(&run.ID, &status, &run.ConceptJSON, &run.CreatedAt, &run.UpdatedAt); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("claim run: %w", err)
	}
	run.Status = domain.RunStatus(status)
	return &run, nil
}

// Complete records the terminal outcome of a running run.
func (r *RunRepositoryPG) Complete(ctx context.Context, runID string, status domain.RunStatus, reason string, outcomeJSON []byte) error {
	if !status.Terminal() {
		return fmt.Errorf("complete run %s: status %q is not terminal", runID, status)
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QWorkerCompleteRun, runID, string(status), reason, nullableJSON(outcomeJSON))
	if err != nil {
		return fmt.Errorf("complete run %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete run %s: %w", runID, domain.ErrNotFound)
	}
	return nil
}

// GetByID fetches a run by its identifier.
func (r *RunRepositoryPG) GetByID(ctx context.Context, runID string) (*domain.Run, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return nil, domain.ErrNotFound
	}
	run, err := scanRun(r.sql.QueryRow(ctx, sqlinline.QSelectRunByID, runID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return &run, nil
}

// List returns the most recent runs, newest first.
func (r *RunRepositoryPG) List(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListRecentRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (domain.Run, error) {
	var (
		run     domain.Run
		status  string
		outcome []byte
	)
	if err := row.Scan(&run.ID, &status, &run.ConceptJSON, &outcome, &run.Reason, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return domain.Run{}, err
	}
	run.Status = domain.RunStatus(status)
	if string(outcome) != "null" {
		run.OutcomeJSON = outcome
	}
	return run, nil
}

func nullableJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ domain.RunRepository = (*RunRepositoryPG)(nil)
