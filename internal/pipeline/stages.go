package pipeline

import (
	"context"

	"citygen/internal/domain"
)

// Planner produces the plan and its asset catalogue from a concept.
type Planner interface {
	Plan(ctx context.Context, concept domain.Concept) (domain.Plan, error)
}

// AssetGenerator produces one asset instance from one request.
type AssetGenerator interface {
	Generate(ctx context.Context, req domain.AssetRequest) (domain.GeneratedAsset, error)
}

// SceneAssembler places a library of assets into one scene.
type SceneAssembler interface {
	Assemble(ctx context.Context, plan domain.Plan, entries []domain.LibraryEntry) (domain.SceneResult, error)
}

// Reviewer judges an assembled scene against the plan.
type Reviewer interface {
	Review(ctx context.Context, plan domain.Plan, scene domain.SceneResult) (domain.ReviewDecision, error)
}

// State is a node of the orchestrator state machine.
type State string

const (
	StatePlanning   State = "planning"
	StateGenerating State = "generating"
	StateAssembling State = "assembling"
	StateReviewing  State = "reviewing"
	StateIterating  State = "iterating"
	StateDone       State = "done"
)
