// Package assembly places every generated asset into one shared scene, one
// quality-gated placement at a time.
package assembly

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"citygen/internal/domain"
	"citygen/internal/gate"
	"citygen/internal/llmjson"
	"citygen/internal/prompts"
	"citygen/internal/providers"
)

// View keys passed to the differential evaluator.
const (
	ViewLocalBefore     = "local_before"
	ViewLocalAfter      = "local_after"
	ViewPanoramicBefore = "panoramic_before"
	ViewPanoramicAfter  = "panoramic_after"

	defaultPlacementAttempts = 5
)

// Options configures the assembler.
type Options struct {
	PlacementAttempts int
	RetryDelay        time.Duration
	StepTimeout       time.Duration
	Logger            *zerolog.Logger
	// OnProgress, if set, observes the scene state after every asset.
	OnProgress func(key string, placed bool, state domain.SceneState)
}

// Assembler implements the scene assembly stage.
type Assembler struct {
	text        providers.TextGenerator
	evaluator   providers.Evaluator
	merger      providers.SceneMerger
	snapshotter providers.Snapshotter
	opts        Options
	logger      *zerolog.Logger
}

// New wires an assembler over the given collaborators.
func New(suite providers.Suite, opts Options) *Assembler {
	if opts.PlacementAttempts <= 0 {
		opts.PlacementAttempts = defaultPlacementAttempts
	}
	logger := opts.Logger
	if logger == nil {
		l := zerolog.New(io.Discard)
		logger = &l
	}
	return &Assembler{
		text:        suite.Text,
		evaluator:   suite.Evaluator,
		merger:      suite.Merger,
		snapshotter: suite.Snapshotter,
		opts:        opts,
		logger:      logger,
	}
}

// Order returns a copy of entries with primary structures first. The sort
// is stable, so library order breaks ties.
func Order(entries []domain.LibraryEntry) []domain.LibraryEntry {
	ordered := append([]domain.LibraryEntry(nil), entries...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return domain.IsPrimaryStructure(ordered[i].Asset.Kind) && !domain.IsPrimaryStructure(ordered[j].Asset.Kind)
	})
	return ordered
}

type proposal struct {
	Position domain.Vec3 `json:"position"`
	Rotation domain.Vec3 `json:"rotation"`
	Reason   string      `json:"reason"`
}

type candidate struct {
	proposal proposal
	scene    domain.Handle
	views    map[string]domain.Handle
}

// Assemble places entries in order. An asset whose placement gate is
// exhausted is skipped; only zero placements overall is a failure.
func (a *Assembler) Assemble(ctx context.Context, plan domain.Plan, entries []domain.LibraryEntry) (domain.SceneResult, error) {
	if len(entries) == 0 {
		return domain.SceneResult{}, domain.ErrEmptyLibrary
	}

	var (
		state   domain.SceneState
		skipped []string
	)
	for _, entry := range Order(entries) {
		if err := ctx.Err(); err != nil {
			return domain.SceneResult{}, fmt.Errorf("assembly: %w", err)
		}
		next, ok := a.place(ctx, plan, state, entry)
		if ok {
			state = next
		} else {
			skipped = append(skipped, entry.Key)
		}
		if a.opts.OnProgress != nil {
			a.opts.OnProgress(entry.Key, ok, state)
		}
	}

	if len(state.Placements) == 0 {
		return domain.SceneResult{}, fmt.Errorf("assembly: %w (%d skipped)", domain.ErrNoPlacements, len(skipped))
	}

	snapshot, err := a.snapshotter.Snapshot(ctx, state.Scene, providers.SnapshotRequest{
		Mode:  providers.SnapshotPanoramic,
		Label: "final",
	})
	if err != nil {
		return domain.SceneResult{}, fmt.Errorf("assembly: final snapshot: %w", err)
	}

	a.logger.Info().
		Int("placed", len(state.Placements)).
		Int("skipped", len(skipped)).
		Str("scene", state.Scene.Location).
		Msg("assembly: scene complete")
	return domain.SceneResult{
		Scene:      *state.Scene,
		Snapshot:   snapshot,
		Placements: state.Placements,
		Skipped:    skipped,
	}, nil
}

// place runs the placement gate for one asset on top of state. Every attempt
// builds on the same base; a rejected candidate scene is discarded.
func (a *Assembler) place(ctx context.Context, plan domain.Plan, state domain.SceneState, entry domain.LibraryEntry) (domain.SceneState, bool) {
	logger := a.logger.With().Str("instance", entry.Key).Logger()
	var lastRejection string

	res := gate.Run(ctx, gate.Options{
		Name:        "placement",
		MaxAttempts: a.opts.PlacementAttempts,
		Delay:       a.opts.RetryDelay,
		StepTimeout: a.opts.StepTimeout,
		Logger:      &logger,
	},
		func(ctx context.Context, attempt int) (candidate, error) {
			c, err := a.propose(ctx, plan, state, entry, attempt, lastRejection)
			if err != nil {
				lastRejection = err.Error()
			}
			return c, err
		},
		func(ctx context.Context, c candidate) (domain.Verdict, error) {
			qa := prompts.PlacementQA(plan, entry.Key, entry.Asset, c.proposal.Position, c.proposal.Rotation)
			v, err := a.evaluator.EvaluateMultiImage(ctx, c.views, qa)
			switch {
			case err != nil:
				lastRejection = err.Error()
			case !v.Accepted:
				lastRejection = v.Reason
			}
			return v, err
		})
	if !res.Accepted {
		logger.Warn().Str("reason", res.Reason()).Msg("assembly: asset skipped")
		return state, false
	}

	c := res.Candidate
	rec := domain.PlacementRecord{
		InstanceKey: entry.Key,
		AssetID:     entry.Asset.AssetID,
		Kind:        entry.Asset.Kind,
		Position:    c.proposal.Position,
		Rotation:    c.proposal.Rotation,
	}
	logger.Info().
		Str("position", rec.Position.String()).
		Str("rotation", rec.Rotation.String()).
		Msg("assembly: asset placed")
	return state.With(c.scene, rec), true
}

func (a *Assembler) propose(ctx context.Context, plan domain.Plan, state domain.SceneState, entry domain.LibraryEntry, attempt int, lastRejection string) (candidate, error) {
	panBefore, err := a.snapshotter.Snapshot(ctx, state.Scene, providers.SnapshotRequest{
		Mode:  providers.SnapshotPanoramic,
		Label: entry.Key + "/" + ViewPanoramicBefore,
	})
	if err != nil {
		return candidate{}, fmt.Errorf("panoramic snapshot: %w", err)
	}

	raw, err := providers.GenerateWithImages(ctx, a.text, prompts.Layout(prompts.LayoutInput{
		Plan:          plan,
		InstanceKey:   entry.Key,
		Asset:         entry.Asset,
		Placed:        state.Placements,
		Attempt:       attempt,
		LastRejection: lastRejection,
	}), panBefore)
	if err != nil {
		return candidate{}, fmt.Errorf("layout proposal: %w", err)
	}
	prop, err := llmjson.Decode[proposal](raw)
	if err != nil {
		return candidate{}, fmt.Errorf("layout proposal: %w", err)
	}

	target := prop.Position
	localBefore, err := a.snapshotter.Snapshot(ctx, state.Scene, providers.SnapshotRequest{
		Mode:   providers.SnapshotLocal,
		Label:  entry.Key + "/" + ViewLocalBefore,
		Target: &target,
	})
	if err != nil {
		return candidate{}, fmt.Errorf("local snapshot: %w", err)
	}

	merged, err := a.merger.MergeIntoScene(ctx, state.Scene, entry.Asset.Model, prop.Position, prop.Rotation)
	if err != nil {
		return candidate{}, fmt.Errorf("merge: %w", err)
	}

	localAfter, err := a.snapshotter.Snapshot(ctx, &merged, providers.SnapshotRequest{
		Mode:   providers.SnapshotLocal,
		Label:  entry.Key + "/" + ViewLocalAfter,
		Target: &target,
	})
	if err != nil {
		return candidate{}, fmt.Errorf("local snapshot: %w", err)
	}
	panAfter, err := a.snapshotter.Snapshot(ctx, &merged, providers.SnapshotRequest{
		Mode:  providers.SnapshotPanoramic,
		Label: entry.Key + "/" + ViewPanoramicAfter,
	})
	if err != nil {
		return candidate{}, fmt.Errorf("panoramic snapshot: %w", err)
	}

	return candidate{
		proposal: prop,
		scene:    merged,
		views: map[string]domain.Handle{
			ViewLocalBefore:     localBefore,
			ViewLocalAfter:      localAfter,
			ViewPanoramicBefore: panBefore,
			ViewPanoramicAfter:  panAfter,
		},
	}, nil
}
