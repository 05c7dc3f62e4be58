// Package pipeline drives a whole run: plan once, then generate, assemble and
// review, re-queueing flagged assets until the reviewer is satisfied or the
// iteration cap is hit.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"citygen/internal/assetgen"
	"citygen/internal/domain"
)

const (
	defaultMaxIterations  = 2
	defaultReviewAttempts = 2
)

// Options configures the orchestrator.
type Options struct {
	// MaxIterations caps the number of generate/assemble/review passes.
	MaxIterations int
	// ReviewAttempts bounds calls to the reviewer per pass when it errors.
	ReviewAttempts int
	// Concurrency bounds parallel asset generation within one pass.
	Concurrency int
	Logger      *zerolog.Logger
	// OnTransition, if set, observes every state change.
	OnTransition func(from, to State, iteration int)
}

// Orchestrator runs the pipeline state machine.
type Orchestrator struct {
	planner   Planner
	generator AssetGenerator
	assembler SceneAssembler
	reviewer  Reviewer
	opts      Options
	logger    *zerolog.Logger
}

// New builds an orchestrator over the four stages.
func New(planner Planner, generator AssetGenerator, assembler SceneAssembler, reviewer Reviewer, opts Options) *Orchestrator {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultMaxIterations
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.ReviewAttempts <= 0 {
		opts.ReviewAttempts = defaultReviewAttempts
	}
	logger := opts.Logger
	if logger == nil {
		l := zerolog.New(io.Discard)
		logger = &l
	}
	return &Orchestrator{
		planner:   planner,
		generator: generator,
		assembler: assembler,
		reviewer:  reviewer,
		opts:      opts,
		logger:    logger,
	}
}

type run struct {
	o         *Orchestrator
	logger    *zerolog.Logger
	concept   domain.Concept
	plan      domain.Plan
	queue     []domain.AssetRequest
	library   *assetgen.Library
	scene     *domain.SceneResult
	decision  *domain.ReviewDecision
	iteration int
	outcome   domain.Outcome
}

// Run executes one pipeline run to a terminal outcome. A logger attached to
// ctx with zerolog's WithContext takes precedence over Options.Logger.
func (o *Orchestrator) Run(ctx context.Context, concept domain.Concept) domain.Outcome {
	logger := o.logger
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		logger = l
	}
	r := &run{o: o, logger: logger, concept: concept, library: assetgen.NewLibrary()}

	state := StatePlanning
	for state != StateDone {
		next := r.step(ctx, state)
		logger.Debug().
			Str("from", string(state)).
			Str("to", string(next)).
			Int("iteration", r.iteration).
			Msg("pipeline: transition")
		if o.opts.OnTransition != nil {
			o.opts.OnTransition(state, next, r.iteration)
		}
		state = next
	}

	r.outcome.Iterations = r.iteration
	r.outcome.Library = r.library.Entries()
	r.outcome.Scene = r.scene
	r.outcome.Decision = r.decision
	if len(r.plan.Catalogue) > 0 {
		plan := r.plan
		r.outcome.Plan = &plan
	}
	logger.Info().
		Str("status", string(r.outcome.Status)).
		Str("reason", r.outcome.Reason).
		Int("iterations", r.iteration).
		Msg("pipeline: run finished")
	return r.outcome
}

func (r *run) step(ctx context.Context, state State) State {
	switch state {
	case StatePlanning:
		return r.planning(ctx)
	case StateGenerating:
		return r.generating(ctx)
	case StateAssembling:
		return r.assembling(ctx)
	case StateReviewing:
		return r.reviewing(ctx)
	case StateIterating:
		return r.iterating()
	}
	return StateDone
}

func (r *run) note(format string, args ...any) {
	r.outcome.Trail = append(r.outcome.Trail, fmt.Sprintf(format, args...))
}

func (r *run) finish(status domain.RunStatus, format string, args ...any) State {
	r.outcome.Status = status
	r.outcome.Reason = fmt.Sprintf(format, args...)
	r.note("%s: %s", status, r.outcome.Reason)
	return StateDone
}

func (r *run) planning(ctx context.Context) State {
	plan, err := r.o.planner.Plan(ctx, r.concept)
	if err != nil {
		return r.finish(domain.RunStatusFailedPlanning, "planning failed: %v", err)
	}
	if len(plan.Catalogue) == 0 {
		return r.finish(domain.RunStatusFailedPlanning, "planning failed: %v", domain.ErrEmptyPlan)
	}
	r.plan = plan
	r.queue = plan.WorkQueue()
	r.note("planned %q with %d asset templates (%d instances)", plan.Profile.Name, len(plan.Catalogue), InstanceCount(r.queue))
	return StateGenerating
}

func (r *run) generating(ctx context.Context) State {
	r.iteration++
	queue := r.queue
	r.queue = nil

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.o.opts.Concurrency)
	var (
		requested int
		mu        sync.Mutex
		failed    []string
	)
	fail := func(id string) {
		mu.Lock()
		failed = append(failed, id)
		mu.Unlock()
	}

	for _, tmpl := range queue {
		for n := 0; n < tmpl.QuantityRequired; n++ {
			req := tmpl.Clone()
			requested++
			g.Go(func() error {
				asset, err := r.o.generator.Generate(gctx, req)
				if err != nil {
					r.logger.Warn().Err(err).Str("asset_id", req.ID).Msg("pipeline: asset instance failed")
					fail(req.ID)
					return nil
				}
				key, err := r.library.Add(asset)
				if err != nil {
					r.logger.Error().Err(err).Str("asset_id", req.ID).Msg("pipeline: library insert failed")
					fail(req.ID)
					return nil
				}
				r.logger.Info().Str("instance", key).Msg("pipeline: asset stored")
				return nil
			})
		}
	}
	_ = g.Wait()

	r.note("iteration %d: %d/%d asset instances generated, library holds %d",
		r.iteration, requested-len(failed), requested, r.library.Len())
	if len(failed) > 0 {
		r.note("iteration %d: failed instances of %v", r.iteration, failed)
	}
	return StateAssembling
}

func (r *run) assembling(ctx context.Context) State {
	entries := r.library.Entries()
	if len(entries) == 0 {
		return r.finish(domain.RunStatusFailedAssembly, "assembly failed: %v", domain.ErrEmptyLibrary)
	}
	scene, err := r.o.assembler.Assemble(ctx, r.plan, entries)
	if err != nil {
		return r.finish(domain.RunStatusFailedAssembly, "assembly failed: %v", err)
	}
	r.scene = &scene
	r.note("iteration %d: placed %d of %d assets", r.iteration, len(scene.Placements), len(entries))
	return StateReviewing
}

func (r *run) reviewing(ctx context.Context) State {
	var (
		decision domain.ReviewDecision
		err      error
	)
	for attempt := 1; attempt <= r.o.opts.ReviewAttempts; attempt++ {
		decision, err = r.o.reviewer.Review(ctx, r.plan, *r.scene)
		if err == nil {
			break
		}
		r.logger.Warn().Err(err).Int("attempt", attempt).Msg("pipeline: review failed")
		r.note("iteration %d: review attempt %d failed: %v", r.iteration, attempt, err)
		if ctx.Err() != nil {
			break
		}
	}
	// An unreviewed scene is never a success.
	if err != nil {
		return r.finish(domain.RunStatusFailedReview, "review failed: %v", err)
	}
	r.decision = &decision
	r.note("iteration %d: review %s: %s", r.iteration, decision.State, decision.Reason)
	if decision.State == domain.ReviewSatisfied {
		return r.finish(domain.RunStatusSuccess, "review satisfied: %s", decision.Reason)
	}
	return StateIterating
}

func (r *run) iterating() State {
	queue := Requeue(r.plan.Catalogue, r.decision.Actions, r.logger)
	if len(queue) == 0 {
		return r.finish(domain.RunStatusSuccess, "review asked for iteration but nothing is actionable: %s", r.decision.Reason)
	}
	if r.iteration >= r.o.opts.MaxIterations {
		return r.finish(domain.RunStatusFailedMaxIterations, "max iterations (%d) reached: %s", r.o.opts.MaxIterations, r.decision.Reason)
	}
	for _, req := range queue {
		r.note("iteration %d: re-queued %s", r.iteration, req.ID)
	}
	r.queue = queue
	return StateGenerating
}

// InstanceCount is the number of asset instances a work queue expands to.
func InstanceCount(queue []domain.AssetRequest) int {
	n := 0
	for _, req := range queue {
		if req.QuantityRequired > 0 {
			n += req.QuantityRequired
		}
	}
	return n
}

// Requeue builds the next work queue from review actions: each action's
// template is cloned with the feedback appended and a quantity of one.
// Actions naming unknown templates are dropped.
func Requeue(catalogue []domain.AssetRequest, actions []domain.ReviewAction, logger *zerolog.Logger) []domain.AssetRequest {
	index := make(map[string]domain.AssetRequest, len(catalogue))
	for _, t := range catalogue {
		index[t.ID] = t
	}
	var queue []domain.AssetRequest
	for _, a := range actions {
		tmpl, ok := index[a.AssetID]
		if !ok {
			if logger != nil {
				logger.Warn().Str("asset_id", a.AssetID).Msg("pipeline: review action references unknown template, dropped")
			}
			continue
		}
		queue = append(queue, tmpl.WithFeedback(a.Feedback))
	}
	return queue
}
