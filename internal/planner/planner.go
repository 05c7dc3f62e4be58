// Package planner turns a user concept into a city plan with a text model.
package planner

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"citygen/internal/domain"
	"citygen/internal/llmjson"
	"citygen/internal/prompts"
	"citygen/internal/providers"
)

// DefaultMaxQuantity caps quantity_required per template.
const DefaultMaxQuantity = 20

// Options configures a Planner.
type Options struct {
	// MaxQuantity caps quantity_required per template; zero uses
	// DefaultMaxQuantity.
	MaxQuantity int
	Logger      *zerolog.Logger
}

// Planner asks a text model for the plan and normalises the answer.
type Planner struct {
	text        providers.TextGenerator
	maxQuantity int
	logger      *zerolog.Logger
}

// New returns a planner. A nil logger discards output.
func New(text providers.TextGenerator, opts Options) *Planner {
	logger := opts.Logger
	if logger == nil {
		l := zerolog.New(io.Discard)
		logger = &l
	}
	maxQuantity := opts.MaxQuantity
	if maxQuantity <= 0 {
		maxQuantity = DefaultMaxQuantity
	}
	return &Planner{text: text, maxQuantity: maxQuantity, logger: logger}
}

// Plan produces the plan for concept. Generation is not retried here; an
// unusable answer is reported as domain.ErrEmptyPlan.
func (p *Planner) Plan(ctx context.Context, concept domain.Concept) (domain.Plan, error) {
	if err := concept.Validate(); err != nil {
		return domain.Plan{}, err
	}
	raw, err := p.text.GenerateText(ctx, prompts.Plan(concept))
	if err != nil {
		return domain.Plan{}, fmt.Errorf("planner: generate plan: %w", err)
	}
	plan, err := llmjson.Decode[domain.Plan](raw)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("planner: %w: %v", domain.ErrEmptyPlan, err)
	}
	plan, changes := Normalize(plan, concept, p.maxQuantity)
	for _, reason := range changes.Dropped {
		p.logger.Warn().Str("reason", reason).Msg("planner: catalogue entry dropped")
	}
	for _, c := range changes.Clamped {
		p.logger.Warn().
			Str("asset_id", c.ID).
			Int("requested", c.Requested).
			Int("max", p.maxQuantity).
			Msg("planner: quantity_required clamped")
	}
	if len(plan.Catalogue) == 0 {
		return domain.Plan{}, fmt.Errorf("planner: %w: asset catalogue is empty", domain.ErrEmptyPlan)
	}
	p.logger.Info().
		Str("city", plan.Profile.Name).
		Int("districts", len(plan.Districts)).
		Int("templates", len(plan.Catalogue)).
		Msg("planner: plan ready")
	return plan, nil
}

// Changes lists what Normalize altered.
type Changes struct {
	// Dropped holds one reason per removed catalogue entry.
	Dropped []string
	Clamped []Clamp
}

// Clamp records a quantity lowered to the cap.
type Clamp struct {
	ID        string
	Requested int
}

// Normalize cleans a decoded plan: blank or duplicate ids are dropped,
// quantities are held to [1, maxQuantity], kinds are folded and style tags
// are de-duplicated. A maxQuantity below one disables the upper bound.
func Normalize(plan domain.Plan, concept domain.Concept, maxQuantity int) (domain.Plan, Changes) {
	plan.Profile.Theme = llmjson.Coalesce(plan.Profile.Theme, concept.Theme)
	var (
		changes Changes
		seen    = make(map[string]struct{}, len(plan.Catalogue))
		out     = make([]domain.AssetRequest, 0, len(plan.Catalogue))
	)
	for i, t := range plan.Catalogue {
		t.ID = strings.TrimSpace(t.ID)
		if t.ID == "" {
			changes.Dropped = append(changes.Dropped, fmt.Sprintf("entry %d has no asset_id", i))
			continue
		}
		if _, dup := seen[t.ID]; dup {
			changes.Dropped = append(changes.Dropped, fmt.Sprintf("duplicate asset_id %s", t.ID))
			continue
		}
		seen[t.ID] = struct{}{}
		t.Kind = domain.NormalizeKind(t.Kind)
		t.Description = strings.TrimSpace(t.Description)
		t.StyleTags = normalizeTags(t.StyleTags)
		if t.QuantityRequired < 1 {
			t.QuantityRequired = 1
		}
		if maxQuantity > 0 && t.QuantityRequired > maxQuantity {
			changes.Clamped = append(changes.Clamped, Clamp{ID: t.ID, Requested: t.QuantityRequired})
			t.QuantityRequired = maxQuantity
		}
		out = append(out, t)
	}
	plan.Catalogue = out
	return plan, changes
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{})
	var result []string
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, tag)
	}
	return result
}
