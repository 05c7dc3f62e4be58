package planner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"citygen/internal/domain"
)

type textFunc func(ctx context.Context, prompt string) (string, error)

func (f textFunc) GenerateText(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

const planJSON = "```json\n" + `{
  "city_profile": {"name": "Brassport", "theme": "", "description": "a harbour town"},
  "layout_rules": {"verticality": "low rise", "density_map": {"D01": "dense"}},
  "districts": [{"district_id": "D01", "name": "Quay", "type": "commercial", "description": "docks", "grid_allocation": [[0,0]]}],
  "asset_catalogue": [
    {"asset_id": "B1", "type": "Building", "style_tags": ["Brick", "brick", " Worn "], "description": " warehouse ", "quantity_required": 2},
    {"asset_id": "", "type": "prop_static", "description": "orphan"},
    {"asset_id": "P1", "type": "prop_static", "description": "bollard", "quantity_required": 0},
    {"asset_id": "B1", "type": "building", "description": "duplicate"}
  ]
}` + "\n```"

func TestPlanNormalisesCatalogue(t *testing.T) {
	p := New(textFunc(func(ctx context.Context, prompt string) (string, error) {
		return planJSON, nil
	}), Options{})
	plan, err := p.Plan(context.Background(), domain.Concept{Theme: "victorian harbour"})
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	want := []domain.AssetRequest{
		{ID: "B1", Kind: "building", StyleTags: []string{"Brick", "Worn"}, Description: "warehouse", QuantityRequired: 2},
		{ID: "P1", Kind: "prop_static", Description: "bollard", QuantityRequired: 1},
	}
	if diff := cmp.Diff(want, plan.Catalogue); diff != "" {
		t.Fatalf("catalogue mismatch (-want +got):\n%s", diff)
	}
	if plan.Profile.Theme != "victorian harbour" {
		t.Fatalf("theme = %q, want concept theme", plan.Profile.Theme)
	}
	if plan.Rules.DensityMap != `{"D01":"dense"}` {
		t.Fatalf("density map = %q", plan.Rules.DensityMap)
	}
}

func TestNormalizeClampsQuantity(t *testing.T) {
	plan := domain.Plan{Catalogue: []domain.AssetRequest{
		{ID: "B1", Kind: "building", QuantityRequired: 1000000},
		{ID: "P1", Kind: "prop", QuantityRequired: 5},
	}}
	got, changes := Normalize(plan, domain.Concept{Theme: "t"}, 8)
	if q := got.Catalogue[0].QuantityRequired; q != 8 {
		t.Fatalf("B1 quantity = %d, want 8", q)
	}
	if q := got.Catalogue[1].QuantityRequired; q != 5 {
		t.Fatalf("P1 quantity = %d, want 5", q)
	}
	if diff := cmp.Diff([]Clamp{{ID: "B1", Requested: 1000000}}, changes.Clamped); diff != "" {
		t.Fatalf("clamped mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanLogsClampedQuantity(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	p := New(textFunc(func(ctx context.Context, prompt string) (string, error) {
		return `{"city_profile": {"name": "Sprawl"}, "asset_catalogue": [{"asset_id": "B1", "type": "building", "quantity_required": 1000000}]}`, nil
	}), Options{Logger: &logger})
	plan, err := p.Plan(context.Background(), domain.Concept{Theme: "megacity"})
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if q := plan.Catalogue[0].QuantityRequired; q != DefaultMaxQuantity {
		t.Fatalf("quantity = %d, want %d", q, DefaultMaxQuantity)
	}
	if !strings.Contains(buf.String(), "quantity_required clamped") || !strings.Contains(buf.String(), `"requested":1000000`) {
		t.Fatalf("missing clamp log line: %s", buf.String())
	}
}

func TestPlanEmptyCatalogueIsFatal(t *testing.T) {
	p := New(textFunc(func(ctx context.Context, prompt string) (string, error) {
		return `{"city_profile": {"name": "Nowhere"}, "asset_catalogue": []}`, nil
	}), Options{})
	_, err := p.Plan(context.Background(), domain.Concept{Theme: "void"})
	if !errors.Is(err, domain.ErrEmptyPlan) {
		t.Fatalf("error = %v, want ErrEmptyPlan", err)
	}
}

func TestPlanUnparseableIsFatal(t *testing.T) {
	p := New(textFunc(func(ctx context.Context, prompt string) (string, error) {
		return "I cannot help with that.", nil
	}), Options{})
	_, err := p.Plan(context.Background(), domain.Concept{Theme: "void"})
	if !errors.Is(err, domain.ErrEmptyPlan) {
		t.Fatalf("error = %v, want ErrEmptyPlan", err)
	}
}

func TestPlanRejectsInvalidConcept(t *testing.T) {
	called := false
	p := New(textFunc(func(ctx context.Context, prompt string) (string, error) {
		called = true
		return planJSON, nil
	}), Options{})
	_, err := p.Plan(context.Background(), domain.Concept{})
	if !errors.Is(err, domain.ErrInvalidConcept) {
		t.Fatalf("error = %v, want ErrInvalidConcept", err)
	}
	if called {
		t.Fatalf("text model should not be called for an invalid concept")
	}
}
