package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestWithFeedbackCopiesTemplate(t *testing.T) {
	tmpl := AssetRequest{
		ID:               "B1",
		Kind:             "building",
		StyleTags:        []string{"Art Deco"},
		Description:      "A bank with bronze doors.",
		QuantityRequired: 3,
	}
	next := tmpl.WithFeedback("dim the windows")
	if next.QuantityRequired != 1 {
		t.Fatalf("QuantityRequired = %d, want 1", next.QuantityRequired)
	}
	if !strings.HasPrefix(next.Description, tmpl.Description) || !strings.Contains(next.Description, "dim the windows") {
		t.Fatalf("Description = %q", next.Description)
	}
	next.StyleTags[0] = "Brutalist"
	if tmpl.StyleTags[0] != "Art Deco" {
		t.Fatalf("template style tags mutated: %v", tmpl.StyleTags)
	}
	if tmpl.QuantityRequired != 3 || tmpl.Description != "A bank with bronze doors." {
		t.Fatalf("template mutated: %+v", tmpl)
	}
}

func TestIsPrimaryStructure(t *testing.T) {
	for kind, want := range map[string]bool{"building": true, " Building ": true, "BUILDING": true, "vehicle": false, "": false} {
		if got := IsPrimaryStructure(kind); got != want {
			t.Fatalf("IsPrimaryStructure(%q) = %v, want %v", kind, got, want)
		}
	}
}

func TestSceneStateWithDoesNotMutate(t *testing.T) {
	var s0 SceneState
	s1 := s0.With(Handle{ID: "scene-1"}, PlacementRecord{InstanceKey: "B1_1"})
	s2 := s1.With(Handle{ID: "scene-2"}, PlacementRecord{InstanceKey: "B1_2"})
	if s0.Scene != nil || len(s0.Placements) != 0 {
		t.Fatalf("s0 mutated: %+v", s0)
	}
	if s1.Scene.ID != "scene-1" || len(s1.Placements) != 1 {
		t.Fatalf("s1 = %+v", s1)
	}
	if s2.Scene.ID != "scene-2" || len(s2.Placements) != 2 || s2.Placements[0].InstanceKey != "B1_1" {
		t.Fatalf("s2 = %+v", s2)
	}
}

func TestVec3AcceptsArrayAndObject(t *testing.T) {
	var v Vec3
	if err := json.Unmarshal([]byte(`[1, 2.5, -3]`), &v); err != nil {
		t.Fatalf("array: %v", err)
	}
	if v != (Vec3{X: 1, Y: 2.5, Z: -3}) {
		t.Fatalf("array decoded = %+v", v)
	}
	if err := json.Unmarshal([]byte(`{"x": 4, "y": 0, "z": 9}`), &v); err != nil {
		t.Fatalf("object: %v", err)
	}
	if v != (Vec3{X: 4, Z: 9}) {
		t.Fatalf("object decoded = %+v", v)
	}
	if err := json.Unmarshal([]byte(`[1, 2]`), &v); err == nil {
		t.Fatalf("expected error for short array")
	}
}

func TestFreeformKeepsNonStringJSON(t *testing.T) {
	var d District
	if err := json.Unmarshal([]byte(`{"district_id": "D01", "grid_allocation": [[0, 0], [0, 1]]}`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.GridAllocation != "[[0,0],[0,1]]" {
		t.Fatalf("GridAllocation = %q", d.GridAllocation)
	}
}

func TestConceptValidate(t *testing.T) {
	if err := (Concept{}).Validate(); err == nil {
		t.Fatalf("expected error for empty theme")
	}
	if err := (Concept{Theme: "harbour town"}).Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
