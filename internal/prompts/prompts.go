// Package prompts renders the instructions sent to text and vision models.
// Every prompt starts with one of the exported headings so that offline
// collaborators can tell the requests apart.
package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"citygen/internal/domain"
)

const (
	HeadingPlan          = "# City planning brief"
	HeadingImageTemplate = "# Concept art request"
	HeadingRefine        = "# Refine image prompt"
	HeadingImageQA       = "# Concept art QA"
	HeadingModelQA       = "# 3D model QA"
	HeadingDimensions    = "# Size estimate"
	HeadingLayout        = "# Placement proposal"
	HeadingPlacementQA   = "# Placement QA"
	HeadingSceneReview   = "# Scene review"
	HeadingDecision      = "# Review decision"
)

// Criterion is one named check an evaluator must apply.
type Criterion struct {
	ID   string
	Text string
}

var (
	ImageCriteria = []Criterion{
		{ID: "style_consistency", Text: "The art style matches the style tags."},
		{ID: "subject_accuracy", Text: "The image depicts exactly the described subject."},
		{ID: "viewpoint", Text: "Isometric or three-quarter view that shows the whole structure without heavy occlusion, suitable for 3D reconstruction."},
		{ID: "lighting_neutrality", Text: "Even, global lighting with no hard cast shadows."},
	}
	ModelCriteria = []Criterion{
		{ID: "geometric_completeness", Text: "No obvious holes, missing faces or floating fragments."},
		{ID: "shape_fidelity", Text: "Overall shape and structure stay faithful to the source image subject."},
		{ID: "render_artifacts", Text: "No severe flicker, noise or rendering artifacts in the turntable video."},
	}
	PlacementCriteria = []Criterion{
		{ID: "grounding", Text: "Local before/after views: the asset neither floats above nor sinks into the ground or other objects."},
		{ID: "collision", Text: "No collision or interpenetration with already placed assets."},
		{ID: "district_logic", Text: "Panoramic before/after views: the placement fits the district and the city layout rules."},
		{ID: "aesthetic_coherence", Text: "The scene as a whole stays visually coherent."},
	}
)

const verdictFormat = `Respond with a single JSON object and nothing else:
{"pass": boolean, "failed_criteria": [criterion ids], "reason": string}`

func writeCriteria(sb *strings.Builder, criteria []Criterion) {
	sb.WriteString("## Criteria\n")
	for _, c := range criteria {
		fmt.Fprintf(sb, "- %s: %s\n", c.ID, c.Text)
	}
}

func styleList(tags []string) string {
	if len(tags) == 0 {
		return "unspecified"
	}
	return strings.Join(tags, ", ")
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Plan asks for the full city plan as JSON.
func Plan(concept domain.Concept) string {
	sb := &strings.Builder{}
	sb.WriteString(HeadingPlan + "\n")
	sb.WriteString("You are the chief world architect of a procedural city generator. Produce a design blueprint that downstream asset generation and scene assembly can execute directly.\n\n")
	fmt.Fprintf(sb, "## User concept\n%s\n\n", mustJSON(concept))
	sb.WriteString(`## Process
1. Break the theme down into its core visual ideas.
2. Set macro layout rules (verticality, density).
3. Split the city into functional districts (financial, commercial, residential, municipal, park).
4. For every district, list the assets it needs: 3-4 primary buildings plus props, vehicles and vegetation.
5. Merge them into one asset catalogue. Identical assets share one entry and a quantity.

## Output
Respond with JSON only:
{"city_profile": {"name": string, "theme": string, "description": string},
 "layout_rules": {"verticality": string, "density_map": string},
 "districts": [{"district_id": string, "name": string, "type": string, "description": string, "grid_allocation": array}],
 "asset_catalogue": [{"asset_id": string, "type": "building"|"vehicle"|"prop_dynamic"|"prop_static"|"vegetation", "subtype": string, "style_tags": [string], "description": string,
   "placement_rules": {"allowed_districts": [string], "placement_type": "primary_building"|"facade_prop"|"street_level_prop"|"rooftop_prop"}, "quantity_required": integer}]}
Descriptions must cover shape, materials, colours and surface details.
`)
	return sb.String()
}

// ImageTemplate is the unrefined concept art prompt for one asset.
func ImageTemplate(req domain.AssetRequest) string {
	sb := &strings.Builder{}
	sb.WriteString(HeadingImageTemplate + "\n")
	fmt.Fprintf(sb, "Subject: %s\n", req.Description)
	fmt.Fprintf(sb, "Style: %s, production-quality concept art for 3D modeling.\n", styleList(req.StyleTags))
	sb.WriteString("Composition: isometric or three-quarter view, single object centred on a plain white or light grey background.\n")
	sb.WriteString("Lighting: shadowless global illumination, soft studio lighting, no cast shadows.\n")
	sb.WriteString("Quality: masterpiece, best quality, 4K, ultra detailed, clean lineart.\n")
	sb.WriteString("Avoid: blur, shadows, complex background, atmospheric perspective, lens flare.\n")
	return sb.String()
}

// Refine asks the text model to polish an image prompt template.
func Refine(template string) string {
	sb := &strings.Builder{}
	sb.WriteString(HeadingRefine + "\n")
	sb.WriteString("Rewrite the request below as one dense text-to-image prompt. Keep every constraint on view, background and lighting. Reply with the prompt text only.\n\n")
	sb.WriteString(template)
	return sb.String()
}

// ImageQA asks a vision model to grade concept art.
func ImageQA(req domain.AssetRequest) string {
	sb := &strings.Builder{}
	sb.WriteString(HeadingImageQA + "\n")
	sb.WriteString("You are an automated QA bot for a procedural content pipeline. Grade the attached image.\n")
	fmt.Fprintf(sb, "Style tags: %s\nSubject: %s\n\n", styleList(req.StyleTags), req.Description)
	writeCriteria(sb, ImageCriteria)
	sb.WriteString(verdictFormat)
	return sb.String()
}

// ModelQA asks a vision model to grade a turntable render.
func ModelQA(req domain.AssetRequest) string {
	sb := &strings.Builder{}
	sb.WriteString(HeadingModelQA + "\n")
	sb.WriteString("You are a senior 3D art QA director. Watch the 360 degree turntable render of the reconstructed model.\n")
	fmt.Fprintf(sb, "Source subject: %s\n\n", req.Description)
	writeCriteria(sb, ModelCriteria)
	sb.WriteString(verdictFormat)
	return sb.String()
}

// Dimensions asks for a real-world size estimate.
func Dimensions(req domain.AssetRequest) string {
	sb := &strings.Builder{}
	sb.WriteString(HeadingDimensions + "\n")
	sb.WriteString("You are an experienced scene designer. Estimate the real-world size of this asset.\n")
	fmt.Fprintf(sb, "Type: %s\nDescription: %s\n", req.Kind, req.Description)
	sb.WriteString(`Answer exactly in the form "Length: Xm, Width: Ym, Height: Zm".`)
	return sb.String()
}

// LayoutInput is what the layout model sees for one placement attempt.
type LayoutInput struct {
	Plan          domain.Plan
	InstanceKey   string
	Asset         domain.GeneratedAsset
	Placed        []domain.PlacementRecord
	Attempt       int
	LastRejection string
}

// Layout asks for a position and rotation for one asset.
func Layout(in LayoutInput) string {
	sb := &strings.Builder{}
	sb.WriteString(HeadingLayout + "\n")
	sb.WriteString("You are the layout planner for a city scene. The attached panoramic view shows the scene so far.\n")
	fmt.Fprintf(sb, "City: %s (%s)\n", in.Plan.Profile.Name, in.Plan.Profile.Theme)
	fmt.Fprintf(sb, "Layout rules: %s\n", mustJSON(in.Plan.Rules))
	fmt.Fprintf(sb, "Districts: %s\n", mustJSON(in.Plan.Districts))
	fmt.Fprintf(sb, "Asset %s (%s): %s\n", in.InstanceKey, in.Asset.Kind, in.Asset.Description)
	if in.Asset.Dimensions.Valid() {
		d := in.Asset.Dimensions
		fmt.Fprintf(sb, "Footprint: %.1fm x %.1fm, height %.1fm\n", d.Length, d.Width, d.Height)
	} else if in.Asset.DimensionsRaw != "" {
		fmt.Fprintf(sb, "Size estimate: %s\n", in.Asset.DimensionsRaw)
	}
	fmt.Fprintf(sb, "Already placed: %s\n", mustJSON(in.Placed))
	if in.Attempt > 1 && in.LastRejection != "" {
		fmt.Fprintf(sb, "Attempt %d. The previous proposal was rejected: %s\n", in.Attempt, in.LastRejection)
	}
	sb.WriteString(`Y is up; the ground plane is y = 0. Rotation is Euler XYZ in degrees.
Respond with JSON only: {"position": [x, y, z], "rotation": [x, y, z], "reason": string}`)
	return sb.String()
}

// PlacementQA asks for a differential judgement over before/after views.
func PlacementQA(plan domain.Plan, instanceKey string, asset domain.GeneratedAsset, position, rotation domain.Vec3) string {
	sb := &strings.Builder{}
	sb.WriteString(HeadingPlacementQA + "\n")
	sb.WriteString("Compare the attached views: local_before/local_after around the placement point and panoramic_before/panoramic_after of the whole scene.\n")
	fmt.Fprintf(sb, "Placed asset %s (%s) at %s, rotation %s.\n", instanceKey, asset.Kind, position, rotation)
	if len(asset.StyleTags) > 0 {
		fmt.Fprintf(sb, "Asset style: %s\n", styleList(asset.StyleTags))
	}
	fmt.Fprintf(sb, "City theme: %s\n\n", plan.Profile.Theme)
	writeCriteria(sb, PlacementCriteria)
	sb.WriteString(verdictFormat)
	return sb.String()
}

// SceneReview asks the vision model for a report on the final snapshot.
func SceneReview(plan domain.Plan) string {
	sb := &strings.Builder{}
	sb.WriteString(HeadingSceneReview + "\n")
	fmt.Fprintf(sb, "Describe the overall atmosphere of this city scene and judge how consistent it is with the theme %q.\n", plan.Profile.Theme)
	sb.WriteString("Name the specific assets that break the theme and say what should change.\n")
	ids := make([]string, 0, len(plan.Catalogue))
	for _, t := range plan.Catalogue {
		ids = append(ids, t.ID)
	}
	fmt.Fprintf(sb, "Asset ids in the catalogue: %s\n", strings.Join(ids, ", "))
	sb.WriteString(verdictFormat)
	return sb.String()
}

// Decision turns a review report into a structured decision.
func Decision(plan domain.Plan, report string) string {
	sb := &strings.Builder{}
	sb.WriteString(HeadingDecision + "\n")
	sb.WriteString("You are the project director. Read the visual review report and decide the next step.\n")
	sb.WriteString("If the report is positive, decide \"satisfied\". If it names problems, decide \"iterate\" and list regeneration actions for the affected catalogue assets.\n")
	fmt.Fprintf(sb, "Theme: %s\n", plan.Profile.Theme)
	fmt.Fprintf(sb, "Catalogue: %s\n", mustJSON(plan.Catalogue))
	fmt.Fprintf(sb, "## Report\n%s\n", report)
	sb.WriteString(`Respond with JSON only:
{"decision": "satisfied"|"iterate", "reason": string, "actions": [{"action_type": "regenerate_asset", "asset_id": string, "feedback": string}]}`)
	return sb.String()
}

// Kind returns the heading a prompt starts with, or "" if none matches.
func Kind(prompt string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(prompt), "\n")
	switch h := strings.TrimSpace(first); h {
	case HeadingPlan, HeadingImageTemplate, HeadingRefine, HeadingImageQA, HeadingModelQA,
		HeadingDimensions, HeadingLayout, HeadingPlacementQA, HeadingSceneReview, HeadingDecision:
		return h
	}
	return ""
}
