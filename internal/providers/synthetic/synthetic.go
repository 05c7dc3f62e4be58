// Package synthetic provides deterministic offline stand-ins for every model
// endpoint so the whole pipeline runs locally and in CI. Images are patterned
// PNGs, models are box PLYs and every evaluation passes.
package synthetic

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"citygen/internal/domain"
	"citygen/internal/prompts"
	"citygen/internal/providers"
	"citygen/internal/providers/recon3d"
	"citygen/internal/scene"
	"citygen/pkg/zip"
)

const (
	imageSize   = 256
	gridSpacing = 30.0
	gridColumns = 4
)

// Options configures the synthetic provider.
type Options struct {
	Store  providers.MediaStore
	Logger *zerolog.Logger
}

// Provider implements the text, image, evaluation and reconstruction
// contracts without any network access.
type Provider struct {
	store   providers.MediaStore
	logger  *zerolog.Logger
	counter atomic.Int64
}

// New builds a synthetic provider. Store is required for image and model output.
func New(opts Options) *Provider {
	logger := opts.Logger
	if logger == nil {
		l := zerolog.New(io.Discard)
		logger = &l
	}
	return &Provider{store: opts.Store, logger: logger}
}

// GenerateText answers each prompt family with a well-formed reply.
func (p *Provider) GenerateText(ctx context.Context, prompt string) (string, error) {
	switch prompts.Kind(prompt) {
	case prompts.HeadingPlan:
		return p.plan(prompt)
	case prompts.HeadingRefine:
		return refine(prompt), nil
	case prompts.HeadingDimensions:
		return dimensions(prompt), nil
	case prompts.HeadingLayout:
		return layout(prompt)
	case prompts.HeadingDecision:
		return `{"decision": "satisfied", "reason": "synthetic review found nothing to change", "actions": []}`, nil
	}
	return "", fmt.Errorf("synthetic: unsupported prompt %q: %w", firstLine(prompt), domain.ErrProviderFailure)
}

// GenerateTextWithImages ignores the images.
func (p *Provider) GenerateTextWithImages(ctx context.Context, prompt string, images []domain.Handle) (string, error) {
	return p.GenerateText(ctx, prompt)
}

// GenerateImage renders a patterned PNG seeded by the prompt and a counter,
// so retries yield different candidates.
func (p *Provider) GenerateImage(ctx context.Context, prompt string) (domain.Handle, error) {
	if p.store == nil {
		return domain.Handle{}, fmt.Errorf("synthetic: media store is required")
	}
	seed := deterministicSeed(prompt, p.counter.Add(1))
	h, err := p.store.Put(ctx, domain.MediaImage, "image/png", renderSyntheticImage(imageSize, imageSize, seed))
	if err != nil {
		return domain.Handle{}, fmt.Errorf("synthetic: store image: %w", err)
	}
	p.logger.Debug().Str("seed", seed).Str("image", h.ID).Msg("synthetic: generated image")
	return h, nil
}

// EvaluateImage accepts.
func (p *Provider) EvaluateImage(ctx context.Context, image domain.Handle, prompt string) (domain.Verdict, error) {
	return accept(prompt), nil
}

// EvaluateVideo accepts.
func (p *Provider) EvaluateVideo(ctx context.Context, video domain.Handle, prompt string) (domain.Verdict, error) {
	return accept(prompt), nil
}

// EvaluateMultiImage accepts.
func (p *Provider) EvaluateMultiImage(ctx context.Context, images map[string]domain.Handle, prompt string) (domain.Verdict, error) {
	return accept(prompt), nil
}

// ImageTo3D packs a box model sized from the image id and a placeholder
// turntable render into a bundle laid out like the reconstruction service's.
func (p *Provider) ImageTo3D(ctx context.Context, img domain.Handle) (domain.Handle, error) {
	if p.store == nil {
		return domain.Handle{}, fmt.Errorf("synthetic: media store is required")
	}
	seed := deterministicSeed(img.ID)
	side := 4 + float64(seedByte(seed, 0)%12)
	height := 3 + float64(seedByte(seed, 1)%20)
	bundle, err := zip.Archive([]zip.Entry{
		{Filename: recon3d.ModelFile, MIME: "application/x-ply", Data: scene.BoxPLY(side, side, height)},
		{Filename: recon3d.RenderFile, MIME: "video/mp4", Data: renderSyntheticVideo(seed)},
	})
	if err != nil {
		return domain.Handle{}, fmt.Errorf("synthetic: %w", err)
	}
	h, err := p.store.Put(ctx, domain.MediaBundle, "application/zip", bundle)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("synthetic: store bundle: %w", err)
	}
	return h, nil
}

func accept(prompt string) domain.Verdict {
	return domain.Verdict{Accepted: true, Reason: "synthetic evaluator accepts: " + strings.TrimPrefix(prompts.Kind(prompt), "# ")}
}

func (p *Provider) plan(prompt string) (string, error) {
	var concept domain.Concept
	if raw := section(prompt, "## User concept"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &concept); err != nil {
			return "", fmt.Errorf("synthetic: decode concept: %w", err)
		}
	}
	theme := strings.TrimSpace(concept.Theme)
	if theme == "" {
		theme = "generic city"
	}
	tags := styleTags(theme)
	copies := 1
	if strings.EqualFold(strings.TrimSpace(concept.Scale), "large") {
		copies = 2
	}
	plan := domain.Plan{
		Profile: domain.CityProfile{
			Name:        cases.Title(language.English).String(theme) + " Quarter",
			Theme:       theme,
			Description: fmt.Sprintf("A compact district built around the theme %q.", theme),
		},
		Rules: domain.LayoutRules{
			Verticality: domain.Freeform("landmark at the centre, lower blocks towards the edges"),
			DensityMap:  domain.Freeform("dense core, open park ring"),
		},
		Districts: []domain.District{
			{ID: "D1", Name: "Civic Core", Type: "municipal", Description: "Landmarks and public squares."},
			{ID: "D2", Name: "Green Ring", Type: "park", Description: "Trees and street furniture."},
		},
		Catalogue: []domain.AssetRequest{
			template("B1", domain.KindBuilding, "landmark", tags, "primary_building",
				fmt.Sprintf("A tall %s landmark tower with a stepped crown and ornate entrance.", theme), 1, "D1"),
			template("B2", domain.KindBuilding, "residential", tags, "primary_building",
				fmt.Sprintf("A four storey %s residential block with balconies.", theme), 2*copies, "D1"),
			template("P1", "prop_static", "street_lamp", tags, "street_level_prop",
				"A cast iron street lamp with a glass lantern.", 2*copies, "D1", "D2"),
			template("V1", "vegetation", "tree", tags, "street_level_prop",
				"A mature plane tree with a round canopy.", copies, "D2"),
		},
	}
	out, err := json.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("synthetic: encode plan: %w", err)
	}
	return "```json\n" + string(out) + "\n```", nil
}

func template(id, kind, subtype string, tags []string, placement, description string, quantity int, districts ...string) domain.AssetRequest {
	return domain.AssetRequest{
		ID:               id,
		Kind:             kind,
		Subtype:          subtype,
		StyleTags:        tags,
		Description:      description,
		PlacementRules:   domain.PlacementRules{AllowedDistricts: districts, PlacementType: placement},
		QuantityRequired: quantity,
	}
}

func styleTags(theme string) []string {
	var tags []string
	for _, word := range strings.Fields(theme) {
		word = strings.Trim(word, ",.;:")
		if len(word) > 2 {
			tags = append(tags, strings.ToLower(word))
		}
		if len(tags) == 3 {
			break
		}
	}
	return tags
}

func refine(prompt string) string {
	_, template, ok := strings.Cut(prompt, "\n\n")
	if !ok {
		return ""
	}
	var parts []string
	for _, line := range strings.Split(template, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, " ")
}

func dimensions(prompt string) string {
	kind := domain.NormalizeKind(field(prompt, "Type:"))
	switch {
	case domain.IsPrimaryStructure(kind):
		return "Length: 24m, Width: 18m, Height: 30m"
	case strings.Contains(kind, "vehicle"):
		return "Length: 4.5m, Width: 1.8m, Height: 1.5m"
	case strings.Contains(kind, "vegetation"):
		return "Length: 5m, Width: 5m, Height: 9m"
	default:
		return "Length: 0.6m, Width: 0.6m, Height: 4m"
	}
}

type layoutReply struct {
	Position domain.Vec3 `json:"position"`
	Rotation domain.Vec3 `json:"rotation"`
	Reason   string      `json:"reason"`
}

// layout puts the n-th asset into the n-th cell of a fixed grid, so proposals
// never collide.
func layout(prompt string) (string, error) {
	var placed []domain.PlacementRecord
	if raw := field(prompt, "Already placed:"); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &placed); err != nil {
			return "", fmt.Errorf("synthetic: decode placements: %w", err)
		}
	}
	n := len(placed)
	reply := layoutReply{
		Position: domain.Vec3{
			X: float64(n%gridColumns) * gridSpacing,
			Z: float64(n/gridColumns) * gridSpacing,
		},
		Rotation: domain.Vec3{Y: float64((n % 4) * 90)},
		Reason:   "grid cell " + strconv.Itoa(n),
	}
	out, err := json.Marshal(reply)
	if err != nil {
		return "", fmt.Errorf("synthetic: encode layout: %w", err)
	}
	return string(out), nil
}

// field returns the rest of the first line starting with label.
func field(prompt, label string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), label); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// section returns the line following a markdown heading.
func section(prompt, heading string) string {
	lines := strings.Split(prompt, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == heading && i+1 < len(lines) {
			return strings.TrimSpace(lines[i+1])
		}
	}
	return ""
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

func renderSyntheticImage(width, height int, seed string) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := scene.Swatch(seed, 0)
	accent := scene.Swatch(seed, 1)
	draw.Draw(img, img.Bounds(), &image.Uniform{base}, image.Point{}, draw.Src)

	stripeHeight := max(8, height/12)
	for y := 0; y < height; y += stripeHeight * 2 {
		stripe := image.Rect(0, y, width, min(height, y+stripeHeight))
		draw.Draw(img, stripe, &image.Uniform{accent}, image.Point{}, draw.Over)
	}

	diagonal := scene.Swatch(seed, 2)
	for x := 0; x < max(width, height); x += max(16, width/32) {
		for y := 0; y < height; y++ {
			if x+y >= width {
				break
			}
			img.Set(x+y, y, diagonal)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func renderSyntheticVideo(seed string) []byte {
	return []byte("synthetic turntable render\nseed: " + seed + "\n")
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(hasher, "%v|", part)
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

func seedByte(seed string, i int) byte {
	b, err := hex.DecodeString(seed)
	if err != nil || i >= len(b) {
		return 0
	}
	return b[i]
}

var (
	_ providers.TextGenerator      = (*Provider)(nil)
	_ providers.ImageTextGenerator = (*Provider)(nil)
	_ providers.ImageGenerator     = (*Provider)(nil)
	_ providers.Evaluator          = (*Provider)(nil)
	_ providers.Reconstructor      = (*Provider)(nil)
)
