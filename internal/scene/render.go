package scene

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"strconv"

	"gonum.org/v1/gonum/spatial/r3"

	"citygen/internal/domain"
	"citygen/internal/providers"
)

const (
	defaultSnapshotSize = 512
	defaultLocalRadius  = 30.0
	gridSpacing         = 10.0
)

var (
	groundColor = color.RGBA{R: 214, G: 218, B: 206, A: 255}
	gridColor   = color.RGBA{R: 190, G: 194, B: 182, A: 255}
	targetColor = color.RGBA{R: 220, G: 40, B: 40, A: 255}
)

// RendererOptions configures snapshot rendering.
type RendererOptions struct {
	Size        int
	LocalRadius float64
}

// Renderer implements providers.Snapshotter with top-down PNG renders of a
// scene manifest. Panoramic and top-down requests frame the whole scene;
// local requests frame a square around the target.
type Renderer struct {
	store  providers.MediaStore
	size   int
	radius float64
}

// NewRenderer builds a renderer.
func NewRenderer(store providers.MediaStore, opts RendererOptions) *Renderer {
	if opts.Size <= 0 {
		opts.Size = defaultSnapshotSize
	}
	if opts.LocalRadius <= 0 {
		opts.LocalRadius = defaultLocalRadius
	}
	return &Renderer{store: store, size: opts.Size, radius: opts.LocalRadius}
}

type viewport struct {
	minX, minZ, span float64
}

func (v viewport) project(x, z float64, size int) image.Point {
	return image.Point{
		X: int(math.Round((x - v.minX) / v.span * float64(size))),
		Y: int(math.Round((z - v.minZ) / v.span * float64(size))),
	}
}

func (r *Renderer) frame(m Manifest, req providers.SnapshotRequest) (viewport, error) {
	if req.Mode == providers.SnapshotLocal {
		if req.Target == nil {
			return viewport{}, errors.New("scene: local snapshot needs a target")
		}
		return viewport{minX: req.Target.X - r.radius, minZ: req.Target.Z - r.radius, span: 2 * r.radius}, nil
	}
	bounds := emptyBox()
	for _, inst := range m.Instances {
		bounds = union(bounds, r3.Box{Min: toR3(inst.Min), Max: toR3(inst.Max)})
	}
	if isEmpty(bounds) {
		return viewport{minX: -50, minZ: -50, span: 100}, nil
	}
	span := math.Max(bounds.Max.X-bounds.Min.X, bounds.Max.Z-bounds.Min.Z)*1.2 + 2*gridSpacing
	cx := (bounds.Min.X + bounds.Max.X) / 2
	cz := (bounds.Min.Z + bounds.Max.Z) / 2
	return viewport{minX: cx - span/2, minZ: cz - span/2, span: span}, nil
}

// Snapshot renders the scene and stores the PNG.
func (r *Renderer) Snapshot(ctx context.Context, scene *domain.Handle, req providers.SnapshotRequest) (domain.Handle, error) {
	m, err := LoadManifest(ctx, r.store, scene)
	if err != nil {
		return domain.Handle{}, err
	}
	view, err := r.frame(m, req)
	if err != nil {
		return domain.Handle{}, err
	}

	img := image.NewRGBA(image.Rect(0, 0, r.size, r.size))
	draw.Draw(img, img.Bounds(), &image.Uniform{groundColor}, image.Point{}, draw.Src)
	start := math.Floor(view.minX/gridSpacing) * gridSpacing
	for x := start; x <= view.minX+view.span; x += gridSpacing {
		p := view.project(x, view.minZ, r.size)
		draw.Draw(img, image.Rect(p.X, 0, p.X+1, r.size), &image.Uniform{gridColor}, image.Point{}, draw.Src)
	}
	start = math.Floor(view.minZ/gridSpacing) * gridSpacing
	for z := start; z <= view.minZ+view.span; z += gridSpacing {
		p := view.project(view.minX, z, r.size)
		draw.Draw(img, image.Rect(0, p.Y, r.size, p.Y+1), &image.Uniform{gridColor}, image.Point{}, draw.Src)
	}

	for _, inst := range m.Instances {
		lo := view.project(inst.Min.X, inst.Min.Z, r.size)
		hi := view.project(inst.Max.X, inst.Max.Z, r.size)
		rect := image.Rectangle{Min: lo, Max: hi}.Canon()
		if rect.Dx() == 0 {
			rect.Max.X++
		}
		if rect.Dy() == 0 {
			rect.Max.Y++
		}
		draw.Draw(img, rect.Intersect(img.Bounds()), &image.Uniform{Swatch(inst.Model.ID, 0)}, image.Point{}, draw.Over)
	}
	if req.Target != nil {
		c := view.project(req.Target.X, req.Target.Z, r.size)
		draw.Draw(img, image.Rect(c.X-4, c.Y, c.X+5, c.Y+1).Intersect(img.Bounds()), &image.Uniform{targetColor}, image.Point{}, draw.Src)
		draw.Draw(img, image.Rect(c.X, c.Y-4, c.X+1, c.Y+5).Intersect(img.Bounds()), &image.Uniform{targetColor}, image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return domain.Handle{}, fmt.Errorf("scene: encode snapshot: %w", err)
	}
	h, err := r.store.Put(ctx, domain.MediaImage, "image/png", buf.Bytes())
	if err != nil {
		return domain.Handle{}, fmt.Errorf("scene: store snapshot: %w", err)
	}
	return h, nil
}

// Swatch derives a stable opaque colour from a seed string. Different shifts
// give different colours for the same seed.
func Swatch(seed string, shift int) color.RGBA {
	sum := sha256.Sum256([]byte(seed))
	hexed := hex.EncodeToString(sum[:])
	start := (shift * 6) % (len(hexed) - 6)
	channel := func(s string) uint8 {
		v, err := strconv.ParseUint(s, 16, 8)
		if err != nil {
			return 0
		}
		return uint8(v)
	}
	seg := hexed[start : start+6]
	return color.RGBA{R: channel(seg[0:2]), G: channel(seg[2:4]), B: channel(seg[4:6]), A: 255}
}

var _ providers.Snapshotter = (*Renderer)(nil)
