// Package scene is the local scene backend: scenes are JSON manifests of
// placed model instances with their world-space bounds, and snapshots are
// top-down renders of those bounds.
package scene

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"citygen/internal/domain"
	"citygen/internal/providers"
)

const manifestMIME = "application/json"

// Instance is one merged model.
type Instance struct {
	Model    domain.Handle `json:"model"`
	Position domain.Vec3   `json:"position"`
	Rotation domain.Vec3   `json:"rotation"`
	Scale    float64       `json:"scale"`
	Min      domain.Vec3   `json:"min"`
	Max      domain.Vec3   `json:"max"`
}

// Manifest is the stored form of a scene.
type Manifest struct {
	Instances []Instance `json:"instances"`
}

// LoadManifest reads the manifest behind h. A nil handle is the empty scene.
func LoadManifest(ctx context.Context, store providers.MediaStore, h *domain.Handle) (Manifest, error) {
	if h == nil {
		return Manifest{}, nil
	}
	data, err := store.Load(ctx, *h)
	if err != nil {
		return Manifest{}, fmt.Errorf("scene: load manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("scene: decode manifest: %w", err)
	}
	return m, nil
}

// MergerOptions configures the local merger.
type MergerOptions struct {
	// Scale is applied uniformly to every model before rotation. Zero means 1.
	Scale  float64
	Logger *zerolog.Logger
}

// Merger implements providers.SceneMerger over a MediaStore.
type Merger struct {
	store  providers.MediaStore
	scale  float64
	logger *zerolog.Logger
}

// NewMerger builds a local merger.
func NewMerger(store providers.MediaStore, opts MergerOptions) *Merger {
	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}
	logger := opts.Logger
	if logger == nil {
		l := zerolog.New(io.Discard)
		logger = &l
	}
	return &Merger{store: store, scale: scale, logger: logger}
}

// MergeIntoScene appends the model to a copy of the base manifest and stores
// the result under a new handle.
func (m *Merger) MergeIntoScene(ctx context.Context, base *domain.Handle, model domain.Handle, position, rotation domain.Vec3) (domain.Handle, error) {
	manifest, err := LoadManifest(ctx, m.store, base)
	if err != nil {
		return domain.Handle{}, err
	}
	data, err := m.store.Load(ctx, model)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("scene: load model: %w", err)
	}
	local, err := ReadBounds(data)
	if err != nil {
		return domain.Handle{}, err
	}
	world := WorldBounds(local, m.scale, rotation, position)
	manifest.Instances = append(manifest.Instances, Instance{
		Model:    model,
		Position: position,
		Rotation: rotation,
		Scale:    m.scale,
		Min:      fromR3(world.Min),
		Max:      fromR3(world.Max),
	})

	encoded, err := json.Marshal(manifest)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("scene: encode manifest: %w", err)
	}
	h, err := m.store.Put(ctx, domain.MediaScene, manifestMIME, encoded)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("scene: store manifest: %w", err)
	}
	m.logger.Debug().
		Str("scene", h.ID).
		Str("model", model.ID).
		Int("instances", len(manifest.Instances)).
		Msg("scene: merged model")
	return h, nil
}

var _ providers.SceneMerger = (*Merger)(nil)
