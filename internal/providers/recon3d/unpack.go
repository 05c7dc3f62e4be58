package recon3d

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"citygen/internal/domain"
	"citygen/internal/providers"
	"citygen/pkg/zip"
)

// Bundle member names written by the reconstruction service.
const (
	ModelFile  = "model.ply"
	RenderFile = "render.mp4"
)

var modelExtensions = map[string]string{
	".ply": "application/x-ply",
	".glb": "model/gltf-binary",
	".obj": "model/obj",
}

// Unpacker extracts the model and turntable render from a stored bundle.
type Unpacker struct {
	store providers.MediaStore
}

// NewUnpacker builds an unpacker over store.
func NewUnpacker(store providers.MediaStore) *Unpacker {
	return &Unpacker{store: store}
}

// Unpack stores the bundle's model and render as their own handles. A bundle
// without a model or render is an error.
func (u *Unpacker) Unpack(ctx context.Context, bundle domain.Handle) (providers.Unpacked, error) {
	data, err := u.store.Load(ctx, bundle)
	if err != nil {
		return providers.Unpacked{}, fmt.Errorf("recon3d: load bundle: %w", err)
	}
	files, err := zip.ExtractMatching(data, bundleMember)
	if err != nil {
		return providers.Unpacked{}, fmt.Errorf("recon3d: %w", err)
	}

	modelName := pick(files, ModelFile, func(name string) bool {
		_, ok := modelExtensions[strings.ToLower(path.Ext(name))]
		return ok
	})
	if modelName == "" {
		return providers.Unpacked{}, fmt.Errorf("recon3d: bundle %s has no model file: %w", bundle.ID, domain.ErrProviderFailure)
	}
	renderName := pick(files, RenderFile, func(name string) bool {
		return strings.EqualFold(path.Ext(name), ".mp4")
	})
	if renderName == "" {
		return providers.Unpacked{}, fmt.Errorf("recon3d: bundle %s has no render: %w", bundle.ID, domain.ErrProviderFailure)
	}

	model, err := u.store.Put(ctx, domain.MediaModel, modelExtensions[strings.ToLower(path.Ext(modelName))], files[modelName])
	if err != nil {
		return providers.Unpacked{}, fmt.Errorf("recon3d: store model: %w", err)
	}
	render, err := u.store.Put(ctx, domain.MediaVideo, "video/mp4", files[renderName])
	if err != nil {
		return providers.Unpacked{}, fmt.Errorf("recon3d: store render: %w", err)
	}
	return providers.Unpacked{Model: model, Render: render}, nil
}

func bundleMember(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	_, model := modelExtensions[ext]
	return model || ext == ".mp4"
}

// pick prefers the canonical name and otherwise takes the first match in
// name order.
func pick(files map[string][]byte, preferred string, match func(string) bool) string {
	if _, ok := files[preferred]; ok {
		return preferred
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if match(name) {
			return name
		}
	}
	return ""
}

var _ providers.Unpacker = (*Unpacker)(nil)
