// Package providers declares the collaborator contracts the pipeline drives.
// Real backends and offline stand-ins live in the sub-packages.
package providers

import (
	"context"
	"errors"
	"fmt"

	"citygen/internal/domain"
)

// TextGenerator answers free-form prompts: planning, prompt refinement,
// sizing, layout proposals and review decisions.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// ImageTextGenerator is implemented by text generators that can also look
// at images. Layout proposals use it to see the scene so far.
type ImageTextGenerator interface {
	GenerateTextWithImages(ctx context.Context, prompt string, images []domain.Handle) (string, error)
}

// GenerateWithImages uses the image-aware path when gen supports it and falls
// back to a plain text call otherwise.
func GenerateWithImages(ctx context.Context, gen TextGenerator, prompt string, images ...domain.Handle) (string, error) {
	if vg, ok := gen.(ImageTextGenerator); ok && len(images) > 0 {
		return vg.GenerateTextWithImages(ctx, prompt, images)
	}
	return gen.GenerateText(ctx, prompt)
}

// ImageGenerator renders concept art.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (domain.Handle, error)
}

// Evaluator judges media against a prompt. All three methods return the same
// Verdict shape; an unparseable answer is reported as domain.ErrMalformedVerdict.
type Evaluator interface {
	EvaluateImage(ctx context.Context, image domain.Handle, prompt string) (domain.Verdict, error)
	EvaluateVideo(ctx context.Context, video domain.Handle, prompt string) (domain.Verdict, error)
	EvaluateMultiImage(ctx context.Context, images map[string]domain.Handle, prompt string) (domain.Verdict, error)
}

// Reconstructor lifts a 2D image into a 3D bundle.
type Reconstructor interface {
	ImageTo3D(ctx context.Context, image domain.Handle) (domain.Handle, error)
}

// Unpacked is the content of a reconstruction bundle.
type Unpacked struct {
	Model  domain.Handle
	Render domain.Handle
}

// Unpacker opens a reconstruction bundle.
type Unpacker interface {
	Unpack(ctx context.Context, bundle domain.Handle) (Unpacked, error)
}

// SceneMerger merges a model into a scene. A nil base is the empty scene.
// The base is never modified; a new scene handle is returned.
type SceneMerger interface {
	MergeIntoScene(ctx context.Context, base *domain.Handle, model domain.Handle, position, rotation domain.Vec3) (domain.Handle, error)
}

// SnapshotMode selects the camera setup for a snapshot.
type SnapshotMode string

const (
	SnapshotPanoramic SnapshotMode = "panoramic"
	SnapshotLocal     SnapshotMode = "local"
	SnapshotTopDown   SnapshotMode = "top_down"
)

// SnapshotRequest describes one rendered view. Target is required for local views.
type SnapshotRequest struct {
	Mode   SnapshotMode
	Label  string
	Target *domain.Vec3
}

// Snapshotter renders a view of a scene. A nil scene renders the empty ground.
type Snapshotter interface {
	Snapshot(ctx context.Context, scene *domain.Handle, req SnapshotRequest) (domain.Handle, error)
}

// MediaStore persists the bytes behind handles. storage.FileStore is the
// implementation every backend shares.
type MediaStore interface {
	Put(ctx context.Context, kind domain.MediaKind, mime string, data []byte) (domain.Handle, error)
	Load(ctx context.Context, h domain.Handle) ([]byte, error)
	DataURL(ctx context.Context, h domain.Handle) (string, error)
}

// Suite bundles every collaborator a pipeline run needs.
type Suite struct {
	Text          TextGenerator
	Images        ImageGenerator
	Evaluator     Evaluator
	Reconstructor Reconstructor
	Unpacker      Unpacker
	Merger        SceneMerger
	Snapshotter   Snapshotter
}

// Validate reports every missing collaborator.
func (s Suite) Validate() error {
	var errs []error
	check := func(name string, ok bool) {
		if !ok {
			errs = append(errs, fmt.Errorf("providers: %s is not configured", name))
		}
	}
	check("text generator", s.Text != nil)
	check("image generator", s.Images != nil)
	check("evaluator", s.Evaluator != nil)
	check("reconstructor", s.Reconstructor != nil)
	check("unpacker", s.Unpacker != nil)
	check("scene merger", s.Merger != nil)
	check("snapshotter", s.Snapshotter != nil)
	return errors.Join(errs...)
}
