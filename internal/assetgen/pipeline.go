// Package assetgen turns one asset request into one finished asset: a gated
// concept image, a gated 3D reconstruction, a size estimate and packaging.
package assetgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"citygen/internal/domain"
	"citygen/internal/gate"
	"citygen/internal/llmjson"
	"citygen/internal/prompts"
	"citygen/internal/providers"
)

const (
	StageImage = "image"
	StageModel = "model"

	defaultImageAttempts = 3
	defaultModelAttempts = 3
)

// Options configures the asset pipeline.
type Options struct {
	ImageAttempts int
	ModelAttempts int
	RetryDelay    time.Duration
	StepTimeout   time.Duration
	Logger        *zerolog.Logger
}

// StageError reports that a gate exhausted its budget. It matches
// domain.ErrGateExhausted under errors.Is.
type StageError struct {
	AssetID  string
	Stage    string
	Attempts int
	Reason   string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("assetgen: %s gate for %s exhausted after %d attempts: %s", e.Stage, e.AssetID, e.Attempts, e.Reason)
}

func (e *StageError) Unwrap() error {
	return domain.ErrGateExhausted
}

// Pipeline produces GeneratedAssets from AssetRequests.
type Pipeline struct {
	text          providers.TextGenerator
	images        providers.ImageGenerator
	evaluator     providers.Evaluator
	reconstructor providers.Reconstructor
	unpacker      providers.Unpacker
	opts          Options
	logger        *zerolog.Logger
}

// New wires a pipeline over the given collaborators.
func New(suite providers.Suite, opts Options) *Pipeline {
	if opts.ImageAttempts <= 0 {
		opts.ImageAttempts = defaultImageAttempts
	}
	if opts.ModelAttempts <= 0 {
		opts.ModelAttempts = defaultModelAttempts
	}
	logger := opts.Logger
	if logger == nil {
		l := zerolog.New(io.Discard)
		logger = &l
	}
	return &Pipeline{
		text:          suite.Text,
		images:        suite.Images,
		evaluator:     suite.Evaluator,
		reconstructor: suite.Reconstructor,
		unpacker:      suite.Unpacker,
		opts:          opts,
		logger:        logger,
	}
}

type modelCandidate struct {
	bundle   domain.Handle
	unpacked providers.Unpacked
}

// Generate runs the image gate, then the model gate, then sizing and
// packaging. Exhausting either gate aborts with a *StageError.
func (p *Pipeline) Generate(ctx context.Context, req domain.AssetRequest) (domain.GeneratedAsset, error) {
	req = req.Clone()
	logger := p.logger.With().Str("asset_id", req.ID).Logger()
	logger.Info().Str("type", req.Kind).Msg("assetgen: generating asset")

	imagePrompt := p.refinePrompt(ctx, req, &logger)
	imageQA := prompts.ImageQA(req)
	imageRes := gate.Run(ctx, p.gateOptions(StageImage, p.opts.ImageAttempts, &logger),
		func(ctx context.Context, attempt int) (domain.Handle, error) {
			return p.images.GenerateImage(ctx, imagePrompt)
		},
		func(ctx context.Context, image domain.Handle) (domain.Verdict, error) {
			return p.evaluator.EvaluateImage(ctx, image, imageQA)
		})
	if !imageRes.Accepted {
		return domain.GeneratedAsset{}, exhausted(req.ID, StageImage, imageRes)
	}
	image := imageRes.Candidate

	modelQA := prompts.ModelQA(req)
	modelRes := gate.Run(ctx, p.gateOptions(StageModel, p.opts.ModelAttempts, &logger),
		func(ctx context.Context, attempt int) (modelCandidate, error) {
			bundle, err := p.reconstructor.ImageTo3D(ctx, image)
			if err != nil {
				return modelCandidate{}, err
			}
			unpacked, err := p.unpacker.Unpack(ctx, bundle)
			if err != nil {
				return modelCandidate{}, err
			}
			return modelCandidate{bundle: bundle, unpacked: unpacked}, nil
		},
		func(ctx context.Context, c modelCandidate) (domain.Verdict, error) {
			return p.evaluator.EvaluateVideo(ctx, c.unpacked.Render, modelQA)
		})
	if !modelRes.Accepted {
		return domain.GeneratedAsset{}, exhausted(req.ID, StageModel, modelRes)
	}

	raw, dims := p.estimateDimensions(ctx, req, &logger)
	asset := pack(req, image, modelRes.Candidate, raw, dims)
	logger.Info().
		Str("model", asset.Model.Location).
		Str("dimensions", raw).
		Msg("assetgen: asset packaged")
	return asset, nil
}

func (p *Pipeline) gateOptions(name string, attempts int, logger *zerolog.Logger) gate.Options {
	return gate.Options{
		Name:        name,
		MaxAttempts: attempts,
		Delay:       p.opts.RetryDelay,
		StepTimeout: p.opts.StepTimeout,
		Logger:      logger,
	}
}

// refinePrompt polishes the image prompt once. It is best-effort: any
// failure falls back to the unrefined template.
func (p *Pipeline) refinePrompt(ctx context.Context, req domain.AssetRequest, logger *zerolog.Logger) string {
	template := prompts.ImageTemplate(req)
	if p.text == nil {
		return template
	}
	refined, err := p.text.GenerateText(ctx, prompts.Refine(template))
	if err != nil {
		logger.Warn().Err(err).Msg("assetgen: prompt refinement failed, using template")
		return template
	}
	refined = strings.Trim(llmjson.TrimCodeFence(refined), "\"' \n")
	if refined == "" {
		return template
	}
	return refined
}

// estimateDimensions makes a single sizing call. The raw answer is kept
// even when it does not parse.
func (p *Pipeline) estimateDimensions(ctx context.Context, req domain.AssetRequest, logger *zerolog.Logger) (string, domain.Dimensions) {
	if p.text == nil {
		return "", domain.Dimensions{}
	}
	raw, err := p.text.GenerateText(ctx, prompts.Dimensions(req))
	if err != nil {
		logger.Warn().Err(err).Msg("assetgen: dimension estimate failed")
		return "", domain.Dimensions{}
	}
	raw = strings.TrimSpace(raw)
	dims, ok := llmjson.ParseDimensions(raw)
	if !ok {
		logger.Warn().Str("raw", raw).Msg("assetgen: dimension estimate not parseable, keeping raw text")
	}
	return raw, dims
}

func pack(req domain.AssetRequest, image domain.Handle, model modelCandidate, raw string, dims domain.Dimensions) domain.GeneratedAsset {
	asset := domain.GeneratedAsset{
		AssetID:       req.ID,
		Kind:          domain.NormalizeKind(req.Kind),
		StyleTags:     append([]string(nil), req.StyleTags...),
		Description:   req.Description,
		Image:         image,
		Bundle:        model.bundle,
		Model:         model.unpacked.Model,
		Dimensions:    dims,
		DimensionsRaw: raw,
		Status:        domain.AssetStatusSuccess,
	}
	if !model.unpacked.Render.IsZero() {
		asset.Media = []domain.Handle{model.unpacked.Render}
	}
	return asset
}

func exhausted[T any](assetID, stage string, res gate.Result[T]) error {
	if res.Err != nil {
		return fmt.Errorf("assetgen: %s gate for %s: %w", stage, assetID, res.Err)
	}
	return &StageError{AssetID: assetID, Stage: stage, Attempts: len(res.Attempts), Reason: res.Reason()}
}

// IsExhausted reports whether err is a gate exhaustion for the given stage.
// An empty stage matches either gate.
func IsExhausted(err error, stage string) bool {
	var se *StageError
	if !errors.As(err, &se) {
		return false
	}
	return stage == "" || se.Stage == stage
}
