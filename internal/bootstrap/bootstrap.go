// Package bootstrap turns a Config into a ready orchestrator.
package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/rs/zerolog"

	"citygen/internal/assembly"
	"citygen/internal/assetgen"
	"citygen/internal/infra"
	"citygen/internal/pipeline"
	"citygen/internal/planner"
	"citygen/internal/providers"
	"citygen/internal/providers/openai"
	"citygen/internal/providers/qwen"
	"citygen/internal/providers/recon3d"
	"citygen/internal/providers/scenesvc"
	"citygen/internal/providers/synthetic"
	"citygen/internal/review"
	"citygen/internal/scene"
	"citygen/internal/storage"
)

// Runtime bundles everything a command needs to execute runs.
type Runtime struct {
	Store        *storage.FileStore
	Suite        providers.Suite
	Planner      *planner.Planner
	Orchestrator *pipeline.Orchestrator
}

// Build wires the media store, collaborators and stages described by cfg.
func Build(cfg *infra.Config, logger *zerolog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		l := zerolog.New(io.Discard)
		logger = &l
	}

	storagePath := cfg.StoragePath
	if abs, err := filepath.Abs(storagePath); err == nil {
		storagePath = abs
	}
	store, err := storage.NewFileStore(storagePath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: storage: %w", err)
	}

	var suite providers.Suite
	if cfg.Offline {
		suite = OfflineSuite(store, logger)
	} else {
		suite, err = OnlineSuite(cfg, store, logger)
		if err != nil {
			return nil, err
		}
	}
	if err := suite.Validate(); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	plan := planner.New(suite.Text, planner.Options{MaxQuantity: cfg.MaxQuantityPerAsset, Logger: logger})
	generator := assetgen.New(suite, assetgen.Options{
		ImageAttempts: cfg.ImageGateAttempts,
		ModelAttempts: cfg.ModelGateAttempts,
		RetryDelay:    cfg.RetryDelay,
		StepTimeout:   cfg.StepTimeout,
		Logger:        logger,
	})
	assembler := assembly.New(suite, assembly.Options{
		PlacementAttempts: cfg.PlacementAttempts,
		RetryDelay:        cfg.RetryDelay,
		StepTimeout:       cfg.StepTimeout,
		Logger:            logger,
	})
	reviewer := review.New(suite.Text, suite.Evaluator, logger)

	orchestrator := pipeline.New(plan, generator, assembler, reviewer, pipeline.Options{
		MaxIterations:  cfg.MaxIterations,
		ReviewAttempts: cfg.ReviewAttempts,
		Concurrency:    cfg.GenerationConcurrency,
		Logger:         logger,
	})

	logger.Info().
		Bool("offline", cfg.Offline).
		Str("storage", store.BasePath()).
		Int("max_iterations", cfg.MaxIterations).
		Int("concurrency", cfg.GenerationConcurrency).
		Msg("bootstrap: pipeline ready")

	return &Runtime{Store: store, Suite: suite, Planner: plan, Orchestrator: orchestrator}, nil
}

// OfflineSuite wires the deterministic collaborators and the local scene
// backend.
func OfflineSuite(store *storage.FileStore, logger *zerolog.Logger) providers.Suite {
	fake := synthetic.New(synthetic.Options{Store: store, Logger: logger})
	return providers.Suite{
		Text:          fake,
		Images:        fake,
		Evaluator:     fake,
		Reconstructor: fake,
		Unpacker:      recon3d.NewUnpacker(store),
		Merger:        scene.NewMerger(store, scene.MergerOptions{Logger: logger}),
		Snapshotter:   scene.NewRenderer(store, scene.RendererOptions{}),
	}
}

// OnlineSuite wires the model endpoints. Scene operations use the remote
// scene service when SCENE_BASE_URL is set and the local backend otherwise.
func OnlineSuite(cfg *infra.Config, store *storage.FileStore, logger *zerolog.Logger) (providers.Suite, error) {
	httpClient := &http.Client{Timeout: cfg.CallTimeout}

	text, err := openai.NewClient(openai.Options{
		APIKey:     cfg.TextAPIKey,
		BaseURL:    cfg.TextBaseURL,
		Model:      cfg.TextModel,
		Store:      store,
		HTTPClient: httpClient,
		Limiter:    cfg.ModelLimiter(),
		Logger:     logger,
	})
	if err != nil {
		return providers.Suite{}, fmt.Errorf("bootstrap: text model: %w", err)
	}
	vision, err := openai.NewClient(openai.Options{
		APIKey:     cfg.VisionAPIKey,
		BaseURL:    cfg.VisionBaseURL,
		Model:      cfg.VisionModel,
		Store:      store,
		HTTPClient: httpClient,
		Limiter:    cfg.ModelLimiter(),
		Logger:     logger,
	})
	if err != nil {
		return providers.Suite{}, fmt.Errorf("bootstrap: vision model: %w", err)
	}
	images, err := qwen.NewClient(qwen.Options{
		APIKey:     cfg.QwenAPIKey,
		BaseURL:    cfg.QwenBaseURL,
		Model:      cfg.QwenModel,
		Seed:       cfg.QwenSeed,
		Store:      store,
		HTTPClient: httpClient,
		Limiter:    cfg.ModelLimiter(),
		Logger:     logger,
	})
	if err != nil {
		return providers.Suite{}, fmt.Errorf("bootstrap: image model: %w", err)
	}
	if !images.HasCredentials() {
		return providers.Suite{}, errors.New("bootstrap: QWEN_API_KEY is required unless OFFLINE is set")
	}
	recon, err := recon3d.NewClient(recon3d.Options{
		BaseURL:    cfg.ReconBaseURL,
		Store:      store,
		HTTPClient: httpClient,
		Limiter:    cfg.ModelLimiter(),
		Logger:     logger,
	})
	if err != nil {
		return providers.Suite{}, fmt.Errorf("bootstrap: reconstruction: %w", err)
	}

	suite := providers.Suite{
		Text:          text,
		Images:        images,
		Evaluator:     vision,
		Reconstructor: recon,
		Unpacker:      recon3d.NewUnpacker(store),
	}
	if cfg.SceneBaseURL != "" {
		svc, err := scenesvc.NewClient(scenesvc.Options{
			BaseURL:    cfg.SceneBaseURL,
			Store:      store,
			HTTPClient: httpClient,
			Logger:     logger,
		})
		if err != nil {
			return providers.Suite{}, fmt.Errorf("bootstrap: scene service: %w", err)
		}
		suite.Merger = svc
		suite.Snapshotter = svc
	} else {
		suite.Merger = scene.NewMerger(store, scene.MergerOptions{Logger: logger})
		suite.Snapshotter = scene.NewRenderer(store, scene.RendererOptions{})
	}
	return suite, nil
}
