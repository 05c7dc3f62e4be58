package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"citygen/internal/adapter/repo"
	"citygen/internal/bootstrap"
	"citygen/internal/domain"
	"citygen/internal/infra"
)

type orchestrator interface {
	Run(ctx context.Context, concept domain.Concept) domain.Outcome
}

type outcomeWriter interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

type runWorker struct {
	runs         domain.RunRepository
	orchestrator orchestrator
	outcomes     outcomeWriter
	logger       zerolog.Logger
	pollInterval time.Duration
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	rt, err := bootstrap.Build(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure pipeline")
	}

	worker := &runWorker{
		runs:         repo.NewRunRepository(infra.NewSQLRunner(pool, logger)),
		orchestrator: rt.Orchestrator,
		outcomes:     rt.Store,
		logger:       logger,
		pollInterval: cfg.WorkerPollInterval,
	}
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

// Run claims queued runs one at a time until ctx ends.
func (w *runWorker) Run(ctx context.Context) error {
	w.logger.Info().Dur("poll_interval", w.pollInterval).Msg("worker: started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		run, err := w.runs.Claim(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) && ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("worker: failed to claim run")
			}
			if err := sleep(ctx, w.pollInterval); err != nil {
				return err
			}
			continue
		}
		w.handleRun(ctx, run)
	}
}

func (w *runWorker) handleRun(ctx context.Context, run *domain.Run) {
	logger := w.logger.With().Str("run_id", run.ID).Logger()
	logger.Info().Msg("worker: picked run")
	ctx = logger.WithContext(ctx)

	var outcome domain.Outcome
	var concept domain.Concept
	if err := json.Unmarshal(run.ConceptJSON, &concept); err != nil {
		outcome = domain.Outcome{
			Status: domain.RunStatusFailedPlanning,
			Reason: fmt.Sprintf("decode concept: %v", err),
		}
	} else {
		outcome = w.orchestrator.Run(ctx, concept)
	}

	raw, err := json.Marshal(outcome)
	if err != nil {
		logger.Error().Err(err).Msg("worker: encode outcome failed")
		raw = nil
	}
	// Record the outcome even when shutdown cancelled the run.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if w.outcomes != nil && raw != nil {
		if _, err := w.outcomes.Write(storeCtx, "runs/"+run.ID+"/outcome.json", raw); err != nil {
			logger.Warn().Err(err).Msg("worker: write outcome file failed")
		}
	}
	if err := w.runs.Complete(storeCtx, run.ID, outcome.Status, outcome.Reason, raw); err != nil {
		logger.Error().Err(err).Msg("worker: complete run failed")
		return
	}
	logger.Info().Str("status", string(outcome.Status)).Str("reason", outcome.Reason).Msg("worker: run finished")
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
