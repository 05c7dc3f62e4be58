// Package gate implements the bounded produce/evaluate/retry primitive every
// pipeline stage is built on.
package gate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"citygen/internal/domain"
)

// Options configures one gated run.
type Options struct {
	// Name identifies the gate in logs, e.g. "image" or "placement".
	Name        string
	MaxAttempts int
	// Delay is the back-off after a rejected attempt, before the next one.
	// Zero retries immediately.
	Delay time.Duration
	// StepTimeout bounds each produce and each evaluate call; zero disables it.
	StepTimeout time.Duration
	Logger      *zerolog.Logger
}

// Produce builds the candidate for the given 1-based attempt.
type Produce[T any] func(ctx context.Context, attempt int) (T, error)

// Evaluate judges a candidate. An error (including a malformed verdict)
// counts as a rejection.
type Evaluate[T any] func(ctx context.Context, candidate T) (domain.Verdict, error)

// Attempt records what happened on one try.
type Attempt struct {
	Number  int
	Verdict domain.Verdict
	Err     error
}

// Result is the outcome of Run. Accepted is false when the budget was
// exhausted or the context ended; Candidate is only meaningful when Accepted.
type Result[T any] struct {
	Candidate T
	Accepted  bool
	Attempts  []Attempt
	// Err is set when the context ended before the budget was spent.
	Err error
}

// Reason summarises the last rejection.
func (r Result[T]) Reason() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	if len(r.Attempts) == 0 {
		return "no attempts made"
	}
	return r.Attempts[len(r.Attempts)-1].Verdict.Reason
}

// Run alternates produce and evaluate up to MaxAttempts times and returns on
// the first accepted verdict. Exhaustion is reported through the Result, never
// as a panic.
func Run[T any](ctx context.Context, opts Options, produce Produce[T], evaluate Evaluate[T]) Result[T] {
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	logger := opts.logger()

	var result Result[T]
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := backoff(ctx, opts.Delay); err != nil {
				result.Err = err
				break
			}
		}
		if err := ctx.Err(); err != nil {
			result.Err = err
			break
		}

		candidate, verdict, err := runAttempt(ctx, opts.StepTimeout, attempt, produce, evaluate)
		result.Attempts = append(result.Attempts, Attempt{Number: attempt, Verdict: verdict, Err: err})

		if err == nil && verdict.Accepted {
			result.Candidate = candidate
			result.Accepted = true
			logger.Info().
				Str("gate", opts.Name).
				Int("attempt", attempt).
				Int("max_attempts", maxAttempts).
				Msg("gate: candidate accepted")
			return result
		}

		ev := logger.Warn().
			Str("gate", opts.Name).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Str("reason", verdict.Reason)
		if len(verdict.FailedCriteria) > 0 {
			ev = ev.Strs("failed_criteria", verdict.FailedCriteria)
		}
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("gate: candidate rejected")

		if ctxErr := ctx.Err(); ctxErr != nil {
			result.Err = ctxErr
			break
		}
	}

	if !result.Accepted {
		logger.Warn().
			Str("gate", opts.Name).
			Int("attempts", len(result.Attempts)).
			Str("reason", result.Reason()).
			Msg("gate: exhausted without acceptance")
	}
	return result
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, attempt int, produce Produce[T], evaluate Evaluate[T]) (T, domain.Verdict, error) {
	var zero T

	stepCtx, cancel := withTimeout(ctx, timeout)
	candidate, err := produce(stepCtx, attempt)
	cancel()
	if err != nil {
		return zero, domain.Reject(fmt.Sprintf("produce failed: %v", err)), err
	}

	stepCtx, cancel = withTimeout(ctx, timeout)
	verdict, err := evaluate(stepCtx, candidate)
	cancel()
	if err != nil {
		reason := fmt.Sprintf("evaluate failed: %v", err)
		if errors.Is(err, domain.ErrMalformedVerdict) {
			reason = "malformed verdict"
		}
		return candidate, domain.Reject(reason), err
	}
	return candidate, verdict, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// backoff sleeps for d unless ctx ends first.
func backoff(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o Options) logger() *zerolog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	l := zerolog.New(io.Discard)
	return &l
}
