// Package review judges an assembled scene against the plan's theme and
// decides whether another iteration is needed.
package review

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"citygen/internal/domain"
	"citygen/internal/llmjson"
	"citygen/internal/prompts"
	"citygen/internal/providers"
)

// ActionRegenerate is the only action type the orchestrator acts on.
const ActionRegenerate = "regenerate_asset"

// Reviewer asks a vision model for a report on the final snapshot, then a
// text model for a structured decision based on that report.
type Reviewer struct {
	text      providers.TextGenerator
	evaluator providers.Evaluator
	logger    *zerolog.Logger
}

// New returns a reviewer. A nil logger discards output.
func New(text providers.TextGenerator, evaluator providers.Evaluator, logger *zerolog.Logger) *Reviewer {
	if logger == nil {
		l := zerolog.New(io.Discard)
		logger = &l
	}
	return &Reviewer{text: text, evaluator: evaluator, logger: logger}
}

// Review returns the decision for scene. Errors are returned as-is; the
// caller decides how to fold them into the run.
func (r *Reviewer) Review(ctx context.Context, plan domain.Plan, scene domain.SceneResult) (domain.ReviewDecision, error) {
	verdict, err := r.evaluator.EvaluateImage(ctx, scene.Snapshot, prompts.SceneReview(plan))
	if err != nil {
		return domain.ReviewDecision{}, fmt.Errorf("review: visual report: %w", err)
	}
	report := Report(verdict)
	r.logger.Info().Bool("pass", verdict.Accepted).Str("report", report).Msg("review: visual report")

	raw, err := r.text.GenerateText(ctx, prompts.Decision(plan, report))
	if err != nil {
		return domain.ReviewDecision{}, fmt.Errorf("review: decision: %w", err)
	}
	decision, err := ParseDecision(raw)
	if err != nil {
		return domain.ReviewDecision{}, err
	}
	r.logger.Info().
		Str("state", string(decision.State)).
		Int("actions", len(decision.Actions)).
		Str("reason", decision.Reason).
		Msg("review: decision")
	return decision, nil
}

// Report renders a visual verdict as the prose handed to the decision step.
func Report(v domain.Verdict) string {
	sb := &strings.Builder{}
	if v.Accepted {
		sb.WriteString("Overall: consistent with the theme. ")
	} else {
		sb.WriteString("Overall: problems found. ")
	}
	sb.WriteString(strings.TrimSpace(v.Reason))
	if len(v.FailedCriteria) > 0 {
		fmt.Fprintf(sb, " Flagged: %s.", strings.Join(v.FailedCriteria, ", "))
	}
	return strings.TrimSpace(sb.String())
}

type decisionPayload struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
	Actions  []struct {
		ActionType string `json:"action_type"`
		AssetID    string `json:"asset_id"`
		Feedback   string `json:"feedback"`
	} `json:"actions"`
}

// ParseDecision decodes {"decision", "reason", "actions": [...]}. Actions of
// other types, or without an asset id, are ignored.
func ParseDecision(raw string) (domain.ReviewDecision, error) {
	payload, err := llmjson.Decode[decisionPayload](raw)
	if err != nil {
		return domain.ReviewDecision{}, fmt.Errorf("review: %w: %v", domain.ErrMalformedDecision, err)
	}
	decision := domain.ReviewDecision{Reason: strings.TrimSpace(payload.Reason)}
	switch strings.ToLower(strings.TrimSpace(payload.Decision)) {
	case "satisfied", "pass", "done", "满意":
		decision.State = domain.ReviewSatisfied
		return decision, nil
	case "iterate", "iteration", "needs_iteration", "迭代":
		decision.State = domain.ReviewNeedsIteration
	default:
		return domain.ReviewDecision{}, fmt.Errorf("review: %w: unknown decision %q", domain.ErrMalformedDecision, payload.Decision)
	}
	for _, a := range payload.Actions {
		actionType := strings.TrimSpace(a.ActionType)
		if actionType != "" && actionType != ActionRegenerate {
			continue
		}
		id := strings.TrimSpace(a.AssetID)
		if id == "" {
			continue
		}
		decision.Actions = append(decision.Actions, domain.ReviewAction{AssetID: id, Feedback: strings.TrimSpace(a.Feedback)})
	}
	return decision, nil
}
