package review

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"citygen/internal/domain"
)

func TestParseDecision(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want domain.ReviewDecision
	}{
		{
			name: "satisfied drops actions",
			raw:  `{"decision": "satisfied", "reason": "coherent", "actions": [{"action_type": "regenerate_asset", "asset_id": "B1"}]}`,
			want: domain.ReviewDecision{State: domain.ReviewSatisfied, Reason: "coherent"},
		},
		{
			name: "iterate keeps regenerate actions only",
			raw: "```json\n" + `{"decision": "iterate", "reason": "too bright", "actions": [
				{"action_type": "regenerate_asset", "asset_id": "B1", "feedback": "dim windows"},
				{"action_type": "move_asset", "asset_id": "B2", "feedback": "left"},
				{"action_type": "regenerate_asset", "asset_id": "", "feedback": "nothing"},
				{"asset_id": "P1", "feedback": "smaller"}]}` + "\n```",
			want: domain.ReviewDecision{State: domain.ReviewNeedsIteration, Reason: "too bright", Actions: []domain.ReviewAction{
				{AssetID: "B1", Feedback: "dim windows"},
				{AssetID: "P1", Feedback: "smaller"},
			}},
		},
		{
			name: "legacy labels",
			raw:  `{"decision": "满意", "reason": "ok"}`,
			want: domain.ReviewDecision{State: domain.ReviewSatisfied, Reason: "ok"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDecision(tc.raw)
			if err != nil {
				t.Fatalf("ParseDecision error: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("decision mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseDecisionMalformed(t *testing.T) {
	for _, raw := range []string{"", "all good!", `{"decision": "maybe"}`} {
		if _, err := ParseDecision(raw); !errors.Is(err, domain.ErrMalformedDecision) {
			t.Fatalf("ParseDecision(%q) error = %v, want ErrMalformedDecision", raw, err)
		}
	}
}

type stubModels struct {
	verdict   domain.Verdict
	evalErr   error
	decision  string
	gotReport string
}

func (s *stubModels) GenerateText(ctx context.Context, prompt string) (string, error) {
	s.gotReport = prompt
	return s.decision, nil
}

func (s *stubModels) EvaluateImage(ctx context.Context, image domain.Handle, prompt string) (domain.Verdict, error) {
	return s.verdict, s.evalErr
}

func (s *stubModels) EvaluateVideo(ctx context.Context, video domain.Handle, prompt string) (domain.Verdict, error) {
	return domain.Verdict{}, errors.New("not used")
}

func (s *stubModels) EvaluateMultiImage(ctx context.Context, images map[string]domain.Handle, prompt string) (domain.Verdict, error) {
	return domain.Verdict{}, errors.New("not used")
}

func TestReviewFeedsReportIntoDecision(t *testing.T) {
	s := &stubModels{
		verdict:  domain.Verdict{Accepted: false, Reason: "the bank glows too brightly", FailedCriteria: []string{"B1"}},
		decision: `{"decision": "iterate", "reason": "lighting", "actions": [{"action_type": "regenerate_asset", "asset_id": "B1", "feedback": "dim it"}]}`,
	}
	d, err := New(s, s, nil).Review(context.Background(), domain.Plan{Profile: domain.CityProfile{Theme: "noir"}}, domain.SceneResult{})
	if err != nil {
		t.Fatalf("Review error: %v", err)
	}
	if d.State != domain.ReviewNeedsIteration || len(d.Actions) != 1 {
		t.Fatalf("decision = %+v", d)
	}
	if !strings.Contains(s.gotReport, "the bank glows too brightly") {
		t.Fatalf("decision prompt does not carry the visual report")
	}
}

func TestReviewPropagatesVisionFailure(t *testing.T) {
	s := &stubModels{evalErr: errors.New("vision offline")}
	if _, err := New(s, s, nil).Review(context.Background(), domain.Plan{}, domain.SceneResult{}); err == nil {
		t.Fatalf("expected error")
	}
}
