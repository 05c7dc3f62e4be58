package domain

// Verdict is the result of any evaluator call.
type Verdict struct {
	Accepted       bool     `json:"pass"`
	Reason         string   `json:"reason"`
	FailedCriteria []string `json:"failed_criteria,omitempty"`
}

// Reject builds a non-accepting verdict.
func Reject(reason string, criteria ...string) Verdict {
	return Verdict{Reason: reason, FailedCriteria: criteria}
}

// ReviewState is the outer-loop verdict.
type ReviewState string

const (
	ReviewSatisfied      ReviewState = "satisfied"
	ReviewNeedsIteration ReviewState = "needs_iteration"
)

// ReviewAction asks for one template to be regenerated with feedback.
type ReviewAction struct {
	AssetID  string `json:"asset_id"`
	Feedback string `json:"feedback"`
}

// ReviewDecision drives the orchestrator's re-queue step. Actions is empty
// when the state is satisfied.
type ReviewDecision struct {
	State   ReviewState    `json:"state"`
	Reason  string         `json:"reason"`
	Actions []ReviewAction `json:"actions,omitempty"`
}
