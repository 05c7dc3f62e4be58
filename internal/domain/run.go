package domain

import "time"

// RunStatus enumerates pipeline run lifecycle states.
type RunStatus string

const (
	RunStatusQueued              RunStatus = "queued"
	RunStatusRunning             RunStatus = "running"
	RunStatusSuccess             RunStatus = "success"
	RunStatusFailedPlanning      RunStatus = "failed_planning"
	RunStatusFailedAssembly      RunStatus = "failed_assembly"
	RunStatusFailedMaxIterations RunStatus = "failed_max_iterations"
	RunStatusFailedReview        RunStatus = "failed_review"
)

// Terminal reports whether no further transitions follow s.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailedPlanning, RunStatusFailedAssembly, RunStatusFailedMaxIterations, RunStatusFailedReview:
		return true
	}
	return false
}

// Outcome is the terminal result of one orchestrator run.
type Outcome struct {
	Status     RunStatus       `json:"status"`
	Reason     string          `json:"reason"`
	Trail      []string        `json:"trail"`
	Iterations int             `json:"iterations"`
	Plan       *Plan           `json:"plan,omitempty"`
	Scene      *SceneResult    `json:"scene,omitempty"`
	Library    []LibraryEntry  `json:"library,omitempty"`
	Decision   *ReviewDecision `json:"decision,omitempty"`
}

// Succeeded reports whether the run ended in success.
func (o Outcome) Succeeded() bool {
	return o.Status == RunStatusSuccess
}

// Run is the persisted record of a queued or executed pipeline run.
type Run struct {
	ID          string
	Status      RunStatus
	ConceptJSON []byte
	OutcomeJSON []byte
	Reason      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
