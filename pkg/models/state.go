package models

import "time"

// BuildPhase is the phase of a single-page build state machine.
type BuildPhase string

const (
	PhasePlanning     BuildPhase = "planning"
	PhaseImplementing BuildPhase = "implementing"
	PhaseVerifying    BuildPhase = "verifying"
	PhaseReviewing    BuildPhase = "reviewing"
	PhaseIterating    BuildPhase = "iterating"
	PhaseReady        BuildPhase = "ready"
	PhaseError        BuildPhase = "error"
	PhaseAborted      BuildPhase = "aborted"
)

// Terminal reports whether the phase is a terminal state.
func (p BuildPhase) Terminal() bool {
	switch p {
	case PhaseReady, PhaseError, PhaseAborted:
		return true
	}
	return false
}

// StepMode controls which step the orchestrator takes on the next call.
type StepMode string

const (
	ModeAuto          StepMode = "auto"
	ModePlanOnly      StepMode = "plan_only"
	ModeImplementOnly StepMode = "implement_only"
	ModeVerifyOnly    StepMode = "verify_only"
)

// HistoryEntry is one line in a build's append-only history log.
type HistoryEntry struct {
	At    time.Time  `json:"at"`
	Phase BuildPhase `json:"phase"`
	Note  string     `json:"note"`
}

// BuildState is the durable single-page build context. It is persisted as a
// single row keyed by BuildID; every phase transition writes the full row.
type BuildState struct {
	BuildID   string `json:"build_id"`
	ProjectID string `json:"project_id"`

	// Brief is the user's one-shot build request, passed to the planner.
	Brief string `json:"brief,omitempty"`

	Phase         BuildPhase `json:"phase"`
	Mode          StepMode   `json:"mode"`
	CurrentTaskID string     `json:"current_task_id,omitempty"`

	Graph   *BuildGraph    `json:"graph,omitempty"`
	History []HistoryEntry `json:"history,omitempty"`

	// Token accounting: cumulative totals across the run, cumulative per
	// agent, and the most recent call per agent.
	TokenUsage  TokenUsage            `json:"token_usage"`
	AgentTokens map[string]TokenUsage `json:"agent_tokens,omitempty"`
	LastTokens  map[string]TokenUsage `json:"last_tokens,omitempty"`

	LastPatch      *PatchSet         `json:"last_patch,omitempty"`
	LastValidation *ValidationReport `json:"last_validation,omitempty"`
	LastChecks     *CheckReport      `json:"last_checks,omitempty"`
	LastReview     *ReviewReport     `json:"last_review,omitempty"`
	Feedback       *ReviewFeedback   `json:"feedback,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppendHistory records a transition note against the current phase.
func (s *BuildState) AppendHistory(note string) {
	s.History = append(s.History, HistoryEntry{
		At:    time.Now().UTC(),
		Phase: s.Phase,
		Note:  note,
	})
}

// RecordTokens accumulates one agent call's token usage into the cumulative
// and per-agent counters.
func (s *BuildState) RecordTokens(agent string, usage TokenUsage) {
	s.TokenUsage.Add(usage)
	if s.AgentTokens == nil {
		s.AgentTokens = make(map[string]TokenUsage)
	}
	if s.LastTokens == nil {
		s.LastTokens = make(map[string]TokenUsage)
	}
	cum := s.AgentTokens[agent]
	cum.Add(usage)
	s.AgentTokens[agent] = cum
	s.LastTokens[agent] = usage
}
