package models

// TokenUsage aggregates token consumption across LLM calls.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Add accumulates another usage sample into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Prompt += other.Prompt
	u.Completion += other.Completion
	u.Total += other.Total
}

// PatchSet is the implementer's output for one task: a unified diff plus
// bookkeeping. Touched files are capped at MaxExpectedFiles per task.
type PatchSet struct {
	TaskID       string   `json:"task_id"`
	Diff         string   `json:"diff"`
	TouchedFiles []string `json:"touched_files"`
	Notes        string   `json:"notes,omitempty"`
}

// ValidationReport aggregates validator results across the draft pages of a
// build step.
type ValidationReport struct {
	OK           bool         `json:"ok"`
	Errors       []string     `json:"errors,omitempty"`
	Warnings     []string     `json:"warnings,omitempty"`
	ErrorDetails []Diagnostic `json:"error_details,omitempty"`
}

// CheckResult is the outcome of one deterministic check (typecheck, lint,
// unit). A check whose command is missing from the host reports Skipped and
// still counts as ok.
type CheckResult struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Output  string `json:"output,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
}

// CheckReport aggregates the typecheck/lint/unit suite.
type CheckReport struct {
	OK      bool          `json:"ok"`
	Results []CheckResult `json:"results"`
}

// ReviewDecision is the reviewer's verdict on a task's artifacts.
type ReviewDecision string

const (
	ReviewApprove        ReviewDecision = "approve"
	ReviewRequestChanges ReviewDecision = "request_changes"
)

// ReviewReport is the reviewer agent's structured output.
type ReviewReport struct {
	Decision      ReviewDecision `json:"decision"`
	Reasons       []string       `json:"reasons,omitempty"`
	RequiredFixes []string       `json:"required_fixes,omitempty"`
	Summary       string         `json:"summary,omitempty"`
}

// ReviewFeedback packages a request_changes outcome (plus an optional user
// message) as context for the next implementation attempt.
type ReviewFeedback struct {
	Reasons       []string `json:"reasons,omitempty"`
	RequiredFixes []string `json:"required_fixes,omitempty"`
	UserMessage   string   `json:"user_message,omitempty"`
}
