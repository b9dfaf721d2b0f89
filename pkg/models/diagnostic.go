package models

// Severity classifies a validation diagnostic.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Diagnostic is one structured finding from the validator. Rule ids are
// stable and safe to key client behavior on.
type Diagnostic struct {
	RuleID       string   `json:"ruleId"`
	RuleCategory string   `json:"ruleCategory"`
	Path         string   `json:"path,omitempty"`
	Line         int      `json:"line"`
	Excerpt      string   `json:"excerpt"`
	Message      string   `json:"message"`
	SuggestedFix string   `json:"suggestedFix,omitempty"`
	Severity     Severity `json:"severity"`
}
