package agent

import (
	"context"
	"strings"

	"github.com/TheSmartAz/zaoya/pkg/config"
	"github.com/TheSmartAz/zaoya/pkg/llm"
	"github.com/TheSmartAz/zaoya/pkg/models"
)

const reviewerSystemPrompt = `You are the reviewer for a website generator.
Given a task, the patch that claims to complete it, the validation report,
and the check report, decide whether the task's acceptance criteria are
met. Approve only when every criterion holds and the reports are clean.
When requesting changes, list concrete required fixes. Respond with a
single JSON object matching the required schema and nothing else.`

// ReviewerInput is the typed input for one review call.
type ReviewerInput struct {
	Task       models.Task
	Patch      *models.PatchSet
	Validation *models.ValidationReport
	Checks     *models.CheckReport
}

// Reviewer judges task artifacts against acceptance criteria.
type Reviewer struct {
	base *BaseAgent
}

// NewReviewer creates the reviewer agent.
func NewReviewer(transport llm.Transport, modelCfg *config.ModelConfig) *Reviewer {
	return &Reviewer{
		base: NewBaseAgent(
			config.RoleReviewer,
			reviewerSystemPrompt,
			DefaultTemperature,
			compileSchema("review.json", reviewSchemaDoc),
			transport,
			modelCfg,
		),
	}
}

// Review runs one review call.
func (r *Reviewer) Review(ctx context.Context, in ReviewerInput) (*models.ReviewReport, *CallMeta, error) {
	var sb strings.Builder
	section(&sb, "Task", mustJSON(in.Task))
	if in.Patch != nil {
		section(&sb, "Patch", mustJSON(in.Patch))
	}
	if in.Validation != nil {
		section(&sb, "Validation report", mustJSON(in.Validation))
	}
	if in.Checks != nil {
		section(&sb, "Check report", mustJSON(in.Checks))
	}

	var report models.ReviewReport
	meta, err := r.base.call(ctx, sb.String(), &report)
	if err != nil {
		return nil, meta, err
	}
	return &report, meta, nil
}
