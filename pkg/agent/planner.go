package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/TheSmartAz/zaoya/pkg/config"
	"github.com/TheSmartAz/zaoya/pkg/llm"
	"github.com/TheSmartAz/zaoya/pkg/models"
)

const plannerSystemPrompt = `You are the build planner for a website generator.
Given a product brief, the current build plan, and the product document,
produce a build graph: an ordered list of at most 15 tasks that together
implement the page. Every task needs testable acceptance criteria and at
most 5 expected files. Dependencies must form a DAG. Respond with a single
JSON object matching the required schema and nothing else.`

// PlannerInput is the typed input for one planning call.
type PlannerInput struct {
	Brief      string
	BuildPlan  string
	ProductDoc string
}

// Planner produces a BuildGraph from the interview artifacts.
type Planner struct {
	base *BaseAgent
}

// NewPlanner creates the planner agent.
func NewPlanner(transport llm.Transport, modelCfg *config.ModelConfig) *Planner {
	return &Planner{
		base: NewBaseAgent(
			config.RolePlanner,
			plannerSystemPrompt,
			DefaultTemperature,
			compileSchema("build_graph.json", buildGraphSchemaDoc),
			transport,
			modelCfg,
		),
	}
}

// Plan runs one planning call and returns a validated BuildGraph. New
// graphs come back with every task reset to todo regardless of what the
// model claimed.
func (p *Planner) Plan(ctx context.Context, in PlannerInput) (*models.BuildGraph, *CallMeta, error) {
	if strings.TrimSpace(in.ProductDoc) == "" {
		return nil, nil, fmt.Errorf("planner requires a product doc")
	}

	var sb strings.Builder
	section(&sb, "Product brief", in.Brief)
	section(&sb, "Current build plan", in.BuildPlan)
	section(&sb, "Product document", in.ProductDoc)

	var graph models.BuildGraph
	meta, err := p.base.call(ctx, sb.String(), &graph)
	if err != nil {
		return nil, meta, err
	}

	for i := range graph.Tasks {
		graph.Tasks[i].Status = models.TaskStatusTodo
	}
	if err := graph.Validate(); err != nil {
		return nil, meta, fmt.Errorf("planner produced invalid graph: %w", err)
	}
	return &graph, meta, nil
}
