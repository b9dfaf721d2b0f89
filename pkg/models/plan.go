package models

import (
	"fmt"
	"time"
)

// PlanStatus is the lifecycle status of a BuildPlan row.
type PlanStatus string

const (
	PlanStatusPending   PlanStatus = "PENDING"
	PlanStatusRunning   PlanStatus = "RUNNING"
	PlanStatusCompleted PlanStatus = "COMPLETED"
	PlanStatusFailed    PlanStatus = "FAILED"
	PlanStatusCancelled PlanStatus = "CANCELLED"
)

// PlanTaskStatus is the status of one micro-task in a BuildPlan.
type PlanTaskStatus string

const (
	PlanTaskPending PlanTaskStatus = "pending"
	PlanTaskRunning PlanTaskStatus = "running"
	PlanTaskDone    PlanTaskStatus = "done"
	PlanTaskFailed  PlanTaskStatus = "failed"
	PlanTaskSkipped PlanTaskStatus = "skipped"
)

// PlanTask is one UI-facing micro-task in a BuildPlan.
type PlanTask struct {
	ID     string         `json:"id"`
	Label  string         `json:"label"`
	Status PlanTaskStatus `json:"status"`
}

// BuildPlan is the durable, UI-facing projection of a session's task
// progress. The orchestrator mutates task statuses as micro-tasks advance
// and publishes plan_update snapshots on every change.
type BuildPlan struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	ProjectID string     `json:"project_id"`
	Status    PlanStatus `json:"status"`
	Tasks     []PlanTask `json:"tasks"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Project-level micro-task ids.
const (
	PlanTaskProjectPlan  = "project-plan"
	PlanTaskProjectDoc   = "project-doc"
	PlanTaskProjectLinks = "project-links"
	PlanTaskProjectFinal = "project-final"
)

// Per-page micro-task id prefixes, in execution order.
var pageTaskPrefixes = [...]struct {
	prefix string
	label  string
}{
	{"page-", "Generate %s"},
	{"style-", "Style %s"},
	{"validate-", "Validate %s"},
	{"secure-", "Security checks for %s"},
	{"save-", "Save %s"},
	{"thumb-", "Thumbnail for %s"},
}

// PageTaskID builds a per-page micro-task id such as "page-home".
func PageTaskID(prefix, pageID string) string { return prefix + pageID }

// ExpandPlanTasks generates the fixed micro-task list for a session: six
// tasks per page plus the four project-level tasks. project-plan and
// project-doc are created done (the interview already produced both).
func ExpandPlanTasks(pages []PageSpec) []PlanTask {
	tasks := []PlanTask{
		{ID: PlanTaskProjectPlan, Label: "Plan project", Status: PlanTaskDone},
		{ID: PlanTaskProjectDoc, Label: "Product document", Status: PlanTaskDone},
	}
	for _, p := range pages {
		for _, pt := range pageTaskPrefixes {
			tasks = append(tasks, PlanTask{
				ID:     PageTaskID(pt.prefix, p.ID),
				Label:  fmt.Sprintf(pt.label, p.Name),
				Status: PlanTaskPending,
			})
		}
	}
	tasks = append(tasks,
		PlanTask{ID: PlanTaskProjectLinks, Label: "Cross-page link checks", Status: PlanTaskPending},
		PlanTask{ID: PlanTaskProjectFinal, Label: "Final checks", Status: PlanTaskPending},
	)
	return tasks
}

// Task returns the plan task with the given id, or nil.
func (p *BuildPlan) Task(id string) *PlanTask {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

// Counts returns (done, total) across the plan's tasks. Skipped tasks count
// as done for progress display.
func (p *BuildPlan) Counts() (done, total int) {
	for i := range p.Tasks {
		switch p.Tasks[i].Status {
		case PlanTaskDone, PlanTaskSkipped:
			done++
		}
	}
	return done, len(p.Tasks)
}
