package models

import "fmt"

// TaskStatus is the lifecycle status of a single build task.
type TaskStatus string

const (
	TaskStatusTodo    TaskStatus = "todo"
	TaskStatusDoing   TaskStatus = "doing"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusBlocked TaskStatus = "blocked"
)

// MaxExpectedFiles caps how many files a single task may touch.
const MaxExpectedFiles = 5

// MaxGraphTasks caps how many tasks the planner may emit.
const MaxGraphTasks = 15

// Task is one unit of work in a BuildGraph.
type Task struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Goal               string     `json:"goal"`
	AcceptanceCriteria []string   `json:"acceptance_criteria"`
	DependsOn          []string   `json:"depends_on,omitempty"`
	ExpectedFiles      []string   `json:"expected_files,omitempty"`
	Status             TaskStatus `json:"status"`
}

// BuildGraph is the planner's output: an ordered task list whose dependency
// relation must form a DAG.
type BuildGraph struct {
	Tasks []Task `json:"tasks"`
}

// Task returns the task with the given id, or nil.
func (g *BuildGraph) Task(id string) *Task {
	for i := range g.Tasks {
		if g.Tasks[i].ID == id {
			return &g.Tasks[i]
		}
	}
	return nil
}

// NextTask selects the first todo task whose dependencies are all done.
// Returns nil when no task is schedulable (all done, or remaining tasks are
// blocked or waiting on incomplete dependencies).
func (g *BuildGraph) NextTask() *Task {
	for i := range g.Tasks {
		t := &g.Tasks[i]
		if t.Status != TaskStatusTodo {
			continue
		}
		if g.depsDone(t) {
			return t
		}
	}
	return nil
}

// AllDone reports whether every task in the graph is done.
func (g *BuildGraph) AllDone() bool {
	for i := range g.Tasks {
		if g.Tasks[i].Status != TaskStatusDone {
			return false
		}
	}
	return true
}

// Validate checks structural invariants: task count within budget, unique
// ids, dependencies resolvable, per-task file budget, and acyclicity.
func (g *BuildGraph) Validate() error {
	if len(g.Tasks) == 0 {
		return fmt.Errorf("build graph has no tasks")
	}
	if len(g.Tasks) > MaxGraphTasks {
		return fmt.Errorf("build graph has %d tasks, max is %d", len(g.Tasks), MaxGraphTasks)
	}
	seen := make(map[string]bool, len(g.Tasks))
	for i := range g.Tasks {
		t := &g.Tasks[i]
		if t.ID == "" {
			return fmt.Errorf("task %d has empty id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
		if len(t.ExpectedFiles) > MaxExpectedFiles {
			return fmt.Errorf("task %q expects %d files, max is %d", t.ID, len(t.ExpectedFiles), MaxExpectedFiles)
		}
	}
	for i := range g.Tasks {
		for _, dep := range g.Tasks[i].DependsOn {
			if !seen[dep] {
				return fmt.Errorf("task %q depends on unknown task %q", g.Tasks[i].ID, dep)
			}
		}
	}
	return g.checkAcyclic()
}

// checkAcyclic runs an iterative three-color DFS over the dependency edges.
func (g *BuildGraph) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Tasks))
	deps := make(map[string][]string, len(g.Tasks))
	for i := range g.Tasks {
		deps[g.Tasks[i].ID] = g.Tasks[i].DependsOn
	}

	for i := range g.Tasks {
		start := g.Tasks[i].ID
		if color[start] != white {
			continue
		}
		// Explicit stack instead of recursion; frames carry the next child index.
		type frame struct {
			id   string
			next int
		}
		stack := []frame{{id: start}}
		color[start] = gray
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(deps[top.id]) {
				child := deps[top.id][top.next]
				top.next++
				switch color[child] {
				case gray:
					return fmt.Errorf("dependency cycle through task %q", child)
				case white:
					color[child] = gray
					stack = append(stack, frame{id: child})
				}
				continue
			}
			color[top.id] = black
			stack = stack[:len(stack)-1]
		}
	}
	return nil
}

func (g *BuildGraph) depsDone(t *Task) bool {
	for _, dep := range t.DependsOn {
		d := g.Task(dep)
		if d == nil || d.Status != TaskStatusDone {
			return false
		}
	}
	return true
}
