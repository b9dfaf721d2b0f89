// Package build implements the single-page build orchestrator: a
// deterministic state machine advanced one phase step per call, persisting
// BuildState after every transition.
package build

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/TheSmartAz/zaoya/pkg/agent"
	"github.com/TheSmartAz/zaoya/pkg/events"
	"github.com/TheSmartAz/zaoya/pkg/models"
	"github.com/TheSmartAz/zaoya/pkg/store"
	"github.com/TheSmartAz/zaoya/pkg/tools"
	"github.com/TheSmartAz/zaoya/pkg/validator"
)

// Orchestrator drives single-page builds. One instance serves many builds;
// all build-scoped state lives in the persisted BuildState row.
type Orchestrator struct {
	states store.BuildStateStore
	docs   store.ProductDocStore

	repo        *tools.RepoTools
	checks      *tools.CheckTools
	snapshotter tools.Snapshotter

	planner     *agent.Planner
	implementer *agent.Implementer
	reviewer    *agent.Reviewer

	bus *events.Bus
}

// Config wires an orchestrator.
type Config struct {
	States      store.BuildStateStore
	Docs        store.ProductDocStore
	Repo        *tools.RepoTools
	Checks      *tools.CheckTools
	Snapshotter tools.Snapshotter
	Planner     *agent.Planner
	Implementer *agent.Implementer
	Reviewer    *agent.Reviewer
	Bus         *events.Bus
}

// New creates an orchestrator. A nil snapshotter defaults to the no-op.
func New(cfg Config) *Orchestrator {
	if cfg.Snapshotter == nil {
		cfg.Snapshotter = tools.NopSnapshotter{}
	}
	return &Orchestrator{
		states:      cfg.States,
		docs:        cfg.Docs,
		repo:        cfg.Repo,
		checks:      cfg.Checks,
		snapshotter: cfg.Snapshotter,
		planner:     cfg.Planner,
		implementer: cfg.Implementer,
		reviewer:    cfg.Reviewer,
		bus:         cfg.Bus,
	}
}

// StartBuild creates and persists a fresh build in the planning phase.
func (o *Orchestrator) StartBuild(ctx context.Context, projectID, brief string, mode models.StepMode) (*models.BuildState, error) {
	if mode == "" {
		mode = models.ModeAuto
	}
	state := &models.BuildState{
		BuildID:   uuid.New().String(),
		ProjectID: projectID,
		Brief:     brief,
		Phase:     models.PhasePlanning,
		Mode:      mode,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	state.AppendHistory("build created")
	if err := o.states.SaveBuildState(ctx, state); err != nil {
		return nil, fmt.Errorf("persisting new build: %w", err)
	}
	return state, nil
}

// Step advances the build by exactly one phase transition and persists the
// result. Terminal phases return the state unchanged.
func (o *Orchestrator) Step(ctx context.Context, buildID string) (*models.BuildState, error) {
	state, err := o.states.GetBuildState(ctx, buildID)
	if err != nil {
		return nil, err
	}
	if state.Phase.Terminal() {
		return state, nil
	}
	if err := checkMode(state); err != nil {
		return state, err
	}

	switch state.Phase {
	case models.PhasePlanning:
		err = o.stepPlanning(ctx, state)
	case models.PhaseImplementing:
		err = o.stepImplementing(ctx, state)
	case models.PhaseVerifying:
		err = o.stepVerifying(ctx, state)
	case models.PhaseReviewing:
		err = o.stepReviewing(ctx, state)
	case models.PhaseIterating:
		err = o.stepIterating(state)
	default:
		err = fmt.Errorf("build %s in unknown phase %s", buildID, state.Phase)
	}
	if err != nil {
		return state, err
	}

	state.UpdatedAt = time.Now().UTC()
	if serr := o.states.SaveBuildState(ctx, state); serr != nil {
		return state, fmt.Errorf("persisting build state: %w", serr)
	}
	return state, nil
}

// Abort transitions the build to aborted and persists.
func (o *Orchestrator) Abort(ctx context.Context, buildID string) (*models.BuildState, error) {
	state, err := o.states.GetBuildState(ctx, buildID)
	if err != nil {
		return nil, err
	}
	if state.Phase.Terminal() {
		return state, nil
	}
	state.Phase = models.PhaseAborted
	state.AppendHistory("build aborted by caller")
	state.UpdatedAt = time.Now().UTC()
	if err := o.states.SaveBuildState(ctx, state); err != nil {
		return state, fmt.Errorf("persisting aborted build: %w", err)
	}
	o.publishTask(state, events.TaskBuildComplete, "failed", "build aborted")
	return state, nil
}

// checkMode rejects steps whose phase is outside the mode's remit. Auto
// accepts everything.
func checkMode(state *models.BuildState) error {
	switch state.Mode {
	case models.ModeAuto, "":
		return nil
	case models.ModePlanOnly:
		if state.Phase != models.PhasePlanning {
			return fmt.Errorf("mode %s cannot advance phase %s", state.Mode, state.Phase)
		}
	case models.ModeImplementOnly:
		if state.Phase != models.PhaseImplementing && state.Phase != models.PhaseIterating {
			return fmt.Errorf("mode %s cannot advance phase %s", state.Mode, state.Phase)
		}
	case models.ModeVerifyOnly:
		if state.Phase != models.PhaseVerifying {
			return fmt.Errorf("mode %s cannot advance phase %s", state.Mode, state.Phase)
		}
	}
	return nil
}

func (o *Orchestrator) stepPlanning(ctx context.Context, state *models.BuildState) error {
	if state.Graph == nil {
		doc := ""
		if o.docs != nil {
			if d, err := o.docs.GetProductDoc(ctx, state.ProjectID); err == nil {
				doc = d.Content
			}
		}
		o.publishTask(state, events.TaskAgentThinking, "", "planner drafting build graph")
		graph, meta, err := o.planner.Plan(ctx, agent.PlannerInput{
			Brief:      state.Brief,
			ProductDoc: doc,
		})
		if meta != nil {
			state.RecordTokens("planner", meta.TokenUsage)
		}
		if err != nil {
			state.Phase = models.PhaseError
			state.AppendHistory(fmt.Sprintf("planner failed: %v", err))
			return nil
		}
		state.Graph = graph
		state.AppendHistory(fmt.Sprintf("planner produced %d tasks", len(graph.Tasks)))
		o.publishCard(state, events.CardBuildPlan, "Build plan", graph)
	}

	if state.Mode == models.ModePlanOnly {
		state.AppendHistory("plan_only mode, stopping after planning")
		return nil
	}

	next := state.Graph.NextTask()
	if next == nil {
		if state.Graph.AllDone() {
			state.Phase = models.PhaseReady
			state.AppendHistory("all tasks done")
			o.publishTask(state, events.TaskBuildComplete, "done", "build complete")
			return nil
		}
		state.Phase = models.PhaseError
		state.AppendHistory("no schedulable task remains")
		o.publishTask(state, events.TaskBuildComplete, "failed", "no schedulable task remains")
		return nil
	}

	next.Status = models.TaskStatusDoing
	state.CurrentTaskID = next.ID
	state.Phase = models.PhaseImplementing
	state.AppendHistory(fmt.Sprintf("task %s selected", next.ID))
	o.publishTask(state, events.TaskStarted, "", next.Title)
	return nil
}

func (o *Orchestrator) stepImplementing(ctx context.Context, state *models.BuildState) error {
	task := state.Graph.Task(state.CurrentTaskID)
	if task == nil {
		return fmt.Errorf("build %s: current task %s not in graph", state.BuildID, state.CurrentTaskID)
	}

	files, err := o.repo.ReadFiles(task.ExpectedFiles, models.MaxExpectedFiles)
	if err != nil {
		return fmt.Errorf("reading expected files: %w", err)
	}

	o.publishTask(state, events.TaskAgentThinking, "", "implementer drafting patch")
	patch, meta, err := o.implementer.Implement(ctx, agent.ImplementerInput{
		Task:        *task,
		StateDigest: o.digest(state),
		Files:       files,
		Feedback:    state.Feedback,
	})
	if meta != nil {
		state.RecordTokens("implementer", meta.TokenUsage)
	}
	if err != nil {
		task.Status = models.TaskStatusBlocked
		state.Phase = models.PhaseError
		state.AppendHistory(fmt.Sprintf("implementer failed on task %s: %v", task.ID, err))
		o.publishTask(state, events.TaskFailed, "", err.Error())
		return nil
	}

	o.publishTask(state, events.TaskToolCall, "", "applying patch")
	result := o.repo.ApplyPatch(patch.Diff)
	if !result.Applied {
		task.Status = models.TaskStatusBlocked
		state.Phase = models.PhaseError
		state.AppendHistory(fmt.Sprintf("patch for task %s rejected: %s",
			task.ID, strings.Join(result.Errors, "; ")))
		o.publishTask(state, events.TaskFailed, "", "patch did not apply")
		return nil
	}

	state.LastPatch = patch
	state.Feedback = nil
	if err := o.snapshotter.Snapshot(ctx, state.BuildID, "after "+task.ID); err != nil {
		slog.Warn("Snapshot failed", "build_id", state.BuildID, "error", err)
	}
	state.Phase = models.PhaseVerifying
	state.AppendHistory(fmt.Sprintf("patch applied, touched %s",
		strings.Join(result.Touched, ", ")))
	return nil
}

// stepVerifying runs the validator over every current draft page, not just
// the files the latest patch touched, concurrently with the deterministic
// check suite. Drafts left behind by earlier tasks must stay valid too.
func (o *Orchestrator) stepVerifying(ctx context.Context, state *models.BuildState) error {
	drafts, err := o.repo.ListFiles(".html", ".js")
	if err != nil {
		return fmt.Errorf("enumerating draft files: %w", err)
	}

	var validation models.ValidationReport
	var checks models.CheckReport

	o.publishTask(state, events.TaskToolCall, "", "running validator and check suite")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		validation = o.validateFiles(drafts)
		return nil
	})
	g.Go(func() error {
		checks = o.checks.All(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	state.LastValidation = &validation
	state.LastChecks = &checks
	state.Phase = models.PhaseReviewing
	state.AppendHistory(fmt.Sprintf("verification: validation ok=%t checks ok=%t",
		validation.OK, checks.OK))
	if !validation.OK {
		o.publishCard(state, events.CardValidation, "Validation findings", validation.ErrorDetails)
	}
	return nil
}

func (o *Orchestrator) validateFiles(paths []string) models.ValidationReport {
	report := models.ValidationReport{OK: true}
	for _, path := range paths {
		content, ok, err := o.repo.ReadFile(path)
		if err != nil {
			// An unreadable draft cannot be declared valid.
			report.OK = false
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", path, err))
			slog.Warn("Reading draft file for validation failed", "path", path, "error", err)
			continue
		}
		if !ok {
			continue
		}
		switch {
		case strings.HasSuffix(path, ".html"):
			res := validator.ValidateHTML(content, path)
			report.Errors = append(report.Errors, res.Errors...)
			report.Warnings = append(report.Warnings, res.Warnings...)
			report.ErrorDetails = append(report.ErrorDetails, res.ErrorDetails...)
			if !res.OK {
				report.OK = false
			}
		case strings.HasSuffix(path, ".js"):
			res := validator.ValidateJS(content, path)
			report.Errors = append(report.Errors, res.Errors...)
			report.ErrorDetails = append(report.ErrorDetails, res.ErrorDetails...)
			if !res.OK {
				report.OK = false
			}
		}
	}
	return report
}

func (o *Orchestrator) stepReviewing(ctx context.Context, state *models.BuildState) error {
	task := state.Graph.Task(state.CurrentTaskID)
	if task == nil {
		return fmt.Errorf("build %s: current task %s not in graph", state.BuildID, state.CurrentTaskID)
	}

	o.publishTask(state, events.TaskAgentThinking, "", "reviewer assessing patch")
	review, meta, err := o.reviewer.Review(ctx, agent.ReviewerInput{
		Task:       *task,
		Patch:      state.LastPatch,
		Validation: state.LastValidation,
		Checks:     state.LastChecks,
	})
	if meta != nil {
		state.RecordTokens("reviewer", meta.TokenUsage)
	}
	if err != nil {
		state.Phase = models.PhaseError
		state.AppendHistory(fmt.Sprintf("reviewer failed on task %s: %v", task.ID, err))
		return nil
	}
	state.LastReview = review

	if review.Decision == models.ReviewApprove {
		task.Status = models.TaskStatusDone
		state.AppendHistory(fmt.Sprintf("task %s approved", task.ID))
		o.publishTask(state, events.TaskDone, "", task.Title)

		if state.Graph.AllDone() {
			state.Phase = models.PhaseReady
			state.CurrentTaskID = ""
			state.AppendHistory("all tasks done")
			o.publishTask(state, events.TaskBuildComplete, "done", "build complete")
			return nil
		}
		state.CurrentTaskID = ""
		state.Phase = models.PhasePlanning
		return nil
	}

	state.Phase = models.PhaseIterating
	state.AppendHistory(fmt.Sprintf("task %s needs changes: %s",
		task.ID, strings.Join(review.Reasons, "; ")))
	return nil
}

// stepIterating packages the reviewer's feedback and re-enters
// implementation with it as context.
func (o *Orchestrator) stepIterating(state *models.BuildState) error {
	feedback := &models.ReviewFeedback{}
	if state.LastReview != nil {
		feedback.Reasons = state.LastReview.Reasons
		feedback.RequiredFixes = state.LastReview.RequiredFixes
	}
	if state.Feedback != nil && state.Feedback.UserMessage != "" {
		feedback.UserMessage = state.Feedback.UserMessage
	}
	state.Feedback = feedback
	state.Phase = models.PhaseImplementing
	state.AppendHistory("re-entering implementation with reviewer feedback")
	return nil
}

// digest summarizes the build for the implementer's context window.
func (o *Orchestrator) digest(state *models.BuildState) string {
	done := 0
	for i := range state.Graph.Tasks {
		if state.Graph.Tasks[i].Status == models.TaskStatusDone {
			done++
		}
	}
	return fmt.Sprintf("build %s phase=%s tasks_done=%d/%d current=%s",
		state.BuildID, state.Phase, done, len(state.Graph.Tasks), state.CurrentTaskID)
}

func (o *Orchestrator) publishTask(state *models.BuildState, taskType, status, message string) {
	if o.bus == nil {
		return
	}
	ev, err := events.NewEvent(events.EventTask, events.TaskPayload{
		Type:      taskType,
		SessionID: state.BuildID,
		ProjectID: state.ProjectID,
		TaskID:    state.CurrentTaskID,
		Status:    status,
		Message:   message,
		Timestamp: events.Now(),
	})
	if err != nil {
		return
	}
	o.bus.Publish(state.BuildID, ev)
}

func (o *Orchestrator) publishCard(state *models.BuildState, cardType, title string, data any) {
	if o.bus == nil {
		return
	}
	ev, err := events.NewEvent(events.EventCard, events.CardPayload{
		CardType:  cardType,
		SessionID: state.BuildID,
		ProjectID: state.ProjectID,
		Title:     title,
		Data:      data,
		Timestamp: events.Now(),
	})
	if err != nil {
		return
	}
	o.bus.Publish(state.BuildID, ev)
}
