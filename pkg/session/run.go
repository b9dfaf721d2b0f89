package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TheSmartAz/zaoya/pkg/agent"
	"github.com/TheSmartAz/zaoya/pkg/events"
	"github.com/TheSmartAz/zaoya/pkg/models"
	"github.com/TheSmartAz/zaoya/pkg/store"
	"github.com/TheSmartAz/zaoya/pkg/validator"
	"github.com/TheSmartAz/zaoya/pkg/versions"
)

// StreamProgress runs the full multi-page build for a session, publishing
// progress on the session's event topic. Pages are processed strictly
// sequentially, main page first. Returns an error only for infrastructure
// failures; page failures are session state.
func (m *Manager) StreamProgress(ctx context.Context, sessionID string) error {
	entry, err := m.entry(sessionID)
	if err != nil {
		return err
	}
	sess := entry.sess

	doc, err := m.st.GetProductDoc(ctx, sess.ProjectID)
	if err != nil {
		return fmt.Errorf("multi-page build requires a product doc: %w", err)
	}

	plan, err := m.st.GetBuildPlan(ctx, sess.PlanID)
	if err != nil {
		return fmt.Errorf("loading build plan: %w", err)
	}
	plan.Status = models.PlanStatusRunning
	m.savePlan(ctx, sess, plan)

	branch, err := m.activeBranch(ctx, sess.ProjectID)
	if err != nil {
		return err
	}

	for _, spec := range sess.OrderedPages() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if sess.IsCancelled() {
			return m.cancelSession(ctx, sess, plan)
		}
		m.buildPage(ctx, sess, entry.design, plan, branch, doc.Content, spec)
	}

	if sess.IsCancelled() {
		return m.cancelSession(ctx, sess, plan)
	}
	return m.finishSession(ctx, sess, plan, branch)
}

// RetryPage clears one failed page and re-runs its generation steps. On a
// clean retry with no failed pages remaining, the final checks and version
// creation run again.
func (m *Manager) RetryPage(ctx context.Context, sessionID, pageID string) error {
	entry, err := m.entry(sessionID)
	if err != nil {
		return err
	}
	sess := entry.sess

	spec := sess.Page(pageID)
	if spec == nil {
		return fmt.Errorf("page %s not in session %s", pageID, sessionID)
	}
	if sess.RetryCount[pageID] >= models.MaxPageRetries {
		m.publishTask(sess, events.TaskFailed, models.PageTaskID("page-", pageID), "",
			fmt.Sprintf("page %s exhausted its %d retries", pageID, models.MaxPageRetries))
		return ErrRetryLimit
	}

	doc, err := m.st.GetProductDoc(ctx, sess.ProjectID)
	if err != nil {
		return fmt.Errorf("multi-page build requires a product doc: %w", err)
	}
	plan, err := m.st.GetBuildPlan(ctx, sess.PlanID)
	if err != nil {
		return fmt.Errorf("loading build plan: %w", err)
	}
	branch, err := m.activeBranch(ctx, sess.ProjectID)
	if err != nil {
		return err
	}

	sess.RetryCount[pageID]++
	delete(sess.Failed, pageID)
	delete(sess.LastErrors, pageID)

	plan.Status = models.PlanStatusRunning
	m.savePlan(ctx, sess, plan)

	m.buildPage(ctx, sess, entry.design, plan, branch, doc.Content, *spec)
	return m.finishSession(ctx, sess, plan, branch)
}

func (m *Manager) entry(sessionID string) (*sessionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry, nil
}

// activeBranch resolves the project's active branch, creating "main" on
// first use.
func (m *Manager) activeBranch(ctx context.Context, projectID string) (*models.Branch, error) {
	branch, err := m.st.ActiveBranch(ctx, projectID)
	if err == nil {
		return branch, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("resolving active branch: %w", err)
	}
	branch = &models.Branch{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Name:      "main",
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.st.CreateBranch(ctx, branch); err != nil {
		return nil, fmt.Errorf("creating main branch: %w", err)
	}
	return branch, nil
}

// buildPage runs the per-page micro-task pipeline: generate, style,
// validate, security-scan, save, enqueue thumbnail. Failures put the page in
// the session's failed set; they never abort the session loop.
func (m *Manager) buildPage(ctx context.Context, sess *models.BuildSession, design string, plan *models.BuildPlan, branch *models.Branch, productDoc string, spec models.PageSpec) {
	pageTask := models.PageTaskID("page-", spec.ID)
	m.setTask(ctx, sess, plan, pageTask, models.PlanTaskRunning)
	m.publishTask(sess, events.TaskStarted, pageTask, "", "Generating "+spec.Name)

	generated := make([]string, 0, len(sess.Completed))
	for _, p := range sess.Pages {
		if sess.Completed[p.ID] {
			generated = append(generated, p.Name)
		}
	}

	out, _, err := m.writer.Generate(ctx, agent.PageWriterInput{
		Page:               spec,
		ProductDoc:         productDoc,
		DesignRequirements: design,
		GeneratedPages:     generated,
		Navigation:         sess.Pages,
	})
	if err != nil {
		m.failPage(ctx, sess, plan, spec, pageTask, nil, err.Error())
		return
	}
	m.setTask(ctx, sess, plan, pageTask, models.PlanTaskDone)

	// Styling is an identity transform today; the micro-task keeps its slot
	// for future design-system passes.
	styleTask := models.PageTaskID("style-", spec.ID)
	m.setTask(ctx, sess, plan, styleTask, models.PlanTaskRunning)
	html := applyStyling(out.HTML)
	m.setTask(ctx, sess, plan, styleTask, models.PlanTaskDone)

	sess.PageHTML[spec.ID] = html
	sess.PageJS[spec.ID] = out.JS

	validateTask := models.PageTaskID("validate-", spec.ID)
	m.setTask(ctx, sess, plan, validateTask, models.PlanTaskRunning)
	htmlRes := validator.ValidateHTML(html, "pages/"+spec.ID+".html")
	if !htmlRes.OK {
		m.setTask(ctx, sess, plan, validateTask, models.PlanTaskFailed)
		m.skipRemaining(ctx, sess, plan, spec, "secure-", "save-", "thumb-")
		m.failPage(ctx, sess, plan, spec, "", htmlRes.ErrorDetails, "HTML validation failed")
		return
	}
	m.setTask(ctx, sess, plan, validateTask, models.PlanTaskDone)

	secureTask := models.PageTaskID("secure-", spec.ID)
	m.setTask(ctx, sess, plan, secureTask, models.PlanTaskRunning)
	if out.JS != "" {
		jsRes := validator.ValidateJS(out.JS, "pages/"+spec.ID+".js")
		if !jsRes.OK {
			m.setTask(ctx, sess, plan, secureTask, models.PlanTaskFailed)
			m.skipRemaining(ctx, sess, plan, spec, "save-", "thumb-")
			m.failPage(ctx, sess, plan, spec, "", jsRes.ErrorDetails, "JS security scan failed")
			return
		}
	}
	m.setTask(ctx, sess, plan, secureTask, models.PlanTaskDone)

	saveTask := models.PageTaskID("save-", spec.ID)
	m.setTask(ctx, sess, plan, saveTask, models.PlanTaskRunning)
	page := &models.ProjectPage{
		ID:        uuid.New().String(),
		ProjectID: sess.ProjectID,
		BranchID:  branch.ID,
		Slug:      spec.ID,
		Name:      spec.Name,
		Path:      pagePath(spec),
		IsHome:    spec.IsMain || spec.Path == "/",
		HTML:      html,
		JS:        out.JS,
		UpdatedAt: time.Now().UTC(),
	}
	if err := m.st.UpsertPage(ctx, page); err != nil {
		m.setTask(ctx, sess, plan, saveTask, models.PlanTaskFailed)
		m.skipRemaining(ctx, sess, plan, spec, "thumb-")
		m.failPage(ctx, sess, plan, spec, "", nil, fmt.Sprintf("saving page: %v", err))
		return
	}
	m.setTask(ctx, sess, plan, saveTask, models.PlanTaskDone)
	m.publishPreview(sess, spec.ID, page.Path)
	m.publishCard(sess, events.CardPage, spec.ID, spec.Name, map[string]any{
		"page_id": spec.ID,
		"path":    page.Path,
		"is_home": page.IsHome,
	})

	// Thumbnails are best-effort: an enqueue failure downgrades the
	// micro-task to skipped without failing the page.
	thumbTask := models.PageTaskID("thumb-", spec.ID)
	m.setTask(ctx, sess, plan, thumbTask, models.PlanTaskRunning)
	if m.thumbs == nil {
		m.setTask(ctx, sess, plan, thumbTask, models.PlanTaskSkipped)
	} else if err := m.thumbs.EnqueueThumbnail(ctx, sess.ProjectID, spec.ID); err != nil {
		m.setTask(ctx, sess, plan, thumbTask, models.PlanTaskSkipped)
	} else {
		m.setTask(ctx, sess, plan, thumbTask, models.PlanTaskDone)
	}

	delete(sess.Failed, spec.ID)
	sess.Completed[spec.ID] = true
	m.publishTask(sess, events.TaskDone, models.PageTaskID("page-", spec.ID), "", spec.Name+" generated")
}

// failPage records a page failure: failed set, diagnostics, a failed
// micro-task (when taskID is set), and a validation card.
func (m *Manager) failPage(ctx context.Context, sess *models.BuildSession, plan *models.BuildPlan, spec models.PageSpec, taskID string, diags []models.Diagnostic, message string) {
	sess.Failed[spec.ID] = true
	delete(sess.Completed, spec.ID)
	if len(diags) > 0 {
		sess.LastErrors[spec.ID] = diags
	}
	if taskID != "" {
		m.setTask(ctx, sess, plan, taskID, models.PlanTaskFailed)
	}
	m.publishTask(sess, events.TaskFailed, models.PageTaskID("page-", spec.ID), "", message)
	m.publishCard(sess, events.CardValidation, spec.ID, message, map[string]any{
		"page_id":     spec.ID,
		"retry_count": sess.RetryCount[spec.ID],
		"diagnostics": diags,
	})
}

func (m *Manager) skipRemaining(ctx context.Context, sess *models.BuildSession, plan *models.BuildPlan, spec models.PageSpec, prefixes ...string) {
	for _, prefix := range prefixes {
		m.setTask(ctx, sess, plan, models.PageTaskID(prefix, spec.ID), models.PlanTaskSkipped)
	}
}

// finishSession runs the terminal steps: failed-set short-circuit,
// cross-page link checks, version creation.
func (m *Manager) finishSession(ctx context.Context, sess *models.BuildSession, plan *models.BuildPlan, branch *models.Branch) error {
	if failed := sess.FailedPages(); len(failed) > 0 {
		m.setTask(ctx, sess, plan, models.PlanTaskProjectLinks, models.PlanTaskSkipped)
		m.setTask(ctx, sess, plan, models.PlanTaskProjectFinal, models.PlanTaskSkipped)
		plan.Status = models.PlanStatusFailed
		m.savePlan(ctx, sess, plan)
		m.recordAttempt(ctx, sess, branch, fmt.Sprintf("completed with %d failed page(s)", len(failed)))
		m.publishTask(sess, events.TaskBuildComplete, "", "failed",
			fmt.Sprintf("completed with %d failed page(s)", len(failed)))
		return nil
	}

	m.setTask(ctx, sess, plan, models.PlanTaskProjectLinks, models.PlanTaskRunning)
	diags := missingLinks(sess)
	if len(diags) > 0 {
		sess.FinalChecksFailed = true
		m.setTask(ctx, sess, plan, models.PlanTaskProjectLinks, models.PlanTaskFailed)
		m.setTask(ctx, sess, plan, models.PlanTaskProjectFinal, models.PlanTaskSkipped)
		plan.Status = models.PlanStatusFailed
		m.savePlan(ctx, sess, plan)
		m.publishCard(sess, events.CardValidation, "", "Cross-page link check failed", map[string]any{
			"diagnostics": diags,
		})
		m.recordAttemptWith(ctx, sess, branch, "cross-page link check failed", diags)
		m.publishTask(sess, events.TaskBuildComplete, "", "failed", "cross-page link check failed")
		return nil
	}
	sess.FinalChecksFailed = false
	m.setTask(ctx, sess, plan, models.PlanTaskProjectLinks, models.PlanTaskDone)
	m.setTask(ctx, sess, plan, models.PlanTaskProjectFinal, models.PlanTaskDone)

	tasksDone := make([]string, 0, len(sess.Pages))
	for _, spec := range sess.OrderedPages() {
		tasksDone = append(tasksDone, "Generated "+spec.Name)
	}
	version, err := m.versions.CreateFromProject(ctx, sess.ProjectID, branch.ID, versions.CreateOptions{
		ValidationStatus: models.ValidationPassed,
		Description:      "Build session " + sess.ID,
		TasksCompleted:   tasksDone,
	})
	if err != nil {
		return fmt.Errorf("recording version: %w", err)
	}

	main := sess.MainPage()
	mainID := ""
	if main != nil {
		mainID = main.ID
	}
	m.publishCard(sess, events.CardVersion, mainID, "Version created", version)

	plan.Status = models.PlanStatusCompleted
	m.savePlan(ctx, sess, plan)
	m.publishTask(sess, events.TaskBuildComplete, "", "done", "build complete")

	// Clean terminal state: the registry entry and the topic are done.
	m.Remove(sess.ID)
	if m.bus != nil {
		m.bus.CloseTopic(sess.ID)
	}
	return nil
}

func (m *Manager) cancelSession(ctx context.Context, sess *models.BuildSession, plan *models.BuildPlan) error {
	plan.Status = models.PlanStatusCancelled
	m.savePlan(ctx, sess, plan)
	m.publishTask(sess, events.TaskBuildComplete, "", "failed", "Build cancelled")
	if m.bus != nil {
		m.bus.CloseTopic(sess.ID)
	}
	return nil
}

// recordAttempt captures the failed build's would-be version with the
// session's accumulated diagnostics.
func (m *Manager) recordAttempt(ctx context.Context, sess *models.BuildSession, branch *models.Branch, message string) {
	var diags []models.Diagnostic
	for _, spec := range sess.Pages {
		diags = append(diags, sess.LastErrors[spec.ID]...)
	}
	m.recordAttemptWith(ctx, sess, branch, message, diags)
}

func (m *Manager) recordAttemptWith(ctx context.Context, sess *models.BuildSession, branch *models.Branch, message string, diags []models.Diagnostic) {
	attempt := &models.VersionAttempt{
		ID:          uuid.New().String(),
		ProjectID:   sess.ProjectID,
		BranchID:    branch.ID,
		Error:       message,
		Diagnostics: diags,
		Pages:       sessionContent(sess),
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.st.SaveAttempt(ctx, attempt); err != nil {
		// Best effort: the attempt is forensic data, not build state.
		m.publishTask(sess, events.TaskFailed, "", "", "recording version attempt failed")
	}
}

func sessionContent(sess *models.BuildSession) []models.PageContent {
	var pages []models.PageContent
	for _, spec := range sess.OrderedPages() {
		html, ok := sess.PageHTML[spec.ID]
		if !ok {
			continue
		}
		pages = append(pages, models.PageContent{
			PageID: spec.ID,
			Slug:   spec.ID,
			Name:   spec.Name,
			Path:   pagePath(spec),
			IsHome: spec.IsMain || spec.Path == "/",
			HTML:   html,
			JS:     sess.PageJS[spec.ID],
		})
	}
	return pages
}

// missingLinks checks that every page links to every other page with an
// exact-quoted href. Single quotes are normalized to double quotes; no URL
// normalization is applied, so "/about" and "/about/" are distinct.
func missingLinks(sess *models.BuildSession) []models.Diagnostic {
	var diags []models.Diagnostic
	pages := sess.OrderedPages()
	for _, source := range pages {
		html := strings.ReplaceAll(sess.PageHTML[source.ID], "'", `"`)
		for _, target := range pages {
			if source.ID == target.ID {
				continue
			}
			needle := `href="` + pagePath(target) + `"`
			if !strings.Contains(html, needle) {
				diags = append(diags, models.Diagnostic{
					RuleID:       "resource-missing-link",
					RuleCategory: "links",
					Path:         "pages/" + source.ID + ".html",
					Message:      fmt.Sprintf("%s missing link to %s", source.ID, pagePath(target)),
					SuggestedFix: fmt.Sprintf("add an anchor with href=%q", pagePath(target)),
					Severity:     models.SeverityCritical,
				})
			}
		}
	}
	return diags
}

// pagePath maps a spec to its stored path: the main page lives at "/".
func pagePath(spec models.PageSpec) string {
	if spec.IsMain {
		return "/"
	}
	return spec.Path
}

// applyStyling is the design-system transform hook. Identity for now.
func applyStyling(html string) string { return html }
