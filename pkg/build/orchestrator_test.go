package build

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheSmartAz/zaoya/pkg/agent"
	"github.com/TheSmartAz/zaoya/pkg/config"
	"github.com/TheSmartAz/zaoya/pkg/events"
	"github.com/TheSmartAz/zaoya/pkg/llm"
	"github.com/TheSmartAz/zaoya/pkg/models"
	"github.com/TheSmartAz/zaoya/pkg/store/memory"
	"github.com/TheSmartAz/zaoya/pkg/tools"
)

type fixture struct {
	orch *Orchestrator
	st   *memory.Memory
	repo *tools.RepoTools
	mock *llm.Mock
	bus  *events.Bus
}

func newFixture(t *testing.T, mock *llm.Mock, files map[string]string) *fixture {
	t.Helper()
	dir := t.TempDir()
	for path, content := range files {
		abs := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}

	st := memory.New()
	require.NoError(t, st.SaveProductDoc(context.Background(), &models.ProductDoc{
		ProjectID: "proj-1",
		Content:   "A single-page portfolio site.",
	}))

	repo := tools.NewRepoTools(dir)
	modelCfg := &config.ModelConfig{Default: "gpt-4o", MockEnabled: true}
	bus := events.NewBus()
	orch := New(Config{
		States:      st,
		Docs:        st,
		Repo:        repo,
		Checks:      tools.NewCheckTools(dir, []tools.CheckCommand{{Name: "noop", Argv: []string{"true"}}}),
		Planner:     agent.NewPlanner(mock, modelCfg),
		Implementer: agent.NewImplementer(mock, modelCfg),
		Reviewer:    agent.NewReviewer(mock, modelCfg),
		Bus:         bus,
	})
	return &fixture{orch: orch, st: st, repo: repo, mock: mock, bus: bus}
}

func scriptJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func graphScript(t *testing.T) string {
	return scriptJSON(t, map[string]any{
		"tasks": []map[string]any{{
			"id":                  "t1",
			"title":               "Build home page",
			"goal":                "Create the hero section",
			"acceptance_criteria": []string{"hero heading renders"},
			"expected_files":      []string{"pages/home.html"},
		}},
	})
}

func patchScript(t *testing.T, oldLine, newLine string) string {
	diff := "--- a/pages/home.html\n" +
		"+++ b/pages/home.html\n" +
		"@@ -1,3 +1,3 @@\n" +
		" <div>\n" +
		"-" + oldLine + "\n" +
		"+" + newLine + "\n" +
		" </div>\n"
	return scriptJSON(t, map[string]any{
		"task_id":       "t1",
		"diff":          diff,
		"touched_files": []string{"pages/home.html"},
	})
}

func reviewScript(t *testing.T, decision string, fixes ...string) string {
	return scriptJSON(t, map[string]any{
		"decision":       decision,
		"reasons":        []string{"see fixes"},
		"required_fixes": fixes,
	})
}

// stepUntilTerminal drives the build with a step cap so a broken transition
// loop fails fast instead of hanging the test.
func stepUntilTerminal(t *testing.T, f *fixture, buildID string, maxSteps int) *models.BuildState {
	t.Helper()
	var state *models.BuildState
	var err error
	for i := 0; i < maxSteps; i++ {
		state, err = f.orch.Step(context.Background(), buildID)
		require.NoError(t, err)
		if state.Phase.Terminal() {
			return state
		}
	}
	t.Fatalf("build did not terminate within %d steps, phase %s", maxSteps, state.Phase)
	return nil
}

const homeHTML = "<div>\n<h1>Old</h1>\n</div>\n"

func TestBuildHappyPath(t *testing.T) {
	mock := llm.NewMock(
		graphScript(t),
		patchScript(t, "<h1>Old</h1>", "<h1>Home</h1>"),
		reviewScript(t, "approve"),
	)
	f := newFixture(t, mock, map[string]string{"pages/home.html": homeHTML})

	state, err := f.orch.StartBuild(context.Background(), "proj-1", "build me a portfolio", models.ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, models.PhasePlanning, state.Phase)

	sub := f.bus.Subscribe(state.BuildID, 16)
	defer sub.Close()

	// planning: plan + select task.
	state, err = f.orch.Step(context.Background(), state.BuildID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseImplementing, state.Phase)
	assert.Equal(t, "t1", state.CurrentTaskID)
	require.NotNil(t, state.Graph)
	assert.Equal(t, models.TaskStatusDoing, state.Graph.Task("t1").Status)

	// implementing: patch applied.
	state, err = f.orch.Step(context.Background(), state.BuildID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseVerifying, state.Phase)
	content, ok, err := f.repo.ReadFile("pages/home.html")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, content, "<h1>Home</h1>")

	// verifying: clean page, passing checks.
	state, err = f.orch.Step(context.Background(), state.BuildID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseReviewing, state.Phase)
	require.NotNil(t, state.LastValidation)
	assert.True(t, state.LastValidation.OK)
	require.NotNil(t, state.LastChecks)
	assert.True(t, state.LastChecks.OK)

	// reviewing: approve, all done.
	state, err = f.orch.Step(context.Background(), state.BuildID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseReady, state.Phase)
	assert.Equal(t, models.TaskStatusDone, state.Graph.Task("t1").Status)

	// One call each: planner, implementer, reviewer.
	assert.Len(t, mock.Calls(), 3)
	assert.Equal(t, models.TokenUsage{Prompt: 30, Completion: 60, Total: 90}, state.TokenUsage)
	assert.Equal(t, models.TokenUsage{Prompt: 10, Completion: 20, Total: 30}, state.AgentTokens["planner"])

	// Persisted state matches the returned one.
	stored, err := f.st.GetBuildState(context.Background(), state.BuildID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseReady, stored.Phase)
	assert.NotEmpty(t, stored.History)

	var names []string
	var sawComplete, sawThinking, sawToolCall bool
	for len(sub.Events()) > 0 {
		ev := <-sub.Events()
		names = append(names, ev.Name)
		if ev.Name == events.EventTask {
			var p events.TaskPayload
			require.NoError(t, json.Unmarshal(ev.Payload, &p))
			switch p.Type {
			case events.TaskBuildComplete:
				sawComplete = true
				assert.Equal(t, "done", p.Status)
			case events.TaskAgentThinking:
				sawThinking = true
			case events.TaskToolCall:
				sawToolCall = true
			}
		}
	}
	assert.Contains(t, names, events.EventCard)
	assert.Contains(t, names, events.EventTask)
	assert.True(t, sawComplete, "missing build_complete event")
	assert.True(t, sawThinking, "missing agent_thinking event")
	assert.True(t, sawToolCall, "missing tool_call event")
}

func TestBuildRequestChangesLoop(t *testing.T) {
	mock := llm.NewMock(
		graphScript(t),
		patchScript(t, "<h1>Old</h1>", "<h1>Home</h1>"),
		reviewScript(t, "request_changes", "use the site name in the heading"),
		patchScript(t, "<h1>Home</h1>", "<h1>Acme Portfolio</h1>"),
		reviewScript(t, "approve"),
	)
	f := newFixture(t, mock, map[string]string{"pages/home.html": homeHTML})

	state, err := f.orch.StartBuild(context.Background(), "proj-1", "portfolio", models.ModeAuto)
	require.NoError(t, err)

	state = stepUntilTerminal(t, f, state.BuildID, 20)
	assert.Equal(t, models.PhaseReady, state.Phase)

	content, ok, err := f.repo.ReadFile("pages/home.html")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, content, "Acme Portfolio")

	// The second implementer call carried the reviewer's feedback.
	calls := mock.Calls()
	require.Len(t, calls, 5)
	secondImpl := calls[3].Messages[1].Content
	assert.Contains(t, secondImpl, "Reviewer feedback")
	assert.Contains(t, secondImpl, "use the site name in the heading")

	// Feedback is consumed, not left dangling on the terminal state.
	assert.Nil(t, state.Feedback)
}

func TestBuildPatchRejectionIsTerminal(t *testing.T) {
	badPatch := scriptJSON(t, map[string]any{
		"task_id": "t1",
		"diff": "--- a/pages/home.html\n+++ b/pages/home.html\n" +
			"@@ -1,1 +1,1 @@\n-<p>not the real content</p>\n+<p>x</p>\n",
		"touched_files": []string{"pages/home.html"},
	})
	mock := llm.NewMock(graphScript(t), badPatch)
	f := newFixture(t, mock, map[string]string{"pages/home.html": homeHTML})

	state, err := f.orch.StartBuild(context.Background(), "proj-1", "portfolio", models.ModeAuto)
	require.NoError(t, err)

	_, err = f.orch.Step(context.Background(), state.BuildID)
	require.NoError(t, err)
	state, err = f.orch.Step(context.Background(), state.BuildID)
	require.NoError(t, err)

	assert.Equal(t, models.PhaseError, state.Phase)
	assert.Equal(t, models.TaskStatusBlocked, state.Graph.Task("t1").Status)

	// The file is untouched: writes are all-or-nothing.
	content, ok, err := f.repo.ReadFile("pages/home.html")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, homeHTML, content)
}

func TestBuildImplementerFailureIsTerminal(t *testing.T) {
	mock := llm.NewMock(graphScript(t))
	mock.EnqueueError(assert.AnError)
	f := newFixture(t, mock, map[string]string{"pages/home.html": homeHTML})

	state, err := f.orch.StartBuild(context.Background(), "proj-1", "portfolio", models.ModeAuto)
	require.NoError(t, err)

	_, err = f.orch.Step(context.Background(), state.BuildID)
	require.NoError(t, err)
	state, err = f.orch.Step(context.Background(), state.BuildID)
	require.NoError(t, err)

	assert.Equal(t, models.PhaseError, state.Phase)
	assert.Equal(t, models.TaskStatusBlocked, state.Graph.Task("t1").Status)

	// Terminal states do not advance further.
	again, err := f.orch.Step(context.Background(), state.BuildID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseError, again.Phase)
}

func TestBuildValidationFindingsReachReviewer(t *testing.T) {
	// The patch introduces a forbidden inline handler; verification must
	// surface it and the reviewer (scripted) rejects, then a clean patch
	// lands.
	mock := llm.NewMock(
		graphScript(t),
		patchScript(t, "<h1>Old</h1>", `<h1 onclick="boom()">Home</h1>`),
		reviewScript(t, "request_changes", "remove the inline handler"),
		patchScript(t, `<h1 onclick="boom()">Home</h1>`, "<h1>Home</h1>"),
		reviewScript(t, "approve"),
	)
	f := newFixture(t, mock, map[string]string{"pages/home.html": homeHTML})

	state, err := f.orch.StartBuild(context.Background(), "proj-1", "portfolio", models.ModeAuto)
	require.NoError(t, err)
	sub := f.bus.Subscribe(state.BuildID, 16)
	defer sub.Close()

	// planning, implementing, verifying.
	for i := 0; i < 3; i++ {
		state, err = f.orch.Step(context.Background(), state.BuildID)
		require.NoError(t, err)
	}
	assert.Equal(t, models.PhaseReviewing, state.Phase)
	require.NotNil(t, state.LastValidation)
	assert.False(t, state.LastValidation.OK)

	var sawValidationCard bool
	for len(sub.Events()) > 0 {
		ev := <-sub.Events()
		if ev.Name != events.EventCard {
			continue
		}
		var p events.CardPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &p))
		if p.CardType == events.CardValidation {
			sawValidationCard = true
		}
	}
	assert.True(t, sawValidationCard, "missing validation card")

	state = stepUntilTerminal(t, f, state.BuildID, 20)
	assert.Equal(t, models.PhaseReady, state.Phase)
	assert.True(t, state.LastValidation.OK)
}

func TestBuildValidationCoversUntouchedDrafts(t *testing.T) {
	// A draft left behind outside the current task must still be validated:
	// the patch only touches home, about carries the violation.
	mock := llm.NewMock(
		graphScript(t),
		patchScript(t, "<h1>Old</h1>", "<h1>Home</h1>"),
	)
	f := newFixture(t, mock, map[string]string{
		"pages/home.html":  homeHTML,
		"pages/about.html": "<div>\n<script>alert(1)</script>\n</div>\n",
	})

	state, err := f.orch.StartBuild(context.Background(), "proj-1", "portfolio", models.ModeAuto)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		state, err = f.orch.Step(context.Background(), state.BuildID)
		require.NoError(t, err)
	}
	require.Equal(t, models.PhaseReviewing, state.Phase)

	require.NotNil(t, state.LastValidation)
	assert.False(t, state.LastValidation.OK)
	var paths []string
	for _, d := range state.LastValidation.ErrorDetails {
		paths = append(paths, d.Path)
	}
	assert.Contains(t, paths, "pages/about.html")
}

func TestValidateFilesSurfacesReadErrors(t *testing.T) {
	f := newFixture(t, llm.NewMock(), map[string]string{"pages/home.html": homeHTML})

	// "pages" resolves to a directory; the read fails and the report must
	// not declare the draft set valid.
	report := f.orch.validateFiles([]string{"pages/home.html", "pages"})
	assert.False(t, report.OK)
	require.NotEmpty(t, report.Errors)
	assert.Contains(t, report.Errors[0], "pages")
}

func TestBuildAbort(t *testing.T) {
	mock := llm.NewMock(graphScript(t))
	f := newFixture(t, mock, map[string]string{"pages/home.html": homeHTML})

	state, err := f.orch.StartBuild(context.Background(), "proj-1", "portfolio", models.ModeAuto)
	require.NoError(t, err)
	_, err = f.orch.Step(context.Background(), state.BuildID)
	require.NoError(t, err)

	state, err = f.orch.Abort(context.Background(), state.BuildID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseAborted, state.Phase)

	// Stepping an aborted build is a no-op.
	state, err = f.orch.Step(context.Background(), state.BuildID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseAborted, state.Phase)
}

func TestBuildPlanOnlyStopsAfterPlanning(t *testing.T) {
	mock := llm.NewMock(graphScript(t))
	f := newFixture(t, mock, map[string]string{"pages/home.html": homeHTML})

	state, err := f.orch.StartBuild(context.Background(), "proj-1", "portfolio", models.ModePlanOnly)
	require.NoError(t, err)

	state, err = f.orch.Step(context.Background(), state.BuildID)
	require.NoError(t, err)
	assert.Equal(t, models.PhasePlanning, state.Phase)
	require.NotNil(t, state.Graph)
	assert.Empty(t, state.CurrentTaskID)

	// A second step re-enters planning but must not call the planner again.
	_, err = f.orch.Step(context.Background(), state.BuildID)
	require.NoError(t, err)
	assert.Len(t, mock.Calls(), 1)
}

func TestBuildModeGating(t *testing.T) {
	mock := llm.NewMock(
		graphScript(t),
		patchScript(t, "<h1>Old</h1>", "<h1>Home</h1>"),
	)
	f := newFixture(t, mock, map[string]string{"pages/home.html": homeHTML})

	state, err := f.orch.StartBuild(context.Background(), "proj-1", "portfolio", models.ModeAuto)
	require.NoError(t, err)
	_, err = f.orch.Step(context.Background(), state.BuildID)
	require.NoError(t, err)
	state, err = f.orch.Step(context.Background(), state.BuildID)
	require.NoError(t, err)
	require.Equal(t, models.PhaseVerifying, state.Phase)

	// Flip the persisted mode to implement_only: verifying is out of remit.
	state.Mode = models.ModeImplementOnly
	require.NoError(t, f.st.SaveBuildState(context.Background(), state))

	_, err = f.orch.Step(context.Background(), state.BuildID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "implement_only")
}

func TestBuildPlannerFailureIsTerminal(t *testing.T) {
	mock := llm.NewMock()
	mock.EnqueueError(assert.AnError)
	f := newFixture(t, mock, map[string]string{"pages/home.html": homeHTML})

	state, err := f.orch.StartBuild(context.Background(), "proj-1", "portfolio", models.ModeAuto)
	require.NoError(t, err)

	state, err = f.orch.Step(context.Background(), state.BuildID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseError, state.Phase)
}
