package session

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheSmartAz/zaoya/pkg/agent"
	"github.com/TheSmartAz/zaoya/pkg/config"
	"github.com/TheSmartAz/zaoya/pkg/events"
	"github.com/TheSmartAz/zaoya/pkg/llm"
	"github.com/TheSmartAz/zaoya/pkg/models"
	"github.com/TheSmartAz/zaoya/pkg/store/memory"
	"github.com/TheSmartAz/zaoya/pkg/versions"
)

type fakeThumbs struct {
	calls []string
	err   error
}

func (f *fakeThumbs) EnqueueThumbnail(_ context.Context, projectID, pageID string) error {
	f.calls = append(f.calls, projectID+"/"+pageID)
	return f.err
}

// hookedWriter lets tests act between page generations, e.g. to cancel at a
// page boundary.
type hookedWriter struct {
	inner PageGenerator
	after func(in agent.PageWriterInput)
}

func (h *hookedWriter) Generate(ctx context.Context, in agent.PageWriterInput) (*agent.PageOutput, *agent.CallMeta, error) {
	out, meta, err := h.inner.Generate(ctx, in)
	if h.after != nil {
		h.after(in)
	}
	return out, meta, err
}

type sessionFixture struct {
	mgr    *Manager
	st     *memory.Memory
	thumbs *fakeThumbs
	bus    *events.Bus
}

func newSessionFixture(t *testing.T, writer PageGenerator) *sessionFixture {
	t.Helper()
	st := memory.New()
	require.NoError(t, st.SaveProductDoc(context.Background(), &models.ProductDoc{
		ProjectID: "proj-1",
		Content:   "A two-section marketing site.",
	}))
	thumbs := &fakeThumbs{}
	bus := events.NewBus()
	mgr := NewManager(Config{
		Store:    st,
		Writer:   writer,
		Versions: versions.New(st, -1),
		Thumbs:   thumbs,
		Bus:      bus,
	})
	return &sessionFixture{mgr: mgr, st: st, thumbs: thumbs, bus: bus}
}

func pageWriter(mock *llm.Mock) PageGenerator {
	return agent.NewPageWriter(mock, &config.ModelConfig{Default: "gpt-4o", MockEnabled: true})
}

func fencedPage(html string) string {
	return "Here is the page.\n```html\n" + html + "\n```\n"
}

var (
	homeSpec  = models.PageSpec{ID: "home", Name: "Home", Path: "/", Sections: []string{"hero"}, IsMain: true}
	aboutSpec = models.PageSpec{ID: "about", Name: "About", Path: "/about", Sections: []string{"team"}}
)

func collectEvents(sub *events.Subscription) (taskTypes []string, cardTypes []string, complete *events.TaskPayload) {
	for len(sub.Events()) > 0 {
		ev := <-sub.Events()
		switch ev.Name {
		case events.EventTask:
			var p events.TaskPayload
			if json.Unmarshal(ev.Payload, &p) == nil {
				taskTypes = append(taskTypes, p.Type)
				if p.Type == events.TaskBuildComplete {
					cp := p
					complete = &cp
				}
			}
		case events.EventCard:
			var p events.CardPayload
			if json.Unmarshal(ev.Payload, &p) == nil {
				cardTypes = append(cardTypes, p.CardType)
			}
		}
	}
	return taskTypes, cardTypes, complete
}

func TestSinglePageHappyPath(t *testing.T) {
	mock := llm.NewMock(fencedPage(`<div><h1>Home</h1></div>`))
	f := newSessionFixture(t, pageWriter(mock))

	sess, err := f.mgr.CreateSession(context.Background(), CreateSessionInput{
		ProjectID: "proj-1",
		UserID:    "user-1",
		Pages:     []models.PageSpec{homeSpec},
	})
	require.NoError(t, err)

	sub := f.bus.Subscribe(sess.ID, 64)
	require.NoError(t, f.mgr.StreamProgress(context.Background(), sess.ID))

	plan, err := f.st.GetBuildPlan(context.Background(), sess.PlanID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusCompleted, plan.Status)
	for _, id := range []string{"page-home", "validate-home", "save-home", "thumb-home",
		models.PlanTaskProjectLinks, models.PlanTaskProjectFinal} {
		require.NotNil(t, plan.Task(id), id)
		assert.Equal(t, models.PlanTaskDone, plan.Task(id).Status, id)
	}

	branch, err := f.st.ActiveBranch(context.Background(), "proj-1")
	require.NoError(t, err)
	page, err := f.st.GetPage(context.Background(), "proj-1", branch.ID, "home")
	require.NoError(t, err)
	assert.True(t, page.IsHome)
	assert.Equal(t, "/", page.Path)

	vs, err := f.st.ListVersions(context.Background(), "proj-1", branch.ID)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, models.ValidationPassed, vs[0].ValidationStatus)
	assert.Equal(t, []string{"Generated Home"}, vs[0].Summary.TasksCompleted)

	assert.Equal(t, []string{"proj-1/home"}, f.thumbs.calls)

	// Clean terminal state removes the session from the registry.
	_, err = f.mgr.Get(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	taskTypes, cardTypes, complete := collectEvents(sub)
	assert.Contains(t, taskTypes, events.TaskStarted)
	assert.Contains(t, taskTypes, events.TaskDone)
	assert.Contains(t, cardTypes, events.CardPage)
	assert.Contains(t, cardTypes, events.CardVersion)
	require.NotNil(t, complete)
	assert.Equal(t, "done", complete.Status)
}

func TestTwoPageLinkFailureThenRetry(t *testing.T) {
	mock := llm.NewMock(
		// home omits the /about link.
		fencedPage(`<div><h1>Home</h1></div>`),
		fencedPage(`<div><a href="/">Home</a><h1>About</h1></div>`),
		// retry of home carries the link.
		fencedPage(`<div><a href="/about">About</a><h1>Home</h1></div>`),
	)
	f := newSessionFixture(t, pageWriter(mock))

	sess, err := f.mgr.CreateSession(context.Background(), CreateSessionInput{
		ProjectID: "proj-1",
		UserID:    "user-1",
		Pages:     []models.PageSpec{homeSpec, aboutSpec},
	})
	require.NoError(t, err)
	require.NoError(t, f.mgr.StreamProgress(context.Background(), sess.ID))

	assert.True(t, sess.FinalChecksFailed)
	plan, err := f.st.GetBuildPlan(context.Background(), sess.PlanID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusFailed, plan.Status)
	assert.Equal(t, models.PlanTaskFailed, plan.Task(models.PlanTaskProjectLinks).Status)
	assert.Equal(t, models.PlanTaskSkipped, plan.Task(models.PlanTaskProjectFinal).Status)

	attempts, err := f.st.ListAttempts(context.Background(), "proj-1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.NotEmpty(t, attempts[0].Diagnostics)
	assert.Equal(t, "resource-missing-link", attempts[0].Diagnostics[0].RuleID)
	assert.Contains(t, attempts[0].Diagnostics[0].Message, "home missing link to /about")

	branch, err := f.st.ActiveBranch(context.Background(), "proj-1")
	require.NoError(t, err)
	vs, err := f.st.ListVersions(context.Background(), "proj-1", branch.ID)
	require.NoError(t, err)
	assert.Empty(t, vs)

	// Retrying home with a corrected page completes the build.
	require.NoError(t, f.mgr.RetryPage(context.Background(), sess.ID, "home"))

	assert.False(t, sess.FinalChecksFailed)
	plan, err = f.st.GetBuildPlan(context.Background(), sess.PlanID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusCompleted, plan.Status)

	vs, err = f.st.ListVersions(context.Background(), "proj-1", branch.ID)
	require.NoError(t, err)
	assert.Len(t, vs, 1)
}

func TestValidatorFailsScriptTag(t *testing.T) {
	mock := llm.NewMock(
		fencedPage(`<div><script>alert(1)</script></div>`),
	)
	f := newSessionFixture(t, pageWriter(mock))

	sess, err := f.mgr.CreateSession(context.Background(), CreateSessionInput{
		ProjectID: "proj-1",
		UserID:    "user-1",
		Pages:     []models.PageSpec{homeSpec},
	})
	require.NoError(t, err)

	sub := f.bus.Subscribe(sess.ID, 64)
	require.NoError(t, f.mgr.StreamProgress(context.Background(), sess.ID))

	assert.True(t, sess.Failed["home"])
	require.NotEmpty(t, sess.LastErrors["home"])
	assert.Equal(t, "html-no-script-tag", sess.LastErrors["home"][0].RuleID)
	assert.Equal(t, models.SeverityCritical, sess.LastErrors["home"][0].Severity)

	plan, err := f.st.GetBuildPlan(context.Background(), sess.PlanID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusFailed, plan.Status)
	assert.Equal(t, models.PlanTaskFailed, plan.Task("validate-home").Status)
	assert.Equal(t, models.PlanTaskSkipped, plan.Task("save-home").Status)
	assert.Equal(t, models.PlanTaskSkipped, plan.Task(models.PlanTaskProjectLinks).Status)
	assert.Equal(t, models.PlanTaskSkipped, plan.Task(models.PlanTaskProjectFinal).Status)

	// No page saved, no version created.
	branch, err := f.st.ActiveBranch(context.Background(), "proj-1")
	require.NoError(t, err)
	pages, err := f.st.ListPages(context.Background(), "proj-1", branch.ID)
	require.NoError(t, err)
	assert.Empty(t, pages)

	_, cardTypes, complete := collectEvents(sub)
	assert.Contains(t, cardTypes, events.CardValidation)
	require.NotNil(t, complete)
	assert.Equal(t, "failed", complete.Status)
	assert.Contains(t, complete.Message, "1 failed page(s)")

	// Failed sessions stay registered for RetryPage.
	_, err = f.mgr.Get(sess.ID)
	assert.NoError(t, err)
}

func TestCancellationAtPageBoundary(t *testing.T) {
	pages := []models.PageSpec{
		homeSpec,
		aboutSpec,
		{ID: "contact", Name: "Contact", Path: "/contact"},
	}
	mock := llm.NewMock(
		fencedPage(`<div><a href="/about">a</a><a href="/contact">c</a></div>`),
		fencedPage(`<div>never reached</div>`),
	)

	var mgr *Manager
	var sessID string
	writer := &hookedWriter{
		inner: pageWriter(mock),
		after: func(agent.PageWriterInput) {
			// Cancel after the first page; the loop must stop before page 2.
			require.NoError(t, mgr.Cancel(sessID))
		},
	}
	f := newSessionFixture(t, writer)
	mgr = f.mgr

	sess, err := f.mgr.CreateSession(context.Background(), CreateSessionInput{
		ProjectID: "proj-1",
		UserID:    "user-1",
		Pages:     pages,
	})
	require.NoError(t, err)
	sessID = sess.ID

	sub := f.bus.Subscribe(sess.ID, 64)
	require.NoError(t, f.mgr.StreamProgress(context.Background(), sess.ID))

	// Only the first page was generated.
	assert.Len(t, mock.Calls(), 1)
	assert.True(t, sess.Completed["home"])
	assert.False(t, sess.Completed["about"])

	plan, err := f.st.GetBuildPlan(context.Background(), sess.PlanID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusCancelled, plan.Status)
	assert.Equal(t, models.PlanTaskPending, plan.Task("page-about").Status)

	_, _, complete := collectEvents(sub)
	require.NotNil(t, complete)
	assert.Equal(t, "failed", complete.Status)
	assert.Equal(t, "Build cancelled", complete.Message)
}

func TestRetryPageCap(t *testing.T) {
	mock := llm.NewMock(fencedPage(`<div><script>x</script></div>`))
	f := newSessionFixture(t, pageWriter(mock))

	sess, err := f.mgr.CreateSession(context.Background(), CreateSessionInput{
		ProjectID: "proj-1",
		UserID:    "user-1",
		Pages:     []models.PageSpec{homeSpec},
	})
	require.NoError(t, err)
	require.NoError(t, f.mgr.StreamProgress(context.Background(), sess.ID))
	require.True(t, sess.Failed["home"])

	sess.RetryCount["home"] = models.MaxPageRetries
	err = f.mgr.RetryPage(context.Background(), sess.ID, "home")
	assert.ErrorIs(t, err, ErrRetryLimit)

	// Nothing changed: still failed, no extra generation call.
	assert.True(t, sess.Failed["home"])
	assert.Len(t, mock.Calls(), 1)
}

func TestThumbnailFailureDowngradesToSkipped(t *testing.T) {
	mock := llm.NewMock(fencedPage(`<div><h1>Home</h1></div>`))
	f := newSessionFixture(t, pageWriter(mock))
	f.thumbs.err = assert.AnError

	sess, err := f.mgr.CreateSession(context.Background(), CreateSessionInput{
		ProjectID: "proj-1",
		UserID:    "user-1",
		Pages:     []models.PageSpec{homeSpec},
	})
	require.NoError(t, err)
	require.NoError(t, f.mgr.StreamProgress(context.Background(), sess.ID))

	plan, err := f.st.GetBuildPlan(context.Background(), sess.PlanID)
	require.NoError(t, err)
	// Enqueue failure downgrades the micro-task but the build completes.
	assert.Equal(t, models.PlanTaskSkipped, plan.Task("thumb-home").Status)
	assert.Equal(t, models.PlanStatusCompleted, plan.Status)
}

func TestCreateSessionRequiresOneMainPage(t *testing.T) {
	f := newSessionFixture(t, pageWriter(llm.NewMock()))

	_, err := f.mgr.CreateSession(context.Background(), CreateSessionInput{
		ProjectID: "proj-1",
		Pages:     []models.PageSpec{aboutSpec},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one main page")

	_, err = f.mgr.CreateSession(context.Background(), CreateSessionInput{ProjectID: "proj-1"})
	require.Error(t, err)
}

func TestFailInterrupted(t *testing.T) {
	f := newSessionFixture(t, pageWriter(llm.NewMock()))

	for i, status := range []models.PlanStatus{
		models.PlanStatusRunning, models.PlanStatusRunning, models.PlanStatusCompleted,
	} {
		require.NoError(t, f.st.SaveBuildPlan(context.Background(), &models.BuildPlan{
			ID:        fmt.Sprintf("plan-%d", i),
			SessionID: "old-session",
			ProjectID: "proj-1",
			Status:    status,
		}))
	}

	n, err := f.mgr.FailInterrupted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	running, err := f.st.ListPlansByStatus(context.Background(), models.PlanStatusRunning)
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestProductDocRequired(t *testing.T) {
	mock := llm.NewMock(fencedPage(`<div></div>`))
	f := newSessionFixture(t, pageWriter(mock))

	sess, err := f.mgr.CreateSession(context.Background(), CreateSessionInput{
		ProjectID: "proj-no-doc",
		UserID:    "user-1",
		Pages:     []models.PageSpec{homeSpec},
	})
	require.NoError(t, err)

	err = f.mgr.StreamProgress(context.Background(), sess.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "product doc")
}
