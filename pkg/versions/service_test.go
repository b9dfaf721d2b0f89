package versions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheSmartAz/zaoya/pkg/models"
	"github.com/TheSmartAz/zaoya/pkg/store"
	"github.com/TheSmartAz/zaoya/pkg/store/memory"
)

const (
	projectID = "p1"
	branchID  = "br1"
)

func seedBranch(t *testing.T, m *memory.Memory) {
	t.Helper()
	require.NoError(t, m.CreateBranch(context.Background(), &models.Branch{
		ID: branchID, ProjectID: projectID, Name: "main", IsActive: true,
		CreatedAt: time.Now().UTC(),
	}))
}

func writePage(t *testing.T, m *memory.Memory, slug, html string, isHome bool) {
	t.Helper()
	path := "/" + slug
	if isHome {
		path = "/"
	}
	require.NoError(t, m.UpsertPage(context.Background(), &models.ProjectPage{
		ID: "page-" + slug, ProjectID: projectID, BranchID: branchID,
		Slug: slug, Name: slug, Path: path, IsHome: isHome, HTML: html,
		UpdatedAt: time.Now().UTC(),
	}))
}

func TestCreateFromProject(t *testing.T) {
	m := memory.New()
	seedBranch(t, m)
	writePage(t, m, "home", "<h1>one</h1>\n<p>two</p>", true)
	svc := New(m, -1)

	v1, err := svc.CreateFromProject(context.Background(), projectID, branchID, CreateOptions{
		ValidationStatus: models.ValidationPassed,
		Description:      "Initial build",
		TasksCompleted:   []string{"project-final"},
	})
	require.NoError(t, err)
	assert.Empty(t, v1.ParentID)
	assert.Equal(t, 1, v1.Summary.FilesChanged)
	assert.Equal(t, 2, v1.Summary.LinesAdded)
	assert.Equal(t, "Initial build", v1.Summary.Description)

	content, err := svc.GetContent(context.Background(), v1.ID)
	require.NoError(t, err)
	require.Len(t, content, 1)
	assert.True(t, content[0].IsHome)

	// Second version chains to the first and counts the edit.
	writePage(t, m, "home", "<h1>one</h1>\n<p>three</p>", true)
	v2, err := svc.CreateFromProject(context.Background(), projectID, branchID, CreateOptions{
		ValidationStatus: models.ValidationPassed,
	})
	require.NoError(t, err)
	assert.Equal(t, v1.ID, v2.ParentID)
	assert.Equal(t, 1, v2.Summary.FilesChanged)
	assert.Equal(t, 1, v2.Summary.LinesAdded)
	assert.Equal(t, 1, v2.Summary.LinesDeleted)
}

func TestCreateFromProjectNoPages(t *testing.T) {
	m := memory.New()
	seedBranch(t, m)
	svc := New(m, -1)

	_, err := svc.CreateFromProject(context.Background(), projectID, branchID, CreateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pages")
}

// makeVersions creates n versions with distinct content and returns them
// oldest first.
func makeVersions(t *testing.T, svc *Service, m *memory.Memory, n int) []*models.Version {
	t.Helper()
	out := make([]*models.Version, 0, n)
	for i := 1; i <= n; i++ {
		writePage(t, m, "home", fmt.Sprintf("<h1>revision %d</h1>", i), true)
		v, err := svc.CreateFromProject(context.Background(), projectID, branchID, CreateOptions{
			ValidationStatus: models.ValidationPassed,
			Description:      fmt.Sprintf("revision %d", i),
		})
		require.NoError(t, err)
		out = append(out, v)
		time.Sleep(time.Millisecond)
	}
	return out
}

func TestCompressionKeepsWindowAndResolvesChain(t *testing.T) {
	m := memory.New()
	seedBranch(t, m)
	svc := New(m, -1)
	ctx := context.Background()

	vs := makeVersions(t, svc, m, 5)

	// Newest three keep inline snapshots; the two oldest become diffs.
	for _, v := range vs[2:] {
		_, err := m.GetSnapshot(ctx, v.ID)
		assert.NoError(t, err, "version %s should keep its snapshot", v.Summary.Description)
	}
	for _, v := range vs[:2] {
		_, err := m.GetSnapshot(ctx, v.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = m.GetDiff(ctx, v.ID)
		assert.NoError(t, err, "version %s should hold a diff", v.Summary.Description)
	}

	// Reconstruction through the chain returns the original content.
	for i, v := range vs {
		content, err := svc.GetContent(ctx, v.ID)
		require.NoError(t, err)
		require.Len(t, content, 1)
		assert.Equal(t, fmt.Sprintf("<h1>revision %d</h1>", i+1), content[0].HTML)
	}
}

func TestFailedVersionsDoNotHoldTheWindow(t *testing.T) {
	m := memory.New()
	seedBranch(t, m)
	svc := New(m, -1)
	ctx := context.Background()

	writePage(t, m, "home", "<h1>good</h1>", true)
	good, err := svc.CreateFromProject(ctx, projectID, branchID, CreateOptions{
		ValidationStatus: models.ValidationPassed,
	})
	require.NoError(t, err)

	for i := 0; i < models.SnapshotWindow; i++ {
		writePage(t, m, "home", fmt.Sprintf("<h1>bad %d</h1>", i), true)
		_, err := svc.CreateFromProject(ctx, projectID, branchID, CreateOptions{
			ValidationStatus: models.ValidationFailed,
		})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	// Failed versions never count toward the window, so the good version
	// keeps its snapshot.
	_, err = m.GetSnapshot(ctx, good.ID)
	assert.NoError(t, err)
}

func TestPinMaterializesAndCaps(t *testing.T) {
	m := memory.New()
	seedBranch(t, m)
	svc := New(m, -1)
	ctx := context.Background()

	vs := makeVersions(t, svc, m, 6)
	oldest := vs[0]

	// The oldest is compressed by now; pinning must bring the snapshot back.
	_, err := m.GetSnapshot(ctx, oldest.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, svc.Pin(ctx, oldest.ID))

	snap, err := m.GetSnapshot(ctx, oldest.ID)
	require.NoError(t, err)
	assert.Equal(t, "<h1>revision 1</h1>", snap.Pages[0].HTML)
	_, err = m.GetDiff(ctx, oldest.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := m.GetVersion(ctx, oldest.ID)
	require.NoError(t, err)
	assert.True(t, got.Pinned)

	// Cap at three pins per branch.
	require.NoError(t, svc.Pin(ctx, vs[1].ID))
	require.NoError(t, svc.Pin(ctx, vs[2].ID))
	err = svc.Pin(ctx, vs[3].ID)
	assert.ErrorIs(t, err, store.ErrPinLimit)

	// Pinning an already pinned version is a no-op, not a cap violation.
	require.NoError(t, svc.Pin(ctx, vs[0].ID))

	require.NoError(t, svc.Unpin(ctx, vs[0].ID))
	got, err = m.GetVersion(ctx, vs[0].ID)
	require.NoError(t, err)
	assert.False(t, got.Pinned)
}

func TestPruneWithPins(t *testing.T) {
	m := memory.New()
	seedBranch(t, m)
	svc := New(m, 5)
	ctx := context.Background()

	var vs []*models.Version
	for i := 1; i <= 7; i++ {
		writePage(t, m, "home", fmt.Sprintf("<h1>revision %d</h1>", i), true)
		v, err := svc.CreateFromProject(ctx, projectID, branchID, CreateOptions{
			ValidationStatus: models.ValidationPassed,
			Description:      fmt.Sprintf("revision %d", i),
		})
		require.NoError(t, err)
		vs = append(vs, v)
		time.Sleep(time.Millisecond)
		if i == 2 || i == 4 {
			require.NoError(t, svc.Pin(ctx, v.ID))
		}
	}

	remaining, err := m.ListVersions(ctx, projectID, branchID)
	require.NoError(t, err)
	assert.Len(t, remaining, 5)

	alive := make(map[string]bool)
	for _, v := range remaining {
		alive[v.ID] = true
	}
	// Oldest non-pinned versions go first; pinned ones are immune.
	assert.False(t, alive[vs[0].ID], "revision 1 should be pruned")
	assert.True(t, alive[vs[1].ID], "pinned revision 2 survives")
	assert.False(t, alive[vs[2].ID], "revision 3 should be pruned")
	assert.True(t, alive[vs[3].ID], "pinned revision 4 survives")
	assert.True(t, alive[vs[6].ID])

	// Pinned versions keep inline snapshots; everything still resolves.
	for _, id := range []string{vs[1].ID, vs[3].ID} {
		_, err := m.GetSnapshot(ctx, id)
		assert.NoError(t, err)
	}
	for _, v := range remaining {
		content, cerr := svc.GetContent(ctx, v.ID)
		require.NoError(t, cerr)
		assert.Equal(t, fmt.Sprintf("<h1>%s</h1>", v.Summary.Description), content[0].HTML)
	}
}

func TestRollbackPages(t *testing.T) {
	m := memory.New()
	seedBranch(t, m)
	svc := New(m, -1)
	ctx := context.Background()

	writePage(t, m, "home", "<h1>v1 home</h1>", true)
	writePage(t, m, "about", "<h1>v1 about</h1>", false)
	v1, err := svc.CreateFromProject(ctx, projectID, branchID, CreateOptions{
		ValidationStatus: models.ValidationPassed,
	})
	require.NoError(t, err)

	writePage(t, m, "home", "<h1>v2 home</h1>", true)
	_, err = svc.CreateFromProject(ctx, projectID, branchID, CreateOptions{
		ValidationStatus: models.ValidationPassed,
	})
	require.NoError(t, err)

	require.NoError(t, svc.RollbackPages(ctx, v1.ID))

	pages, err := m.ListPages(ctx, projectID, branchID)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.True(t, pages[0].IsHome)
	assert.Equal(t, "/", pages[0].Path)
	assert.Equal(t, "<h1>v1 home</h1>", pages[0].HTML)

	homes := 0
	for _, p := range pages {
		if p.IsHome {
			homes++
		}
	}
	assert.Equal(t, 1, homes)
}

func TestRestoreVersionCreatesNewEntry(t *testing.T) {
	m := memory.New()
	seedBranch(t, m)
	svc := New(m, -1)
	ctx := context.Background()

	vs := makeVersions(t, svc, m, 2)

	restored, err := svc.RestoreVersion(ctx, vs[0].ID)
	require.NoError(t, err)
	assert.Contains(t, restored.Summary.Description, "Restored from version")
	assert.Equal(t, vs[1].ID, restored.ParentID)

	content, err := svc.GetContent(ctx, restored.ID)
	require.NoError(t, err)
	assert.Equal(t, "<h1>revision 1</h1>", content[0].HTML)
}

func TestCreateBranchClonesContent(t *testing.T) {
	m := memory.New()
	seedBranch(t, m)
	svc := New(m, -1)
	ctx := context.Background()

	vs := makeVersions(t, svc, m, 1)

	branch, err := svc.CreateBranch(ctx, projectID, "experiment", "Try a new hero", vs[0].ID)
	require.NoError(t, err)

	pages, err := m.ListPages(ctx, projectID, branch.ID)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "<h1>revision 1</h1>", pages[0].HTML)

	forked, err := m.ListVersions(ctx, projectID, branch.ID)
	require.NoError(t, err)
	require.Len(t, forked, 1)
	assert.Contains(t, forked[0].Summary.Description, "Branched from version")

	// Branch cap: the seed branch plus two more is the limit.
	_, err = svc.CreateBranch(ctx, projectID, "third", "", "")
	require.NoError(t, err)
	_, err = svc.CreateBranch(ctx, projectID, "fourth", "", "")
	assert.ErrorIs(t, err, store.ErrBranchLimit)
}
