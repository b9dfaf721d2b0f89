// Package memory implements store.Store with plain maps behind one mutex.
// It backs tests and single-process runs; semantics match the postgres
// implementation, including claim and supersede behavior.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TheSmartAz/zaoya/pkg/models"
	"github.com/TheSmartAz/zaoya/pkg/store"
)

// Memory is an in-memory store.Store.
type Memory struct {
	mu sync.Mutex
	// txMu serializes WithTx blocks against each other.
	txMu sync.Mutex

	buildStates map[string]*models.BuildState
	plans       map[string]*models.BuildPlan
	pages       map[string]*models.ProjectPage
	branches    map[string]*models.Branch
	versions    map[string]*models.Version
	snapshots   map[string]*models.VersionSnapshot
	diffs       map[string]*models.VersionDiff
	attempts    []*models.VersionAttempt
	jobs        map[string]*models.ThumbnailJob
	docs        map[string]*models.ProductDoc
}

var _ store.Store = (*Memory)(nil)

// New creates an empty in-memory store.
func New() *Memory {
	return &Memory{
		buildStates: make(map[string]*models.BuildState),
		plans:       make(map[string]*models.BuildPlan),
		pages:       make(map[string]*models.ProjectPage),
		branches:    make(map[string]*models.Branch),
		versions:    make(map[string]*models.Version),
		snapshots:   make(map[string]*models.VersionSnapshot),
		diffs:       make(map[string]*models.VersionDiff),
		jobs:        make(map[string]*models.ThumbnailJob),
		docs:        make(map[string]*models.ProductDoc),
	}
}

// clone deep-copies a value through JSON so callers never alias stored rows.
func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("memory store clone: %v", err))
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("memory store clone: %v", err))
	}
	return out
}

func pageKey(projectID, branchID, slug string) string {
	return projectID + "/" + branchID + "/" + slug
}

// --- BuildStateStore ---

func (m *Memory) SaveBuildState(_ context.Context, state *models.BuildState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buildStates[state.BuildID] = clone(state)
	return nil
}

func (m *Memory) GetBuildState(_ context.Context, buildID string) (*models.BuildState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.buildStates[buildID]
	if !ok {
		return nil, fmt.Errorf("build state %s: %w", buildID, store.ErrNotFound)
	}
	return clone(s), nil
}

// --- BuildPlanStore ---

func (m *Memory) SaveBuildPlan(_ context.Context, plan *models.BuildPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.ID] = clone(plan)
	return nil
}

func (m *Memory) GetBuildPlan(_ context.Context, planID string) (*models.BuildPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok {
		return nil, fmt.Errorf("build plan %s: %w", planID, store.ErrNotFound)
	}
	return clone(p), nil
}

func (m *Memory) ListPlansByStatus(_ context.Context, status models.PlanStatus) ([]*models.BuildPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BuildPlan
	for _, p := range m.plans {
		if p.Status == status {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- PageStore ---

func (m *Memory) UpsertPage(_ context.Context, page *models.ProjectPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if page.IsHome {
		// Demote any other home page of the branch to its slug path.
		for _, p := range m.pages {
			if p.ProjectID == page.ProjectID && p.BranchID == page.BranchID &&
				p.Slug != page.Slug && p.IsHome {
				p.IsHome = false
				p.Path = "/" + p.Slug
			}
		}
	}
	m.pages[pageKey(page.ProjectID, page.BranchID, page.Slug)] = clone(page)
	return nil
}

func (m *Memory) GetPage(_ context.Context, projectID, branchID, slug string) (*models.ProjectPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[pageKey(projectID, branchID, slug)]
	if !ok {
		return nil, fmt.Errorf("page %s: %w", slug, store.ErrNotFound)
	}
	return clone(p), nil
}

func (m *Memory) ListPages(_ context.Context, projectID, branchID string) ([]*models.ProjectPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ProjectPage
	for _, p := range m.pages {
		if p.ProjectID == projectID && p.BranchID == branchID {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsHome != out[j].IsHome {
			return out[i].IsHome
		}
		return out[i].Slug < out[j].Slug
	})
	return out, nil
}

func (m *Memory) ReplacePages(_ context.Context, projectID, branchID string, pages []*models.ProjectPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, p := range m.pages {
		if p.ProjectID == projectID && p.BranchID == branchID {
			delete(m.pages, key)
		}
	}
	for _, p := range pages {
		m.pages[pageKey(p.ProjectID, p.BranchID, p.Slug)] = clone(p)
	}
	return nil
}

func (m *Memory) SetThumbnailURL(_ context.Context, projectID, branchID, slug, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[pageKey(projectID, branchID, slug)]
	if !ok {
		return fmt.Errorf("page %s: %w", slug, store.ErrNotFound)
	}
	p.ThumbnailURL = url
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// --- BranchStore ---

func (m *Memory) CreateBranch(_ context.Context, branch *models.Branch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, b := range m.branches {
		if b.ProjectID == branch.ProjectID {
			count++
		}
	}
	if count >= models.MaxBranchesPerProject {
		return fmt.Errorf("project %s has %d branches: %w",
			branch.ProjectID, count, store.ErrBranchLimit)
	}
	m.branches[branch.ID] = clone(branch)
	return nil
}

func (m *Memory) GetBranch(_ context.Context, branchID string) (*models.Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.branches[branchID]
	if !ok {
		return nil, fmt.Errorf("branch %s: %w", branchID, store.ErrNotFound)
	}
	return clone(b), nil
}

func (m *Memory) ListBranches(_ context.Context, projectID string) ([]*models.Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Branch
	for _, b := range m.branches {
		if b.ProjectID == projectID {
			out = append(out, clone(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ActiveBranch(_ context.Context, projectID string) (*models.Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.branches {
		if b.ProjectID == projectID && b.IsActive {
			return clone(b), nil
		}
	}
	return nil, fmt.Errorf("active branch for project %s: %w", projectID, store.ErrNotFound)
}

func (m *Memory) SetActiveBranch(_ context.Context, projectID, branchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.branches[branchID]
	if !ok || target.ProjectID != projectID {
		return fmt.Errorf("branch %s: %w", branchID, store.ErrNotFound)
	}
	for _, b := range m.branches {
		if b.ProjectID == projectID {
			b.IsActive = b.ID == branchID
		}
	}
	return nil
}

// --- VersionStore ---

// WithTx serializes the block and rolls the version-related tables back on
// error. Map snapshots stand in for a database transaction.
func (m *Memory) WithTx(ctx context.Context, fn func(tx store.VersionStore) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	versions := cloneMap(m.versions)
	snapshots := cloneMap(m.snapshots)
	diffs := cloneMap(m.diffs)
	attempts := make([]*models.VersionAttempt, len(m.attempts))
	copy(attempts, m.attempts)
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.versions = versions
		m.snapshots = snapshots
		m.diffs = diffs
		m.attempts = attempts
		m.mu.Unlock()
		return err
	}
	return nil
}

func cloneMap[T any](in map[string]*T) map[string]*T {
	out := make(map[string]*T, len(in))
	for k, v := range in {
		out[k] = clone(v)
	}
	return out
}

func (m *Memory) CreateVersion(_ context.Context, v *models.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.versions[v.ID]; exists {
		return fmt.Errorf("version %s already exists", v.ID)
	}
	m.versions[v.ID] = clone(v)
	return nil
}

func (m *Memory) GetVersion(_ context.Context, versionID string) (*models.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[versionID]
	if !ok {
		return nil, fmt.Errorf("version %s: %w", versionID, store.ErrNotFound)
	}
	return clone(v), nil
}

func (m *Memory) ListVersions(_ context.Context, projectID, branchID string) ([]*models.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Version
	for _, v := range m.versions {
		if v.ProjectID == projectID && v.BranchID == branchID {
			out = append(out, clone(v))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *Memory) UpdateVersion(_ context.Context, v *models.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.versions[v.ID]; !ok {
		return fmt.Errorf("version %s: %w", v.ID, store.ErrNotFound)
	}
	m.versions[v.ID] = clone(v)
	return nil
}

func (m *Memory) DeleteVersion(_ context.Context, versionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.versions, versionID)
	delete(m.snapshots, versionID)
	delete(m.diffs, versionID)
	return nil
}

func (m *Memory) SaveSnapshot(_ context.Context, snap *models.VersionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snap.VersionID] = clone(snap)
	return nil
}

func (m *Memory) GetSnapshot(_ context.Context, versionID string) (*models.VersionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[versionID]
	if !ok {
		return nil, fmt.Errorf("snapshot %s: %w", versionID, store.ErrNotFound)
	}
	return clone(s), nil
}

func (m *Memory) DeleteSnapshot(_ context.Context, versionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, versionID)
	return nil
}

func (m *Memory) SaveDiff(_ context.Context, diff *models.VersionDiff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diffs[diff.VersionID] = clone(diff)
	return nil
}

func (m *Memory) GetDiff(_ context.Context, versionID string) (*models.VersionDiff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.diffs[versionID]
	if !ok {
		return nil, fmt.Errorf("diff %s: %w", versionID, store.ErrNotFound)
	}
	return clone(d), nil
}

func (m *Memory) DeleteDiff(_ context.Context, versionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.diffs, versionID)
	return nil
}

func (m *Memory) ListDiffsBasedOn(_ context.Context, baseVersionID string) ([]*models.VersionDiff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.VersionDiff
	for _, d := range m.diffs {
		if d.BaseVersionID == baseVersionID {
			out = append(out, clone(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionID < out[j].VersionID })
	return out, nil
}

func (m *Memory) SaveAttempt(_ context.Context, attempt *models.VersionAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, clone(attempt))
	return nil
}

func (m *Memory) ListAttempts(_ context.Context, projectID string) ([]*models.VersionAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.VersionAttempt
	for _, a := range m.attempts {
		if a.ProjectID == projectID {
			out = append(out, clone(a))
		}
	}
	return out, nil
}

// --- ThumbnailJobStore ---

func (m *Memory) EnqueueJob(_ context.Context, job *models.ThumbnailJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, j := range m.jobs {
		if j.ProjectID == job.ProjectID && j.PageID == job.PageID && j.Type == job.Type &&
			(j.Status == models.JobStatusQueued || j.Status == models.JobStatusRunning) {
			j.Status = models.JobStatusFailed
			j.LastError = "superseded by new job"
			j.UpdatedAt = now
		}
	}
	m.jobs[job.ID] = clone(job)
	return nil
}

func (m *Memory) ClaimDue(_ context.Context, jobType models.ThumbnailType, now time.Time) (*models.ThumbnailJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due *models.ThumbnailJob
	for _, j := range m.jobs {
		if j.Type != jobType || j.Status != models.JobStatusQueued || j.NextRunAt.After(now) {
			continue
		}
		if due == nil || j.NextRunAt.Before(due.NextRunAt) {
			due = j
		}
	}
	if due == nil {
		return nil, store.ErrNoJobsAvailable
	}
	due.Status = models.JobStatusRunning
	due.UpdatedAt = time.Now().UTC()
	return clone(due), nil
}

func (m *Memory) UpdateJob(_ context.Context, job *models.ThumbnailJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return fmt.Errorf("thumbnail job %s: %w", job.ID, store.ErrNotFound)
	}
	m.jobs[job.ID] = clone(job)
	return nil
}

func (m *Memory) GetJob(_ context.Context, jobID string) (*models.ThumbnailJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("thumbnail job %s: %w", jobID, store.ErrNotFound)
	}
	return clone(j), nil
}

func (m *Memory) ListJobs(_ context.Context, projectID string) ([]*models.ThumbnailJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ThumbnailJob
	for _, j := range m.jobs {
		if j.ProjectID == projectID {
			out = append(out, clone(j))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *Memory) RecoverOrphans(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recovered := 0
	now := time.Now().UTC()
	for _, j := range m.jobs {
		if j.Status == models.JobStatusRunning && j.UpdatedAt.Before(olderThan) {
			j.Status = models.JobStatusQueued
			j.NextRunAt = now
			j.UpdatedAt = now
			recovered++
		}
	}
	return recovered, nil
}

// --- ProductDocStore ---

func (m *Memory) SaveProductDoc(_ context.Context, doc *models.ProductDoc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ProjectID] = clone(doc)
	return nil
}

func (m *Memory) GetProductDoc(_ context.Context, projectID string) (*models.ProductDoc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[projectID]
	if !ok {
		return nil, fmt.Errorf("product doc for project %s: %w", projectID, store.ErrNotFound)
	}
	return clone(d), nil
}
