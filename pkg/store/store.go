// Package store defines the persistence interfaces of the build runtime.
// Implementations live in store/postgres (production) and store/memory
// (tests and single-process runs). Orchestrators depend only on these
// interfaces.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/TheSmartAz/zaoya/pkg/models"
)

// Sentinel errors shared by all implementations.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoJobsAvailable is returned by ClaimDue when no job is ready.
	ErrNoJobsAvailable = errors.New("no jobs available")
	// ErrBranchLimit is returned when a project already has the maximum
	// number of branches.
	ErrBranchLimit = errors.New("branch limit reached")
	// ErrPinLimit is returned when a branch already has the maximum number
	// of pinned versions.
	ErrPinLimit = errors.New("pin limit reached")
)

// BuildStateStore persists single-page build state rows.
type BuildStateStore interface {
	SaveBuildState(ctx context.Context, state *models.BuildState) error
	GetBuildState(ctx context.Context, buildID string) (*models.BuildState, error)
}

// BuildPlanStore persists the durable task plans of multi-page sessions.
type BuildPlanStore interface {
	SaveBuildPlan(ctx context.Context, plan *models.BuildPlan) error
	GetBuildPlan(ctx context.Context, planID string) (*models.BuildPlan, error)
	// ListPlansByStatus returns plans in the given status, oldest first.
	ListPlansByStatus(ctx context.Context, status models.PlanStatus) ([]*models.BuildPlan, error)
}

// PageStore persists generated pages per (project, branch).
type PageStore interface {
	// UpsertPage inserts or updates a page keyed by (project, branch, slug).
	// When page.IsHome is set, any other page of the branch holding path "/"
	// is demoted to its slug path first.
	UpsertPage(ctx context.Context, page *models.ProjectPage) error
	GetPage(ctx context.Context, projectID, branchID, slug string) (*models.ProjectPage, error)
	ListPages(ctx context.Context, projectID, branchID string) ([]*models.ProjectPage, error)
	// ReplacePages swaps the full page set of a branch, used by rollback.
	ReplacePages(ctx context.Context, projectID, branchID string, pages []*models.ProjectPage) error
	SetThumbnailURL(ctx context.Context, projectID, branchID, slug, url string) error
}

// BranchStore persists version-history branches.
type BranchStore interface {
	// CreateBranch inserts a branch; returns ErrBranchLimit when the
	// project is at capacity.
	CreateBranch(ctx context.Context, branch *models.Branch) error
	GetBranch(ctx context.Context, branchID string) (*models.Branch, error)
	ListBranches(ctx context.Context, projectID string) ([]*models.Branch, error)
	// ActiveBranch returns the project's active branch.
	ActiveBranch(ctx context.Context, projectID string) (*models.Branch, error)
	SetActiveBranch(ctx context.Context, projectID, branchID string) error
}

// VersionStore persists version history: version rows plus their content as
// inline snapshots or diff-chain entries.
type VersionStore interface {
	// WithTx runs fn inside one transaction against a VersionStore bound to
	// it. The compression pass and rollback depend on this for atomicity.
	WithTx(ctx context.Context, fn func(tx VersionStore) error) error

	CreateVersion(ctx context.Context, v *models.Version) error
	GetVersion(ctx context.Context, versionID string) (*models.Version, error)
	// ListVersions returns a branch's versions, newest first.
	ListVersions(ctx context.Context, projectID, branchID string) ([]*models.Version, error)
	UpdateVersion(ctx context.Context, v *models.Version) error
	DeleteVersion(ctx context.Context, versionID string) error

	SaveSnapshot(ctx context.Context, snap *models.VersionSnapshot) error
	GetSnapshot(ctx context.Context, versionID string) (*models.VersionSnapshot, error)
	DeleteSnapshot(ctx context.Context, versionID string) error

	SaveDiff(ctx context.Context, diff *models.VersionDiff) error
	GetDiff(ctx context.Context, versionID string) (*models.VersionDiff, error)
	DeleteDiff(ctx context.Context, versionID string) error
	// ListDiffsBasedOn returns the diffs whose chain passes through the
	// given base version.
	ListDiffsBasedOn(ctx context.Context, baseVersionID string) ([]*models.VersionDiff, error)

	SaveAttempt(ctx context.Context, attempt *models.VersionAttempt) error
	ListAttempts(ctx context.Context, projectID string) ([]*models.VersionAttempt, error)
}

// ThumbnailJobStore persists the thumbnail queue.
type ThumbnailJobStore interface {
	// EnqueueJob inserts a job after marking any queued|running job for the
	// same (project, page, type) as failed with reason "superseded by new
	// job".
	EnqueueJob(ctx context.Context, job *models.ThumbnailJob) error
	// ClaimDue atomically claims the oldest due queued job of the given
	// type, marking it running. Returns ErrNoJobsAvailable when none is
	// ready.
	ClaimDue(ctx context.Context, jobType models.ThumbnailType, now time.Time) (*models.ThumbnailJob, error)
	UpdateJob(ctx context.Context, job *models.ThumbnailJob) error
	GetJob(ctx context.Context, jobID string) (*models.ThumbnailJob, error)
	// ListJobs returns a project's jobs, newest first.
	ListJobs(ctx context.Context, projectID string) ([]*models.ThumbnailJob, error)
	// RecoverOrphans re-queues running jobs whose updated_at is older than
	// the threshold, returning how many were recovered.
	RecoverOrphans(ctx context.Context, olderThan time.Time) (int, error)
}

// ProductDocStore persists product documents from the interview subsystem.
type ProductDocStore interface {
	SaveProductDoc(ctx context.Context, doc *models.ProductDoc) error
	GetProductDoc(ctx context.Context, projectID string) (*models.ProductDoc, error)
}

// Store aggregates every persistence concern of the runtime.
type Store interface {
	BuildStateStore
	BuildPlanStore
	PageStore
	BranchStore
	VersionStore
	ThumbnailJobStore
	ProductDocStore
}
