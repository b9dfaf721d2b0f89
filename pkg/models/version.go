package models

import "time"

// ValidationStatus records how a version's content fared against the
// validator at creation time.
type ValidationStatus string

const (
	ValidationPassed  ValidationStatus = "passed"
	ValidationFailed  ValidationStatus = "failed"
	ValidationUnknown ValidationStatus = "unknown"
)

// Version limits.
const (
	// MaxPinnedPerBranch caps pins per branch.
	MaxPinnedPerBranch = 3
	// MaxBranchesPerProject hard-caps branches per project.
	MaxBranchesPerProject = 3
	// SnapshotWindow is how many of the most recent non-failed versions on a
	// branch keep full inline snapshots; older versions are stored as diffs.
	SnapshotWindow = 3
)

// ChangeSummary summarises what changed between a version and its parent.
type ChangeSummary struct {
	FilesChanged   int      `json:"files_changed"`
	LinesAdded     int      `json:"lines_added"`
	LinesDeleted   int      `json:"lines_deleted"`
	Description    string   `json:"description,omitempty"`
	TasksCompleted []string `json:"tasks_completed,omitempty"`
}

// Version is one entry in a project's version history. Content is stored by
// reference: either an inline VersionSnapshot or a VersionDiff chained to a
// newer anchor snapshot.
type Version struct {
	ID               string           `json:"id"`
	ProjectID        string           `json:"project_id"`
	ParentID         string           `json:"parent_id,omitempty"`
	BranchID         string           `json:"branch_id,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	Summary          ChangeSummary    `json:"change_summary"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	Pinned           bool             `json:"pinned"`
}

// PageContent is one page's content inside a snapshot.
type PageContent struct {
	PageID string `json:"page_id"`
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Path   string `json:"path"`
	IsHome bool   `json:"is_home"`
	HTML   string `json:"html"`
	JS     string `json:"js,omitempty"`
}

// VersionSnapshot holds the full page content of a version inline.
type VersionSnapshot struct {
	VersionID string        `json:"version_id"`
	Pages     []PageContent `json:"pages"`
	CreatedAt time.Time     `json:"created_at"`
}

// VersionDiff stores a version's content as a patch against a newer anchor
// snapshot (BaseVersionID). Diffs are resolved iteratively along the chain.
type VersionDiff struct {
	VersionID     string    `json:"version_id"`
	BaseVersionID string    `json:"base_version_id"`
	Patch         string    `json:"patch"`
	CreatedAt     time.Time `json:"created_at"`
}

// VersionAttempt records a failed build's would-be version: the snapshot at
// failure time plus the diagnostics that sank it.
type VersionAttempt struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"project_id"`
	BranchID    string        `json:"branch_id,omitempty"`
	Error       string        `json:"error"`
	Diagnostics []Diagnostic  `json:"diagnostics,omitempty"`
	Pages       []PageContent `json:"pages,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}
