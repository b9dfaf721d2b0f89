package models

import "time"

// ThumbnailType distinguishes the two capture jobs.
type ThumbnailType string

const (
	JobTypeThumbnail ThumbnailType = "thumbnail"
	JobTypeOGImage   ThumbnailType = "og_image"
)

// ThumbnailStatus is the lifecycle status of a thumbnail job row.
type ThumbnailStatus string

const (
	JobStatusQueued  ThumbnailStatus = "queued"
	JobStatusRunning ThumbnailStatus = "running"
	JobStatusDone    ThumbnailStatus = "done"
	JobStatusFailed  ThumbnailStatus = "failed"
)

// DefaultMaxAttempts is the retry budget for a thumbnail job.
const DefaultMaxAttempts = 3

// ThumbnailJob is one row in the persisted thumbnail queue. At most one
// queued|running job exists per (project, page, type); enqueueing supersedes
// any earlier one.
type ThumbnailJob struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	PageID      string          `json:"page_id"`
	Type        ThumbnailType   `json:"type"`
	Status      ThumbnailStatus `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	NextRunAt   time.Time       `json:"next_run_at"`
	LastError   string          `json:"last_error,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
