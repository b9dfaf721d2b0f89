// Package thumbnail implements the persisted capture queue: page thumbnails
// and OG images rendered by a headless browser, with fixed-schedule retries
// and an SVG placeholder fallback once the budget is spent.
package thumbnail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TheSmartAz/zaoya/pkg/blob"
	"github.com/TheSmartAz/zaoya/pkg/config"
	"github.com/TheSmartAz/zaoya/pkg/models"
	"github.com/TheSmartAz/zaoya/pkg/store"
	"github.com/TheSmartAz/zaoya/pkg/validator"
)

// Storage is what the queue needs from the store. ListVersions backs the
// OG-image precondition: a project without a version has nothing published.
type Storage interface {
	store.ThumbnailJobStore
	store.PageStore
	store.BranchStore
	ListVersions(ctx context.Context, projectID, branchID string) ([]*models.Version, error)
}

// Service is the thumbnail queue: enqueue APIs plus the worker loops that
// claim and execute jobs.
type Service struct {
	st       Storage
	blob     blob.Storage
	renderer Renderer
	cfg      *config.ThumbnailQueueConfig

	wg sync.WaitGroup
}

// New creates a thumbnail service. A nil cfg selects the defaults.
func New(st Storage, blobStore blob.Storage, renderer Renderer, cfg *config.ThumbnailQueueConfig) *Service {
	if cfg == nil {
		cfg = config.DefaultThumbnailQueueConfig()
	}
	return &Service{st: st, blob: blobStore, renderer: renderer, cfg: cfg}
}

// EnqueueThumbnail schedules a thumbnail capture for a page, superseding any
// in-flight job for the same page.
func (s *Service) EnqueueThumbnail(ctx context.Context, projectID, pageID string) error {
	return s.enqueue(ctx, projectID, pageID, models.JobTypeThumbnail, 0)
}

// EnqueueOGImage schedules an OG-image capture, optionally delayed.
func (s *Service) EnqueueOGImage(ctx context.Context, projectID, pageID string, delay time.Duration) error {
	return s.enqueue(ctx, projectID, pageID, models.JobTypeOGImage, delay)
}

func (s *Service) enqueue(ctx context.Context, projectID, pageID string, jobType models.ThumbnailType, delay time.Duration) error {
	now := time.Now().UTC()
	job := &models.ThumbnailJob{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		PageID:      pageID,
		Type:        jobType,
		Status:      models.JobStatusQueued,
		MaxAttempts: models.DefaultMaxAttempts,
		NextRunAt:   now.Add(delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.st.EnqueueJob(ctx, job); err != nil {
		return fmt.Errorf("enqueueing %s job: %w", jobType, err)
	}
	return nil
}

// StoreClientImage accepts a pre-rendered capture as a data URL, writes it
// to blob storage, and records a done job. For thumbnails the page's
// thumbnail URL is updated too.
func (s *Service) StoreClientImage(ctx context.Context, projectID, pageID string, jobType models.ThumbnailType, dataURL string) (string, error) {
	mime, data, err := decodeDataURL(dataURL)
	if err != nil {
		return "", err
	}
	ext := "png"
	if parts := strings.SplitN(mime, "/", 2); len(parts) == 2 && parts[1] != "" {
		ext = parts[1]
	}

	url, err := s.blob.SaveBytes(ctx, blob.ClientImageKey(projectID, pageID, ext), data, mime)
	if err != nil {
		return "", fmt.Errorf("storing client image: %w", err)
	}

	now := time.Now().UTC()
	job := &models.ThumbnailJob{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		PageID:      pageID,
		Type:        jobType,
		Status:      models.JobStatusDone,
		MaxAttempts: models.DefaultMaxAttempts,
		ImageURL:    url,
		NextRunAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.st.EnqueueJob(ctx, job); err != nil {
		return "", fmt.Errorf("recording client image job: %w", err)
	}

	if jobType == models.JobTypeThumbnail {
		if err := s.setPageThumbnail(ctx, projectID, pageID, url); err != nil {
			slog.Warn("Setting page thumbnail failed",
				"project_id", projectID, "page_id", pageID, "error", err)
		}
	}
	return url, nil
}

// decodeDataURL parses "data:<mime>;base64,<payload>".
func decodeDataURL(dataURL string) (mime string, data []byte, err error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URL")
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URL")
	}
	mime, enc, _ := strings.Cut(header, ";")
	if enc != "base64" {
		return "", nil, fmt.Errorf("unsupported data URL encoding %q", enc)
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decoding data URL payload: %w", err)
	}
	return mime, data, nil
}

// Start launches the worker loops: two claim loops per job type plus the
// orphan sweep. Workers stop when ctx is cancelled; Wait blocks until they
// have drained.
func (s *Service) Start(ctx context.Context) {
	for _, jobType := range []models.ThumbnailType{models.JobTypeThumbnail, models.JobTypeOGImage} {
		for i := 0; i < s.cfg.WorkersPerType; i++ {
			s.wg.Add(1)
			go func(jt models.ThumbnailType) {
				defer s.wg.Done()
				s.workerLoop(ctx, jt)
			}(jobType)
		}
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.orphanLoop(ctx)
	}()
}

// Wait blocks until all worker loops have exited.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) workerLoop(ctx context.Context, jobType models.ThumbnailType) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.pollInterval()):
		}
		// Drain everything currently due before sleeping again.
		for {
			err := s.ProcessOne(ctx, jobType, time.Now().UTC())
			if errors.Is(err, store.ErrNoJobsAvailable) {
				break
			}
			if err != nil {
				slog.Error("Thumbnail job processing failed", "job_type", jobType, "error", err)
				break
			}
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// pollInterval returns the base interval with random jitter applied so the
// per-type workers do not thunder against the claim query.
func (s *Service) pollInterval() time.Duration {
	interval := s.cfg.PollInterval
	if j := s.cfg.PollIntervalJitter; j > 0 {
		interval += rand.N(2*j) - j
	}
	return interval
}

func (s *Service) orphanLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.OrphanSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := s.st.RecoverOrphans(ctx, time.Now().UTC().Add(-s.cfg.OrphanThreshold))
		if err != nil {
			slog.Error("Orphan sweep failed", "error", err)
			continue
		}
		if n > 0 {
			slog.Info("Recovered orphaned thumbnail jobs", "count", n)
		}
	}
}

// ProcessOne claims and executes the oldest due job of the given type.
// Returns store.ErrNoJobsAvailable when nothing is due at now.
func (s *Service) ProcessOne(ctx context.Context, jobType models.ThumbnailType, now time.Time) error {
	job, err := s.st.ClaimDue(ctx, jobType, now)
	if err != nil {
		return err
	}
	s.execute(ctx, job, now)
	return nil
}

// execute runs one claimed job to a terminal or re-queued state. Errors are
// job state, not return values; the row always gets updated.
func (s *Service) execute(ctx context.Context, job *models.ThumbnailJob, now time.Time) {
	// A job claimed with its budget already spent skips the capture and
	// goes straight to the placeholder.
	if job.Attempts >= job.MaxAttempts {
		branchID := ""
		var page *models.ProjectPage
		if branch, p, err := s.resolvePage(ctx, job); err == nil {
			branchID, page = branch.ID, p
		}
		s.placeholder(ctx, job, branchID, page, now)
		return
	}
	job.Attempts++

	branch, page, err := s.resolvePage(ctx, job)
	if err != nil {
		s.fail(ctx, job, "", nil, now, err)
		return
	}

	data, err := s.capture(ctx, job, page)
	if err != nil {
		s.fail(ctx, job, branch.ID, page, now, err)
		return
	}

	url, err := s.blob.SaveBytes(ctx, s.imageKey(job, "png"), data, "image/png")
	if err != nil {
		s.fail(ctx, job, branch.ID, page, now, fmt.Errorf("uploading image: %w", err))
		return
	}

	job.Status = models.JobStatusDone
	job.ImageURL = url
	job.LastError = ""
	job.UpdatedAt = time.Now().UTC()
	if err := s.st.UpdateJob(ctx, job); err != nil {
		slog.Error("Persisting done thumbnail job failed", "job_id", job.ID, "error", err)
		return
	}
	if job.Type == models.JobTypeThumbnail {
		if err := s.st.SetThumbnailURL(ctx, job.ProjectID, branch.ID, page.Slug, url); err != nil {
			slog.Warn("Setting page thumbnail failed", "page_id", job.PageID, "error", err)
		}
	}
	slog.Info("Thumbnail job done", "job_id", job.ID, "type", job.Type, "attempts", job.Attempts)
}

func (s *Service) resolvePage(ctx context.Context, job *models.ThumbnailJob) (*models.Branch, *models.ProjectPage, error) {
	branch, err := s.st.ActiveBranch(ctx, job.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving active branch: %w", err)
	}
	page, err := s.st.GetPage(ctx, job.ProjectID, branch.ID, job.PageID)
	if err != nil {
		return branch, nil, fmt.Errorf("loading page %s: %w", job.PageID, err)
	}
	return branch, page, nil
}

// capture renders the page and resizes the shot to the job type's target.
func (s *Service) capture(ctx context.Context, job *models.ThumbnailJob, page *models.ProjectPage) ([]byte, error) {
	doc := validator.Normalize(page.HTML)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CaptureTimeout)
	defer cancel()

	switch job.Type {
	case models.JobTypeOGImage:
		vs, err := s.st.ListVersions(ctx, job.ProjectID, page.BranchID)
		if err != nil {
			return nil, fmt.Errorf("checking published versions: %w", err)
		}
		if len(vs) == 0 {
			return nil, fmt.Errorf("project %s has no published snapshot", job.ProjectID)
		}
		shot, err := s.renderer.Capture(ctx, doc, OGImageViewport, false)
		if err != nil {
			return nil, err
		}
		return ResizePNG(shot, OGImageWidth, OGImageHeight)
	default:
		shot, err := s.renderer.Capture(ctx, doc, ThumbnailViewport, true)
		if err != nil {
			return nil, err
		}
		return ResizePNG(shot, ThumbnailWidth, ThumbnailHeight)
	}
}

// fail re-queues the job on the fixed backoff schedule while attempts
// remain, and falls back to the placeholder once they are spent.
func (s *Service) fail(ctx context.Context, job *models.ThumbnailJob, branchID string, page *models.ProjectPage, now time.Time, cause error) {
	job.LastError = cause.Error()
	if job.Attempts >= 1 && job.Attempts <= len(config.RetryBackoff) && job.Attempts <= job.MaxAttempts {
		job.Status = models.JobStatusQueued
		job.NextRunAt = now.Add(config.RetryBackoff[job.Attempts-1])
		job.UpdatedAt = time.Now().UTC()
		if err := s.st.UpdateJob(ctx, job); err != nil {
			slog.Error("Re-queueing thumbnail job failed", "job_id", job.ID, "error", err)
		}
		slog.Warn("Thumbnail job failed, re-queued",
			"job_id", job.ID, "attempts", job.Attempts, "next_run_at", job.NextRunAt, "error", cause)
		return
	}
	s.placeholder(ctx, job, branchID, page, now)
}

// placeholder uploads the SVG fallback, titled with the page name on the
// page's design background, and marks the job failed with the placeholder
// URL set.
func (s *Service) placeholder(ctx context.Context, job *models.ThumbnailJob, branchID string, page *models.ProjectPage, now time.Time) {
	width, height := ThumbnailWidth, ThumbnailHeight
	if job.Type == models.JobTypeOGImage {
		width, height = OGImageWidth, OGImageHeight
	}
	title, background := job.PageID, ""
	if page != nil {
		title = page.Name
		background = BackgroundColor(page.HTML)
	}
	svg := PlaceholderSVG(title, width, height, background)

	url, err := s.blob.SaveBytes(ctx, s.imageKey(job, "svg"), svg, "image/svg+xml")
	if err != nil {
		slog.Error("Uploading placeholder failed", "job_id", job.ID, "error", err)
	} else {
		job.ImageURL = url
	}

	job.Status = models.JobStatusFailed
	job.UpdatedAt = time.Now().UTC()
	if err := s.st.UpdateJob(ctx, job); err != nil {
		slog.Error("Persisting failed thumbnail job failed", "job_id", job.ID, "error", err)
		return
	}
	if job.Type == models.JobTypeThumbnail && branchID != "" && url != "" {
		if err := s.st.SetThumbnailURL(ctx, job.ProjectID, branchID, job.PageID, url); err != nil {
			slog.Warn("Setting placeholder thumbnail failed", "page_id", job.PageID, "error", err)
		}
	}
	slog.Warn("Thumbnail job exhausted retries, placeholder served",
		"job_id", job.ID, "type", job.Type, "attempts", job.Attempts)
}

func (s *Service) imageKey(job *models.ThumbnailJob, ext string) string {
	if job.Type == models.JobTypeOGImage {
		return blob.OGImageKey(job.ProjectID, job.PageID, ext)
	}
	return blob.ThumbnailKey(job.ProjectID, job.PageID, ext)
}

// setPageThumbnail updates the page's thumbnail URL on the active branch.
func (s *Service) setPageThumbnail(ctx context.Context, projectID, pageID, url string) error {
	branch, err := s.st.ActiveBranch(ctx, projectID)
	if err != nil {
		return fmt.Errorf("resolving active branch: %w", err)
	}
	return s.st.SetThumbnailURL(ctx, projectID, branch.ID, pageID, url)
}
