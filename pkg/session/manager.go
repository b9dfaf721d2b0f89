// Package session implements the multi-page build orchestrator. A Manager
// owns a process-local registry of BuildSessions, drives page generation
// sequentially through the page writer, enforces the cross-page link
// invariant, and records versions on success. Durable progress lives in the
// BuildPlan row; everything else is in-memory and rebuilt per process.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TheSmartAz/zaoya/pkg/agent"
	"github.com/TheSmartAz/zaoya/pkg/events"
	"github.com/TheSmartAz/zaoya/pkg/models"
	"github.com/TheSmartAz/zaoya/pkg/store"
	"github.com/TheSmartAz/zaoya/pkg/versions"
)

// Sentinel errors.
var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRetryLimit is returned when a page has exhausted its retry budget.
	ErrRetryLimit = errors.New("page retry limit reached")
)

// Storage is what the manager needs from the store.
type Storage interface {
	store.BuildPlanStore
	store.PageStore
	store.BranchStore
	store.ProductDocStore
	SaveAttempt(ctx context.Context, attempt *models.VersionAttempt) error
}

// PageGenerator produces one page from a spec. Implemented by
// agent.PageWriter.
type PageGenerator interface {
	Generate(ctx context.Context, in agent.PageWriterInput) (*agent.PageOutput, *agent.CallMeta, error)
}

// VersionCreator records a version after a clean build. Implemented by
// versions.Service.
type VersionCreator interface {
	CreateFromProject(ctx context.Context, projectID, branchID string, opts versions.CreateOptions) (*models.Version, error)
}

// ThumbnailEnqueuer schedules a thumbnail capture for a saved page.
// Implemented by thumbnail.Service.
type ThumbnailEnqueuer interface {
	EnqueueThumbnail(ctx context.Context, projectID, pageID string) error
}

// sessionEntry pairs a live session with its per-session prompt context.
type sessionEntry struct {
	sess   *models.BuildSession
	design string
}

// Manager is the multi-page orchestrator. Sessions are single-owner: only
// the goroutine driving StreamProgress mutates a session's buffers; Cancel
// and RetryPage interact through the atomic flag and the manager's methods.
type Manager struct {
	st       Storage
	writer   PageGenerator
	versions VersionCreator
	thumbs   ThumbnailEnqueuer
	bus      *events.Bus

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// Config wires a Manager.
type Config struct {
	Store    Storage
	Writer   PageGenerator
	Versions VersionCreator
	Thumbs   ThumbnailEnqueuer
	Bus      *events.Bus
}

// NewManager creates a session manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		st:       cfg.Store,
		writer:   cfg.Writer,
		versions: cfg.Versions,
		thumbs:   cfg.Thumbs,
		bus:      cfg.Bus,
		sessions: make(map[string]*sessionEntry),
	}
}

// CreateSessionInput describes a new multi-page build.
type CreateSessionInput struct {
	ProjectID string
	UserID    string
	Pages     []models.PageSpec
	// DesignRequirements carries design-system notes from the interview.
	DesignRequirements string
}

// CreateSession registers a session and persists its BuildPlan preview row.
// The plan expands each page into six micro-tasks plus the four
// project-level tasks.
func (m *Manager) CreateSession(ctx context.Context, in CreateSessionInput) (*models.BuildSession, error) {
	if len(in.Pages) == 0 {
		return nil, fmt.Errorf("session needs at least one page")
	}
	mains := 0
	for _, p := range in.Pages {
		if p.IsMain {
			mains++
		}
	}
	if mains != 1 {
		return nil, fmt.Errorf("session needs exactly one main page, got %d", mains)
	}

	sess := models.NewBuildSession(uuid.New().String(), in.ProjectID, in.UserID, in.Pages)

	plan := &models.BuildPlan{
		ID:        uuid.New().String(),
		SessionID: sess.ID,
		ProjectID: in.ProjectID,
		Status:    models.PlanStatusPending,
		Tasks:     models.ExpandPlanTasks(in.Pages),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := m.st.SaveBuildPlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("persisting build plan: %w", err)
	}
	sess.PlanID = plan.ID

	m.mu.Lock()
	m.sessions[sess.ID] = &sessionEntry{sess: sess, design: in.DesignRequirements}
	m.mu.Unlock()

	m.publishCard(sess, events.CardBuildPlan, "", "Build plan", plan)
	return sess, nil
}

// Get returns a registered session.
func (m *Manager) Get(sessionID string) (*models.BuildSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry.sess, nil
}

// Cancel requests cooperative cancellation; the build halts at the next
// page boundary.
func (m *Manager) Cancel(sessionID string) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	sess.Cancel()
	return nil
}

// Remove drops a session from the registry. Failed sessions are retained
// until the embedder calls this; successful sessions remove themselves.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// FailInterrupted marks BuildPlans left RUNNING by a previous process as
// failed. Called once at startup; in-flight sessions do not survive a
// restart.
func (m *Manager) FailInterrupted(ctx context.Context) (int, error) {
	plans, err := m.st.ListPlansByStatus(ctx, models.PlanStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("listing running plans: %w", err)
	}
	failed := 0
	for _, plan := range plans {
		plan.Status = models.PlanStatusFailed
		plan.UpdatedAt = time.Now().UTC()
		if err := m.st.SaveBuildPlan(ctx, plan); err != nil {
			return failed, fmt.Errorf("failing interrupted plan %s: %w", plan.ID, err)
		}
		slog.Info("Marked interrupted build plan failed",
			"plan_id", plan.ID, "session_id", plan.SessionID)
		failed++
	}
	return failed, nil
}

// setTask updates one micro-task, persists the plan, and publishes a
// plan_update snapshot.
func (m *Manager) setTask(ctx context.Context, sess *models.BuildSession, plan *models.BuildPlan, taskID string, status models.PlanTaskStatus) {
	task := plan.Task(taskID)
	if task == nil {
		return
	}
	task.Status = status
	m.savePlan(ctx, sess, plan)
}

// savePlan persists the plan and publishes a plan_update snapshot.
func (m *Manager) savePlan(ctx context.Context, sess *models.BuildSession, plan *models.BuildPlan) {
	plan.UpdatedAt = time.Now().UTC()
	if err := m.st.SaveBuildPlan(ctx, plan); err != nil {
		slog.Warn("Persisting build plan failed", "plan_id", plan.ID, "error", err)
	}
	if m.bus == nil {
		return
	}
	done, total := plan.Counts()
	ev, err := events.NewEvent(events.EventPlanUpdate, events.PlanUpdatePayload{
		SessionID: sess.ID,
		ProjectID: sess.ProjectID,
		PlanID:    plan.ID,
		Status:    plan.Status,
		Tasks:     plan.Tasks,
		Done:      done,
		Total:     total,
		Timestamp: events.Now(),
	})
	if err != nil {
		return
	}
	m.bus.Publish(sess.ID, ev)
}

func (m *Manager) publishTask(sess *models.BuildSession, taskType, taskID, status, message string) {
	if m.bus == nil {
		return
	}
	ev, err := events.NewEvent(events.EventTask, events.TaskPayload{
		Type:      taskType,
		SessionID: sess.ID,
		ProjectID: sess.ProjectID,
		TaskID:    taskID,
		Status:    status,
		Message:   message,
		Timestamp: events.Now(),
	})
	if err != nil {
		return
	}
	m.bus.Publish(sess.ID, ev)
}

func (m *Manager) publishCard(sess *models.BuildSession, cardType, pageID, title string, data any) {
	if m.bus == nil {
		return
	}
	ev, err := events.NewEvent(events.EventCard, events.CardPayload{
		CardType:  cardType,
		SessionID: sess.ID,
		ProjectID: sess.ProjectID,
		PageID:    pageID,
		Title:     title,
		Data:      data,
		Timestamp: events.Now(),
	})
	if err != nil {
		return
	}
	m.bus.Publish(sess.ID, ev)
}

func (m *Manager) publishPreview(sess *models.BuildSession, pageID, path string) {
	if m.bus == nil {
		return
	}
	ev, err := events.NewEvent(events.EventPreviewUpdate, events.PreviewUpdatePayload{
		SessionID: sess.ID,
		PageID:    pageID,
		Path:      path,
		Timestamp: events.Now(),
	})
	if err != nil {
		return
	}
	m.bus.Publish(sess.ID, ev)
}
