// Package events implements the in-process progress bus for build sessions.
// Publishers (orchestrators, the thumbnail queue) emit typed payloads on a
// per-session topic; subscribers receive them over bounded channels and
// render them as SSE frames.
package events

import (
	"encoding/json"
	"time"

	"github.com/TheSmartAz/zaoya/pkg/models"
)

// SSE event names (the "event:" field of a frame).
const (
	EventTask          = "task"
	EventCard          = "card"
	EventPlanUpdate    = "plan_update"
	EventPreviewUpdate = "preview_update"
)

// Task payload types carried in the "type" field of task events.
const (
	TaskStarted       = "task_started"
	TaskDone          = "task_done"
	TaskFailed        = "task_failed"
	TaskAgentThinking = "agent_thinking"
	TaskToolCall      = "tool_call"
	// TaskBuildComplete is the terminal task event; Status is done or
	// failed.
	TaskBuildComplete = "build_complete"
)

// Card types.
const (
	CardPage       = "page"
	CardValidation = "validation"
	CardBuildPlan  = "build_plan"
	CardVersion    = "version"
)

// Event is one bus message: an SSE event name plus its marshalled payload.
type Event struct {
	Name    string
	Payload json.RawMessage
}

// TaskPayload is the payload of task events. Every event carries enough
// identity that a reconnecting subscriber can resume.
type TaskPayload struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	ProjectID string `json:"project_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// CardPayload carries a typed card shown in the build feed.
type CardPayload struct {
	CardType  string `json:"card_type"` // page, validation, build_plan, version
	SessionID string `json:"session_id"`
	ProjectID string `json:"project_id,omitempty"`
	PageID    string `json:"page_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

// PlanUpdatePayload publishes the full task list after a plan change.
type PlanUpdatePayload struct {
	SessionID string            `json:"session_id"`
	ProjectID string            `json:"project_id,omitempty"`
	PlanID    string            `json:"plan_id"`
	Status    models.PlanStatus `json:"status"`
	Tasks     []models.PlanTask `json:"tasks"`
	Done      int               `json:"done"`
	Total     int               `json:"total"`
	Timestamp string            `json:"timestamp"`
}

// PreviewUpdatePayload announces that a new page render is available.
type PreviewUpdatePayload struct {
	SessionID string `json:"session_id"`
	PageID    string `json:"page_id"`
	Path      string `json:"path,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Now formats the current time the way every payload timestamps itself.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NewEvent marshals a typed payload into a bus event. Marshal failures
// cannot happen for the payload structs above; the error return keeps the
// call sites honest anyway.
func NewEvent(name string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Payload: data}, nil
}
