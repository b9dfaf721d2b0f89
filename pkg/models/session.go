package models

import (
	"sync/atomic"
	"time"
)

// MaxPageRetries caps how many times a single failed page may be retried.
const MaxPageRetries = 3

// BuildSession is the in-memory multi-page build context. A session is
// created by the multi-page orchestrator, kept in a process-local registry
// keyed by ID, and exclusively owned by the goroutine driving it. Cancel and
// retry handlers only touch the atomic cancel flag and the retry bookkeeping
// through the orchestrator's methods.
type BuildSession struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	UserID    string     `json:"user_id"`
	Pages     []PageSpec `json:"pages"`

	Completed map[string]bool `json:"completed"`
	Failed    map[string]bool `json:"failed"`

	// Per-page HTML/JS buffers kept for cross-page link validation.
	PageHTML map[string]string `json:"-"`
	PageJS   map[string]string `json:"-"`

	RetryCount map[string]int          `json:"retry_count"`
	LastErrors map[string][]Diagnostic `json:"last_errors"`

	FinalChecksFailed bool   `json:"final_checks_failed"`
	PlanID            string `json:"plan_id"`

	CreatedAt time.Time `json:"created_at"`

	cancelled atomic.Bool
}

// NewBuildSession initialises the session maps for the given page specs.
func NewBuildSession(id, projectID, userID string, pages []PageSpec) *BuildSession {
	return &BuildSession{
		ID:         id,
		ProjectID:  projectID,
		UserID:     userID,
		Pages:      pages,
		Completed:  make(map[string]bool),
		Failed:     make(map[string]bool),
		PageHTML:   make(map[string]string),
		PageJS:     make(map[string]string),
		RetryCount: make(map[string]int),
		LastErrors: make(map[string][]Diagnostic),
		CreatedAt:  time.Now().UTC(),
	}
}

// Cancel sets the cooperative cancellation flag. The orchestrator checks it
// at every page boundary.
func (s *BuildSession) Cancel() { s.cancelled.Store(true) }

// IsCancelled reports whether cancellation has been requested.
func (s *BuildSession) IsCancelled() bool { return s.cancelled.Load() }

// Page returns the spec with the given id, or nil.
func (s *BuildSession) Page(pageID string) *PageSpec {
	for i := range s.Pages {
		if s.Pages[i].ID == pageID {
			return &s.Pages[i]
		}
	}
	return nil
}

// MainPage returns the spec flagged is_main, falling back to path "/".
func (s *BuildSession) MainPage() *PageSpec {
	for i := range s.Pages {
		if s.Pages[i].IsMain {
			return &s.Pages[i]
		}
	}
	for i := range s.Pages {
		if s.Pages[i].Path == "/" {
			return &s.Pages[i]
		}
	}
	return nil
}

// OrderedPages returns the session pages with the main page first, keeping
// the original order otherwise.
func (s *BuildSession) OrderedPages() []PageSpec {
	ordered := make([]PageSpec, 0, len(s.Pages))
	main := s.MainPage()
	if main != nil {
		ordered = append(ordered, *main)
	}
	for i := range s.Pages {
		if main != nil && s.Pages[i].ID == main.ID {
			continue
		}
		ordered = append(ordered, s.Pages[i])
	}
	return ordered
}

// FailedPages returns the ids of pages currently in the failed set.
func (s *BuildSession) FailedPages() []string {
	ids := make([]string, 0, len(s.Failed))
	for _, p := range s.Pages {
		if s.Failed[p.ID] {
			ids = append(ids, p.ID)
		}
	}
	return ids
}
