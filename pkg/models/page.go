// Package models defines the core domain types for the zaoya build runtime:
// page specs, build sessions, single-page build state, build graphs, version
// history, and thumbnail jobs. Types here are persistence- and
// transport-agnostic; stores and orchestrators depend on models, never the
// other way around.
package models

import "time"

// PageSpec describes one page to build. Specs are ordered within a session
// and immutable for the session's lifetime. Exactly one spec per session has
// IsMain set; that page is stored under path "/".
type PageSpec struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	Sections []string `json:"sections"`
	IsMain   bool     `json:"is_main"`
}

// ProjectPage is the durable record of a generated page on a branch.
type ProjectPage struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	BranchID     string    `json:"branch_id"`
	Slug         string    `json:"slug"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	IsHome       bool      `json:"is_home"`
	HTML         string    `json:"html"`
	JS           string    `json:"js"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Branch is a line of version history within a project. Each project has
// exactly one active branch and at most three branches total.
type Branch struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Label     string    `json:"label,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// ProductDoc is the product document produced by the interview subsystem.
// The build runtime consumes it verbatim as prompt context.
type ProductDoc struct {
	ProjectID string    `json:"project_id"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}
