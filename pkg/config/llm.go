package config

import (
	"os"
	"strings"
)

// Env vars recognized for model selection.
const (
	EnvInterviewModel = "ZAOYA_INTERVIEW_MODEL"
	EnvInterviewMock  = "ZAOYA_INTERVIEW_MOCK"
)

// MockModelName is the sentinel model resolved when the mock flag is set.
const MockModelName = "mock"

// Agent role names used for model resolution.
const (
	RolePlanner     = "planner"
	RoleImplementer = "implementer"
	RoleReviewer    = "reviewer"
	RoleInterview   = "interview"
	RolePageWriter  = "page_writer"
)

// ModelConfig maps agent roles to provider model names.
type ModelConfig struct {
	Default     string
	Planner     string
	Implementer string
	Reviewer    string
	Interview   string
	PageWriter  string

	// MockEnabled forces every resolution to the mock model. Honoured for
	// tests via ZAOYA_INTERVIEW_MOCK.
	MockEnabled bool
}

// DefaultModelConfig returns the built-in model mapping with env overrides
// applied.
func DefaultModelConfig() *ModelConfig {
	c := &ModelConfig{
		Default: "gpt-4o",
	}
	if v := os.Getenv(EnvInterviewModel); v != "" {
		c.Interview = v
	}
	if v := os.Getenv(EnvInterviewMock); isTruthy(v) {
		c.MockEnabled = true
	}
	return c
}

// Resolve maps an agent role name to a concrete model name. Unknown roles
// and unset mappings fall back to Default; the mock flag overrides
// everything.
func (c *ModelConfig) Resolve(role string) string {
	if c.MockEnabled {
		return MockModelName
	}
	var name string
	switch role {
	case RolePlanner:
		name = c.Planner
	case RoleImplementer:
		name = c.Implementer
	case RoleReviewer:
		name = c.Reviewer
	case RoleInterview:
		name = c.Interview
	case RolePageWriter:
		name = c.PageWriter
	}
	if name == "" {
		return c.Default
	}
	return name
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
