// Package config provides typed settings for the build runtime. Settings
// arrive from the embedding application; env vars are consulted only for
// the documented ZAOYA_* overrides and local .env development loading.
package config

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// Settings is the umbrella configuration object consumed by the runtime.
type Settings struct {
	Models     *ModelConfig
	Thumbnails *ThumbnailQueueConfig
	Limits     *Limits
}

// Limits groups the runtime's hard caps. Values mirror the documented
// product limits; -1 for VersionLimit means unlimited history.
type Limits struct {
	MaxPageRetries        int
	MaxPinnedPerBranch    int
	MaxBranchesPerProject int
	VersionLimit          int
}

// DefaultLimits returns the built-in caps.
func DefaultLimits() *Limits {
	return &Limits{
		MaxPageRetries:        3,
		MaxPinnedPerBranch:    3,
		MaxBranchesPerProject: 3,
		VersionLimit:          -1,
	}
}

// Default returns a fully populated Settings with built-in defaults and
// documented env overrides applied.
func Default() *Settings {
	return &Settings{
		Models:     DefaultModelConfig(),
		Thumbnails: DefaultThumbnailQueueConfig(),
		Limits:     DefaultLimits(),
	}
}

// LoadDotEnv loads a .env file into the process environment if one exists.
// Missing files are fine; parse failures are logged and ignored.
func LoadDotEnv() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	if err := godotenv.Load(); err != nil {
		slog.Warn("Failed to load .env file", "error", err)
	}
}
