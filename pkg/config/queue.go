package config

import "time"

// ThumbnailQueueConfig controls the thumbnail/OG-image worker loops.
type ThumbnailQueueConfig struct {
	// WorkersPerType is the number of concurrent jobs per job type.
	WorkersPerType int

	// PollInterval is the base interval for checking due jobs.
	PollInterval time.Duration

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration

	// CaptureTimeout is the hard timeout for one headless capture.
	CaptureTimeout time.Duration

	// OrphanThreshold is how long a running job may go without an update
	// before the sweep re-queues or fails it.
	OrphanThreshold time.Duration

	// OrphanSweepInterval is how often the orphan sweep runs.
	OrphanSweepInterval time.Duration
}

// RetryBackoff is the fixed retry schedule for failed thumbnail jobs,
// indexed by attempts-1.
var RetryBackoff = [...]time.Duration{
	30 * time.Second,
	45 * time.Second,
	60 * time.Second,
}

// DefaultThumbnailQueueConfig returns the built-in queue defaults. The
// two-worker floor matches the documented per-type concurrency bound.
func DefaultThumbnailQueueConfig() *ThumbnailQueueConfig {
	return &ThumbnailQueueConfig{
		WorkersPerType:      2,
		PollInterval:        2 * time.Second,
		PollIntervalJitter:  500 * time.Millisecond,
		CaptureTimeout:      30 * time.Second,
		OrphanThreshold:     5 * time.Minute,
		OrphanSweepInterval: time.Minute,
	}
}
