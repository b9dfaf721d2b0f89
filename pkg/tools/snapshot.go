package tools

import "context"

// Snapshotter records a point-in-time snapshot of the project during a
// build. The version store provides the real implementation; builds that
// run without version history use NopSnapshotter.
type Snapshotter interface {
	Snapshot(ctx context.Context, buildID, note string) error
}

// NopSnapshotter ignores snapshot requests.
type NopSnapshotter struct{}

// Snapshot implements Snapshotter.
func (NopSnapshotter) Snapshot(context.Context, string, string) error { return nil }
