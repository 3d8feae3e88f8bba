package pipeline

import "context"

// CheckpointFunc publishes segmentOrdinal as the new checkpoint for the
// work item this pipeline run is processing, per §4.4's "after every
// successful bulk, publish lastSegmentOrdinal = max(batch)" via a
// lease-conditional update. Implementations (coordinator.Coordinator.
// PublishCheckpoint) reject a call made after the lease has been lost.
type CheckpointFunc func(ctx context.Context, segmentOrdinal int64) error
