// Package store provides read access to the detector's source-of-truth
// detection store. The aggregator never writes detections; it pulls the
// authoritative list and counts during reconciliation.
package store

import (
	"context"

	"github.com/flockwatch/aggregator/internal/model"
)

// DetectionSource is the read-only client over the authoritative detection
// store. Implementations must be safe for concurrent use.
type DetectionSource interface {
	// ListDetections returns every stored detection, newest LastSeen first.
	ListDetections(ctx context.Context) ([]model.DetectionRecord, error)

	// Counts returns the per-threat-level totals.
	Counts(ctx context.Context) (model.AggregateCounts, error)
}
