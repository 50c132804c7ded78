package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockwatch/aggregator/internal/aggregate"
	"github.com/flockwatch/aggregator/internal/bus"
	"github.com/flockwatch/aggregator/internal/metrics"
	"github.com/flockwatch/aggregator/internal/model"
	"github.com/flockwatch/aggregator/internal/store"
)

type failingSource struct{}

func (failingSource) ListDetections(context.Context) ([]model.DetectionRecord, error) {
	return nil, errors.New("store offline")
}

func (failingSource) Counts(context.Context) (model.AggregateCounts, error) {
	return model.AggregateCounts{}, errors.New("store offline")
}

func newTestLoop(t *testing.T, source store.DetectionSource, cfg Config) (*aggregate.Aggregator, *Loop) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	agg := aggregate.New(logger, metrics.New(prometheus.NewRegistry()))
	t.Cleanup(agg.Close)

	loop := New(agg, source, cfg, metrics.New(prometheus.NewRegistry()), logger)
	t.Cleanup(loop.Close)
	return agg, loop
}

func barrier(a *aggregate.Aggregator) {
	a.Apply(func(*aggregate.Snapshot) {})
}

func TestLoop_RefreshReplacesDetections(t *testing.T) {
	mem := store.NewMemoryStore(16)
	mem.Upsert(model.DetectionRecord{ID: "det-a", ThreatLevel: model.ThreatHigh, FirstSeen: 100, LastSeen: 500, SeenCount: 1})
	mem.Upsert(model.DetectionRecord{ID: "det-b", ThreatLevel: model.ThreatLow, FirstSeen: 200, LastSeen: 900, SeenCount: 1})

	agg, loop := newTestLoop(t, mem, Config{})

	// Stale entries from a previous resync are replaced wholesale.
	agg.Apply(func(s *aggregate.Snapshot) {
		s.Detections = []model.DetectionRecord{{ID: "det-stale"}}
		s.DetectionCounts = model.AggregateCounts{Total: 1}
	})

	loop.Refresh(context.Background())
	barrier(agg)

	snap := agg.Latest()
	require.Len(t, snap.Detections, 2)
	assert.Equal(t, "det-b", snap.Detections[0].ID)
	assert.Equal(t, "det-a", snap.Detections[1].ID)
	assert.Equal(t, model.AggregateCounts{Total: 2, High: 1, Low: 1}, snap.DetectionCounts)
}

func TestLoop_RefreshErrorKeepsSnapshot(t *testing.T) {
	agg, loop := newTestLoop(t, failingSource{}, Config{})

	agg.Apply(func(s *aggregate.Snapshot) {
		s.Detections = []model.DetectionRecord{{ID: "det-kept"}}
		s.DetectionCounts = model.AggregateCounts{Total: 1}
	})

	loop.Refresh(context.Background())
	barrier(agg)

	snap := agg.Latest()
	require.Len(t, snap.Detections, 1)
	assert.Equal(t, "det-kept", snap.Detections[0].ID)
	assert.Equal(t, model.AggregateCounts{Total: 1}, snap.DetectionCounts)
}

func TestLoop_RefreshTopicTriggersResync(t *testing.T) {
	mem := store.NewMemoryStore(16)
	mem.Upsert(model.DetectionRecord{ID: "det-a", LastSeen: 100, SeenCount: 1})

	agg, loop := newTestLoop(t, mem, Config{Interval: time.Hour})

	conn := bus.NewMemBus()
	t.Cleanup(conn.Close)
	require.NoError(t, loop.Start(conn))

	require.NoError(t, conn.Publish(bus.TopicDetectionRefresh, nil))
	time.Sleep(200 * time.Millisecond)
	barrier(agg)

	snap := agg.Latest()
	require.Len(t, snap.Detections, 1)
	assert.Equal(t, "det-a", snap.Detections[0].ID)
}

func TestLoop_PeriodicResync(t *testing.T) {
	mem := store.NewMemoryStore(16)
	mem.Upsert(model.DetectionRecord{ID: "det-a", LastSeen: 100, SeenCount: 1})

	agg, loop := newTestLoop(t, mem, Config{Interval: 20 * time.Millisecond})

	conn := bus.NewMemBus()
	t.Cleanup(conn.Close)
	require.NoError(t, loop.Start(conn))

	time.Sleep(150 * time.Millisecond)
	barrier(agg)

	snap := agg.Latest()
	require.Len(t, snap.Detections, 1)
}

func TestLoop_RequestRefreshCoalesces(t *testing.T) {
	mem := store.NewMemoryStore(16)
	_, loop := newTestLoop(t, mem, Config{Interval: time.Hour})

	// Without a running goroutine the buffered trigger holds one entry;
	// further requests must not block.
	for i := 0; i < 10; i++ {
		loop.RequestRefresh()
	}
}

func TestLoop_CloseIdempotent(t *testing.T) {
	mem := store.NewMemoryStore(16)
	_, loop := newTestLoop(t, mem, Config{Interval: time.Hour})

	conn := bus.NewMemBus()
	t.Cleanup(conn.Close)
	require.NoError(t, loop.Start(conn))

	loop.Close()
	loop.Close()
}
