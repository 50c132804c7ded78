package command

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockwatch/aggregator/internal/aggregate"
	"github.com/flockwatch/aggregator/internal/bus"
	"github.com/flockwatch/aggregator/internal/metrics"
	"github.com/flockwatch/aggregator/internal/model"
	"github.com/flockwatch/aggregator/internal/validate"
)

type stubRefresher struct {
	n atomic.Int32
}

func (r *stubRefresher) RequestRefresh() { r.n.Add(1) }

type failingConn struct{}

func (failingConn) Publish(string, []byte) error { return errors.New("bus unavailable") }
func (failingConn) Subscribe(string, bus.Handler) (bus.Subscription, error) {
	return nil, errors.New("bus unavailable")
}
func (failingConn) QueueSubscribe(string, string, bus.Handler) (bus.Subscription, error) {
	return nil, errors.New("bus unavailable")
}
func (failingConn) Close() {}

func newTestDispatcher(t *testing.T, conn bus.Conn, refresher Refresher, delay time.Duration) (*aggregate.Aggregator, *Dispatcher) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	agg := aggregate.New(logger, metrics.New(prometheus.NewRegistry()))
	t.Cleanup(agg.Close)

	d := NewDispatcher(conn, agg, refresher, delay, metrics.New(prometheus.NewRegistry()), logger)
	t.Cleanup(d.Close)
	return agg, d
}

func barrier(a *aggregate.Aggregator) {
	a.Apply(func(*aggregate.Snapshot) {})
}

func TestDispatcher_StartOptimisticBeforePublish(t *testing.T) {
	conn := bus.NewMemBus()
	t.Cleanup(conn.Close)
	agg, d := newTestDispatcher(t, conn, nil, time.Hour)

	// In-process delivery is synchronous, so the handler observes the
	// snapshot exactly as it is when the envelope goes out.
	observed := make(chan aggregate.Snapshot, 1)
	_, err := conn.Subscribe(bus.CommandSubject(CmdStartScanning), func(_ string, _ []byte) {
		observed <- agg.Latest()
	})
	require.NoError(t, err)

	d.Start()

	select {
	case snap := <-observed:
		assert.True(t, snap.ScanningEnabled)
		assert.Equal(t, model.ScanStarting, snap.ScanStatus)
	default:
		t.Fatal("start command never published")
	}
}

func TestDispatcher_StopOptimistic(t *testing.T) {
	conn := bus.NewMemBus()
	t.Cleanup(conn.Close)
	agg, d := newTestDispatcher(t, conn, nil, time.Hour)

	d.Start()
	d.Stop()

	snap := agg.Latest()
	assert.False(t, snap.ScanningEnabled)
	assert.Equal(t, model.ScanStopping, snap.ScanStatus)
}

func TestDispatcher_ResyncOverwritesOptimisticState(t *testing.T) {
	conn := bus.NewMemBus()
	t.Cleanup(conn.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	agg := aggregate.New(logger, metrics.New(prometheus.NewRegistry()))
	t.Cleanup(agg.Close)

	val, err := validate.NewValidator(logger)
	require.NoError(t, err)
	require.NoError(t, agg.Watch(conn, bus.NewDecoder(logger), val))

	// Detector stand-in: request-state triggers an authoritative republish
	// that contradicts the optimistic value.
	_, err = conn.Subscribe(bus.CommandSubject(CmdRequestState), func(_ string, _ []byte) {
		conn.Publish(bus.TopicScanning, []byte("false"))
		conn.Publish(bus.TopicScanStatus, []byte(`"idle"`))
	})
	require.NoError(t, err)

	d := NewDispatcher(conn, agg, nil, 30*time.Millisecond, metrics.New(prometheus.NewRegistry()), logger)
	t.Cleanup(d.Close)

	d.Start()

	snap := agg.Latest()
	require.True(t, snap.ScanningEnabled)
	require.Equal(t, model.ScanStarting, snap.ScanStatus)

	time.Sleep(200 * time.Millisecond)
	barrier(agg)

	snap = agg.Latest()
	assert.False(t, snap.ScanningEnabled)
	assert.Equal(t, model.ScanIdle, snap.ScanStatus)
}

func TestDispatcher_BackToBackStartStopOneResync(t *testing.T) {
	conn := bus.NewMemBus()
	t.Cleanup(conn.Close)
	_, d := newTestDispatcher(t, conn, nil, 50*time.Millisecond)

	var resyncs atomic.Int32
	_, err := conn.Subscribe(bus.CommandSubject(CmdRequestState), func(_ string, _ []byte) {
		resyncs.Add(1)
	})
	require.NoError(t, err)

	d.Start()
	d.Stop()

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, int32(1), resyncs.Load())
}

func TestDispatcher_RequestStateNoOptimisticEffect(t *testing.T) {
	conn := bus.NewMemBus()
	t.Cleanup(conn.Close)
	agg, d := newTestDispatcher(t, conn, nil, time.Hour)

	before := agg.Latest()
	d.RequestState()
	after := agg.Latest()

	assert.Equal(t, before.Generation, after.Generation)
	assert.Equal(t, before.ScanningEnabled, after.ScanningEnabled)
}

func TestDispatcher_ClearOptimisticEffects(t *testing.T) {
	conn := bus.NewMemBus()
	t.Cleanup(conn.Close)
	agg, d := newTestDispatcher(t, conn, nil, time.Hour)

	agg.Apply(func(s *aggregate.Snapshot) {
		s.ShortRangeDevices = []model.SeenDevice{{ID: "dev-1"}}
		s.WifiDevices = []model.SeenDevice{{ID: "dev-2"}}
		s.Cellular.Towers = []model.CellTower{{CellID: "310-410-1234"}}
		s.Cellular.Events = []model.CellEvent{{Description: "tower change"}}
		s.Satellite.History = []model.SatEvent{{Description: "link drop"}}
		s.Errors = []model.ErrorEntry{{Message: "boom"}}
		s.DetectionCounts = model.AggregateCounts{Total: 4, High: 4}
	})

	d.Clear(KindSeenDevices)
	snap := agg.Latest()
	assert.Empty(t, snap.ShortRangeDevices)
	assert.Empty(t, snap.WifiDevices)
	assert.NotEmpty(t, snap.Cellular.Towers)

	d.Clear(KindCellularHistory)
	snap = agg.Latest()
	assert.Empty(t, snap.Cellular.Towers)
	assert.Empty(t, snap.Cellular.Events)

	d.Clear(KindSatelliteHistory)
	assert.Empty(t, agg.Latest().Satellite.History)

	d.Clear(KindErrors)
	assert.Empty(t, agg.Latest().Errors)

	d.Clear(KindDetectionCount)
	assert.Equal(t, model.AggregateCounts{}, agg.Latest().DetectionCounts)
}

func TestDispatcher_DetectionAffectingKindsTriggerRefresh(t *testing.T) {
	conn := bus.NewMemBus()
	t.Cleanup(conn.Close)
	ref := &stubRefresher{}
	_, d := newTestDispatcher(t, conn, ref, time.Hour)

	d.Clear(KindErrors)
	d.Clear(KindSeenDevices)
	assert.Equal(t, int32(0), ref.n.Load())

	d.Clear(KindDetectionCount)
	assert.Equal(t, int32(1), ref.n.Load())

	d.Clear(KindLearnedSignatures)
	assert.Equal(t, int32(2), ref.n.Load())
}

func TestDispatcher_UnknownClearKindPublishesNothing(t *testing.T) {
	conn := bus.NewMemBus()
	t.Cleanup(conn.Close)
	_, d := newTestDispatcher(t, conn, nil, time.Hour)

	var published atomic.Int32
	_, err := conn.Subscribe(bus.CommandWildcard, func(_ string, _ []byte) {
		published.Add(1)
	})
	require.NoError(t, err)

	d.Clear(ClearKind("defrost"))
	assert.Equal(t, int32(0), published.Load())
}

func TestDispatcher_EnvelopeWellFormed(t *testing.T) {
	conn := bus.NewMemBus()
	t.Cleanup(conn.Close)
	_, d := newTestDispatcher(t, conn, nil, time.Hour)

	var got Envelope
	_, err := conn.Subscribe(bus.CommandSubject(CmdClearErrors), func(_ string, data []byte) {
		require.NoError(t, json.Unmarshal(data, &got))
	})
	require.NoError(t, err)

	d.Clear(KindErrors)

	assert.Equal(t, CmdClearErrors, got.Name)
	_, err = uuid.Parse(got.ID)
	assert.NoError(t, err)
	_, err = time.Parse(time.RFC3339, got.IssuedAt)
	assert.NoError(t, err)
}

func TestDispatcher_PublishFailureKeepsOptimisticState(t *testing.T) {
	agg, d := newTestDispatcher(t, failingConn{}, nil, time.Hour)

	d.Start()

	snap := agg.Latest()
	assert.True(t, snap.ScanningEnabled)
	assert.Equal(t, model.ScanStarting, snap.ScanStatus)
}
