// Package command sends control commands to the detector process. Commands
// with a user-visible effect apply an optimistic snapshot update before the
// envelope leaves the process; the scheduled resync replaces the optimistic
// value with ground truth once the detector republishes.
package command

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flockwatch/aggregator/internal/aggregate"
	"github.com/flockwatch/aggregator/internal/bus"
	"github.com/flockwatch/aggregator/internal/metrics"
	"github.com/flockwatch/aggregator/internal/model"
)

// Command names as they appear on the wire.
const (
	CmdStartScanning          = "start-scanning"
	CmdStopScanning           = "stop-scanning"
	CmdRequestState           = "request-state"
	CmdClearSeenDevices       = "clear-seen-devices"
	CmdClearCellularHistory   = "clear-cellular-history"
	CmdClearSatelliteHistory  = "clear-satellite-history"
	CmdClearErrors            = "clear-errors"
	CmdClearLearnedSignatures = "clear-learned-signatures"
	CmdResetDetectionCount    = "reset-detection-count"
)

// DefaultResyncDelay is how long after Start/Stop the forced resync fires.
// Long enough for the detector's own push updates to arrive first in the
// common case, short enough that a missed registration heals quickly.
const DefaultResyncDelay = 500 * time.Millisecond

// Envelope is the wire form of a command.
type Envelope struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IssuedAt string `json:"issued_at"`
}

// NewEnvelope builds an envelope for a named command.
func NewEnvelope(name string) Envelope {
	return Envelope{
		ID:       uuid.NewString(),
		Name:     name,
		IssuedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// ClearKind selects which detector-side history a Clear command targets.
type ClearKind string

const (
	KindSeenDevices       ClearKind = "seen-devices"
	KindCellularHistory   ClearKind = "cellular-history"
	KindSatelliteHistory  ClearKind = "satellite-history"
	KindErrors            ClearKind = "errors"
	KindLearnedSignatures ClearKind = "learned-signatures"
	KindDetectionCount    ClearKind = "detection-count"
)

// Refresher triggers a detection resync after commands that mutate the
// detector's stored detections.
type Refresher interface {
	RequestRefresh()
}

// Dispatcher publishes command envelopes fire-and-forget. Publish failures
// are logged and counted, never retried: the scheduled resync and the next
// reconciliation self-heal.
type Dispatcher struct {
	conn      bus.Conn
	agg       *aggregate.Aggregator
	refresher Refresher
	delay     time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewDispatcher builds a dispatcher. refresher may be nil; delay <= 0 uses
// DefaultResyncDelay.
func NewDispatcher(conn bus.Conn, agg *aggregate.Aggregator, refresher Refresher, delay time.Duration, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if delay <= 0 {
		delay = DefaultResyncDelay
	}
	return &Dispatcher{
		conn:      conn,
		agg:       agg,
		refresher: refresher,
		delay:     delay,
		metrics:   m,
		logger:    logger,
	}
}

// Start enables scanning. The optimistic snapshot change is acknowledged by
// the merge loop before the command is published.
func (d *Dispatcher) Start() {
	d.agg.Apply(func(s *aggregate.Snapshot) {
		s.ScanningEnabled = true
		s.ScanStatus = model.ScanStarting
	})
	d.publish(CmdStartScanning)
	d.scheduleResync()
}

// Stop disables scanning.
func (d *Dispatcher) Stop() {
	d.agg.Apply(func(s *aggregate.Snapshot) {
		s.ScanningEnabled = false
		s.ScanStatus = model.ScanStopping
	})
	d.publish(CmdStopScanning)
	d.scheduleResync()
}

// RequestState asks the detector to force-republish every topic. It has no
// optimistic effect.
func (d *Dispatcher) RequestState() {
	d.publish(CmdRequestState)
}

// Clear empties the detector-side history selected by kind, mirroring the
// deletion in the snapshot immediately. Unknown kinds are logged and
// dropped.
func (d *Dispatcher) Clear(kind ClearKind) {
	var name string
	var apply func(*aggregate.Snapshot)

	switch kind {
	case KindSeenDevices:
		name = CmdClearSeenDevices
		apply = func(s *aggregate.Snapshot) {
			s.ShortRangeDevices = nil
			s.WifiDevices = nil
		}
	case KindCellularHistory:
		name = CmdClearCellularHistory
		apply = func(s *aggregate.Snapshot) {
			s.Cellular.Towers = nil
			s.Cellular.Events = nil
		}
	case KindSatelliteHistory:
		name = CmdClearSatelliteHistory
		apply = func(s *aggregate.Snapshot) {
			s.Satellite.History = nil
		}
	case KindErrors:
		name = CmdClearErrors
		apply = func(s *aggregate.Snapshot) {
			s.Errors = nil
		}
	case KindLearnedSignatures:
		// Signatures live detector-side only; nothing in the snapshot to
		// mirror.
		name = CmdClearLearnedSignatures
	case KindDetectionCount:
		name = CmdResetDetectionCount
		apply = func(s *aggregate.Snapshot) {
			s.DetectionCounts = model.AggregateCounts{}
		}
	default:
		d.logger.Warn("Unknown clear kind", "kind", string(kind))
		return
	}

	if apply != nil {
		d.agg.Apply(apply)
	}
	d.publish(name)

	if d.refresher != nil && (kind == KindLearnedSignatures || kind == KindDetectionCount) {
		d.refresher.RequestRefresh()
	}
}

func (d *Dispatcher) publish(name string) {
	d.metrics.IncCommand(name)

	env := NewEnvelope(name)
	if err := bus.PublishJSON(d.conn, bus.CommandSubject(name), env); err != nil {
		d.metrics.IncCommandPublishError()
		d.logger.Warn("Command publish failed", "command", name, "error", err)
	}
}

// scheduleResync (re)arms the single delayed RequestState that follows
// Start/Stop. Re-arming replaces any pending timer so back-to-back commands
// produce one resync.
func (d *Dispatcher) scheduleResync() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.RequestState)
}

// Close cancels any pending resync.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
