// Package reconcile implements the pull path: a periodic and on-demand
// resync of the snapshot's detection list against the detector's
// authoritative store. Push updates keep flowing while a pull is in
// flight; whichever lands later wins.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flockwatch/aggregator/internal/aggregate"
	"github.com/flockwatch/aggregator/internal/bus"
	"github.com/flockwatch/aggregator/internal/metrics"
	"github.com/flockwatch/aggregator/internal/store"
)

const (
	// DefaultInterval is the steady-state resync period.
	DefaultInterval = 30 * time.Second

	// DefaultTimeout bounds a single store read.
	DefaultTimeout = 5 * time.Second
)

// Config controls the loop cadence.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Loop pulls the authoritative detection list and counts into the
// snapshot. Read failures are logged and counted, never surfaced: the
// push path must keep working when the store is unreachable.
type Loop struct {
	agg      *aggregate.Aggregator
	source   store.DetectionSource
	interval time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger

	refresh   chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	sub       bus.Subscription
	closeOnce sync.Once
}

// New builds a loop. Zero config fields fall back to the defaults.
func New(agg *aggregate.Aggregator, source store.DetectionSource, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Loop{
		agg:      agg,
		source:   source,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		metrics:  m,
		logger:   logger,
		refresh:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start subscribes to the detector's refresh topic and begins the
// periodic resync. The detector publishes on that topic after bulk
// mutations so the aggregator picks up changes without waiting out the
// full interval.
func (l *Loop) Start(conn bus.Conn) error {
	sub, err := conn.Subscribe(bus.TopicDetectionRefresh, func(_ string, _ []byte) {
		l.RequestRefresh()
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.TopicDetectionRefresh, err)
	}
	l.sub = sub

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go l.run(ctx)

	l.logger.Info("Reconciliation loop started", "interval", l.interval)
	return nil
}

// RequestRefresh schedules an immediate resync. Requests arriving while
// one is already pending coalesce.
func (l *Loop) RequestRefresh() {
	select {
	case l.refresh <- struct{}{}:
	default:
	}
}

// Refresh performs one synchronous pull: read the store, then replace
// the snapshot's detection list and counts through the merge loop.
func (l *Loop) Refresh(ctx context.Context) {
	start := time.Now()
	l.metrics.IncReconcileRun()

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	detections, err := l.source.ListDetections(ctx)
	if err != nil {
		l.metrics.IncReconcileFailure()
		l.logger.Warn("Detection list read failed", "error", err)
		return
	}
	counts, err := l.source.Counts(ctx)
	if err != nil {
		l.metrics.IncReconcileFailure()
		l.logger.Warn("Detection counts read failed", "error", err)
		return
	}

	l.agg.Enqueue(func(s *aggregate.Snapshot) {
		s.Detections = detections
		s.DetectionCounts = counts
	})
	l.metrics.ObserveReconcileDuration(time.Since(start).Seconds())
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Refresh(ctx)
		case <-l.refresh:
			l.Refresh(ctx)
		}
	}
}

// Close stops the loop and detaches from the bus.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		if l.sub != nil {
			if err := l.sub.Unsubscribe(); err != nil {
				l.logger.Warn("Refresh topic unsubscribe failed", "error", err)
			}
		}
		if l.cancel != nil {
			l.cancel()
			<-l.done
		}
	})
}
