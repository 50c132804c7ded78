package aggregate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/flockwatch/aggregator/internal/bus"
	"github.com/flockwatch/aggregator/internal/metrics"
)

const updateQueueSize = 256

// update is one unit of work for the merge loop. done, when non-nil, is
// closed after the update has been applied and published.
type update struct {
	apply func(*Snapshot)
	done  chan struct{}
}

// Aggregator owns the snapshot. One goroutine applies updates; Latest and
// Subscribe hand out immutable copies.
type Aggregator struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	updates chan update
	latest  atomic.Value

	mu      sync.Mutex
	subs    map[int]chan Snapshot
	nextID  int
	busSubs []bus.Subscription

	ctx       context.Context
	cancel    context.CancelFunc
	loopDone  chan struct{}
	closeOnce sync.Once
}

// New starts the merge loop with a zero-generation snapshot.
func New(logger *slog.Logger, m *metrics.Metrics) *Aggregator {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Aggregator{
		logger:   logger,
		metrics:  m,
		updates:  make(chan update, updateQueueSize),
		subs:     make(map[int]chan Snapshot),
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}
	a.latest.Store(NewSnapshot())
	go a.run()
	return a
}

func (a *Aggregator) run() {
	defer close(a.loopDone)
	for {
		select {
		case <-a.ctx.Done():
			return
		case u := <-a.updates:
			snap := a.latest.Load().(Snapshot)
			u.apply(&snap)
			snap.Generation++
			a.latest.Store(snap)
			a.metrics.SetGeneration(snap.Generation)
			a.push(snap)
			if u.done != nil {
				close(u.done)
			}
		}
	}
}

// Latest returns the current snapshot.
func (a *Aggregator) Latest() Snapshot {
	return a.latest.Load().(Snapshot)
}

// Enqueue schedules an update without waiting for it to apply. Updates from
// one caller apply in the order they were enqueued.
func (a *Aggregator) Enqueue(fn func(*Snapshot)) {
	select {
	case a.updates <- update{apply: fn}:
	case <-a.ctx.Done():
	}
}

// Apply schedules an update and waits until the merge loop has applied it.
// After Apply returns, Latest reflects the change. Returns immediately if
// the aggregator is closed.
func (a *Aggregator) Apply(fn func(*Snapshot)) {
	done := make(chan struct{})
	select {
	case a.updates <- update{apply: fn, done: done}:
	case <-a.ctx.Done():
		return
	}
	select {
	case <-done:
	case <-a.ctx.Done():
	}
}

// Subscribe returns a stream of snapshots and a cancel function. The channel
// holds the latest value only: a slow consumer sees the newest snapshot on
// its next receive and never blocks the merge loop. The current snapshot is
// delivered immediately.
func (a *Aggregator) Subscribe() (<-chan Snapshot, func()) {
	a.mu.Lock()
	ch := make(chan Snapshot, 1)
	id := a.nextID
	a.nextID++
	a.subs[id] = ch
	ch <- a.Latest()
	a.mu.Unlock()

	cancel := func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// push offers snap to every subscriber, replacing any undelivered value.
func (a *Aggregator) push(snap Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ch := range a.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// SetBusConnected records the transport state in the snapshot. The last
// merged values are kept either way.
func (a *Aggregator) SetBusConnected(connected bool) {
	a.metrics.SetBusConnected(connected)
	a.Enqueue(func(s *Snapshot) { s.BusConnected = connected })
}

func (a *Aggregator) addBusSub(sub bus.Subscription) {
	a.mu.Lock()
	a.busSubs = append(a.busSubs, sub)
	a.mu.Unlock()
}

// Close unsubscribes from the bus, stops the merge loop and closes all
// subscriber channels. Pending updates are dropped.
func (a *Aggregator) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		busSubs := a.busSubs
		a.busSubs = nil
		a.mu.Unlock()
		for _, sub := range busSubs {
			if err := sub.Unsubscribe(); err != nil {
				a.logger.Warn("Unsubscribe failed during close", "error", err)
			}
		}

		a.cancel()
		<-a.loopDone

		a.mu.Lock()
		for id, ch := range a.subs {
			delete(a.subs, id)
			close(ch)
		}
		a.mu.Unlock()
	})
}
