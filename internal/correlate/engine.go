package correlate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/flockwatch/aggregator/internal/model"
)

// Engine evaluates anomaly suppression against a detection list. Windows
// are fixed after startup apart from profile overrides, which only adjust
// the deltas; matchers never change.
type Engine struct {
	mu      sync.RWMutex
	windows map[model.Subsystem]Window
	logger  *slog.Logger
}

// NewEngine returns an engine with the compiled-in window table.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		windows: defaultWindows(),
		logger:  logger,
	}
}

// SetMaxDelta overrides one subsystem's window delta. Unknown subsystems
// and non-positive deltas are ignored.
func (e *Engine) SetMaxDelta(sub model.Subsystem, delta time.Duration) {
	if delta <= 0 {
		e.logger.Warn("Ignoring non-positive correlation window", "subsystem", string(sub), "delta", delta)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.windows[sub]
	if !ok {
		e.logger.Warn("Ignoring correlation window for unknown subsystem", "subsystem", string(sub))
		return
	}
	w.MaxDelta = delta
	e.windows[sub] = w
	e.logger.Info("Correlation window overridden", "subsystem", string(sub), "max_delta", delta)
}

// MaxDelta returns the active window delta for a subsystem.
func (e *Engine) MaxDelta(sub model.Subsystem) (time.Duration, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.windows[sub]
	return w.MaxDelta, ok
}

// Suppressed reports whether the anomaly is hidden by a false-positive
// detection. Candidates are detections on the anomaly subsystem's protocol
// with FPScore >= fpThreshold; with no candidates the anomaly is always
// shown. One candidate inside the window with a passing attribute match
// suffices.
func (e *Engine) Suppressed(a model.AnomalyEvent, detections []model.DetectionRecord, fpThreshold float64) bool {
	e.mu.RLock()
	w, ok := e.windows[a.Subsystem]
	e.mu.RUnlock()
	if !ok {
		return false
	}

	proto := subsystemProtocol(a.Subsystem)
	for i := range detections {
		d := &detections[i]
		if d.Protocol != proto || d.FPScore == nil || *d.FPScore < fpThreshold {
			continue
		}
		if withinWindow(a.Timestamp, d.LastSeen, w.MaxDelta) && w.match(a, *d) {
			return true
		}
	}
	return false
}

// Filter returns the anomalies that survive suppression, preserving order.
// Candidates are bucketed per protocol once, so anomaly volume does not
// multiply the detection scan.
func (e *Engine) Filter(anomalies []model.AnomalyEvent, detections []model.DetectionRecord, fpThreshold float64) []model.AnomalyEvent {
	byProto := make(map[model.Protocol][]model.DetectionRecord)
	for _, d := range detections {
		if d.FPScore != nil && *d.FPScore >= fpThreshold {
			byProto[d.Protocol] = append(byProto[d.Protocol], d)
		}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]model.AnomalyEvent, 0, len(anomalies))
	for _, a := range anomalies {
		w, ok := e.windows[a.Subsystem]
		if !ok {
			out = append(out, a)
			continue
		}
		candidates := byProto[subsystemProtocol(a.Subsystem)]
		if !suppressedBy(a, candidates, w) {
			out = append(out, a)
		}
	}
	return out
}

func suppressedBy(a model.AnomalyEvent, candidates []model.DetectionRecord, w Window) bool {
	for i := range candidates {
		if withinWindow(a.Timestamp, candidates[i].LastSeen, w.MaxDelta) && w.match(a, candidates[i]) {
			return true
		}
	}
	return false
}

func withinWindow(anomalyTS, lastSeen int64, maxDelta time.Duration) bool {
	delta := anomalyTS - lastSeen
	if delta < 0 {
		delta = -delta
	}
	return time.Duration(delta)*time.Millisecond < maxDelta
}
