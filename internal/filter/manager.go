package filter

import (
	"log/slog"
	"sync"

	"github.com/flockwatch/aggregator/internal/model"
)

// DefaultFPThreshold hides annotated detections scoring 0.7 or higher when
// false-positive hiding is on.
const DefaultFPThreshold = 0.7

// Manager holds the live criteria for one consumer surface. Mutation goes
// through the setters; Current returns a value copy safe to evaluate
// without holding anything.
type Manager struct {
	mu       sync.RWMutex
	criteria Criteria
	logger   *slog.Logger
}

// NewManager starts with everything visible: no threat filter, no type
// filter, false positives shown.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		criteria: Criteria{FPThreshold: DefaultFPThreshold},
		logger:   logger,
	}
}

// Current returns a copy of the live criteria. The DeviceTypes set is
// copied so callers can hold it across mutations.
func (m *Manager) Current() Criteria {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := m.criteria
	if len(m.criteria.DeviceTypes) > 0 {
		c.DeviceTypes = make(map[model.DeviceType]bool, len(m.criteria.DeviceTypes))
		for k, v := range m.criteria.DeviceTypes {
			c.DeviceTypes[k] = v
		}
	}
	return c
}

// SetThreatLevel activates or (with ThreatNone) deactivates the threat
// predicate.
func (m *Manager) SetThreatLevel(level model.ThreatLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.criteria.ThreatLevel = level
	m.logger.Debug("Filter threat level updated", "level", string(level))
}

// SetDeviceTypes replaces the device type set. An empty set deactivates the
// type predicate.
func (m *Manager) SetDeviceTypes(types []model.DeviceType) {
	set := make(map[model.DeviceType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(set) == 0 {
		m.criteria.DeviceTypes = nil
	} else {
		m.criteria.DeviceTypes = set
	}
	m.logger.Debug("Filter device types updated", "count", len(set))
}

// SetMatchAll switches between AND (true) and OR (false) across the threat
// and type predicates.
func (m *Manager) SetMatchAll(matchAll bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.criteria.MatchAll = matchAll
}

// SetHideFalsePositives toggles FP suppression.
func (m *Manager) SetHideFalsePositives(hide bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.criteria.HideFalsePositives = hide
}

// SetFPThreshold sets the suppression threshold. Values outside [0,1] are
// clamped.
func (m *Manager) SetFPThreshold(threshold float64) {
	if threshold < 0 {
		threshold = 0
	} else if threshold > 1 {
		threshold = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.criteria.FPThreshold = threshold
}
