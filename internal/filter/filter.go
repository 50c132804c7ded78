// Package filter decides which detections a consumer sees. The precedence
// is asymmetric on purpose: false-positive suppression is always ANDed in,
// and OR semantics exist only when both the threat and the type predicate
// are active. Flattening this into one OR across all active predicates is
// a materially different filter.
package filter

import "github.com/flockwatch/aggregator/internal/model"

// Criteria is one consumer's filter configuration.
//
// ThreatLevel none and an empty DeviceTypes set each deactivate their
// predicate. MatchAll selects AND (true) or OR (false) across the two, and
// only matters when both are active.
type Criteria struct {
	ThreatLevel        model.ThreatLevel
	DeviceTypes        map[model.DeviceType]bool
	MatchAll           bool
	HideFalsePositives bool
	FPThreshold        float64
}

// Evaluate reports whether a detection passes the criteria.
//
// fpMatch = !hide || score < threshold; a record without a score is never
// hidden, and score == threshold is hidden (>= is inclusive).
func Evaluate(d model.DetectionRecord, c Criteria) bool {
	fpMatch := !c.HideFalsePositives || d.FPScore == nil || *d.FPScore < c.FPThreshold
	if !fpMatch {
		return false
	}

	threatActive := c.ThreatLevel != model.ThreatNone
	typeActive := len(c.DeviceTypes) > 0
	threatMatch := d.ThreatLevel == c.ThreatLevel
	typeMatch := c.DeviceTypes[d.DeviceType]

	switch {
	case threatActive && typeActive:
		if c.MatchAll {
			return threatMatch && typeMatch
		}
		return threatMatch || typeMatch
	case threatActive:
		return threatMatch
	case typeActive:
		return typeMatch
	default:
		return true
	}
}

// Apply returns the detections passing the criteria, preserving order.
func Apply(detections []model.DetectionRecord, c Criteria) []model.DetectionRecord {
	out := make([]model.DetectionRecord, 0, len(detections))
	for _, d := range detections {
		if Evaluate(d, c) {
			out = append(out, d)
		}
	}
	return out
}
