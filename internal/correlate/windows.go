// Package correlate decides whether an anomaly event is hidden because a
// semantically-equivalent detection was already triaged as a false
// positive. No shared key exists between the two record families, so the
// bridge is proximity in time plus a loose per-subsystem attribute match.
// The matchers are deliberately kept lossy; false suppression is the
// accepted trade for noise reduction.
package correlate

import (
	"strconv"
	"strings"
	"time"

	"github.com/flockwatch/aggregator/internal/model"
)

// Window pairs a maximum timestamp delta with the subsystem's attribute
// matcher. The delta is strict: |anomaly.ts - detection.LastSeen| must be
// below MaxDelta.
type Window struct {
	MaxDelta time.Duration
	match    func(a model.AnomalyEvent, d model.DetectionRecord) bool
}

// defaultWindows is the compiled-in correlation table. WiFi gets a wider
// window because beacons are spaced further apart.
func defaultWindows() map[model.Subsystem]Window {
	return map[model.Subsystem]Window{
		model.SubsystemCellular:   {MaxDelta: 5 * time.Second, match: matchCellular},
		model.SubsystemWifi:       {MaxDelta: 10 * time.Second, match: matchWifi},
		model.SubsystemRF:         {MaxDelta: 5 * time.Second, match: matchTimeOnly},
		model.SubsystemGNSS:       {MaxDelta: 5 * time.Second, match: matchTimeOnly},
		model.SubsystemSatellite:  {MaxDelta: 5 * time.Second, match: matchTimeOnly},
		model.SubsystemUltrasonic: {MaxDelta: 5 * time.Second, match: matchUltrasonic},
	}
}

// subsystemProtocol maps an anomaly's subsystem to the detection protocol
// its candidates are drawn from.
func subsystemProtocol(s model.Subsystem) model.Protocol {
	switch s {
	case model.SubsystemCellular:
		return model.ProtocolCellular
	case model.SubsystemWifi:
		return model.ProtocolWifi
	case model.SubsystemRF:
		return model.ProtocolShortRangeRadio
	case model.SubsystemGNSS:
		return model.ProtocolGNSS
	case model.SubsystemSatellite:
		return model.ProtocolSatellite
	case model.SubsystemUltrasonic:
		return model.ProtocolAudio
	default:
		return model.ProtocolUnknown
	}
}

// matchCellular: the detection's stored cell-info text carries the serving
// cell, and the anomaly's cell id must appear in it as a substring.
func matchCellular(a model.AnomalyEvent, d model.DetectionRecord) bool {
	return strings.Contains(d.Manufacturer, a.CellID)
}

// matchWifi: MAC equals BSSID or SSID equals SSID, both case-insensitive.
func matchWifi(a model.AnomalyEvent, d model.DetectionRecord) bool {
	return strings.EqualFold(d.MACAddress, a.BSSID) || strings.EqualFold(d.SSID, a.SSID)
}

// matchUltrasonic: the detection's frequency text contains the anomaly's
// frequency rendered as an integer string.
func matchUltrasonic(a model.AnomalyEvent, d model.DetectionRecord) bool {
	return strings.Contains(d.Frequency, strconv.FormatInt(a.FrequencyHz, 10))
}

func matchTimeOnly(model.AnomalyEvent, model.DetectionRecord) bool {
	return true
}
