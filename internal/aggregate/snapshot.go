// Package aggregate merges every topic stream into one immutable snapshot.
// A single merge goroutine owns the current value; everyone else reads
// copies. Updates are typed closures, so no payload ever crosses the loop
// as an untyped value.
package aggregate

import "github.com/flockwatch/aggregator/internal/model"

// SubsystemStatuses holds the per-subsystem lifecycle states from the
// detector's status topics.
type SubsystemStatuses struct {
	ShortRange model.SubsystemStatus `json:"short_range"`
	Wifi       model.SubsystemStatus `json:"wifi"`
	Location   model.SubsystemStatus `json:"location"`
	Cellular   model.SubsystemStatus `json:"cellular"`
	Satellite  model.SubsystemStatus `json:"satellite"`
}

// CellularState groups the cellular domain topics.
type CellularState struct {
	Network   model.CellNetworkStatus `json:"network"`
	Towers    []model.CellTower       `json:"towers"`
	Anomalies []model.AnomalyEvent    `json:"anomalies"`
	Events    []model.CellEvent       `json:"events"`
}

// SatelliteState groups the satellite domain topics.
type SatelliteState struct {
	Connection model.SatConnection  `json:"connection"`
	Anomalies  []model.AnomalyEvent `json:"anomalies"`
	History    []model.SatEvent     `json:"history"`
}

// RogueWifiState groups the rogue-WiFi domain topics.
type RogueWifiState struct {
	Environment model.EnvironmentStatus   `json:"environment"`
	Anomalies   []model.AnomalyEvent      `json:"anomalies"`
	Suspicious  []model.SuspiciousNetwork `json:"suspicious"`
}

// RFState groups the RF/drone domain topics.
type RFState struct {
	Environment model.EnvironmentStatus `json:"environment"`
	Anomalies   []model.AnomalyEvent    `json:"anomalies"`
	Drones      []model.DroneContact    `json:"drones"`
}

// UltrasonicState groups the ambient-audio domain topics.
type UltrasonicState struct {
	Status    model.SubsystemStatus    `json:"status"`
	Anomalies []model.AnomalyEvent     `json:"anomalies"`
	Beacons   []model.UltrasonicBeacon `json:"beacons"`
}

// GnssState groups the GNSS domain topics.
type GnssState struct {
	Status       model.SubsystemStatus  `json:"status"`
	Satellites   []model.GnssSatellite  `json:"satellites"`
	Anomalies    []model.AnomalyEvent   `json:"anomalies"`
	Events       []model.GnssEvent      `json:"events"`
	Measurements model.GnssMeasurements `json:"measurements"`
}

// Snapshot is the merged read model. Values handed out are copies; the
// slices and maps inside are replaced wholesale by updates, never mutated,
// so sharing them across snapshot values is safe.
type Snapshot struct {
	Generation   int64 `json:"generation"`
	BusConnected bool  `json:"bus_connected"`

	ScanningEnabled bool              `json:"scanning_enabled"`
	ScanStatus      model.ScanStatus  `json:"scan_status"`
	Subsystems      SubsystemStatuses `json:"subsystems"`

	LastDetection     *model.DetectionRecord `json:"last_detection,omitempty"`
	ShortRangeDevices []model.SeenDevice     `json:"short_range_devices"`
	WifiDevices       []model.SeenDevice     `json:"wifi_devices"`

	Cellular   CellularState   `json:"cellular"`
	Satellite  SatelliteState  `json:"satellite"`
	RogueWifi  RogueWifiState  `json:"rogue_wifi"`
	RF         RFState         `json:"rf"`
	Ultrasonic UltrasonicState `json:"ultrasonic"`
	Gnss       GnssState       `json:"gnss"`

	Health map[string]model.HealthRecord `json:"health"`
	Stats  model.ScanStatistics          `json:"stats"`
	Errors []model.ErrorEntry            `json:"errors"`

	Detections      []model.DetectionRecord `json:"detections"`
	DetectionCounts model.AggregateCounts   `json:"detection_counts"`
}

// NewSnapshot returns the zero-generation snapshot with safe defaults.
func NewSnapshot() Snapshot {
	return Snapshot{
		ScanStatus: model.ScanIdle,
		Subsystems: SubsystemStatuses{
			ShortRange: model.StatusIdle,
			Wifi:       model.StatusIdle,
			Location:   model.StatusIdle,
			Cellular:   model.StatusIdle,
			Satellite:  model.StatusIdle,
		},
		RogueWifi:  RogueWifiState{Environment: model.EnvironmentUnknown},
		RF:         RFState{Environment: model.EnvironmentUnknown},
		Ultrasonic: UltrasonicState{Status: model.StatusIdle},
		Gnss:       GnssState{Status: model.StatusIdle},
	}
}

// AllAnomalies returns every subsystem's anomaly list in one slice, in
// subsystem order. The result is freshly allocated.
func (s Snapshot) AllAnomalies() []model.AnomalyEvent {
	total := len(s.Cellular.Anomalies) + len(s.RogueWifi.Anomalies) + len(s.RF.Anomalies) +
		len(s.Gnss.Anomalies) + len(s.Satellite.Anomalies) + len(s.Ultrasonic.Anomalies)
	out := make([]model.AnomalyEvent, 0, total)
	out = append(out, s.Cellular.Anomalies...)
	out = append(out, s.RogueWifi.Anomalies...)
	out = append(out, s.RF.Anomalies...)
	out = append(out, s.Gnss.Anomalies...)
	out = append(out, s.Satellite.Anomalies...)
	out = append(out, s.Ultrasonic.Anomalies...)
	return out
}
