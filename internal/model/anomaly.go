package model

// Subsystem names the detector that emitted an anomaly event.
type Subsystem string

const (
	SubsystemCellular   Subsystem = "cellular"
	SubsystemWifi       Subsystem = "wifi"
	SubsystemRF         Subsystem = "rf"
	SubsystemGNSS       Subsystem = "gnss"
	SubsystemSatellite  Subsystem = "satellite"
	SubsystemUltrasonic Subsystem = "ultrasonic"
)

// Severity grades an anomaly event.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// AnomalyEvent is a raw anomaly emitted by one detector subsystem. Events
// are append-only and immutable; they are never deleted, only hidden at read
// time by the correlation engine. Timestamp is unix milliseconds.
//
// Anomalies and detections are produced by independent classifiers and never
// share an identifier; the subsystem-specific attributes below are the only
// bridge the correlation heuristic has.
type AnomalyEvent struct {
	Subsystem   Subsystem `json:"subsystem"`
	Severity    Severity  `json:"severity"`
	Timestamp   int64     `json:"timestamp"`
	Description string    `json:"description"`

	CellID      string `json:"cell_id,omitempty"`
	BSSID       string `json:"bssid,omitempty"`
	SSID        string `json:"ssid,omitempty"`
	FrequencyHz int64  `json:"frequency_hz,omitempty"`
}
