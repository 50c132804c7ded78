package model

// SeenDevice is one entry in the short-range or WiFi seen-device lists.
type SeenDevice struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	MACAddress string     `json:"mac_address,omitempty"`
	DeviceType DeviceType `json:"device_type"`
	RSSI       int        `json:"rssi,omitempty"`
	FirstSeen  int64      `json:"first_seen"`
	LastSeen   int64      `json:"last_seen"`
}

// CellNetworkStatus is the serving-cell view the cellular subsystem
// publishes on its status topic.
type CellNetworkStatus struct {
	Registered  bool   `json:"registered"`
	Operator    string `json:"operator,omitempty"`
	NetworkType string `json:"network_type,omitempty"` // e.g. "lte", "nr"
	CellID      string `json:"cell_id,omitempty"`
	SignalDBm   int    `json:"signal_dbm,omitempty"`
}

// CellTower is one entry in the seen-towers list.
type CellTower struct {
	CellID    string `json:"cell_id"`
	Operator  string `json:"operator,omitempty"`
	Band      string `json:"band,omitempty"`
	SignalDBm int    `json:"signal_dbm,omitempty"`
	FirstSeen int64  `json:"first_seen"`
	LastSeen  int64  `json:"last_seen"`
}

// CellEvent is a cellular-subsystem event log entry (registration changes,
// tower handoffs, downgrade attempts).
type CellEvent struct {
	Timestamp   int64  `json:"timestamp"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

// SatConnection is the satellite subsystem's connection-state topic payload.
type SatConnection struct {
	State string `json:"state"` // "disconnected", "searching", "connected"
	Since int64  `json:"since,omitempty"`
}

// SatEvent is one satellite history entry.
type SatEvent struct {
	Timestamp   int64  `json:"timestamp"`
	Description string `json:"description"`
}

// SuspiciousNetwork is one entry in the rogue-WiFi suspicious-network list.
type SuspiciousNetwork struct {
	SSID     string `json:"ssid,omitempty"`
	BSSID    string `json:"bssid"`
	Reason   string `json:"reason"`
	RSSI     int    `json:"rssi,omitempty"`
	Channel  int    `json:"channel,omitempty"`
	LastSeen int64  `json:"last_seen"`
}

// DroneContact is one entry in the RF detected-drones list.
type DroneContact struct {
	ID           string `json:"id"`
	ProtocolName string `json:"protocol_name,omitempty"`
	FrequencyHz  int64  `json:"frequency_hz,omitempty"`
	RSSI         int    `json:"rssi,omitempty"`
	LastSeen     int64  `json:"last_seen"`
}

// UltrasonicBeacon is one entry in the ultrasonic beacon list.
type UltrasonicBeacon struct {
	FrequencyHz int64   `json:"frequency_hz"`
	Level       float64 `json:"level,omitempty"`
	FirstHeard  int64   `json:"first_heard"`
	LastHeard   int64   `json:"last_heard"`
}

// GnssSatellite is one satellite-vehicle entry from the GNSS subsystem.
type GnssSatellite struct {
	Constellation string  `json:"constellation"`
	SVID          int     `json:"svid"`
	CN0           float64 `json:"cn0,omitempty"`
	Used          bool    `json:"used"`
}

// GnssMeasurements is the GNSS subsystem's periodic measurement summary.
type GnssMeasurements struct {
	Timestamp         int64   `json:"timestamp"`
	SatellitesVisible int     `json:"satellites_visible"`
	SatellitesUsed    int     `json:"satellites_used"`
	AGCLevel          float64 `json:"agc_level,omitempty"`
	CN0Mean           float64 `json:"cn0_mean,omitempty"`
}

// GnssEvent is a GNSS event log entry (fix changes, spoofing indicators).
type GnssEvent struct {
	Timestamp   int64  `json:"timestamp"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

// HealthRecord is one detector-health map value, keyed by detector name.
type HealthRecord struct {
	Healthy  bool   `json:"healthy"`
	LastBeat int64  `json:"last_beat"`
	Detail   string `json:"detail,omitempty"`
}

// ScanStatistics are the running counters the detector process publishes,
// including the counters the hardware bridge reports in its status response.
type ScanStatistics struct {
	StartedAt        int64 `json:"started_at,omitempty"`
	UptimeSeconds    int64 `json:"uptime_seconds,omitempty"`
	WifiScans        int   `json:"wifi_scans"`
	BleScans         int   `json:"ble_scans"`
	SubGhzDetections int   `json:"subghz_detections"`
	UltrasonicHits   int   `json:"ultrasonic_hits"`
	WipsAlerts       int   `json:"wips_alerts"`
}

// ErrorEntry is one entry in the detector error log.
type ErrorEntry struct {
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source"`
	Message   string `json:"message"`
}
