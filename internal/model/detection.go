package model

// DeviceType categorizes the physical device behind a detection.
type DeviceType string

const (
	DeviceTypeALPRCamera       DeviceType = "alpr_camera"
	DeviceTypeDrone            DeviceType = "drone"
	DeviceTypeBLETracker       DeviceType = "ble_tracker"
	DeviceTypeCellInterceptor  DeviceType = "cell_interceptor"
	DeviceTypeRogueAP          DeviceType = "rogue_ap"
	DeviceTypeUltrasonicBeacon DeviceType = "ultrasonic_beacon"
	DeviceTypeGNSSSpoofer      DeviceType = "gnss_spoofer"
	DeviceTypeUnknown          DeviceType = "unknown"
)

// Protocol identifies the radio/sensor family a detection was observed on.
type Protocol string

const (
	ProtocolShortRangeRadio Protocol = "short_range_radio"
	ProtocolWifi            Protocol = "wifi"
	ProtocolCellular        Protocol = "cellular"
	ProtocolSatellite       Protocol = "satellite"
	ProtocolAudio           Protocol = "audio"
	ProtocolGNSS            Protocol = "gnss"
	ProtocolUnknown         Protocol = ""
)

// ThreatLevel is the ordered classification assigned by the detector-side
// classifier. It is immutable from the aggregator's perspective.
type ThreatLevel string

const (
	ThreatCritical ThreatLevel = "critical"
	ThreatHigh     ThreatLevel = "high"
	ThreatMedium   ThreatLevel = "medium"
	ThreatLow      ThreatLevel = "low"
	ThreatInfo     ThreatLevel = "info"
	ThreatNone     ThreatLevel = ""
)

var threatRanks = map[ThreatLevel]int{
	ThreatInfo:     1,
	ThreatLow:      2,
	ThreatMedium:   3,
	ThreatHigh:     4,
	ThreatCritical: 5,
}

// Rank returns the ordering of a threat level (critical > high > medium >
// low > info). Unknown levels rank below info.
func (t ThreatLevel) Rank() int {
	return threatRanks[t]
}

// ParseThreatLevel maps a wire string to a ThreatLevel. Unknown strings map
// to ThreatInfo and report ok=false; they never fail.
func ParseThreatLevel(s string) (ThreatLevel, bool) {
	switch ThreatLevel(s) {
	case ThreatCritical, ThreatHigh, ThreatMedium, ThreatLow, ThreatInfo:
		return ThreatLevel(s), true
	}
	return ThreatInfo, false
}

// DistanceBand is a coarse range estimate computed from RSSI.
type DistanceBand string

const (
	DistanceImmediate DistanceBand = "immediate"
	DistanceNear      DistanceBand = "near"
	DistanceFar       DistanceBand = "far"
	DistanceUnknown   DistanceBand = "unknown"
)

// DistanceBandFromRSSI buckets a signal strength reading into a distance
// band. Zero means no reading was available.
func DistanceBandFromRSSI(rssi int) DistanceBand {
	switch {
	case rssi == 0:
		return DistanceUnknown
	case rssi >= -45:
		return DistanceImmediate
	case rssi >= -70:
		return DistanceNear
	default:
		return DistanceFar
	}
}

// AnalysisSource records which analyzer produced a false-positive annotation.
type AnalysisSource string

const (
	AnalysisRuleBased  AnalysisSource = "rule_based"
	AnalysisModelBased AnalysisSource = "model_based"
)

// DetectionRecord is a scored detection produced by the detector-side
// classifier. Identity is the opaque ID; LastSeen >= FirstSeen and SeenCount
// is non-decreasing for a given identity. Timestamps are unix milliseconds.
//
// Subsystem-specific context rides in the generic text attributes: cellular
// detections carry serving-cell info in Manufacturer, ultrasonic detections
// carry the emitter frequency as text in Frequency.
type DetectionRecord struct {
	ID          string      `json:"id"`
	DeviceType  DeviceType  `json:"device_type"`
	Protocol    Protocol    `json:"protocol"`
	ThreatLevel ThreatLevel `json:"threat_level"`
	ThreatScore int         `json:"threat_score"` // 0-100
	FirstSeen   int64       `json:"first_seen"`
	LastSeen    int64       `json:"last_seen"`
	SeenCount   int         `json:"seen_count"`

	RSSI         int          `json:"rssi,omitempty"`
	DistanceBand DistanceBand `json:"distance_band,omitempty"`

	MACAddress      string `json:"mac_address,omitempty"`
	SSID            string `json:"ssid,omitempty"`
	Manufacturer    string `json:"manufacturer,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	Frequency       string `json:"frequency,omitempty"`
	Location        string `json:"location,omitempty"`

	FPScore        *float64       `json:"fp_score,omitempty"` // 0.0-1.0
	FPCategory     string         `json:"fp_category,omitempty"`
	FPReason       string         `json:"fp_reason,omitempty"`
	AnalyzedAt     int64          `json:"analyzed_at,omitempty"`
	AnalysisSource AnalysisSource `json:"analysis_source,omitempty"`
}

// HasFPScore reports whether the record carries a false-positive annotation.
func (d *DetectionRecord) HasFPScore() bool {
	return d.FPScore != nil
}

// AggregateCounts are the per-threat-level totals the source-of-truth store
// maintains alongside the detection list.
type AggregateCounts struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
}

// CountDetections tallies a detection list into aggregate counts.
func CountDetections(detections []DetectionRecord) AggregateCounts {
	var c AggregateCounts
	c.Total = len(detections)
	for i := range detections {
		switch detections[i].ThreatLevel {
		case ThreatCritical:
			c.Critical++
		case ThreatHigh:
			c.High++
		case ThreatMedium:
			c.Medium++
		case ThreatLow:
			c.Low++
		case ThreatInfo:
			c.Info++
		}
	}
	return c
}
