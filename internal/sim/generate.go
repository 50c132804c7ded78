package sim

import (
	"context"
	"time"

	"github.com/flockwatch/aggregator/internal/bus"
	"github.com/flockwatch/aggregator/internal/model"
)

// Fixed identities shared between detections, anomalies, and device lists.
// The cell interceptor's stored cell-info text carries the same cell id its
// anomalies report, and the rogue AP's MAC doubles as the deauth anomaly
// BSSID, so downstream correlation has something real to bite on.
const (
	interceptorCellID = "310-410-0042"
	rogueSSID         = "Free_Public_WiFi"
	rogueBSSID        = "DE:AD:BE:EF:00:01"
	beaconFrequencyHz = 19_500
)

var servingCells = []string{"310-410-0007", "310-410-0101", "310-410-0245"}

var constellations = []string{"gps", "galileo", "glonass", "beidou"}

type detectionTemplate struct {
	id           string
	deviceType   model.DeviceType
	protocol     model.Protocol
	threatLevel  model.ThreatLevel
	threatScore  int
	mac          string
	ssid         string
	manufacturer string
	frequency    string

	// A non-zero fpScore models an identity the rule-based analyzer has
	// already triaged.
	fpScore    float64
	fpCategory string
	fpReason   string
}

// detectionTemplates are the identities a scan can produce. Stable ids keep
// FirstSeen and SeenCount merging meaningful across ticks instead of
// producing an endless stream of one-shot devices.
var detectionTemplates = []detectionTemplate{
	{
		id: "sim-ble-tile-01", deviceType: model.DeviceTypeBLETracker,
		protocol: model.ProtocolShortRangeRadio, threatLevel: model.ThreatMedium, threatScore: 55,
		mac: "C4:7C:8D:11:22:33", manufacturer: "Tile",
		fpScore: 0.82, fpCategory: "known_device", fpReason: "Matches a resident tracker profile",
	},
	{
		id: "sim-drone-dji-01", deviceType: model.DeviceTypeDrone,
		protocol: model.ProtocolShortRangeRadio, threatLevel: model.ThreatHigh, threatScore: 78,
		manufacturer: "DJI", frequency: "2.4 GHz",
	},
	{
		id: "sim-rogue-ap-01", deviceType: model.DeviceTypeRogueAP,
		protocol: model.ProtocolWifi, threatLevel: model.ThreatHigh, threatScore: 82,
		mac: rogueBSSID, ssid: rogueSSID,
	},
	{
		id: "sim-imsi-01", deviceType: model.DeviceTypeCellInterceptor,
		protocol: model.ProtocolCellular, threatLevel: model.ThreatCritical, threatScore: 95,
		manufacturer: "cell " + interceptorCellID,
		fpScore:      0.9, fpCategory: "infrastructure", fpReason: "Matches the carrier small-cell register",
	},
	{
		id: "sim-gnss-spoof-01", deviceType: model.DeviceTypeGNSSSpoofer,
		protocol: model.ProtocolGNSS, threatLevel: model.ThreatCritical, threatScore: 91,
	},
	{
		id: "sim-ultra-beacon-01", deviceType: model.DeviceTypeUltrasonicBeacon,
		protocol: model.ProtocolAudio, threatLevel: model.ThreatLow, threatScore: 30,
		frequency: "19500 Hz",
	},
	{
		id: "sim-alpr-07", deviceType: model.DeviceTypeALPRCamera,
		protocol: model.ProtocolWifi, threatLevel: model.ThreatMedium, threatScore: 60,
		mac: "00:1B:44:11:3A:B7", ssid: "ALPR-CAM-7",
	},
}

var shortRangePool = []model.SeenDevice{
	{ID: "sr-tile-01", Name: "Tile", MACAddress: "C4:7C:8D:11:22:33", DeviceType: model.DeviceTypeBLETracker},
	{ID: "sr-airtag-01", Name: "AirTag", MACAddress: "E4:5F:01:AA:BB:01", DeviceType: model.DeviceTypeBLETracker},
	{ID: "sr-dji-rc-01", Name: "DJI RC", MACAddress: "60:60:1F:5C:00:11", DeviceType: model.DeviceTypeDrone},
	{ID: "sr-unknown-01", MACAddress: "8C:DE:F9:00:45:12", DeviceType: model.DeviceTypeUnknown},
}

var wifiPool = []model.SeenDevice{
	{ID: "wf-cafe-ap", Name: "CoffeeShop_Guest", MACAddress: "3C:84:6A:10:20:30", DeviceType: model.DeviceTypeUnknown},
	{ID: "wf-rogue-01", Name: rogueSSID, MACAddress: rogueBSSID, DeviceType: model.DeviceTypeRogueAP},
	{ID: "wf-alpr-07", Name: "ALPR-CAM-7", MACAddress: "00:1B:44:11:3A:B7", DeviceType: model.DeviceTypeALPRCamera},
}

var errorPool = []model.ErrorEntry{
	{Source: "cellular", Message: "modem AT command timeout, retrying"},
	{Source: "gnss", Message: "dropped NMEA sentence with bad checksum"},
	{Source: "bridge", Message: "serial read timeout on bridge port"},
	{Source: "wifi", Message: "monitor-mode channel hop failed"},
}

// tick runs one telemetry cycle.
func (s *Simulator) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks++
	now := time.Now().UnixMilli()

	if s.scanning && s.scanStatus == model.ScanStarting {
		s.scanStatus = model.ScanScanning
		for _, topic := range statusTopics {
			s.statuses[topic] = model.StatusActive
		}
		s.publishScanStateLocked()
	}

	if s.ticks%5 == 0 {
		s.publish(bus.TopicHealth, s.healthLocked())
	}

	if !s.scanning {
		return
	}

	s.stats.WifiScans++
	s.stats.BleScans++
	s.stats.UptimeSeconds = (now - s.stats.StartedAt) / 1000

	switch roll := s.rng.Intn(100); {
	case roll < 25:
		s.emitDetectionLocked(now)
	case roll < 40:
		s.emitAnomalyLocked(now)
	case roll < 55:
		s.emitShortRangeSightingLocked(now)
	case roll < 70:
		s.emitWifiSightingLocked(now)
	case roll < 80:
		s.emitCellUpdateLocked(now)
	case roll < 85:
		s.recordErrorLocked(now)
	}

	if s.ticks%3 == 0 {
		s.emitGnssMeasurementsLocked(now)
	}
	if s.ticks%5 == 0 {
		s.publish(bus.TopicStats, s.stats)
	}
}

func (s *Simulator) emitDetectionLocked(now int64) {
	s.emitDetectionFromLocked(s.rng.Intn(len(detectionTemplates)), now)
}

func (s *Simulator) emitDetectionFromLocked(i int, now int64) {
	tpl := detectionTemplates[i]
	rssi := -40 - s.rng.Intn(55)

	rec := model.DetectionRecord{
		ID:           tpl.id,
		DeviceType:   tpl.deviceType,
		Protocol:     tpl.protocol,
		ThreatLevel:  tpl.threatLevel,
		ThreatScore:  tpl.threatScore,
		FirstSeen:    now,
		LastSeen:     now,
		SeenCount:    1,
		RSSI:         rssi,
		DistanceBand: model.DistanceBandFromRSSI(rssi),
		MACAddress:   tpl.mac,
		SSID:         tpl.ssid,
		Manufacturer: tpl.manufacturer,
		Frequency:    tpl.frequency,
	}

	stored := s.store.Upsert(rec)
	if tpl.fpScore > 0 {
		// The analyzer pass runs after classification; the annotated record
		// reaches consumers through the pull path, not this push.
		s.store.MarkFalsePositive(tpl.id, tpl.fpScore, tpl.fpCategory, tpl.fpReason, now, model.AnalysisRuleBased)
	}
	s.mirrorDetectionsLocked()

	switch tpl.deviceType {
	case model.DeviceTypeUltrasonicBeacon:
		s.stats.UltrasonicHits++
	case model.DeviceTypeDrone:
		s.stats.SubGhzDetections++
	case model.DeviceTypeRogueAP:
		s.stats.WipsAlerts++
	}

	s.publish(bus.TopicLastDetection, stored)
}

// mirrorDetectionsLocked pushes the whole store into Redis so the pull path
// reads exactly what the simulator holds.
func (s *Simulator) mirrorDetectionsLocked() {
	if s.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	records, err := s.store.ListDetections(ctx)
	if err != nil {
		s.logger.Warn("Detection mirror read failed", "error", err)
		return
	}
	for _, rec := range records {
		if err := s.sink.Put(ctx, rec); err != nil {
			s.logger.Warn("Detection mirror write failed", "id", rec.ID, "error", err)
			return
		}
	}
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return
	}
	if err := s.sink.PutCounts(ctx, counts); err != nil {
		s.logger.Warn("Detection mirror write failed", "error", err)
	}
}

func (s *Simulator) emitAnomalyLocked(now int64) {
	switch s.rng.Intn(6) {
	case 0:
		s.emitCellAnomalyLocked(now)
	case 1:
		s.emitWifiAnomalyLocked(now)
	case 2:
		s.emitRFAnomalyLocked(now)
	case 3:
		s.emitGnssAnomalyLocked(now)
	case 4:
		s.emitSatAnomalyLocked(now)
	case 5:
		s.emitUltraAnomalyLocked(now)
	}
}

func (s *Simulator) emitCellAnomalyLocked(now int64) {
	ev := model.AnomalyEvent{
		Subsystem:   model.SubsystemCellular,
		Severity:    model.SeverityHigh,
		Timestamp:   now,
		Description: "Encryption downgrade requested by serving cell",
		CellID:      interceptorCellID,
	}
	s.cellAnomalies = appendCapped(s.cellAnomalies, ev, maxAnomalies)
	s.cellEvents = ringAppend(s.cellEvents, model.CellEvent{
		Timestamp:   now,
		Kind:        "downgrade",
		Description: ev.Description,
	})

	s.publish(bus.TopicCellAnomalies, s.cellAnomalies)
	s.publish(bus.TopicCellEvents, ringCollect[model.CellEvent](s.cellEvents))
}

func (s *Simulator) emitWifiAnomalyLocked(now int64) {
	ev := model.AnomalyEvent{
		Subsystem:   model.SubsystemWifi,
		Severity:    model.SeverityMedium,
		Timestamp:   now,
		Description: "Deauthentication burst against local clients",
		BSSID:       rogueBSSID,
		SSID:        rogueSSID,
	}
	s.wifiAnomalies = appendCapped(s.wifiAnomalies, ev, maxAnomalies)
	s.suspicious = upsertSuspicious(s.suspicious, model.SuspiciousNetwork{
		SSID:     rogueSSID,
		BSSID:    rogueBSSID,
		Reason:   "deauth source",
		RSSI:     -40 - s.rng.Intn(40),
		Channel:  6,
		LastSeen: now,
	})
	if s.wifiEnvironment == model.EnvironmentBaseline {
		s.wifiEnvironment = model.EnvironmentElevated
		s.publish(bus.TopicWifiEnvironment, s.wifiEnvironment)
	}

	s.publish(bus.TopicWifiAnomalies, s.wifiAnomalies)
	s.publish(bus.TopicWifiSuspicious, s.suspicious)
}

func (s *Simulator) emitRFAnomalyLocked(now int64) {
	ev := model.AnomalyEvent{
		Subsystem:   model.SubsystemRF,
		Severity:    model.SeverityMedium,
		Timestamp:   now,
		Description: "Video downlink burst on 5.8 GHz",
		FrequencyHz: 5_800_000_000,
	}
	s.rfAnomalies = appendCapped(s.rfAnomalies, ev, maxAnomalies)
	s.drones = upsertDrone(s.drones, model.DroneContact{
		ID:           "drone-ocusync-01",
		ProtocolName: "OcuSync",
		FrequencyHz:  5_800_000_000,
		RSSI:         -60 - s.rng.Intn(25),
		LastSeen:     now,
	})

	s.publish(bus.TopicRFAnomalies, s.rfAnomalies)
	s.publish(bus.TopicRFDrones, s.drones)
}

func (s *Simulator) emitGnssAnomalyLocked(now int64) {
	ev := model.AnomalyEvent{
		Subsystem:   model.SubsystemGNSS,
		Severity:    model.SeverityHigh,
		Timestamp:   now,
		Description: "AGC step with flat C/N0 profile",
	}
	s.gnssAnomalies = appendCapped(s.gnssAnomalies, ev, maxAnomalies)
	s.gnssEvents = ringAppend(s.gnssEvents, model.GnssEvent{
		Timestamp:   now,
		Kind:        "agc_step",
		Description: ev.Description,
	})

	s.publish(bus.TopicGnssAnomalies, s.gnssAnomalies)
	s.publish(bus.TopicGnssEvents, ringCollect[model.GnssEvent](s.gnssEvents))
}

func (s *Simulator) emitSatAnomalyLocked(now int64) {
	ev := model.AnomalyEvent{
		Subsystem:   model.SubsystemSatellite,
		Severity:    model.SeverityLow,
		Timestamp:   now,
		Description: "Unexpected downlink burst outside pass window",
	}
	s.satAnomalies = appendCapped(s.satAnomalies, ev, maxAnomalies)
	s.satHistory = ringAppend(s.satHistory, model.SatEvent{Timestamp: now, Description: ev.Description})

	s.publish(bus.TopicSatAnomalies, s.satAnomalies)
	s.publish(bus.TopicSatHistory, ringCollect[model.SatEvent](s.satHistory))
}

func (s *Simulator) emitUltraAnomalyLocked(now int64) {
	ev := model.AnomalyEvent{
		Subsystem:   model.SubsystemUltrasonic,
		Severity:    model.SeverityLow,
		Timestamp:   now,
		Description: "Coded beacon near 19.5 kHz",
		FrequencyHz: beaconFrequencyHz,
	}
	s.ultraAnomalies = appendCapped(s.ultraAnomalies, ev, maxAnomalies)
	s.beacons = upsertBeacon(s.beacons, now, 0.3+s.rng.Float64()*0.4)
	s.stats.UltrasonicHits++

	s.publish(bus.TopicUltraAnomalies, s.ultraAnomalies)
	s.publish(bus.TopicUltraBeacons, s.beacons)
}

func (s *Simulator) emitShortRangeSightingLocked(now int64) {
	dev := shortRangePool[s.rng.Intn(len(shortRangePool))]
	dev.RSSI = -40 - s.rng.Intn(55)
	dev.FirstSeen = now
	dev.LastSeen = now
	s.shortRange = upsertDevice(s.shortRange, dev)
	s.publish(bus.TopicDevicesShortRange, s.shortRange)
}

func (s *Simulator) emitWifiSightingLocked(now int64) {
	dev := wifiPool[s.rng.Intn(len(wifiPool))]
	dev.RSSI = -40 - s.rng.Intn(55)
	dev.FirstSeen = now
	dev.LastSeen = now
	s.wifiSeen = upsertDevice(s.wifiSeen, dev)
	s.publish(bus.TopicDevicesWifi, s.wifiSeen)
}

// emitCellUpdateLocked drifts the serving-cell signal and occasionally hands
// off to another cell.
func (s *Simulator) emitCellUpdateLocked(now int64) {
	s.cellNetwork.SignalDBm += s.rng.Intn(7) - 3
	if s.cellNetwork.SignalDBm > -70 {
		s.cellNetwork.SignalDBm = -70
	}
	if s.cellNetwork.SignalDBm < -115 {
		s.cellNetwork.SignalDBm = -115
	}

	if s.rng.Intn(10) == 0 {
		next := servingCells[s.rng.Intn(len(servingCells))]
		if next != s.cellNetwork.CellID {
			s.cellEvents = ringAppend(s.cellEvents, model.CellEvent{
				Timestamp:   now,
				Kind:        "handoff",
				Description: "Serving cell handoff to " + next,
			})
			s.cellNetwork.CellID = next
			s.publish(bus.TopicCellEvents, ringCollect[model.CellEvent](s.cellEvents))
		}
	}

	tower := s.towers[s.cellNetwork.CellID]
	if tower.CellID == "" {
		tower = model.CellTower{
			CellID:    s.cellNetwork.CellID,
			Operator:  s.cellNetwork.Operator,
			Band:      "B66",
			FirstSeen: now,
		}
	}
	tower.SignalDBm = s.cellNetwork.SignalDBm
	tower.LastSeen = now
	s.towers[tower.CellID] = tower

	s.publish(bus.TopicCellStatus, s.cellNetwork)
	s.publish(bus.TopicCellTowers, s.towerListLocked())
}

func (s *Simulator) emitGnssMeasurementsLocked(now int64) {
	visible := 10 + s.rng.Intn(5)
	used := visible - 2 - s.rng.Intn(3)
	s.gnssMeasure = model.GnssMeasurements{
		Timestamp:         now,
		SatellitesVisible: visible,
		SatellitesUsed:    used,
		AGCLevel:          0.45 + s.rng.Float64()*0.1,
		CN0Mean:           36 + s.rng.Float64()*6,
	}

	s.gnssSatellites = s.gnssSatellites[:0]
	for i := 0; i < visible; i++ {
		s.gnssSatellites = append(s.gnssSatellites, model.GnssSatellite{
			Constellation: constellations[i%len(constellations)],
			SVID:          1 + s.rng.Intn(32),
			CN0:           30 + s.rng.Float64()*15,
			Used:          i < used,
		})
	}

	s.publish(bus.TopicGnssMeasurements, s.gnssMeasure)
	s.publish(bus.TopicGnssSatellites, s.gnssSatellites)
}

func (s *Simulator) recordErrorLocked(now int64) {
	entry := errorPool[s.rng.Intn(len(errorPool))]
	entry.Timestamp = now
	s.errors = ringAppend(s.errors, entry)
	s.publish(bus.TopicErrors, ringCollect[model.ErrorEntry](s.errors))
}

// upsertDevice keeps the original FirstSeen when the device is already
// listed.
func upsertDevice(list []model.SeenDevice, dev model.SeenDevice) []model.SeenDevice {
	for i := range list {
		if list[i].ID == dev.ID {
			dev.FirstSeen = list[i].FirstSeen
			list[i] = dev
			return list
		}
	}
	return appendCapped(list, dev, maxListEntries)
}

func upsertSuspicious(list []model.SuspiciousNetwork, n model.SuspiciousNetwork) []model.SuspiciousNetwork {
	for i := range list {
		if list[i].BSSID == n.BSSID {
			list[i] = n
			return list
		}
	}
	return appendCapped(list, n, maxListEntries)
}

func upsertDrone(list []model.DroneContact, d model.DroneContact) []model.DroneContact {
	for i := range list {
		if list[i].ID == d.ID {
			list[i] = d
			return list
		}
	}
	return appendCapped(list, d, maxListEntries)
}

func upsertBeacon(list []model.UltrasonicBeacon, now int64, level float64) []model.UltrasonicBeacon {
	for i := range list {
		if list[i].FrequencyHz == beaconFrequencyHz {
			list[i].LastHeard = now
			list[i].Level = level
			return list
		}
	}
	return appendCapped(list, model.UltrasonicBeacon{
		FrequencyHz: beaconFrequencyHz,
		Level:       level,
		FirstHeard:  now,
		LastHeard:   now,
	}, maxListEntries)
}
