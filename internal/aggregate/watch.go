package aggregate

import (
	"encoding/json"
	"fmt"

	"github.com/flockwatch/aggregator/internal/bus"
	"github.com/flockwatch/aggregator/internal/model"
	"github.com/flockwatch/aggregator/internal/validate"
)

// Watch subscribes to every detector topic and routes each payload into the
// merge loop as a typed update. Per-topic ordering holds because the bus
// dispatches each subscription's handler serially. Decode failures drop the
// payload; they never stop the stream.
func (a *Aggregator) Watch(conn bus.Conn, dec *bus.Decoder, val *validate.Validator) error {
	handlers := map[string]bus.Handler{
		bus.TopicScanning: func(_ string, data []byte) {
			a.metrics.IncMessage(bus.TopicScanning)
			enabled, ok := dec.Bool(bus.TopicScanning, data)
			if !ok {
				a.metrics.IncInvalidPayload(bus.TopicScanning)
				return
			}
			a.Enqueue(func(s *Snapshot) { s.ScanningEnabled = enabled })
		},
		bus.TopicScanStatus: func(_ string, data []byte) {
			a.metrics.IncMessage(bus.TopicScanStatus)
			status := dec.ScanStatus(bus.TopicScanStatus, data)
			a.Enqueue(func(s *Snapshot) { s.ScanStatus = status })
		},

		bus.TopicSubsystemShortRange: a.subsystemStatusHandler(dec, bus.TopicSubsystemShortRange,
			func(s *Snapshot, st model.SubsystemStatus) { s.Subsystems.ShortRange = st }),
		bus.TopicSubsystemWifi: a.subsystemStatusHandler(dec, bus.TopicSubsystemWifi,
			func(s *Snapshot, st model.SubsystemStatus) { s.Subsystems.Wifi = st }),
		bus.TopicSubsystemLocation: a.subsystemStatusHandler(dec, bus.TopicSubsystemLocation,
			func(s *Snapshot, st model.SubsystemStatus) { s.Subsystems.Location = st }),
		bus.TopicSubsystemCellular: a.subsystemStatusHandler(dec, bus.TopicSubsystemCellular,
			func(s *Snapshot, st model.SubsystemStatus) { s.Subsystems.Cellular = st }),
		bus.TopicSubsystemSatellite: a.subsystemStatusHandler(dec, bus.TopicSubsystemSatellite,
			func(s *Snapshot, st model.SubsystemStatus) { s.Subsystems.Satellite = st }),
		bus.TopicUltraStatus: a.subsystemStatusHandler(dec, bus.TopicUltraStatus,
			func(s *Snapshot, st model.SubsystemStatus) { s.Ultrasonic.Status = st }),
		bus.TopicGnssStatus: a.subsystemStatusHandler(dec, bus.TopicGnssStatus,
			func(s *Snapshot, st model.SubsystemStatus) { s.Gnss.Status = st }),

		bus.TopicWifiEnvironment: a.environmentHandler(dec, bus.TopicWifiEnvironment,
			func(s *Snapshot, env model.EnvironmentStatus) { s.RogueWifi.Environment = env }),
		bus.TopicRFEnvironment: a.environmentHandler(dec, bus.TopicRFEnvironment,
			func(s *Snapshot, env model.EnvironmentStatus) { s.RF.Environment = env }),

		bus.TopicLastDetection: a.lastDetectionHandler(val),

		bus.TopicDevicesShortRange: payloadHandler(a, bus.TopicDevicesShortRange,
			func(s *Snapshot, v []model.SeenDevice) { s.ShortRangeDevices = v }),
		bus.TopicDevicesWifi: payloadHandler(a, bus.TopicDevicesWifi,
			func(s *Snapshot, v []model.SeenDevice) { s.WifiDevices = v }),

		bus.TopicCellStatus: payloadHandler(a, bus.TopicCellStatus,
			func(s *Snapshot, v model.CellNetworkStatus) { s.Cellular.Network = v }),
		bus.TopicCellTowers: payloadHandler(a, bus.TopicCellTowers,
			func(s *Snapshot, v []model.CellTower) { s.Cellular.Towers = v }),
		bus.TopicCellAnomalies: a.anomalyListHandler(val, bus.TopicCellAnomalies,
			func(s *Snapshot, v []model.AnomalyEvent) { s.Cellular.Anomalies = v }),
		bus.TopicCellEvents: payloadHandler(a, bus.TopicCellEvents,
			func(s *Snapshot, v []model.CellEvent) { s.Cellular.Events = v }),

		bus.TopicSatConnection: payloadHandler(a, bus.TopicSatConnection,
			func(s *Snapshot, v model.SatConnection) { s.Satellite.Connection = v }),
		bus.TopicSatAnomalies: a.anomalyListHandler(val, bus.TopicSatAnomalies,
			func(s *Snapshot, v []model.AnomalyEvent) { s.Satellite.Anomalies = v }),
		bus.TopicSatHistory: payloadHandler(a, bus.TopicSatHistory,
			func(s *Snapshot, v []model.SatEvent) { s.Satellite.History = v }),

		bus.TopicWifiAnomalies: a.anomalyListHandler(val, bus.TopicWifiAnomalies,
			func(s *Snapshot, v []model.AnomalyEvent) { s.RogueWifi.Anomalies = v }),
		bus.TopicWifiSuspicious: payloadHandler(a, bus.TopicWifiSuspicious,
			func(s *Snapshot, v []model.SuspiciousNetwork) { s.RogueWifi.Suspicious = v }),

		bus.TopicRFAnomalies: a.anomalyListHandler(val, bus.TopicRFAnomalies,
			func(s *Snapshot, v []model.AnomalyEvent) { s.RF.Anomalies = v }),
		bus.TopicRFDrones: payloadHandler(a, bus.TopicRFDrones,
			func(s *Snapshot, v []model.DroneContact) { s.RF.Drones = v }),

		bus.TopicUltraAnomalies: a.anomalyListHandler(val, bus.TopicUltraAnomalies,
			func(s *Snapshot, v []model.AnomalyEvent) { s.Ultrasonic.Anomalies = v }),
		bus.TopicUltraBeacons: payloadHandler(a, bus.TopicUltraBeacons,
			func(s *Snapshot, v []model.UltrasonicBeacon) { s.Ultrasonic.Beacons = v }),

		bus.TopicGnssSatellites: payloadHandler(a, bus.TopicGnssSatellites,
			func(s *Snapshot, v []model.GnssSatellite) { s.Gnss.Satellites = v }),
		bus.TopicGnssAnomalies: a.anomalyListHandler(val, bus.TopicGnssAnomalies,
			func(s *Snapshot, v []model.AnomalyEvent) { s.Gnss.Anomalies = v }),
		bus.TopicGnssEvents: payloadHandler(a, bus.TopicGnssEvents,
			func(s *Snapshot, v []model.GnssEvent) { s.Gnss.Events = v }),
		bus.TopicGnssMeasurements: payloadHandler(a, bus.TopicGnssMeasurements,
			func(s *Snapshot, v model.GnssMeasurements) { s.Gnss.Measurements = v }),

		bus.TopicHealth: payloadHandler(a, bus.TopicHealth,
			func(s *Snapshot, v map[string]model.HealthRecord) { s.Health = v }),
		bus.TopicStats: payloadHandler(a, bus.TopicStats,
			func(s *Snapshot, v model.ScanStatistics) { s.Stats = v }),
		bus.TopicErrors: payloadHandler(a, bus.TopicErrors,
			func(s *Snapshot, v []model.ErrorEntry) { s.Errors = v }),
	}

	for subject, handler := range handlers {
		sub, err := conn.Subscribe(subject, handler)
		if err != nil {
			a.Close()
			return fmt.Errorf("watch %s: %w", subject, err)
		}
		a.addBusSub(sub)
	}

	a.logger.Info("Watching detector topics", "topics", len(handlers))
	return nil
}

// payloadHandler decodes a JSON payload of type T and enqueues the apply
// closure. T stays concrete end to end.
func payloadHandler[T any](a *Aggregator, subject string, apply func(*Snapshot, T)) bus.Handler {
	return func(_ string, data []byte) {
		a.metrics.IncMessage(subject)
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			a.metrics.IncInvalidPayload(subject)
			a.logger.Warn("Dropping undecodable payload", "subject", subject, "error", err)
			return
		}
		a.Enqueue(func(s *Snapshot) { apply(s, v) })
	}
}

func (a *Aggregator) subsystemStatusHandler(dec *bus.Decoder, subject string, apply func(*Snapshot, model.SubsystemStatus)) bus.Handler {
	return func(_ string, data []byte) {
		a.metrics.IncMessage(subject)
		status := dec.SubsystemStatus(subject, data)
		a.Enqueue(func(s *Snapshot) { apply(s, status) })
	}
}

func (a *Aggregator) environmentHandler(dec *bus.Decoder, subject string, apply func(*Snapshot, model.EnvironmentStatus)) bus.Handler {
	return func(_ string, data []byte) {
		a.metrics.IncMessage(subject)
		env := dec.EnvironmentStatus(subject, data)
		a.Enqueue(func(s *Snapshot) { apply(s, env) })
	}
}

func (a *Aggregator) lastDetectionHandler(val *validate.Validator) bus.Handler {
	return func(_ string, data []byte) {
		a.metrics.IncMessage(bus.TopicLastDetection)
		if err := val.Detection(data); err != nil {
			a.metrics.IncInvalidPayload(bus.TopicLastDetection)
			a.logger.Warn("Dropping invalid detection", "subject", bus.TopicLastDetection, "error", err)
			return
		}
		var rec model.DetectionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			a.metrics.IncInvalidPayload(bus.TopicLastDetection)
			a.logger.Warn("Dropping undecodable detection", "subject", bus.TopicLastDetection, "error", err)
			return
		}
		if rec.DistanceBand == "" {
			rec.DistanceBand = model.DistanceBandFromRSSI(rec.RSSI)
		}
		a.Enqueue(func(s *Snapshot) { s.LastDetection = &rec })
	}
}

// anomalyListHandler validates each element of an anomaly list and keeps the
// valid ones. One malformed element must not discard a whole list update.
func (a *Aggregator) anomalyListHandler(val *validate.Validator, subject string, apply func(*Snapshot, []model.AnomalyEvent)) bus.Handler {
	return func(_ string, data []byte) {
		a.metrics.IncMessage(subject)
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			a.metrics.IncInvalidPayload(subject)
			a.logger.Warn("Dropping undecodable anomaly list", "subject", subject, "error", err)
			return
		}
		events := make([]model.AnomalyEvent, 0, len(raw))
		for _, r := range raw {
			if err := val.Anomaly(r); err != nil {
				a.metrics.IncInvalidPayload(subject)
				a.logger.Warn("Dropping invalid anomaly", "subject", subject, "error", err)
				continue
			}
			var ev model.AnomalyEvent
			if err := json.Unmarshal(r, &ev); err != nil {
				a.metrics.IncInvalidPayload(subject)
				continue
			}
			events = append(events, ev)
		}
		a.Enqueue(func(s *Snapshot) { apply(s, events) })
	}
}
