package bus

import "strings"

// Subjects published by the detector process. One subject per topic; the
// aggregator subscribes to all of them.
const (
	TopicScanning   = "detector.scanning"
	TopicScanStatus = "detector.scan.status"

	TopicSubsystemShortRange = "detector.subsystem.shortrange"
	TopicSubsystemWifi       = "detector.subsystem.wifi"
	TopicSubsystemLocation   = "detector.subsystem.location"
	TopicSubsystemCellular   = "detector.subsystem.cellular"
	TopicSubsystemSatellite  = "detector.subsystem.satellite"

	TopicLastDetection     = "detector.detection.last"
	TopicDevicesShortRange = "detector.devices.shortrange"
	TopicDevicesWifi       = "detector.devices.wifi"

	TopicCellStatus    = "detector.cell.status"
	TopicCellTowers    = "detector.cell.towers"
	TopicCellAnomalies = "detector.cell.anomalies"
	TopicCellEvents    = "detector.cell.events"

	TopicSatConnection = "detector.sat.connection"
	TopicSatAnomalies  = "detector.sat.anomalies"
	TopicSatHistory    = "detector.sat.history"

	TopicWifiEnvironment = "detector.wifi.environment"
	TopicWifiAnomalies   = "detector.wifi.anomalies"
	TopicWifiSuspicious  = "detector.wifi.suspicious"

	TopicRFEnvironment = "detector.rf.environment"
	TopicRFAnomalies   = "detector.rf.anomalies"
	TopicRFDrones      = "detector.rf.drones"

	TopicUltraStatus    = "detector.ultra.status"
	TopicUltraAnomalies = "detector.ultra.anomalies"
	TopicUltraBeacons   = "detector.ultra.beacons"

	TopicGnssStatus       = "detector.gnss.status"
	TopicGnssSatellites   = "detector.gnss.satellites"
	TopicGnssAnomalies    = "detector.gnss.anomalies"
	TopicGnssEvents       = "detector.gnss.events"
	TopicGnssMeasurements = "detector.gnss.measurements"

	TopicHealth           = "detector.health"
	TopicStats            = "detector.stats"
	TopicErrors           = "detector.errors"
	TopicDetectionRefresh = "detector.detection.refresh"
)

// Command subjects. Each command publishes its envelope on
// commandPrefix + name; the detector side subscribes to the wildcard.
const (
	commandPrefix   = "detector.cmd."
	CommandWildcard = "detector.cmd.>"
)

// CommandSubject returns the subject a named command is published on.
func CommandSubject(name string) string {
	return commandPrefix + name
}

// CommandName extracts the command name from a command subject.
func CommandName(subject string) string {
	return strings.TrimPrefix(subject, commandPrefix)
}
