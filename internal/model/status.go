package model

// SubsystemStatus is the lifecycle state a detector subsystem reports for
// itself. The aggregator only reads and republishes it. PermissionDenied is
// a first-class state with a user-facing recovery action, not an error.
type SubsystemStatus string

const (
	StatusIdle             SubsystemStatus = "idle"
	StatusStarting         SubsystemStatus = "starting"
	StatusActive           SubsystemStatus = "active"
	StatusPermissionDenied SubsystemStatus = "permission_denied"
	StatusError            SubsystemStatus = "error"
)

// ParseSubsystemStatus maps a wire string to a SubsystemStatus using the
// fixed mapping table. Unknown strings map to StatusIdle and report
// ok=false; parsing never fails.
func ParseSubsystemStatus(s string) (SubsystemStatus, bool) {
	switch SubsystemStatus(s) {
	case StatusIdle, StatusStarting, StatusActive, StatusPermissionDenied, StatusError:
		return SubsystemStatus(s), true
	}
	return StatusIdle, false
}

// ScanStatus is the overall scan lifecycle reported by the detector process,
// distinct from the per-subsystem statuses.
type ScanStatus string

const (
	ScanIdle     ScanStatus = "idle"
	ScanStarting ScanStatus = "starting"
	ScanScanning ScanStatus = "scanning"
	ScanStopping ScanStatus = "stopping"
	ScanError    ScanStatus = "error"
)

// ParseScanStatus maps a wire string to a ScanStatus. Unknown strings map to
// ScanIdle and report ok=false.
func ParseScanStatus(s string) (ScanStatus, bool) {
	switch ScanStatus(s) {
	case ScanIdle, ScanStarting, ScanScanning, ScanStopping, ScanError:
		return ScanStatus(s), true
	}
	return ScanIdle, false
}

// EnvironmentStatus is the ambient-threat grading the rogue-WiFi and RF
// subsystems publish for their radio environment.
type EnvironmentStatus string

const (
	EnvironmentUnknown  EnvironmentStatus = "unknown"
	EnvironmentBaseline EnvironmentStatus = "baseline"
	EnvironmentElevated EnvironmentStatus = "elevated"
	EnvironmentHostile  EnvironmentStatus = "hostile"
)

// ParseEnvironmentStatus maps a wire string to an EnvironmentStatus. Unknown
// strings map to EnvironmentUnknown and report ok=false.
func ParseEnvironmentStatus(s string) (EnvironmentStatus, bool) {
	switch EnvironmentStatus(s) {
	case EnvironmentUnknown, EnvironmentBaseline, EnvironmentElevated, EnvironmentHostile:
		return EnvironmentStatus(s), true
	}
	return EnvironmentUnknown, false
}
