package correlate

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockwatch/aggregator/internal/model"
)

func newTestEngine() *Engine {
	return NewEngine(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func fp(score float64) *float64 {
	return &score
}

func TestEngine_CellularSuppression(t *testing.T) {
	e := newTestEngine()

	anomaly := model.AnomalyEvent{
		Subsystem:   model.SubsystemCellular,
		Timestamp:   1000,
		Description: "IMSI catcher pattern",
		CellID:      "310-410-1234",
	}
	detection := model.DetectionRecord{
		ID:           "det-1",
		Protocol:     model.ProtocolCellular,
		LastSeen:     1004,
		FPScore:      fp(0.9),
		Manufacturer: "cell 310-410-1234 LTE band 2",
	}

	// 4 ms apart, cell id substring present: suppressed
	assert.True(t, e.Suppressed(anomaly, []model.DetectionRecord{detection}, 0.7))

	// Same detection seen at 7000 ms, outside the 5 s window: shown
	detection.LastSeen = 7000
	assert.False(t, e.Suppressed(anomaly, []model.DetectionRecord{detection}, 0.7))
}

func TestEngine_EmptyCandidatesNeverSuppresses(t *testing.T) {
	e := newTestEngine()

	anomaly := model.AnomalyEvent{
		Subsystem:   model.SubsystemCellular,
		Timestamp:   1000,
		Description: "downgrade attempt",
		CellID:      "310-410-1",
	}

	// Perfect time and attribute match, but the score is below threshold,
	// so the candidate set is empty and suppression never happens
	detections := []model.DetectionRecord{
		{ID: "a", Protocol: model.ProtocolCellular, LastSeen: 1000, FPScore: fp(0.3), Manufacturer: "310-410-1"},
		{ID: "b", Protocol: model.ProtocolCellular, LastSeen: 1000, Manufacturer: "310-410-1"},
		{ID: "c", Protocol: model.ProtocolWifi, LastSeen: 1000, FPScore: fp(0.99)},
	}
	assert.False(t, e.Suppressed(anomaly, detections, 0.7))

	// Threshold boundary is inclusive: score == threshold qualifies
	detections[0].FPScore = fp(0.7)
	assert.True(t, e.Suppressed(anomaly, detections, 0.7))
}

func TestEngine_CellularAttributeMismatch(t *testing.T) {
	e := newTestEngine()

	anomaly := model.AnomalyEvent{
		Subsystem: model.SubsystemCellular,
		Timestamp: 1000,
		CellID:    "310-410-9999",
	}
	detection := model.DetectionRecord{
		ID:           "det-1",
		Protocol:     model.ProtocolCellular,
		LastSeen:     1004,
		FPScore:      fp(0.9),
		Manufacturer: "cell 310-410-1234",
	}

	// Inside the window but the cell id is not a substring: shown
	assert.False(t, e.Suppressed(anomaly, []model.DetectionRecord{detection}, 0.7))
}

func TestEngine_WifiMatchers(t *testing.T) {
	e := newTestEngine()

	anomaly := model.AnomalyEvent{
		Subsystem: model.SubsystemWifi,
		Timestamp: 10000,
		BSSID:     "AA:BB:CC:DD:EE:FF",
		SSID:      "FreePublicWifi",
	}

	base := model.DetectionRecord{
		ID:       "det-1",
		Protocol: model.ProtocolWifi,
		LastSeen: 12000,
		FPScore:  fp(0.8),
	}

	// MAC equals BSSID, case-insensitive
	d := base
	d.MACAddress = "aa:bb:cc:dd:ee:ff"
	assert.True(t, e.Suppressed(anomaly, []model.DetectionRecord{d}, 0.7))

	// SSID equals SSID, case-insensitive
	d = base
	d.SSID = "freepublicwifi"
	assert.True(t, e.Suppressed(anomaly, []model.DetectionRecord{d}, 0.7))

	// Neither matches: shown
	d = base
	d.MACAddress = "11:22:33:44:55:66"
	d.SSID = "HomeNet"
	assert.False(t, e.Suppressed(anomaly, []model.DetectionRecord{d}, 0.7))

	// WiFi window is 10 s: a 9.9 s delta still suppresses
	d = base
	d.MACAddress = anomaly.BSSID
	d.LastSeen = anomaly.Timestamp + 9900
	assert.True(t, e.Suppressed(anomaly, []model.DetectionRecord{d}, 0.7))

	d.LastSeen = anomaly.Timestamp + 10000
	assert.False(t, e.Suppressed(anomaly, []model.DetectionRecord{d}, 0.7))
}

func TestEngine_TimeOnlySubsystems(t *testing.T) {
	e := newTestEngine()

	for _, tt := range []struct {
		subsystem model.Subsystem
		protocol  model.Protocol
	}{
		{model.SubsystemRF, model.ProtocolShortRangeRadio},
		{model.SubsystemGNSS, model.ProtocolGNSS},
		{model.SubsystemSatellite, model.ProtocolSatellite},
	} {
		anomaly := model.AnomalyEvent{Subsystem: tt.subsystem, Timestamp: 50000}
		detection := model.DetectionRecord{
			ID:       "det-1",
			Protocol: tt.protocol,
			LastSeen: 52000,
			FPScore:  fp(0.75),
		}

		// No attribute requirement, time proximity alone suppresses
		assert.True(t, e.Suppressed(anomaly, []model.DetectionRecord{detection}, 0.7), string(tt.subsystem))

		detection.LastSeen = 56000
		assert.False(t, e.Suppressed(anomaly, []model.DetectionRecord{detection}, 0.7), string(tt.subsystem))
	}
}

func TestEngine_UltrasonicFrequencySubstring(t *testing.T) {
	e := newTestEngine()

	anomaly := model.AnomalyEvent{
		Subsystem:   model.SubsystemUltrasonic,
		Timestamp:   1000,
		FrequencyHz: 19500,
	}
	detection := model.DetectionRecord{
		ID:        "det-1",
		Protocol:  model.ProtocolAudio,
		LastSeen:  2000,
		FPScore:   fp(0.9),
		Frequency: "beacon at 19500 Hz",
	}

	assert.True(t, e.Suppressed(anomaly, []model.DetectionRecord{detection}, 0.7))

	detection.Frequency = "beacon at 21000 Hz"
	assert.False(t, e.Suppressed(anomaly, []model.DetectionRecord{detection}, 0.7))
}

func TestEngine_UnknownSubsystemNeverSuppressed(t *testing.T) {
	e := newTestEngine()

	anomaly := model.AnomalyEvent{Subsystem: "thermal", Timestamp: 1000}
	detection := model.DetectionRecord{ID: "d", Protocol: model.ProtocolWifi, LastSeen: 1000, FPScore: fp(0.99)}

	assert.False(t, e.Suppressed(anomaly, []model.DetectionRecord{detection}, 0.7))
}

func TestEngine_Filter(t *testing.T) {
	e := newTestEngine()

	anomalies := []model.AnomalyEvent{
		{Subsystem: model.SubsystemCellular, Timestamp: 1000, Description: "suppressed", CellID: "310-1"},
		{Subsystem: model.SubsystemCellular, Timestamp: 90000, Description: "kept, outside window", CellID: "310-1"},
		{Subsystem: model.SubsystemRF, Timestamp: 1000, Description: "kept, no rf candidates"},
	}
	detections := []model.DetectionRecord{
		{ID: "a", Protocol: model.ProtocolCellular, LastSeen: 1004, FPScore: fp(0.9), Manufacturer: "310-1"},
	}

	got := e.Filter(anomalies, detections, 0.7)
	require.Len(t, got, 2)
	assert.Equal(t, "kept, outside window", got[0].Description)
	assert.Equal(t, "kept, no rf candidates", got[1].Description)
}

func TestEngine_FilterNoCandidatesKeepsAll(t *testing.T) {
	e := newTestEngine()

	anomalies := make([]model.AnomalyEvent, 50)
	for i := range anomalies {
		anomalies[i] = model.AnomalyEvent{Subsystem: model.SubsystemGNSS, Timestamp: int64(i)}
	}

	// Anomaly volume is irrelevant without scored candidates
	got := e.Filter(anomalies, nil, 0.7)
	assert.Len(t, got, 50)
}

func TestLoadProfile(t *testing.T) {
	e := newTestEngine()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	path := filepath.Join(t.TempDir(), "windows.yaml")
	content := "windows:\n  cellular: 30s\n  wifi: 2s\n  thermal: 9s\n  rf: bogus\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	require.NoError(t, LoadProfile(path, e, logger))

	cellular, ok := e.MaxDelta(model.SubsystemCellular)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, cellular)

	wifi, ok := e.MaxDelta(model.SubsystemWifi)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, wifi)

	// Unknown subsystem and bad duration are skipped
	rf, ok := e.MaxDelta(model.SubsystemRF)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, rf)

	_, ok = e.MaxDelta("thermal")
	assert.False(t, ok)
}

func TestLoadProfile_MissingFile(t *testing.T) {
	e := newTestEngine()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := LoadProfile(filepath.Join(t.TempDir(), "absent.yaml"), e, logger)
	assert.Error(t, err)
}
