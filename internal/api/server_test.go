package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockwatch/aggregator/internal/aggregate"
	"github.com/flockwatch/aggregator/internal/bus"
	"github.com/flockwatch/aggregator/internal/command"
	"github.com/flockwatch/aggregator/internal/correlate"
	"github.com/flockwatch/aggregator/internal/filter"
	"github.com/flockwatch/aggregator/internal/metrics"
	"github.com/flockwatch/aggregator/internal/model"
)

func newTestServer(t *testing.T) (*Server, *aggregate.Aggregator, *bus.MemBus) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	agg := aggregate.New(logger, m)
	t.Cleanup(agg.Close)

	conn := bus.NewMemBus()
	t.Cleanup(conn.Close)

	d := command.NewDispatcher(conn, agg, nil, time.Hour, m, logger)
	t.Cleanup(d.Close)

	srv := NewServer(logger, agg, d, filter.NewManager(logger), correlate.NewEngine(logger), 0.7, m, reg)
	return srv, agg, conn
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func fp(score float64) *float64 { return &score }

func TestServer_Health(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestServer_ReadyReflectsBusState(t *testing.T) {
	srv, agg, _ := newTestServer(t)

	rec := doRequest(t, srv, "GET", "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	agg.Apply(func(s *aggregate.Snapshot) { s.BusConnected = true })

	rec = doRequest(t, srv, "GET", "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Snapshot(t *testing.T) {
	srv, agg, _ := newTestServer(t)

	agg.Apply(func(s *aggregate.Snapshot) {
		s.ScanningEnabled = true
		s.ScanStatus = model.ScanScanning
	})

	rec := doRequest(t, srv, "GET", "/v1/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap aggregate.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.True(t, snap.ScanningEnabled)
	assert.Equal(t, model.ScanScanning, snap.ScanStatus)
	assert.Equal(t, int64(1), snap.Generation)
}

func TestServer_DetectionsFiltered(t *testing.T) {
	srv, agg, _ := newTestServer(t)

	agg.Apply(func(s *aggregate.Snapshot) {
		s.Detections = []model.DetectionRecord{
			{ID: "det-high", ThreatLevel: model.ThreatHigh, LastSeen: 300, SeenCount: 1},
			{ID: "det-low", ThreatLevel: model.ThreatLow, LastSeen: 200, SeenCount: 1},
		}
		s.DetectionCounts = model.AggregateCounts{Total: 2, High: 1, Low: 1}
	})

	rec := doRequest(t, srv, "PUT", "/v1/filter", `{"threat_level":"high"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, "GET", "/v1/detections", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Detections []model.DetectionRecord `json:"detections"`
		Total      int                     `json:"total"`
		Counts     model.AggregateCounts   `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Len(t, resp.Detections, 1)
	assert.Equal(t, "det-high", resp.Detections[0].ID)
	assert.Equal(t, 1, resp.Total)
	// Counts stay authoritative, independent of the view filter.
	assert.Equal(t, 2, resp.Counts.Total)
}

func TestServer_AnomaliesSuppressed(t *testing.T) {
	srv, agg, _ := newTestServer(t)

	agg.Apply(func(s *aggregate.Snapshot) {
		s.Detections = []model.DetectionRecord{{
			ID: "det-cell", Protocol: model.ProtocolCellular,
			Manufacturer: "cell 310-410-5551", LastSeen: 1004, SeenCount: 1,
			FPScore: fp(0.9),
		}}
		s.Cellular.Anomalies = []model.AnomalyEvent{{
			Subsystem: model.SubsystemCellular, Timestamp: 1000,
			Description: "imsi catcher pattern", CellID: "310-410-5551",
		}}
		s.RogueWifi.Anomalies = []model.AnomalyEvent{{
			Subsystem: model.SubsystemWifi, Timestamp: 1000,
			Description: "deauth burst", BSSID: "aa:bb:cc:dd:ee:ff",
		}}
	})

	rec := doRequest(t, srv, "GET", "/v1/anomalies", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Anomalies  []model.AnomalyEvent `json:"anomalies"`
		Total      int                  `json:"total"`
		Suppressed int                  `json:"suppressed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, resp.Suppressed)
	require.Len(t, resp.Anomalies, 1)
	assert.Equal(t, model.SubsystemWifi, resp.Anomalies[0].Subsystem)
}

func TestServer_CommandPost(t *testing.T) {
	srv, agg, conn := newTestServer(t)

	published := make(chan string, 1)
	_, err := conn.Subscribe(bus.CommandWildcard, func(subject string, _ []byte) {
		published <- subject
	})
	require.NoError(t, err)

	rec := doRequest(t, srv, "POST", "/v1/commands/start-scanning", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	snap := agg.Latest()
	assert.True(t, snap.ScanningEnabled)
	assert.Equal(t, model.ScanStarting, snap.ScanStatus)

	select {
	case subject := <-published:
		assert.Equal(t, bus.CommandSubject(command.CmdStartScanning), subject)
	default:
		t.Fatal("command never published")
	}
}

func TestServer_CommandUnknown(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, "POST", "/v1/commands/self-destruct", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_FilterRoundTrip(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, "PUT", "/v1/filter",
		`{"threat_level":"high","device_types":["drone","alpr_camera"],"hide_false_positives":true,"fp_threshold":0.5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp filterResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "high", resp.ThreatLevel)
	assert.Equal(t, []string{"alpr_camera", "drone"}, resp.DeviceTypes)
	assert.True(t, resp.HideFalsePositives)
	assert.Equal(t, 0.5, resp.FPThreshold)

	// Partial update leaves untouched fields alone.
	rec = doRequest(t, srv, "PUT", "/v1/filter", `{"match_all":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.MatchAll)
	assert.Equal(t, "high", resp.ThreatLevel)

	rec = doRequest(t, srv, "GET", "/v1/filter", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "high", resp.ThreatLevel)
	assert.True(t, resp.MatchAll)
}

func TestServer_FilterRejectsUnknownThreatLevel(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, "PUT", "/v1/filter", `{"threat_level":"apocalyptic"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, "PUT", "/v1/filter", `{"threat_level":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ClearThreatLevelWithEmptyString(t *testing.T) {
	srv, _, _ := newTestServer(t)

	doRequest(t, srv, "PUT", "/v1/filter", `{"threat_level":"high"}`)
	rec := doRequest(t, srv, "PUT", "/v1/filter", `{"threat_level":""}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp filterResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.ThreatLevel)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	srv, agg, _ := newTestServer(t)

	agg.Apply(func(s *aggregate.Snapshot) { s.ScanningEnabled = true })

	rec := doRequest(t, srv, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "aggregator_snapshot_generation")
}

func TestServer_StreamSendsSnapshotFrames(t *testing.T) {
	srv, agg, _ := newTestServer(t)

	agg.Apply(func(s *aggregate.Snapshot) { s.ScanningEnabled = true })

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/v1/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.ServeHTTP(rec, req)
		close(done)
	}()

	// The subscription is seeded with the current snapshot, so the first
	// frame arrives without further publishes.
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "data: "), "body %q", body)

	var snap aggregate.Snapshot
	frame := strings.TrimPrefix(strings.Split(body, "\n\n")[0], "data: ")
	require.NoError(t, json.Unmarshal([]byte(frame), &snap))
	assert.True(t, snap.ScanningEnabled)
}
