// Package api exposes the aggregated state over HTTP: health and metrics
// endpoints, JSON reads over the snapshot, the filtered detection list and
// the correlated anomaly view, command POSTs, and an SSE stream of
// snapshots.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flockwatch/aggregator/internal/aggregate"
	"github.com/flockwatch/aggregator/internal/command"
	"github.com/flockwatch/aggregator/internal/correlate"
	"github.com/flockwatch/aggregator/internal/filter"
	"github.com/flockwatch/aggregator/internal/metrics"
	"github.com/flockwatch/aggregator/internal/model"
)

// Server provides the HTTP read API over the aggregated state.
type Server struct {
	logger      *slog.Logger
	agg         *aggregate.Aggregator
	dispatcher  *command.Dispatcher
	filters     *filter.Manager
	engine      *correlate.Engine
	fpThreshold float64
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	router      *mux.Router
}

// NewServer creates the API server. fpThreshold is the correlation
// suppression threshold applied to the anomaly view.
func NewServer(logger *slog.Logger, agg *aggregate.Aggregator, dispatcher *command.Dispatcher, filters *filter.Manager, engine *correlate.Engine, fpThreshold float64, m *metrics.Metrics, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		logger:      logger,
		agg:         agg,
		dispatcher:  dispatcher,
		filters:     filters,
		engine:      engine,
		fpThreshold: fpThreshold,
		metrics:     m,
		gatherer:    gatherer,
		router:      mux.NewRouter(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/readyz", s.handleReady).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")

	s.router.HandleFunc("/v1/snapshot", s.handleSnapshot).Methods("GET")
	s.router.HandleFunc("/v1/detections", s.handleDetections).Methods("GET")
	s.router.HandleFunc("/v1/anomalies", s.handleAnomalies).Methods("GET")
	s.router.HandleFunc("/v1/stream", s.handleStream).Methods("GET")

	s.router.HandleFunc("/v1/filter", s.handleGetFilter).Methods("GET")
	s.router.HandleFunc("/v1/filter", s.handleSetFilter).Methods("PUT")

	s.router.HandleFunc("/v1/commands/{name}", s.handleCommand).Methods("POST")
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "flockwatch-aggregator",
		"timestamp": time.Now().UTC(),
	})
}

// handleReady reports ready only while the detector bus is connected. The
// snapshot itself stays readable either way.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	snap := s.agg.Latest()
	if !snap.BusConnected {
		s.writeJSONResponse(w, http.StatusServiceUnavailable, map[string]interface{}{
			"ready":  false,
			"reason": "detector bus disconnected",
		})
		return
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"ready":      true,
		"generation": snap.Generation,
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, s.agg.Latest())
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	snap := s.agg.Latest()
	detections := filter.Apply(snap.Detections, s.filters.Current())

	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"detections": detections,
		"total":      len(detections),
		"counts":     snap.DetectionCounts,
	})
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	snap := s.agg.Latest()
	all := snap.AllAnomalies()
	shown := s.engine.Filter(all, snap.Detections, s.fpThreshold)
	suppressed := len(all) - len(shown)

	s.metrics.AnomaliesShown.Add(float64(len(shown)))
	s.metrics.AnomaliesSuppressed.Add(float64(suppressed))

	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"anomalies":  shown,
		"total":      len(all),
		"suppressed": suppressed,
	})
}

// handleStream pushes each new snapshot as an SSE data frame. The
// subscription channel holds only the latest snapshot, so a slow client
// skips intermediate generations instead of lagging behind.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeErrorResponse(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	snapshots, cancel := s.agg.Subscribe()
	defer cancel()

	for {
		select {
		case snap, open := <-snapshots:
			if !open {
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				s.logger.Error("Failed to encode snapshot", "error", err)
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

type filterRequest struct {
	ThreatLevel        *string   `json:"threat_level"`
	DeviceTypes        *[]string `json:"device_types"`
	MatchAll           *bool     `json:"match_all"`
	HideFalsePositives *bool     `json:"hide_false_positives"`
	FPThreshold        *float64  `json:"fp_threshold"`
}

type filterResponse struct {
	ThreatLevel        string   `json:"threat_level"`
	DeviceTypes        []string `json:"device_types"`
	MatchAll           bool     `json:"match_all"`
	HideFalsePositives bool     `json:"hide_false_positives"`
	FPThreshold        float64  `json:"fp_threshold"`
}

func criteriaResponse(c filter.Criteria) filterResponse {
	types := make([]string, 0, len(c.DeviceTypes))
	for dt := range c.DeviceTypes {
		types = append(types, string(dt))
	}
	sort.Strings(types)

	return filterResponse{
		ThreatLevel:        string(c.ThreatLevel),
		DeviceTypes:        types,
		MatchAll:           c.MatchAll,
		HideFalsePositives: c.HideFalsePositives,
		FPThreshold:        c.FPThreshold,
	}
}

func (s *Server) handleGetFilter(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, criteriaResponse(s.filters.Current()))
}

// handleSetFilter applies a partial criteria update; absent fields keep
// their current values. An empty threat level deactivates that predicate.
func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	level := model.ThreatNone
	if req.ThreatLevel != nil && *req.ThreatLevel != "" {
		parsed, ok := model.ParseThreatLevel(*req.ThreatLevel)
		if !ok {
			s.writeErrorResponse(w, http.StatusBadRequest, "Unknown threat level")
			return
		}
		level = parsed
	}

	if req.ThreatLevel != nil {
		s.filters.SetThreatLevel(level)
	}
	if req.DeviceTypes != nil {
		types := make([]model.DeviceType, 0, len(*req.DeviceTypes))
		for _, dt := range *req.DeviceTypes {
			types = append(types, model.DeviceType(dt))
		}
		s.filters.SetDeviceTypes(types)
	}
	if req.MatchAll != nil {
		s.filters.SetMatchAll(*req.MatchAll)
	}
	if req.HideFalsePositives != nil {
		s.filters.SetHideFalsePositives(*req.HideFalsePositives)
	}
	if req.FPThreshold != nil {
		s.filters.SetFPThreshold(*req.FPThreshold)
	}

	s.writeJSONResponse(w, http.StatusOK, criteriaResponse(s.filters.Current()))
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	switch name {
	case command.CmdStartScanning:
		s.dispatcher.Start()
	case command.CmdStopScanning:
		s.dispatcher.Stop()
	case command.CmdRequestState:
		s.dispatcher.RequestState()
	case command.CmdClearSeenDevices:
		s.dispatcher.Clear(command.KindSeenDevices)
	case command.CmdClearCellularHistory:
		s.dispatcher.Clear(command.KindCellularHistory)
	case command.CmdClearSatelliteHistory:
		s.dispatcher.Clear(command.KindSatelliteHistory)
	case command.CmdClearErrors:
		s.dispatcher.Clear(command.KindErrors)
	case command.CmdClearLearnedSignatures:
		s.dispatcher.Clear(command.KindLearnedSignatures)
	case command.CmdResetDetectionCount:
		s.dispatcher.Clear(command.KindDetectionCount)
	default:
		s.writeErrorResponse(w, http.StatusNotFound, "Unknown command")
		return
	}

	s.writeJSONResponse(w, http.StatusAccepted, map[string]interface{}{
		"command":   name,
		"status":    "accepted",
		"timestamp": time.Now().UTC(),
	})
}

// writeJSONResponse writes a JSON response.
func (s *Server) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSONResponse(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now().UTC(),
	})
}
