// Package sim implements a stand-in detector process. It publishes
// plausible telemetry on every detector topic, honors the full command set,
// and maintains the same detection-store contract the real detector does,
// so the aggregator can be exercised end to end without hardware.
package sim

import (
	"container/ring"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/flockwatch/aggregator/internal/bus"
	"github.com/flockwatch/aggregator/internal/command"
	"github.com/flockwatch/aggregator/internal/model"
	"github.com/flockwatch/aggregator/internal/store"
)

const (
	// commandQueue matches the queue group the real detector joins, so at
	// most one detector-side process handles each command.
	commandQueue = "detector"

	defaultInterval = 2 * time.Second

	maxEventEntries = 64
	maxErrorEntries = 32
	maxAnomalies    = 50
	maxListEntries  = 25
)

// statusTopics lists every per-subsystem status topic in publish order.
var statusTopics = []string{
	bus.TopicSubsystemShortRange,
	bus.TopicSubsystemWifi,
	bus.TopicSubsystemLocation,
	bus.TopicSubsystemCellular,
	bus.TopicSubsystemSatellite,
	bus.TopicUltraStatus,
	bus.TopicGnssStatus,
}

var healthComponents = []string{
	"short_range", "wifi", "cellular", "satellite", "gnss", "ultrasonic", "bridge",
}

// Config holds the simulator knobs.
type Config struct {
	// Interval is the telemetry tick cadence. <= 0 uses defaultInterval.
	Interval time.Duration
	// Seed seeds the generator; 0 seeds from the clock.
	Seed int64
}

// Simulator plays the detector side of the bus contract.
type Simulator struct {
	conn     bus.Conn
	store    *store.MemoryStore
	sink     *store.RedisSink
	logger   *slog.Logger
	interval time.Duration

	cancel    context.CancelFunc
	done      chan struct{}
	sub       bus.Subscription
	closeOnce sync.Once

	mu         sync.Mutex
	rng        *rand.Rand
	ticks      int
	scanning   bool
	scanStatus model.ScanStatus
	statuses   map[string]model.SubsystemStatus
	stats      model.ScanStatistics

	shortRange []model.SeenDevice
	wifiSeen   []model.SeenDevice

	cellNetwork   model.CellNetworkStatus
	towers        map[string]model.CellTower
	cellEvents    *ring.Ring
	cellAnomalies []model.AnomalyEvent

	satConnection model.SatConnection
	satAnomalies  []model.AnomalyEvent
	satHistory    *ring.Ring

	wifiEnvironment model.EnvironmentStatus
	wifiAnomalies   []model.AnomalyEvent
	suspicious      []model.SuspiciousNetwork

	rfEnvironment model.EnvironmentStatus
	rfAnomalies   []model.AnomalyEvent
	drones        []model.DroneContact

	ultraAnomalies []model.AnomalyEvent
	beacons        []model.UltrasonicBeacon

	gnssSatellites []model.GnssSatellite
	gnssAnomalies  []model.AnomalyEvent
	gnssEvents     *ring.Ring
	gnssMeasure    model.GnssMeasurements

	errors *ring.Ring
}

// New builds a simulator. sink may be nil, which disables the Redis mirror
// of the detection store.
func New(conn bus.Conn, st *store.MemoryStore, sink *store.RedisSink, cfg Config, logger *slog.Logger) *Simulator {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	statuses := make(map[string]model.SubsystemStatus, len(statusTopics))
	for _, topic := range statusTopics {
		statuses[topic] = model.StatusIdle
	}

	return &Simulator{
		conn:       conn,
		store:      st,
		sink:       sink,
		logger:     logger,
		interval:   cfg.Interval,
		done:       make(chan struct{}),
		rng:        rand.New(rand.NewSource(seed)),
		scanStatus: model.ScanIdle,
		statuses:   statuses,
		cellNetwork: model.CellNetworkStatus{
			Registered:  true,
			Operator:    "Verizon",
			NetworkType: "lte",
			CellID:      servingCells[0],
			SignalDBm:   -95,
		},
		towers:          make(map[string]model.CellTower),
		cellEvents:      ring.New(maxEventEntries),
		satConnection:   model.SatConnection{State: "searching"},
		satHistory:      ring.New(maxEventEntries),
		wifiEnvironment: model.EnvironmentBaseline,
		rfEnvironment:   model.EnvironmentBaseline,
		gnssEvents:      ring.New(maxEventEntries),
		errors:          ring.New(maxErrorEntries),
	}
}

// Start subscribes for commands, announces the current state, and begins
// the telemetry loop.
func (s *Simulator) Start() error {
	sub, err := s.conn.QueueSubscribe(bus.CommandWildcard, commandQueue, s.handleCommand)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.CommandWildcard, err)
	}
	s.sub = sub

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)

	s.mu.Lock()
	s.publishAllLocked()
	s.mu.Unlock()

	s.logger.Info("Detector simulator started", "interval", s.interval)
	return nil
}

func (s *Simulator) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// Close stops the command subscription and the telemetry loop.
func (s *Simulator) Close() {
	s.closeOnce.Do(func() {
		if s.sub != nil {
			if err := s.sub.Unsubscribe(); err != nil {
				s.logger.Warn("Command unsubscribe failed", "error", err)
			}
		}
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
	})
}

func (s *Simulator) handleCommand(subject string, data []byte) {
	var env command.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Name == "" {
		env.Name = bus.CommandName(subject)
	}
	s.logger.Info("Command received", "command", env.Name, "id", env.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	switch env.Name {
	case command.CmdStartScanning:
		s.startScanningLocked(now)
	case command.CmdStopScanning:
		s.stopScanningLocked(now)
	case command.CmdRequestState:
		s.publishAllLocked()
	case command.CmdClearSeenDevices:
		s.shortRange = nil
		s.wifiSeen = nil
		s.publish(bus.TopicDevicesShortRange, []model.SeenDevice{})
		s.publish(bus.TopicDevicesWifi, []model.SeenDevice{})
	case command.CmdClearCellularHistory:
		s.towers = make(map[string]model.CellTower)
		ringClear(s.cellEvents)
		s.publish(bus.TopicCellTowers, []model.CellTower{})
		s.publish(bus.TopicCellEvents, []model.CellEvent{})
	case command.CmdClearSatelliteHistory:
		ringClear(s.satHistory)
		s.publish(bus.TopicSatHistory, []model.SatEvent{})
	case command.CmdClearErrors:
		ringClear(s.errors)
		s.publish(bus.TopicErrors, []model.ErrorEntry{})
	case command.CmdClearLearnedSignatures:
		s.stats.WipsAlerts = 0
		s.publish(bus.TopicStats, s.stats)
	case command.CmdResetDetectionCount:
		s.resetDetectionsLocked()
	default:
		s.logger.Warn("Unknown command", "command", env.Name)
	}
}

func (s *Simulator) startScanningLocked(now int64) {
	if s.scanning {
		s.publishScanStateLocked()
		return
	}
	s.scanning = true
	s.scanStatus = model.ScanStarting
	for _, topic := range statusTopics {
		s.statuses[topic] = model.StatusStarting
	}
	s.stats.StartedAt = now
	s.satConnection = model.SatConnection{State: "connected", Since: now}

	s.publishScanStateLocked()
	s.publish(bus.TopicSatConnection, s.satConnection)
}

func (s *Simulator) stopScanningLocked(now int64) {
	s.scanning = false
	s.scanStatus = model.ScanIdle
	for _, topic := range statusTopics {
		s.statuses[topic] = model.StatusIdle
	}
	s.satConnection = model.SatConnection{State: "searching", Since: now}

	s.publishScanStateLocked()
	s.publish(bus.TopicSatConnection, s.satConnection)
}

// resetDetectionsLocked drops the stored detections; the counts follow
// because they derive from the records. The refresh event tells consumers
// to re-pull.
func (s *Simulator) resetDetectionsLocked() {
	s.store.Clear()
	if s.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.sink.Clear(ctx); err != nil {
			s.logger.Warn("Detection mirror clear failed", "error", err)
		}
	}
	if err := s.conn.Publish(bus.TopicDetectionRefresh, nil); err != nil {
		s.logger.Warn("Publish failed", "subject", bus.TopicDetectionRefresh, "error", err)
	}
}

func (s *Simulator) publishScanStateLocked() {
	s.publish(bus.TopicScanning, s.scanning)
	s.publish(bus.TopicScanStatus, s.scanStatus)
	for _, topic := range statusTopics {
		s.publish(topic, s.statuses[topic])
	}
}

// publishAllLocked force-republishes every topic from current state.
func (s *Simulator) publishAllLocked() {
	s.publishScanStateLocked()

	if records, err := s.store.ListDetections(context.Background()); err == nil && len(records) > 0 {
		s.publish(bus.TopicLastDetection, records[0])
	}
	s.publish(bus.TopicDevicesShortRange, s.shortRange)
	s.publish(bus.TopicDevicesWifi, s.wifiSeen)

	s.publish(bus.TopicCellStatus, s.cellNetwork)
	s.publish(bus.TopicCellTowers, s.towerListLocked())
	s.publish(bus.TopicCellAnomalies, s.cellAnomalies)
	s.publish(bus.TopicCellEvents, ringCollect[model.CellEvent](s.cellEvents))

	s.publish(bus.TopicSatConnection, s.satConnection)
	s.publish(bus.TopicSatAnomalies, s.satAnomalies)
	s.publish(bus.TopicSatHistory, ringCollect[model.SatEvent](s.satHistory))

	s.publish(bus.TopicWifiEnvironment, s.wifiEnvironment)
	s.publish(bus.TopicWifiAnomalies, s.wifiAnomalies)
	s.publish(bus.TopicWifiSuspicious, s.suspicious)

	s.publish(bus.TopicRFEnvironment, s.rfEnvironment)
	s.publish(bus.TopicRFAnomalies, s.rfAnomalies)
	s.publish(bus.TopicRFDrones, s.drones)

	s.publish(bus.TopicUltraAnomalies, s.ultraAnomalies)
	s.publish(bus.TopicUltraBeacons, s.beacons)

	s.publish(bus.TopicGnssSatellites, s.gnssSatellites)
	s.publish(bus.TopicGnssAnomalies, s.gnssAnomalies)
	s.publish(bus.TopicGnssEvents, ringCollect[model.GnssEvent](s.gnssEvents))
	s.publish(bus.TopicGnssMeasurements, s.gnssMeasure)

	s.publish(bus.TopicHealth, s.healthLocked())
	s.publish(bus.TopicStats, s.stats)
	s.publish(bus.TopicErrors, ringCollect[model.ErrorEntry](s.errors))
}

func (s *Simulator) towerListLocked() []model.CellTower {
	out := make([]model.CellTower, 0, len(s.towers))
	for _, tower := range s.towers {
		out = append(out, tower)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CellID < out[j].CellID })
	return out
}

func (s *Simulator) healthLocked() map[string]model.HealthRecord {
	now := time.Now().UnixMilli()
	health := make(map[string]model.HealthRecord, len(healthComponents))
	for _, name := range healthComponents {
		health[name] = model.HealthRecord{Healthy: true, LastBeat: now}
	}
	return health
}

func (s *Simulator) publish(subject string, v any) {
	if err := bus.PublishJSON(s.conn, subject, v); err != nil {
		s.logger.Warn("Publish failed", "subject", subject, "error", err)
	}
}

// ringAppend writes v at the ring's current position and advances it,
// overwriting the oldest entry once the ring is full.
func ringAppend(r *ring.Ring, v any) *ring.Ring {
	r.Value = v
	return r.Next()
}

// ringClear nils every slot.
func ringClear(r *ring.Ring) {
	for i := 0; i < r.Len(); i++ {
		r.Value = nil
		r = r.Next()
	}
}

// ringCollect returns the populated entries oldest first.
func ringCollect[T any](r *ring.Ring) []T {
	out := make([]T, 0, r.Len())
	r.Do(func(v any) {
		if v == nil {
			return
		}
		if entry, ok := v.(T); ok {
			out = append(out, entry)
		}
	})
	return out
}

func appendCapped[T any](list []T, v T, max int) []T {
	list = append(list, v)
	if len(list) > max {
		list = list[len(list)-max:]
	}
	return list
}
