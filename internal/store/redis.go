package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/flockwatch/aggregator/internal/model"
)

// DefaultKeyPrefix namespaces the detector's keys.
const DefaultKeyPrefix = "flockwatch"

func detectionsKey(prefix string) string { return prefix + ":detections" }
func countsKey(prefix string) string     { return prefix + ":detection_counts" }

// RedisSource reads the detection store the detector process maintains in
// Redis: a hash of id -> DetectionRecord JSON plus a counts document the
// detector updates alongside it.
type RedisSource struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisSource wraps an existing client. prefix defaults to
// DefaultKeyPrefix when empty.
func NewRedisSource(client *redis.Client, prefix string, logger *slog.Logger) *RedisSource {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisSource{client: client, prefix: prefix, logger: logger}
}

func (s *RedisSource) detectionsKey() string {
	return detectionsKey(s.prefix)
}

func (s *RedisSource) countsKey() string {
	return countsKey(s.prefix)
}

// ListDetections reads every record from the detection hash. Corrupt
// entries are skipped with a warning so one bad record cannot blind the
// reconciliation path.
func (s *RedisSource) ListDetections(ctx context.Context) ([]model.DetectionRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.detectionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("read detections hash: %w", err)
	}

	records := make([]model.DetectionRecord, 0, len(fields))
	for id, raw := range fields {
		var rec model.DetectionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn("Skipping corrupt detection record", "id", id, "error", err)
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].LastSeen != records[j].LastSeen {
			return records[i].LastSeen > records[j].LastSeen
		}
		return records[i].ID < records[j].ID
	})

	return records, nil
}

// Counts reads the detector-maintained counts document. When the document
// is missing the counts are derived from the list instead.
func (s *RedisSource) Counts(ctx context.Context) (model.AggregateCounts, error) {
	raw, err := s.client.Get(ctx, s.countsKey()).Result()
	if errors.Is(err, redis.Nil) {
		s.logger.Debug("Counts document missing, deriving from detection list")
		records, err := s.ListDetections(ctx)
		if err != nil {
			return model.AggregateCounts{}, err
		}
		return model.CountDetections(records), nil
	}
	if err != nil {
		return model.AggregateCounts{}, fmt.Errorf("read detection counts: %w", err)
	}

	var counts model.AggregateCounts
	if err := json.Unmarshal([]byte(raw), &counts); err != nil {
		return model.AggregateCounts{}, fmt.Errorf("unmarshal detection counts: %w", err)
	}
	return counts, nil
}
