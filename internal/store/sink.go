package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/flockwatch/aggregator/internal/model"
)

// RedisSink is the detector-side writer for the detection store. The
// detector simulator uses it to mirror its in-memory records into Redis so
// the aggregator's pull path has something authoritative to read against.
// It writes the same hash and counts document RedisSource reads.
type RedisSink struct {
	client *redis.Client
	prefix string
}

// NewRedisSink wraps an existing client. prefix defaults to
// DefaultKeyPrefix when empty.
func NewRedisSink(client *redis.Client, prefix string) *RedisSink {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisSink{client: client, prefix: prefix}
}

// Put writes a single detection record into the store hash, keyed by its ID.
func (s *RedisSink) Put(ctx context.Context, rec model.DetectionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal detection %s: %w", rec.ID, err)
	}
	if err := s.client.HSet(ctx, detectionsKey(s.prefix), rec.ID, raw).Err(); err != nil {
		return fmt.Errorf("failed to write detection %s: %w", rec.ID, err)
	}
	return nil
}

// PutCounts replaces the aggregate counts document.
func (s *RedisSink) PutCounts(ctx context.Context, counts model.AggregateCounts) error {
	raw, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("failed to marshal detection counts: %w", err)
	}
	if err := s.client.Set(ctx, countsKey(s.prefix), raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to write detection counts: %w", err)
	}
	return nil
}

// Clear deletes the store hash and the counts document.
func (s *RedisSink) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, detectionsKey(s.prefix), countsKey(s.prefix)).Err(); err != nil {
		return fmt.Errorf("failed to clear detection store: %w", err)
	}
	return nil
}
