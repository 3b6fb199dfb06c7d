/*
Package rediscache puts a Redis read-through cache in front of a
timeoff.SnapshotStore.

KEYS:
  leave:snapshot:{worker}:{type}:{year}, JSON value, fixed TTL. Ids are
  not escaped, so two triples can map to one Redis key. The JSON value
  carries the full key and an entry for another triple is read as a miss.

CONSISTENCY:
  The wrapped store is the source of truth. Writes and deletes go to it
  first and then to Redis. A Redis failure is logged and never fails the
  call; the worst outcome is a stale entry that lives until its TTL.
*/
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

const (
	KeyPrefix  = "leave:snapshot:"
	DefaultTTL = time.Hour

	scanCount = 100
)

// Connect creates a client for addr and pings it.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// SnapshotCache implements timeoff.SnapshotStore.
type SnapshotCache struct {
	inner  timeoff.SnapshotStore
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func New(inner timeoff.SnapshotStore, rdb redis.Cmdable, ttl time.Duration, logger ...*zap.Logger) *SnapshotCache {
	l := zap.L().Named("store.rediscache")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("store.rediscache")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SnapshotCache{inner: inner, rdb: rdb, ttl: ttl, logger: l}
}

// CacheKey returns the Redis key of a snapshot.
func CacheKey(key timeoff.Key) string {
	return fmt.Sprintf("%s%s:%s:%d", KeyPrefix, key.WorkerID, key.LeaveTypeID, key.Year)
}

func (c *SnapshotCache) GetSnapshot(ctx context.Context, key timeoff.Key) (*timeoff.Snapshot, error) {
	cacheKey := CacheKey(key)

	cached, err := c.rdb.Get(ctx, cacheKey).Result()
	switch {
	case err == nil:
		snap, decErr := decode(cached)
		switch {
		case decErr != nil:
			c.logger.Warn("dropping undecodable cache entry", zap.String("key", cacheKey), zap.Error(decErr))
		case snap.Key != key:
			// ids containing ':' can share a Redis key with another triple
			c.logger.Debug("cache entry belongs to another key",
				zap.String("key", cacheKey),
				zap.Stringer("want", key),
				zap.Stringer("got", snap.Key),
			)
		default:
			return snap, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("cache read failed", zap.String("key", cacheKey), zap.Error(err))
	}

	snap, err := c.inner.GetSnapshot(ctx, key)
	if err != nil || snap == nil {
		return snap, err
	}
	c.set(ctx, *snap)
	return snap, nil
}

func (c *SnapshotCache) UpsertSnapshot(ctx context.Context, snap timeoff.Snapshot) error {
	if err := c.inner.UpsertSnapshot(ctx, snap); err != nil {
		return err
	}
	c.set(ctx, snap)
	return nil
}

func (c *SnapshotCache) DeleteSnapshot(ctx context.Context, key timeoff.Key) error {
	if err := c.inner.DeleteSnapshot(ctx, key); err != nil {
		return err
	}
	c.del(ctx, CacheKey(key))
	return nil
}

func (c *SnapshotCache) DeleteSnapshotsAfter(ctx context.Context, workerID timeoff.WorkerID, typeID timeoff.LeaveTypeID, year int) error {
	if err := c.inner.DeleteSnapshotsAfter(ctx, workerID, typeID, year); err != nil {
		return err
	}

	prefix := fmt.Sprintf("%s%s:%s:", KeyPrefix, workerID, typeID)
	stale := c.scan(ctx, prefix, func(k string) bool {
		y, err := strconv.Atoi(strings.TrimPrefix(k, prefix))
		return err == nil && y > year
	})
	if len(stale) > 0 {
		c.del(ctx, stale...)
	}
	return nil
}

// Reset clears the wrapped store when it supports it, then drops every
// cached snapshot.
func (c *SnapshotCache) Reset(ctx context.Context) error {
	if r, ok := c.inner.(interface{ Reset(context.Context) error }); ok {
		if err := r.Reset(ctx); err != nil {
			return err
		}
	}
	keys := c.scan(ctx, KeyPrefix, func(string) bool { return true })
	if len(keys) > 0 {
		c.del(ctx, keys...)
	}
	return nil
}

// scan collects the keys under prefix accepted by keep. A scan failure is
// logged and returns what was collected so far.
func (c *SnapshotCache) scan(ctx context.Context, prefix string, keep func(string) bool) []string {
	var (
		cursor uint64
		found  []string
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", scanCount).Result()
		if err != nil {
			c.logger.Warn("cache scan failed", zap.String("prefix", prefix), zap.Error(err))
			return found
		}
		for _, k := range keys {
			if keep(k) {
				found = append(found, k)
			}
		}
		if next == 0 {
			return found
		}
		cursor = next
	}
}

func (c *SnapshotCache) set(ctx context.Context, snap timeoff.Snapshot) {
	payload, err := encode(snap)
	if err != nil {
		c.logger.Warn("cannot encode snapshot", zap.String("key", snap.Key.String()), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, CacheKey(snap.Key), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", snap.Key.String()), zap.Error(err))
	}
}

func (c *SnapshotCache) del(ctx context.Context, keys ...string) {
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Error("failed to invalidate snapshot cache",
			zap.Strings("keys", keys),
			zap.Error(err),
		)
	}
}

// =============================================================================
// ENCODING
// =============================================================================

type cachedSnapshot struct {
	WorkerID         string              `json:"worker_id"`
	LeaveTypeID      string              `json:"leave_type_id"`
	Year             int                 `json:"year"`
	Kind             string              `json:"kind"`
	Total            *decimal.Decimal    `json:"total"`
	Used             decimal.Decimal     `json:"used"`
	Available        *decimal.Decimal    `json:"available"`
	CollectedDates   []generic.TimePoint `json:"collected_dates"`
	CompensatedDates []generic.TimePoint `json:"compensated_dates"`
	AvailableDates   []generic.TimePoint `json:"available_dates"`
	ComputedAt       time.Time           `json:"computed_at"`
}

func encode(snap timeoff.Snapshot) (string, error) {
	b, err := json.Marshal(cachedSnapshot{
		WorkerID:         string(snap.Key.WorkerID),
		LeaveTypeID:      string(snap.Key.LeaveTypeID),
		Year:             snap.Key.Year,
		Kind:             string(snap.Kind),
		Total:            snap.Total,
		Used:             snap.Used,
		Available:        snap.Available,
		CollectedDates:   snap.CollectedDates,
		CompensatedDates: snap.CompensatedDates,
		AvailableDates:   snap.AvailableDates,
		ComputedAt:       snap.ComputedAt.UTC(),
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decode(payload string) (*timeoff.Snapshot, error) {
	var c cachedSnapshot
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, err
	}
	return &timeoff.Snapshot{
		Key: timeoff.Key{
			WorkerID:    timeoff.WorkerID(c.WorkerID),
			LeaveTypeID: timeoff.LeaveTypeID(c.LeaveTypeID),
			Year:        c.Year,
		},
		Kind:             timeoff.Kind(c.Kind),
		Total:            c.Total,
		Used:             c.Used,
		Available:        c.Available,
		CollectedDates:   c.CollectedDates,
		CompensatedDates: c.CompensatedDates,
		AvailableDates:   c.AvailableDates,
		Resolved:         true,
		ComputedAt:       c.ComputedAt,
	}, nil
}
