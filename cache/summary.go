/*
summary.go - Redis cache for annual summaries

PURPOSE:
  Annual summaries are pure functions of the stored facts, so they can be
  cached until a fact changes. SummaryCache stores them as JSON under
  summary:{property}:{year} and subscribes to the engine's event bus to drop
  stale entries.

INVALIDATION:
  expense_booked, posting_recorded:        the event's property and years
  interval_committed, interval_deleted:    every cached summary (interval
                                           events carry no property)
*/
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/rental-engine/config"
	"github.com/warp/rental-engine/generic"
)

const keyPrefix = "summary:"

// SummaryCache caches AnnualSummary values in Redis.
type SummaryCache struct {
	Db  *redis.Client
	TTL time.Duration
}

// Connect dials Redis and checks the connection.
func Connect(ctx context.Context, cfg config.Redis) (*SummaryCache, error) {
	const op = "cache.Connect"
	db := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := db.Ping(ctx).Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &SummaryCache{Db: db, TTL: cfg.TTL}, nil
}

// Close releases the client.
func (c *SummaryCache) Close() error {
	return c.Db.Close()
}

// Key is the cache key of one property and year.
func Key(propertyID generic.SubjectID, year int) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, propertyID, year)
}

// Get returns the cached summary; found is false on a miss.
func (c *SummaryCache) Get(ctx context.Context, propertyID generic.SubjectID, year int) (generic.AnnualSummary, bool, error) {
	const op = "cache.Get"
	var s generic.AnnualSummary
	val, err := c.Db.Get(ctx, Key(propertyID, year)).Bytes()
	if errors.Is(err, redis.Nil) {
		return s, false, nil
	}
	if err != nil {
		return s, false, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(val, &s); err != nil {
		return s, false, fmt.Errorf("%s: %w", op, err)
	}
	return s, true, nil
}

// Set stores s with the cache TTL.
func (c *SummaryCache) Set(ctx context.Context, s generic.AnnualSummary) error {
	const op = "cache.Set"
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := c.Db.Set(ctx, Key(s.PropertyID, s.Year), data, c.TTL).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Invalidate drops the given years of a property.
func (c *SummaryCache) Invalidate(ctx context.Context, propertyID generic.SubjectID, years ...int) error {
	if len(years) == 0 {
		return nil
	}
	keys := make([]string, len(years))
	for i, y := range years {
		keys[i] = Key(propertyID, y)
	}
	return c.Db.Del(ctx, keys...).Err()
}

// InvalidateAll drops every cached summary.
func (c *SummaryCache) InvalidateAll(ctx context.Context) error {
	iter := c.Db.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache.InvalidateAll: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.Db.Del(ctx, keys...).Err()
}

// Notify implements generic.Observer.
func (c *SummaryCache) Notify(ctx context.Context, e generic.Event) error {
	switch e.Kind {
	case generic.EventExpenseBooked, generic.EventPostingRecorded:
		if e.PropertyID != "" && len(e.Years) > 0 {
			return c.Invalidate(ctx, e.PropertyID, e.Years...)
		}
	}
	return c.InvalidateAll(ctx)
}

var _ generic.Observer = (*SummaryCache)(nil)
