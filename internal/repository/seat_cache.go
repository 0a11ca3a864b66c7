package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/concert-seat-admission/internal/model"
)

// SeatCache is a read-through cache of available seat listings keyed by
// concert schedule. Listings are invalidated whenever a seat detail of
// the concert changes status. A nil *SeatCache, or one built without a
// Redis client, is valid and caches nothing so that callers degrade
// gracefully when Redis is unavailable.
type SeatCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewSeatCache builds a SeatCache. An empty prefix defaults to "seats".
func NewSeatCache(rdb *redis.Client, ttl time.Duration, prefix string) *SeatCache {
	if prefix == "" {
		prefix = "seats"
	}
	return &SeatCache{rdb: rdb, ttl: ttl, prefix: prefix}
}

// Key returns the Redis key holding the listing of a concert.
func (c *SeatCache) Key(concertID uint64) string {
	return fmt.Sprintf("%s:%d", c.prefix, concertID)
}

func (c *SeatCache) enabled() bool { return c != nil && c.rdb != nil }

// Get returns the cached listing and true on a hit. Misses, decode
// failures and Redis errors all report false.
func (c *SeatCache) Get(ctx context.Context, concertID uint64) ([]model.Seat, bool) {
	if !c.enabled() {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, c.Key(concertID)).Bytes()
	if err != nil {
		return nil, false
	}
	var seats []model.Seat
	if err := json.Unmarshal(raw, &seats); err != nil {
		return nil, false
	}
	return seats, true
}

// Set stores a listing with the configured TTL.
func (c *SeatCache) Set(ctx context.Context, concertID uint64, seats []model.Seat) error {
	if !c.enabled() {
		return nil
	}
	raw, err := json.Marshal(seats)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.Key(concertID), raw, c.ttl).Err()
}

// Invalidate drops the cached listing of a concert. A missing key is not
// an error.
func (c *SeatCache) Invalidate(ctx context.Context, concertID uint64) error {
	if !c.enabled() {
		return nil
	}
	if err := c.rdb.Del(ctx, c.Key(concertID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}
