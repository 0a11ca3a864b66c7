package config

import "time"

// SeatCacheConfig controls the Redis cache of per-concert seat listings.
// The cache is skipped when Enabled is false or Redis is unreachable.
type SeatCacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

func LoadSeatCacheConfig() SeatCacheConfig {
	return SeatCacheConfig{
		Enabled: envBool("SEAT_CACHE_ENABLED", true),
		TTL:     envDur("SEAT_CACHE_TTL", 30*time.Second),
		Prefix:  envStr("SEAT_CACHE_PREFIX", "seats"),
	}
}
