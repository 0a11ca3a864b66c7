package app

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/concert-seat-admission/internal/admission"
	"github.com/iliyamo/concert-seat-admission/internal/config"
	"github.com/iliyamo/concert-seat-admission/internal/obs"
)

func TestBuildMemoryEngine(t *testing.T) {
	t.Setenv("SEAT_CACHE_ENABLED", "false")
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	cfg := config.Config{
		StoreDriver: config.StoreMemory,
		TokenSecret: "secret",
		TokenTTL:    time.Minute,
		SeedSeats:   2,
		SeedDetails: 3,
	}
	adm := config.AdmissionConfig{
		LockMode:     admission.LockAdaptive,
		MaxAttempts:  10,
		InitialDelay: time.Millisecond,
		Multiplier:   1.2,
		PerSlotWait:  time.Minute,
	}

	eng, err := Build(context.Background(), cfg, adm, obs.Discard(), nil)
	require.NoError(t, err)
	defer eng.Close()
	assert.Nil(t, eng.DB)
	assert.Nil(t, eng.Redis)

	ctx := context.Background()
	seats, err := eng.Service.GetAvailableSeats(ctx, 1)
	require.NoError(t, err)
	require.Len(t, seats, 2)
	assert.Len(t, seats[0].Details, 3)
	assert.Equal(t, 3, seats[0].MaxCapacity)

	tok, err := eng.Service.Attempt(ctx, 5, 2001)
	require.NoError(t, err)
	assert.True(t, tok.Granted())

	parsed, err := eng.Issuer.Parse(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, uint64(2001), parsed.SeatDetailID)

	tok, err = eng.Service.Attempt(ctx, 6, 2001)
	require.NoError(t, err)
	assert.Equal(t, 1, tok.QueuePosition)
	assert.Equal(t, int64(60), tok.RemainingWaitSeconds)
}

func stubRedis(t *testing.T) *int {
	t.Helper()
	calls := 0
	prev := newRedisClient
	newRedisClient = func(cfg config.RedisConfig) *redis.Client {
		calls++
		return redis.NewClient(&redis.Options{Addr: cfg.Addr})
	}
	t.Cleanup(func() { newRedisClient = prev })
	return &calls
}

func memoryConfig() config.Config {
	return config.Config{StoreDriver: config.StoreMemory, TokenSecret: "secret", TokenTTL: time.Minute}
}

func TestBuildConnectsRedisForRateLimiterAlone(t *testing.T) {
	calls := stubRedis(t)
	t.Setenv("SEAT_CACHE_ENABLED", "false")
	t.Setenv("RATE_LIMIT_ENABLED", "true")

	eng, err := Build(context.Background(), memoryConfig(), config.AdmissionConfig{}, obs.Discard(), nil)
	require.NoError(t, err)
	defer eng.Close()

	assert.Equal(t, 1, *calls)
	assert.NotNil(t, eng.Redis)
}

func TestBuildSkipsRedisWhenUnused(t *testing.T) {
	calls := stubRedis(t)
	t.Setenv("SEAT_CACHE_ENABLED", "false")
	t.Setenv("RATE_LIMIT_ENABLED", "false")

	eng, err := Build(context.Background(), memoryConfig(), config.AdmissionConfig{}, obs.Discard(), nil)
	require.NoError(t, err)
	defer eng.Close()

	assert.Zero(t, *calls)
	assert.Nil(t, eng.Redis)
}
