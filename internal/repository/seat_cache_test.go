package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/concert-seat-admission/internal/model"
)

func TestSeatCacheGetSetInvalidate(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cache := NewSeatCache(rdb, time.Minute, "")
	ctx := context.Background()

	seats := []model.Seat{{ID: 1, ConcertID: 42, MaxCapacity: 2, Details: []model.SeatDetail{{ID: 1001, SeatID: 1, Status: model.SeatAvailable}}}}
	raw, err := json.Marshal(seats)
	require.NoError(t, err)

	mock.ExpectGet("seats:42").RedisNil()
	mock.ExpectSet("seats:42", raw, time.Minute).SetVal("OK")
	mock.ExpectGet("seats:42").SetVal(string(raw))
	mock.ExpectDel("seats:42").SetVal(1)

	_, ok := cache.Get(ctx, 42)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, 42, seats))

	got, ok := cache.Get(ctx, 42)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1001), got[0].Details[0].ID)

	require.NoError(t, cache.Invalidate(ctx, 42))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeatCacheNilIsDisabled(t *testing.T) {
	var cache *SeatCache
	_, ok := cache.Get(context.Background(), 1)
	assert.False(t, ok)
	assert.NoError(t, cache.Set(context.Background(), 1, nil))
	assert.NoError(t, cache.Invalidate(context.Background(), 1))
}
