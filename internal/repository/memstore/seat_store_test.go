package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/concert-seat-admission/internal/model"
	"github.com/iliyamo/concert-seat-admission/internal/repository"
)

func seeded() *SeatStore {
	s := NewSeatStore()
	s.AddSeat(model.Seat{ID: 1, ConcertID: 9, MaxCapacity: 1}, model.SeatDetail{ID: 1001})
	return s
}

func TestWriteSeatDetailIfVersion(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	ok, err := s.WriteSeatDetailIfVersion(ctx, 1001, model.SeatPending, 7, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.WriteSeatDetailIfVersion(ctx, 1001, model.SeatReserved, 8, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	d, err := s.ReadSeatDetail(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, model.SeatPending, d.Status)
	assert.Equal(t, uint64(7), d.HeldBy)
	assert.Equal(t, int64(1), d.Version)

	_, err = s.WriteSeatDetailIfVersion(ctx, 4040, model.SeatPending, 7, 0)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestLockSeatDetailTimesOut(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.LockSeatDetail(ctx, 1001, time.Second, func(d *model.SeatDetail) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := s.LockSeatDetail(ctx, 1001, 20*time.Millisecond, func(d *model.SeatDetail) error { return nil })
	assert.ErrorIs(t, err, repository.ErrLockTimeout)
	close(release)

	err = s.LockSeatDetail(ctx, 1001, time.Second, func(d *model.SeatDetail) error {
		d.Status, d.HeldBy = model.SeatPending, 3
		return nil
	})
	require.NoError(t, err)
	d, err := s.ReadSeatDetail(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, model.SeatPending, d.Status)
	assert.Equal(t, uint64(3), d.HeldBy)
	assert.Equal(t, int64(1), d.Version)
}

func TestUpdateSeatReservedCountBounds(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	ok, err := s.UpdateSeatReservedCount(ctx, 1, 0, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.UpdateSeatReservedCount(ctx, 1, 1, 2)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.UpdateSeatReservedCount(ctx, 1, 0, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueueStoreDuplicateWaiting(t *testing.T) {
	q := NewQueueStore()
	ctx := context.Background()
	e := model.WaitingQueueEntry{UserID: 1, SeatDetailID: 1001, Status: model.WaitingWaiting}

	id, err := q.Insert(ctx, e)
	require.NoError(t, err)
	_, err = q.Insert(ctx, e)
	assert.ErrorIs(t, err, repository.ErrDuplicateWaiting)

	ok, err := q.UpdateStatus(ctx, id, model.WaitingWaiting, model.WaitingExpired)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = q.Insert(ctx, e)
	assert.NoError(t, err)
}
