package waitqueue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/concert-seat-admission/internal/model"
	"github.com/iliyamo/concert-seat-admission/internal/repository/memstore"
	"github.com/iliyamo/concert-seat-admission/internal/waitqueue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newController(clock *fakeClock) *waitqueue.Controller {
	return waitqueue.New(memstore.NewQueueStore(), 300*time.Second, waitqueue.WithClock(clock.Now))
}

func TestEnqueuePositionsAndWait(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newController(clock)
	ctx := context.Background()

	var ids []uint64
	for user := uint64(1); user <= 3; user++ {
		e, err := c.Enqueue(ctx, user, 1001)
		require.NoError(t, err)
		ids = append(ids, e.ID)
		clock.Advance(time.Millisecond)
	}
	for i, id := range ids {
		pos, err := c.PositionOf(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, i+1, pos)
	}

	other, err := c.Enqueue(ctx, 1, 2002)
	require.NoError(t, err)
	pos, err := c.PositionOf(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
}

func TestEnqueueTiesBreakByID(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newController(clock)
	ctx := context.Background()

	a, err := c.Enqueue(ctx, 1, 1001)
	require.NoError(t, err)
	b, err := c.Enqueue(ctx, 2, 1001)
	require.NoError(t, err)

	pa, err := c.PositionOf(ctx, a.ID)
	require.NoError(t, err)
	pb, err := c.PositionOf(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pa)
	assert.Equal(t, 2, pb)
}

func TestEstimatedWaitSeconds(t *testing.T) {
	c := waitqueue.New(memstore.NewQueueStore(), 300*time.Second)
	assert.Equal(t, int64(0), c.EstimatedWaitSeconds(0))
	assert.Equal(t, int64(0), c.EstimatedWaitSeconds(-1))
	assert.Equal(t, int64(300), c.EstimatedWaitSeconds(1))
	assert.Equal(t, int64(3000), c.EstimatedWaitSeconds(10))

	prev := int64(0)
	for p := 0; p < 50; p++ {
		w := c.EstimatedWaitSeconds(p)
		assert.GreaterOrEqual(t, w, prev)
		prev = w
	}

	d := waitqueue.New(memstore.NewQueueStore(), 0)
	assert.Equal(t, int64(waitqueue.DefaultPerSlot/time.Second), d.EstimatedWaitSeconds(1))
}

func TestDuplicateEnqueue(t *testing.T) {
	c := waitqueue.New(memstore.NewQueueStore(), 0)
	ctx := context.Background()

	_, err := c.Enqueue(ctx, 1, 1001)
	require.NoError(t, err)
	_, err = c.Enqueue(ctx, 1, 1001)
	assert.ErrorIs(t, err, waitqueue.ErrAlreadyQueued)

	queued, err := c.IsQueued(ctx, 1, 1001)
	require.NoError(t, err)
	assert.True(t, queued)
	queued, err = c.IsQueued(ctx, 2, 1001)
	require.NoError(t, err)
	assert.False(t, queued)
}

func TestPromoteAndComplete(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newController(clock)
	ctx := context.Background()

	first, err := c.Enqueue(ctx, 1, 1001)
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := c.Enqueue(ctx, 2, 1001)
	require.NoError(t, err)

	head, ok, err := c.PromoteNext(ctx, 1001)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, head.ID)
	assert.Equal(t, model.WaitingProcessing, head.Status)

	_, err = c.PositionOf(ctx, first.ID)
	assert.ErrorIs(t, err, waitqueue.ErrNotWaiting)
	pos, err := c.PositionOf(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	done, err := c.Complete(ctx, 1, 1001)
	require.NoError(t, err)
	assert.True(t, done)
	done, err = c.Complete(ctx, 1, 1001)
	require.NoError(t, err)
	assert.False(t, done)

	e, err := c.Entry(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WaitingDone, e.Status)

	// A user whose entry finished may queue again.
	_, err = c.Enqueue(ctx, 1, 1001)
	assert.NoError(t, err)

	_, ok, err = c.PromoteNext(ctx, 3003)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentPromoteNeverDoublePromotes(t *testing.T) {
	c := waitqueue.New(memstore.NewQueueStore(), 0)
	ctx := context.Background()
	for user := uint64(1); user <= 20; user++ {
		_, err := c.Enqueue(ctx, user, 1001)
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := map[uint64]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, ok, err := c.PromoteNext(ctx, 1001)
			assert.NoError(t, err)
			if !ok {
				return
			}
			mu.Lock()
			assert.False(t, seen[e.ID], "entry %d promoted twice", e.ID)
			seen[e.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 20)
}

func TestExpireStale(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newController(clock)
	ctx := context.Background()

	old, err := c.Enqueue(ctx, 1, 1001)
	require.NoError(t, err)
	clock.Advance(time.Hour)
	fresh, err := c.Enqueue(ctx, 2, 1001)
	require.NoError(t, err)

	n, err := c.ExpireStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	e, err := c.Entry(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WaitingExpired, e.Status)

	pos, err := c.PositionOf(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
}

func TestRunExpiryStopsWithContext(t *testing.T) {
	c := waitqueue.New(memstore.NewQueueStore(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunExpiry(ctx, 5*time.Millisecond, time.Minute)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expiry worker did not stop")
	}
}
