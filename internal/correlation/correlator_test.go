package correlation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/concert-seat-admission/internal/correlation"
)

func TestResolveBeforeAwaitReturnsImmediately(t *testing.T) {
	c := correlation.New[string](nil)
	h, err := c.Register("abc")
	require.NoError(t, err)

	assert.True(t, c.Resolve("abc", "granted", nil))
	assert.Zero(t, c.Pending())

	start := time.Now()
	v, err := c.Await(context.Background(), h, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "granted", v)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDuplicateDeliveryKeepsFirstValue(t *testing.T) {
	c := correlation.New[string](nil)
	h, err := c.Register("abc")
	require.NoError(t, err)

	assert.True(t, c.Resolve("abc", "first", nil))
	assert.False(t, c.Resolve("abc", "second", nil))

	v, err := c.Await(context.Background(), h, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestAwaitTimeoutDiscardsSlot(t *testing.T) {
	c := correlation.New[int](nil)
	h, err := c.Register("late")
	require.NoError(t, err)

	_, err = c.Await(context.Background(), h, 20*time.Millisecond)
	assert.ErrorIs(t, err, correlation.ErrTimeout)
	assert.Zero(t, c.Pending())

	assert.False(t, c.Resolve("late", 1, nil))
	assert.Zero(t, c.Pending())
}

func TestAwaitAfterGivingUpFailsFast(t *testing.T) {
	c := correlation.New[int](nil)

	timedOut, err := c.Register("timed-out")
	require.NoError(t, err)
	_, err = c.Await(context.Background(), timedOut, 10*time.Millisecond)
	require.ErrorIs(t, err, correlation.ErrTimeout)

	canceled, err := c.Register("canceled")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Await(ctx, canceled, time.Second)
	require.ErrorIs(t, err, context.Canceled)

	for _, h := range []*correlation.Handle[int]{timedOut, canceled} {
		done := make(chan error, 1)
		go func() {
			_, err := c.Await(context.Background(), h, 10*time.Millisecond)
			done <- err
		}()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, correlation.ErrAlreadyResolved, h.ID())
		case <-time.After(2 * time.Second):
			t.Fatalf("second Await on %q did not return", h.ID())
		}
	}
	assert.Zero(t, c.Pending())
}

func TestAwaitWakesOnResolve(t *testing.T) {
	c := correlation.New[int](nil)
	h, err := c.Register("x")
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Resolve("x", 7, nil)
	}()

	v, err := c.Await(context.Background(), h, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestResolvedCauseIsReturned(t *testing.T) {
	c := correlation.New[int](nil)
	h, err := c.Register("x")
	require.NoError(t, err)

	boom := errors.New("seat detail not found")
	c.Resolve("x", 0, boom)

	_, err = c.Await(context.Background(), h, time.Second)
	assert.ErrorIs(t, err, boom)
}

func TestAwaitIsSingleUse(t *testing.T) {
	c := correlation.New[int](nil)
	h, err := c.Register("x")
	require.NoError(t, err)
	c.Resolve("x", 1, nil)

	_, err = c.Await(context.Background(), h, time.Second)
	require.NoError(t, err)
	_, err = c.Await(context.Background(), h, time.Second)
	assert.ErrorIs(t, err, correlation.ErrAlreadyResolved)
}

func TestRegisterAndAwaitValidation(t *testing.T) {
	c := correlation.New[int](nil)

	_, err := c.Register("")
	assert.ErrorIs(t, err, correlation.ErrEmptyID)

	h, err := c.Register("x")
	require.NoError(t, err)
	_, err = c.Register("x")
	assert.ErrorIs(t, err, correlation.ErrDuplicateID)

	_, err = c.Await(context.Background(), nil, time.Second)
	assert.ErrorIs(t, err, correlation.ErrUnknown)

	other := correlation.New[int](nil)
	_, err = other.Await(context.Background(), h, time.Second)
	assert.ErrorIs(t, err, correlation.ErrUnknown)

	_, err = c.Await(context.Background(), h, 0)
	assert.ErrorIs(t, err, correlation.ErrNoTimeout)
	assert.Equal(t, 1, c.Pending())
}

func TestUnknownResolveIsNoop(t *testing.T) {
	c := correlation.New[int](nil)
	assert.False(t, c.Resolve("never-registered", 1, nil))
	assert.Zero(t, c.Pending())
}

func TestContextCancelDiscardsSlot(t *testing.T) {
	c := correlation.New[int](nil)
	h, err := c.Register("x")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Await(ctx, h, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.Pending())
}

func TestCancelWakesWaiter(t *testing.T) {
	c := correlation.New[int](nil)
	h, err := c.Register("x")
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Cancel("x")
	}()

	_, err = c.Await(context.Background(), h, 2*time.Second)
	assert.ErrorIs(t, err, correlation.ErrCanceled)
	assert.Zero(t, c.Pending())
}

func TestConcurrentResolversAndWaiters(t *testing.T) {
	c := correlation.New[int](nil)
	const n = 200

	handles := make([]*correlation.Handle[int], n)
	for i := range handles {
		h, err := c.Register(fmt.Sprintf("req-%d", i))
		require.NoError(t, err)
		handles[i] = h
	}

	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		for r := 0; r < 3; r++ {
			wg.Add(1)
			go func(i, r int) {
				defer wg.Done()
				if c.Resolve(fmt.Sprintf("req-%d", i), i, nil) {
					atomic.AddInt64(&wins, 1)
				}
			}(i, r)
		}
	}

	results := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Await(context.Background(), handles[i], 5*time.Second)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(n), wins)
	assert.Zero(t, c.Pending())
	for i, v := range results {
		assert.Equal(t, i, v)
	}
}
