// Package correlation parks callers until a response produced elsewhere
// (typically by a broker consumer) arrives under the same correlation
// ID. Each registered ID owns a single-assignment result cell: the first
// Resolve wins, later ones are ignored, and the cell leaves the registry
// as soon as it is resolved or its waiter gives up, whichever happens
// first.
package correlation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/iliyamo/concert-seat-admission/internal/obs"
)

var (
	// ErrTimeout is returned by Await when no response arrived in time.
	ErrTimeout = errors.New("correlation: timed out waiting for response")
	// ErrUnknown is returned by Await for a nil handle or one that belongs
	// to another correlator.
	ErrUnknown = errors.New("correlation: unknown handle")
	// ErrAlreadyResolved is returned by Await when the handle's result has
	// already been handed to an earlier Await.
	ErrAlreadyResolved = errors.New("correlation: result already consumed")
	// ErrDuplicateID is returned by Register for an ID that is still pending.
	ErrDuplicateID = errors.New("correlation: id already registered")
	// ErrEmptyID is returned by Register for an empty ID.
	ErrEmptyID = errors.New("correlation: empty id")
	// ErrNoTimeout is returned by Await when called without a positive timeout.
	ErrNoTimeout = errors.New("correlation: timeout must be positive")
	// ErrCanceled is delivered to a waiter whose ID was cancelled.
	ErrCanceled = errors.New("correlation: request canceled")
)

type slot[T any] struct {
	done     chan struct{}
	once     sync.Once
	value    T
	cause    error
	consumed bool // guarded by Correlator.mu
}

func (s *slot[T]) fill(value T, cause error) bool {
	filled := false
	s.once.Do(func() {
		s.value = value
		s.cause = cause
		close(s.done)
		filled = true
	})
	return filled
}

// Handle is returned by Register and passed to Await.
type Handle[T any] struct {
	id    string
	owner *Correlator[T]
	slot  *slot[T]
}

// ID returns the correlation ID of the handle.
func (h *Handle[T]) ID() string { return h.id }

// Correlator maps correlation IDs to pending result cells.
type Correlator[T any] struct {
	mu      sync.Mutex
	pending map[string]*slot[T]
	metrics *obs.Metrics
}

// New returns an empty Correlator. metrics may be nil.
func New[T any](metrics *obs.Metrics) *Correlator[T] {
	return &Correlator[T]{pending: make(map[string]*slot[T]), metrics: metrics}
}

// Register creates the pending cell for id. It must be called before the
// request is dispatched so that a fast response cannot overtake it.
func (c *Correlator[T]) Register(id string) (*Handle[T], error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[id]; exists {
		return nil, ErrDuplicateID
	}
	s := &slot[T]{done: make(chan struct{})}
	c.pending[id] = s
	c.metrics.SetPending(len(c.pending))
	return &Handle[T]{id: id, owner: c, slot: s}, nil
}

// Resolve completes the cell for id with either a value or a failure
// cause. It reports whether this call took effect: duplicates, late
// responses for abandoned IDs and unknown IDs are silently ignored.
func (c *Correlator[T]) Resolve(id string, value T, cause error) bool {
	c.mu.Lock()
	s, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		c.metrics.SetPending(len(c.pending))
	}
	c.mu.Unlock()
	if !ok {
		c.metrics.Correlation("duplicate")
		return false
	}
	if !s.fill(value, cause) {
		c.metrics.Correlation("duplicate")
		return false
	}
	c.metrics.Correlation("resolved")
	return true
}

// Cancel discards the pending cell for id, for example when dispatching
// the request failed. A waiter already parked on it wakes with
// ErrCanceled.
func (c *Correlator[T]) Cancel(id string) {
	c.mu.Lock()
	s, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		c.metrics.SetPending(len(c.pending))
	}
	c.mu.Unlock()
	if ok {
		var zero T
		s.fill(zero, ErrCanceled)
		c.metrics.Correlation("canceled")
	}
}

// Pending returns the number of unresolved cells.
func (c *Correlator[T]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Await blocks until the handle is resolved, timeout elapses or ctx is
// done. A resolved failure cause is returned as the error. On timeout or
// cancellation the cell is discarded, so a late Resolve is a no-op, and
// the handle is spent: awaiting it again fails with ErrAlreadyResolved.
func (c *Correlator[T]) Await(ctx context.Context, h *Handle[T], timeout time.Duration) (T, error) {
	var zero T
	if h == nil || h.owner != c || h.slot == nil {
		return zero, ErrUnknown
	}
	if timeout <= 0 {
		return zero, ErrNoTimeout
	}

	c.mu.Lock()
	if h.slot.consumed {
		c.mu.Unlock()
		return zero, ErrAlreadyResolved
	}
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.slot.done:
		return c.take(h)
	case <-timer.C:
		switch c.abandon(h) {
		case abandoned:
			c.metrics.Correlation("timeout")
			return zero, ErrTimeout
		case spent:
			return zero, ErrAlreadyResolved
		}
		// A resolver removed the cell first and is filling it.
		return c.take(h)
	case <-ctx.Done():
		switch c.abandon(h) {
		case abandoned:
			c.metrics.Correlation("canceled")
			return zero, ctx.Err()
		case spent:
			return zero, ErrAlreadyResolved
		}
		return c.take(h)
	}
}

type abandonResult int

const (
	abandoned abandonResult = iota // cell removed by this waiter
	spent                          // handle already consumed or given up
	resolving                      // a resolver removed the cell first
)

// abandon removes the handle's cell if it is still registered and marks
// the handle consumed. A resolving result means the cell's done channel
// is closed or about to be.
func (c *Correlator[T]) abandon(h *Handle[T]) abandonResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.slot.consumed {
		return spent
	}
	if cur, ok := c.pending[h.id]; ok && cur == h.slot {
		delete(c.pending, h.id)
		h.slot.consumed = true
		c.metrics.SetPending(len(c.pending))
		return abandoned
	}
	return resolving
}

func (c *Correlator[T]) take(h *Handle[T]) (T, error) {
	var zero T
	<-h.slot.done
	c.mu.Lock()
	if h.slot.consumed {
		c.mu.Unlock()
		return zero, ErrAlreadyResolved
	}
	h.slot.consumed = true
	c.mu.Unlock()
	if h.slot.cause != nil {
		return zero, h.slot.cause
	}
	return h.slot.value, nil
}
