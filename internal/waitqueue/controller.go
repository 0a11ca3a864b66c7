// Package waitqueue implements the waiting queue admission controller.
// It records users who could not be granted a seat detail immediately,
// ranks them per seat detail by enqueue time, estimates their wait, and
// moves entries through WAITING -> PROCESSING -> DONE (or EXPIRED).
// It never touches seat detail state.
package waitqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/concert-seat-admission/internal/model"
	"github.com/iliyamo/concert-seat-admission/internal/obs"
	"github.com/iliyamo/concert-seat-admission/internal/repository"
)

// ErrAlreadyQueued is returned when the user already holds a WAITING
// entry for the seat detail.
var ErrAlreadyQueued = errors.New("user is already waiting for this seat detail")

// ErrNotWaiting is returned by PositionOf for entries that have left
// the WAITING state.
var ErrNotWaiting = errors.New("queue entry is no longer waiting")

// DefaultPerSlot is the service time attributed to each queue slot.
const DefaultPerSlot = 300 * time.Second

// Store is the persisted waiting queue.
type Store interface {
	Insert(ctx context.Context, e model.WaitingQueueEntry) (uint64, error)
	Get(ctx context.Context, id uint64) (model.WaitingQueueEntry, error)
	FindByUser(ctx context.Context, userID, seatDetailID uint64, status model.WaitingStatus) (model.WaitingQueueEntry, error)
	CountAheadOf(ctx context.Context, seatDetailID uint64, enqueuedAt time.Time, waitingID uint64) (int, error)
	OldestWaiting(ctx context.Context, seatDetailID uint64) (model.WaitingQueueEntry, error)
	UpdateStatus(ctx context.Context, id uint64, from, to model.WaitingStatus) (bool, error)
	ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Controller computes queue positions and wait estimates on top of a Store.
type Controller struct {
	store   Store
	perSlot time.Duration
	now     func() time.Time
	logger  *logrus.Logger
	metrics *obs.Metrics
}

// Option customises a Controller.
type Option func(*Controller)

// WithClock overrides the clock used to stamp enqueue times.
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option { return func(c *Controller) { c.logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *obs.Metrics) Option { return func(c *Controller) { c.metrics = m } }

// New returns a Controller. A non-positive perSlot falls back to
// DefaultPerSlot.
func New(store Store, perSlot time.Duration, opts ...Option) *Controller {
	if perSlot <= 0 {
		perSlot = DefaultPerSlot
	}
	c := &Controller{store: store, perSlot: perSlot, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = obs.OrDiscard(c.logger)
	return c
}

// Enqueue appends a WAITING entry for the user. Enqueue times are kept
// at microsecond precision to match the database column.
func (c *Controller) Enqueue(ctx context.Context, userID, seatDetailID uint64) (model.WaitingQueueEntry, error) {
	e := model.WaitingQueueEntry{
		UserID:       userID,
		SeatDetailID: seatDetailID,
		Status:       model.WaitingWaiting,
		EnqueuedAt:   c.now().UTC().Truncate(time.Microsecond),
	}
	id, err := c.store.Insert(ctx, e)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateWaiting) {
			return model.WaitingQueueEntry{}, fmt.Errorf("%w: user %d seat detail %d", ErrAlreadyQueued, userID, seatDetailID)
		}
		return model.WaitingQueueEntry{}, fmt.Errorf("enqueue: %w", err)
	}
	e.ID = id
	c.metrics.Queue("enqueued", 1)
	c.logger.WithFields(logrus.Fields{
		"waiting_id":     e.ID,
		"user_id":        userID,
		"seat_detail_id": seatDetailID,
	}).Debug("waiting queue entry created")
	return e, nil
}

// PositionOf returns the 1-based rank of a WAITING entry within its seat
// detail's queue.
func (c *Controller) PositionOf(ctx context.Context, waitingID uint64) (int, error) {
	e, err := c.store.Get(ctx, waitingID)
	if err != nil {
		return 0, err
	}
	if e.Status != model.WaitingWaiting {
		return 0, fmt.Errorf("%w: entry %d is %s", ErrNotWaiting, waitingID, e.Status)
	}
	ahead, err := c.store.CountAheadOf(ctx, e.SeatDetailID, e.EnqueuedAt, e.ID)
	if err != nil {
		return 0, fmt.Errorf("count ahead: %w", err)
	}
	return ahead + 1, nil
}

// EstimatedWaitSeconds is the per-slot service time multiplied by the
// position. Position 0 (granted) waits nothing.
func (c *Controller) EstimatedWaitSeconds(position int) int64 {
	if position <= 0 {
		return 0
	}
	return int64(position) * int64(c.perSlot/time.Second)
}

// Entry returns a queue entry by ID.
func (c *Controller) Entry(ctx context.Context, waitingID uint64) (model.WaitingQueueEntry, error) {
	return c.store.Get(ctx, waitingID)
}

// IsQueued reports whether the user holds a WAITING entry for the seat detail.
func (c *Controller) IsQueued(ctx context.Context, userID, seatDetailID uint64) (bool, error) {
	_, err := c.store.FindByUser(ctx, userID, seatDetailID, model.WaitingWaiting)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// PromoteNext moves the head of a seat detail's queue to PROCESSING and
// returns it. ok is false when nobody is waiting. Concurrent promoters
// never promote the same entry twice.
func (c *Controller) PromoteNext(ctx context.Context, seatDetailID uint64) (entry model.WaitingQueueEntry, ok bool, err error) {
	for {
		head, err := c.store.OldestWaiting(ctx, seatDetailID)
		if errors.Is(err, repository.ErrNotFound) {
			return model.WaitingQueueEntry{}, false, nil
		}
		if err != nil {
			return model.WaitingQueueEntry{}, false, err
		}
		moved, err := c.store.UpdateStatus(ctx, head.ID, model.WaitingWaiting, model.WaitingProcessing)
		if err != nil {
			return model.WaitingQueueEntry{}, false, err
		}
		if moved {
			head.Status = model.WaitingProcessing
			c.metrics.Queue("promoted", 1)
			c.logger.WithFields(logrus.Fields{
				"waiting_id":     head.ID,
				"user_id":        head.UserID,
				"seat_detail_id": seatDetailID,
			}).Info("waiting queue entry promoted")
			return head, true, nil
		}
		// Someone else moved the head; look again.
	}
}

// Complete marks the user's promoted entry for the seat detail DONE. It
// reports false when the user had no PROCESSING entry.
func (c *Controller) Complete(ctx context.Context, userID, seatDetailID uint64) (bool, error) {
	e, err := c.store.FindByUser(ctx, userID, seatDetailID, model.WaitingProcessing)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	done, err := c.store.UpdateStatus(ctx, e.ID, model.WaitingProcessing, model.WaitingDone)
	if err != nil {
		return false, err
	}
	if done {
		c.metrics.Queue("completed", 1)
	}
	return done, nil
}

// ExpireStale moves WAITING entries older than maxAge to EXPIRED.
func (c *Controller) ExpireStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := c.now().UTC().Add(-maxAge)
	n, err := c.store.ExpireBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	c.metrics.Queue("expired", int(n))
	return n, nil
}

// RunExpiry expires stale entries every interval until ctx is done.
func (c *Controller) RunExpiry(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.WithFields(logrus.Fields{"interval": interval.String(), "max_age": maxAge.String()}).
		Info("waiting queue expiry worker started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("waiting queue expiry worker stopped")
			return
		case <-ticker.C:
			n, err := c.ExpireStale(ctx, maxAge)
			if err != nil {
				c.logger.WithError(err).Error("expire stale waiting entries")
				continue
			}
			if n > 0 {
				c.logger.WithField("expired", n).Info("expired stale waiting entries")
			}
		}
	}
}
