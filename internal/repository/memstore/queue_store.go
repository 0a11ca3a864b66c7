package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/concert-seat-admission/internal/model"
	"github.com/iliyamo/concert-seat-admission/internal/repository"
)

type waitingKey struct {
	userID       uint64
	seatDetailID uint64
}

// QueueStore keeps waiting queue entries in memory, indexed per seat
// detail.
type QueueStore struct {
	mu       sync.Mutex
	nextID   uint64
	entries  map[uint64]model.WaitingQueueEntry
	byDetail map[uint64][]uint64
	waiting  map[waitingKey]uint64
}

// NewQueueStore returns an empty QueueStore.
func NewQueueStore() *QueueStore {
	return &QueueStore{
		entries:  make(map[uint64]model.WaitingQueueEntry),
		byDetail: make(map[uint64][]uint64),
		waiting:  make(map[waitingKey]uint64),
	}
}

// Insert appends an entry. A second WAITING entry for the same user and
// seat detail fails with repository.ErrDuplicateWaiting.
func (q *QueueStore) Insert(ctx context.Context, e model.WaitingQueueEntry) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := waitingKey{e.UserID, e.SeatDetailID}
	if e.Status == model.WaitingWaiting {
		if _, dup := q.waiting[key]; dup {
			return 0, repository.ErrDuplicateWaiting
		}
	}
	q.nextID++
	e.ID = q.nextID
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now().UTC()
	}
	q.entries[e.ID] = e
	q.byDetail[e.SeatDetailID] = append(q.byDetail[e.SeatDetailID], e.ID)
	if e.Status == model.WaitingWaiting {
		q.waiting[key] = e.ID
	}
	return e.ID, nil
}

// Get returns an entry by ID.
func (q *QueueStore) Get(ctx context.Context, id uint64) (model.WaitingQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return model.WaitingQueueEntry{}, repository.ErrNotFound
	}
	return e, nil
}

// FindByUser returns the most recent entry of the user for the seat
// detail in the given status.
func (q *QueueStore) FindByUser(ctx context.Context, userID, seatDetailID uint64, status model.WaitingStatus) (model.WaitingQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := q.byDetail[seatDetailID]
	for i := len(ids) - 1; i >= 0; i-- {
		e := q.entries[ids[i]]
		if e.UserID == userID && e.Status == status {
			return e, nil
		}
	}
	return model.WaitingQueueEntry{}, repository.ErrNotFound
}

// CountAheadOf counts WAITING entries of the seat detail ordered before
// (enqueuedAt, waitingID).
func (q *QueueStore) CountAheadOf(ctx context.Context, seatDetailID uint64, enqueuedAt time.Time, waitingID uint64) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ref := model.WaitingQueueEntry{ID: waitingID, EnqueuedAt: enqueuedAt}
	n := 0
	for _, id := range q.byDetail[seatDetailID] {
		e := q.entries[id]
		if e.Status == model.WaitingWaiting && e.Before(ref) {
			n++
		}
	}
	return n, nil
}

// OldestWaiting returns the head of the seat detail's queue.
func (q *QueueStore) OldestWaiting(ctx context.Context, seatDetailID uint64) (model.WaitingQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var head model.WaitingQueueEntry
	found := false
	for _, id := range q.byDetail[seatDetailID] {
		e := q.entries[id]
		if e.Status != model.WaitingWaiting {
			continue
		}
		if !found || e.Before(head) {
			head, found = e, true
		}
	}
	if !found {
		return model.WaitingQueueEntry{}, repository.ErrNotFound
	}
	return head, nil
}

// UpdateStatus moves an entry from one status to another and reports
// false if it was not in from.
func (q *QueueStore) UpdateStatus(ctx context.Context, id uint64, from, to model.WaitingStatus) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if e.Status != from {
		return false, nil
	}
	q.setStatus(e, to)
	return true, nil
}

// ExpireBefore moves WAITING entries enqueued before cutoff to EXPIRED.
func (q *QueueStore) ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for _, e := range q.entries {
		if e.Status == model.WaitingWaiting && e.EnqueuedAt.Before(cutoff) {
			q.setStatus(e, model.WaitingExpired)
			n++
		}
	}
	return n, nil
}

// setStatus must be called with q.mu held.
func (q *QueueStore) setStatus(e model.WaitingQueueEntry, to model.WaitingStatus) {
	key := waitingKey{e.UserID, e.SeatDetailID}
	if e.Status == model.WaitingWaiting && q.waiting[key] == e.ID {
		delete(q.waiting, key)
	}
	e.Status = to
	q.entries[e.ID] = e
	if to == model.WaitingWaiting {
		q.waiting[key] = e.ID
	}
}
