package model

import "time"

// WaitingStatus is the lifecycle state of a waiting queue entry.
type WaitingStatus string

const (
	WaitingWaiting    WaitingStatus = "WAITING"
	WaitingProcessing WaitingStatus = "PROCESSING"
	WaitingExpired    WaitingStatus = "EXPIRED"
	WaitingDone       WaitingStatus = "DONE"
)

// WaitingQueueEntry records a user waiting for a seat detail that was not
// available when they attempted to reserve it.  Entries are never deleted;
// they leave the queue by moving out of WAITING.
//
// Fields:
//
//	ID           – primary key identifier.
//	UserID       – waiting user.
//	SeatDetailID – seat detail the user is waiting for.
//	Status       – WAITING, PROCESSING, EXPIRED or DONE.
//	EnqueuedAt   – when the entry joined the queue (UTC).
type WaitingQueueEntry struct {
	ID           uint64        `json:"waiting_id"`     // waiting_queue.id
	UserID       uint64        `json:"user_id"`        // waiting_queue.user_id
	SeatDetailID uint64        `json:"seat_detail_id"` // waiting_queue.seat_detail_id
	Status       WaitingStatus `json:"status"`         // waiting_queue.status
	EnqueuedAt   time.Time     `json:"enqueued_at"`    // waiting_queue.enqueued_at
}

// Before reports whether e is ahead of other in queue order: earlier
// enqueue time first, lower ID on ties.
func (e WaitingQueueEntry) Before(other WaitingQueueEntry) bool {
	if e.EnqueuedAt.Equal(other.EnqueuedAt) {
		return e.ID < other.ID
	}
	return e.EnqueuedAt.Before(other.EnqueuedAt)
}
