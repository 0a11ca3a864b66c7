package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/concert-seat-admission/internal/model"
)

// WaitingQueueRepo provides data access to the waiting_queue table. Rows
// are appended by Insert and afterwards only change status; a queue is
// always scanned within a single seat detail so no cross-seat locking is
// ever required. All timestamps are stored in UTC with microsecond
// precision so that enqueue order survives the round trip.
type WaitingQueueRepo struct {
	db *sql.DB
}

// NewWaitingQueueRepo returns a new WaitingQueueRepo bound to the provided database.
func NewWaitingQueueRepo(db *sql.DB) *WaitingQueueRepo { return &WaitingQueueRepo{db: db} }

// Insert appends an entry and returns its generated ID. The table keeps
// a unique key over (user_id, seat_detail_id) for WAITING rows only, so
// a second WAITING entry for the same pair fails with
// ErrDuplicateWaiting.
func (r *WaitingQueueRepo) Insert(ctx context.Context, e model.WaitingQueueEntry) (uint64, error) {
	const q = `INSERT INTO waiting_queue (user_id, seat_detail_id, status, enqueued_at) VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, e.UserID, e.SeatDetailID, e.Status, e.EnqueuedAt.UTC())
	if err != nil {
		return 0, translate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// Get returns a single entry or ErrNotFound.
func (r *WaitingQueueRepo) Get(ctx context.Context, id uint64) (model.WaitingQueueEntry, error) {
	const q = `SELECT id, user_id, seat_detail_id, status, enqueued_at FROM waiting_queue WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, q, id))
}

// FindByUser returns the most recent entry of a user for a seat detail
// in the given status, or ErrNotFound.
func (r *WaitingQueueRepo) FindByUser(ctx context.Context, userID, seatDetailID uint64, status model.WaitingStatus) (model.WaitingQueueEntry, error) {
	const q = `SELECT id, user_id, seat_detail_id, status, enqueued_at
	           FROM waiting_queue
	           WHERE user_id = ? AND seat_detail_id = ? AND status = ?
	           ORDER BY id DESC LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, q, userID, seatDetailID, status))
}

// CountAheadOf counts WAITING entries of the seat detail that are ahead
// of (enqueuedAt, waitingID): earlier enqueue time, or the same time and
// a lower ID.
func (r *WaitingQueueRepo) CountAheadOf(ctx context.Context, seatDetailID uint64, enqueuedAt time.Time, waitingID uint64) (int, error) {
	const q = `SELECT COUNT(*) FROM waiting_queue
	           WHERE seat_detail_id = ? AND status = 'WAITING'
	             AND (enqueued_at < ? OR (enqueued_at = ? AND id < ?))`
	at := enqueuedAt.UTC()
	var n int
	if err := r.db.QueryRowContext(ctx, q, seatDetailID, at, at, waitingID).Scan(&n); err != nil {
		return 0, translate(err)
	}
	return n, nil
}

// OldestWaiting returns the head of the queue for a seat detail or
// ErrNotFound when nobody is waiting.
func (r *WaitingQueueRepo) OldestWaiting(ctx context.Context, seatDetailID uint64) (model.WaitingQueueEntry, error) {
	const q = `SELECT id, user_id, seat_detail_id, status, enqueued_at
	           FROM waiting_queue
	           WHERE seat_detail_id = ? AND status = 'WAITING'
	           ORDER BY enqueued_at, id LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, q, seatDetailID))
}

// UpdateStatus moves an entry from one status to another. It reports
// false when the entry is no longer in the from status, which lets two
// concurrent promoters race safely.
func (r *WaitingQueueRepo) UpdateStatus(ctx context.Context, id uint64, from, to model.WaitingStatus) (bool, error) {
	const q = `UPDATE waiting_queue SET status = ? WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q, to, id, from)
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ExpireBefore marks every WAITING entry enqueued before cutoff as
// EXPIRED and returns how many rows changed.
func (r *WaitingQueueRepo) ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `UPDATE waiting_queue SET status = 'EXPIRED' WHERE status = 'WAITING' AND enqueued_at < ?`
	res, err := r.db.ExecContext(ctx, q, cutoff.UTC())
	if err != nil {
		return 0, translate(err)
	}
	return res.RowsAffected()
}

func (r *WaitingQueueRepo) scanOne(row *sql.Row) (model.WaitingQueueEntry, error) {
	var e model.WaitingQueueEntry
	if err := row.Scan(&e.ID, &e.UserID, &e.SeatDetailID, &e.Status, &e.EnqueuedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.WaitingQueueEntry{}, ErrNotFound
		}
		return model.WaitingQueueEntry{}, translate(err)
	}
	return e, nil
}
