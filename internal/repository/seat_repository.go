package repository // repository defines data access for seats and seat details

import (
	"context"      // context allows query cancellation and timeouts
	"database/sql" // sql provides DB primitives
	"database/sql/driver"
	"errors"       // errors for sentinel comparisons
	"fmt"
	"math"
	"time"

	"github.com/iliyamo/concert-seat-admission/internal/model"
)

// SeatRepo provides access to the seats and seat_details tables. It is
// the MySQL implementation of the admission engine's seat store: reads
// are plain snapshots, status writes are either conditioned on the row
// version (optimistic) or performed under SELECT ... FOR UPDATE
// (pessimistic).
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo constructs a SeatRepo with the given DB handle.
func NewSeatRepo(db *sql.DB) *SeatRepo {
	return &SeatRepo{db: db}
}

// DB exposes the underlying handle so callers can run health checks.
func (r *SeatRepo) DB() *sql.DB { return r.db }

// ReadSeatDetail returns a snapshot of a seat detail including its
// version. It returns ErrNotFound when no row matches.
func (r *SeatRepo) ReadSeatDetail(ctx context.Context, id uint64) (model.SeatDetail, error) {
	const q = `SELECT id, seat_id, status, version, held_by, updated_at FROM seat_details WHERE id = ?`
	var d model.SeatDetail
	err := r.db.QueryRowContext(ctx, q, id).Scan(&d.ID, &d.SeatID, &d.Status, &d.Version, &d.HeldBy, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SeatDetail{}, ErrNotFound
		}
		return model.SeatDetail{}, translate(err)
	}
	return d, nil
}

// WriteSeatDetailIfVersion sets the status and holder of a seat detail
// only if its version still equals expectedVersion, incrementing the
// version in the same statement. It reports false when another writer
// got there first.
func (r *SeatRepo) WriteSeatDetailIfVersion(ctx context.Context, id uint64, status model.SeatStatus, heldBy uint64, expectedVersion int64) (bool, error) {
	const q = `UPDATE seat_details
	           SET status = ?, held_by = ?, version = version + 1, updated_at = UTC_TIMESTAMP(6)
	           WHERE id = ? AND version = ?`
	res, err := r.db.ExecContext(ctx, q, status, heldBy, id, expectedVersion)
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// LockSeatDetail reads a seat detail under an exclusive row lock and
// hands it to fn. If fn changes the status or holder, the change is
// written with a version increment before the transaction commits. Concurrent callers
// for the same row block until the holder commits or rolls back, or
// until lockWait elapses (ErrLockTimeout). An error from fn rolls the
// transaction back and is returned unchanged.
func (r *SeatRepo) LockSeatDetail(ctx context.Context, id uint64, lockWait time.Duration, fn func(d *model.SeatDetail) error) error {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	// innodb_lock_wait_timeout has one second granularity. The session
	// value is put back before the connection returns to the pool.
	if lockWait > 0 {
		secs := int(math.Ceil(lockWait.Seconds()))
		if _, err := conn.ExecContext(ctx, `SET SESSION innodb_lock_wait_timeout = ?`, secs); err != nil {
			return translate(err)
		}
		defer restoreLockWait(conn)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const sel = `SELECT id, seat_id, status, version, held_by, updated_at FROM seat_details WHERE id = ? FOR UPDATE`
	var d model.SeatDetail
	if err := tx.QueryRowContext(ctx, sel, id).Scan(&d.ID, &d.SeatID, &d.Status, &d.Version, &d.HeldBy, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return translate(err)
	}

	before, holder := d.Status, d.HeldBy
	if err := fn(&d); err != nil {
		return err
	}
	if d.Status != before || d.HeldBy != holder {
		const upd = `UPDATE seat_details
		             SET status = ?, held_by = ?, version = version + 1, updated_at = UTC_TIMESTAMP(6)
		             WHERE id = ?`
		if _, err := tx.ExecContext(ctx, upd, d.Status, d.HeldBy, d.ID); err != nil {
			return translate(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return translate(err)
	}
	committed = true
	return nil
}

// restoreLockWait resets the session lock wait timeout to the server
// default. A connection whose reset failed is discarded instead of going
// back to the pool.
func restoreLockWait(conn *sql.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := conn.ExecContext(ctx, `SET SESSION innodb_lock_wait_timeout = DEFAULT`); err != nil {
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	}
}

// ReadSeat returns a seat without its details. It returns ErrNotFound
// when no row matches.
func (r *SeatRepo) ReadSeat(ctx context.Context, id uint64) (model.Seat, error) {
	const q = `SELECT id, concert_id, max_capacity, current_reserved, created_at, updated_at FROM seats WHERE id = ?`
	var s model.Seat
	err := r.db.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.ConcertID, &s.MaxCapacity, &s.CurrentReserved, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Seat{}, ErrNotFound
		}
		return model.Seat{}, translate(err)
	}
	return s, nil
}

// UpdateSeatReservedCount sets current_reserved to newCount if it still
// equals expected and newCount stays within [0, max_capacity]. It
// reports false when the counter moved or the bound would be violated.
func (r *SeatRepo) UpdateSeatReservedCount(ctx context.Context, id uint64, expected, newCount int) (bool, error) {
	const q = `UPDATE seats
	           SET current_reserved = ?, updated_at = UTC_TIMESTAMP()
	           WHERE id = ? AND current_reserved = ? AND ? >= 0 AND ? <= max_capacity`
	res, err := r.db.ExecContext(ctx, q, newCount, id, expected, newCount, newCount)
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListSeatsByConcert returns all seats of a concert schedule ordered by
// ID. Details are not populated.
func (r *SeatRepo) ListSeatsByConcert(ctx context.Context, concertID uint64) ([]model.Seat, error) {
	const q = `SELECT id, concert_id, max_capacity, current_reserved, created_at, updated_at
	           FROM seats WHERE concert_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, concertID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var seats []model.Seat
	for rows.Next() {
		var s model.Seat
		if err := rows.Scan(&s.ID, &s.ConcertID, &s.MaxCapacity, &s.CurrentReserved, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return seats, nil
}

// ListAvailableDetails returns the AVAILABLE seat details of a seat.
func (r *SeatRepo) ListAvailableDetails(ctx context.Context, seatID uint64) ([]model.SeatDetail, error) {
	const q = `SELECT id, seat_id, status, version, held_by, updated_at
	           FROM seat_details WHERE seat_id = ? AND status = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, seatID, model.SeatAvailable)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var details []model.SeatDetail
	for rows.Next() {
		var d model.SeatDetail
		if err := rows.Scan(&d.ID, &d.SeatID, &d.Status, &d.Version, &d.HeldBy, &d.UpdatedAt); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return details, nil
}
