// Package memstore holds in-memory implementations of the seat and
// waiting queue stores. They honour the same contracts as the MySQL
// repositories (version-checked writes, exclusive row locks with a wait
// timeout, WAITING uniqueness) and back local single-process runs and
// the concurrency tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/concert-seat-admission/internal/model"
	"github.com/iliyamo/concert-seat-admission/internal/repository"
)

type detailRow struct {
	detail model.SeatDetail
	lock   chan struct{} // capacity 1; held while a writer owns the row
}

func (r *detailRow) acquire(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		select {
		case r.lock <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case r.lock <- struct{}{}:
		return nil
	case <-t.C:
		return repository.ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *detailRow) release() { <-r.lock }

// SeatStore keeps seats and seat details in memory.
type SeatStore struct {
	mu      sync.RWMutex
	seats   map[uint64]model.Seat
	details map[uint64]*detailRow
	now     func() time.Time
}

// NewSeatStore returns an empty SeatStore.
func NewSeatStore() *SeatStore {
	return &SeatStore{
		seats:   make(map[uint64]model.Seat),
		details: make(map[uint64]*detailRow),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AddSeat registers a seat and its details, replacing any previous
// version of them. It is the inventory setup entry point.
func (s *SeatStore) AddSeat(seat model.Seat, details ...model.SeatDetail) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	seat.Details = nil
	if seat.CreatedAt.IsZero() {
		seat.CreatedAt = now
	}
	seat.UpdatedAt = now
	s.seats[seat.ID] = seat
	for _, d := range details {
		d.SeatID = seat.ID
		if d.Status == "" {
			d.Status = model.SeatAvailable
		}
		d.UpdatedAt = now
		s.details[d.ID] = &detailRow{detail: d, lock: make(chan struct{}, 1)}
	}
}

func (s *SeatStore) row(id uint64) (*detailRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.details[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r, nil
}

// ReadSeatDetail returns a snapshot of a seat detail.
func (s *SeatStore) ReadSeatDetail(ctx context.Context, id uint64) (model.SeatDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.details[id]
	if !ok {
		return model.SeatDetail{}, repository.ErrNotFound
	}
	return r.detail, nil
}

// WriteSeatDetailIfVersion sets the status and holder when the version
// still matches. Like a row UPDATE it waits for a concurrent lock holder.
func (s *SeatStore) WriteSeatDetailIfVersion(ctx context.Context, id uint64, status model.SeatStatus, heldBy uint64, expectedVersion int64) (bool, error) {
	r, err := s.row(id)
	if err != nil {
		return false, err
	}
	if err := r.acquire(ctx, 0); err != nil {
		return false, err
	}
	defer r.release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if r.detail.Version != expectedVersion {
		return false, nil
	}
	r.detail.Status = status
	r.detail.HeldBy = heldBy
	r.detail.Version++
	r.detail.UpdatedAt = s.now()
	return true, nil
}

// LockSeatDetail runs fn while holding the row lock and commits a status
// or holder change with a version increment.
func (s *SeatStore) LockSeatDetail(ctx context.Context, id uint64, lockWait time.Duration, fn func(d *model.SeatDetail) error) error {
	r, err := s.row(id)
	if err != nil {
		return err
	}
	if err := r.acquire(ctx, lockWait); err != nil {
		return err
	}
	defer r.release()

	s.mu.RLock()
	d := r.detail
	s.mu.RUnlock()

	before, holder := d.Status, d.HeldBy
	if err := fn(&d); err != nil {
		return err
	}
	if d.Status == before && d.HeldBy == holder {
		return nil
	}
	s.mu.Lock()
	r.detail.Status = d.Status
	r.detail.HeldBy = d.HeldBy
	r.detail.Version++
	r.detail.UpdatedAt = s.now()
	s.mu.Unlock()
	return nil
}

// ReadSeat returns a seat without details.
func (s *SeatStore) ReadSeat(ctx context.Context, id uint64) (model.Seat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seat, ok := s.seats[id]
	if !ok {
		return model.Seat{}, repository.ErrNotFound
	}
	return seat, nil
}

// UpdateSeatReservedCount compare-and-sets the reserved counter within
// [0, MaxCapacity].
func (s *SeatStore) UpdateSeatReservedCount(ctx context.Context, id uint64, expected, newCount int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seat, ok := s.seats[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if seat.CurrentReserved != expected || newCount < 0 || newCount > seat.MaxCapacity {
		return false, nil
	}
	seat.CurrentReserved = newCount
	seat.UpdatedAt = s.now()
	s.seats[id] = seat
	return true, nil
}

// ListSeatsByConcert returns the seats of a concert ordered by ID.
func (s *SeatStore) ListSeatsByConcert(ctx context.Context, concertID uint64) ([]model.Seat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Seat
	for _, seat := range s.seats {
		if seat.ConcertID == concertID {
			out = append(out, seat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListAvailableDetails returns the AVAILABLE details of a seat ordered by ID.
func (s *SeatStore) ListAvailableDetails(ctx context.Context, seatID uint64) ([]model.SeatDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.SeatDetail
	for _, r := range s.details {
		if r.detail.SeatID == seatID && r.detail.Status == model.SeatAvailable {
			out = append(out, r.detail)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
