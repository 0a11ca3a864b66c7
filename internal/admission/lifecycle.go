package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/concert-seat-admission/internal/model"
	"github.com/iliyamo/concert-seat-admission/internal/repository"
	"github.com/iliyamo/concert-seat-admission/internal/waitqueue"
)

// ReleaseResult reports a released seat detail and the queue entry that
// was promoted to PROCESSING, if any.
type ReleaseResult struct {
	Detail   model.SeatDetail         `json:"seat_detail"`
	Promoted *model.WaitingQueueEntry `json:"promoted,omitempty"`
}

// QueueStatus is the current standing of a waiting queue entry.
type QueueStatus struct {
	Entry                model.WaitingQueueEntry `json:"entry"`
	Position             int                     `json:"queue_position"`
	RemainingWaitSeconds int64                   `json:"remaining_wait_seconds"`
}

// GetAvailableSeats lists the seats of a concert, each with its AVAILABLE
// details.
func (s *Service) GetAvailableSeats(ctx context.Context, concertID uint64) ([]model.Seat, error) {
	if concertID == 0 {
		return nil, fmt.Errorf("%w: concert id is required", ErrInvalidRequest)
	}
	if s.cache != nil {
		if seats, ok := s.cache.Get(ctx, concertID); ok {
			return seats, nil
		}
	}
	seats, err := s.seats.ListSeatsByConcert(ctx, concertID)
	if err != nil {
		return nil, fmt.Errorf("list seats for concert %d: %w", concertID, err)
	}
	if len(seats) == 0 {
		return nil, fmt.Errorf("concert %d has no seats: %w", concertID, ErrNotFound)
	}
	for i := range seats {
		details, err := s.seats.ListAvailableDetails(ctx, seats[i].ID)
		if err != nil {
			return nil, fmt.Errorf("list details for seat %d: %w", seats[i].ID, err)
		}
		seats[i].Details = details
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, concertID, seats); err != nil {
			s.logger.WithError(err).WithField("concert_id", concertID).Warn("seat cache write failed")
		}
	}
	return seats, nil
}

// Confirm turns a PENDING seat detail held by userID into RESERVED and
// counts it against the parent seat's capacity.
func (s *Service) Confirm(ctx context.Context, userID, seatDetailID uint64) (model.SeatDetail, error) {
	defer s.metrics.ObserveLatency("confirm", time.Now())
	d, err := s.transition(ctx, userID, seatDetailID, model.SeatPending, model.SeatReserved)
	if err != nil {
		return model.SeatDetail{}, err
	}
	if err := s.adjustReserved(ctx, d.SeatID, 1); err != nil {
		if _, cerr := s.transition(ctx, userID, seatDetailID, model.SeatReserved, model.SeatPending); cerr != nil {
			s.logger.WithError(cerr).WithField("seat_detail_id", seatDetailID).Error("could not revert seat detail to PENDING")
		}
		return model.SeatDetail{}, err
	}
	s.invalidate(ctx, d.SeatID)
	s.logger.WithField("seat_detail_id", seatDetailID).Info("seat detail confirmed")
	return d, nil
}

// Release hands a PENDING seat detail held by userID back and promotes
// the oldest waiting user.
func (s *Service) Release(ctx context.Context, userID, seatDetailID uint64) (ReleaseResult, error) {
	defer s.metrics.ObserveLatency("release", time.Now())
	d, err := s.transition(ctx, userID, seatDetailID, model.SeatPending, model.SeatAvailable)
	if err != nil {
		return ReleaseResult{}, err
	}
	s.invalidate(ctx, d.SeatID)
	res := ReleaseResult{Detail: d}
	entry, ok, err := s.queue.PromoteNext(ctx, seatDetailID)
	if err != nil {
		return res, fmt.Errorf("promote next waiting user: %w", err)
	}
	if ok {
		res.Promoted = &entry
	}
	s.logger.WithFields(logrus.Fields{"seat_detail_id": seatDetailID, "promoted": ok}).Info("seat detail released")
	return res, nil
}

// Cancel turns a RESERVED seat detail held by userID into CANCELLED and
// frees its capacity on the parent seat.
func (s *Service) Cancel(ctx context.Context, userID, seatDetailID uint64) (model.SeatDetail, error) {
	defer s.metrics.ObserveLatency("cancel", time.Now())
	d, err := s.transition(ctx, userID, seatDetailID, model.SeatReserved, model.SeatCancelled)
	if err != nil {
		return model.SeatDetail{}, err
	}
	if err := s.adjustReserved(ctx, d.SeatID, -1); err != nil {
		return d, err
	}
	s.invalidate(ctx, d.SeatID)
	s.logger.WithField("seat_detail_id", seatDetailID).Info("seat detail cancelled")
	return d, nil
}

// QueueStatus reports position and estimated wait for a queue entry.
// Entries that left WAITING report position 0.
func (s *Service) QueueStatus(ctx context.Context, waitingID uint64) (QueueStatus, error) {
	if waitingID == 0 {
		return QueueStatus{}, fmt.Errorf("%w: waiting id is required", ErrInvalidRequest)
	}
	entry, err := s.queue.Entry(ctx, waitingID)
	if err != nil {
		return QueueStatus{}, err
	}
	st := QueueStatus{Entry: entry}
	pos, err := s.queue.PositionOf(ctx, waitingID)
	switch {
	case errors.Is(err, waitqueue.ErrNotWaiting):
		return st, nil
	case err != nil:
		return QueueStatus{}, err
	}
	st.Position = pos
	st.RemainingWaitSeconds = s.queue.EstimatedWaitSeconds(pos)
	return st, nil
}

// transition moves a detail held by userID from one status to another
// with a version checked write, retried under the policy. Moving to
// AVAILABLE clears the holder.
func (s *Service) transition(ctx context.Context, userID, id uint64, from, to model.SeatStatus) (model.SeatDetail, error) {
	if userID == 0 || id == 0 {
		return model.SeatDetail{}, fmt.Errorf("%w: user id and seat detail id are required", ErrInvalidRequest)
	}
	holder := userID
	if to == model.SeatAvailable {
		holder = 0
	}
	log := s.logger.WithFields(logrus.Fields{"seat_detail_id": id, "to": to})
	var out model.SeatDetail
	err := s.withRetry(ctx, log, func() error {
		d, err := s.seats.ReadSeatDetail(ctx, id)
		if err != nil {
			return fmt.Errorf("read seat detail %d: %w", id, err)
		}
		if d.Status != from {
			return fmt.Errorf("%w: seat detail %d is %s, want %s", ErrInvalidTransition, id, d.Status, from)
		}
		if d.HeldBy != userID {
			return fmt.Errorf("%w: seat detail %d, user %d", ErrNotHolder, id, userID)
		}
		ok, err := s.seats.WriteSeatDetailIfVersion(ctx, id, to, holder, d.Version)
		if err != nil {
			return fmt.Errorf("write seat detail %d: %w", id, err)
		}
		if !ok {
			s.metrics.Conflict("optimistic", "version")
			return fmt.Errorf("seat detail %d at version %d: %w", id, d.Version, repository.ErrVersionConflict)
		}
		d.Status, d.HeldBy = to, holder
		d.Version++
		out = d
		return nil
	})
	return out, err
}

// adjustReserved applies delta to the seat's reserved count with a
// compare-and-set that keeps it within [0, MaxCapacity].
func (s *Service) adjustReserved(ctx context.Context, seatID uint64, delta int) error {
	log := s.logger.WithField("seat_id", seatID)
	return s.withRetry(ctx, log, func() error {
		seat, err := s.seats.ReadSeat(ctx, seatID)
		if err != nil {
			return fmt.Errorf("read seat %d: %w", seatID, err)
		}
		next := seat.CurrentReserved + delta
		if next > seat.MaxCapacity {
			return fmt.Errorf("seat %d holds %d of %d: %w", seatID, seat.CurrentReserved, seat.MaxCapacity, ErrCapacityExceeded)
		}
		if next < 0 {
			return fmt.Errorf("%w: seat %d reserved count would drop below zero", ErrInvalidTransition, seatID)
		}
		ok, err := s.seats.UpdateSeatReservedCount(ctx, seatID, seat.CurrentReserved, next)
		if err != nil {
			return fmt.Errorf("update seat %d count: %w", seatID, err)
		}
		if !ok {
			return fmt.Errorf("seat %d count changed from %d: %w", seatID, seat.CurrentReserved, repository.ErrVersionConflict)
		}
		return nil
	})
}

func (s *Service) invalidate(ctx context.Context, seatID uint64) {
	if s.cache == nil {
		return
	}
	seat, err := s.seats.ReadSeat(ctx, seatID)
	if err != nil {
		s.logger.WithError(err).WithField("seat_id", seatID).Warn("seat cache invalidation skipped")
		return
	}
	if err := s.cache.Invalidate(ctx, seat.ConcertID); err != nil {
		s.logger.WithError(err).WithField("concert_id", seat.ConcertID).Warn("seat cache invalidation failed")
	}
}
