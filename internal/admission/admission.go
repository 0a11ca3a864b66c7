// Package admission decides, under heavy contention, which caller wins a
// seat detail. A winner moves the detail AVAILABLE -> PENDING and gets an
// immediate access token; everyone else is placed in the waiting queue and
// gets a deferred token carrying their position and estimated wait.
package admission

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

// SeatStore is the persisted seat and seat detail state.
type SeatStore interface {
	ReadSeatDetail(ctx context.Context, id uint64) (model.SeatDetail, error)
	WriteSeatDetailIfVersion(ctx context.Context, id uint64, status model.SeatStatus, heldBy uint64, expectedVersion int64) (bool, error)
	LockSeatDetail(ctx context.Context, id uint64, lockWait time.Duration, fn func(d *model.SeatDetail) error) error
	ReadSeat(ctx context.Context, id uint64) (model.Seat, error)
	UpdateSeatReservedCount(ctx context.Context, id uint64, expected, newCount int) (bool, error)
	ListSeatsByConcert(ctx context.Context, concertID uint64) ([]model.Seat, error)
	ListAvailableDetails(ctx context.Context, seatID uint64) ([]model.SeatDetail, error)
}

// WaitingQueue is implemented by *waitqueue.Controller.
type WaitingQueue interface {
	IsQueued(ctx context.Context, userID, seatDetailID uint64) (bool, error)
	Enqueue(ctx context.Context, userID, seatDetailID uint64) (model.WaitingQueueEntry, error)
	Entry(ctx context.Context, waitingID uint64) (model.WaitingQueueEntry, error)
	PositionOf(ctx context.Context, waitingID uint64) (int, error)
	EstimatedWaitSeconds(position int) int64
	PromoteNext(ctx context.Context, seatDetailID uint64) (model.WaitingQueueEntry, bool, error)
	Complete(ctx context.Context, userID, seatDetailID uint64) (bool, error)
}

// TokenIssuer is implemented by *token.Issuer.
type TokenIssuer interface {
	Issue(userID, seatDetailID, waitingID uint64, queuePosition int, remainingWaitSeconds int64) (model.AccessToken, error)
}

// SeatCache caches seat listings per concert. *repository.SeatCache
// satisfies it.
type SeatCache interface {
	Get(ctx context.Context, concertID uint64) ([]model.Seat, bool)
	Set(ctx context.Context, concertID uint64, seats []model.Seat) error
	Invalidate(ctx context.Context, concertID uint64) error
}

// LockMode selects how a single attempt touches the seat detail row.
type LockMode string

const (
	LockOptimistic  LockMode = "optimistic"
	LockPessimistic LockMode = "pessimistic"
	LockAdaptive    LockMode = "adaptive"
)

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	Retry    RetryPolicy
	LockMode LockMode
	// EscalateAfter is the number of conflicts within one adaptive call
	// after which the call switches to the row lock path.
	EscalateAfter int
	// LockWait bounds how long the row lock path waits for the lock.
	LockWait time.Duration
}

// DefaultConfig returns optimistic admission with the default retry policy.
func DefaultConfig() Config {
	return Config{
		Retry:         DefaultRetryPolicy(),
		LockMode:      LockOptimistic,
		EscalateAfter: 3,
		LockWait:      3 * time.Second,
	}
}

// Service is the reservation admission engine. It is safe for concurrent
// use; all coordination between callers happens in the stores.
type Service struct {
	seats   SeatStore
	queue   WaitingQueue
	tokens  TokenIssuer
	cache   SeatCache
	cfg     Config
	logger  *logrus.Logger
	metrics *obs.Metrics
}

type Option func(*Service)

func WithLogger(l *logrus.Logger) Option { return func(s *Service) { s.logger = l } }

func WithMetrics(m *obs.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithSeatCache enables the read-through seat listing cache.
func WithSeatCache(c SeatCache) Option { return func(s *Service) { s.cache = c } }

func NewService(seats SeatStore, queue WaitingQueue, tokens TokenIssuer, cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.Retry.MaxAttempts == 0 && cfg.Retry.InitialDelay == 0 && cfg.Retry.Multiplier == 0 {
		cfg.Retry = def.Retry
	}
	if cfg.LockMode == "" {
		cfg.LockMode = def.LockMode
	}
	if cfg.EscalateAfter <= 0 {
		cfg.EscalateAfter = def.EscalateAfter
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = def.LockWait
	}
	s := &Service{seats: seats, queue: queue, tokens: tokens, cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = obs.OrDiscard(s.logger)
	return s
}

// Attempt tries to take the seat detail for the user. On success the
// detail is PENDING and the token has position 0. When the detail is
// taken the user is enqueued and the token carries the queue position
// and estimated wait.
func (s *Service) Attempt(ctx context.Context, userID, seatDetailID uint64) (model.AccessToken, error) {
	start := time.Now()
	defer s.metrics.ObserveLatency("attempt", start)

	if userID == 0 || seatDetailID == 0 {
		s.metrics.Attempt("invalid")
		return model.AccessToken{}, fmt.Errorf("%w: user_id and seat_detail_id are required", ErrInvalidRequest)
	}

	log := s.logger.WithFields(logrus.Fields{"user_id": userID, "seat_detail_id": seatDetailID})
	conflicts := 0
	var tok model.AccessToken
	err := s.withRetry(ctx, log, func() error {
		locked := s.useLock(conflicts)
		var err error
		if locked {
			tok, err = s.attemptLocked(ctx, userID, seatDetailID)
		} else {
			tok, err = s.attemptOptimistic(ctx, userID, seatDetailID)
		}
		if d, kind := classify(err); d == retry {
			conflicts++
			s.metrics.Conflict(pathName(locked), kind)
		}
		return err
	})
	if err != nil {
		s.metrics.Attempt(resultOf(err))
		log.WithError(err).Warn("reservation attempt failed")
		return model.AccessToken{}, err
	}

	if tok.Granted() {
		s.metrics.Attempt("granted")
		log.Info("seat detail granted")
	} else {
		s.metrics.Attempt("queued")
		log.WithFields(logrus.Fields{
			"waiting_id": tok.WaitingID,
			"position":   tok.QueuePosition,
		}).Info("user queued for seat detail")
	}
	return tok, nil
}

func (s *Service) useLock(conflicts int) bool {
	switch s.cfg.LockMode {
	case LockPessimistic:
		return true
	case LockAdaptive:
		return conflicts >= s.cfg.EscalateAfter
	}
	return false
}

func pathName(locked bool) string {
	if locked {
		return "pessimistic"
	}
	return "optimistic"
}

func (s *Service) attemptOptimistic(ctx context.Context, userID, seatDetailID uint64) (model.AccessToken, error) {
	if err := s.checkNotQueued(ctx, userID, seatDetailID); err != nil {
		return model.AccessToken{}, err
	}
	d, err := s.seats.ReadSeatDetail(ctx, seatDetailID)
	if err != nil {
		return model.AccessToken{}, fmt.Errorf("read seat detail %d: %w", seatDetailID, err)
	}
	if !d.IsAvailable() {
		return s.enqueue(ctx, userID, d)
	}
	ok, err := s.seats.WriteSeatDetailIfVersion(ctx, d.ID, model.SeatPending, userID, d.Version)
	if err != nil {
		return model.AccessToken{}, fmt.Errorf("write seat detail %d: %w", d.ID, err)
	}
	if !ok {
		return model.AccessToken{}, fmt.Errorf("seat detail %d at version %d: %w", d.ID, d.Version, repository.ErrVersionConflict)
	}
	d.Status, d.HeldBy = model.SeatPending, userID
	d.Version++
	return s.grant(ctx, userID, d)
}

func (s *Service) attemptLocked(ctx context.Context, userID, seatDetailID uint64) (model.AccessToken, error) {
	if err := s.checkNotQueued(ctx, userID, seatDetailID); err != nil {
		return model.AccessToken{}, err
	}
	var (
		snapshot model.SeatDetail
		granted  bool
	)
	err := s.seats.LockSeatDetail(ctx, seatDetailID, s.cfg.LockWait, func(d *model.SeatDetail) error {
		if d.IsAvailable() {
			d.Status, d.HeldBy = model.SeatPending, userID
			granted = true
		}
		snapshot = *d
		return nil
	})
	if err != nil {
		return model.AccessToken{}, fmt.Errorf("lock seat detail %d: %w", seatDetailID, err)
	}
	if granted {
		snapshot.Version++
		return s.grant(ctx, userID, snapshot)
	}
	return s.enqueue(ctx, userID, snapshot)
}

func (s *Service) checkNotQueued(ctx context.Context, userID, seatDetailID uint64) error {
	queued, err := s.queue.IsQueued(ctx, userID, seatDetailID)
	if err != nil {
		return fmt.Errorf("check waiting queue: %w", err)
	}
	if queued {
		return fmt.Errorf("%w: user %d, seat detail %d", ErrAlreadyQueued, userID, seatDetailID)
	}
	return nil
}

// grant hands the user a token for d, which the user now holds PENDING
// at d.Version. Without a token nobody could confirm or release the
// detail, so a failed issue puts it back to AVAILABLE.
func (s *Service) grant(ctx context.Context, userID uint64, d model.SeatDetail) (model.AccessToken, error) {
	tok, err := s.tokens.Issue(userID, d.ID, 0, 0, 0)
	if err != nil {
		s.undoGrant(ctx, d)
		return model.AccessToken{}, fmt.Errorf("issue access token: %w", err)
	}
	if _, err := s.queue.Complete(ctx, userID, d.ID); err != nil {
		s.logger.WithError(err).WithField("seat_detail_id", d.ID).Warn("could not complete promoted queue entry")
	}
	s.invalidate(ctx, d.SeatID)
	return tok, nil
}

func (s *Service) undoGrant(ctx context.Context, d model.SeatDetail) {
	log := s.logger.WithFields(logrus.Fields{"seat_detail_id": d.ID, "version": d.Version})
	ok, err := s.seats.WriteSeatDetailIfVersion(ctx, d.ID, model.SeatAvailable, 0, d.Version)
	switch {
	case err != nil:
		log.WithError(err).Error("could not return seat detail to AVAILABLE")
	case !ok:
		log.Warn("seat detail changed before the grant was undone")
	}
}

func (s *Service) enqueue(ctx context.Context, userID uint64, d model.SeatDetail) (model.AccessToken, error) {
	entry, err := s.queue.Enqueue(ctx, userID, d.ID)
	if err != nil {
		return model.AccessToken{}, err
	}
	pos, err := s.queue.PositionOf(ctx, entry.ID)
	if err != nil {
		return model.AccessToken{}, fmt.Errorf("queue position: %w", err)
	}
	tok, err := s.tokens.Issue(userID, d.ID, entry.ID, pos, s.queue.EstimatedWaitSeconds(pos))
	if err != nil {
		return model.AccessToken{}, fmt.Errorf("issue access token: %w", err)
	}
	return tok, nil
}

// withRetry runs fn until it succeeds, fails with a non-conflict error,
// the context ends or the policy runs out of attempts.
func (s *Service) withRetry(ctx context.Context, log *logrus.Entry, fn func() error) error {
	limit := s.cfg.Retry.attempts()
	var last error
	for attempt := 1; attempt <= limit; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		if d, _ := classify(err); d != retry {
			return err
		}
		last = err
		if attempt == limit {
			break
		}
		delay := s.cfg.Retry.Delay(attempt)
		s.metrics.Retry()
		log.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).WithError(err).Debug("conflict, retrying")
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return &ConflictExhaustedError{Attempts: limit, Cause: last}
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConflictExhausted):
		return "exhausted"
	case errors.Is(err, ErrAlreadyQueued):
		return "already_queued"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}
