// Package queue carries reservation requests and their responses over a
// message broker. Requests are published by the Dispatcher and consumed
// by Workers; responses flow back to the ResponseListener, which hands
// them to the waiting caller by correlation ID.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/concert-seat-admission/internal/admission"
	"github.com/iliyamo/concert-seat-admission/internal/model"
)

// Default topic (queue) names.
const (
	DefaultRequestTopic  = "reservation.requests"
	DefaultResponseTopic = "reservation.responses"
)

// ReservationRequest asks a worker to run an admission attempt.
type ReservationRequest struct {
	CorrelationID string `json:"correlation_id"`
	UserID        uint64 `json:"user_id"`
	SeatDetailID  uint64 `json:"seat_detail_id"`
	RequestedAt   string `json:"requested_at"`
}

// ReservationResponse is the outcome of a request. Exactly one of Token
// and ErrorKind is set.
type ReservationResponse struct {
	CorrelationID string             `json:"correlation_id"`
	Token         *model.AccessToken `json:"token,omitempty"`
	ErrorKind     string             `json:"error_kind,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// Error kinds carried in responses.
const (
	KindInvalid           = "invalid_request"
	KindNotFound          = "not_found"
	KindAlreadyQueued     = "already_queued"
	KindConflictExhausted = "conflict_exhausted"
	KindInternal          = "internal"
)

var kinds = []struct {
	kind string
	err  error
}{
	{KindConflictExhausted, admission.ErrConflictExhausted},
	{KindAlreadyQueued, admission.ErrAlreadyQueued},
	{KindNotFound, admission.ErrNotFound},
	{KindInvalid, admission.ErrInvalidRequest},
}

// ErrRemote is returned for failures the worker could not classify.
var ErrRemote = errors.New("reservation worker failed")

func newRequest(correlationID string, userID, seatDetailID uint64) ReservationRequest {
	return ReservationRequest{
		CorrelationID: correlationID,
		UserID:        userID,
		SeatDetailID:  seatDetailID,
		RequestedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// NewResponse builds the response for an admission outcome.
func NewResponse(correlationID string, tok model.AccessToken, err error) ReservationResponse {
	resp := ReservationResponse{CorrelationID: correlationID}
	if err == nil {
		resp.Token = &tok
		return resp
	}
	resp.ErrorKind = KindInternal
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			resp.ErrorKind = k.kind
			break
		}
	}
	resp.Error = err.Error()
	return resp
}

// Result turns a response back into the value or error the worker saw.
// Known kinds wrap the matching admission sentinel.
func (r ReservationResponse) Result() (model.AccessToken, error) {
	if r.ErrorKind == "" {
		if r.Token == nil {
			return model.AccessToken{}, fmt.Errorf("%w: response carries neither token nor error", ErrRemote)
		}
		return *r.Token, nil
	}
	for _, k := range kinds {
		if r.ErrorKind == k.kind {
			return model.AccessToken{}, fmt.Errorf("%w: %s", k.err, r.Error)
		}
	}
	return model.AccessToken{}, fmt.Errorf("%w: %s", ErrRemote, r.Error)
}
