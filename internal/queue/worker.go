package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/concert-seat-admission/internal/admission"
	"github.com/iliyamo/concert-seat-admission/internal/model"
	"github.com/iliyamo/concert-seat-admission/internal/obs"
)

// Admitter runs admission attempts and gives back holds that could not
// be delivered. *admission.Service satisfies it.
type Admitter interface {
	Attempt(ctx context.Context, userID, seatDetailID uint64) (model.AccessToken, error)
	Release(ctx context.Context, userID, seatDetailID uint64) (admission.ReleaseResult, error)
}

// Worker consumes reservation requests and publishes their outcome.
type Worker struct {
	admit         Admitter
	pub           Publisher
	responseTopic string
	logger        *logrus.Logger
}

func NewWorker(admit Admitter, pub Publisher, responseTopic string, logger *logrus.Logger) *Worker {
	if responseTopic == "" {
		responseTopic = DefaultResponseTopic
	}
	return &Worker{admit: admit, pub: pub, responseTopic: responseTopic, logger: obs.OrDiscard(logger)}
}

// Handle is a Handler for the request topic. Admission failures are
// answered, not rejected; only malformed requests and publish failures
// return an error. A granted hold whose response cannot be published is
// released again, since its caller never learns about it.
func (w *Worker) Handle(ctx context.Context, correlationID string, body []byte) error {
	var req ReservationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("unmarshal request: %w", err)
	}
	if req.CorrelationID == "" {
		req.CorrelationID = correlationID
	}
	if req.CorrelationID == "" {
		return errors.New("request without correlation id")
	}

	tok, err := w.admit.Attempt(ctx, req.UserID, req.SeatDetailID)
	resp := NewResponse(req.CorrelationID, tok, err)
	w.logger.WithFields(logrus.Fields{
		"correlation_id": req.CorrelationID,
		"user_id":        req.UserID,
		"seat_detail_id": req.SeatDetailID,
		"error_kind":     resp.ErrorKind,
	}).Debug("worker: request handled")

	out, err := json.Marshal(resp)
	if err == nil {
		err = w.pub.Publish(ctx, w.responseTopic, req.CorrelationID, out)
	}
	if err != nil {
		w.undeliverable(ctx, req, tok, resp)
		return fmt.Errorf("deliver response: %w", err)
	}
	return nil
}

func (w *Worker) undeliverable(ctx context.Context, req ReservationRequest, tok model.AccessToken, resp ReservationResponse) {
	log := w.logger.WithFields(logrus.Fields{
		"correlation_id": req.CorrelationID,
		"user_id":        req.UserID,
		"seat_detail_id": req.SeatDetailID,
		"waiting_id":     tok.WaitingID,
	})
	if resp.ErrorKind != "" || !tok.Granted() {
		log.Error("worker: response lost; caller will time out")
		return
	}
	if _, err := w.admit.Release(context.WithoutCancel(ctx), req.UserID, req.SeatDetailID); err != nil {
		log.WithError(err).Error("worker: response lost and granted seat detail could not be released")
		return
	}
	log.Error("worker: response lost; granted seat detail released")
}

// Run consumes topic until ctx is done.
func (w *Worker) Run(ctx context.Context, sub Subscriber, topic string) error {
	if topic == "" {
		topic = DefaultRequestTopic
	}
	return sub.Subscribe(ctx, topic, w.Handle)
}
