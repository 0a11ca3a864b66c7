package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/concert-seat-admission/internal/admission"
	"github.com/iliyamo/concert-seat-admission/internal/correlation"
	"github.com/iliyamo/concert-seat-admission/internal/model"
	"github.com/iliyamo/concert-seat-admission/internal/obs"
)

// ErrPublish is returned when a request could not be handed to the
// broker. It is not retried.
var ErrPublish = errors.New("reservation request could not be published")

// Dispatcher runs admission attempts out of process: it publishes a
// request and parks the caller until the matching response arrives.
type Dispatcher struct {
	pub     Publisher
	corr    *correlation.Correlator[model.AccessToken]
	topic   string
	timeout time.Duration
	logger  *logrus.Logger
}

// NewDispatcher returns a Dispatcher publishing to topic and waiting at
// most timeout for each response.
func NewDispatcher(pub Publisher, corr *correlation.Correlator[model.AccessToken], topic string, timeout time.Duration, logger *logrus.Logger) *Dispatcher {
	if topic == "" {
		topic = DefaultRequestTopic
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{pub: pub, corr: corr, topic: topic, timeout: timeout, logger: obs.OrDiscard(logger)}
}

// Reserve publishes an admission request and waits for its outcome.
// Errors from the worker come back as the same admission sentinels;
// correlation.ErrTimeout reports that no response arrived in time.
func (d *Dispatcher) Reserve(ctx context.Context, userID, seatDetailID uint64) (model.AccessToken, error) {
	if userID == 0 || seatDetailID == 0 {
		return model.AccessToken{}, fmt.Errorf("%w: user_id and seat_detail_id are required", admission.ErrInvalidRequest)
	}
	id := uuid.NewString()
	h, err := d.corr.Register(id)
	if err != nil {
		return model.AccessToken{}, err
	}

	body, err := json.Marshal(newRequest(id, userID, seatDetailID))
	if err != nil {
		d.corr.Cancel(id)
		return model.AccessToken{}, fmt.Errorf("marshal request: %w", err)
	}
	if err := d.pub.Publish(ctx, d.topic, id, body); err != nil {
		d.corr.Cancel(id)
		d.logger.WithError(err).WithField("correlation_id", id).Error("dispatcher: publish failed")
		return model.AccessToken{}, fmt.Errorf("%w: %v", ErrPublish, err)
	}

	tok, err := d.corr.Await(ctx, h, d.timeout)
	if errors.Is(err, correlation.ErrTimeout) {
		d.logger.WithFields(logrus.Fields{
			"correlation_id": id,
			"timeout":        d.timeout.String(),
		}).Warn("dispatcher: no response in time")
	}
	return tok, err
}
