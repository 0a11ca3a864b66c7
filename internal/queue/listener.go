package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/concert-seat-admission/internal/correlation"
	"github.com/iliyamo/concert-seat-admission/internal/model"
	"github.com/iliyamo/concert-seat-admission/internal/obs"
)

// ResponseListener resolves pending dispatches from response messages.
type ResponseListener struct {
	corr   *correlation.Correlator[model.AccessToken]
	logger *logrus.Logger
}

func NewResponseListener(corr *correlation.Correlator[model.AccessToken], logger *logrus.Logger) *ResponseListener {
	return &ResponseListener{corr: corr, logger: obs.OrDiscard(logger)}
}

// Handle is a Handler for the response topic. Responses nobody waits for
// (duplicates, late arrivals) are logged and acknowledged.
func (l *ResponseListener) Handle(ctx context.Context, correlationID string, body []byte) error {
	var resp ReservationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	id := resp.CorrelationID
	if id == "" {
		id = correlationID
	}
	tok, err := resp.Result()
	if !l.corr.Resolve(id, tok, err) {
		l.logger.WithField("correlation_id", id).Warn("listener: no pending request for response")
	}
	return nil
}

// Run consumes topic until ctx is done.
func (l *ResponseListener) Run(ctx context.Context, sub Subscriber, topic string) error {
	if topic == "" {
		topic = DefaultResponseTopic
	}
	return sub.Subscribe(ctx, topic, l.Handle)
}
