package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/concert-seat-admission/internal/admission"
	"github.com/iliyamo/concert-seat-admission/internal/correlation"
	"github.com/iliyamo/concert-seat-admission/internal/middleware"
	"github.com/iliyamo/concert-seat-admission/internal/model"
	"github.com/iliyamo/concert-seat-admission/internal/queue"
	"github.com/iliyamo/concert-seat-admission/internal/repository/memstore"
	"github.com/iliyamo/concert-seat-admission/internal/token"
	"github.com/iliyamo/concert-seat-admission/internal/waitqueue"
)

type stubReserver struct {
	tok model.AccessToken
	err error
}

func (s stubReserver) Reserve(ctx context.Context, userID, seatDetailID uint64) (model.AccessToken, error) {
	return s.tok, s.err
}

type testServer struct {
	e      *echo.Echo
	issuer *token.Issuer
	seats  *memstore.SeatStore
}

func newTestServer(t *testing.T, async Reserver) testServer {
	t.Helper()
	seats := memstore.NewSeatStore()
	seats.AddSeat(model.Seat{ID: 1, ConcertID: 7, MaxCapacity: 2},
		model.SeatDetail{ID: 11},
		model.SeatDetail{ID: 12},
	)
	issuer := token.NewIssuer("handler-secret", time.Minute)
	svc := admission.NewService(seats, waitqueue.New(memstore.NewQueueStore(), 300*time.Second), issuer, admission.DefaultConfig())
	h := NewReservationHandler(svc, async, nil)

	e := echo.New()
	e.GET("/healthz", Health(nil))
	e.GET("/v1/concerts/:id/seats", h.ListSeats)
	e.POST("/v1/reservations", h.Reserve)
	e.POST("/v1/reservations/async", h.ReserveAsync)
	e.GET("/v1/queue/:id", h.QueueStatus)
	held := []echo.MiddlewareFunc{middleware.RequireAccessToken(issuer), middleware.RequireGranted()}
	e.POST("/v1/reservations/confirm", h.Confirm, held...)
	e.POST("/v1/reservations/release", h.Release, held...)
	e.POST("/v1/reservations/cancel", h.Cancel, held...)
	return testServer{e: e, issuer: issuer, seats: seats}
}

func (s testServer) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decodeToken(t *testing.T, rec *httptest.ResponseRecorder) model.AccessToken {
	t.Helper()
	var tok model.AccessToken
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	return tok
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestReserveGrantQueueAndStatus(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/v1/reservations", `{"user_id":1,"seat_detail_id":11}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	granted := decodeToken(t, rec)
	assert.Equal(t, 0, granted.QueuePosition)
	assert.NotEmpty(t, granted.Token)

	rec = s.do(http.MethodPost, "/v1/reservations", `{"seat_detail_id":11}`, map[string]string{middleware.HeaderUserID: "2"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	queued := decodeToken(t, rec)
	assert.Equal(t, uint64(2), queued.UserID)
	assert.Equal(t, 1, queued.QueuePosition)
	assert.Equal(t, int64(300), queued.RemainingWaitSeconds)
	require.NotZero(t, queued.WaitingID)

	rec = s.do(http.MethodPost, "/v1/reservations", `{"user_id":2,"seat_detail_id":11}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_queued", errorCode(t, rec))

	rec = s.do(http.MethodGet, "/v1/queue/"+jsonNumber(queued.WaitingID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st admission.QueueStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 1, st.Position)
	assert.Equal(t, int64(300), st.RemainingWaitSeconds)
}

func TestReserveValidation(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/v1/reservations", `{"seat_detail_id":11}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", errorCode(t, rec))

	rec = s.do(http.MethodPost, "/v1/reservations", `{"user_id":1,"seat_detail_id":999}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/v1/concerts/abc/seats", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/v1/concerts/8/seats", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSeats(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodPost, "/v1/reservations", `{"user_id":1,"seat_detail_id":11}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(http.MethodGet, "/v1/concerts/7/seats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		ConcertID uint64       `json:"concert_id"`
		Seats     []model.Seat `json:"seats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Seats, 1)
	require.Len(t, body.Seats[0].Details, 1)
	assert.Equal(t, uint64(12), body.Seats[0].Details[0].ID)
}

func TestHeldLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodPost, "/v1/reservations", `{"user_id":1,"seat_detail_id":11}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	bearer := map[string]string{echo.HeaderAuthorization: "Bearer " + decodeToken(t, rec).Token}

	rec = s.do(http.MethodPost, "/v1/reservations/confirm", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/v1/reservations/confirm", `{"seat_detail_id":12}`, bearer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/v1/reservations/confirm", "", bearer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	seat, err := s.seats.ReadSeat(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, seat.CurrentReserved)

	rec = s.do(http.MethodPost, "/v1/reservations/release", "", bearer)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", errorCode(t, rec))

	rec = s.do(http.MethodPost, "/v1/reservations/cancel", `{"seat_detail_id":11}`, bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	var d model.SeatDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, model.SeatCancelled, d.Status)
}

func TestStaleTokenCannotTouchNewHold(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/v1/reservations", `{"user_id":1,"seat_detail_id":11}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	first := map[string]string{echo.HeaderAuthorization: "Bearer " + decodeToken(t, rec).Token}

	rec = s.do(http.MethodPost, "/v1/reservations/release", "", first)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/v1/reservations", `{"user_id":2,"seat_detail_id":11}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	second := map[string]string{echo.HeaderAuthorization: "Bearer " + decodeToken(t, rec).Token}

	for _, path := range []string{"/v1/reservations/confirm", "/v1/reservations/release"} {
		rec = s.do(http.MethodPost, path, "", first)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
		assert.Equal(t, "not_holder", errorCode(t, rec), path)
	}

	d, err := s.seats.ReadSeatDetail(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, model.SeatPending, d.Status)
	assert.Equal(t, uint64(2), d.HeldBy)

	rec = s.do(http.MethodPost, "/v1/reservations/confirm", "", second)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestQueuedTokenCannotConfirm(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(http.MethodPost, "/v1/reservations", `{"user_id":1,"seat_detail_id":11}`, nil)
	rec := s.do(http.MethodPost, "/v1/reservations", `{"user_id":2,"seat_detail_id":11}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = s.do(http.MethodPost, "/v1/reservations/confirm", "", map[string]string{
		echo.HeaderAuthorization: "Bearer " + decodeToken(t, rec).Token,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReserveAsync(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodPost, "/v1/reservations/async", `{"user_id":1,"seat_detail_id":11}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s = newTestServer(t, stubReserver{tok: model.AccessToken{UserID: 1, SeatDetailID: 11, WaitingID: 3, QueuePosition: 2}})
	rec = s.do(http.MethodPost, "/v1/reservations/async", `{"user_id":1,"seat_detail_id":11}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 2, decodeToken(t, rec).QueuePosition)

	s = newTestServer(t, stubReserver{err: correlation.ErrTimeout})
	rec = s.do(http.MethodPost, "/v1/reservations/async", `{"user_id":1,"seat_detail_id":11}`, nil)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{admission.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
		{admission.ErrNotFound, http.StatusNotFound, "not_found"},
		{admission.ErrAlreadyQueued, http.StatusConflict, "already_queued"},
		{admission.ErrNotHolder, http.StatusForbidden, "not_holder"},
		{admission.ErrCapacityExceeded, http.StatusConflict, "capacity_exceeded"},
		{&admission.ConflictExhaustedError{Attempts: 3}, http.StatusServiceUnavailable, "conflict_exhausted"},
		{correlation.ErrTimeout, http.StatusGatewayTimeout, "timeout"},
		{queue.ErrPublish, http.StatusBadGateway, "broker_error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, code := errorStatus(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func jsonNumber(n uint64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
