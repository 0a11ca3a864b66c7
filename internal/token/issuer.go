// Package token mints and verifies the access tokens handed out by the
// admission engine. A token is an HS256 JWT whose claims carry the
// admission decision: user, seat detail, queue entry, queue position and
// remaining wait. Tokens are values; nothing is stored server side.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iliyamo/concert-seat-admission/internal/model"
)

// DefaultTTL is the validity window used when none is configured.
const DefaultTTL = 10 * time.Minute

// ErrInvalidToken is returned by Parse for tokens that are malformed,
// expired or signed with another secret.
var ErrInvalidToken = errors.New("invalid access token")

// Claims is the JWT payload of an access token.
type Claims struct {
	SeatDetailID         uint64 `json:"sdi"`
	WaitingID            uint64 `json:"wid,omitempty"`
	QueuePosition        int    `json:"pos"`
	RemainingWaitSeconds int64  `json:"wait"`
	jwt.RegisteredClaims
}

// Issuer signs access tokens with a shared secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer. A non-positive ttl falls back to DefaultTTL.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock returns a copy of the issuer that reads time from now.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	cp := *i
	cp.now = now
	return &cp
}

// TTL returns the validity window of issued tokens.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue mints a new token. Every call yields a distinct token string
// because each carries a fresh random jti.
func (i *Issuer) Issue(userID, seatDetailID, waitingID uint64, queuePosition int, remainingWaitSeconds int64) (model.AccessToken, error) {
	// JWT NumericDate has second precision; keep the returned times equal
	// to what Parse will read back.
	issuedAt := i.now().UTC().Truncate(time.Second)
	exp := issuedAt.Add(i.ttl)
	claims := Claims{
		SeatDetailID:         seatDetailID,
		WaitingID:            waitingID,
		QueuePosition:        queuePosition,
		RemainingWaitSeconds: remainingWaitSeconds,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return model.AccessToken{}, fmt.Errorf("sign access token: %w", err)
	}
	return model.AccessToken{
		Token:                signed,
		UserID:               userID,
		SeatDetailID:         seatDetailID,
		WaitingID:            waitingID,
		QueuePosition:        queuePosition,
		RemainingWaitSeconds: remainingWaitSeconds,
		IssuedAt:             issuedAt,
		ExpiresAt:            exp,
	}, nil
}

// Parse verifies a token string and returns the decision it carries.
func (i *Issuer) Parse(raw string) (model.AccessToken, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return model.AccessToken{}, errors.Join(ErrInvalidToken, err)
	}
	var userID uint64
	if _, err := fmt.Sscanf(claims.Subject, "%d", &userID); err != nil {
		return model.AccessToken{}, errors.Join(ErrInvalidToken, err)
	}
	at := model.AccessToken{
		Token:                raw,
		UserID:               userID,
		SeatDetailID:         claims.SeatDetailID,
		WaitingID:            claims.WaitingID,
		QueuePosition:        claims.QueuePosition,
		RemainingWaitSeconds: claims.RemainingWaitSeconds,
	}
	if claims.IssuedAt != nil {
		at.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		at.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return at, nil
}
