package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	iss := NewIssuer("secret", 5*time.Minute).WithClock(func() time.Time { return now })

	tok, err := iss.Issue(10, 1001, 7, 2, 600)
	require.NoError(t, err)
	assert.Equal(t, now.Truncate(time.Second), tok.IssuedAt)
	assert.Equal(t, tok.IssuedAt.Add(5*time.Minute), tok.ExpiresAt)
	assert.False(t, tok.Granted())

	got, err := iss.Parse(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.UserID)
	assert.Equal(t, uint64(1001), got.SeatDetailID)
	assert.Equal(t, uint64(7), got.WaitingID)
	assert.Equal(t, 2, got.QueuePosition)
	assert.Equal(t, int64(600), got.RemainingWaitSeconds)
	assert.True(t, tok.IssuedAt.Equal(got.IssuedAt))
	assert.True(t, tok.ExpiresAt.Equal(got.ExpiresAt))
}

func TestIssueIsUnique(t *testing.T) {
	iss := NewIssuer("secret", 0)
	assert.Equal(t, DefaultTTL, iss.TTL())

	a, err := iss.Issue(10, 1001, 0, 0, 0)
	require.NoError(t, err)
	b, err := iss.Issue(10, 1001, 0, 0, 0)
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)
	assert.True(t, a.Granted())
}

func TestParseRejects(t *testing.T) {
	now := time.Now()
	iss := NewIssuer("secret", time.Minute).WithClock(func() time.Time { return now })
	tok, err := iss.Issue(10, 1001, 0, 0, 0)
	require.NoError(t, err)

	_, err = NewIssuer("other", time.Minute).Parse(tok.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	later := iss.WithClock(func() time.Time { return now.Add(2 * time.Minute) })
	_, err = later.Parse(tok.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = iss.Parse("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
