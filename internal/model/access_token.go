package model

import "time"

// AccessToken is the result of an admission decision.  It is a value:
// it is minted fresh for every decision and never stored.
// QueuePosition 0 means the seat detail was granted immediately and
// WaitingID is 0; otherwise WaitingID references the queue entry.
type AccessToken struct {
	Token                string    `json:"token"`
	UserID               uint64    `json:"user_id"`
	SeatDetailID         uint64    `json:"seat_detail_id"`
	WaitingID            uint64    `json:"waiting_id,omitempty"`
	QueuePosition        int       `json:"queue_position"`
	RemainingWaitSeconds int64     `json:"remaining_wait_seconds"`
	IssuedAt             time.Time `json:"issued_at"`
	ExpiresAt            time.Time `json:"expires_at"`
}

// Granted reports whether the token admits the holder immediately.
func (t AccessToken) Granted() bool {
	return t.QueuePosition == 0
}
