package model

import "time"

// Seat is a seat block of a concert schedule.  A seat owns one or more
// seat details (the individually reservable units) and keeps an
// aggregate counter of how many of them are reserved.
//
// Fields:
//
//	ID              – primary key identifier.
//	ConcertID       – concert schedule to which this seat belongs.
//	MaxCapacity     – number of seat details that may be reserved.
//	CurrentReserved – number of seat details currently RESERVED.
//	Details         – available seat details (filled by listings only).
//	CreatedAt       – creation timestamp.
//	UpdatedAt       – last update timestamp.
type Seat struct {
	ID              uint64       `json:"seat_id"`          // seats.id
	ConcertID       uint64       `json:"concert_id"`       // seats.concert_id
	MaxCapacity     int          `json:"max_capacity"`     // seats.max_capacity
	CurrentReserved int          `json:"current_reserved"` // seats.current_reserved
	Details         []SeatDetail `json:"seat_details,omitempty"`
	CreatedAt       time.Time    `json:"-"` // seats.created_at
	UpdatedAt       time.Time    `json:"-"` // seats.updated_at
}

// HasCapacity reports whether one more detail may move into RESERVED.
func (s Seat) HasCapacity() bool {
	return s.CurrentReserved < s.MaxCapacity
}
