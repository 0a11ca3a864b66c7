package model

import "time"

// SeatStatus is the reservation state of a single seat detail.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatPending   SeatStatus = "PENDING"
	SeatReserved  SeatStatus = "RESERVED"
	SeatCancelled SeatStatus = "CANCELLED"
)

// Valid reports whether s is one of the known statuses.
func (s SeatStatus) Valid() bool {
	switch s {
	case SeatAvailable, SeatPending, SeatReserved, SeatCancelled:
		return true
	}
	return false
}

// SeatDetail is the reservable unit under a Seat.  Version is bumped on
// every committed status change and is the optimistic locking guard:
// writers condition their update on the version they read.
//
// Fields:
//
//	ID        – primary key identifier.
//	SeatID    – parent seat.
//	Status    – AVAILABLE, PENDING, RESERVED or CANCELLED.
//	Version   – monotonically increasing row version.
//	HeldBy    – user holding the detail while PENDING or RESERVED, 0 when free.
//	UpdatedAt – last update timestamp.
type SeatDetail struct {
	ID        uint64     `json:"seat_detail_id"`    // seat_details.id
	SeatID    uint64     `json:"seat_id"`           // seat_details.seat_id
	Status    SeatStatus `json:"status"`            // seat_details.status
	Version   int64      `json:"version"`           // seat_details.version
	HeldBy    uint64     `json:"held_by,omitempty"` // seat_details.held_by
	UpdatedAt time.Time  `json:"-"`                 // seat_details.updated_at
}

// IsAvailable reports whether the detail can be granted directly.
func (d SeatDetail) IsAvailable() bool {
	return d.Status == SeatAvailable
}
