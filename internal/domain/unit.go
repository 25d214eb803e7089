package domain

import "time"

// Unit is a bookable rental as listed by the unit directory.
type Unit struct {
	ID                 int64
	UpstreamPropertyID string
	BuildingID         string
	Name               string
	RoomType           string
	IsActive           bool
}

// Syncable reports whether the unit takes part in sync passes.
func (u Unit) Syncable() bool { return u.IsActive && u.UpstreamPropertyID != "" }

type UnitFilter struct {
	BuildingID string
	RoomType   string
}

type ReservationEventKind string

const (
	ReservationConfirmed ReservationEventKind = "confirmed"
	ReservationCancelled ReservationEventKind = "cancelled"
)

// ReservationEvent is a booking lifecycle change. Local events carry UnitID;
// upstream webhooks carry UpstreamPropertyID (confirmations) or only
// ReservationID (cancellations).
type ReservationEvent struct {
	Kind               ReservationEventKind
	ReservationID      string
	UnitID             int64
	UpstreamPropertyID string
	DateFrom           time.Time
	DateTo             time.Time
}

// ReservationRange remembers which dates an upstream reservation holds so a
// later cancellation can be mapped back to them.
type ReservationRange struct {
	ReservationID string
	UnitID        int64
	DateFrom      time.Time
	DateTo        time.Time
	Cancelled     bool
}

// ReservationRequest is pushed upstream when a booking is confirmed locally.
type ReservationRequest struct {
	PropertyID      string
	DateFrom        time.Time
	DateTo          time.Time
	NumberOfGuests  int
	RUPrice         string
	ClientPrice     string
	AlreadyPaid     string
	CustomerName    string
	CustomerSurname string
	CustomerEmail   string
	CustomerPhone   string
	Comments        string
}
