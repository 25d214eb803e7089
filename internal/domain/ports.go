package domain

import (
	"context"
	"time"
)

type AvailabilityStore interface {
	// Write paths
	UpsertDays(ctx context.Context, recs []DailyAvailabilityRecord) (int64, error)
	SetAvailability(ctx context.Context, unitID int64, from, to time.Time, available bool) (int64, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Read paths
	ListDays(ctx context.Context, unitID int64, from, to time.Time) ([]DailyAvailabilityRecord, error)
	ListDaysForUnits(ctx context.Context, unitIDs []int64, from, to time.Time) (map[int64][]DailyAvailabilityRecord, error)
	CountRecords(ctx context.Context) (int64, error)
	LastSyncedAt(ctx context.Context) (*time.Time, error)
}

type UnitDirectory interface {
	ListSyncUnits(ctx context.Context) ([]Unit, error)
	CountSyncUnits(ctx context.Context) (int64, error)
	ListUnits(ctx context.Context, f UnitFilter) ([]Unit, error)
	GetUnit(ctx context.Context, id int64) (Unit, error)
	FindByUpstreamID(ctx context.Context, propertyID string) (Unit, error)
}

type ReservationLedger interface {
	PutReservation(ctx context.Context, r ReservationRange) error
	GetReservation(ctx context.Context, reservationID string) (ReservationRange, error)
	MarkCancelled(ctx context.Context, reservationID string) error
}

type SyncLog interface {
	LogSyncRun(ctx context.Context, r SyncRunResult) error
}

type UpstreamClient interface {
	FetchAvailabilityCalendar(ctx context.Context, propertyID string, from, to time.Time) ([]AvailabilityDay, error)
	FetchSeasonalPrices(ctx context.Context, propertyID string, from, to time.Time) ([]SeasonPriceInterval, error)
	PushReservation(ctx context.Context, r ReservationRequest) (string, error)
	CancelReservation(ctx context.Context, reservationID string, cancelTypeID int) error
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Incr(ctx context.Context, key string) (int64, error)
	GetInt(ctx context.Context, key string) (int64, error)
}

// PassLock guards full sync passes across processes.
type PassLock interface {
	TryLock(ctx context.Context, ttl time.Duration) (release func(), ok bool, err error)
}
