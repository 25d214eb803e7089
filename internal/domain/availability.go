package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// WindowDays is how far past today a sync pass looks. The window includes
	// both ends, so one pass covers WindowDays+1 calendar days.
	WindowDays = 180
	// RetentionDays is how long past records are kept before cleanup.
	RetentionDays = 180
)

// WindowDayCount is the number of days one unit contributes to full coverage.
const WindowDayCount = WindowDays + 1

// DailyAvailabilityRecord is one cached (unit, date) row.
type DailyAvailabilityRecord struct {
	UnitID        int64
	RUPropertyID  string
	Date          time.Time // midnight UTC
	IsAvailable   bool
	PricePerNight decimal.Decimal
	LastSynced    time.Time
}

// AvailabilityDay is one day of an upstream availability calendar.
type AvailabilityDay struct {
	Date        time.Time
	IsAvailable bool
}

// SeasonPriceInterval is a nightly rate that applies to every date in
// [DateFrom, DateTo], both ends inclusive.
type SeasonPriceInterval struct {
	DateFrom time.Time
	DateTo   time.Time
	Price    decimal.Decimal
}

// SyncRunResult aggregates one pass over all eligible units.
type SyncRunResult struct {
	RunID        string
	StartedAt    time.Time
	SuccessCount int
	SkippedCount int
	ErrorCount   int
	Duration     time.Duration
}

type SyncHealth string

const (
	HealthHealthy  SyncHealth = "healthy"
	HealthPartial  SyncHealth = "partial"
	HealthCritical SyncHealth = "critical"
)

// SyncStatus is the operator view of cache coverage.
type SyncStatus struct {
	TotalRecords    int64
	ActiveUnits     int64
	ExpectedRecords int64
	CoveragePercent float64
	LastSyncedAt    *time.Time
	Health          SyncHealth
}

// HealthFor maps a coverage percentage onto a health bucket.
func HealthFor(coverage float64) SyncHealth {
	switch {
	case coverage >= 90:
		return HealthHealthy
	case coverage >= 50:
		return HealthPartial
	default:
		return HealthCritical
	}
}
