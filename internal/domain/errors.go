package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidRange          = errors.New("check-out must be after check-in")
	ErrUpstreamUnavailable   = errors.New("upstream unavailable")
	ErrUpstreamDataMissing   = errors.New("upstream data missing")
	ErrNoPricingConfigured   = errors.New("no pricing configured upstream")
	ErrInsufficientCacheData = errors.New("insufficient cache data")
	ErrSyncInProgress        = errors.New("sync pass already in progress")
	ErrIgnoredEvent          = errors.New("reservation event ignored")
	ErrUnauthorized          = errors.New("unauthorized")
)

// SyncStage names the step of a unit sync that failed.
type SyncStage string

const (
	StageAvailability SyncStage = "availability"
	StagePrices       SyncStage = "prices"
	StageUpsert       SyncStage = "upsert"
)

// UnitSyncError carries enough context to retry one unit by hand.
type UnitSyncError struct {
	UnitID     int64
	PropertyID string
	Stage      SyncStage
	Err        error
}

func (e *UnitSyncError) Error() string {
	return fmt.Sprintf("sync unit %d (property %s) %s: %v", e.UnitID, e.PropertyID, e.Stage, e.Err)
}

func (e *UnitSyncError) Unwrap() error { return e.Err }
