package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"stay_sync/internal/adapters/observability"
	"stay_sync/internal/domain"
)

// Invalidator keeps the cache honest between sync passes by flipping
// availability when reservations are confirmed or cancelled.
type Invalidator struct {
	store        domain.AvailabilityStore
	units        domain.UnitDirectory
	reservations domain.ReservationLedger
	cache        domain.Cache
}

func NewInvalidator(store domain.AvailabilityStore, units domain.UnitDirectory, res domain.ReservationLedger, cache domain.Cache) *Invalidator {
	return &Invalidator{store: store, units: units, reservations: res, cache: cache}
}

// MarkUnavailable sets is_available=false for every cached day of unitID in
// [from, to). Days not cached yet are left for the next sync pass.
func (v *Invalidator) MarkUnavailable(ctx context.Context, unitID int64, from, to time.Time) error {
	return v.set(ctx, unitID, from, to, false)
}

// MarkAvailable is the inverse of MarkUnavailable on is_available only.
func (v *Invalidator) MarkAvailable(ctx context.Context, unitID int64, from, to time.Time) error {
	return v.set(ctx, unitID, from, to, true)
}

func (v *Invalidator) set(ctx context.Context, unitID int64, from, to time.Time, available bool) error {
	from, to, _, err := domain.StayRange(from, to)
	if err != nil {
		return err
	}
	kind := "unavailable"
	if available {
		kind = "available"
	}

	n, err := v.store.SetAvailability(ctx, unitID, from, to, available)
	if err != nil {
		log.Warn().Int64("unit", unitID).Str("from", domain.FormatDate(from)).Str("to", domain.FormatDate(to)).
			Str("kind", kind).Err(err).Msg("cache invalidation failed")
		return fmt.Errorf("mark %s unit %d: %w", kind, unitID, err)
	}
	observability.ObserveInvalidation(kind)
	bumpQuoteGeneration(ctx, v.cache, unitID)
	log.Debug().Int64("unit", unitID).Str("from", domain.FormatDate(from)).Str("to", domain.FormatDate(to)).
		Str("kind", kind).Int64("rows", n).Msg("cache invalidated")
	return nil
}

// ApplyEvent resolves an upstream reservation event to a unit and range and
// updates the cache. Unknown units or reservations return domain.ErrNotFound.
func (v *Invalidator) ApplyEvent(ctx context.Context, ev domain.ReservationEvent) error {
	switch ev.Kind {
	case domain.ReservationConfirmed:
		unitID := ev.UnitID
		if unitID == 0 {
			u, err := v.units.FindByUpstreamID(ctx, ev.UpstreamPropertyID)
			if err != nil {
				log.Warn().Str("property", ev.UpstreamPropertyID).Str("reservation", ev.ReservationID).Err(err).
					Msg("reservation for unknown unit")
				return fmt.Errorf("property %s: %w", ev.UpstreamPropertyID, err)
			}
			unitID = u.ID
		}
		if v.reservations != nil && ev.ReservationID != "" {
			rr := domain.ReservationRange{ReservationID: ev.ReservationID, UnitID: unitID, DateFrom: ev.DateFrom, DateTo: ev.DateTo}
			if err := v.reservations.PutReservation(ctx, rr); err != nil {
				log.Warn().Str("reservation", ev.ReservationID).Err(err).Msg("reservation range not recorded")
			}
		}
		return v.MarkUnavailable(ctx, unitID, ev.DateFrom, ev.DateTo)

	case domain.ReservationCancelled:
		unitID, from, to := ev.UnitID, ev.DateFrom, ev.DateTo
		if unitID == 0 || from.IsZero() || to.IsZero() {
			if v.reservations == nil {
				return fmt.Errorf("reservation %s: %w", ev.ReservationID, domain.ErrNotFound)
			}
			rr, err := v.reservations.GetReservation(ctx, ev.ReservationID)
			if err != nil {
				log.Warn().Str("reservation", ev.ReservationID).Err(err).Msg("cancellation for unknown reservation")
				return fmt.Errorf("reservation %s: %w", ev.ReservationID, err)
			}
			unitID, from, to = rr.UnitID, rr.DateFrom, rr.DateTo
		}
		if err := v.MarkAvailable(ctx, unitID, from, to); err != nil {
			return err
		}
		if v.reservations != nil && ev.ReservationID != "" {
			if err := v.reservations.MarkCancelled(ctx, ev.ReservationID); err != nil {
				log.Warn().Str("reservation", ev.ReservationID).Err(err).Msg("reservation not marked cancelled")
			}
		}
		return nil

	default:
		return fmt.Errorf("event kind %q: %w", ev.Kind, domain.ErrIgnoredEvent)
	}
}
