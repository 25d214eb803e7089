package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"stay_sync/internal/domain"
)

type QuoteStatus string

const (
	QuoteAvailable        QuoteStatus = "available"
	QuoteUnavailable      QuoteStatus = "unavailable"
	QuoteInsufficientData QuoteStatus = "insufficient_data"
)

type DayPrice struct {
	Date        time.Time       `json:"date"`
	Price       decimal.Decimal `json:"price"`
	IsAvailable bool            `json:"isAvailable"`
}

// Quote is a priced stay for one unit. Totals are exact; callers round for display.
// DailyBreakdown is empty when Status is QuoteInsufficientData.
type Quote struct {
	UnitID         int64           `json:"unitId"`
	CheckIn        time.Time       `json:"checkIn"`
	CheckOut       time.Time       `json:"checkOut"`
	Status         QuoteStatus     `json:"status"`
	Nights         int             `json:"nights"`
	CachedDays     int             `json:"cachedDays"`
	TotalPrice     decimal.Decimal `json:"totalPrice"`
	PricePerNight  decimal.Decimal `json:"pricePerNight"`
	DailyBreakdown []DayPrice      `json:"dailyBreakdown,omitempty"`
}

func (q Quote) Available() bool { return q.Status == QuoteAvailable }

// Err is domain.ErrInsufficientCacheData when the cache cannot answer, else nil.
func (q Quote) Err() error {
	if q.Status == QuoteInsufficientData {
		return domain.ErrInsufficientCacheData
	}
	return nil
}

type SearchResult struct {
	Unit          domain.Unit
	Nights        int
	TotalPrice    decimal.Decimal
	PricePerNight decimal.Decimal
}

// QueryService answers search and quote from the local cache only; it never
// calls upstream.
type QueryService struct {
	store    domain.AvailabilityStore
	units    domain.UnitDirectory
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewQueryService(store domain.AvailabilityStore, units domain.UnitDirectory, c domain.Cache, ttl time.Duration) *QueryService {
	return &QueryService{store: store, units: units, cache: c, cacheTTL: ttl}
}

// Search returns active units matching f that are available and fully
// priced for every night in [from, to), cheapest first.
func (s *QueryService) Search(ctx context.Context, from, to time.Time, f domain.UnitFilter) ([]SearchResult, error) {
	from, to, nights, err := domain.StayRange(from, to)
	if err != nil {
		return nil, err
	}
	units, err := s.units.ListUnits(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	if len(units) == 0 {
		return []SearchResult{}, nil
	}
	ids := make([]int64, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	byUnit, err := s.store.ListDaysForUnits(ctx, ids, from, to)
	if err != nil {
		return nil, fmt.Errorf("read cached days: %w", err)
	}

	out := make([]SearchResult, 0, len(units))
	for _, u := range units {
		q := buildQuote(u.ID, from, to, nights, byUnit[u.ID])
		if err := q.Err(); err != nil {
			log.Debug().Int64("unit", u.ID).Int("cached", q.CachedDays).Int("nights", nights).Err(err).Msg("unit left out of search")
			continue
		}
		if !q.Available() {
			continue
		}
		out = append(out, SearchResult{Unit: u, Nights: nights, TotalPrice: q.TotalPrice, PricePerNight: q.PricePerNight})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].TotalPrice.Cmp(out[j].TotalPrice); c != 0 {
			return c < 0
		}
		return out[i].Unit.ID < out[j].Unit.ID
	})
	return out, nil
}

// Quote prices one unit for [from, to). Missing cache days give
// QuoteInsufficientData rather than an error.
func (s *QueryService) Quote(ctx context.Context, unitID int64, from, to time.Time) (Quote, error) {
	from, to, nights, err := domain.StayRange(from, to)
	if err != nil {
		return Quote{}, err
	}
	u, err := s.units.GetUnit(ctx, unitID)
	if err != nil {
		return Quote{}, err
	}
	if !u.IsActive {
		return Quote{}, domain.ErrNotFound
	}

	key := ""
	if s.cache != nil {
		if gen, err := s.cache.GetInt(ctx, quoteGenKey(unitID)); err == nil {
			key = fmt.Sprintf("quote:%d:g%d:%s:%s", unitID, gen, domain.FormatDate(from), domain.FormatDate(to))
			var q Quote
			ok, err := s.cache.Get(ctx, key, &q)
			if ok && err == nil {
				return q, nil
			}
			if err != nil {
				log.Warn().Int64("unit", unitID).Str("key", key).Err(err).Msg("quote cache read failed; using store")
			}
		}
	}

	days, err := s.store.ListDays(ctx, unitID, from, to)
	if err != nil {
		return Quote{}, fmt.Errorf("read cached days: %w", err)
	}
	q := buildQuote(unitID, from, to, nights, days)
	if key != "" {
		_ = s.cache.Set(ctx, key, q, int(s.cacheTTL.Seconds()))
	}
	return q, nil
}

func buildQuote(unitID int64, from, to time.Time, nights int, days []domain.DailyAvailabilityRecord) Quote {
	q := Quote{UnitID: unitID, CheckIn: from, CheckOut: to, Nights: nights, CachedDays: len(days)}
	if len(days) != nights {
		q.Status = QuoteInsufficientData
		return q
	}

	q.Status = QuoteAvailable
	total := decimal.Zero
	q.DailyBreakdown = make([]DayPrice, 0, len(days))
	for _, d := range days {
		if !d.IsAvailable {
			q.Status = QuoteUnavailable
		}
		total = total.Add(d.PricePerNight)
		q.DailyBreakdown = append(q.DailyBreakdown, DayPrice{Date: d.Date, Price: d.PricePerNight, IsAvailable: d.IsAvailable})
	}
	q.TotalPrice = total
	q.PricePerNight = total.Div(decimal.NewFromInt(int64(nights)))
	return q
}

func quoteGenKey(unitID int64) string { return fmt.Sprintf("quote:%d:gen", unitID) }

// bumpQuoteGeneration retires every cached quote for the unit.
func bumpQuoteGeneration(ctx context.Context, c domain.Cache, unitID int64) {
	if c == nil {
		return
	}
	if _, err := c.Incr(ctx, quoteGenKey(unitID)); err != nil {
		log.Warn().Int64("unit", unitID).Err(err).Msg("quote cache generation not bumped")
	}
}
