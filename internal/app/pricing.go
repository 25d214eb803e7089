package app

import (
	"time"

	"github.com/shopspring/decimal"

	"stay_sync/internal/domain"
)

// PriceForDate returns the nightly rate for date. Seasons are tried in the
// order given and the first one covering date wins; both season bounds are
// inclusive. When nothing covers date the lowest season price is returned
// with matched=false. No seasons at all yields zero and matched=false.
func PriceForDate(seasons []domain.SeasonPriceInterval, date time.Time) (price decimal.Decimal, matched bool) {
	d := domain.DateOf(date)
	for _, s := range seasons {
		if !d.Before(domain.DateOf(s.DateFrom)) && !d.After(domain.DateOf(s.DateTo)) {
			return s.Price, true
		}
	}
	if len(seasons) == 0 {
		return decimal.Zero, false
	}
	lowest := seasons[0].Price
	for _, s := range seasons[1:] {
		if s.Price.LessThan(lowest) {
			lowest = s.Price
		}
	}
	return lowest, false
}
