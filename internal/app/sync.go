package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"stay_sync/internal/adapters/observability"
	"stay_sync/internal/domain"
)

type UnitOutcome string

const (
	OutcomeSynced  UnitOutcome = "synced"
	OutcomeSkipped UnitOutcome = "skipped"
	OutcomeError   UnitOutcome = "error"
)

type SyncOptions struct {
	Workers   int
	UnitDelay time.Duration
	// Location decides which calendar day "today" is. Defaults to time.Local.
	Location *time.Location
	LockTTL  time.Duration
	Now      func() time.Time
}

// SyncService refreshes the daily availability cache from upstream.
// runs, cache and lock are optional.
type SyncService struct {
	upstream domain.UpstreamClient
	store    domain.AvailabilityStore
	units    domain.UnitDirectory
	runs     domain.SyncLog
	cache    domain.Cache
	lock     domain.PassLock
	opts     SyncOptions

	unitLocks keyedMutex
	inFlight  atomic.Bool
}

func NewSyncService(
	up domain.UpstreamClient,
	store domain.AvailabilityStore,
	units domain.UnitDirectory,
	runs domain.SyncLog,
	cache domain.Cache,
	lock domain.PassLock,
	opts SyncOptions,
) *SyncService {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SyncService{upstream: up, store: store, units: units, runs: runs, cache: cache, lock: lock, opts: opts}
}

// Today is the current calendar day in the configured location, as midnight UTC.
func (s *SyncService) Today() time.Time {
	return domain.DateOf(s.opts.Now().In(s.opts.Location))
}

// Window returns the inclusive sync window [today, today+WindowDays].
func (s *SyncService) Window() (time.Time, time.Time) {
	from := s.Today()
	return from, from.AddDate(0, 0, domain.WindowDays)
}

// SyncUnit refreshes one unit. A unit without pricing upstream is skipped
// without error; a failed upstream call or write returns a *domain.UnitSyncError.
func (s *SyncService) SyncUnit(ctx context.Context, u domain.Unit) (UnitOutcome, error) {
	outcome, _, err := s.syncUnit(ctx, u)
	observability.ObserveUnitSync(string(outcome))
	return outcome, err
}

func (s *SyncService) syncUnit(ctx context.Context, u domain.Unit) (UnitOutcome, int64, error) {
	if !u.Syncable() {
		return OutcomeSkipped, 0, nil
	}
	unlock := s.unitLocks.Lock(u.ID)
	defer unlock()

	pid := u.UpstreamPropertyID
	from, to := s.Window()

	var (
		days    []domain.AvailabilityDay
		seasons []domain.SeasonPriceInterval
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := s.upstream.FetchAvailabilityCalendar(gctx, pid, from, to)
		if err != nil {
			return &domain.UnitSyncError{UnitID: u.ID, PropertyID: pid, Stage: domain.StageAvailability, Err: err}
		}
		days = d
		return nil
	})
	g.Go(func() error {
		p, err := s.upstream.FetchSeasonalPrices(gctx, pid, from, to)
		if err != nil {
			return &domain.UnitSyncError{UnitID: u.ID, PropertyID: pid, Stage: domain.StagePrices, Err: err}
		}
		seasons = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return OutcomeError, 0, err
	}

	if len(seasons) == 0 {
		log.Info().Int64("unit", u.ID).Str("property", pid).Err(domain.ErrNoPricingConfigured).Msg("unit skipped")
		return OutcomeSkipped, 0, nil
	}

	synced := s.opts.Now().UTC()
	recs := make([]domain.DailyAvailabilityRecord, 0, len(days))
	for _, d := range days {
		price, matched := PriceForDate(seasons, d.Date)
		if !matched {
			observability.PriceFallbacks.Inc()
			log.Warn().Int64("unit", u.ID).Str("property", pid).
				Str("date", domain.FormatDate(d.Date)).Str("price", price.StringFixed(2)).
				Msg("no season covers date; using lowest season price")
		}
		recs = append(recs, domain.DailyAvailabilityRecord{
			UnitID:        u.ID,
			RUPropertyID:  pid,
			Date:          domain.DateOf(d.Date),
			IsAvailable:   d.IsAvailable,
			PricePerNight: price,
			LastSynced:    synced,
		})
	}

	n, err := s.store.UpsertDays(ctx, recs)
	if err != nil {
		return OutcomeError, n, &domain.UnitSyncError{UnitID: u.ID, PropertyID: pid, Stage: domain.StageUpsert, Err: err}
	}
	bumpQuoteGeneration(ctx, s.cache, u.ID)
	return OutcomeSynced, n, nil
}

type unitResult struct {
	outcome UnitOutcome
	records int64
}

// SyncAllUnits runs one pass over every syncable unit. Per-unit failures are
// logged and counted; only a failure to list units or an overlapping pass
// is returned as an error.
func (s *SyncService) SyncAllUnits(ctx context.Context) (domain.SyncRunResult, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return domain.SyncRunResult{}, domain.ErrSyncInProgress
	}
	defer s.inFlight.Store(false)

	if s.lock != nil {
		release, ok, err := s.lock.TryLock(ctx, s.opts.LockTTL)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("pass lock unavailable; relying on local guard")
		case !ok:
			return domain.SyncRunResult{}, domain.ErrSyncInProgress
		default:
			defer release()
		}
	}

	start := s.opts.Now()
	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Logger()

	units, err := s.units.ListSyncUnits(ctx)
	if err != nil {
		return domain.SyncRunResult{}, fmt.Errorf("list sync units: %w", err)
	}
	logger.Info().Int("units", len(units)).Int("workers", s.opts.Workers).Msg("sync pass starting")

	results := make([]unitResult, len(units))
	sem := semaphore.NewWeighted(int64(s.opts.Workers))
	var wg sync.WaitGroup

	for i, u := range units {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(units); j++ {
				results[j] = unitResult{outcome: OutcomeError}
			}
			logger.Warn().Err(err).Int("remaining", len(units)-i).Msg("sync pass cancelled")
			break
		}
		wg.Add(1)
		go func(i int, u domain.Unit) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = s.runUnit(ctx, logger, u)
			s.pause(ctx)
		}(i, u)
	}
	wg.Wait()

	res := foldOutcomes(results)
	res.RunID = runID
	res.StartedAt = start.UTC()
	res.Duration = s.opts.Now().Sub(start)

	var upserted int64
	for _, r := range results {
		upserted += r.records
	}
	observability.ObservePass(res.Duration, upserted)

	if s.runs != nil {
		if err := s.runs.LogSyncRun(ctx, res); err != nil {
			logger.Warn().Err(err).Msg("sync run log write failed")
		}
	}
	logger.Info().
		Int("success", res.SuccessCount).
		Int("skipped", res.SkippedCount).
		Int("errors", res.ErrorCount).
		Int64("records", upserted).
		Dur("duration", res.Duration).
		Msg("sync pass complete")
	return res, nil
}

func (s *SyncService) runUnit(ctx context.Context, logger zerolog.Logger, u domain.Unit) unitResult {
	outcome, n, err := s.syncUnit(ctx, u)
	observability.ObserveUnitSync(string(outcome))
	if err != nil {
		ev := logger.Warn().Int64("unit", u.ID).Str("property", u.UpstreamPropertyID).Err(err)
		var use *domain.UnitSyncError
		if errors.As(err, &use) {
			ev = ev.Str("stage", string(use.Stage))
		}
		ev.Msg("unit sync failed")
	}
	return unitResult{outcome: outcome, records: n}
}

func (s *SyncService) pause(ctx context.Context) {
	if s.opts.UnitDelay <= 0 {
		return
	}
	t := time.NewTimer(s.opts.UnitDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func foldOutcomes(results []unitResult) domain.SyncRunResult {
	var res domain.SyncRunResult
	for _, r := range results {
		switch r.outcome {
		case OutcomeSynced:
			res.SuccessCount++
		case OutcomeSkipped:
			res.SkippedCount++
		default:
			res.ErrorCount++
		}
	}
	return res
}

// CleanupOldData deletes records dated more than RetentionDays before today.
func (s *SyncService) CleanupOldData(ctx context.Context) (int64, error) {
	cutoff := s.Today().AddDate(0, 0, -domain.RetentionDays)
	n, err := s.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup before %s: %w", domain.FormatDate(cutoff), err)
	}
	observability.CleanupDeleted.Add(float64(n))
	log.Info().Int64("deleted", n).Str("cutoff", domain.FormatDate(cutoff)).Msg("cleanup complete")
	return n, nil
}

// Status reports how much of the expected window the cache holds.
func (s *SyncService) Status(ctx context.Context) (domain.SyncStatus, error) {
	total, err := s.store.CountRecords(ctx)
	if err != nil {
		return domain.SyncStatus{}, fmt.Errorf("count records: %w", err)
	}
	active, err := s.units.CountSyncUnits(ctx)
	if err != nil {
		return domain.SyncStatus{}, fmt.Errorf("count units: %w", err)
	}
	last, err := s.store.LastSyncedAt(ctx)
	if err != nil {
		return domain.SyncStatus{}, fmt.Errorf("last synced: %w", err)
	}

	st := domain.SyncStatus{
		TotalRecords:    total,
		ActiveUnits:     active,
		ExpectedRecords: active * domain.WindowDayCount,
		LastSyncedAt:    last,
	}
	if st.ExpectedRecords > 0 {
		// Retained past days count toward total; cap so they cannot push past 100.
		st.CoveragePercent = min(100, float64(total)/float64(st.ExpectedRecords)*100)
	}
	st.Health = domain.HealthFor(st.CoveragePercent)
	return st, nil
}

// keyedMutex serializes work per unit id. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(id int64) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[int64]*keyedEntry)
	}
	e, ok := k.locks[id]
	if !ok {
		e = &keyedEntry{}
		k.locks[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
