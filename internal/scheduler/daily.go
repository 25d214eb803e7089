package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"stay_sync/internal/adapters/observability"
	"stay_sync/internal/domain"
)

// Runner is the work done by one scheduled run.
type Runner interface {
	SyncAllUnits(ctx context.Context) (domain.SyncRunResult, error)
	CleanupOldData(ctx context.Context) (int64, error)
}

// RunReport describes the most recent completed run.
type RunReport struct {
	Result         domain.SyncRunResult
	Err            error
	CleanupDeleted int64
	CleanupErr     error
	FinishedAt     time.Time
}

// Daily polls on a fixed interval and runs a sync pass followed by cleanup at
// most once per calendar day, at or after the configured time of day in loc.
//
// NOTE: the day key is in-memory only. A restart skips today's run only when
// SeedLastSuccess reports one already happened after the scheduled time.
type Daily struct {
	runner     Runner
	atMinute   int // minutes after midnight
	poll       time.Duration
	loc        *time.Location
	staleAfter time.Duration
	now        func() time.Time

	mu          sync.Mutex
	ranDayKey   string
	last        *RunReport
	lastSuccess time.Time
}

// NewDaily parses at as "HH:MM".
func NewDaily(r Runner, at string, poll time.Duration, loc *time.Location, staleAfter time.Duration) (*Daily, error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return nil, fmt.Errorf("parse run time %q: %w", at, err)
	}
	if loc == nil {
		loc = time.Local
	}
	if poll <= 0 {
		poll = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 26 * time.Hour
	}
	return &Daily{
		runner:     r,
		atMinute:   t.Hour()*60 + t.Minute(),
		poll:       poll,
		loc:        loc,
		staleAfter: staleAfter,
		now:        time.Now,
	}, nil
}

func (d *Daily) Start(ctx context.Context) {
	log.Info().Dur("poll", d.poll).Str("tz", d.loc.String()).
		Str("at", fmt.Sprintf("%02d:%02d", d.atMinute/60, d.atMinute%60)).Msg("scheduler starting")
	ticker := time.NewTicker(d.poll)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("scheduler stopped")
				return
			case <-ticker.C:
				d.tick(ctx)
			}
		}
	}()
}

func (d *Daily) tick(ctx context.Context) {
	now := d.now().In(d.loc)
	observability.SetStale(d.IsStale(now))
	if now.Hour()*60+now.Minute() < d.atMinute {
		return
	}

	key := dayKey(now)
	d.mu.Lock()
	if d.ranDayKey == key || d.ranAfterSchedule(key) {
		d.ranDayKey = key
		d.mu.Unlock()
		return
	}
	d.ranDayKey = key
	d.mu.Unlock()

	log.Info().Str("day", key).Msg("scheduled sync starting")
	if _, err := d.run(ctx); err != nil {
		log.Error().Err(err).Str("day", key).Msg("scheduled sync failed")
	}
}

// ranAfterSchedule reports whether the last success already covers today's run.
// Callers hold d.mu.
func (d *Daily) ranAfterSchedule(key string) bool {
	if d.lastSuccess.IsZero() {
		return false
	}
	ls := d.lastSuccess.In(d.loc)
	return dayKey(ls) == key && ls.Hour()*60+ls.Minute() >= d.atMinute
}

// Trigger runs a pass now. It fails with domain.ErrSyncInProgress while
// another pass is running.
func (d *Daily) Trigger(ctx context.Context) (domain.SyncRunResult, error) {
	return d.run(ctx)
}

func (d *Daily) run(ctx context.Context) (domain.SyncRunResult, error) {
	res, err := d.runner.SyncAllUnits(ctx)
	if errors.Is(err, domain.ErrSyncInProgress) {
		return res, err
	}

	rep := RunReport{Result: res, Err: err}
	// Retention runs even after a failed pass.
	deleted, cerr := d.runner.CleanupOldData(ctx)
	if cerr != nil {
		log.Error().Err(cerr).Msg("cleanup failed")
	}
	rep.CleanupDeleted, rep.CleanupErr = deleted, cerr
	rep.FinishedAt = d.now()

	d.mu.Lock()
	d.last = &rep
	if err == nil {
		d.lastSuccess = rep.FinishedAt
	}
	d.mu.Unlock()

	observability.SetStale(d.IsStale(rep.FinishedAt))
	return res, err
}

// SeedLastSuccess records a pass finished outside this process, e.g. the
// newest last_synced in the store at startup.
func (d *Daily) SeedLastSuccess(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t.After(d.lastSuccess) {
		d.lastSuccess = t
	}
}

// IsStale is true when no pass has succeeded within the staleness window.
func (d *Daily) IsStale(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSuccess.IsZero() || now.Sub(d.lastSuccess) > d.staleAfter
}

// LastRun returns a copy of the most recent report, or nil before the first run.
func (d *Daily) LastRun() *RunReport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return nil
	}
	cp := *d.last
	return &cp
}

func dayKey(t time.Time) string { return t.Format("2006-01-02") }
