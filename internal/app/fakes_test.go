package app_test

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stay_sync/internal/domain"
)

func day(s string) time.Time {
	d, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

// ---- store ----

type memStore struct {
	mu   sync.Mutex
	days map[int64]map[string]domain.DailyAvailabilityRecord

	upserts int
	failSet error
}

func newMemStore() *memStore {
	return &memStore{days: map[int64]map[string]domain.DailyAvailabilityRecord{}}
}

func (m *memStore) put(r domain.DailyAvailabilityRecord) {
	if m.days[r.UnitID] == nil {
		m.days[r.UnitID] = map[string]domain.DailyAvailabilityRecord{}
	}
	m.days[r.UnitID][domain.FormatDate(r.Date)] = r
}

func (m *memStore) seed(unitID int64, date string, avail bool, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(domain.DailyAvailabilityRecord{
		UnitID: unitID, RUPropertyID: "p", Date: day(date), IsAvailable: avail,
		PricePerNight: dec(price), LastSynced: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
}

func (m *memStore) get(unitID int64, date string) (domain.DailyAvailabilityRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.days[unitID][date]
	return r, ok
}

func (m *memStore) UpsertDays(ctx context.Context, recs []domain.DailyAvailabilityRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	for _, r := range recs {
		m.put(r)
	}
	return int64(len(recs)), nil
}

func (m *memStore) SetAvailability(ctx context.Context, unitID int64, from, to time.Time, available bool) (int64, error) {
	if m.failSet != nil {
		return 0, m.failSet
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, r := range m.days[unitID] {
		if !r.Date.Before(from) && r.Date.Before(to) {
			r.IsAvailable = available
			m.days[unitID][k] = r
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, byDate := range m.days {
		for k, r := range byDate {
			if r.Date.Before(cutoff) {
				delete(byDate, k)
				n++
			}
		}
	}
	return n, nil
}

func (m *memStore) ListDays(ctx context.Context, unitID int64, from, to time.Time) ([]domain.DailyAvailabilityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DailyAvailabilityRecord
	for _, r := range m.days[unitID] {
		if !r.Date.Before(from) && r.Date.Before(to) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *memStore) ListDaysForUnits(ctx context.Context, ids []int64, from, to time.Time) (map[int64][]domain.DailyAvailabilityRecord, error) {
	out := map[int64][]domain.DailyAvailabilityRecord{}
	for _, id := range ids {
		days, _ := m.ListDays(ctx, id, from, to)
		if len(days) > 0 {
			out[id] = days
		}
	}
	return out, nil
}

func (m *memStore) CountRecords(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, byDate := range m.days {
		n += int64(len(byDate))
	}
	return n, nil
}

func (m *memStore) LastSyncedAt(ctx context.Context) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *time.Time
	for _, byDate := range m.days {
		for _, r := range byDate {
			if last == nil || r.LastSynced.After(*last) {
				t := r.LastSynced
				last = &t
			}
		}
	}
	return last, nil
}

// ---- unit directory ----

type fakeUnits struct{ units []domain.Unit }

func (f *fakeUnits) ListSyncUnits(ctx context.Context) ([]domain.Unit, error) {
	var out []domain.Unit
	for _, u := range f.units {
		if u.Syncable() {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeUnits) CountSyncUnits(ctx context.Context) (int64, error) {
	us, _ := f.ListSyncUnits(ctx)
	return int64(len(us)), nil
}

func (f *fakeUnits) ListUnits(ctx context.Context, flt domain.UnitFilter) ([]domain.Unit, error) {
	var out []domain.Unit
	for _, u := range f.units {
		if !u.IsActive {
			continue
		}
		if flt.BuildingID != "" && u.BuildingID != flt.BuildingID {
			continue
		}
		if flt.RoomType != "" && u.RoomType != flt.RoomType {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeUnits) GetUnit(ctx context.Context, id int64) (domain.Unit, error) {
	for _, u := range f.units {
		if u.ID == id {
			return u, nil
		}
	}
	return domain.Unit{}, domain.ErrNotFound
}

func (f *fakeUnits) FindByUpstreamID(ctx context.Context, pid string) (domain.Unit, error) {
	for _, u := range f.units {
		if u.UpstreamPropertyID == pid {
			return u, nil
		}
	}
	return domain.Unit{}, domain.ErrNotFound
}

// ---- reservation ledger ----

type fakeLedger struct {
	mu   sync.Mutex
	byID map[string]domain.ReservationRange
}

func (f *fakeLedger) PutReservation(ctx context.Context, r domain.ReservationRange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byID == nil {
		f.byID = map[string]domain.ReservationRange{}
	}
	f.byID[r.ReservationID] = r
	return nil
}

func (f *fakeLedger) GetReservation(ctx context.Context, id string) (domain.ReservationRange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[id]
	if !ok {
		return domain.ReservationRange{}, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeLedger) MarkCancelled(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.byID[id]
	r.Cancelled = true
	f.byID[id] = r
	return nil
}

// ---- upstream ----

type fakeUpstream struct {
	mu       sync.Mutex
	days     map[string][]domain.AvailabilityDay
	seasons  map[string][]domain.SeasonPriceInterval
	availErr map[string]error
	priceErr map[string]error

	// block, when set, holds every availability call until closed.
	block   chan struct{}
	entered chan struct{}

	calls    int
	lastFrom time.Time
	lastTo   time.Time
}

func (f *fakeUpstream) FetchAvailabilityCalendar(ctx context.Context, pid string, from, to time.Time) ([]domain.AvailabilityDay, error) {
	f.mu.Lock()
	f.calls++
	f.lastFrom, f.lastTo = from, to
	block, entered := f.block, f.entered
	f.mu.Unlock()
	if block != nil {
		if entered != nil {
			select {
			case entered <- struct{}{}:
			default:
			}
		}
		<-block
	}
	if err := f.availErr[pid]; err != nil {
		return nil, err
	}
	return f.days[pid], nil
}

func (f *fakeUpstream) FetchSeasonalPrices(ctx context.Context, pid string, from, to time.Time) ([]domain.SeasonPriceInterval, error) {
	if err := f.priceErr[pid]; err != nil {
		return nil, err
	}
	return f.seasons[pid], nil
}

func (f *fakeUpstream) PushReservation(ctx context.Context, r domain.ReservationRequest) (string, error) {
	return "R-1", nil
}

func (f *fakeUpstream) CancelReservation(ctx context.Context, id string, cancelTypeID int) error {
	return nil
}

// ---- cache ----

// fakeCache stores JSON so cached values never alias the caller's.
type fakeCache struct {
	mu    sync.Mutex
	store map[string][]byte
	ints  map[string]int64
	sets  int
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.store[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = map[string][]byte{}
	}
	c.store[key] = b
	c.sets++
	return nil
}

func (c *fakeCache) Incr(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ints == nil {
		c.ints = map[string]int64{}
	}
	c.ints[key]++
	return c.ints[key], nil
}

func (c *fakeCache) GetInt(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ints[key], nil
}

// ---- sync log / lock ----

type fakeRunLog struct {
	mu   sync.Mutex
	runs []domain.SyncRunResult
}

func (f *fakeRunLog) LogSyncRun(ctx context.Context, r domain.SyncRunResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, r)
	return nil
}

type heldLock struct{}

func (heldLock) TryLock(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	return nil, false, nil
}
