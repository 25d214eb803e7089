package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stay_sync/internal/domain"
)

// upsertBatch keeps one statement well under max_allowed_packet and the
// 65535 placeholder limit.
const upsertBatch = 500

func valDate(t time.Time) any { return domain.FormatDate(domain.DateOf(t)) }

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// ---- daily records ----

// UpsertDays writes records keyed by (unit_id, date) and returns how many were
// submitted. Each batch is one statement, so each row is atomic.
func (r *Repo) UpsertDays(ctx context.Context, recs []domain.DailyAvailabilityRecord) (int64, error) {
	var written int64
	for start := 0; start < len(recs); start += upsertBatch {
		end := min(start+upsertBatch, len(recs))
		chunk := recs[start:end]

		values := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*6) // 6 params per row
		for _, rec := range chunk {
			values = append(values, "(?,?,?,?,?,?)")
			args = append(args,
				rec.UnitID,
				rec.RUPropertyID,
				valDate(rec.Date),
				rec.IsAvailable,
				rec.PricePerNight,
				rec.LastSynced.UTC(),
			)
		}
		sqlStr := upsertDaysPrefix + strings.Join(values, ",") + upsertDaysOnDup
		if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
			return written, fmt.Errorf("upsert daily records: %w", err)
		}
		written += int64(len(chunk))
	}
	return written, nil
}

// SetAvailability flips is_available over [from, to) and leaves price and
// last_synced alone. Returns the number of rows matched.
func (r *Repo) SetAvailability(ctx context.Context, unitID int64, from, to time.Time, available bool) (int64, error) {
	res, err := r.db.ExecContext(ctx, setAvailabilitySQL, available, unitID, valDate(from), valDate(to))
	if err != nil {
		return 0, fmt.Errorf("set availability: %w", err)
	}
	return res.RowsAffected()
}

func (r *Repo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteBeforeSQL, valDate(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete old records: %w", err)
	}
	return res.RowsAffected()
}

func scanDay(rows *sql.Rows) (domain.DailyAvailabilityRecord, error) {
	var rec domain.DailyAvailabilityRecord
	var price decimal.Decimal
	if err := rows.Scan(&rec.UnitID, &rec.RUPropertyID, &rec.Date, &rec.IsAvailable, &price, &rec.LastSynced); err != nil {
		return domain.DailyAvailabilityRecord{}, err
	}
	rec.Date = domain.DateOf(rec.Date)
	rec.PricePerNight = price
	return rec, nil
}

func (r *Repo) ListDays(ctx context.Context, unitID int64, from, to time.Time) ([]domain.DailyAvailabilityRecord, error) {
	rows, err := r.db.QueryContext(ctx, listDaysSQL, unitID, valDate(from), valDate(to))
	if err != nil {
		return nil, fmt.Errorf("list days: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyAvailabilityRecord
	for rows.Next() {
		rec, err := scanDay(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListDaysForUnits reads [from, to) for several units in one round trip,
// each unit's days in date order.
func (r *Repo) ListDaysForUnits(ctx context.Context, unitIDs []int64, from, to time.Time) (map[int64][]domain.DailyAvailabilityRecord, error) {
	out := make(map[int64][]domain.DailyAvailabilityRecord, len(unitIDs))
	if len(unitIDs) == 0 {
		return out, nil
	}
	marks := make([]string, len(unitIDs))
	args := make([]any, 0, len(unitIDs)+2)
	for i, id := range unitIDs {
		marks[i] = "?"
		args = append(args, id)
	}
	args = append(args, valDate(from), valDate(to))

	q := "SELECT " + dayColumns + " FROM property_daily_cache WHERE unit_id IN (" + strings.Join(marks, ",") +
		") AND `date` >= ? AND `date` < ? ORDER BY unit_id, `date`"
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list days for units: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanDay(rows)
		if err != nil {
			return nil, err
		}
		out[rec.UnitID] = append(out[rec.UnitID], rec)
	}
	return out, rows.Err()
}

func (r *Repo) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, countRecordsSQL).Scan(&n)
	return n, err
}

func (r *Repo) LastSyncedAt(ctx context.Context) (*time.Time, error) {
	var ts sql.NullTime
	if err := r.db.QueryRowContext(ctx, lastSyncedSQL).Scan(&ts); err != nil {
		return nil, err
	}
	if !ts.Valid {
		return nil, nil
	}
	t := ts.Time.UTC()
	return &t, nil
}

// ---- unit directory ----

func scanUnit(sc interface{ Scan(...any) error }) (domain.Unit, error) {
	var u domain.Unit
	var propertyID sql.NullString
	if err := sc.Scan(&u.ID, &propertyID, &u.BuildingID, &u.Name, &u.RoomType, &u.IsActive); err != nil {
		return domain.Unit{}, err
	}
	if propertyID.Valid {
		u.UpstreamPropertyID = propertyID.String
	}
	return u, nil
}

func (r *Repo) queryUnits(ctx context.Context, q string, args ...any) ([]domain.Unit, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	var out []domain.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repo) ListSyncUnits(ctx context.Context) ([]domain.Unit, error) {
	return r.queryUnits(ctx, listSyncUnitsSQL)
}

func (r *Repo) CountSyncUnits(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, countSyncUnitsSQL).Scan(&n)
	return n, err
}

func (r *Repo) ListUnits(ctx context.Context, f domain.UnitFilter) ([]domain.Unit, error) {
	return r.queryUnits(ctx, listUnitsSQL, f.BuildingID, f.BuildingID, f.RoomType, f.RoomType)
}

func (r *Repo) GetUnit(ctx context.Context, id int64) (domain.Unit, error) {
	u, err := scanUnit(r.db.QueryRowContext(ctx, getUnitSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Unit{}, domain.ErrNotFound
	}
	return u, err
}

func (r *Repo) FindByUpstreamID(ctx context.Context, propertyID string) (domain.Unit, error) {
	u, err := scanUnit(r.db.QueryRowContext(ctx, findUnitByUpstreamSQL, propertyID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Unit{}, domain.ErrNotFound
	}
	return u, err
}

// ---- reservation ledger ----

func (r *Repo) PutReservation(ctx context.Context, res domain.ReservationRange) error {
	_, err := r.db.ExecContext(ctx, upsertReservationSQL,
		res.ReservationID, res.UnitID, valDate(res.DateFrom), valDate(res.DateTo))
	return err
}

func (r *Repo) GetReservation(ctx context.Context, reservationID string) (domain.ReservationRange, error) {
	var res domain.ReservationRange
	err := r.db.QueryRowContext(ctx, getReservationSQL, reservationID).
		Scan(&res.ReservationID, &res.UnitID, &res.DateFrom, &res.DateTo, &res.Cancelled)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReservationRange{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ReservationRange{}, err
	}
	res.DateFrom, res.DateTo = domain.DateOf(res.DateFrom), domain.DateOf(res.DateTo)
	return res, nil
}

func (r *Repo) MarkCancelled(ctx context.Context, reservationID string) error {
	_, err := r.db.ExecContext(ctx, cancelReservationSQL, reservationID)
	return err
}

// ---- sync log ----

func (r *Repo) LogSyncRun(ctx context.Context, res domain.SyncRunResult) error {
	_, err := r.db.ExecContext(ctx, insertSyncRunSQL,
		res.RunID, res.StartedAt.UTC(), res.Duration.Milliseconds(),
		res.SuccessCount, res.SkippedCount, res.ErrorCount)
	return err
}
