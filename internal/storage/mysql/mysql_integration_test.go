//go:build integration || !unit

package mysql_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/shopspring/decimal"

	"stay_sync/internal/domain"
	mysqlrepo "stay_sync/internal/storage/mysql"
)

func migrationsDir(t *testing.T) string {
	t.Helper()
	if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
		return v
	}
	return filepath.Join("..", "..", "..", "migrations")
}

func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	dir := migrationsDir(t)

	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		t.Fatalf("MIGRATIONS_DIR=%s is not a directory or missing", dir)
	}

	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	var files []string
	for _, e := range ents {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		t.Fatalf("no .sql files in %s", dir)
	}
	sort.Strings(files)

	for _, f := range files {
		sqlBytes, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			t.Fatalf("exec %s: %v", f, err)
		}
	}
}

func startMySQL(t *testing.T) *sql.DB {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("dockertest: %v", err)
	}

	runOpts := &dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env: []string{
			"MYSQL_ROOT_PASSWORD=root",
			"MYSQL_DATABASE=stay",
		},
	}
	resource, err := pool.RunWithOptions(runOpts, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Skipf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	hostPort := resource.GetPort("3306/tcp")
	dsn := fmt.Sprintf("root:%s@tcp(127.0.0.1:%s)/%s?parseTime=true&multiStatements=true&charset=utf8mb4,utf8&loc=UTC",
		"root", hostPort, "stay")

	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	applyMigrations(t, db)
	return db
}

func seedUnits(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`
INSERT INTO units (id, ru_property_id, building_id, name, room_type, is_active) VALUES
  (1, '1001', 'b1', 'Loft A', 'studio', 1),
  (2, '1002', 'b1', 'Loft B', '1br', 1),
  (3, NULL,   'b1', 'Offline', 'studio', 1),
  (4, '1004', 'b2', 'Retired', 'studio', 0)`)
	if err != nil {
		t.Fatalf("seed units: %v", err)
	}
}

func day(s string) time.Time {
	d, _ := domain.ParseDate(s)
	return d
}

func TestRepo_MySQL_DailyRecords(t *testing.T) {
	db := startMySQL(t)
	seedUnits(t, db)
	repo := mysqlrepo.New(db)
	ctx := context.Background()

	synced := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)
	recs := []domain.DailyAvailabilityRecord{
		{UnitID: 1, RUPropertyID: "1001", Date: day("2024-06-01"), IsAvailable: true, PricePerNight: decimal.RequireFromString("100.00"), LastSynced: synced},
		{UnitID: 1, RUPropertyID: "1001", Date: day("2024-06-02"), IsAvailable: true, PricePerNight: decimal.RequireFromString("120.00"), LastSynced: synced},
		{UnitID: 1, RUPropertyID: "1001", Date: day("2024-06-03"), IsAvailable: false, PricePerNight: decimal.RequireFromString("110.00"), LastSynced: synced},
		{UnitID: 2, RUPropertyID: "1002", Date: day("2024-06-01"), IsAvailable: true, PricePerNight: decimal.RequireFromString("90.50"), LastSynced: synced},
	}
	n, err := repo.UpsertDays(ctx, recs)
	if err != nil || n != 4 {
		t.Fatalf("UpsertDays: n=%d err=%v", n, err)
	}
	// Same batch again: still one row per (unit, date).
	if _, err := repo.UpsertDays(ctx, recs); err != nil {
		t.Fatalf("UpsertDays again: %v", err)
	}
	if total, _ := repo.CountRecords(ctx); total != 4 {
		t.Fatalf("CountRecords = %d, want 4", total)
	}

	days, err := repo.ListDays(ctx, 1, day("2024-06-01"), day("2024-06-04"))
	if err != nil {
		t.Fatalf("ListDays: %v", err)
	}
	if len(days) != 3 || !days[1].PricePerNight.Equal(decimal.RequireFromString("120")) || days[2].IsAvailable {
		t.Fatalf("unexpected days: %+v", days)
	}

	// Flip availability; prices and last_synced stay put.
	if _, err := repo.SetAvailability(ctx, 1, day("2024-06-01"), day("2024-06-03"), false); err != nil {
		t.Fatalf("SetAvailability: %v", err)
	}
	days, _ = repo.ListDays(ctx, 1, day("2024-06-01"), day("2024-06-04"))
	for _, d := range days {
		if d.IsAvailable {
			t.Fatalf("day %s still available", domain.FormatDate(d.Date))
		}
		if !d.LastSynced.Equal(synced) {
			t.Fatalf("last_synced changed: %v", d.LastSynced)
		}
	}
	if !days[0].PricePerNight.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("price changed: %s", days[0].PricePerNight)
	}

	byUnit, err := repo.ListDaysForUnits(ctx, []int64{1, 2}, day("2024-06-01"), day("2024-06-02"))
	if err != nil || len(byUnit[1]) != 1 || len(byUnit[2]) != 1 {
		t.Fatalf("ListDaysForUnits: %v %+v", err, byUnit)
	}

	last, err := repo.LastSyncedAt(ctx)
	if err != nil || last == nil || !last.Equal(synced) {
		t.Fatalf("LastSyncedAt = %v, %v", last, err)
	}

	deleted, err := repo.DeleteBefore(ctx, day("2024-06-02"))
	if err != nil || deleted != 2 {
		t.Fatalf("DeleteBefore: deleted=%d err=%v", deleted, err)
	}
}

func TestRepo_MySQL_UnitsAndReservations(t *testing.T) {
	db := startMySQL(t)
	seedUnits(t, db)
	repo := mysqlrepo.New(db)
	ctx := context.Background()

	units, err := repo.ListSyncUnits(ctx)
	if err != nil || len(units) != 2 {
		t.Fatalf("ListSyncUnits: %v %+v", err, units)
	}
	if n, _ := repo.CountSyncUnits(ctx); n != 2 {
		t.Fatalf("CountSyncUnits = %d", n)
	}
	studios, err := repo.ListUnits(ctx, domain.UnitFilter{BuildingID: "b1", RoomType: "studio"})
	if err != nil || len(studios) != 2 {
		t.Fatalf("ListUnits: %v %+v", err, studios)
	}
	u, err := repo.FindByUpstreamID(ctx, "1002")
	if err != nil || u.ID != 2 {
		t.Fatalf("FindByUpstreamID: %v %+v", err, u)
	}
	if _, err := repo.GetUnit(ctx, 99); err != domain.ErrNotFound {
		t.Fatalf("GetUnit(99) err = %v", err)
	}

	rr := domain.ReservationRange{ReservationID: "R-1", UnitID: 1, DateFrom: day("2024-06-10"), DateTo: day("2024-06-12")}
	if err := repo.PutReservation(ctx, rr); err != nil {
		t.Fatalf("PutReservation: %v", err)
	}
	if err := repo.MarkCancelled(ctx, "R-1"); err != nil {
		t.Fatalf("MarkCancelled: %v", err)
	}
	got, err := repo.GetReservation(ctx, "R-1")
	if err != nil || !got.Cancelled || !got.DateTo.Equal(rr.DateTo) {
		t.Fatalf("GetReservation: %v %+v", err, got)
	}

	run := domain.SyncRunResult{RunID: "2b1f0c1e-0000-4000-8000-000000000001", StartedAt: time.Now().UTC(), SuccessCount: 2, Duration: time.Second}
	if err := repo.LogSyncRun(ctx, run); err != nil {
		t.Fatalf("LogSyncRun: %v", err)
	}
}
