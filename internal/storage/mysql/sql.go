package mysql

// One VALUES group per record; see upsertDaysOnDup.
const upsertDaysPrefix = "INSERT INTO property_daily_cache\n  (unit_id, ru_property_id, `date`, is_available, price_per_night, last_synced)\nVALUES "

// Overwrites both derived fields; a sync pass is the authority for them.
const upsertDaysOnDup = " ON DUPLICATE KEY UPDATE\n" +
	"  ru_property_id  = VALUES(ru_property_id),\n" +
	"  is_available    = VALUES(is_available),\n" +
	"  price_per_night = VALUES(price_per_night),\n" +
	"  last_synced     = VALUES(last_synced)\n"

// Note: `date` is a keyword; keep it quoted everywhere.
const setAvailabilitySQL = "UPDATE property_daily_cache SET is_available = ? WHERE unit_id = ? AND `date` >= ? AND `date` < ?"

const deleteBeforeSQL = "DELETE FROM property_daily_cache WHERE `date` < ?"

const upsertReservationSQL = `
INSERT INTO reservation_ranges
  (reservation_id, unit_id, date_from, date_to, cancelled)
VALUES
  (?, ?, ?, ?, 0)
ON DUPLICATE KEY UPDATE
  unit_id    = VALUES(unit_id),
  date_from  = VALUES(date_from),
  date_to    = VALUES(date_to),
  cancelled  = 0,
  updated_at = CURRENT_TIMESTAMP
`

const cancelReservationSQL = `
UPDATE reservation_ranges SET cancelled = 1, updated_at = CURRENT_TIMESTAMP
WHERE reservation_id = ?
`

const insertSyncRunSQL = `
INSERT INTO sync_runs (run_id, started_at, duration_ms, success_count, skipped_count, error_count)
VALUES (?, ?, ?, ?, ?, ?)
`

// -----------------------------------------------------------------------------
// READ QUERIES
// -----------------------------------------------------------------------------

const dayColumns = "unit_id, ru_property_id, `date`, is_available, price_per_night, last_synced"

const listDaysSQL = "SELECT " + dayColumns + `
FROM property_daily_cache
WHERE unit_id = ? AND ` + "`date` >= ? AND `date` < ?" + `
ORDER BY ` + "`date`"

const countRecordsSQL = `SELECT COUNT(*) FROM property_daily_cache`

const lastSyncedSQL = `SELECT MAX(last_synced) FROM property_daily_cache`

const unitColumns = "id, ru_property_id, building_id, name, room_type, is_active"

const listSyncUnitsSQL = "SELECT " + unitColumns + `
FROM units
WHERE is_active = 1 AND ru_property_id IS NOT NULL AND ru_property_id <> ''
ORDER BY id`

const countSyncUnitsSQL = `
SELECT COUNT(*) FROM units
WHERE is_active = 1 AND ru_property_id IS NOT NULL AND ru_property_id <> ''`

// Empty filter values match everything.
const listUnitsSQL = "SELECT " + unitColumns + `
FROM units
WHERE is_active = 1
  AND (? = '' OR building_id = ?)
  AND (? = '' OR room_type = ?)
ORDER BY id`

const getUnitSQL = "SELECT " + unitColumns + " FROM units WHERE id = ?"

const findUnitByUpstreamSQL = "SELECT " + unitColumns + " FROM units WHERE ru_property_id = ?"

const getReservationSQL = `
SELECT reservation_id, unit_id, date_from, date_to, cancelled
FROM reservation_ranges
WHERE reservation_id = ?`
