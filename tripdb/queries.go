package tripdb

import (
	"context"
	"database/sql"
)

// DBTX is the subset of database/sql used by Queries, satisfied by both
// *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries bundles the statement set for one database handle.
type Queries struct {
	db DBTX
}

// New creates a Queries bound to the given handle.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns Queries bound to the transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Station is a stations table row.
type Station struct {
	ID       int64
	Name     sql.NullString
	Lat      sql.NullFloat64
	Lon      sql.NullFloat64
	District sql.NullString
}

// Trip is a trips table row. Timestamps are stored as TimeLayout text in
// the year's configured timezone.
type Trip struct {
	StartStationID int64
	StartTime      string
	EndStationID   int64
	EndTime        string
	DurationSec    sql.NullFloat64
	IsMember       sql.NullInt64
}

// ImportMetadata records the provenance of the current import.
type ImportMetadata struct {
	FileHash   string
	ImportTime int64
	FileSource string
	Year       int64
}

const createStation = `
INSERT INTO stations (id, name, lat, lon, district)
VALUES (?, ?, ?, ?, ?)
`

type CreateStationParams struct {
	ID       int64
	Name     sql.NullString
	Lat      sql.NullFloat64
	Lon      sql.NullFloat64
	District sql.NullString
}

func (q *Queries) CreateStation(ctx context.Context, arg CreateStationParams) error {
	_, err := q.db.ExecContext(ctx, createStation, arg.ID, arg.Name, arg.Lat, arg.Lon, arg.District)
	return err
}

const listStations = `
SELECT id, name, lat, lon, district FROM stations ORDER BY id
`

func (q *Queries) ListStations(ctx context.Context) ([]Station, error) {
	rows, err := q.db.QueryContext(ctx, listStations)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // closing is also checked explicitly below
	var items []Station
	for rows.Next() {
		var i Station
		if err := rows.Scan(&i.ID, &i.Name, &i.Lat, &i.Lon, &i.District); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countStations = `SELECT COUNT(*) FROM stations`

func (q *Queries) CountStations(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countStations).Scan(&count)
	return count, err
}

const countTrips = `SELECT COUNT(*) FROM trips`

func (q *Queries) CountTrips(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countTrips).Scan(&count)
	return count, err
}

const countOrphanTripRefs = `
SELECT COUNT(*)
FROM trips t
WHERE NOT EXISTS (SELECT 1 FROM stations s WHERE s.id = t.start_station_id)
   OR NOT EXISTS (SELECT 1 FROM stations s WHERE s.id = t.end_station_id)
`

// CountOrphanTripRefs counts trips whose station references do not resolve
// to a stored station. Any non-zero result after reconciliation indicates a
// pipeline bug.
func (q *Queries) CountOrphanTripRefs(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countOrphanTripRefs).Scan(&count)
	return count, err
}

const getImportMetadata = `
SELECT file_hash, import_time, file_source, year FROM import_metadata WHERE id = 1
`

func (q *Queries) GetImportMetadata(ctx context.Context) (ImportMetadata, error) {
	var i ImportMetadata
	err := q.db.QueryRowContext(ctx, getImportMetadata).Scan(&i.FileHash, &i.ImportTime, &i.FileSource, &i.Year)
	return i, err
}

const upsertImportMetadata = `
INSERT INTO import_metadata (id, file_hash, import_time, file_source, year)
VALUES (1, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    file_hash = excluded.file_hash,
    import_time = excluded.import_time,
    file_source = excluded.file_source,
    year = excluded.year
`

type UpsertImportMetadataParams struct {
	FileHash   string
	ImportTime int64
	FileSource string
	Year       int64
}

func (q *Queries) UpsertImportMetadata(ctx context.Context, arg UpsertImportMetadataParams) error {
	_, err := q.db.ExecContext(ctx, upsertImportMetadata, arg.FileHash, arg.ImportTime, arg.FileSource, arg.Year)
	return err
}

func (q *Queries) ClearTrips(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM trips`)
	return err
}

func (q *Queries) ClearStations(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM stations`)
	return err
}
