package tripdb

// Hand-written FTS5 query implementations. Queries using FTS5-specific
// syntax (MATCH operator, bm25() function) cannot be expressed in the
// regular query set, so they are maintained manually.
//
// IMPORTANT: If the 'stations' or 'stations_fts' table schemas change, the
// SQL and Go types in this file must be updated manually to match.

import (
	"context"
)

const searchStationsByName = `
SELECT
    s.id,
    s.name,
    s.lat,
    s.lon,
    s.district
FROM
    stations_fts
    JOIN stations s ON s.id = stations_fts.rowid
WHERE
    stations_fts MATCH ?
ORDER BY
    bm25(stations_fts),
    s.id
LIMIT
    ?
`

type SearchStationsByNameParams struct {
	Query string
	Limit int64
}

// SearchStationsByName returns the stations whose name matches the given
// FTS5 query, best match first.
func (q *Queries) SearchStationsByName(ctx context.Context, arg SearchStationsByNameParams) ([]Station, error) {
	rows, err := q.db.QueryContext(ctx, searchStationsByName, arg.Query, arg.Limit)
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
