package dedupe

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"velostat.bikedata.org/internal/models"
)

func candidate(id int64, name string, lat, lon float64) models.StationCandidate {
	return models.StationCandidate{
		ID:   sql.NullInt64{Int64: id, Valid: true},
		Name: sql.NullString{String: name, Valid: name != ""},
		Lat:  sql.NullFloat64{Float64: lat, Valid: true},
		Lon:  sql.NullFloat64{Float64: lon, Valid: true},
	}
}

func candidateNoCoords(id int64, name string) models.StationCandidate {
	return models.StationCandidate{
		ID:   sql.NullInt64{Int64: id, Valid: true},
		Name: sql.NullString{String: name, Valid: name != ""},
	}
}

func TestDeduplicateByID_SmallestIDWins(t *testing.T) {
	res, err := DeduplicateByID([]models.StationCandidate{
		candidate(5, "Berri / de Maisonneuve", 45.50, -73.57),
		candidate(2, "Station Berri", 45.50, -73.57),
		candidate(9, "Peel / Ste-Catherine", 45.498, -73.575),
	})
	require.NoError(t, err)

	require.Len(t, res.Stations, 2)
	assert.Equal(t, int64(2), res.Stations[0].ID)
	assert.Equal(t, "Station Berri", res.Stations[0].Name.String)
	assert.Equal(t, int64(9), res.Stations[1].ID)

	assert.Equal(t, map[int64]int64{5: 2}, res.Remap)
	assert.Equal(t, 1, res.Merged)
	assert.Equal(t, int64(2), res.ResolveID(5))
	assert.Equal(t, int64(9), res.ResolveID(9))
	assert.True(t, res.IsCanonical(2))
	assert.False(t, res.IsCanonical(5))
}

func TestDeduplicateByID_ManyWayCollision(t *testing.T) {
	res, err := DeduplicateByID([]models.StationCandidate{
		candidate(30, "a", 45.51, -73.56),
		candidate(10, "b", 45.51, -73.56),
		candidate(20, "c", 45.51, -73.56),
	})
	require.NoError(t, err)

	require.Len(t, res.Stations, 1)
	assert.Equal(t, int64(10), res.Stations[0].ID)
	assert.Equal(t, "b", res.Stations[0].Name.String)
	assert.Equal(t, map[int64]int64{30: 10, 20: 10}, res.Remap)
	assert.Equal(t, 2, res.Merged)
}

func TestDeduplicateByID_NearMissStaysSeparate(t *testing.T) {
	// Coordinates a few meters apart are not equal and must not merge.
	res, err := DeduplicateByID([]models.StationCandidate{
		candidate(1, "a", 45.500000, -73.570000),
		candidate(2, "b", 45.500001, -73.570000),
	})
	require.NoError(t, err)

	assert.Len(t, res.Stations, 2)
	assert.Empty(t, res.Remap)
	assert.Zero(t, res.Merged)
}

func TestDeduplicateByID_MissingCoordinatesNeverMerge(t *testing.T) {
	res, err := DeduplicateByID([]models.StationCandidate{
		candidateNoCoords(1, "depot a"),
		candidateNoCoords(2, "depot b"),
	})
	require.NoError(t, err)

	assert.Len(t, res.Stations, 2)
	assert.Empty(t, res.Remap)
}

func TestDeduplicateByID_DuplicateIDKeepsFirstRow(t *testing.T) {
	res, err := DeduplicateByID([]models.StationCandidate{
		candidate(7, "first", 45.50, -73.57),
		candidate(7, "second", 45.99, -73.99),
	})
	require.NoError(t, err)

	require.Len(t, res.Stations, 1)
	assert.Equal(t, "first", res.Stations[0].Name.String)
	assert.Equal(t, 1, res.Merged)
}

func TestDeduplicateByID_MissingIDFails(t *testing.T) {
	_, err := DeduplicateByID([]models.StationCandidate{
		{Name: sql.NullString{String: "no id", Valid: true}},
	})
	assert.Error(t, err)
}

func TestDeduplicateByID_Idempotent(t *testing.T) {
	first, err := DeduplicateByID([]models.StationCandidate{
		candidate(5, "a", 45.50, -73.57),
		candidate(2, "b", 45.50, -73.57),
		candidate(9, "c", 45.498, -73.575),
	})
	require.NoError(t, err)

	var again []models.StationCandidate
	for _, s := range first.Stations {
		again = append(again, models.StationCandidate{
			ID:       sql.NullInt64{Int64: s.ID, Valid: true},
			Name:     s.Name,
			Lat:      s.Lat,
			Lon:      s.Lon,
			District: s.District,
		})
	}

	second, err := DeduplicateByID(again)
	require.NoError(t, err)
	assert.Equal(t, first.Stations, second.Stations)
	assert.Zero(t, second.Merged)
	assert.Empty(t, second.Remap)
}

func TestDeduplicateEmbedded_AssignsSequentialIDs(t *testing.T) {
	res := DeduplicateEmbedded([]models.StationCandidate{
		{Name: sql.NullString{String: "a", Valid: true}, Lat: sql.NullFloat64{Float64: 45.50, Valid: true}, Lon: sql.NullFloat64{Float64: -73.57, Valid: true}},
		{Name: sql.NullString{String: "b", Valid: true}, Lat: sql.NullFloat64{Float64: 45.51, Valid: true}, Lon: sql.NullFloat64{Float64: -73.56, Valid: true}},
	})

	require.Len(t, res.Stations, 2)
	assert.Equal(t, int64(1), res.Stations[0].ID)
	assert.Equal(t, "a", res.Stations[0].Name.String)
	assert.Equal(t, int64(2), res.Stations[1].ID)
	assert.Zero(t, res.Merged)
}

func TestDeduplicateEmbedded_CollapsesRenamedStation(t *testing.T) {
	// Same coordinates under two different names: one canonical station,
	// both attribute tuples resolve to it.
	a := models.StationCandidate{
		Name: sql.NullString{String: "Berri / de Maisonneuve", Valid: true},
		Lat:  sql.NullFloat64{Float64: 45.50, Valid: true},
		Lon:  sql.NullFloat64{Float64: -73.57, Valid: true},
	}
	b := a
	b.Name = sql.NullString{String: "Station Berri", Valid: true}

	res := DeduplicateEmbedded([]models.StationCandidate{a, b})

	require.Len(t, res.Stations, 1)
	assert.Equal(t, "Berri / de Maisonneuve", res.Stations[0].Name.String)
	assert.Equal(t, 1, res.Merged)
	assert.Equal(t, res.byRef[refKeyForCandidate(a)], res.byRef[refKeyForCandidate(b)])
}

func TestDeduplicateEmbedded_NullCoordinateSingletons(t *testing.T) {
	a := models.StationCandidate{Name: sql.NullString{String: "unknown a", Valid: true}}
	b := models.StationCandidate{Name: sql.NullString{String: "unknown b", Valid: true}}

	res := DeduplicateEmbedded([]models.StationCandidate{a, b})

	assert.Len(t, res.Stations, 2)
	assert.Zero(t, res.Merged)
	assert.NotEqual(t, res.byRef[refKeyForCandidate(a)], res.byRef[refKeyForCandidate(b)])
}
