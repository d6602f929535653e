package export

import (
	"database/sql"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"velostat.bikedata.org/internal/concurrency"
	"velostat.bikedata.org/internal/models"
)

func testStations() []models.Station {
	return []models.Station{
		{
			ID:       2,
			Name:     sql.NullString{String: "Station Berri", Valid: true},
			Lat:      sql.NullFloat64{Float64: 45.5, Valid: true},
			Lon:      sql.NullFloat64{Float64: -73.57, Valid: true},
			District: sql.NullString{String: "Ville-Marie", Valid: true},
		},
		{ID: 9, Name: sql.NullString{String: "Depot", Valid: true}},
	}
}

func testTrips() []models.Trip {
	start := time.Date(2017, 6, 1, 8, 0, 0, 0, time.UTC)
	return []models.Trip{
		{StartStationID: 2, StartTime: start, EndStationID: 9, EndTime: start.Add(20 * time.Minute),
			DurationSec: sql.NullFloat64{Float64: 1200, Valid: true},
			IsMember:    sql.NullInt64{Int64: 1, Valid: true}},
		{StartStationID: 2, StartTime: start, EndStationID: 9, EndTime: start.Add(10 * time.Minute)},
		{StartStationID: 9, StartTime: start, EndStationID: 2, EndTime: start.Add(5 * time.Minute)},
	}
}

func TestWriteStations(t *testing.T) {
	dir := t.TempDir()
	path, err := New(dir, 2017, false).WriteStations(testStations())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,station,lat,long,district", lines[0])
	assert.Equal(t, "2,Station Berri,45.5,-73.57,Ville-Marie", lines[1])
	// Null coordinates and district become empty cells.
	assert.Equal(t, "9,Depot,,,", lines[2])
}

func TestWriteTrips(t *testing.T) {
	dir := t.TempDir()
	path, err := New(dir, 2017, false).WriteTrips(testTrips())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "2,2017-06-01 08:00:00,9,2017-06-01 08:20:00,1200,1", lines[1])
	assert.Equal(t, "2,2017-06-01 08:00:00,9,2017-06-01 08:10:00,,", lines[2])
}

func TestWriteConcurrency(t *testing.T) {
	series := concurrency.Estimate(testTrips(), 10*time.Minute)

	dir := t.TempDir()
	path, err := New(dir, 2017, false).WriteConcurrency(series)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, len(series.Counts)+1)
	assert.Equal(t, "bucket_index,bucket_start,count", lines[0])
	assert.Equal(t, "0,2017-06-01 08:00:00,3", lines[1])
}

func TestTopFlows(t *testing.T) {
	flows := TopFlows(testTrips(), testStations(), 10)

	require.Len(t, flows, 2)
	assert.Equal(t, int64(2), flows[0].StartStationID)
	assert.Equal(t, int64(9), flows[0].EndStationID)
	assert.Equal(t, 2, flows[0].Trips)
	assert.Equal(t, 1, flows[1].Trips)

	// Station 9 has no coordinates, so neither flow gets a geometry.
	assert.Empty(t, flows[0].Geometry)
	assert.Empty(t, flows[1].Geometry)
}

func TestTopFlows_Geometry(t *testing.T) {
	stations := []models.Station{
		{ID: 1, Lat: sql.NullFloat64{Float64: 45.5, Valid: true}, Lon: sql.NullFloat64{Float64: -73.57, Valid: true}},
		{ID: 2, Lat: sql.NullFloat64{Float64: 45.51, Valid: true}, Lon: sql.NullFloat64{Float64: -73.56, Valid: true}},
	}
	start := time.Date(2017, 6, 1, 8, 0, 0, 0, time.UTC)
	trips := []models.Trip{
		{StartStationID: 1, EndStationID: 2, StartTime: start, EndTime: start.Add(time.Minute)},
	}

	flows := TopFlows(trips, stations, 1)
	require.Len(t, flows, 1)
	assert.NotEmpty(t, flows[0].Geometry)
}

func TestTopFlows_Limit(t *testing.T) {
	flows := TopFlows(testTrips(), testStations(), 1)
	require.Len(t, flows, 1)
	assert.Equal(t, 2, flows[0].Trips)
}

func TestWriteCompressed(t *testing.T) {
	dir := t.TempDir()
	path, err := New(dir, 2017, true).WriteStations(testStations())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".csv.gz"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Station Berri")
}
