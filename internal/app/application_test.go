package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"velostat.bikedata.org/internal/appconf"
	"velostat.bikedata.org/internal/config"
)

func testYear(t *testing.T, dir string) config.YearConfig {
	t.Helper()
	path := filepath.Join(dir, "2022.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"name_s,lat_s,lon_s,name_e,lat_e,lon_e,start_ms,end_ms\n"+
			"Berri,45.50,-73.57,Peel,45.498,-73.575,1654070400000,1654071600000\n"), 0o644))

	return config.YearConfig{
		Year:         2022,
		Class:        config.ClassEmbedded,
		TripsFile:    "2022.csv",
		Timezone:     "UTC",
		TimeEncoding: config.TimeEpochMillis,
		Trips: config.TripColumns{
			StartName: "name_s", StartLat: "lat_s", StartLon: "lon_s",
			EndName: "name_e", EndLat: "lat_e", EndLon: "lon_e",
			StartTime: "start_ms", EndTime: "end_ms",
		},
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	years := &config.File{Years: []config.YearConfig{testYear(t, dir)}}

	a := New(appconf.Config{
		Env:       appconf.Test,
		DataDir:   dir,
		OutputDir: dir,
	}, years, slog.Default())

	summaries, err := a.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2022, summaries[0].Year)
	assert.Equal(t, 1, summaries[0].Trips)
}

func TestRun_FailingYearDoesNotStopOthers(t *testing.T) {
	dir := t.TempDir()

	broken := testYear(t, dir)
	broken.Year = 2023
	broken.TripsFile = "missing.csv"

	years := &config.File{Years: []config.YearConfig{testYear(t, dir), broken}}

	a := New(appconf.Config{
		Env:       appconf.Test,
		DataDir:   dir,
		OutputDir: dir,
	}, years, slog.Default())

	summaries, err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2023")
	require.Len(t, summaries, 1)
	assert.Equal(t, 2022, summaries[0].Year)
}

func TestResolvePaths(t *testing.T) {
	a := New(appconf.Config{DataDir: "/data"}, &config.File{}, slog.Default())

	yc := config.YearConfig{TripsFile: "trips.csv", StationsFile: "/abs/stations.csv"}
	a.resolvePaths(&yc)
	assert.Equal(t, filepath.Join("/data", "trips.csv"), yc.TripsFile)
	assert.Equal(t, "/abs/stations.csv", yc.StationsFile)
}
