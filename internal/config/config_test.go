package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "years.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validSeparateYear = `
years:
  - year: 2017
    class: separate
    trips_file: trips_2017.csv
    stations_file: stations_2017.csv
    timezone: America/Montreal
    time_encoding: iso_local
    trips:
      start_station: start_station_code
      end_station: end_station_code
      start_time: start_date
      end_time: end_date
      duration: duration_sec
      member: is_member
    stations:
      code: code
      name: name
      lat: latitude
      lon: longitude
`

const validEmbeddedYear = `
years:
  - year: 2021
    class: embedded
    trips_file: trips_2021.csv
    timezone: America/Montreal
    time_encoding: epoch_ms
    trips:
      start_name: STARTSTATIONNAME
      start_lat: STARTSTATIONLATITUDE
      start_lon: STARTSTATIONLONGITUDE
      start_district: STARTSTATIONARRONDISSEMENT
      end_name: ENDSTATIONNAME
      end_lat: ENDSTATIONLATITUDE
      end_lon: ENDSTATIONLONGITUDE
      end_district: ENDSTATIONARRONDISSEMENT
      start_time: STARTTIMEMS
      end_time: ENDTIMEMS
`

func TestLoadSeparateClass(t *testing.T) {
	f, err := Load(writeConfig(t, validSeparateYear))
	require.NoError(t, err)
	require.Len(t, f.Years, 1)

	yc := f.Years[0]
	assert.Equal(t, 2017, yc.Year)
	assert.Equal(t, ClassSeparate, yc.Class)
	assert.Equal(t, DefaultISOLayout, yc.ISOLayout)
	assert.Equal(t, "America/Montreal", yc.Location().String())
	assert.Equal(t, "start_station_code", yc.Trips.StartStation)
}

func TestLoadEmbeddedClass(t *testing.T) {
	f, err := Load(writeConfig(t, validEmbeddedYear))
	require.NoError(t, err)
	require.Len(t, f.Years, 1)

	yc := f.Years[0]
	assert.Equal(t, ClassEmbedded, yc.Class)
	assert.Equal(t, TimeEpochMillis, yc.TimeEncoding)
	assert.Empty(t, yc.StationsFile)
}

func TestLoadRejectsMissingRequiredMapping(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name: "separate class without station code column",
			mutate: func(s string) string {
				return replaceLine(s, "      start_station: start_station_code\n", "")
			},
			wantErr: "trips.start_station",
		},
		{
			name: "separate class without stations file",
			mutate: func(s string) string {
				return replaceLine(s, "    stations_file: stations_2017.csv\n", "")
			},
			wantErr: "stations_file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.mutate(validSeparateYear)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadRejectsMissingEmbeddedCoordinates(t *testing.T) {
	broken := replaceLine(validEmbeddedYear, "      end_lat: ENDSTATIONLATITUDE\n", "")
	_, err := Load(writeConfig(t, broken))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trips.end_lat")
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	broken := replaceLine(validSeparateYear, "    timezone: America/Montreal\n", "    timezone: Mars/Olympus\n")
	_, err := Load(writeConfig(t, broken))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timezone")
}

func TestLoadRejectsMissingTimestampColumns(t *testing.T) {
	broken := replaceLine(validSeparateYear, "      start_time: start_date\n", "")
	_, err := Load(writeConfig(t, broken))
	require.Error(t, err)
}

func TestYearBoundaries(t *testing.T) {
	f, err := Load(writeConfig(t, validSeparateYear))
	require.NoError(t, err)

	yc := f.Years[0]
	start := yc.YearStart()
	next := yc.NextYearStart()

	assert.Equal(t, 2017, start.Year())
	assert.Equal(t, 2018, next.Year())
	assert.Equal(t, yc.Location(), start.Location())
	assert.True(t, start.Before(next))
}

func replaceLine(s, old, new string) string {
	return strings.Replace(s, old, new, 1)
}
