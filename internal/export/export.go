// Package export writes the canonical per-year output files: stations,
// trips, the concurrency series, and aggregated station-to-station flows.
// All outputs are delimited text; gzip compression is optional.
package export

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/twpayne/go-polyline"

	"velostat.bikedata.org/internal/concurrency"
	"velostat.bikedata.org/internal/logging"
	"velostat.bikedata.org/internal/models"
	"velostat.bikedata.org/tripdb"
)

// Writer emits the output files of one year into a directory.
type Writer struct {
	dir      string
	year     int
	compress bool
}

// New creates a Writer for the given output directory and year. When
// compress is true every file is gzip-compressed and named with a .gz
// suffix.
func New(dir string, year int, compress bool) *Writer {
	return &Writer{dir: dir, year: year, compress: compress}
}

// WriteStations writes stations_<year>.csv with one row per canonical
// station. Null names, coordinates, and districts become empty cells.
func (w *Writer) WriteStations(stations []models.Station) (string, error) {
	return w.writeFile(fmt.Sprintf("stations_%d.csv", w.year), func(cw *csv.Writer) error {
		if err := cw.Write([]string{"id", "station", "lat", "long", "district"}); err != nil {
			return err
		}
		for _, s := range stations {
			row := []string{
				strconv.FormatInt(s.ID, 10),
				s.Name.String,
				formatNullFloat(s.Lat),
				formatNullFloat(s.Lon),
				s.District.String,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteTrips writes trips_<year>.csv. Timestamps use the same textual
// layout as the trip database.
func (w *Writer) WriteTrips(trips []models.Trip) (string, error) {
	return w.writeFile(fmt.Sprintf("trips_%d.csv", w.year), func(cw *csv.Writer) error {
		header := []string{"start_station_id", "start_time", "end_station_id", "end_time", "duration_sec", "is_member"}
		if err := cw.Write(header); err != nil {
			return err
		}
		for _, t := range trips {
			row := []string{
				strconv.FormatInt(t.StartStationID, 10),
				t.StartTime.Format(tripdb.TimeLayout),
				strconv.FormatInt(t.EndStationID, 10),
				t.EndTime.Format(tripdb.TimeLayout),
				formatNullFloat(t.DurationSec),
				formatNullInt(t.IsMember),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteConcurrency writes concurrency_<year>.csv with one row per bucket.
func (w *Writer) WriteConcurrency(series *concurrency.Series) (string, error) {
	return w.writeFile(fmt.Sprintf("concurrency_%d.csv", w.year), func(cw *csv.Writer) error {
		if err := cw.Write([]string{"bucket_index", "bucket_start", "count"}); err != nil {
			return err
		}
		for _, p := range series.Points() {
			row := []string{
				strconv.Itoa(p.BucketIndex),
				p.BucketStart.Format(tripdb.TimeLayout),
				strconv.Itoa(p.Count),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// Flow is an aggregated start-to-end station pair.
type Flow struct {
	StartStationID int64
	EndStationID   int64
	Trips          int
	// Geometry is the polyline-encoded start and end coordinates, empty
	// when either station lacks coordinates.
	Geometry string
}

// TopFlows aggregates trips by (start, end) station pair and returns the n
// heaviest flows, largest first. Ties order by start then end ID.
func TopFlows(trips []models.Trip, stations []models.Station, n int) []Flow {
	type pair struct{ start, end int64 }
	counts := make(map[pair]int)
	for _, t := range trips {
		counts[pair{t.StartStationID, t.EndStationID}]++
	}

	byID := make(map[int64]models.Station, len(stations))
	for _, s := range stations {
		byID[s.ID] = s
	}

	flows := make([]Flow, 0, len(counts))
	for p, c := range counts {
		f := Flow{StartStationID: p.start, EndStationID: p.end, Trips: c}
		start, okStart := byID[p.start]
		end, okEnd := byID[p.end]
		if okStart && okEnd && start.HasCoordinates() && end.HasCoordinates() {
			coords := [][]float64{
				{start.Lat.Float64, start.Lon.Float64},
				{end.Lat.Float64, end.Lon.Float64},
			}
			f.Geometry = string(polyline.EncodeCoords(coords))
		}
		flows = append(flows, f)
	}

	sort.Slice(flows, func(i, j int) bool {
		if flows[i].Trips != flows[j].Trips {
			return flows[i].Trips > flows[j].Trips
		}
		if flows[i].StartStationID != flows[j].StartStationID {
			return flows[i].StartStationID < flows[j].StartStationID
		}
		return flows[i].EndStationID < flows[j].EndStationID
	})

	if n > 0 && len(flows) > n {
		flows = flows[:n]
	}
	return flows
}

// WriteTopFlows writes flows_<year>.csv with the n heaviest flows.
func (w *Writer) WriteTopFlows(trips []models.Trip, stations []models.Station, n int) (string, error) {
	flows := TopFlows(trips, stations, n)
	return w.writeFile(fmt.Sprintf("flows_%d.csv", w.year), func(cw *csv.Writer) error {
		if err := cw.Write([]string{"start_station_id", "end_station_id", "trips", "geometry"}); err != nil {
			return err
		}
		for _, f := range flows {
			row := []string{
				strconv.FormatInt(f.StartStationID, 10),
				strconv.FormatInt(f.EndStationID, 10),
				strconv.Itoa(f.Trips),
				f.Geometry,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Writer) writeFile(name string, fill func(*csv.Writer) error) (string, error) {
	logger := logging.ForComponent("exporter")

	if w.compress {
		name += ".gz"
	}
	path := filepath.Join(w.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("unable to create output file: %w", err)
	}

	var out io.Writer = f
	var gz *gzip.Writer
	if w.compress {
		gz = gzip.NewWriter(f)
		out = gz
	}

	cw := csv.NewWriter(out)
	if err := fill(cw); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("error writing %s: %w", path, err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("error flushing %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("error closing gzip stream %s: %w", path, err)
		}
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("error closing %s: %w", path, err)
	}

	logging.LogOperation(logger, "output_file_written", slog.String("path", path))

	return path, nil
}

func formatNullFloat(f sql.NullFloat64) string {
	if !f.Valid {
		return ""
	}
	return strconv.FormatFloat(f.Float64, 'f', -1, 64)
}

func formatNullInt(i sql.NullInt64) string {
	if !i.Valid {
		return ""
	}
	return strconv.FormatInt(i.Int64, 10)
}
