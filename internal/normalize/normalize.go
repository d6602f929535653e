// Package normalize maps each year's heterogeneous raw schema onto the
// canonical trip and station-candidate model. The mapping itself is pure
// configuration (see internal/config); this package applies it.
//
// Normalization trims leading/trailing whitespace on textual fields and
// decodes timestamps per the year's configured encoding. It does not judge
// rows: undecodable timestamps become null and are left for the validator
// to drop and count.
package normalize

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"velostat.bikedata.org/internal/config"
	"velostat.bikedata.org/internal/logging"
	"velostat.bikedata.org/internal/models"
	"velostat.bikedata.org/internal/source"
)

// Normalizer applies one year's column mapping and timestamp policy.
type Normalizer struct {
	cfg *config.YearConfig
}

// New returns a Normalizer for the given year configuration.
func New(cfg *config.YearConfig) *Normalizer {
	return &Normalizer{cfg: cfg}
}

// ReadTrips loads the year's trip file and normalizes every row. The
// returned count is the number of raw rows read. A mapped required column
// missing from the file header is a configuration error and aborts the
// read.
func (n *Normalizer) ReadTrips() ([]models.RawTrip, int, error) {
	logger := logging.ForComponent("normalizer")

	var trips []models.RawTrip
	headerChecked := false

	rows, err := source.ForEachRecord(n.cfg.TripsFile, func(r source.Record) error {
		if !headerChecked {
			if err := n.checkTripHeader(r); err != nil {
				return err
			}
			headerChecked = true
		}
		trips = append(trips, n.tripFromRecord(r))
		return nil
	})
	if err != nil {
		return nil, rows, fmt.Errorf("error normalizing trips for %d: %w", n.cfg.Year, err)
	}

	logging.LogOperation(logger, "trips_normalized",
		slog.Int("year", n.cfg.Year),
		slog.Int("rows", rows))

	return trips, rows, nil
}

// ReadStationCandidates loads the standalone station file of a
// separate-file year. Station rows whose code fails numeric coercion are
// dropped; the second return value counts them.
func (n *Normalizer) ReadStationCandidates() ([]models.StationCandidate, int, error) {
	if n.cfg.Class != config.ClassSeparate {
		return nil, 0, fmt.Errorf("year %d has no station file: class is %s", n.cfg.Year, n.cfg.Class)
	}

	logger := logging.ForComponent("normalizer")
	cols := n.cfg.Stations

	var candidates []models.StationCandidate
	dropped := 0
	headerChecked := false

	_, err := source.ForEachRecord(n.cfg.StationsFile, func(r source.Record) error {
		if !headerChecked {
			for name, col := range map[string]string{
				"stations.code": cols.Code,
				"stations.lat":  cols.Lat,
				"stations.lon":  cols.Lon,
			} {
				if !r.Header(col) {
					return fmt.Errorf("required column %q (%s) not present in %s", col, name, n.cfg.StationsFile)
				}
			}
			headerChecked = true
		}

		code := trimmed(r, cols.Code)
		id, err := strconv.ParseInt(code, 10, 64)
		if err != nil {
			dropped++
			return nil
		}

		candidates = append(candidates, models.StationCandidate{
			ID:       sql.NullInt64{Int64: id, Valid: true},
			Name:     toNullString(trimmed(r, cols.Name)),
			Lat:      parseNullFloat(trimmed(r, cols.Lat)),
			Lon:      parseNullFloat(trimmed(r, cols.Lon)),
			District: toNullString(trimmed(r, cols.District)),
		})
		return nil
	})
	if err != nil {
		return nil, dropped, fmt.Errorf("error normalizing stations for %d: %w", n.cfg.Year, err)
	}

	if dropped > 0 {
		logging.LogOperation(logger, "station_rows_dropped_bad_code",
			slog.Int("year", n.cfg.Year),
			slog.Int("dropped", dropped))
	}

	return candidates, dropped, nil
}

// ProjectStationCandidates unions the start-side and end-side station
// attributes of every embedded-class trip into a candidate set. Candidates
// are unique per attribute tuple and keep first-appearance order, which
// later determines canonical ID assignment.
func ProjectStationCandidates(trips []models.RawTrip) []models.StationCandidate {
	seen := make(map[RefKey]bool)
	var candidates []models.StationCandidate

	add := func(ref models.StationRef) {
		key := KeyForRef(ref)
		if seen[key] {
			return
		}
		seen[key] = true
		candidates = append(candidates, models.StationCandidate{
			Name:     ref.Name,
			Lat:      ref.Lat,
			Lon:      ref.Lon,
			District: ref.District,
		})
	}

	for _, t := range trips {
		add(t.StartRef)
		add(t.EndRef)
	}

	return candidates
}

// RefKey identifies a distinct embedded station attribute tuple. Trips are
// matched back to their canonical station through the same key after
// deduplication.
type RefKey struct {
	Name     string
	District string
	Lat      float64
	Lon      float64
	LatValid bool
	LonValid bool
}

// KeyForRef builds the attribute-tuple key for an embedded station
// reference. Coordinates compare exactly; a missing coordinate is part of
// the key, so a tuple without one never keys equal to one that has it.
func KeyForRef(ref models.StationRef) RefKey {
	key := RefKey{
		Name:     ref.Name.String,
		District: ref.District.String,
	}
	if ref.Lat.Valid {
		key.Lat = ref.Lat.Float64
		key.LatValid = true
	}
	if ref.Lon.Valid {
		key.Lon = ref.Lon.Float64
		key.LonValid = true
	}
	return key
}

// checkTripHeader verifies that every mapped required trip column exists in
// the file. Extra unmapped columns in the file are allowed and ignored.
func (n *Normalizer) checkTripHeader(r source.Record) error {
	cols := n.cfg.Trips

	required := map[string]string{
		"trips.start_time": cols.StartTime,
		"trips.end_time":   cols.EndTime,
	}
	switch n.cfg.Class {
	case config.ClassSeparate:
		required["trips.start_station"] = cols.StartStation
		required["trips.end_station"] = cols.EndStation
	case config.ClassEmbedded:
		required["trips.start_lat"] = cols.StartLat
		required["trips.start_lon"] = cols.StartLon
		required["trips.end_lat"] = cols.EndLat
		required["trips.end_lon"] = cols.EndLon
	}

	for name, col := range required {
		if !r.Header(col) {
			return fmt.Errorf("required column %q (%s) not present in %s", col, name, n.cfg.TripsFile)
		}
	}
	return nil
}

func (n *Normalizer) tripFromRecord(r source.Record) models.RawTrip {
	cols := n.cfg.Trips

	trip := models.RawTrip{
		StartTime: n.parseTime(trimmed(r, cols.StartTime)),
		EndTime:   n.parseTime(trimmed(r, cols.EndTime)),
	}

	if cols.Duration != "" {
		trip.DurationSec = parseNullFloat(trimmed(r, cols.Duration))
	}
	if cols.Member != "" {
		trip.IsMember = parseNullBool(trimmed(r, cols.Member))
	}

	switch n.cfg.Class {
	case config.ClassSeparate:
		trip.StartRef = models.StationRef{Code: trimmed(r, cols.StartStation)}
		trip.EndRef = models.StationRef{Code: trimmed(r, cols.EndStation)}
	case config.ClassEmbedded:
		trip.StartRef = models.StationRef{
			Name:     toNullString(trimmed(r, cols.StartName)),
			Lat:      parseNullFloat(trimmed(r, cols.StartLat)),
			Lon:      parseNullFloat(trimmed(r, cols.StartLon)),
			District: toNullString(trimmed(r, cols.StartDistrict)),
		}
		trip.EndRef = models.StationRef{
			Name:     toNullString(trimmed(r, cols.EndName)),
			Lat:      parseNullFloat(trimmed(r, cols.EndLat)),
			Lon:      parseNullFloat(trimmed(r, cols.EndLon)),
			District: toNullString(trimmed(r, cols.EndDistrict)),
		}
	}

	return trip
}

// parseTime decodes a raw timestamp per the year's encoding. Anything
// undecodable becomes null; the validator drops and counts those rows.
func (n *Normalizer) parseTime(s string) models.NullTime {
	if s == "" {
		return models.NullTime{}
	}

	switch n.cfg.TimeEncoding {
	case config.TimeEpochMillis:
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return models.NullTime{}
		}
		return models.NullTime{Time: time.UnixMilli(ms).In(n.cfg.Location()), Valid: true}
	case config.TimeISOLocal:
		t, err := time.ParseInLocation(n.cfg.ISOLayout, s, n.cfg.Location())
		if err != nil {
			return models.NullTime{}
		}
		return models.NullTime{Time: t, Valid: true}
	}
	return models.NullTime{}
}

func trimmed(r source.Record, column string) string {
	if column == "" {
		return ""
	}
	v, _ := r.Get(column)
	return strings.TrimSpace(v)
}

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func parseNullFloat(s string) sql.NullFloat64 {
	if s == "" {
		return sql.NullFloat64{}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

func parseNullBool(s string) sql.NullInt64 {
	if s == "" {
		return sql.NullInt64{}
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return sql.NullInt64{}
	}
	if b {
		return sql.NullInt64{Int64: 1, Valid: true}
	}
	return sql.NullInt64{Int64: 0, Valid: true}
}
