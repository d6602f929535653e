// Package validate filters trip rows that cannot survive into the
// canonical dataset: non-numeric station identifiers, null or inverted time
// ranges, and timestamps outside the dataset's calendar year. Violating
// rows are removed wholesale and counted; nothing is repaired.
package validate

import (
	"log/slog"
	"strconv"

	"velostat.bikedata.org/internal/config"
	"velostat.bikedata.org/internal/dedupe"
	"velostat.bikedata.org/internal/logging"
	"velostat.bikedata.org/internal/models"
)

// CoerceStationCodes converts the raw station code of every separate-file
// trip row to a numeric ID. Rows whose start or end code fails numeric
// coercion are dropped and counted; a handful of malformed rows per year
// carry placeholder codes such as "MTL-ECO5.1-01".
func CoerceStationCodes(trips []models.RawTrip) ([]dedupe.CodedTrip, int) {
	logger := logging.ForComponent("trip_validator")

	coded := make([]dedupe.CodedTrip, 0, len(trips))
	dropped := 0

	for _, t := range trips {
		startID, err := strconv.ParseInt(t.StartRef.Code, 10, 64)
		if err != nil {
			dropped++
			continue
		}
		endID, err := strconv.ParseInt(t.EndRef.Code, 10, 64)
		if err != nil {
			dropped++
			continue
		}
		coded = append(coded, dedupe.CodedTrip{StartID: startID, EndID: endID, Trip: t})
	}

	if dropped > 0 {
		logging.LogOperation(logger, "trips_dropped_bad_station_code",
			slog.Int("dropped", dropped))
	}

	return coded, dropped
}

// Temporal drops trips with null timestamps, inverted ranges, or timestamps
// outside the configured calendar year. The year boundary check uses the
// year's configured timezone: start_time must not fall before Jan 1 of the
// year, and end_time must fall before Jan 1 of the next year.
func Temporal(trips []models.ResolvedTrip, yc *config.YearConfig) ([]models.Trip, models.DropStats) {
	logger := logging.ForComponent("trip_validator")

	yearStart := yc.YearStart()
	nextYearStart := yc.NextYearStart()

	valid := make([]models.Trip, 0, len(trips))
	var drops models.DropStats

	for _, t := range trips {
		switch {
		case !t.StartTime.Valid || !t.EndTime.Valid:
			drops.NullTime++
		case t.StartTime.Time.After(t.EndTime.Time):
			drops.InvertedRange++
		case t.StartTime.Time.Before(yearStart) || !t.EndTime.Time.Before(nextYearStart):
			drops.OutOfYear++
		default:
			valid = append(valid, models.Trip{
				StartStationID: t.StartStationID,
				StartTime:      t.StartTime.Time,
				EndStationID:   t.EndStationID,
				EndTime:        t.EndTime.Time,
				DurationSec:    t.DurationSec,
				IsMember:       t.IsMember,
			})
		}
	}

	if drops.Total() > 0 {
		logging.LogOperation(logger, "trips_dropped_temporal",
			slog.Int("year", yc.Year),
			slog.Int("null_time", drops.NullTime),
			slog.Int("inverted_range", drops.InvertedRange),
			slog.Int("out_of_year", drops.OutOfYear))
	}

	return valid, drops
}
