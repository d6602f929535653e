// Package models defines the canonical data model shared by the pipeline
// stages: stations, trips, and the derived concurrency series.
package models

import (
	"database/sql"
	"time"
)

// Station is one canonical docking station for a given year. After
// deduplication no two stations of the same year share a (Lat, Lon) pair.
// IDs are stable within a year but carry no meaning across years.
type Station struct {
	ID       int64
	Name     sql.NullString
	Lat      sql.NullFloat64
	Lon      sql.NullFloat64
	District sql.NullString
}

// HasCoordinates reports whether both coordinates are present. Stations
// without coordinates are never merged with anything.
func (s Station) HasCoordinates() bool {
	return s.Lat.Valid && s.Lon.Valid
}

// RawTrip is a trip row after schema normalization but before station
// reconciliation and temporal validation. Station references are still the
// raw source tokens: either a station code (separate-file years) or an
// inline coordinate (embedded-station years).
type RawTrip struct {
	StartRef    StationRef
	EndRef      StationRef
	StartTime   NullTime
	EndTime     NullTime
	DurationSec sql.NullFloat64
	IsMember    sql.NullInt64
}

// StationRef identifies a station the way the raw row did.
type StationRef struct {
	// Code is the raw station identifier token for separate-file years.
	Code string
	// Name, Lat, Lon, District are the inline attributes for
	// embedded-station years.
	Name     sql.NullString
	Lat      sql.NullFloat64
	Lon      sql.NullFloat64
	District sql.NullString
}

// StationCandidate is a station row before deduplication. For
// separate-file years the ID comes from the station file; for embedded
// years no ID exists yet and IDs are assigned after deduplication.
type StationCandidate struct {
	ID       sql.NullInt64
	Name     sql.NullString
	Lat      sql.NullFloat64
	Lon      sql.NullFloat64
	District sql.NullString
}

// HasCoordinates reports whether both coordinates are present.
func (c StationCandidate) HasCoordinates() bool {
	return c.Lat.Valid && c.Lon.Valid
}

// NullTime mirrors sql.NullTime; kept local so the model does not depend on
// the driver used downstream.
type NullTime struct {
	Time  time.Time
	Valid bool
}

// ResolvedTrip is a trip whose station references have been rewritten to
// canonical station IDs but whose timestamps have not yet been validated.
type ResolvedTrip struct {
	StartStationID int64
	EndStationID   int64
	StartTime      NullTime
	EndTime        NullTime
	DurationSec    sql.NullFloat64
	IsMember       sql.NullInt64
}

// Trip is a fully reconciled and validated trip. Both station IDs reference
// a canonical Station of the same year.
type Trip struct {
	StartStationID int64
	StartTime      time.Time
	EndStationID   int64
	EndTime        time.Time
	DurationSec    sql.NullFloat64
	IsMember       sql.NullInt64
}

// ConcurrencyPoint is the number of trips overlapping one fixed-width time
// bucket.
type ConcurrencyPoint struct {
	BucketIndex int
	BucketStart time.Time
	Count       int
}

// DropStats counts rows excluded during validation, by reason.
type DropStats struct {
	BadStationRef int
	NullTime      int
	InvertedRange int
	OutOfYear     int
}

// Total returns the number of rows dropped for any reason.
func (d DropStats) Total() int {
	return d.BadStationRef + d.NullTime + d.InvertedRange + d.OutOfYear
}

// YearSummary is the per-year pipeline outcome reported to the caller.
type YearSummary struct {
	Year            int
	RawRows         int
	Stations        int
	StationsMerged  int
	Trips           int
	Dropped         DropStats
	PeakConcurrency int
	PeakBucketStart time.Time
	Buckets         int
	Elapsed         time.Duration
}
