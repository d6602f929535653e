// Package config loads and validates the per-year pipeline configuration.
//
// Each source year publishes trip data under its own raw schema. The config
// file captures everything that varies between years: the structural class
// (station attributes embedded in trip rows vs. a separate station file),
// the source column names, the timestamp encoding, and the timezone the
// timestamps are expressed in. The pipeline itself is year-agnostic.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// StructuralClass describes how a year's raw data carries station identity.
type StructuralClass string

const (
	// ClassEmbedded marks years whose trip rows carry station
	// name/coordinate/district inline instead of a station code.
	ClassEmbedded StructuralClass = "embedded"
	// ClassSeparate marks years with a standalone station file keyed by an
	// explicit station code.
	ClassSeparate StructuralClass = "separate"
)

// TimeEncoding describes how a year's raw timestamps are encoded.
type TimeEncoding string

const (
	TimeEpochMillis TimeEncoding = "epoch_ms"
	TimeISOLocal    TimeEncoding = "iso_local"
)

// DefaultISOLayout is used for iso_local years that do not override it.
const DefaultISOLayout = "2006-01-02 15:04:05"

// TripColumns maps canonical trip fields to source column names.
// Which fields are required depends on the structural class.
type TripColumns struct {
	// Separate-file class: raw station code columns.
	StartStation string `yaml:"start_station"`
	EndStation   string `yaml:"end_station"`

	// Embedded class: inline station attribute columns.
	StartName     string `yaml:"start_name"`
	StartLat      string `yaml:"start_lat"`
	StartLon      string `yaml:"start_lon"`
	StartDistrict string `yaml:"start_district"`
	EndName       string `yaml:"end_name"`
	EndLat        string `yaml:"end_lat"`
	EndLon        string `yaml:"end_lon"`
	EndDistrict   string `yaml:"end_district"`

	StartTime string `yaml:"start_time" validate:"required"`
	EndTime   string `yaml:"end_time" validate:"required"`

	// Optional passthrough columns.
	Duration string `yaml:"duration"`
	Member   string `yaml:"member"`
}

// StationColumns maps canonical station fields to the columns of a
// standalone station file (separate-file class only).
type StationColumns struct {
	Code     string `yaml:"code"`
	Name     string `yaml:"name"`
	Lat      string `yaml:"lat"`
	Lon      string `yaml:"lon"`
	District string `yaml:"district"`
}

// YearConfig is the full pipeline configuration for one source year.
type YearConfig struct {
	Year         int             `yaml:"year" validate:"required,gte=2000,lte=2100"`
	Class        StructuralClass `yaml:"class" validate:"required,oneof=embedded separate"`
	TripsFile    string          `yaml:"trips_file" validate:"required"`
	StationsFile string          `yaml:"stations_file"`
	Timezone     string          `yaml:"timezone" validate:"required"`
	TimeEncoding TimeEncoding    `yaml:"time_encoding" validate:"required,oneof=epoch_ms iso_local"`
	ISOLayout    string          `yaml:"iso_layout"`
	Trips        TripColumns     `yaml:"trips"`
	Stations     StationColumns  `yaml:"stations"`

	location *time.Location
}

// File is the root of the years configuration file.
type File struct {
	Years []YearConfig `yaml:"years" validate:"required,min=1,dive"`
}

// Load reads, parses, and validates a years configuration file. Any problem
// found here is a configuration error: the caller must treat it as fatal
// for the affected run, never as a recoverable data error.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unable to parse config file %s: %w", path, err)
	}

	v := validator.New()
	if err := v.Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	for i := range f.Years {
		if err := f.Years[i].validate(); err != nil {
			return nil, fmt.Errorf("invalid config for year %d: %w", f.Years[i].Year, err)
		}
	}

	return &f, nil
}

// validate enforces the class-dependent mapping requirements and resolves
// the timezone. A required field left unmapped is a configuration error.
func (yc *YearConfig) validate() error {
	loc, err := time.LoadLocation(yc.Timezone)
	if err != nil {
		return fmt.Errorf("unknown timezone %q: %w", yc.Timezone, err)
	}
	yc.location = loc

	if yc.ISOLayout == "" {
		yc.ISOLayout = DefaultISOLayout
	}

	switch yc.Class {
	case ClassSeparate:
		if yc.StationsFile == "" {
			return fmt.Errorf("stations_file is required for the separate-file class")
		}
		for name, col := range map[string]string{
			"trips.start_station": yc.Trips.StartStation,
			"trips.end_station":   yc.Trips.EndStation,
			"stations.code":       yc.Stations.Code,
			"stations.lat":        yc.Stations.Lat,
			"stations.lon":        yc.Stations.Lon,
		} {
			if col == "" {
				return fmt.Errorf("required column mapping %s is missing", name)
			}
		}
	case ClassEmbedded:
		for name, col := range map[string]string{
			"trips.start_lat": yc.Trips.StartLat,
			"trips.start_lon": yc.Trips.StartLon,
			"trips.end_lat":   yc.Trips.EndLat,
			"trips.end_lon":   yc.Trips.EndLon,
		} {
			if col == "" {
				return fmt.Errorf("required column mapping %s is missing", name)
			}
		}
	}

	return nil
}

// Location returns the year's IANA timezone. Load guarantees it is set.
func (yc *YearConfig) Location() *time.Location {
	if yc.location == nil {
		return time.UTC
	}
	return yc.location
}

// YearStart returns the first instant of the configured calendar year in
// the year's timezone.
func (yc *YearConfig) YearStart() time.Time {
	return time.Date(yc.Year, time.January, 1, 0, 0, 0, 0, yc.Location())
}

// NextYearStart returns the first instant of the following calendar year.
func (yc *YearConfig) NextYearStart() time.Time {
	return time.Date(yc.Year+1, time.January, 1, 0, 0, 0, 0, yc.Location())
}
