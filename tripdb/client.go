// Package tripdb persists one year's canonical stations and trips in a
// SQLite database. Each year gets its own database file; years never share
// state.
package tripdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3" // CGo-based SQLite driver

	"velostat.bikedata.org/internal/logging"
	"velostat.bikedata.org/internal/models"
)

// TimeLayout is the textual timestamp representation stored in the trips
// table and used by the CSV exports.
const TimeLayout = "2006-01-02 15:04:05"

// Client is the main entry point for the library
type Client struct {
	config        Config
	DB            *sql.DB
	Queries       *Queries
	importRuntime time.Duration
}

// NewClient creates a new Client with the provided configuration
func NewClient(config Config) (*Client, error) {
	db, err := createDB(config)
	if err != nil {
		return nil, fmt.Errorf("unable to create DB: %w", err)
	}

	client := &Client{
		config:  config,
		DB:      db,
		Queries: New(db),
	}
	return client, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) GetDBPath() string {
	return c.config.DBPath
}

// ImportRuntime reports how long the last ImportYear call took.
func (c *Client) ImportRuntime() time.Duration {
	return c.importRuntime
}

// ImportYearParams carries one year's canonical data into the store.
type ImportYearParams struct {
	Year     int
	Source   string
	FileHash string
	Stations []models.Station
	Trips    []models.Trip
}

// ImportYear replaces the database contents with the given canonical data.
// If the stored import metadata matches the new source and hash, the import
// is skipped and ImportYear reports skipped=true. After inserting, the
// station references of the trips table are verified; a dangling reference
// fails the import.
func (c *Client) ImportYear(ctx context.Context, arg ImportYearParams) (skipped bool, err error) {
	logger := logging.ForComponent("trip_importer")

	startTime := time.Now()
	defer func() {
		c.importRuntime = time.Since(startTime)
		logging.LogOperation(logger, "year_import_finished",
			slog.Int("year", arg.Year),
			slog.Duration("duration", c.importRuntime),
			slog.Bool("skipped", skipped))
	}()

	existing, err := c.Queries.GetImportMetadata(ctx)
	if err == nil {
		if existing.FileHash == arg.FileHash && existing.FileSource == arg.Source {
			logging.LogOperation(logger, "source_unchanged_skipping_import",
				slog.Int("year", arg.Year),
				slog.String("hash", shortHash(arg.FileHash)))
			return true, nil
		}
		logging.LogOperation(logger, "source_changed_reimporting",
			slog.String("old_hash", shortHash(existing.FileHash)),
			slog.String("new_hash", shortHash(arg.FileHash)))
		if err := c.clearAll(ctx); err != nil {
			return false, fmt.Errorf("error clearing existing data: %w", err)
		}
	} else if err != sql.ErrNoRows {
		return false, fmt.Errorf("error checking import metadata: %w", err)
	}

	if err := c.bulkInsertStations(ctx, arg.Stations); err != nil {
		return false, fmt.Errorf("unable to insert stations: %w", err)
	}
	if err := c.bulkInsertTrips(ctx, arg.Trips); err != nil {
		return false, fmt.Errorf("unable to insert trips: %w", err)
	}

	orphans, err := c.Queries.CountOrphanTripRefs(ctx)
	if err != nil {
		return false, fmt.Errorf("unable to verify trip references: %w", err)
	}
	if orphans > 0 {
		return false, fmt.Errorf("referential integrity violation: %d trips reference unknown stations", orphans)
	}

	err = c.Queries.UpsertImportMetadata(ctx, UpsertImportMetadataParams{
		FileHash:   arg.FileHash,
		ImportTime: time.Now().Unix(),
		FileSource: arg.Source,
		Year:       int64(arg.Year),
	})
	if err != nil {
		return false, fmt.Errorf("error updating import metadata: %w", err)
	}

	return false, nil
}

// clearAll removes all canonical data; trips first to respect the foreign
// key relationship.
func (c *Client) clearAll(ctx context.Context) error {
	if err := c.Queries.ClearTrips(ctx); err != nil {
		return fmt.Errorf("error clearing trips: %w", err)
	}
	if err := c.Queries.ClearStations(ctx); err != nil {
		return fmt.Errorf("error clearing stations: %w", err)
	}
	return nil
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
