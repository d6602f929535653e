package tripdb

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // CGo-based SQLite driver

	"velostat.bikedata.org/internal/appconf"
	"velostat.bikedata.org/internal/logging"
	"velostat.bikedata.org/internal/models"
)

//go:embed schema.sql
var ddl string

// createDB creates a new SQLite database with tables for canonical trip data
func createDB(config Config) (*sql.DB, error) {
	if config.Env == appconf.Test && config.DBPath != ":memory:" {
		return nil, fmt.Errorf("test database must use in-memory storage, got path: %s", config.DBPath)
	}

	db, err := sql.Open("sqlite3", config.DBPath)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := configureSQLitePerformance(ctx, db); err != nil {
		return nil, fmt.Errorf("error configuring SQLite performance: %w", err)
	}

	if err := performDatabaseMigration(ctx, db); err != nil {
		return nil, fmt.Errorf("error performing database migration: %w", err)
	}

	configureConnectionPool(db, config)

	return db, nil
}

func performDatabaseMigration(ctx context.Context, db *sql.DB) error {
	statements := strings.Split(ddl, "-- migrate") // Split DDL into individual statements
	for _, stmt := range statements {
		trimmedStmt := strings.TrimSpace(stmt)
		if trimmedStmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, trimmedStmt); err != nil {
			return fmt.Errorf("error executing DDL statement [%s]: %w", trimmedStmt, err)
		}
	}
	return nil
}

// configureSQLitePerformance applies PRAGMA settings to speed up bulk
// imports and queries.
func configureSQLitePerformance(ctx context.Context, db *sql.DB) error {
	pragmas := []struct {
		name        string
		description string
	}{
		// Increase cache size to 64MB (negative value means KB)
		{"PRAGMA cache_size=-64000", "Set cache size to 64MB"},
		// Store temp tables and indices in memory for faster operations
		{"PRAGMA temp_store=MEMORY", "Store temporary data in memory"},
	}

	logger := logging.ForComponent("sqlite_performance")

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma.name); err != nil {
			logging.LogError(logger, fmt.Sprintf("Failed to set %s", pragma.description), err)
			return fmt.Errorf("failed to execute %s: %w", pragma.name, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return nil
}

// configureConnectionPool sets up connection pool settings for SQLite.
// Each connection to a :memory: database is its own separate database, so
// in-memory databases are limited to a single connection.
func configureConnectionPool(db *sql.DB, config Config) {
	if config.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
}

func (c *Client) bulkInsertStations(ctx context.Context, stations []models.Station) error {
	logger := logging.ForComponent("bulk_insert")

	logging.LogOperation(logger, "inserting_stations",
		slog.Int("count", len(stations)))

	tx, err := c.DB.Begin()
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "bulk_insert_stations")

	qtx := c.Queries.WithTx(tx)
	for _, s := range stations {
		params := CreateStationParams{
			ID:       s.ID,
			Name:     s.Name,
			Lat:      s.Lat,
			Lon:      s.Lon,
			District: s.District,
		}
		if err := qtx.CreateStation(ctx, params); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logging.LogOperation(logger, "stations_inserted",
		slog.Int("count", len(stations)))

	return nil
}

// preparedTripBatch holds a prepared SQL statement with its arguments
type preparedTripBatch struct {
	query string
	args  []interface{}
	index int // Original index for ordering
	end   int // End position for progress logging
}

// bulkInsertTrips inserts trips with multi-row INSERT statements. Statement
// preparation runs on a worker pool in parallel with nothing else to do;
// execution is sequential inside one transaction. Trip sets reach millions
// of rows per year, so per-row INSERTs are far too slow.
func (c *Client) bulkInsertTrips(ctx context.Context, trips []models.Trip) error {
	logger := logging.ForComponent("bulk_insert")

	logging.LogOperation(logger, "inserting_trips",
		slog.Int("count", len(trips)))

	batchSize := c.config.GetBulkInsertBatchSize()
	const baseQuery = `INSERT INTO trips (
		start_station_id, start_time, end_station_id, end_time, duration_sec, is_member
	) VALUES `

	numBatches := (len(trips) + batchSize - 1) / batchSize

	tx, err := c.DB.Begin()
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "bulk_insert_trips")

	numWorkers := runtime.NumCPU()
	batchChan := make(chan int, numWorkers)
	resultsChan := make(chan preparedTripBatch, numWorkers*4)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batchIndex := range batchChan {
				select {
				case <-ctx.Done():
					return
				default:
				}

				start := batchIndex * batchSize
				end := start + batchSize
				if end > len(trips) {
					end = len(trips)
				}
				batch := trips[start:end]

				// Only placeholders (?) reach the query string; values are
				// always bound.
				var query strings.Builder
				query.WriteString(baseQuery)
				args := make([]interface{}, 0, len(batch)*6)

				for j, t := range batch {
					if j > 0 {
						query.WriteString(", ")
					}
					query.WriteString("(?, ?, ?, ?, ?, ?)")

					args = append(args,
						t.StartStationID,
						t.StartTime.Format(TimeLayout),
						t.EndStationID,
						t.EndTime.Format(TimeLayout),
						t.DurationSec,
						t.IsMember,
					)
				}

				resultsChan <- preparedTripBatch{
					query: query.String(),
					args:  args,
					index: batchIndex,
					end:   end,
				}
			}
		}()
	}

	go func() {
		defer close(batchChan)
		for i := 0; i < numBatches; i++ {
			select {
			case <-ctx.Done():
				return
			case batchChan <- i:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	preparedBatches := make([]preparedTripBatch, 0, numBatches)
	for batch := range resultsChan {
		preparedBatches = append(preparedBatches, batch)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Sort batches by index to maintain insertion order
	sort.Slice(preparedBatches, func(i, j int) bool {
		return preparedBatches[i].index < preparedBatches[j].index
	})

	for _, batch := range preparedBatches {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if _, err := tx.ExecContext(ctx, batch.query, batch.args...); err != nil {
			return fmt.Errorf("failed to insert trips batch: %w", err)
		}

		// Log progress every 100k records
		if batch.end%100000 == 0 || batch.end == len(trips) {
			logging.LogOperation(logger, "trips_progress",
				slog.Int("inserted", batch.end),
				slog.Int("total", len(trips)))
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logging.LogOperation(logger, "trips_inserted",
		slog.Int("count", len(trips)))

	return nil
}

// TableCounts returns row counts for the canonical tables.
func (c *Client) TableCounts() (map[string]int, error) {
	counts := make(map[string]int)

	tableCountQueries := map[string]string{
		"stations":        "SELECT COUNT(*) FROM stations",
		"trips":           "SELECT COUNT(*) FROM trips",
		"import_metadata": "SELECT COUNT(*) FROM import_metadata",
	}

	for table, query := range tableCountQueries {
		var count int
		if err := c.DB.QueryRow(query).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = count
	}

	return counts, nil
}
