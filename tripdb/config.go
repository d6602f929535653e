package tripdb

import "velostat.bikedata.org/internal/appconf"

const defaultBulkInsertBatchSize = 3000

// Config holds the settings for a per-year trip database.
type Config struct {
	DBPath              string
	Env                 appconf.Environment
	BulkInsertBatchSize int
	verbose             bool
}

// NewConfig creates a Config with the provided path, environment and
// verbosity.
func NewConfig(dbPath string, env appconf.Environment, verbose bool) Config {
	return Config{
		DBPath:  dbPath,
		Env:     env,
		verbose: verbose,
	}
}

// GetBulkInsertBatchSize returns the number of rows per multi-row INSERT.
// The default keeps the bound-parameter count well under SQLite's limit.
func (c Config) GetBulkInsertBatchSize() int {
	if c.BulkInsertBatchSize > 0 {
		return c.BulkInsertBatchSize
	}
	return defaultBulkInsertBatchSize
}
