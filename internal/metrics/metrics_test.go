package metrics

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m := New()

	assert.NotNil(t, m.Registry)
	assert.NotNil(t, m.RowsRead)
	assert.NotNil(t, m.RowsDropped)
	assert.NotNil(t, m.StationsMerged)
	assert.NotNil(t, m.PeakConcurrency)
	assert.NotNil(t, m.StageDuration)
	assert.NotNil(t, m.DBConnectionsOpen)
	assert.NotNil(t, m.DBWaitSecondsTotal)
}

func TestNewWithLogger(t *testing.T) {
	m := NewWithLogger(nil)
	assert.NotNil(t, m)
	assert.Nil(t, m.logger)
}

func TestPipelineCounters(t *testing.T) {
	m := New()

	m.RowsRead.WithLabelValues("2017", "trips").Add(100)
	m.RowsDropped.WithLabelValues("2017", "inverted_range").Add(3)
	m.StationsMerged.WithLabelValues("2017").Add(2)
	m.PeakConcurrency.WithLabelValues("2017").Set(512)

	assert.Equal(t, 100.0, testutil.ToFloat64(m.RowsRead.WithLabelValues("2017", "trips")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsDropped.WithLabelValues("2017", "inverted_range")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StationsMerged.WithLabelValues("2017")))
	assert.Equal(t, 512.0, testutil.ToFloat64(m.PeakConcurrency.WithLabelValues("2017")))
}

func TestStartDBStatsCollector_NilDB(t *testing.T) {
	m := New()
	// Should not panic with nil DB
	m.StartDBStatsCollector(nil, time.Second)
	// Collector should not be marked as started
	assert.False(t, m.collectorStarted.Load())
}

func TestStartDBStatsCollector_Idempotent(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	m := New()

	// Start collector first time
	m.StartDBStatsCollector(db, 100*time.Millisecond)
	assert.True(t, m.collectorStarted.Load())

	// Second call should be no-op
	m.StartDBStatsCollector(db, 100*time.Millisecond)
	assert.True(t, m.collectorStarted.Load())

	m.Shutdown()
}

func TestShutdown_SafeWithoutStart(t *testing.T) {
	m := New()
	// Shutdown without a running collector must not block or panic
	m.Shutdown()
}
