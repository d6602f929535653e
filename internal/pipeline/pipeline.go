// Package pipeline wires the per-year stages together: normalization,
// station deduplication, reconciliation, temporal validation, concurrency
// estimation, persistence and export.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"velostat.bikedata.org/internal/appconf"
	"velostat.bikedata.org/internal/concurrency"
	"velostat.bikedata.org/internal/config"
	"velostat.bikedata.org/internal/dedupe"
	"velostat.bikedata.org/internal/export"
	"velostat.bikedata.org/internal/logging"
	"velostat.bikedata.org/internal/metrics"
	"velostat.bikedata.org/internal/models"
	"velostat.bikedata.org/internal/normalize"
	"velostat.bikedata.org/internal/spatial"
	"velostat.bikedata.org/internal/validate"
	"velostat.bikedata.org/tripdb"
)

// NearDuplicateRadiusMeters is the distance under which two distinct
// canonical stations are flagged as likely duplicates with drifted
// coordinates. Flagging is diagnostic only; the stations stay separate.
const NearDuplicateRadiusMeters = 25.0

// DefaultTopFlows is the number of station pairs written to the flows export.
const DefaultTopFlows = 50

// minTripsForShapeCheck keeps the commute-shape diagnostic quiet on tiny
// datasets where an hour histogram is meaningless.
const minTripsForShapeCheck = 1000

// Options holds the knobs shared by every year run.
type Options struct {
	Env         appconf.Environment
	OutputDir   string
	Compress    bool
	BucketWidth time.Duration
	TopFlows    int
	Metrics     *metrics.Metrics
}

// Pipeline runs the full chain of stages for a single year.
type Pipeline struct {
	cfg    *config.YearConfig
	opts   Options
	logger *slog.Logger
}

// New creates a Pipeline for the given year configuration.
func New(yc *config.YearConfig, opts Options) *Pipeline {
	if opts.BucketWidth <= 0 {
		opts.BucketWidth = concurrency.DefaultBucketWidth
	}
	if opts.TopFlows <= 0 {
		opts.TopFlows = DefaultTopFlows
	}
	return &Pipeline{
		cfg:    yc,
		opts:   opts,
		logger: logging.ForComponent("pipeline").With(slog.Int("year", yc.Year)),
	}
}

// Run executes every stage for the year and returns its summary.
func (p *Pipeline) Run(ctx context.Context) (*models.YearSummary, error) {
	started := time.Now()
	year := fmt.Sprintf("%d", p.cfg.Year)

	logging.LogOperation(p.logger, "year_started",
		slog.String("class", string(p.cfg.Class)),
		slog.String("trips_file", p.cfg.TripsFile),
	)

	n := normalize.New(p.cfg)

	var trips []models.RawTrip
	var rawRows int
	err := p.timed("normalize", func() error {
		var err error
		trips, rawRows, err = n.ReadTrips()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading trips for %d: %w", p.cfg.Year, err)
	}
	if p.opts.Metrics != nil {
		p.opts.Metrics.RowsRead.WithLabelValues(year, "trips").Add(float64(rawRows))
	}

	var res *dedupe.Result
	var resolved []models.ResolvedTrip
	var drops models.DropStats

	switch p.cfg.Class {
	case config.ClassSeparate:
		res, resolved, drops, err = p.runSeparate(n, trips, year)
	case config.ClassEmbedded:
		res, resolved, err = p.runEmbedded(trips)
	default:
		err = fmt.Errorf("unknown structural class %q", p.cfg.Class)
	}
	if err != nil {
		return nil, err
	}

	logging.LogOperation(p.logger, "stations_deduplicated",
		slog.Int("canonical", len(res.Stations)),
		slog.Int("merged", res.Merged),
	)
	if p.opts.Metrics != nil {
		p.opts.Metrics.StationsMerged.WithLabelValues(year).Add(float64(res.Merged))
	}
	p.reportNearDuplicates(res.Stations)

	var clean []models.Trip
	var temporalDrops models.DropStats
	_ = p.timed("validate", func() error {
		clean, temporalDrops = validate.Temporal(resolved, p.cfg)
		return nil
	})
	drops.NullTime += temporalDrops.NullTime
	drops.InvertedRange += temporalDrops.InvertedRange
	drops.OutOfYear += temporalDrops.OutOfYear
	p.reportDrops(year, drops)

	var series *concurrency.Series
	_ = p.timed("estimate", func() error {
		series = concurrency.Estimate(clean, p.opts.BucketWidth)
		return nil
	})

	peak, peakIdx := series.Peak()
	if p.opts.Metrics != nil {
		p.opts.Metrics.PeakConcurrency.WithLabelValues(year).Set(float64(peak))
	}
	p.reportRushHourShape(clean)

	if err := p.persist(ctx, res.Stations, clean); err != nil {
		return nil, err
	}
	if err := p.export(res.Stations, clean, series); err != nil {
		return nil, err
	}

	summary := &models.YearSummary{
		Year:            p.cfg.Year,
		RawRows:         rawRows,
		Stations:        len(res.Stations),
		StationsMerged:  res.Merged,
		Trips:           len(clean),
		Dropped:         drops,
		PeakConcurrency: peak,
		Buckets:         len(series.Counts),
		Elapsed:         time.Since(started),
	}
	if peak > 0 {
		summary.PeakBucketStart = series.BucketStart(peakIdx)
	}

	logging.LogOperation(p.logger, "year_finished",
		slog.Int("raw_rows", summary.RawRows),
		slog.Int("stations", summary.Stations),
		slog.Int("trips", summary.Trips),
		slog.Int("dropped", summary.Dropped.Total()),
		slog.Int("peak_concurrency", summary.PeakConcurrency),
		slog.Duration("elapsed", summary.Elapsed),
	)
	return summary, nil
}

// runSeparate resolves stations from the year's dedicated station file and
// reconciles trips through their numeric station codes.
func (p *Pipeline) runSeparate(n *normalize.Normalizer, trips []models.RawTrip, year string) (*dedupe.Result, []models.ResolvedTrip, models.DropStats, error) {
	var drops models.DropStats

	candidates, droppedCodes, err := n.ReadStationCandidates()
	if err != nil {
		return nil, nil, drops, fmt.Errorf("reading stations for %d: %w", p.cfg.Year, err)
	}
	if p.opts.Metrics != nil {
		p.opts.Metrics.RowsRead.WithLabelValues(year, "stations").Add(float64(len(candidates) + droppedCodes))
	}
	if droppedCodes > 0 {
		p.logger.Warn("station rows with unparseable codes dropped", "count", droppedCodes)
	}

	var res *dedupe.Result
	err = p.timed("dedupe", func() error {
		var err error
		res, err = dedupe.DeduplicateByID(candidates)
		return err
	})
	if err != nil {
		return nil, nil, drops, fmt.Errorf("deduplicating stations for %d: %w", p.cfg.Year, err)
	}

	coded, badRefs := validate.CoerceStationCodes(trips)
	drops.BadStationRef += badRefs

	var resolved []models.ResolvedTrip
	err = p.timed("reconcile", func() error {
		var err error
		resolved, err = dedupe.ReconcileIDs(coded, res)
		return err
	})
	if err != nil {
		return nil, nil, drops, fmt.Errorf("reconciling trips for %d: %w", p.cfg.Year, err)
	}
	return res, resolved, drops, nil
}

// runEmbedded derives station candidates from the trip rows themselves.
func (p *Pipeline) runEmbedded(trips []models.RawTrip) (*dedupe.Result, []models.ResolvedTrip, error) {
	var res *dedupe.Result
	_ = p.timed("dedupe", func() error {
		candidates := normalize.ProjectStationCandidates(trips)
		res = dedupe.DeduplicateEmbedded(candidates)
		return nil
	})

	var resolved []models.ResolvedTrip
	err := p.timed("reconcile", func() error {
		var err error
		resolved, err = dedupe.ReconcileRefs(trips, res)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reconciling trips for %d: %w", p.cfg.Year, err)
	}
	return res, resolved, nil
}

// persist writes the canonical data into the year's SQLite store, skipping
// the import when the source file is unchanged since the previous run.
func (p *Pipeline) persist(ctx context.Context, stations []models.Station, trips []models.Trip) error {
	return p.timed("persist", func() error {
		hash, err := fileHash(p.cfg.TripsFile)
		if err != nil {
			return fmt.Errorf("hashing %s: %w", p.cfg.TripsFile, err)
		}

		dbPath := filepath.Join(p.opts.OutputDir, fmt.Sprintf("velostat_%d.db", p.cfg.Year))
		if p.opts.Env == appconf.Test {
			// Test databases are always in-memory.
			dbPath = ":memory:"
		}
		client, err := tripdb.NewClient(tripdb.NewConfig(dbPath, p.opts.Env, p.opts.Env != appconf.Production))
		if err != nil {
			return fmt.Errorf("opening trip database: %w", err)
		}
		defer logging.SafeCloseWithLogging(client, p.logger, "trip database")

		skipped, err := client.ImportYear(ctx, tripdb.ImportYearParams{
			Year:     p.cfg.Year,
			Source:   p.cfg.TripsFile,
			FileHash: hash,
			Stations: stations,
			Trips:    trips,
		})
		if err != nil {
			return fmt.Errorf("importing year %d: %w", p.cfg.Year, err)
		}
		if skipped {
			logging.LogOperation(p.logger, "import_skipped", slog.String("db", dbPath))
		}
		return nil
	})
}

// export writes the canonical CSV artifacts for the year.
func (p *Pipeline) export(stations []models.Station, trips []models.Trip, series *concurrency.Series) error {
	return p.timed("export", func() error {
		w := export.New(p.opts.OutputDir, p.cfg.Year, p.opts.Compress)
		if _, err := w.WriteStations(stations); err != nil {
			return fmt.Errorf("writing stations export: %w", err)
		}
		if _, err := w.WriteTrips(trips); err != nil {
			return fmt.Errorf("writing trips export: %w", err)
		}
		if _, err := w.WriteConcurrency(series); err != nil {
			return fmt.Errorf("writing concurrency export: %w", err)
		}
		if _, err := w.WriteTopFlows(trips, stations, p.opts.TopFlows); err != nil {
			return fmt.Errorf("writing flows export: %w", err)
		}
		return nil
	})
}

// reportNearDuplicates logs canonical station pairs that sit suspiciously
// close together. Coordinate drift across source years produces these; the
// pipeline keeps them separate but an operator may want to patch the source.
func (p *Pipeline) reportNearDuplicates(stations []models.Station) {
	pairs := spatial.NearDuplicates(stations, NearDuplicateRadiusMeters)
	for _, pair := range pairs {
		p.logger.Warn("canonical stations within near-duplicate radius",
			"station_a", pair.A.ID,
			"station_b", pair.B.ID,
			"meters", fmt.Sprintf("%.1f", pair.Meters),
		)
	}
}

// reportDrops logs and counts every validation drop bucket.
func (p *Pipeline) reportDrops(year string, drops models.DropStats) {
	if p.opts.Metrics != nil {
		m := p.opts.Metrics.RowsDropped
		m.WithLabelValues(year, "bad_station_ref").Add(float64(drops.BadStationRef))
		m.WithLabelValues(year, "null_time").Add(float64(drops.NullTime))
		m.WithLabelValues(year, "inverted_range").Add(float64(drops.InvertedRange))
		m.WithLabelValues(year, "out_of_year").Add(float64(drops.OutOfYear))
	}
	if drops.Total() > 0 {
		p.logger.Info("rows dropped during validation",
			"bad_station_ref", drops.BadStationRef,
			"null_time", drops.NullTime,
			"inverted_range", drops.InvertedRange,
			"out_of_year", drops.OutOfYear,
		)
	}
}

// reportRushHourShape sanity-checks the hour-of-day distribution of trip
// starts against the expected commute shape: a morning and an evening rush
// both busier than midday. A year that fails the check usually has its
// timestamps decoded in the wrong timezone.
func (p *Pipeline) reportRushHourShape(trips []models.Trip) {
	if len(trips) < minTripsForShapeCheck {
		return
	}

	var byHour [24]int
	for _, t := range trips {
		byHour[t.StartTime.Hour()]++
	}

	maxIn := func(from, to int) int {
		max := 0
		for h := from; h < to; h++ {
			if byHour[h] > max {
				max = byHour[h]
			}
		}
		return max
	}

	morning := maxIn(6, 10)
	midday := maxIn(10, 15)
	evening := maxIn(15, 20)

	if morning <= midday || evening <= midday {
		p.logger.Warn("trip starts lack the expected commute bimodality",
			"morning_peak", morning,
			"midday_peak", midday,
			"evening_peak", evening,
		)
	}
}

// timed runs fn and records its duration under the stage label.
func (p *Pipeline) timed(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	if p.opts.Metrics != nil {
		p.opts.Metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
	return err
}

// fileHash returns the hex-encoded SHA-256 of the file at path.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
