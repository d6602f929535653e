// Package app ties the process-wide dependencies together and drives the
// per-year pipelines.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"velostat.bikedata.org/internal/appconf"
	"velostat.bikedata.org/internal/clock"
	"velostat.bikedata.org/internal/config"
	"velostat.bikedata.org/internal/logging"
	"velostat.bikedata.org/internal/metrics"
	"velostat.bikedata.org/internal/models"
	"velostat.bikedata.org/internal/pipeline"
)

// Application holds the dependencies shared by every year run.
type Application struct {
	Config  appconf.Config
	Years   *config.File
	Logger  *slog.Logger
	Clock   clock.Clock
	Metrics *metrics.Metrics
}

// New assembles an Application from loaded configuration.
func New(cfg appconf.Config, years *config.File, logger *slog.Logger) *Application {
	return &Application{
		Config:  cfg,
		Years:   years,
		Logger:  logger,
		Clock:   clock.RealClock{},
		Metrics: metrics.NewWithLogger(logger),
	}
}

// Run processes every configured year in parallel. A failing year does not
// stop the others; the joined error reports each failure.
func (a *Application) Run(ctx context.Context) ([]models.YearSummary, error) {
	started := a.Clock.Now()

	opts := pipeline.Options{
		Env:       a.Config.Env,
		OutputDir: a.Config.OutputDir,
		Compress:  a.Config.Env == appconf.Production,
		Metrics:   a.Metrics,
	}

	summaries := make([]*models.YearSummary, len(a.Years.Years))
	errs := make([]error, len(a.Years.Years))

	var wg sync.WaitGroup
	for i := range a.Years.Years {
		yc := a.Years.Years[i]
		a.resolvePaths(&yc)

		wg.Add(1)
		go func(i int, yc config.YearConfig) {
			defer wg.Done()
			summary, err := pipeline.New(&yc, opts).Run(ctx)
			if err != nil {
				errs[i] = fmt.Errorf("year %d: %w", yc.Year, err)
				return
			}
			summaries[i] = summary
		}(i, yc)
	}
	wg.Wait()

	var out []models.YearSummary
	for _, s := range summaries {
		if s != nil {
			out = append(out, *s)
		}
	}

	logging.LogOperation(a.Logger, "run_finished",
		slog.Int("years", len(out)),
		slog.Int("failed", len(a.Years.Years)-len(out)),
		slog.Duration("elapsed", a.Clock.Now().Sub(started)),
	)
	return out, errors.Join(errs...)
}

// resolvePaths anchors relative source paths at the configured data
// directory.
func (a *Application) resolvePaths(yc *config.YearConfig) {
	if a.Config.DataDir == "" {
		return
	}
	if yc.TripsFile != "" && !filepath.IsAbs(yc.TripsFile) {
		yc.TripsFile = filepath.Join(a.Config.DataDir, yc.TripsFile)
	}
	if yc.StationsFile != "" && !filepath.IsAbs(yc.StationsFile) {
		yc.StationsFile = filepath.Join(a.Config.DataDir, yc.StationsFile)
	}
}
