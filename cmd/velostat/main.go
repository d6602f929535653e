package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/joho/godotenv"

	"velostat.bikedata.org/internal/app"
	"velostat.bikedata.org/internal/appconf"
	"velostat.bikedata.org/internal/config"
	"velostat.bikedata.org/internal/logging"
)

func main() {
	// A .env file is optional; flags always win over it.
	_ = godotenv.Load()

	var (
		configPath  = flag.String("config", envOr("VELOSTAT_CONFIG", "years.yaml"), "Path to the year configuration file")
		envFlag     = flag.String("env", envOr("VELOSTAT_ENV", "development"), "Environment (development, test, production)")
		dataDir     = flag.String("data-dir", envOr("VELOSTAT_DATA_DIR", ""), "Directory that relative source paths are resolved against")
		outputDir   = flag.String("output-dir", envOr("VELOSTAT_OUTPUT_DIR", "out"), "Directory for databases and CSV exports")
		metricsAddr = flag.String("metrics-addr", envOr("VELOSTAT_METRICS_ADDR", ""), "Optional listen address for Prometheus metrics, e.g. :9090")
		verbose     = flag.Bool("verbose", false, "Enable debug logging")
		debugDump   = flag.Bool("debug-dump", false, "Dump the full year summaries after the run")
	)
	flag.Parse()

	logger := logging.Setup(*verbose)

	cfg := appconf.Config{
		Env:         appconf.EnvFlagToEnvironment(*envFlag),
		Verbose:     *verbose,
		OutputDir:   *outputDir,
		DataDir:     *dataDir,
		MetricsAddr: *metricsAddr,
		DebugDump:   *debugDump,
	}

	years, err := config.Load(*configPath)
	if err != nil {
		logging.LogError(logger, "loading year configuration failed", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		logging.LogError(logger, "creating output directory failed", err)
		os.Exit(1)
	}

	application := app.New(cfg, years, logger)

	if cfg.MetricsAddr != "" {
		srv := application.Metrics.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
	defer application.Metrics.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summaries, err := application.Run(ctx)

	for _, s := range summaries {
		fmt.Printf("%d: %d trips, %d stations (%d merged), %d dropped, peak %d at %s\n",
			s.Year, s.Trips, s.Stations, s.StationsMerged, s.Dropped.Total(),
			s.PeakConcurrency, s.PeakBucketStart.Format("2006-01-02 15:04"))
	}
	if cfg.DebugDump {
		spew.Dump(summaries)
	}

	if err != nil {
		logging.LogError(logger, "one or more years failed", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
