// Command fitpull exports a date range of Garmin Connect wellness and
// activity data into two analysis-ready CSV tables: a per-day summary
// (daily_summary.csv) and the full merged time series (df_all.csv).
//
// Credentials come from FITPULL_EMAIL / FITPULL_PASSWORD (a .env file
// in the working directory is honored). Exit code is 0 only when a run
// completes fully; interrupted or failed runs leave no partial CSVs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/nicktill/fitpull/pkg/cache"
	badgercache "github.com/nicktill/fitpull/pkg/cache/badger"
	"github.com/nicktill/fitpull/pkg/cache/memory"
	"github.com/nicktill/fitpull/pkg/config"
	"github.com/nicktill/fitpull/pkg/export"
	"github.com/nicktill/fitpull/pkg/fetch"
	"github.com/nicktill/fitpull/pkg/garmin"
	"github.com/nicktill/fitpull/pkg/metrics"
	"github.com/nicktill/fitpull/pkg/pipeline"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fitpull:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var (
		startFlag = flag.String("start", "", "first day to export (YYYY-MM-DD, default: end minus 30 days)")
		endFlag   = flag.String("end", "", "last day to export (YYYY-MM-DD, default: today)")
		outDir    = flag.String("out", config.DefaultOutDir, "output directory for the CSV artifacts")
		cacheDir  = flag.String("cache", "", "raw-payload cache directory (default: <out>/.cache, \"off\" disables persistence)")
		refetch   = flag.Bool("refetch", false, "ignore cached days and hit the API again")
		baseURL   = flag.String("base-url", config.DefaultBaseURL, "Connect API base URL")
		timeout   = flag.Duration("timeout", config.PipelineTimeout, "overall run timeout")
		debug     = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()

	creds := garmin.Credentials{
		Email:    os.Getenv("FITPULL_EMAIL"),
		Password: os.Getenv("FITPULL_PASSWORD"),
	}
	if creds.Email == "" || creds.Password == "" {
		return fmt.Errorf("FITPULL_EMAIL and FITPULL_PASSWORD must be set")
	}

	dateRange, err := parseRange(*startFlag, *endFlag)
	if err != nil {
		return err
	}

	store, err := openCache(*cacheDir, *outDir, log)
	if err != nil {
		return err
	}
	defer store.Close()

	client := garmin.NewClient(*baseURL, creds, log)
	sessions := garmin.NewManager(client)
	fetcher := fetch.New(client, sessions, store, log)
	fetcher.Refetch = *refetch
	writer := export.NewWriter(*outDir, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	log.Info().Stringer("range", dateRange).Str("out", *outDir).Msg("starting export")

	p := pipeline.New(sessions, client, fetcher, writer, log)
	if err := p.Run(ctx, dateRange); err != nil {
		return err
	}

	log.Info().Msg("export completed")
	return nil
}

func parseRange(start, end string) (metrics.DateRange, error) {
	endDay := time.Now().UTC()
	if end != "" {
		t, err := time.Parse(time.DateOnly, end)
		if err != nil {
			return metrics.DateRange{}, fmt.Errorf("invalid -end: %w", err)
		}
		endDay = t
	}

	startDay := endDay.AddDate(0, 0, -config.DefaultDaysBack)
	if start != "" {
		t, err := time.Parse(time.DateOnly, start)
		if err != nil {
			return metrics.DateRange{}, fmt.Errorf("invalid -start: %w", err)
		}
		startDay = t
	}

	return metrics.NewDateRange(startDay, endDay)
}

func openCache(cacheDir, outDir string, log zerolog.Logger) (cache.Store, error) {
	if cacheDir == "off" {
		return memory.New(), nil
	}
	if cacheDir == "" {
		cacheDir = filepath.Join(outDir, config.DefaultCacheSubdir)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	store, err := badgercache.New(badgercache.Config{
		Path:        cacheDir,
		MaxMemoryMB: config.CacheMemoryMB,
	})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	log.Debug().Str("dir", cacheDir).Msg("payload cache opened")
	return store, nil
}
