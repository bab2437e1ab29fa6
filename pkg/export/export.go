package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/nicktill/fitpull/pkg/aggregate"
	"github.com/nicktill/fitpull/pkg/config"
	"github.com/nicktill/fitpull/pkg/merge"
	"github.com/nicktill/fitpull/pkg/metrics"
)

// Column orders are fixed and documented; downstream consumers key on
// them.
var (
	dailyHeader = []string{
		"date", "total_steps", "avg_heart_rate", "min_heart_rate",
		"max_heart_rate", "sleep_duration_minutes", "avg_stress",
		"activity_count",
	}
	seriesHeader = []string{
		"timestamp", "steps", "heart_rate", "sleep_stage", "stress", "activity",
	}
)

// SeriesSource streams merged time-series rows into the writer, already
// in ascending timestamp order.
type SeriesSource func(emit func(merge.Row) error) error

// Writer persists the two tabular artifacts. Null cells are written as
// empty strings; numeric formatting lives here and nowhere else.
type Writer struct {
	dir string
	log zerolog.Logger
}

// NewWriter creates a Writer targeting dir (created if missing).
func NewWriter(dir string, log zerolog.Logger) *Writer {
	return &Writer{
		dir: dir,
		log: log.With().Str("component", "export").Logger(),
	}
}

// WriteAll writes daily_summary.csv and df_all.csv. Both files are
// staged as temp siblings and renamed into place only after both have
// been fully written, so a failure anywhere leaves neither behind.
func (w *Writer) WriteAll(summaries []aggregate.DailySummary, series SeriesSource) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	dailyPath := filepath.Join(w.dir, config.DailySummaryFile)
	seriesPath := filepath.Join(w.dir, config.TimeSeriesFile)
	dailyTmp := dailyPath + ".tmp"
	seriesTmp := seriesPath + ".tmp"

	cleanup := func() {
		os.Remove(dailyTmp)
		os.Remove(seriesTmp)
	}

	if err := w.writeDaily(dailyTmp, summaries); err != nil {
		cleanup()
		return err
	}
	rows, err := w.writeSeries(seriesTmp, series)
	if err != nil {
		cleanup()
		return err
	}

	if err := os.Rename(dailyTmp, dailyPath); err != nil {
		cleanup()
		return fmt.Errorf("commit %s: %w", config.DailySummaryFile, err)
	}
	if err := os.Rename(seriesTmp, seriesPath); err != nil {
		os.Remove(dailyPath)
		cleanup()
		return fmt.Errorf("commit %s: %w", config.TimeSeriesFile, err)
	}

	w.log.Info().
		Int("daily_rows", len(summaries)).
		Int("series_rows", rows).
		Str("dir", w.dir).
		Msg("export written")
	return nil
}

// WriteProfile writes the raw user profile document beside the CSVs.
func (w *Writer) WriteProfile(profile json.RawMessage) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	var pretty []byte
	var buf map[string]any
	if err := json.Unmarshal(profile, &buf); err == nil {
		pretty, _ = json.MarshalIndent(buf, "", "  ")
	}
	if pretty == nil {
		pretty = profile
	}
	path := filepath.Join(w.dir, config.ProfileFile)
	if err := os.WriteFile(path, pretty, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", config.ProfileFile, err)
	}
	return nil
}

func (w *Writer) writeDaily(path string, summaries []aggregate.DailySummary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(dailyHeader); err != nil {
		return fmt.Errorf("write daily header: %w", err)
	}

	for _, row := range summaries {
		record := []string{
			row.Date.Format(time.DateOnly),
			formatInt(row.TotalSteps),
			formatFloat(row.AvgHeartRate),
			formatInt(row.MinHeartRate),
			formatInt(row.MaxHeartRate),
			formatInt(row.SleepDurationMinutes),
			formatFloat(row.AvgStress),
			formatInt(row.ActivityCount),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write daily row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush daily rows: %w", err)
	}
	return f.Close()
}

func (w *Writer) writeSeries(path string, series SeriesSource) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(seriesHeader); err != nil {
		return 0, fmt.Errorf("write series header: %w", err)
	}

	rows := 0
	err = series(func(row merge.Row) error {
		record := make([]string, 0, len(seriesHeader))
		record = append(record, row.Timestamp.UTC().Format(time.RFC3339))
		for _, kind := range metrics.Kinds() {
			record = append(record, formatFloat(row.Value(kind)))
		}
		rows++
		return cw.Write(record)
	})
	if err != nil {
		return 0, fmt.Errorf("write series rows: %w", err)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush series rows: %w", err)
	}
	return rows, f.Close()
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
