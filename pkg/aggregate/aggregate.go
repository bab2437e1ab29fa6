// Package aggregate reduces one day of metric records into a single
// daily summary row. Aggregation is a pure, deterministic function of
// the input records; it never touches the network or the cache.
package aggregate

import (
	"math"
	"time"

	"github.com/nicktill/fitpull/pkg/metrics"
)

// DailySummary is one reduced row per calendar date. Aggregate fields
// are pointers so "no data" stays distinguishable from zero: a nil
// field serializes as an empty CSV cell.
type DailySummary struct {
	Date                 time.Time
	TotalSteps           *int
	AvgHeartRate         *float64
	MinHeartRate         *int
	MaxHeartRate         *int
	SleepDurationMinutes *int
	AvgStress            *float64
	ActivityCount        *int
}

// Summarize reduces the given records to the summary row for date.
// Records that fall outside the date's UTC day are ignored. A kind with
// no records leaves its fields nil; a date with no records at all still
// yields a (fully nil) row.
func Summarize(date time.Time, records []metrics.Record) DailySummary {
	day := metrics.Day(date)
	row := DailySummary{Date: day}

	var (
		steps        int
		stepsSeen    bool
		hrSum        float64
		hrCount      int
		hrMin, hrMax int
		sleepAsleep  int
		sleepSeen    bool
		stressSum    float64
		stressCount  int
		activities   int
	)

	for _, rec := range records {
		if !metrics.Day(rec.Timestamp).Equal(day) {
			continue
		}
		switch rec.Kind {
		case metrics.KindSteps:
			steps += int(rec.Value)
			stepsSeen = true

		case metrics.KindHeartRate:
			bpm := int(math.Round(rec.Value))
			if hrCount == 0 || bpm < hrMin {
				hrMin = bpm
			}
			if hrCount == 0 || bpm > hrMax {
				hrMax = bpm
			}
			hrSum += rec.Value
			hrCount++

		case metrics.KindSleepStage:
			sleepSeen = true
			if int(rec.Value) != metrics.SleepStageAwake {
				sleepAsleep++
			}

		case metrics.KindStress:
			// Negative levels are "not measured" sentinels; they are
			// excluded from the mean but are still real records.
			if rec.Value >= 0 {
				stressSum += rec.Value
				stressCount++
			}

		case metrics.KindActivity:
			activities++
		}
	}

	if stepsSeen {
		row.TotalSteps = &steps
	}
	if hrCount > 0 {
		avg := round2(hrSum / float64(hrCount))
		row.AvgHeartRate = &avg
		row.MinHeartRate = &hrMin
		row.MaxHeartRate = &hrMax
	}
	if sleepSeen {
		row.SleepDurationMinutes = &sleepAsleep
	}
	if stressCount > 0 {
		avg := round2(stressSum / float64(stressCount))
		row.AvgStress = &avg
	}
	if activities > 0 {
		row.ActivityCount = &activities
	}
	return row
}

// SummarizeRange produces exactly one row per calendar day in r,
// ascending, including all-nil rows for days without any records.
func SummarizeRange(r metrics.DateRange, records []metrics.Record) []DailySummary {
	byDay := make(map[time.Time][]metrics.Record)
	for _, rec := range records {
		day := metrics.Day(rec.Timestamp)
		byDay[day] = append(byDay[day], rec)
	}

	rows := make([]DailySummary, 0, r.Len())
	for _, day := range r.Days() {
		rows = append(rows, Summarize(day, byDay[day]))
	}
	return rows
}

// Means are fixed at two decimal places here, so the CSV writer can
// print floats exactly without its own precision policy.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
