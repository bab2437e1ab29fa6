package garmin

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/nicktill/fitpull/pkg/metrics"
)

// Wire shapes for the wellness endpoints. These never leave this
// package: every payload is normalized into metrics.Record before any
// downstream component sees it.

type stepsBucket struct {
	StartGMT             string `json:"startGMT"`
	EndGMT               string `json:"endGMT"`
	Steps                int    `json:"steps"`
	PrimaryActivityLevel string `json:"primaryActivityLevel"`
}

type heartRatePayload struct {
	HeartRateValues [][]*float64 `json:"heartRateValues"`
}

type stressPayload struct {
	StressValuesArray [][]*float64 `json:"stressValuesArray"`
}

type sleepPayload struct {
	SleepLevels []sleepSegment `json:"sleepLevels"`
}

type sleepSegment struct {
	StartGMT      string `json:"startGMT"`
	EndGMT        string `json:"endGMT"`
	ActivityLevel int    `json:"activityLevel"`
}

type activitySummary struct {
	ActivityID   int64   `json:"activityId"`
	ActivityName string  `json:"activityName"`
	StartTimeGMT string  `json:"startTimeGMT"`
	Duration     float64 `json:"duration"` // seconds
	ActivityType struct {
		TypeKey string `json:"typeKey"`
	} `json:"activityType"`
}

// The API writes GMT timestamps in a couple of near-ISO shapes.
var gmtLayouts = []string{
	"2006-01-02T15:04:05.0",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

func parseGMT(s string) (time.Time, error) {
	for _, layout := range gmtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized GMT timestamp %q", s)
}

func normalizeSteps(buckets []stepsBucket) ([]metrics.Record, error) {
	records := make([]metrics.Record, 0, len(buckets))
	for _, b := range buckets {
		start, err := parseGMT(b.StartGMT)
		if err != nil {
			return nil, fmt.Errorf("steps bucket: %w", err)
		}
		records = append(records, metrics.Record{
			Timestamp: start,
			Kind:      metrics.KindSteps,
			Value:     float64(b.Steps),
			Label:     b.PrimaryActivityLevel,
			Unit:      "steps",
		})
	}
	sortRecords(records)
	return records, nil
}

// normalizePairs handles the [[unix_ms, value], ...] shape shared by the
// heart rate and stress endpoints. Pairs with a null value are gaps in
// the watch data and yield no record.
func normalizePairs(pairs [][]*float64, kind metrics.Kind, unit string) ([]metrics.Record, error) {
	records := make([]metrics.Record, 0, len(pairs))
	for _, p := range pairs {
		if len(p) < 2 || p[0] == nil || p[1] == nil {
			continue
		}
		ms := int64(*p[0])
		records = append(records, metrics.Record{
			Timestamp: time.UnixMilli(ms).UTC(),
			Kind:      kind,
			Value:     *p[1],
			Unit:      unit,
		})
	}
	sortRecords(records)
	return records, nil
}

// normalizeSleep expands stage segments into one record per whole
// minute, value = stage code. Daily aggregation then only has to count
// non-awake minutes.
func normalizeSleep(segments []sleepSegment) ([]metrics.Record, error) {
	var records []metrics.Record
	for _, seg := range segments {
		start, err := parseGMT(seg.StartGMT)
		if err != nil {
			return nil, fmt.Errorf("sleep segment: %w", err)
		}
		end, err := parseGMT(seg.EndGMT)
		if err != nil {
			return nil, fmt.Errorf("sleep segment: %w", err)
		}
		mins := int(math.Floor(end.Sub(start).Minutes()))
		if mins <= 0 {
			continue
		}
		for i := 0; i < mins; i++ {
			records = append(records, metrics.Record{
				Timestamp: start.Add(time.Duration(i) * time.Minute),
				Kind:      metrics.KindSleepStage,
				Value:     float64(seg.ActivityLevel),
				Label:     sleepStageName(seg.ActivityLevel),
				Unit:      "stage",
			})
		}
	}
	sortRecords(records)
	return records, nil
}

func normalizeActivities(activities []activitySummary) ([]metrics.Record, error) {
	records := make([]metrics.Record, 0, len(activities))
	for _, a := range activities {
		start, err := parseGMT(a.StartTimeGMT)
		if err != nil {
			return nil, fmt.Errorf("activity %d: %w", a.ActivityID, err)
		}
		records = append(records, metrics.Record{
			Timestamp: start,
			Kind:      metrics.KindActivity,
			Value:     a.Duration / 60, // minutes
			Label:     a.ActivityType.TypeKey,
			Unit:      "min",
		})
	}
	sortRecords(records)
	return records, nil
}

func sleepStageName(level int) string {
	switch level {
	case metrics.SleepStageDeep:
		return "deep"
	case metrics.SleepStageLight:
		return "light"
	case metrics.SleepStageREM:
		return "rem"
	case metrics.SleepStageAwake:
		return "awake"
	}
	return "unknown"
}

func sortRecords(records []metrics.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
}
