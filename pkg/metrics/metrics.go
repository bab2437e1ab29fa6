package metrics

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Kind identifies one of the tracked health/activity channels.
type Kind string

const (
	KindSteps      Kind = "steps"
	KindHeartRate  Kind = "heart_rate"
	KindSleepStage Kind = "sleep_stage"
	KindStress     Kind = "stress"
	KindActivity   Kind = "activity"
)

// Kinds returns all tracked kinds in the fixed export column order.
func Kinds() []Kind {
	return []Kind{KindSteps, KindHeartRate, KindSleepStage, KindStress, KindActivity}
}

// Valid reports whether k is a known metric kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSteps, KindHeartRate, KindSleepStage, KindStress, KindActivity:
		return true
	}
	return false
}

// Sleep stage codes as reported by the wellness API.
const (
	SleepStageDeep  = 0
	SleepStageLight = 1
	SleepStageREM   = 2
	SleepStageAwake = 3
)

// Record is a single normalized sample. Records are immutable once
// produced by the garmin package; everything downstream only reads them.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	Value     float64   `json:"value"`
	Label     string    `json:"label,omitempty"` // categorical annotation (sleep stage, activity level)
	Unit      string    `json:"unit,omitempty"`
}

// Key returns a 64-bit identity for page-boundary deduplication.
// Two records are the same observation iff they share (kind, timestamp).
func (r Record) Key() uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(r.Timestamp.UnixNano()))

	d := xxhash.New()
	d.WriteString(string(r.Kind))
	d.Write(buf[:])
	return d.Sum64()
}

// DateRange is an inclusive range of UTC calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange builds a range from two timestamps, truncating both to
// UTC midnight. It rejects ranges where start is after end.
func NewDateRange(start, end time.Time) (DateRange, error) {
	s, e := Day(start), Day(end)
	if s.After(e) {
		return DateRange{}, fmt.Errorf("invalid date range: start %s after end %s",
			s.Format(time.DateOnly), e.Format(time.DateOnly))
	}
	return DateRange{Start: s, End: e}, nil
}

// Days returns every calendar day in the range, ascending.
func (r DateRange) Days() []time.Time {
	days := make([]time.Time, 0, r.Len())
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Len returns the number of calendar days in the range.
func (r DateRange) Len() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Contains reports whether t falls on a day inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

func (r DateRange) String() string {
	return r.Start.Format(time.DateOnly) + ".." + r.End.Format(time.DateOnly)
}

// Day truncates t to its UTC calendar day. All daily bucketing in the
// pipeline goes through this one function.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
