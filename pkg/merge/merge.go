// Package merge aligns per-kind record streams on a shared timestamp
// axis, producing one wide row per observed timestamp. No interpolation
// happens here: a kind with no sample at a given instant is nil in that
// row.
package merge

import (
	"fmt"
	"time"

	"github.com/nicktill/fitpull/pkg/metrics"
)

// Row is one timestamp across all metric kinds, nullable per kind.
type Row struct {
	Timestamp time.Time
	Values    map[metrics.Kind]*float64
}

// Value returns the cell for kind, nil when the kind had no sample at
// this timestamp.
func (r Row) Value(kind metrics.Kind) *float64 {
	return r.Values[kind]
}

type stream struct {
	kind    metrics.Kind
	records []metrics.Record
	pos     int
}

func (s *stream) exhausted() bool { return s.pos >= len(s.records) }
func (s *stream) head() metrics.Record {
	return s.records[s.pos]
}

// Merge performs a streaming sorted merge-join over the per-kind
// inputs, which must each already be in ascending timestamp order (the
// fetcher's output contract). Rows are handed to emit in strictly
// ascending timestamp order; identical timestamps across kinds collapse
// into one row. Only the current row is materialized at a time, so
// memory stays bounded for long ranges.
func Merge(inputs map[metrics.Kind][]metrics.Record, emit func(Row) error) error {
	streams := make([]*stream, 0, len(inputs))
	for _, kind := range metrics.Kinds() {
		if records, ok := inputs[kind]; ok && len(records) > 0 {
			streams = append(streams, &stream{kind: kind, records: records})
		}
	}

	var prev time.Time
	first := true
	for {
		// Find the earliest pending timestamp across all streams.
		var next time.Time
		var nextKind metrics.Kind
		found := false
		for _, s := range streams {
			if s.exhausted() {
				continue
			}
			if ts := s.head().Timestamp; !found || ts.Before(next) {
				next, nextKind = ts, s.kind
				found = true
			}
		}
		if !found {
			return nil
		}
		if !first && !next.After(prev) {
			return fmt.Errorf("merge: %s input not in ascending order at %s",
				nextKind, next.Format(time.RFC3339Nano))
		}

		// Collapse every stream sitting on that timestamp into one row.
		row := Row{Timestamp: next, Values: make(map[metrics.Kind]*float64, len(streams))}
		for _, s := range streams {
			if !s.exhausted() && s.head().Timestamp.Equal(next) {
				v := s.head().Value
				row.Values[s.kind] = &v
				s.pos++
			}
		}

		if err := emit(row); err != nil {
			return err
		}
		prev = next
		first = false
	}
}

// MergeAll is Merge materialized into a slice, for callers that want
// the whole table at once (tests, small ranges).
func MergeAll(inputs map[metrics.Kind][]metrics.Record) ([]Row, error) {
	var rows []Row
	err := Merge(inputs, func(r Row) error {
		rows = append(rows, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
