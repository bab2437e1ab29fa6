package merge

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/fitpull/pkg/metrics"
)

func at(s string, kind metrics.Kind, value float64) metrics.Record {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return metrics.Record{Timestamp: t.UTC(), Kind: kind, Value: value}
}

func TestMergeAll_InterleavesKinds(t *testing.T) {
	rows, err := MergeAll(map[metrics.Kind][]metrics.Record{
		metrics.KindHeartRate: {
			at("2023-01-01T10:00:00Z", metrics.KindHeartRate, 60),
			at("2023-01-01T10:02:00Z", metrics.KindHeartRate, 64),
		},
		metrics.KindSteps: {
			at("2023-01-01T10:01:00Z", metrics.KindSteps, 120),
		},
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	for i := 1; i < len(rows); i++ {
		assert.True(t, rows[i].Timestamp.After(rows[i-1].Timestamp), "rows must be strictly ascending")
	}

	require.NotNil(t, rows[0].Value(metrics.KindHeartRate))
	assert.Equal(t, 60.0, *rows[0].Value(metrics.KindHeartRate))
	assert.Nil(t, rows[0].Value(metrics.KindSteps), "no sample means nil, never zero")

	require.NotNil(t, rows[1].Value(metrics.KindSteps))
	assert.Equal(t, 120.0, *rows[1].Value(metrics.KindSteps))
	assert.Nil(t, rows[1].Value(metrics.KindHeartRate))
}

func TestMergeAll_CollapsesEqualTimestamps(t *testing.T) {
	rows, err := MergeAll(map[metrics.Kind][]metrics.Record{
		metrics.KindHeartRate: {at("2023-01-01T10:00:00Z", metrics.KindHeartRate, 60)},
		metrics.KindStress:    {at("2023-01-01T10:00:00Z", metrics.KindStress, 25)},
		metrics.KindSteps:     {at("2023-01-01T10:00:00Z", metrics.KindSteps, 50)},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, 60.0, *row.Value(metrics.KindHeartRate))
	assert.Equal(t, 25.0, *row.Value(metrics.KindStress))
	assert.Equal(t, 50.0, *row.Value(metrics.KindSteps))
	assert.Nil(t, row.Value(metrics.KindSleepStage))
}

func TestMergeAll_EmptyInputs(t *testing.T) {
	rows, err := MergeAll(nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = MergeAll(map[metrics.Kind][]metrics.Record{
		metrics.KindSteps: {},
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMergeAll_UnsortedInputIsAnError(t *testing.T) {
	_, err := MergeAll(map[metrics.Kind][]metrics.Record{
		metrics.KindSteps: {
			at("2023-01-01T10:05:00Z", metrics.KindSteps, 1),
			at("2023-01-01T10:00:00Z", metrics.KindSteps, 2),
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steps")
}

func TestMergeAll_DuplicateTimestampWithinKindIsAnError(t *testing.T) {
	_, err := MergeAll(map[metrics.Kind][]metrics.Record{
		metrics.KindHeartRate: {
			at("2023-01-01T10:00:00Z", metrics.KindHeartRate, 60),
			at("2023-01-01T10:00:00Z", metrics.KindHeartRate, 61),
		},
	})
	assert.Error(t, err)
}

func TestMerge_StopsOnEmitError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Merge(map[metrics.Kind][]metrics.Record{
		metrics.KindSteps: {
			at("2023-01-01T10:00:00Z", metrics.KindSteps, 1),
			at("2023-01-01T10:01:00Z", metrics.KindSteps, 2),
		},
	}, func(Row) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestMerge_StreamsWithoutMaterializing(t *testing.T) {
	// A long single-kind input should arrive one row at a time.
	var records []metrics.Record
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10_000; i++ {
		records = append(records, metrics.Record{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Kind:      metrics.KindHeartRate,
			Value:     60,
		})
	}

	seen := 0
	var last time.Time
	err := Merge(map[metrics.Kind][]metrics.Record{metrics.KindHeartRate: records}, func(r Row) error {
		if seen > 0 {
			assert.True(t, r.Timestamp.After(last))
		}
		last = r.Timestamp
		seen++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 10_000, seen)
}
