package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/fitpull/pkg/cache"
	"github.com/nicktill/fitpull/pkg/metrics"
)

func TestStore_RoundTrip(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	day := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	key := cache.DayKey(metrics.KindSteps, day)

	_, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	batch := []metrics.Record{
		{Timestamp: day, Kind: metrics.KindSteps, Value: 120, Unit: "steps"},
	}
	require.NoError(t, s.Put(ctx, key, batch))

	got, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, batch, got)
}

func TestStore_EmptyBatchIsAHit(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	key := cache.DayKey(metrics.KindSleepStage, time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, s.Put(ctx, key, nil))

	got, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "a fetched-but-empty day must not look like a miss")
	assert.Empty(t, got)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	key := "day/steps/2023-01-01"
	require.NoError(t, s.Put(ctx, key, []metrics.Record{{Kind: metrics.KindSteps, Value: 1}}))

	got, _, err := s.Get(ctx, key)
	require.NoError(t, err)
	got[0].Value = 999

	again, _, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1.0, again[0].Value)
}
