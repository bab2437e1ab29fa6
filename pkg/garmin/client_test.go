package garmin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/fitpull/pkg/garmin/garmintest"
	"github.com/nicktill/fitpull/pkg/metrics"
)

func testClient(t *testing.T, srv *garmintest.Server, creds Credentials) *Client {
	t.Helper()
	return NewClient(srv.URL(), creds, zerolog.Nop())
}

func login(t *testing.T, c *Client) *Session {
	t.Helper()
	sess, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	return sess
}

func TestAuthenticate(t *testing.T) {
	srv := garmintest.New()
	defer srv.Close()
	srv.SetCredentials("user@example.com", "hunter2")

	c := testClient(t, srv, Credentials{Email: "user@example.com", Password: "hunter2"})
	sess, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.False(t, sess.Expired(time.Now()))
	assert.Equal(t, 1, srv.LoginCount())
}

func TestAuthenticate_InvalidCredentials(t *testing.T) {
	srv := garmintest.New()
	defer srv.Close()
	srv.SetCredentials("user@example.com", "hunter2")

	c := testClient(t, srv, Credentials{Email: "user@example.com", Password: "wrong"})
	_, err := c.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrAuth)

	// Fatal rejection is never retried.
	assert.Equal(t, 1, srv.LoginCount())
}

func TestAuthenticate_RetriesTransientFailures(t *testing.T) {
	srv := garmintest.New()
	defer srv.Close()
	srv.FailNextLogins(2)

	c := testClient(t, srv, Credentials{Email: "a@b.c", Password: "pw"})
	sess, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, 3, srv.LoginCount())
}

func TestAuthenticate_GivesUpAfterBoundedRetries(t *testing.T) {
	srv := garmintest.New()
	defer srv.Close()
	srv.FailNextLogins(10)

	c := testClient(t, srv, Credentials{Email: "a@b.c", Password: "pw"})
	_, err := c.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 3, srv.LoginCount())
}

func TestFetchDay_Steps(t *testing.T) {
	srv := garmintest.New()
	defer srv.Close()
	srv.SetWellness("steps", "2023-01-01", []map[string]any{
		{"startGMT": "2023-01-01T00:00:00.0", "endGMT": "2023-01-01T00:15:00.0", "steps": 120, "primaryActivityLevel": "active"},
		{"startGMT": "2023-01-01T00:15:00.0", "endGMT": "2023-01-01T00:30:00.0", "steps": 0, "primaryActivityLevel": "sedentary"},
	})

	c := testClient(t, srv, Credentials{Email: "a@b.c", Password: "pw"})
	sess := login(t, c)

	records, err := c.FetchDay(context.Background(), sess, metrics.KindSteps,
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, metrics.KindSteps, records[0].Kind)
	assert.Equal(t, 120.0, records[0].Value)
	assert.Equal(t, "active", records[0].Label)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), records[0].Timestamp)
	assert.Equal(t, 0.0, records[1].Value)
}

func TestFetchDay_HeartRateSkipsNullSamples(t *testing.T) {
	srv := garmintest.New()
	defer srv.Close()

	ts := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)
	srv.SetWellness("heartrate", "2023-01-01", map[string]any{
		"heartRateValues": []any{
			[]any{ts.UnixMilli(), 61},
			[]any{ts.Add(time.Minute).UnixMilli(), nil},
			[]any{ts.Add(2 * time.Minute).UnixMilli(), 64},
		},
	})

	c := testClient(t, srv, Credentials{Email: "a@b.c", Password: "pw"})
	sess := login(t, c)

	records, err := c.FetchDay(context.Background(), sess, metrics.KindHeartRate,
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 61.0, records[0].Value)
	assert.Equal(t, ts, records[0].Timestamp)
	assert.Equal(t, "bpm", records[0].Unit)
}

func TestFetchDay_SleepExpandsSegmentsToMinutes(t *testing.T) {
	srv := garmintest.New()
	defer srv.Close()
	srv.SetWellness("sleep", "2023-01-01", map[string]any{
		"sleepLevels": []map[string]any{
			{"startGMT": "2023-01-01T00:00:00.0", "endGMT": "2023-01-01T00:03:00.0", "activityLevel": 1},
			{"startGMT": "2023-01-01T00:03:00.0", "endGMT": "2023-01-01T00:04:00.0", "activityLevel": 3},
		},
	})

	c := testClient(t, srv, Credentials{Email: "a@b.c", Password: "pw"})
	sess := login(t, c)

	records, err := c.FetchDay(context.Background(), sess, metrics.KindSleepStage,
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "light", records[0].Label)
	assert.Equal(t, float64(metrics.SleepStageLight), records[0].Value)
	assert.Equal(t, "awake", records[3].Label)
	for i := 1; i < len(records); i++ {
		assert.Equal(t, time.Minute, records[i].Timestamp.Sub(records[i-1].Timestamp))
	}
}

func TestFetchDay_MissingDayIsEmpty(t *testing.T) {
	srv := garmintest.New()
	defer srv.Close()

	c := testClient(t, srv, Credentials{Email: "a@b.c", Password: "pw"})
	sess := login(t, c)

	records, err := c.FetchDay(context.Background(), sess, metrics.KindStress,
		time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFetchDay_SessionExpired(t *testing.T) {
	srv := garmintest.New()
	defer srv.Close()

	c := testClient(t, srv, Credentials{Email: "a@b.c", Password: "pw"})
	sess := login(t, c)
	srv.ExpireSession()

	_, err := c.FetchDay(context.Background(), sess, metrics.KindSteps,
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestFetchDay_RateLimited(t *testing.T) {
	srv := garmintest.New()
	defer srv.Close()
	srv.SetWellness("steps", "2023-01-01", []map[string]any{})

	c := testClient(t, srv, Credentials{Email: "a@b.c", Password: "pw"})
	sess := login(t, c)
	srv.RateLimitNext(1)

	_, err := c.FetchDay(context.Background(), sess, metrics.KindSteps,
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrRateLimited)

	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, time.Second, rle.RetryAfter)
}

func TestFetchActivities(t *testing.T) {
	srv := garmintest.New()
	defer srv.Close()
	srv.SetActivities(
		map[string]any{
			"activityId": 2, "activityName": "Evening Run",
			"startTimeGMT": "2023-01-02T18:00:00.0", "duration": 1800.0,
			"activityType": map[string]any{"typeKey": "running"},
		},
		map[string]any{
			"activityId": 1, "activityName": "Morning Ride",
			"startTimeGMT": "2023-01-01T08:00:00.0", "duration": 3600.0,
			"activityType": map[string]any{"typeKey": "cycling"},
		},
	)

	c := testClient(t, srv, Credentials{Email: "a@b.c", Password: "pw"})
	sess := login(t, c)

	records, err := c.FetchActivities(context.Background(), sess, 0, 100)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Normalized output is ascending regardless of feed order.
	assert.Equal(t, "cycling", records[0].Label)
	assert.Equal(t, 60.0, records[0].Value) // minutes
	assert.Equal(t, "running", records[1].Label)
	assert.Equal(t, 30.0, records[1].Value)
}
