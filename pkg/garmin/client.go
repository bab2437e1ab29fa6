package garmin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/nicktill/fitpull/pkg/config"
	"github.com/nicktill/fitpull/pkg/metrics"
)

// Credentials authenticate against the Connect API. They are an opaque
// input here; prompting and storage are the caller's concern.
type Credentials struct {
	Email    string
	Password string
}

// Client talks to the Connect API. It performs network calls only and
// keeps no local state beyond the HTTP client; sessions live in the
// Manager.
type Client struct {
	baseURL string
	creds   Credentials
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a Connect API client.
func NewClient(baseURL string, creds Credentials, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		creds:   creds,
		http: &http.Client{
			Timeout: config.RequestTimeout,
		},
		log: log.With().Str("client", "garmin").Logger(),
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"` // seconds
}

// Authenticate establishes a session. Invalid credentials fail
// immediately with ErrAuth; transient failures are retried with bounded
// exponential backoff.
func (c *Client) Authenticate(ctx context.Context) (*Session, error) {
	body, err := json.Marshal(loginRequest{Email: c.creds.Email, Password: c.creds.Password})
	if err != nil {
		return nil, fmt.Errorf("marshal login request: %w", err)
	}

	op := func() (*Session, error) {
		ctx, cancel := context.WithTimeout(ctx, config.LoginTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create login request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, backoff.Permanent(ErrAuth)
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: login status %d", ErrTransient, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return nil, backoff.Permanent(&StatusError{Endpoint: "/auth/login", Code: resp.StatusCode})
		}

		var lr loginResponse
		if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decode login response: %w", err))
		}
		if lr.Token == "" {
			return nil, backoff.Permanent(fmt.Errorf("login response missing token"))
		}

		sess := &Session{Token: lr.Token}
		if lr.ExpiresIn > 0 {
			sess.ExpiresAt = time.Now().Add(time.Duration(lr.ExpiresIn) * time.Second)
		}
		return sess, nil
	}

	sess, err := backoff.RetryWithData(op, c.retryPolicy(ctx, config.MaxLoginAttempts))
	if err != nil {
		return nil, err
	}
	c.log.Debug().Time("expires_at", sess.ExpiresAt).Msg("authenticated")
	return sess, nil
}

// FetchDay retrieves and normalizes one wellness day for the given
// kind. A day with no data yields an empty slice, not an error. Session
// expiry and rate limiting surface as ErrSessionExpired / ErrRateLimited
// for the caller to handle; transient failures are retried here.
func (c *Client) FetchDay(ctx context.Context, sess *Session, kind metrics.Kind, day time.Time) ([]metrics.Record, error) {
	var path string
	switch kind {
	case metrics.KindSteps:
		path = fmt.Sprintf("/wellness/%s/steps", day.Format(time.DateOnly))
	case metrics.KindHeartRate:
		path = fmt.Sprintf("/wellness/%s/heartrate", day.Format(time.DateOnly))
	case metrics.KindStress:
		path = fmt.Sprintf("/wellness/%s/stress", day.Format(time.DateOnly))
	case metrics.KindSleepStage:
		path = fmt.Sprintf("/wellness/%s/sleep", day.Format(time.DateOnly))
	default:
		return nil, fmt.Errorf("kind %q has no wellness endpoint", kind)
	}

	raw, err := c.getJSON(ctx, sess, path)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	switch kind {
	case metrics.KindSteps:
		var buckets []stepsBucket
		if err := json.Unmarshal(raw, &buckets); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return normalizeSteps(buckets)
	case metrics.KindHeartRate:
		var p heartRatePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return normalizePairs(p.HeartRateValues, metrics.KindHeartRate, "bpm")
	case metrics.KindStress:
		var p stressPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return normalizePairs(p.StressValuesArray, metrics.KindStress, "level")
	default:
		var p sleepPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return normalizeSleep(p.SleepLevels)
	}
}

// FetchActivities retrieves one page of the activities feed, newest
// first. Paging is the caller's concern; adjacent pages may overlap by
// an entry at the boundary.
func (c *Client) FetchActivities(ctx context.Context, sess *Session, start, limit int) ([]metrics.Record, error) {
	path := fmt.Sprintf("/activities?start=%d&limit=%d", start, limit)
	raw, err := c.getJSON(ctx, sess, path)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var activities []activitySummary
	if err := json.Unmarshal(raw, &activities); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return normalizeActivities(activities)
}

// FetchProfile retrieves the user profile document verbatim.
func (c *Client) FetchProfile(ctx context.Context, sess *Session) (json.RawMessage, error) {
	return c.getJSON(ctx, sess, "/userprofile")
}

// getJSON issues an authenticated GET, retrying transient failures.
// It returns nil bytes for 404 (no data recorded for that span).
func (c *Client) getJSON(ctx context.Context, sess *Session, path string) (json.RawMessage, error) {
	op := func() (json.RawMessage, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+sess.Token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, backoff.Permanent(ErrSessionExpired)
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, backoff.Permanent(&RateLimitError{RetryAfter: retryAfter(resp)})
		case resp.StatusCode == http.StatusNotFound:
			return nil, nil
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: %s status %d", ErrTransient, path, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return nil, backoff.Permanent(&StatusError{Endpoint: path, Code: resp.StatusCode})
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrTransient, path, err)
		}
		return body, nil
	}

	return backoff.RetryWithData(op, c.retryPolicy(ctx, config.MaxFetchAttempts))
}

func (c *Client) retryPolicy(ctx context.Context, attempts int) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(config.BackoffInitial),
		backoff.WithMaxInterval(config.BackoffMax),
	)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
