package fetch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/nicktill/fitpull/pkg/cache"
	"github.com/nicktill/fitpull/pkg/config"
	"github.com/nicktill/fitpull/pkg/garmin"
	"github.com/nicktill/fitpull/pkg/metrics"
)

// Remote is the slice of the garmin client the fetcher needs.
type Remote interface {
	FetchDay(ctx context.Context, sess *garmin.Session, kind metrics.Kind, day time.Time) ([]metrics.Record, error)
	FetchActivities(ctx context.Context, sess *garmin.Session, start, limit int) ([]metrics.Record, error)
}

// Fetcher retrieves all records of a metric kind over a date range,
// paginating transparently: wellness kinds one day per request, the
// activities feed by cursor. Spans already in the cache are served
// without network calls, which is what makes re-runs idempotent and
// mid-range resumption cheap.
type Fetcher struct {
	remote   Remote
	sessions *garmin.Manager
	store    cache.Store
	log      zerolog.Logger

	// Refetch bypasses cache reads (entries are still written back).
	Refetch bool
}

// New creates a Fetcher.
func New(remote Remote, sessions *garmin.Manager, store cache.Store, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		remote:   remote,
		sessions: sessions,
		store:    store,
		log:      log.With().Str("component", "fetch").Logger(),
	}
}

// Error is a fatal fetch failure with enough context for manual
// resumption: the kind, the requested range, and the last day that was
// fetched completely.
type Error struct {
	Kind         metrics.Kind
	Range        metrics.DateRange
	LastComplete time.Time // zero if nothing completed
	Err          error
}

func (e *Error) Error() string {
	last := "none"
	if !e.LastComplete.IsZero() {
		last = e.LastComplete.Format(time.DateOnly)
	}
	return fmt.Sprintf("fetch %s over %s (last complete day %s): %v", e.Kind, e.Range, last, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FetchAll returns every record of kind within r, ordered by ascending
// timestamp and deduplicated on (timestamp, kind). Days the remote has
// no data for contribute no records; that is not an error.
func (f *Fetcher) FetchAll(ctx context.Context, kind metrics.Kind, r metrics.DateRange) ([]metrics.Record, error) {
	var (
		records []metrics.Record
		err     error
	)
	if kind == metrics.KindActivity {
		records, err = f.fetchActivities(ctx, r)
	} else {
		records, err = f.fetchWellness(ctx, kind, r)
	}
	if err != nil {
		return nil, err
	}

	records = f.dedupe(kind, records)
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

// fetchWellness pages day by day, the wellness API's native granularity.
func (f *Fetcher) fetchWellness(ctx context.Context, kind metrics.Kind, r metrics.DateRange) ([]metrics.Record, error) {
	var (
		all          []metrics.Record
		lastComplete time.Time
	)
	for _, day := range r.Days() {
		if err := ctx.Err(); err != nil {
			return nil, &Error{Kind: kind, Range: r, LastComplete: lastComplete, Err: err}
		}
		key := cache.DayKey(kind, day)
		if !f.Refetch {
			batch, ok, err := f.store.Get(ctx, key)
			if err != nil {
				return nil, &Error{Kind: kind, Range: r, LastComplete: lastComplete, Err: err}
			}
			if ok {
				all = append(all, batch...)
				lastComplete = day
				continue
			}
		}

		batch, err := f.fetchDay(ctx, kind, day)
		if err != nil {
			return nil, &Error{Kind: kind, Range: r, LastComplete: lastComplete, Err: err}
		}
		if err := f.store.Put(ctx, key, batch); err != nil {
			return nil, &Error{Kind: kind, Range: r, LastComplete: lastComplete, Err: err}
		}
		all = append(all, batch...)
		lastComplete = day
	}
	return all, nil
}

// fetchDay issues one wellness request, absorbing the recoverable error
// classes: rate limiting backs off a bounded number of times, session
// expiry triggers one serialized re-authentication before it becomes
// fatal.
func (f *Fetcher) fetchDay(ctx context.Context, kind metrics.Kind, day time.Time) ([]metrics.Record, error) {
	sess, err := f.sessions.Session(ctx)
	if err != nil {
		return nil, err
	}

	refreshed := false
	for attempt := 1; ; attempt++ {
		batch, err := f.remote.FetchDay(ctx, sess, kind, day)
		switch {
		case err == nil:
			return batch, nil

		case errors.Is(err, garmin.ErrSessionExpired):
			if refreshed {
				return nil, fmt.Errorf("session expired again after re-authentication: %w", err)
			}
			refreshed = true
			f.log.Warn().Str("kind", string(kind)).Time("day", day).Msg("session expired, re-authenticating")
			sess, err = f.sessions.Refresh(ctx, sess)
			if err != nil {
				return nil, err
			}

		case errors.Is(err, garmin.ErrRateLimited):
			if attempt >= config.MaxFetchAttempts {
				return nil, err
			}
			wait := config.RateLimitWait
			var rle *garmin.RateLimitError
			if errors.As(err, &rle) && rle.RetryAfter > 0 {
				wait = rle.RetryAfter
			}
			f.log.Warn().Str("kind", string(kind)).Dur("wait", wait).Msg("rate limited, backing off")
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}

		default:
			return nil, err
		}
	}
}

// fetchActivities walks the cursor-paged feed (newest first) until it
// runs out or moves past the start of the range. The whole range is one
// cache unit because the feed cannot be addressed by day.
func (f *Fetcher) fetchActivities(ctx context.Context, r metrics.DateRange) ([]metrics.Record, error) {
	key := cache.RangeKey(metrics.KindActivity, r)
	if !f.Refetch {
		batch, ok, err := f.store.Get(ctx, key)
		if err != nil {
			return nil, &Error{Kind: metrics.KindActivity, Range: r, Err: err}
		}
		if ok {
			return batch, nil
		}
	}

	sess, err := f.sessions.Session(ctx)
	if err != nil {
		return nil, &Error{Kind: metrics.KindActivity, Range: r, Err: err}
	}

	var all []metrics.Record
	refreshed := false
	for page := 0; page < config.ActivitiesMaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, &Error{Kind: metrics.KindActivity, Range: r, Err: err}
		}
		start := page * config.ActivitiesPageSize

		batch, err := f.remote.FetchActivities(ctx, sess, start, config.ActivitiesPageSize)
		if errors.Is(err, garmin.ErrSessionExpired) && !refreshed {
			refreshed = true
			sess, err = f.sessions.Refresh(ctx, sess)
			if err != nil {
				return nil, &Error{Kind: metrics.KindActivity, Range: r, Err: err}
			}
			batch, err = f.remote.FetchActivities(ctx, sess, start, config.ActivitiesPageSize)
		}
		if err != nil {
			return nil, &Error{Kind: metrics.KindActivity, Range: r, Err: err}
		}

		pastRange := false
		for _, rec := range batch {
			if rec.Timestamp.Before(r.Start) {
				pastRange = true
				continue
			}
			if r.Contains(rec.Timestamp) {
				all = append(all, rec)
			}
		}
		if len(batch) < config.ActivitiesPageSize || pastRange {
			break
		}
	}

	if err := f.store.Put(ctx, key, all); err != nil {
		return nil, &Error{Kind: metrics.KindActivity, Range: r, Err: err}
	}
	return all, nil
}

// dedupe drops records repeating a (timestamp, kind) key, which happens
// at overlapping page boundaries. The conflict is logged and the later
// record dropped, never fatal.
func (f *Fetcher) dedupe(kind metrics.Kind, records []metrics.Record) []metrics.Record {
	seen := make(map[uint64]struct{}, len(records))
	out := records[:0]
	for _, rec := range records {
		key := rec.Key()
		if _, dup := seen[key]; dup {
			f.log.Warn().
				Str("kind", string(kind)).
				Time("timestamp", rec.Timestamp).
				Msg("dropping duplicate record at page boundary")
			continue
		}
		seen[key] = struct{}{}
		out = append(out, rec)
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
