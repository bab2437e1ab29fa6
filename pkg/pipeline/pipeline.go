// Package pipeline orchestrates a full export run: authenticate, fetch
// every metric kind in parallel, reduce to the daily summary, merge the
// time series, and write both artifacts atomically.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nicktill/fitpull/pkg/aggregate"
	"github.com/nicktill/fitpull/pkg/export"
	"github.com/nicktill/fitpull/pkg/garmin"
	"github.com/nicktill/fitpull/pkg/merge"
	"github.com/nicktill/fitpull/pkg/metrics"
)

// State is the pipeline's lifecycle position. Failed is reachable from
// every state on fatal error.
type State int

const (
	StateIdle State = iota
	StateAuthenticating
	StateFetching
	StateAggregating
	StateWriting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateFetching:
		return "fetching"
	case StateAggregating:
		return "aggregating"
	case StateWriting:
		return "writing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Fetcher retrieves one kind's records over a range. Implemented by
// *fetch.Fetcher.
type Fetcher interface {
	FetchAll(ctx context.Context, kind metrics.Kind, r metrics.DateRange) ([]metrics.Record, error)
}

// ProfileSource retrieves the user profile document. Implemented by
// *garmin.Client.
type ProfileSource interface {
	FetchProfile(ctx context.Context, sess *garmin.Session) (json.RawMessage, error)
}

// Exporter persists the artifacts. Implemented by *export.Writer.
type Exporter interface {
	WriteAll(summaries []aggregate.DailySummary, series export.SeriesSource) error
	WriteProfile(profile json.RawMessage) error
}

// Pipeline runs one export end to end.
type Pipeline struct {
	sessions *garmin.Manager
	profile  ProfileSource
	fetcher  Fetcher
	exporter Exporter
	log      zerolog.Logger

	mu    sync.Mutex
	state State
}

// New wires a pipeline. profile may be nil to skip the profile export.
func New(sessions *garmin.Manager, profile ProfileSource, fetcher Fetcher, exporter Exporter, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		sessions: sessions,
		profile:  profile,
		fetcher:  fetcher,
		exporter: exporter,
		log:      log.With().Str("component", "pipeline").Logger(),
		state:    StateIdle,
	}
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.log.Debug().Stringer("state", s).Msg("state transition")
}

// Run executes the pipeline over r. On any fatal error (invalid
// credentials, unrecoverable fetch or I/O failure, cancellation) the
// pipeline ends in Failed, no CSV is left behind, and the returned
// error carries the failing kind and range.
func (p *Pipeline) Run(ctx context.Context, r metrics.DateRange) error {
	fail := func(err error) error {
		p.setState(StateFailed)
		return err
	}

	p.setState(StateAuthenticating)
	sess, err := p.sessions.Session(ctx)
	if err != nil {
		return fail(fmt.Errorf("authenticate: %w", err))
	}

	// Profile export is best-effort, as in the original exporter.
	if p.profile != nil {
		if raw, err := p.profile.FetchProfile(ctx, sess); err != nil {
			p.log.Warn().Err(err).Msg("user profile fetch failed, continuing")
		} else if raw != nil {
			if err := p.exporter.WriteProfile(raw); err != nil {
				p.log.Warn().Err(err).Msg("user profile write failed, continuing")
			}
		}
	}

	p.setState(StateFetching)
	byKind, err := p.fetchAll(ctx, r)
	if err != nil {
		return fail(err)
	}

	p.setState(StateAggregating)
	// The aggregator and the merger each get an independent copy of the
	// record set; neither can observe the other's iteration.
	summaries := aggregate.SummarizeRange(r, flatten(byKind))
	mergeInputs := copyByKind(byKind)

	p.setState(StateWriting)
	err = p.exporter.WriteAll(summaries, func(emit func(merge.Row) error) error {
		return merge.Merge(mergeInputs, emit)
	})
	if err != nil {
		return fail(fmt.Errorf("write export for %s: %w", r, err))
	}

	p.setState(StateDone)
	return nil
}

// fetchAll runs one fetcher per metric kind concurrently. All fetchers
// share the session manager, so re-authentication stays serialized; the
// first fatal error cancels the rest.
func (p *Pipeline) fetchAll(ctx context.Context, r metrics.DateRange) (map[metrics.Kind][]metrics.Record, error) {
	var (
		mu     sync.Mutex
		byKind = make(map[metrics.Kind][]metrics.Record, len(metrics.Kinds()))
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range metrics.Kinds() {
		g.Go(func() error {
			records, err := p.fetcher.FetchAll(gctx, kind, r)
			if err != nil {
				return err
			}
			mu.Lock()
			byKind[kind] = records
			mu.Unlock()
			p.log.Info().Str("kind", string(kind)).Int("records", len(records)).Msg("fetched")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return byKind, nil
}

func flatten(byKind map[metrics.Kind][]metrics.Record) []metrics.Record {
	n := 0
	for _, records := range byKind {
		n += len(records)
	}
	out := make([]metrics.Record, 0, n)
	for _, kind := range metrics.Kinds() {
		out = append(out, byKind[kind]...)
	}
	return out
}

func copyByKind(byKind map[metrics.Kind][]metrics.Record) map[metrics.Kind][]metrics.Record {
	out := make(map[metrics.Kind][]metrics.Record, len(byKind))
	for kind, records := range byKind {
		cp := make([]metrics.Record, len(records))
		copy(cp, records)
		out[kind] = cp
	}
	return out
}
