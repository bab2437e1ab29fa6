package cache

import (
	"context"
	"time"

	"github.com/nicktill/fitpull/pkg/metrics"
)

// Store caches normalized record batches keyed by the fetch unit that
// produced them (one wellness day, or one full activities range), so
// re-runs and resumed fetches skip the network for spans already
// retrieved. Implementations: memory (testing), badger (on disk).
type Store interface {
	// Get returns the cached batch for key, with ok=false on a miss.
	Get(ctx context.Context, key string) ([]metrics.Record, bool, error)

	// Put stores a batch under key, replacing any previous entry.
	// Empty batches are stored too: "fetched, nothing recorded" must
	// stay distinguishable from "never fetched".
	Put(ctx context.Context, key string, records []metrics.Record) error

	// Close cleanly shuts down the store.
	Close() error
}

// DayKey is the cache key for one wellness day of one metric kind.
func DayKey(kind metrics.Kind, day time.Time) string {
	return "day/" + string(kind) + "/" + day.Format(time.DateOnly)
}

// RangeKey is the cache key for a whole-range fetch of one metric kind.
func RangeKey(kind metrics.Kind, r metrics.DateRange) string {
	return "range/" + string(kind) + "/" + r.String()
}
