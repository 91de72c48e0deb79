// Watcher polls SSM for snapshot hash changes and hot-swaps the store
// contents when a new snapshot is published. Swaps are transactional in
// the store, so readers never observe a half-loaded dataset.

package dataset

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/metrolabs/busstop-api/internal/cryptoutil"
	"github.com/metrolabs/busstop-api/internal/log"
	"github.com/metrolabs/busstop-api/internal/stops"
)

const (
	// DefaultPollInterval is how often the watcher checks SSM for a new hash.
	DefaultPollInterval = 30 * time.Second

	// maxBackoff caps exponential backoff on consecutive SSM errors.
	maxBackoff = 5 * time.Minute
)

// pollResult describes what happened during a single poll cycle.
type pollResult int

const (
	pollNoChange  pollResult = iota // SSM hash matches current - nothing to do
	pollSwapped                     // new hash detected, snapshot loaded and swapped
	pollSSMError                    // SSM fetch failed - caller should back off
	pollLoadError                   // SSM succeeded but download/verify/swap failed
)

// SnapshotFetcher is the interface the Watcher needs from a Loader.
// Extracted to decouple the Watcher from the concrete *Loader type,
// enabling simpler test doubles.
type SnapshotFetcher interface {
	FetchCurrentHash(ctx context.Context) (string, error)
	LoadHash(ctx context.Context, hash string) (*Snapshot, error)
}

// snapshotStore is the store subset the watcher swaps into.
type snapshotStore interface {
	ReplaceAll(ctx context.Context, rows []stops.StopDetail) error
}

// WatcherMetrics is implemented by the metrics package to observe watcher behavior.
type WatcherMetrics interface {
	IncWatcherPolls()
	IncWatcherSwaps()
	IncWatcherError(errType string)
	ObserveSnapshotLoadDuration(seconds float64)
	SetWatcherLastSuccess(unixSeconds float64)
	SetWatcherStale(stale bool)
}

// WatcherOptions configures the dataset watcher.
type WatcherOptions struct {
	Logger       log.Logger
	Loader       SnapshotFetcher
	Store        snapshotStore
	PollInterval time.Duration

	// CurrentHash seeds change detection so the first poll doesn't
	// re-download what was already loaded at startup.
	CurrentHash string

	// OnSwap is called after a successful dataset swap.
	// Called synchronously on the poll goroutine.
	OnSwap func(snap *Snapshot)

	// Metrics receives watcher observability signals (polls, swaps, errors, durations).
	Metrics WatcherMetrics

	// StaleThreshold is how long since the last successful SSM poll before
	// the watcher logs a staleness warning. Zero defaults to 30 minutes.
	StaleThreshold time.Duration
}

// Watcher polls for dataset changes and hot-swaps snapshots into the store.
type Watcher struct {
	loader   SnapshotFetcher
	store    snapshotStore
	logger   log.Logger
	interval time.Duration
	onSwap   func(snap *Snapshot)
	metrics  WatcherMetrics

	// hash tracking for change detection
	currentHash string

	// backoff state
	consecutiveErrs int

	// staleness tracking
	staleThreshold time.Duration
	lastSuccessAt  time.Time
	staleLogged    bool

	pollCount int64
	swapCount int64
}

// NewWatcher creates a dataset watcher. Call Run to start the poll loop.
func NewWatcher(opts *WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	staleThreshold := opts.StaleThreshold
	if staleThreshold <= 0 {
		staleThreshold = 30 * time.Minute
	}

	return &Watcher{
		loader:         opts.Loader,
		store:          opts.Store,
		logger:         opts.Logger,
		interval:       interval,
		onSwap:         opts.OnSwap,
		metrics:        opts.Metrics,
		currentHash:    opts.CurrentHash,
		staleThreshold: staleThreshold,
		lastSuccessAt:  time.Now(),
	}
}

// Run starts the poll loop. Blocks until ctx is cancelled.
// Intended to be launched as: go watcher.Run(ctx)
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "dataset watcher starting",
		"poll_interval", w.interval.String(),
		"current_hash", truncHash(w.currentHash),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "dataset watcher stopping",
				"reason", ctx.Err(),
				"polls", w.pollCount,
				"swaps", w.swapCount,
			)
			return ctx.Err()
		case <-ticker.C:
			result := w.checkOnce(ctx)

			if result == pollSSMError {
				w.consecutiveErrs++
				backoff := w.backoffDuration()
				w.logger.Warn(ctx, "dataset watcher: backing off",
					"consecutive_errors", w.consecutiveErrs,
					"next_poll_in", backoff.String(),
				)
				ticker.Reset(backoff)
			} else if w.consecutiveErrs > 0 {
				// recovered from error streak - resume normal cadence
				w.logger.Info(ctx, "dataset watcher: recovered, resuming normal interval",
					"had_consecutive_errors", w.consecutiveErrs,
				)
				w.consecutiveErrs = 0
				ticker.Reset(w.interval)
			}

			// staleness detection: emit structured error once on transition into stale state
			if result != pollSSMError {
				// non-SSM-error means lastSuccessAt was updated
				if w.staleLogged {
					w.logger.Info(ctx, "dataset watcher: staleness recovered")
					w.staleLogged = false
					if w.metrics != nil {
						w.metrics.SetWatcherStale(false)
					}
				}
			} else if time.Since(w.lastSuccessAt) > w.staleThreshold {
				if !w.staleLogged {
					w.logger.Error(ctx, fmt.Errorf("last successful SSM poll was %s ago", time.Since(w.lastSuccessAt).Truncate(time.Second)),
						"dataset watcher: dataset is stale, unable to verify freshness",
					)
					w.staleLogged = true
					if w.metrics != nil {
						w.metrics.SetWatcherStale(true)
					}
				}
			}
		}
	}
}

// checkOnce performs a single poll-compare-swap cycle.
// Returns what happened so Run can adjust timing.
func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.pollCount++
	if w.metrics != nil {
		w.metrics.IncWatcherPolls()
	}

	hash, err := w.loader.FetchCurrentHash(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "dataset watcher: SSM poll failed")
		if w.metrics != nil {
			w.metrics.IncWatcherError("ssm")
		}
		return pollSSMError
	}

	// SSM call succeeded - update last success time
	now := time.Now()
	w.lastSuccessAt = now
	if w.metrics != nil {
		w.metrics.SetWatcherLastSuccess(float64(now.Unix()))
	}

	// no change - most common path
	if cryptoutil.HashEqual(hash, w.currentHash) {
		return pollNoChange
	}

	w.logger.Info(ctx, "dataset watcher: new snapshot hash detected",
		"old_hash", truncHash(w.currentHash),
		"new_hash", truncHash(hash),
	)

	loadStart := time.Now()
	snap, err := w.loader.LoadHash(ctx, hash)
	loadDur := time.Since(loadStart).Seconds()
	if w.metrics != nil {
		w.metrics.ObserveSnapshotLoadDuration(loadDur)
	}

	if err != nil {
		w.logger.Error(ctx, err, "dataset watcher: failed to load snapshot",
			"hash", truncHash(hash),
		)
		if w.metrics != nil {
			w.metrics.IncWatcherError("load")
		}
		return pollLoadError
	}

	if err := w.store.ReplaceAll(ctx, snap.Rows); err != nil {
		w.logger.Error(ctx, err, "dataset watcher: failed to swap snapshot, keeping current dataset",
			"rejected_hash", truncHash(hash),
			"current_hash", truncHash(w.currentHash),
		)
		if w.metrics != nil {
			w.metrics.IncWatcherError("swap")
		}
		return pollLoadError
	}

	oldHash := w.currentHash
	w.currentHash = hash
	w.swapCount++

	w.logger.Info(ctx, "dataset watcher: snapshot swapped",
		"old_hash", truncHash(oldHash),
		"new_hash", truncHash(hash),
		"rows", len(snap.Rows),
		"total_swaps", w.swapCount,
	)

	if w.metrics != nil {
		w.metrics.IncWatcherSwaps()
	}

	// notify caller (metrics, etc.)
	if w.onSwap != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error(ctx, fmt.Errorf("OnSwap panic: %v", r),
						"dataset watcher: OnSwap callback panicked, continuing",
						"hash", truncHash(hash),
					)
				}
			}()
			w.onSwap(snap)
		}()
	}

	return pollSwapped
}

// backoffDuration computes exponential backoff capped at maxBackoff.
// consecutiveErrs=1 → 2x interval, =2 → 4x, =3 → 8x, etc.
func (w *Watcher) backoffDuration() time.Duration {
	mult := math.Pow(2, float64(w.consecutiveErrs))
	d := time.Duration(float64(w.interval) * mult)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// truncHash returns the first 12 characters of a hash for logging.
func truncHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
