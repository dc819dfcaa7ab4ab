// Package progress aggregates per-destination counters into the run-wide
// snapshot the UI collaborator polls (§4.5). Notifications are rate-limited
// to roughly 10Hz, mirroring how a CLI progress line avoids redrawing on
// every single byte.
package progress

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kopia/imageintact/destination"
)

// NotifyInterval is the minimum gap between two UI notifications (§4.5:
// "updates are coalesced to approximately 10 times per second").
const NotifyInterval = 100 * time.Millisecond

// maxRateSamples bounds the rolling window used for the ETA estimate.
const maxRateSamples = 10

// Observer receives aggregate snapshots. Implementations must not block.
type Observer interface {
	OnProgress(Aggregate)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Aggregate)

// OnProgress implements Observer.
func (f ObserverFunc) OnProgress(a Aggregate) { f(a) }

// Aggregate is the run-wide progress snapshot handed to the UI (§3's
// aggregate progress view, §4.5).
type Aggregate struct {
	Destinations []destination.Snapshot

	TotalFiles     int64
	CopiedFiles    int64
	SkippedFiles   int64
	VerifiedFiles  int64
	FailedFiles    int64
	QuarantinedFiles int64
	BytesWritten   int64

	// EstimatedSecondsRemaining is -1 until at least two rate samples have
	// been observed.
	EstimatedSecondsRemaining float64
}

type rateSample struct {
	at    time.Time
	bytes int64
}

// Aggregator polls a fixed set of destination states and republishes a
// rate-limited Aggregate to its Observer.
type Aggregator struct {
	states []*destination.State
	totalBytes int64

	observer Observer
	metrics  *Metrics

	nextNotifyUnixNano int64

	mu      sync.Mutex
	samples []rateSample
}

// NewAggregator creates an Aggregator over states, reporting to observer and
// (optionally) exporting to metrics. totalBytes is the manifest-wide byte
// count across all destinations combined, used for the ETA estimate.
func NewAggregator(states []*destination.State, totalBytes int64, observer Observer, metrics *Metrics) *Aggregator {
	return &Aggregator{states: states, totalBytes: totalBytes, observer: observer, metrics: metrics}
}

// Run polls every pollInterval until ctx is done, calling MaybeNotify each
// tick. pollInterval should be finer than NotifyInterval (e.g. 20ms) so the
// rate limiter — not the ticker — governs actual notification cadence.
func (a *Aggregator) Run(ctx context.Context, pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = NotifyInterval / 5
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.notify(true)
			return
		case <-ticker.C:
			a.MaybeNotify()
		}
	}
}

// MaybeNotify publishes a snapshot if NotifyInterval has elapsed since the
// last one, using the same CAS-guarded rate limit a CLI progress bar uses to
// avoid redrawing on every update.
func (a *Aggregator) MaybeNotify() {
	nowNano := time.Now().UnixNano()

	next := atomic.LoadInt64(&a.nextNotifyUnixNano)
	if nowNano < next {
		return
	}

	if !atomic.CompareAndSwapInt64(&a.nextNotifyUnixNano, next, nowNano+NotifyInterval.Nanoseconds()) {
		return
	}

	a.notify(false)
}

func (a *Aggregator) notify(force bool) {
	_ = force

	agg := a.Snapshot()

	if a.metrics != nil {
		a.metrics.Observe(agg)
	}

	if a.observer != nil {
		a.observer.OnProgress(agg)
	}
}

// Snapshot computes the current Aggregate without regard to rate limiting.
func (a *Aggregator) Snapshot() Aggregate {
	var agg Aggregate

	agg.Destinations = make([]destination.Snapshot, 0, len(a.states))

	for _, s := range a.states {
		snap := s.Snapshot()
		agg.Destinations = append(agg.Destinations, snap)

		agg.TotalFiles += snap.Total
		agg.CopiedFiles += snap.Copied
		agg.SkippedFiles += snap.Skipped
		agg.VerifiedFiles += snap.Verified
		agg.FailedFiles += snap.Failed
		agg.QuarantinedFiles += snap.Quarantined
		agg.BytesWritten += snap.BytesWritten
	}

	agg.EstimatedSecondsRemaining = a.estimateRemaining(agg.BytesWritten)

	return agg
}

// estimateRemaining records bytesWritten as a rate sample and derives a
// seconds-remaining estimate from a rolling window of up to
// maxRateSamples, the way a throughput-based ETA is computed from recent
// samples rather than a single average over the whole run.
func (a *Aggregator) estimateRemaining(bytesWritten int64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()

	a.samples = append(a.samples, rateSample{at: now, bytes: bytesWritten})
	if len(a.samples) > maxRateSamples {
		a.samples = a.samples[len(a.samples)-maxRateSamples:]
	}

	if len(a.samples) < 2 || a.totalBytes <= 0 {
		return -1
	}

	oldest := a.samples[0]

	elapsed := now.Sub(oldest.at).Seconds()
	if elapsed <= 0 {
		return -1
	}

	rate := float64(bytesWritten-oldest.bytes) / elapsed
	if rate <= 0 {
		return -1
	}

	remaining := a.totalBytes - bytesWritten
	if remaining <= 0 {
		return 0
	}

	return float64(remaining) / rate
}
