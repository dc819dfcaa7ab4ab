// Package orchestrator sequences a backup session's phases, propagates
// cancellation to every collaborator, and seals the session's terminal
// status (§4.7).
package orchestrator

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/kopia/imageintact/config"
	"github.com/kopia/imageintact/destination"
	"github.com/kopia/imageintact/eventsink"
	"github.com/kopia/imageintact/internal/logging"
	"github.com/kopia/imageintact/internal/telemetry"
	"github.com/kopia/imageintact/manifest"
	"github.com/kopia/imageintact/pipeline"
	"github.com/kopia/imageintact/progress"
	"github.com/kopia/imageintact/scheduler"
	"github.com/kopia/imageintact/session"
	"go.opentelemetry.io/otel/trace"
)

var log = logging.Module("imageintact/orchestrator")

// ErrPrecondition is wrapped by every precondition failure (§7): the
// session never enters copying_files when this is returned.
var ErrPrecondition = errors.New("precondition failed")

// Destination is one configured backup target, resolved to a concrete
// Backend and probed medium class before the session starts.
type Destination struct {
	MountPath string
	Medium    destination.MediumClass
	Backend   destination.Backend
}

// Orchestrator drives one session end to end.
type Orchestrator struct {
	Session      *session.Session
	SourceRoot   string
	Destinations []Destination
	Config       config.Config

	// OnPhase, if set, is called on every phase transition (§4.7's "the
	// orchestrator exposes the current phase to the UI").
	OnPhase func(Phase)

	// OnResult, if set, receives every ActionRecord-worthy Result produced
	// across every destination. The orchestrator does not persist results
	// itself; writing them to the event sink is up to this callback.
	OnResult func(destMount string, r pipeline.Result)

	// OnProgress, if set, receives a rate-limited Aggregate snapshot while
	// copyToDestinations is running (§4.5).
	OnProgress func(progress.Aggregate)

	// Metrics, if set, receives the same snapshots as Prometheus gauges.
	Metrics *progress.Metrics

	mu           sync.Mutex
	cancel       context.CancelFunc
	phaseSpan    trace.Span
	lastPhase    Phase
	states       []*destination.State
	lastProgress progress.Aggregate
	manifest     *manifest.Manifest
}

// Manifest reports the manifest built during the last run, nil before
// buildManifest completes. Callers use this after Run returns to write
// per-destination manifest snapshots (§4.6).
func (o *Orchestrator) Manifest() *manifest.Manifest {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.manifest
}

// CurrentPhase reports the phase last entered, for a control API poller
// running on a separate goroutine from Run.
func (o *Orchestrator) CurrentPhase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.lastPhase
}

// DestinationSnapshots reports a snapshot of every destination's counters as
// of the last tick, empty before copyToDestinations starts.
func (o *Orchestrator) DestinationSnapshots() []destination.Snapshot {
	o.mu.Lock()
	states := o.states
	o.mu.Unlock()

	snaps := make([]destination.Snapshot, 0, len(states))
	for _, s := range states {
		if s == nil {
			continue
		}
		snaps = append(snaps, s.Snapshot())
	}

	return snaps
}

// LastProgress reports the most recent rate-limited Aggregate observed,
// zero-valued before the first one arrives.
func (o *Orchestrator) LastProgress() progress.Aggregate {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.lastProgress
}

// New creates an Orchestrator for one session.
func New(sess *session.Session, sourceRoot string, destinations []Destination, cfg config.Config) *Orchestrator {
	return &Orchestrator{
		Session:      sess,
		SourceRoot:   sourceRoot,
		Destinations: destinations,
		Config:       cfg,
	}
}

// Cancel requests cancellation of the running session. It is a no-op
// before Run is called or after Run has returned.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
}

// Run executes every phase in order, returning the session's terminal
// status. Cancellation propagates to the manifest builder and every
// destination scheduler (§4.7); a cancelled run's status is always
// StatusCancelled regardless of how far it progressed.
func (o *Orchestrator) Run(ctx context.Context) (SessionStatus, error) {
	runCtx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	defer cancel()

	o.Session.Start()

	phaseCtx, err := o.enterPhase(runCtx, PhaseAnalyzingSource)
	if err != nil {
		return o.seal(o.statusFor(runCtx), err)
	}

	if err := o.checkPreconditions(); err != nil {
		return o.seal(StatusCompletedWithErrors, err)
	}

	phaseCtx, err = o.enterPhase(runCtx, PhaseBuildingManifest)
	if err != nil {
		return o.seal(o.statusFor(runCtx), err)
	}

	m, err := o.buildManifest(phaseCtx)
	if err != nil {
		return o.seal(o.statusFor(runCtx), err)
	}

	phaseCtx, err = o.enterPhase(runCtx, PhaseCopyingFiles)
	if err != nil {
		return o.seal(o.statusFor(runCtx), err)
	}

	states := o.copyToDestinations(phaseCtx, m)

	if _, err := o.enterPhase(runCtx, PhaseFlushingToDisk); err != nil {
		return o.seal(o.statusFor(runCtx), err)
	}

	o.flushDestinations()

	if _, err := o.enterPhase(runCtx, PhaseVerifyingDestinations); err != nil {
		return o.seal(o.statusFor(runCtx), err)
	}

	if _, err := o.enterPhase(runCtx, PhaseComplete); err != nil {
		return o.seal(o.statusFor(runCtx), err)
	}

	return o.seal(o.finalStatus(runCtx, states), nil)
}

// enterPhase closes the previous phase's span (if any), opens one for p, and
// notifies OnPhase. It returns the context carrying the new span alongside
// the error, since callers that proceed into the phase's work need it
// attached to the trace.
func (o *Orchestrator) enterPhase(ctx context.Context, p Phase) (context.Context, error) {
	if o.phaseSpan != nil {
		o.phaseSpan.End()
	}

	if err := ctx.Err(); err != nil {
		return ctx, err
	}

	phaseCtx, span := telemetry.StartPhase(ctx, string(p))
	o.phaseSpan = span
	o.lastPhase = p

	if o.OnPhase != nil {
		o.OnPhase(p)
	}

	return phaseCtx, nil
}

// checkPreconditions implements §7's Precondition taxonomy: missing
// source, no destinations, a destination equal to the source. Free-space
// preflight is left to the caller's ProbeDestination result, since it
// requires a live probe this package does not perform itself.
func (o *Orchestrator) checkPreconditions() error {
	if o.SourceRoot == "" {
		return errors.Wrap(ErrPrecondition, "missing source")
	}

	if len(o.Destinations) == 0 {
		return errors.Wrap(ErrPrecondition, "no destinations configured")
	}

	for _, d := range o.Destinations {
		if d.MountPath == o.SourceRoot {
			return errors.Wrapf(ErrPrecondition, "destination %s equals source", d.MountPath)
		}
	}

	return nil
}

func (o *Orchestrator) buildManifest(ctx context.Context) (*manifest.Manifest, error) {
	classifier := manifest.NewDefaultClassifier()

	opts := manifest.BuildOptions{
		SourceRoot: o.SourceRoot,
		Exclusion:  manifest.NewExclusionPolicy(o.Config.ExcludeCacheFiles, o.Config.SkipHiddenFiles, classifier),
		Filter:     manifest.NewTypeFilter(o.Config.FileTypeFilter),
		Classifier: classifier,
	}

	m, err := manifest.Build(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "build manifest")
	}

	o.mu.Lock()
	o.manifest = m
	o.mu.Unlock()

	return m, nil
}

func (o *Orchestrator) copyToDestinations(ctx context.Context, m *manifest.Manifest) []*destination.State {
	entries := m.Entries()
	networkPresent := o.anyNetworkDestination()

	states := make([]*destination.State, len(o.Destinations))

	o.mu.Lock()
	o.states = states
	o.mu.Unlock()

	var totalBytes int64
	for _, e := range entries {
		totalBytes += e.SizeBytes * int64(len(o.Destinations))
	}

	var wg sync.WaitGroup

	for i, d := range o.Destinations {
		i, d := i, d

		state := destination.New(d.MountPath, d.Medium, int64(len(entries)))
		states[i] = state

		wg.Add(1)

		go func() {
			defer wg.Done()

			s := scheduler.New()
			s.OnResult = func(mount string, r pipeline.Result) {
				if o.OnResult != nil {
					o.OnResult(mount, r)
				}
			}

			dest := scheduler.Destination{
				MountPath: d.MountPath,
				Medium:    d.Medium,
				Pipeline:  pipeline.New(d.Backend),
				State:     state,
			}

			if err := s.Run(ctx, dest, entries, networkPresent); err != nil {
				log.Warnf("destination %s finished with error: %v", d.MountPath, err)
			}
		}()
	}

	var progressWG sync.WaitGroup

	agg := progress.NewAggregator(states, totalBytes, progress.ObserverFunc(func(a progress.Aggregate) {
		o.mu.Lock()
		o.lastProgress = a
		o.mu.Unlock()

		if o.OnProgress != nil {
			o.OnProgress(a)
		}
	}), o.Metrics)

	progressCtx, stopProgress := context.WithCancel(ctx)

	progressWG.Add(1)
	go func() {
		defer progressWG.Done()
		agg.Run(progressCtx, progress.NotifyInterval/5)
	}()

	wg.Wait()

	// Stop the aggregator once the real copy work is done, forcing one last
	// notification so observers see the final tallies, then wait for it to
	// exit before returning.
	stopProgress()
	progressWG.Wait()

	return states
}

func (o *Orchestrator) flushDestinations() {
	for _, d := range o.Destinations {
		if err := d.Backend.Flush(); err != nil {
			log.Warnf("flush %s: %v", d.MountPath, err)
		}
	}
}

func (o *Orchestrator) anyNetworkDestination() bool {
	for _, d := range o.Destinations {
		if d.Medium == destination.MediumNetwork {
			return true
		}
	}

	return false
}

// finalStatus implements §7: cancelled if ctx was cancelled; otherwise
// completed_with_errors if any destination recorded a FAILED entry or ended
// failed, and completed if none did. A SKIPPED entry counts as success
// without reaching VERIFIED.
func (o *Orchestrator) finalStatus(ctx context.Context, states []*destination.State) SessionStatus {
	if ctx.Err() != nil {
		return StatusCancelled
	}

	for _, s := range states {
		snap := s.Snapshot()
		if snap.Failed > 0 || snap.Phase == destination.PhaseFailed {
			return StatusCompletedWithErrors
		}
	}

	return StatusCompleted
}

func (o *Orchestrator) statusFor(ctx context.Context) SessionStatus {
	if ctx.Err() != nil {
		return StatusCancelled
	}

	return StatusCompletedWithErrors
}

func (o *Orchestrator) seal(status SessionStatus, err error) (SessionStatus, error) {
	if o.phaseSpan != nil {
		o.phaseSpan.End()
		o.phaseSpan = nil
	}

	switch status {
	case StatusCompleted:
		o.Session.Finish(session.StatusComplete)
	case StatusCancelled:
		o.Session.Finish(session.StatusCancelled)
	default:
		o.Session.Finish(session.StatusFailed)
	}

	if o.OnPhase != nil && o.lastPhase != PhaseComplete {
		o.OnPhase(PhaseComplete)
	}

	return status, err
}

// WriteManifestSnapshots persists each destination's resolved manifest
// (the COPIED/SKIPPED/VERIFIED records it actually settled into, per
// recordsByMount) under its checksums directory (§4.6, §6.1), called once
// the session has reached its terminal phase.
func WriteManifestSnapshots(destinations []Destination, recordsByMount map[string][]eventsink.ManifestRecord, checksumsDirFor func(mountPath string) string) error {
	for _, d := range destinations {
		path := checksumsDirFor(d.MountPath)

		if err := eventsink.WriteManifestSnapshot(path, recordsByMount[d.MountPath]); err != nil {
			return errors.Wrapf(err, "write manifest snapshot for %s", d.MountPath)
		}
	}

	return nil
}
