// Package scheduler drives one destination's manifest entries through its
// copy/verify pipeline at a medium-appropriate concurrency (§4.3). Each
// destination gets its own Scheduler instance; the orchestrator fans out
// one per destination and lets them run independently.
package scheduler

import (
	"context"
	"time"

	"github.com/kopia/imageintact/destination"
	"github.com/kopia/imageintact/internal/logging"
	"github.com/kopia/imageintact/internal/parallelwork"
	"github.com/kopia/imageintact/internal/telemetry"
	"github.com/kopia/imageintact/manifest"
	"github.com/kopia/imageintact/pipeline"
)

var log = logging.Module("imageintact/scheduler")

// DefaultStallTimeout is the duration of zero progress after which a
// destination's remaining entries are failed in bulk (§4.3's stall
// watchdog).
const DefaultStallTimeout = 60 * time.Second

// ResultSink receives every Result produced against one destination, in
// completion order, for the event/manifest sinks to persist.
type ResultSink func(mountPath string, r pipeline.Result)

// Destination bundles everything a Scheduler needs to drive one mount
// through the pipeline.
type Destination struct {
	MountPath string
	Medium    destination.MediumClass
	Pipeline  *pipeline.Pipeline
	State     *destination.State
}

// Scheduler runs one destination's manifest entries to completion.
type Scheduler struct {
	// StallTimeout overrides DefaultStallTimeout; zero means use the
	// default.
	StallTimeout time.Duration

	// OnResult is invoked once per Result. It must not block; callers
	// that need to persist results should do so asynchronously.
	OnResult ResultSink
}

// New creates a Scheduler using DefaultStallTimeout.
func New() *Scheduler {
	return &Scheduler{}
}

func (s *Scheduler) stallTimeout() time.Duration {
	if s.StallTimeout > 0 {
		return s.StallTimeout
	}

	return DefaultStallTimeout
}

// Run drives every entry through dest.Pipeline at a lane width determined by
// dest.Medium, de-promoted one tier if networkPresentElsewhere (§4.3). It
// returns once every entry has reached a terminal outcome, the stall
// watchdog has failed the destination outright, or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, dest Destination, entries []manifest.Entry, networkPresentElsewhere bool) error {
	dest.State.Begin()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wd := NewWatchdog(s.stallTimeout())
	wd.Touch()

	stallDone := make(chan struct{})
	go func() {
		defer close(stallDone)

		wd.Run(runCtx, func() {
			log.Warnf("destination %s stalled for %s, failing remaining entries", dest.MountPath, s.stallTimeout())
			dest.State.FailRemaining("NetworkTimeout")
			cancel()
		})
	}()

	q := parallelwork.NewQueue()
	q.ProgressCallback = func(_ context.Context, _, _, _ int64) {
		wd.Touch()
	}

	for _, entry := range entries {
		entry := entry

		q.EnqueueBack(runCtx, func() error {
			fileCtx, span := telemetry.StartFile(runCtx, entry.RelativePath, dest.MountPath)
			results := dest.Pipeline.Process(fileCtx, entry)
			span.End()

			for _, r := range results {
				s.record(dest, r)
			}

			return nil
		})
	}

	lanes := dest.Medium.LaneWidth(networkPresentElsewhere)

	err := q.Process(runCtx, lanes)

	cancel()
	<-stallDone

	dest.State.Finish()

	return err
}

func (s *Scheduler) record(dest Destination, r pipeline.Result) {
	switch r.Outcome {
	case pipeline.OutcomeCopied:
		dest.State.RecordCopied(r.Entry.SizeBytes)
	case pipeline.OutcomeSkipped:
		dest.State.RecordSkipped()
	case pipeline.OutcomeVerified:
		dest.State.RecordVerified()
	case pipeline.OutcomeQuarantined:
		dest.State.RecordQuarantined()
	case pipeline.OutcomeFailed:
		dest.State.RecordFailed()
	}

	if s.OnResult != nil {
		s.OnResult(dest.MountPath, r)
	}
}
