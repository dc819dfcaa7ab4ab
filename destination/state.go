package destination

import (
	"sync"
	"sync/atomic"
	"time"
)

// Phase is one destination's lifecycle state (§3's `state` field).
type Phase int

// Destination phases.
const (
	PhasePending Phase = iota
	PhaseCopying
	PhaseVerifying
	PhaseComplete
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseCopying:
		return "copying"
	case PhaseVerifying:
		return "verifying"
	case PhaseComplete:
		return "complete"
	case PhaseFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Counters are the per-destination progress counters (§3). Each field is
// owned exclusively by the destination's scheduler and mutated only via
// atomic operations; the aggregator only ever reads immutable Snapshot
// values (§9 "owned counters + snapshots").
type Counters struct {
	Queued      int64
	Copied      int64
	Skipped     int64
	Verified    int64
	Failed      int64
	Quarantined int64
}

// State is one destination's live session state (DestinationState, §3).
type State struct {
	MountPath  string
	MediumName MediumClass

	mu            sync.Mutex
	phase         Phase
	startedAt     time.Time
	failureReason string

	total       int64
	queued      int64
	copied      int64
	skipped     int64
	verified    int64
	failed      int64
	quarantined int64
	bytesWritten int64
}

// New creates a pending destination state for a mount path and a total
// manifest entry count.
func New(mountPath string, medium MediumClass, total int64) *State {
	return &State{
		MountPath:  mountPath,
		MediumName: medium,
		phase:      PhasePending,
		total:      total,
		queued:     total,
	}
}

// Begin transitions the destination from pending to copying, recording the
// start time used for elapsed/throughput reporting.
func (s *State) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.phase = PhaseCopying
	s.startedAt = time.Now()
}

// RecordCopied accounts for a COPIED outcome and the bytes it wrote.
func (s *State) RecordCopied(bytes int64) {
	atomic.AddInt64(&s.copied, 1)
	atomic.AddInt64(&s.queued, -1)
	atomic.AddInt64(&s.bytesWritten, bytes)
}

// RecordSkipped accounts for a SKIPPED outcome.
func (s *State) RecordSkipped() {
	atomic.AddInt64(&s.skipped, 1)
	atomic.AddInt64(&s.queued, -1)
}

// RecordVerified accounts for a VERIFIED outcome. It does not decrement
// queued: VERIFIED always follows a COPIED for the same file.
func (s *State) RecordVerified() {
	atomic.AddInt64(&s.verified, 1)
}

// RecordQuarantined accounts for a QUARANTINED outcome (a displaced file,
// not a manifest entry outcome by itself).
func (s *State) RecordQuarantined() {
	atomic.AddInt64(&s.quarantined, 1)
}

// RecordFailed accounts for a FAILED outcome for a manifest entry.
func (s *State) RecordFailed() {
	atomic.AddInt64(&s.failed, 1)
	atomic.AddInt64(&s.queued, -1)
}

// FailRemaining marks every not-yet-resolved manifest entry FAILED in bulk,
// used when the stall watchdog trips or the destination disappears (§4.3
// PerDestination failure handling).
func (s *State) FailRemaining(reason string) int64 {
	s.mu.Lock()
	s.phase = PhaseFailed
	s.failureReason = reason
	s.mu.Unlock()

	remaining := atomic.LoadInt64(&s.queued)
	if remaining <= 0 {
		return 0
	}

	atomic.AddInt64(&s.failed, remaining)
	atomic.StoreInt64(&s.queued, 0)

	return remaining
}

// Finish transitions the destination to its terminal phase: it stays failed
// if FailRemaining already failed it, and becomes complete otherwise.
// Per-entry FAILED outcomes alone do not make the destination failed.
func (s *State) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseFailed {
		return
	}

	s.phase = PhaseComplete
}

// Snapshot is an immutable point-in-time read of a destination's counters,
// used by the progress aggregator (§4.5, §9).
type Snapshot struct {
	MountPath     string
	Medium        MediumClass
	Phase         Phase
	FailureReason string
	Total         int64
	Queued        int64
	Copied        int64
	Skipped       int64
	Verified      int64
	Failed        int64
	Quarantined   int64
	BytesWritten  int64
	Elapsed       time.Duration
}

// Snapshot reads the current counters without mutating them.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	phase := s.phase
	started := s.startedAt
	reason := s.failureReason
	s.mu.Unlock()

	var elapsed time.Duration
	if !started.IsZero() {
		elapsed = time.Since(started)
	}

	return Snapshot{
		MountPath:     s.MountPath,
		Medium:        s.MediumName,
		Phase:         phase,
		FailureReason: reason,
		Total:         s.total,
		Queued:        atomic.LoadInt64(&s.queued),
		Copied:        atomic.LoadInt64(&s.copied),
		Skipped:       atomic.LoadInt64(&s.skipped),
		Verified:      atomic.LoadInt64(&s.verified),
		Failed:        atomic.LoadInt64(&s.failed),
		Quarantined:   atomic.LoadInt64(&s.quarantined),
		BytesWritten:  atomic.LoadInt64(&s.bytesWritten),
		Elapsed:       elapsed,
	}
}

// Done reports whether every manifest entry has reached a terminal outcome
// on this destination.
func (sn Snapshot) Done() bool {
	return sn.Copied+sn.Skipped+sn.Failed >= sn.Total
}
