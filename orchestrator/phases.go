package orchestrator

// Phase is one step of a session's monotonic progression (§4.7).
type Phase string

// Phases, in the order §4.7 mandates. The terminal Complete phase is also
// reachable from any intermediate phase on cancellation.
const (
	PhaseAnalyzingSource       Phase = "analyzing_source"
	PhaseBuildingManifest      Phase = "building_manifest"
	PhaseCopyingFiles          Phase = "copying_files"
	PhaseFlushingToDisk        Phase = "flushing_to_disk"
	PhaseVerifyingDestinations Phase = "verifying_destinations"
	PhaseComplete              Phase = "complete"
)

// SessionStatus is the session's terminal disposition (§7).
type SessionStatus string

// Session statuses.
const (
	StatusCompleted            SessionStatus = "completed"
	StatusCompletedWithErrors  SessionStatus = "completed_with_errors"
	StatusCancelled            SessionStatus = "cancelled"
)
