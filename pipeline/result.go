// Package pipeline implements the per-file, per-destination copy/verify
// state machine (§4.4): RECONCILE, then SKIP / COPY / QUARANTINE_THEN_COPY,
// then FLUSH, then VERIFY.
package pipeline

import "github.com/kopia/imageintact/manifest"

// Outcome is one ActionRecord's action (§3).
type Outcome string

// Outcomes, per §3's ActionRecord.action enum.
const (
	OutcomeCopied      Outcome = "COPIED"
	OutcomeSkipped     Outcome = "SKIPPED"
	OutcomeQuarantined Outcome = "QUARANTINED"
	OutcomeVerified    Outcome = "VERIFIED"
	OutcomeFailed      Outcome = "FAILED"
)

// Result is one outcome produced while driving an entry through the state
// machine. A single call to Process may return more than one Result (e.g.
// a QUARANTINED record for the displaced file, followed by a COPIED and a
// VERIFIED record for the incoming one).
type Result struct {
	Entry   manifest.Entry
	Outcome Outcome
	Reason  string

	// Digest is the digest associated with this specific outcome: for
	// QUARANTINED, the displaced file's digest; for COPIED/VERIFIED/
	// SKIPPED, entry.Digest.
	Digest string
}
