// Package session tracks one backup run from start to finish: its
// identity, the source/destination set it covers, and its terminal
// status (§3's Session).
package session

import (
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"
)

// Status is a session's lifecycle state (§3).
type Status int

// Session statuses.
const (
	StatusPending Status = iota
	StatusRunning
	StatusComplete
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// Session is one backup run (§3).
type Session struct {
	ID       string
	Nickname string

	SourceRoot   string
	Destinations []string

	Status Status

	StartedAt  time.Time
	FinishedAt time.Time
}

// New creates a pending Session over sourceRoot and destinations, with a
// random UUID identity and a human-memorable nickname for logs and the
// control API ("the run over /Volumes/Backup1 and /Volumes/Backup2" is
// less useful in a log line than "fond-badger").
func New(sourceRoot string, destinations []string) *Session {
	return &Session{
		ID:           uuid.NewString(),
		Nickname:     petname.Generate(2, "-"),
		SourceRoot:   sourceRoot,
		Destinations: destinations,
		Status:       StatusPending,
	}
}

// Start transitions the session to running and records the start time.
func (s *Session) Start() {
	s.Status = StatusRunning
	s.StartedAt = time.Now()
}

// Finish transitions the session to a terminal status and records the
// finish time. Calling Finish on an already-terminal session is a no-op.
func (s *Session) Finish(status Status) {
	if s.Status == StatusComplete || s.Status == StatusFailed || s.Status == StatusCancelled {
		return
	}

	s.Status = status
	s.FinishedAt = time.Now()
}

// Elapsed returns the time since Start, or since StartedAt to FinishedAt if
// the session has already finished.
func (s *Session) Elapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}

	if !s.FinishedAt.IsZero() {
		return s.FinishedAt.Sub(s.StartedAt)
	}

	return time.Since(s.StartedAt)
}
