// Package controlapi exposes one running session over local HTTP: status,
// progress, Prometheus metrics, and a bearer-token-guarded cancel endpoint
// (SPEC_FULL.md's Control API module, realizing spec.md §1's "User
// interface: receives progress/state; issues start/cancel" contract).
//
// Grounded on the teacher's gorilla/mux-based observability listener
// (cli/observability_flags.go's maybeStartListener, cli/command_server_start.go's
// initPrometheus): one mux.Router, one http.Server, started on an
// ephemeral or configured port.
package controlapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kopia/imageintact/destination"
	"github.com/kopia/imageintact/internal/logging"
	"github.com/kopia/imageintact/orchestrator"
	"github.com/kopia/imageintact/progress"
	"github.com/kopia/imageintact/session"
)

var log = logging.Module("imageintact/controlapi")

// jwtClaims is the single claim the cancel endpoint checks: that the token
// was minted for this session's ID. There is no expiry beyond the process
// lifetime; the token is never persisted and is only ever printed once to
// the CLI that started the session.
type jwtClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// MintCancelToken signs a bearer token scoped to one session ID. Returns the
// compact JWT string the CLI prints once at session start.
func MintCancelToken(sessionID string, signingKey []byte) (string, error) {
	claims := jwtClaims{
		SessionID: sessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", errors.Wrap(err, "sign cancel token")
	}

	return signed, nil
}

// StatusResponse is the GET /status payload.
type StatusResponse struct {
	SessionID   string                 `json:"session_id"`
	Nickname    string                 `json:"nickname"`
	Status      string                 `json:"status"`
	Phase       orchestrator.Phase     `json:"phase"`
	SourceRoot  string                 `json:"source_root"`
	Elapsed     time.Duration          `json:"elapsed"`
	Destinations []destination.Snapshot `json:"destinations"`
}

// Server serves one orchestrator's state over HTTP. It does not own the
// orchestrator's lifecycle: the caller runs Orchestrator.Run separately and
// passes the same instance here for polling.
type Server struct {
	Session      *session.Session
	Orchestrator *orchestrator.Orchestrator
	SigningKey   []byte

	router *mux.Router
}

// New builds a Server wired to sess/orch. signingKey authenticates POST
// /cancel bearer tokens minted by MintCancelToken for this session.
func New(sess *session.Session, orch *orchestrator.Orchestrator, signingKey []byte) *Server {
	s := &Server{
		Session:      sess,
		Orchestrator: orch,
		SigningKey:   signingKey,
	}

	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/progress", s.handleProgress).Methods(http.MethodGet)
	r.HandleFunc("/cancel", s.handleCancel).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router = r

	return s
}

// Handler returns the HTTP handler to pass to http.Server or httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		SessionID:    s.Session.ID,
		Nickname:     s.Session.Nickname,
		Status:       s.Session.Status.String(),
		Phase:        s.Orchestrator.CurrentPhase(),
		SourceRoot:   s.Session.SourceRoot,
		Elapsed:      s.Session.Elapsed(),
		Destinations: s.Orchestrator.DestinationSnapshots(),
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, progressJSONFrom(s.Orchestrator.LastProgress()))
}

// progressJSON is the wire shape for GET /progress (§4.5's aggregate view).
type progressJSON struct {
	TotalFiles                int64                  `json:"total_files"`
	CopiedFiles               int64                  `json:"copied_files"`
	SkippedFiles              int64                  `json:"skipped_files"`
	VerifiedFiles             int64                  `json:"verified_files"`
	FailedFiles               int64                  `json:"failed_files"`
	QuarantinedFiles          int64                  `json:"quarantined_files"`
	BytesWritten              int64                  `json:"bytes_written"`
	EstimatedSecondsRemaining float64                `json:"estimated_seconds_remaining"`
	Destinations              []destination.Snapshot `json:"destinations"`
}

func progressJSONFrom(a progress.Aggregate) progressJSON {
	return progressJSON{
		TotalFiles:                a.TotalFiles,
		CopiedFiles:               a.CopiedFiles,
		SkippedFiles:              a.SkippedFiles,
		VerifiedFiles:             a.VerifiedFiles,
		FailedFiles:               a.FailedFiles,
		QuarantinedFiles:          a.QuarantinedFiles,
		BytesWritten:              a.BytesWritten,
		EstimatedSecondsRemaining: a.EstimatedSecondsRemaining,
		Destinations:              a.Destinations,
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	s.Orchestrator.Cancel()

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) authorize(r *http.Request) error {
	raw := r.Header.Get("Authorization")

	const prefix = "Bearer "
	if len(raw) <= len(prefix) || raw[:len(prefix)] != prefix {
		return errors.New("missing bearer token")
	}

	tokenString := raw[len(prefix):]

	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.SigningKey, nil
	})
	if err != nil {
		return errors.Wrap(err, "invalid cancel token")
	}

	if !token.Valid {
		return errors.New("invalid cancel token")
	}

	if claims.SessionID != s.Session.ID {
		return errors.New("cancel token scoped to a different session")
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("write response: %v", err)
	}
}
