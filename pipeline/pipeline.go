package pipeline

import (
	"context"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/kopia/imageintact/destination"
	"github.com/kopia/imageintact/digest"
	"github.com/kopia/imageintact/internal/logging"
	"github.com/kopia/imageintact/internal/retry"
	"github.com/kopia/imageintact/manifest"
)

var log = logging.Module("imageintact/pipeline")

// ErrCancelled is returned by Process when ctx is cancelled mid-file; no
// VERIFIED result is ever returned alongside it.
var ErrCancelled = errors.New("cancelled")

// Clock is injected so quarantine timestamps are deterministic in tests.
type Clock func() time.Time

// Pipeline drives one (entry, destination) through RECONCILE → (SKIP |
// COPY | QUARANTINE_THEN_COPY) → FLUSH → VERIFY → DONE (§4.4).
type Pipeline struct {
	Backend destination.Backend
	Clock   Clock

	// IsRetriable classifies an error from open/read/copy as transient
	// (retry up to 3 times with exponential backoff) or permanent. A nil
	// IsRetriable falls back to DefaultIsRetriable.
	IsRetriable func(error) bool
}

// New creates a Pipeline writing through backend.
func New(backend destination.Backend) *Pipeline {
	return &Pipeline{Backend: backend, Clock: time.Now, IsRetriable: DefaultIsRetriable}
}

func (p *Pipeline) clock() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}

	return time.Now()
}

func (p *Pipeline) retriable(err error) bool {
	if p.IsRetriable != nil {
		return p.IsRetriable(err)
	}

	return DefaultIsRetriable(err)
}

// DefaultIsRetriable classifies timeouts, connection loss, and the
// analogous "unknown error" class on network volumes as transient (§4.4).
// Checksum mismatches are a distinct code path (never routed through
// retry) and so are never classified here.
func DefaultIsRetriable(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, token := range []string{"timeout", "connection reset", "connection refused", "broken pipe", "eagain", "host unreachable", "no route to host", "unknown error"} {
		if strings.Contains(msg, token) {
			return true
		}
	}

	return false
}

// Process drives entry through the full state machine against one
// destination, returning every ActionRecord-worthy Result produced (in
// order: an optional QUARANTINED, then SKIPPED, COPIED followed by VERIFIED
// or FAILED, or FAILED alone).
func (p *Pipeline) Process(ctx context.Context, entry manifest.Entry) []Result {
	if err := ctx.Err(); err != nil {
		return []Result{p.cancelled(entry)}
	}

	if err := p.Backend.MkdirAll(path.Dir(entry.RelativePath)); err != nil {
		return []Result{p.failed(entry, errors.Wrap(err, "create parent directory").Error())}
	}

	action, quarantineResult, err := p.reconcile(entry)
	if err != nil {
		return []Result{p.failed(entry, err.Error())}
	}

	var results []Result
	if quarantineResult != nil {
		results = append(results, *quarantineResult)
	}

	switch action {
	case actionSkip:
		return append(results, Result{Entry: entry, Outcome: OutcomeSkipped, Reason: "Already exists with matching checksum", Digest: entry.Digest})
	case actionCopy:
		// fall through below
	}

	if err := ctx.Err(); err != nil {
		return append(results, p.cancelled(entry))
	}

	if err := p.copy(ctx, entry); err != nil {
		return append(results, p.failed(entry, err.Error()))
	}

	results = append(results, Result{Entry: entry, Outcome: OutcomeCopied, Reason: "", Digest: entry.Digest})

	if err := ctx.Err(); err != nil {
		return append(results, p.cancelled(entry))
	}

	verifyErr := p.verify(ctx, entry)
	if verifyErr != nil {
		if errors.Is(verifyErr, ErrCancelled) {
			return append(results, p.cancelled(entry))
		}

		return append(results, Result{Entry: entry, Outcome: OutcomeFailed, Reason: verifyErr.Error()})
	}

	return append(results, Result{Entry: entry, Outcome: OutcomeVerified, Reason: "", Digest: entry.Digest})
}

type reconcileAction int

const (
	actionCopy reconcileAction = iota
	actionSkip
)

// reconcile compares an incoming source file to an existing destination
// file by size-then-digest (§4.4 RECONCILE).
func (p *Pipeline) reconcile(entry manifest.Entry) (reconcileAction, *Result, error) {
	size, exists, err := p.Backend.Stat(entry.RelativePath)
	if err != nil {
		return actionCopy, nil, errors.Wrap(err, "stat target")
	}

	if !exists {
		return actionCopy, nil, nil
	}

	if size != entry.SizeBytes {
		// Size-only mismatch is an incomplete prior write, not a
		// conflicting artifact: remove and recopy, no quarantine.
		if err := p.Backend.Remove(entry.RelativePath); err != nil {
			return actionCopy, nil, errors.Wrap(err, "remove incomplete prior write")
		}

		return actionCopy, nil, nil
	}

	existingDigest, err := p.digestTarget(entry.RelativePath, size)
	if err != nil {
		return actionCopy, nil, errors.Wrap(err, "digest existing target")
	}

	if existingDigest == entry.Digest {
		return actionSkip, nil, nil
	}

	qr, err := p.quarantine(entry.RelativePath, existingDigest)
	if err != nil {
		return actionCopy, nil, errors.Wrap(err, "quarantine existing target")
	}

	return actionCopy, qr, nil
}

// quarantine moves the existing target into the per-destination
// quarantine directory (§4.4 QUARANTINE_THEN_COPY).
func (p *Pipeline) quarantine(relPath, existingDigest string) (*Result, error) {
	dest := quarantinePath(relPath, p.clock())

	if err := p.Backend.MkdirAll(path.Dir(dest)); err != nil {
		return nil, err
	}

	if err := p.Backend.Rename(relPath, dest); err != nil {
		return nil, err
	}

	return &Result{
		Entry:   manifest.Entry{RelativePath: relPath},
		Outcome: OutcomeQuarantined,
		Reason:  "",
		Digest:  existingDigest,
	}, nil
}

// copy byte-copies the source file to the target. No rename-based
// atomicity is attempted; correctness relies on FLUSH+VERIFY (§4.4 COPY).
// Transient I/O is retried up to 3 times with exponential backoff.
func (p *Pipeline) copy(ctx context.Context, entry manifest.Entry) error {
	return retry.WithExponentialBackoffNoValue(ctx, "copy "+entry.RelativePath, func() error {
		src, err := os.Open(entry.SourceAbsolutePath) //nolint:gosec
		if err != nil {
			return errors.Wrap(err, "open source")
		}
		defer src.Close() //nolint:errcheck

		dst, err := p.Backend.Create(entry.RelativePath)
		if err != nil {
			return errors.Wrap(err, "create target")
		}

		if _, err := io.Copy(dst, src); err != nil {
			dst.Close() //nolint:errcheck
			return errors.Wrap(err, "copy bytes")
		}

		// Close performs the per-file portion of FLUSH (fsync on local
		// backends; protocol ack on WebDAV/SFTP) — the file is not
		// considered complete until this returns.
		if err := dst.Close(); err != nil {
			return errors.Wrap(err, "flush target")
		}

		return nil
	}, p.retriable)
}

// verify re-reads the target and compares its digest to the source's
// (§4.4 VERIFY). A mismatch leaves the bad file in place as diagnostic
// evidence; it is never retried.
func (p *Pipeline) verify(ctx context.Context, entry manifest.Entry) error {
	if err := ctx.Err(); err != nil {
		return ErrCancelled
	}

	got, err := p.digestTarget(entry.RelativePath, entry.SizeBytes)
	if err != nil {
		return errors.Wrap(err, "re-read target")
	}

	if got != entry.Digest {
		return errors.New("Checksum mismatch after copy") //nolint:goerr113,stylecheck
	}

	return nil
}

func (p *Pipeline) digestTarget(relPath string, size int64) (string, error) {
	if lb, ok := p.Backend.(*destination.LocalBackend); ok {
		// Local files can be hashed directly by path, taking advantage of
		// the digest engine's mmap whole-read tier (§4.1).
		return digest.Hash(context.Background(), lb.AbsPath(relPath))
	}

	rc, err := p.Backend.Open(relPath)
	if err != nil {
		return "", err
	}
	defer rc.Close() //nolint:errcheck

	return digest.HashReader(context.Background(), rc, size)
}

func (p *Pipeline) cancelled(entry manifest.Entry) Result {
	return Result{Entry: entry, Outcome: OutcomeFailed, Reason: "Cancelled"}
}

func (p *Pipeline) failed(entry manifest.Entry, reason string) Result {
	return Result{Entry: entry, Outcome: OutcomeFailed, Reason: reason}
}
