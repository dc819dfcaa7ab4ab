// Package eventsink persists every ActionRecord and the session's resolved
// manifest to durable, append-only storage (§4.6, §6.1). Action records are
// appended as they occur so a crash mid-session loses at most the record in
// flight; the manifest is a point-in-time snapshot rewritten atomically.
package eventsink

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/kopia/imageintact/internal/logging"
	"github.com/kopia/imageintact/pipeline"
)

var log = logging.Module("imageintact/eventsink")

// digestAlgorithm is the only algorithm the digest engine produces (§4.1);
// recorded per row so the CSV stays self-describing if that ever changes.
const digestAlgorithm = "SHA256"

var actionLogHeader = []string{"timestamp", "session_id", "action", "source", "destination", "checksum", "algorithm", "file_size", "reason"}

// ActionLog is an append-only CSV sink for ActionRecords (§3, §4.6).
type ActionLog struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer

	// Now is injectable for deterministic timestamps in tests.
	Now func() time.Time
}

// OpenActionLog opens (creating if absent) the CSV log at path, appending to
// any existing content and writing the header only for a brand-new file.
func OpenActionLog(path string) (*ActionLog, error) {
	fresh := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fresh = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec
	if err != nil {
		return nil, errors.Wrapf(err, "open action log %s", path)
	}

	al := &ActionLog{f: f, w: csv.NewWriter(f), Now: time.Now}

	if fresh {
		if err := al.w.Write(actionLogHeader); err != nil {
			f.Close() //nolint:errcheck
			return nil, errors.Wrap(err, "write action log header")
		}

		al.w.Flush()

		if err := al.w.Error(); err != nil {
			f.Close() //nolint:errcheck
			return nil, errors.Wrap(err, "flush action log header")
		}
	}

	return al, nil
}

// Append records one ActionRecord (§3, §4.6) for a (session, destination,
// Result) triple, flushing and fsyncing before returning so a crash
// immediately after Append never loses the record.
func (a *ActionLog) Append(sessionID, destMount string, r pipeline.Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	row := []string{
		a.Now().UTC().Format(time.RFC3339Nano),
		sessionID,
		string(r.Outcome),
		r.Entry.SourceAbsolutePath,
		destMount,
		r.Digest,
		digestAlgorithm,
		formatInt(r.Entry.SizeBytes),
		r.Reason,
	}

	if err := a.w.Write(row); err != nil {
		return errors.Wrap(err, "write action record")
	}

	a.w.Flush()

	if err := a.w.Error(); err != nil {
		return errors.Wrap(err, "flush action record")
	}

	if err := a.f.Sync(); err != nil {
		return errors.Wrap(err, "fsync action log")
	}

	return nil
}

// actionLogFilePrefix/actionLogDateLayout name one day's action log,
// imageintact_<YYYY-MM-DD>.csv under a destination's .imageintact_logs
// directory (§4.6, §6.1).
const (
	actionLogFilePrefix = "imageintact_"
	actionLogDateLayout = "2006-01-02"
)

// ActionLogFileName returns the dated log file name for the given day.
func ActionLogFileName(day time.Time) string {
	return actionLogFilePrefix + day.Format(actionLogDateLayout) + ".csv"
}

// OpenDailyActionLog opens (creating if absent) today's dated log under
// dir, rotating any earlier day's log found alongside it first (§6.1's
// gzip-compress-on-rollover behavior).
func OpenDailyActionLog(dir string, now time.Time) (*ActionLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create action log directory %s", dir)
	}

	todayName := ActionLogFileName(now)

	if err := rotateStaleLogs(dir, todayName); err != nil {
		return nil, err
	}

	return OpenActionLog(filepath.Join(dir, todayName))
}

// rotateStaleLogs gzip-compresses every dated log under dir other than
// todayName, using the date encoded in each file's own name as the
// rollover date.
func rotateStaleLogs(dir, todayName string) error {
	matches, err := filepath.Glob(filepath.Join(dir, actionLogFilePrefix+"*.csv"))
	if err != nil {
		return errors.Wrap(err, "glob stale action logs")
	}

	for _, path := range matches {
		name := filepath.Base(path)
		if name == todayName {
			continue
		}

		dateStr := name[len(actionLogFilePrefix) : len(name)-len(".csv")]

		day, err := time.Parse(actionLogDateLayout, dateStr)
		if err != nil {
			log.Warnf("skip rotating %s: unrecognized log file name", path)
			continue
		}

		if err := RotateDailyLog(path, day); err != nil {
			return errors.Wrapf(err, "rotate stale action log %s", path)
		}
	}

	return nil
}

// Close flushes and closes the underlying file.
func (a *ActionLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.w.Flush()

	return a.f.Close()
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
