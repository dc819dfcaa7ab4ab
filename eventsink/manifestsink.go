package eventsink

import (
	"bytes"
	"encoding/csv"
	"time"

	"github.com/natefinch/atomic"
	"github.com/pkg/errors"

	"github.com/kopia/imageintact/pipeline"
)

var manifestHeader = []string{"file_path", "checksum", "algorithm", "file_size", "action", "timestamp"}

// ManifestRecord is one row of a destination's resolved-manifest snapshot
// (§4.6, §6.1): the outcome a single manifest entry settled into on that
// destination, not the source manifest entry itself.
type ManifestRecord struct {
	FilePath  string
	Checksum  string
	FileSize  int64
	Action    pipeline.Outcome
	Timestamp time.Time
}

// WriteManifestSnapshot atomically (re)writes a destination's resolved
// manifest as a CSV file at path, replacing any prior snapshot in one
// rename so a concurrent reader never observes a partially written file.
// Only COPIED, SKIPPED, and VERIFIED records belong in records; anything
// else (QUARANTINED, FAILED) is the action log's concern, not the
// destination's resolved state.
func WriteManifestSnapshot(path string, records []ManifestRecord) error {
	var buf bytes.Buffer

	w := csv.NewWriter(&buf)

	if err := w.Write(manifestHeader); err != nil {
		return errors.Wrap(err, "write manifest header")
	}

	for _, r := range records {
		row := []string{
			r.FilePath,
			r.Checksum,
			digestAlgorithm,
			formatInt(r.FileSize),
			string(r.Action),
			r.Timestamp.UTC().Format(time.RFC3339Nano),
		}

		if err := w.Write(row); err != nil {
			return errors.Wrap(err, "write manifest row")
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return errors.Wrap(err, "flush manifest csv")
	}

	if err := atomic.WriteFile(path, &buf); err != nil {
		return errors.Wrapf(err, "atomically write manifest snapshot %s", path)
	}

	return nil
}
