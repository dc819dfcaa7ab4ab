// Package sourcetag writes and reads the small JSON marker a backup source
// root carries once it's been used as one, so the engine can refuse to
// treat an already-tagged source as a destination without explicit
// confirmation (§6.2).
package sourcetag

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
)

// MarkerFileName is the marker's filename, placed directly under the
// source root.
const MarkerFileName = ".imageintact_source"

// Marker is the marker file's contents (§6.2).
type Marker struct {
	SourceID   string `json:"source_id"`
	TaggedDate string `json:"tagged_date"`
	AppVersion string `json:"app_version"`
}

// Write creates or overwrites root's marker file with a fresh source_id and
// the current time in ISO-8601, written atomically so a crash mid-write
// never leaves a truncated marker.
func Write(root, appVersion string) (Marker, error) {
	m := Marker{
		SourceID:   uuid.NewString(),
		TaggedDate: time.Now().UTC().Format(time.RFC3339),
		AppVersion: appVersion,
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Marker{}, errors.Wrap(err, "marshal source marker")
	}

	path := filepath.Join(root, MarkerFileName)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return Marker{}, errors.Wrapf(err, "write source marker %s", path)
	}

	return m, nil
}

// Read returns root's marker, or (Marker{}, false, nil) if root has never
// been tagged.
func Read(root string) (Marker, bool, error) {
	path := filepath.Join(root, MarkerFileName)

	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return Marker{}, false, nil
		}

		return Marker{}, false, errors.Wrapf(err, "read source marker %s", path)
	}

	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return Marker{}, false, errors.Wrapf(err, "parse source marker %s", path)
	}

	return m, true, nil
}

// Remove deletes root's marker, used when the user explicitly confirms
// reusing a tagged source as a destination (§6.2).
func Remove(root string) error {
	path := filepath.Join(root, MarkerFileName)

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove source marker %s", path)
	}

	return nil
}

// IsTaggedAsSource reports whether root carries a marker at all.
func IsTaggedAsSource(root string) (bool, error) {
	_, ok, err := Read(root)
	return ok, err
}
