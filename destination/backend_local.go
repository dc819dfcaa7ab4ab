package destination

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// LocalBackend is the os-based Backend used for internal, portable_ssd,
// external_hdd, removable_card, and unknown destinations.
type LocalBackend struct {
	root string
}

// NewLocalBackend returns a Backend rooted at root.
func NewLocalBackend(root string) *LocalBackend {
	return &LocalBackend{root: filepath.Clean(root)}
}

func (b *LocalBackend) abs(relPath string) string {
	return filepath.Join(b.root, filepath.FromSlash(relPath))
}

// AbsPath returns relPath's absolute filesystem location under this
// backend's root, letting callers that need local-path access (e.g. the
// digest engine's mmap whole-read tier) bypass the io.Reader interface.
func (b *LocalBackend) AbsPath(relPath string) string {
	return b.abs(relPath)
}

// Stat reports the size of relPath and whether it exists.
func (b *LocalBackend) Stat(relPath string) (int64, bool, error) {
	fi, err := os.Stat(b.abs(relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}

		return 0, false, errors.Wrapf(err, "stat %s", relPath)
	}

	return fi.Size(), true, nil
}

// Open opens relPath for reading.
func (b *LocalBackend) Open(relPath string) (io.ReadCloser, error) {
	f, err := os.Open(b.abs(relPath))
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", relPath)
	}

	return f, nil
}

// fsyncWriteCloser fsyncs the file on Close, implementing the per-file
// portion of §4.4's FLUSH step.
type fsyncWriteCloser struct {
	*os.File
}

func (w fsyncWriteCloser) Close() error {
	if err := w.File.Sync(); err != nil {
		w.File.Close() //nolint:errcheck
		return errors.Wrap(err, "fsync")
	}

	return w.File.Close()
}

// Create creates (or truncates) relPath for writing.
func (b *LocalBackend) Create(relPath string) (io.WriteCloser, error) {
	f, err := os.Create(b.abs(relPath)) //nolint:gosec
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", relPath)
	}

	return fsyncWriteCloser{f}, nil
}

// Remove removes relPath.
func (b *LocalBackend) Remove(relPath string) error {
	if err := os.Remove(b.abs(relPath)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %s", relPath)
	}

	return nil
}

// Rename moves oldRelPath to newRelPath, creating newRelPath's parent
// directory if needed.
func (b *LocalBackend) Rename(oldRelPath, newRelPath string) error {
	if err := b.MkdirAll(filepath.Dir(newRelPath)); err != nil {
		return err
	}

	if err := os.Rename(b.abs(oldRelPath), b.abs(newRelPath)); err != nil {
		return errors.Wrapf(err, "rename %s -> %s", oldRelPath, newRelPath)
	}

	return nil
}

// MkdirAll idempotently creates dirRelPath and its parents.
func (b *LocalBackend) MkdirAll(dirRelPath string) error {
	if dirRelPath == "" || dirRelPath == "." {
		return nil
	}

	if err := os.MkdirAll(b.abs(dirRelPath), 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", dirRelPath)
	}

	return nil
}

// Flush performs the volume-wide portion of §4.4's FLUSH step: it syncs the
// destination root directory so that renames/creates issued since the last
// flush are durable, as well as each file already fsynced individually on
// Close.
func (b *LocalBackend) Flush() error {
	d, err := os.Open(b.root)
	if err != nil {
		return errors.Wrap(err, "open destination root")
	}
	defer d.Close() //nolint:errcheck

	if err := d.Sync(); err != nil {
		return errors.Wrap(err, "sync destination root")
	}

	return nil
}

var _ Backend = (*LocalBackend)(nil)
