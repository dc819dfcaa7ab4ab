package destination

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/studio-b12/gowebdav"
)

// WebDAVBackend backs a MediumNetwork destination reached over WebDAV.
type WebDAVBackend struct {
	client *gowebdav.Client
}

// NewWebDAVBackend dials uri with the given credentials. Credentials are
// expected to come from the OS keyring (SPEC_FULL.md's Preference store
// expansion), never from the static config file.
func NewWebDAVBackend(uri, user, password string) *WebDAVBackend {
	return &WebDAVBackend{client: gowebdav.NewClient(uri, user, password)}
}

// Stat reports the size of relPath and whether it exists.
func (b *WebDAVBackend) Stat(relPath string) (int64, bool, error) {
	fi, err := b.client.Stat(relPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}

		return 0, false, errors.Wrapf(err, "webdav stat %s", relPath)
	}

	return fi.Size(), true, nil
}

// Open opens relPath for reading.
func (b *WebDAVBackend) Open(relPath string) (io.ReadCloser, error) {
	rc, err := b.client.ReadStream(relPath)
	if err != nil {
		return nil, errors.Wrapf(err, "webdav read %s", relPath)
	}

	return rc, nil
}

// webdavWriter streams into gowebdav.WriteStream via a pipe, since the
// client's write API is reader-driven rather than writer-driven.
type webdavWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *webdavWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *webdavWriter) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}

	return <-w.done
}

// Create opens relPath for writing.
func (b *WebDAVBackend) Create(relPath string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()

	w := &webdavWriter{pw: pw, done: make(chan error, 1)}

	go func() {
		err := b.client.WriteStream(relPath, pr, 0o644)
		pr.CloseWithError(err) //nolint:errcheck
		w.done <- err
	}()

	return w, nil
}

// Remove removes relPath.
func (b *WebDAVBackend) Remove(relPath string) error {
	if err := b.client.Remove(relPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "webdav remove %s", relPath)
	}

	return nil
}

// Rename moves oldRelPath to newRelPath.
func (b *WebDAVBackend) Rename(oldRelPath, newRelPath string) error {
	if err := b.MkdirAll(parentDir(newRelPath)); err != nil {
		return err
	}

	if err := b.client.Rename(oldRelPath, newRelPath, true); err != nil {
		return errors.Wrapf(err, "webdav rename %s -> %s", oldRelPath, newRelPath)
	}

	return nil
}

// MkdirAll idempotently creates dirRelPath and its parents.
func (b *WebDAVBackend) MkdirAll(dirRelPath string) error {
	if dirRelPath == "" || dirRelPath == "." {
		return nil
	}

	if err := b.client.MkdirAll(dirRelPath, 0o755); err != nil {
		return errors.Wrapf(err, "webdav mkdir %s", dirRelPath)
	}

	return nil
}

// Flush is a no-op: WebDAV PUT requests are already complete (and
// presumably durable server-side) by the time WriteStream returns, and the
// protocol has no volume-wide sync primitive.
func (b *WebDAVBackend) Flush() error {
	return nil
}

var _ Backend = (*WebDAVBackend)(nil)
