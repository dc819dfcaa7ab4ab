package destination

import (
	"io"
	"path"
)

// Backend is the storage interface the copy/verify pipeline writes
// through. A destination's medium_class is decided independently of which
// Backend serves it (§6.3's destination_backends, SPEC_FULL.md): a WebDAV
// mount is always MediumNetwork regardless of backend kind.
type Backend interface {
	// Stat reports the size of relPath and whether it exists.
	Stat(relPath string) (size int64, exists bool, err error)
	Open(relPath string) (io.ReadCloser, error)
	Create(relPath string) (io.WriteCloser, error)
	Remove(relPath string) error
	Rename(oldRelPath, newRelPath string) error
	MkdirAll(dirRelPath string) error
	// Flush forces durable persistence of writes issued so far (§4.4
	// FLUSH). A single volume-wide flush per destination is permitted.
	Flush() error
}

// parentDir returns the slash-separated parent directory of relPath, "" if
// relPath has none.
func parentDir(relPath string) string {
	dir := path.Dir(relPath)
	if dir == "." {
		return ""
	}

	return dir
}
