package destination

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPBackend backs a MediumNetwork destination reached over SFTP.
type SFTPBackend struct {
	ssh    *ssh.Client
	client *sftp.Client
}

// DialSFTPBackend opens an SSH connection to addr and an SFTP session over
// it. Credentials, like WebDAV's, are expected to come from the OS
// keyring.
func DialSFTPBackend(addr, user, password string) (*SFTPBackend, error) {
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // host key pinning is a UI/config concern, not the engine's
	}

	conn, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, errors.Wrap(err, "open sftp session")
	}

	return &SFTPBackend{ssh: conn, client: client}, nil
}

// Close releases the underlying SSH connection.
func (b *SFTPBackend) Close() error {
	b.client.Close() //nolint:errcheck
	return b.ssh.Close()
}

// Stat reports the size of relPath and whether it exists.
func (b *SFTPBackend) Stat(relPath string) (int64, bool, error) {
	fi, err := b.client.Stat(relPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}

		return 0, false, errors.Wrapf(err, "sftp stat %s", relPath)
	}

	return fi.Size(), true, nil
}

// Open opens relPath for reading.
func (b *SFTPBackend) Open(relPath string) (io.ReadCloser, error) {
	f, err := b.client.Open(relPath)
	if err != nil {
		return nil, errors.Wrapf(err, "sftp open %s", relPath)
	}

	return f, nil
}

// Create creates (or truncates) relPath for writing.
func (b *SFTPBackend) Create(relPath string) (io.WriteCloser, error) {
	f, err := b.client.Create(relPath)
	if err != nil {
		return nil, errors.Wrapf(err, "sftp create %s", relPath)
	}

	return f, nil
}

// Remove removes relPath.
func (b *SFTPBackend) Remove(relPath string) error {
	if err := b.client.Remove(relPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "sftp remove %s", relPath)
	}

	return nil
}

// Rename moves oldRelPath to newRelPath.
func (b *SFTPBackend) Rename(oldRelPath, newRelPath string) error {
	if err := b.MkdirAll(parentDir(newRelPath)); err != nil {
		return err
	}

	if err := b.client.Rename(oldRelPath, newRelPath); err != nil {
		return errors.Wrapf(err, "sftp rename %s -> %s", oldRelPath, newRelPath)
	}

	return nil
}

// MkdirAll idempotently creates dirRelPath and its parents.
func (b *SFTPBackend) MkdirAll(dirRelPath string) error {
	if dirRelPath == "" || dirRelPath == "." {
		return nil
	}

	if err := b.client.MkdirAll(dirRelPath); err != nil {
		return errors.Wrapf(err, "sftp mkdir %s", dirRelPath)
	}

	return nil
}

// Flush is a no-op beyond the per-file Close the pipeline already performs:
// the SFTP protocol acknowledges a write once the server has accepted it,
// and the library exposes no separate volume-wide sync request.
func (b *SFTPBackend) Flush() error {
	return nil
}

var _ Backend = (*SFTPBackend)(nil)
