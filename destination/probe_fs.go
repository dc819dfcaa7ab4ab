package destination

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// FilesystemProber implements Prober for local mount points by reading
// free space via statfs and classifying the medium from filesystem/path
// heuristics. Network backends (WebDAV/SFTP) never go through this prober:
// their medium is always MediumNetwork, decided by config, not by probing a
// local path (§6.4's "a WebDAV mount is always network").
type FilesystemProber struct {
	// RemovableMountPrefixes are path prefixes (e.g. "/Volumes", "/media",
	// "/run/media") under which a mount is classified as portable/removable
	// rather than internal. Empty uses DefaultRemovableMountPrefixes.
	RemovableMountPrefixes []string
}

// DefaultRemovableMountPrefixes covers the common macOS/Linux removable
// mount roots.
var DefaultRemovableMountPrefixes = []string{"/Volumes/", "/media/", "/run/media/", "/mnt/"}

// NewFilesystemProber creates a FilesystemProber with the default removable
// mount prefixes.
func NewFilesystemProber() *FilesystemProber {
	return &FilesystemProber{RemovableMountPrefixes: DefaultRemovableMountPrefixes}
}

// ProbeDestination implements Prober.
func (p *FilesystemProber) ProbeDestination(path string) (ProbeResult, error) {
	var stat unix.Statfs_t

	if err := unix.Statfs(path, &stat); err != nil {
		return ProbeResult{}, errors.Wrapf(err, "statfs %s", path)
	}

	free := int64(stat.Bavail) * int64(stat.Bsize) //nolint:unconvert

	return ProbeResult{
		MediumClass: p.classify(path),
		FreeBytes:   free,
		DisplayName: path,
	}, nil
}

func (p *FilesystemProber) classify(path string) MediumClass {
	prefixes := p.RemovableMountPrefixes
	if len(prefixes) == 0 {
		prefixes = DefaultRemovableMountPrefixes
	}

	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return MediumPortableSSD
		}
	}

	return MediumInternal
}
