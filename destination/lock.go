package destination

import (
	"context"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// LockFileName is the advisory lock file the backup command holds for the
// duration of a session, preventing two concurrent sessions from writing
// the same destination (§5's scoped-acquisition resource lifecycle).
const LockFileName = ".imageintact_lock"

// Lock wraps an advisory file lock scoped to one destination mount.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes an exclusive, non-blocking lock on mountPath's lock
// file. It returns an error immediately if another process already holds
// it, rather than queuing — a destination is either free for this session
// or it isn't.
func AcquireLock(ctx context.Context, mountPath string) (*Lock, error) {
	fl := flock.New(filepath.Join(mountPath, LockFileName))

	locked, err := fl.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "lock %s", mountPath)
	}

	if !locked {
		return nil, errors.Errorf("destination %s is in use by another session", mountPath)
	}

	return &Lock{fl: fl}, nil
}

// Release drops the lock. It is safe to call multiple times.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}

	return l.fl.Unlock()
}
