//go:build unix

package orchestrator

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"golang.org/x/sys/unix"
)

// FileLocker is a Locker backed by flock(2) on a file. The kernel drops the
// lock when the holding process exits.
type FileLocker struct {
	Path string
}

// TryLock implements Locker.
func (l FileLocker) TryLock() (func() error, bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return nil, false, eris.Wrap(err, "orchestrator: create lock dir")
	}
	f, err := os.OpenFile(l.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, false, eris.Wrapf(err, "orchestrator: open lock %s", l.Path)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close() //nolint:errcheck
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, false, nil
		}
		return nil, false, eris.Wrapf(err, "orchestrator: flock %s", l.Path)
	}

	// The pid is informational only.
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	release := func() error {
		unlockErr := unix.Flock(int(f.Fd()), unix.LOCK_UN)
		closeErr := f.Close()
		if unlockErr != nil {
			return eris.Wrap(unlockErr, "orchestrator: unlock")
		}
		return eris.Wrap(closeErr, "orchestrator: close lock")
	}
	return release, true, nil
}
