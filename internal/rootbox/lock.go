package rootbox

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// fileLock is an advisory flock on "<path>.lock". The kernel drops it if the
// process dies, so an orphaned lock file is harmless.
type fileLock struct {
	f *os.File
}

func lockPath(path string, how int) (*fileLock, error) {
	lockFile := path + ".lock"
	f, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", lockFile, err)
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock %s: %w", lockFile, err)
	}
	return &fileLock{f: f}, nil
}

// lockExclusive blocks until no reader or writer holds path.
func lockExclusive(path string) (*fileLock, error) { return lockPath(path, unix.LOCK_EX) }

// lockShared blocks while a writer holds path.
func lockShared(path string) (*fileLock, error) { return lockPath(path, unix.LOCK_SH) }

// Release is safe to call on a nil lock and more than once.
func (l *fileLock) Release() {
	if l == nil || l.f == nil {
		return
	}
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		logger.Debug("flock unlock failed", "err", err)
	}
	l.f.Close()
	l.f = nil
}
