//go:build !windows

package platform

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

type unixDirLock struct {
	f *os.File
}

// AcquireLock opens (creating if needed) the lock file at path and takes a
// non-blocking exclusive flock on it. If another process holds it, it
// returns ErrLocked, which the CLI surfaces as exit code 1 (spec §6).
func AcquireLock(path string) (DirLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("flock: %w", err)
	}

	return &unixDirLock{f: f}, nil
}

func (l *unixDirLock) Unlock() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return fmt.Errorf("unflock: %w", err)
	}
	return l.f.Close()
}
