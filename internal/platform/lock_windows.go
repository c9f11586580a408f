//go:build windows

package platform

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

type windowsDirLock struct {
	f *os.File
}

// AcquireLock opens (creating if needed) the lock file at path and takes an
// exclusive, non-blocking byte-range lock on it via LockFileEx. If another
// process holds it, it returns ErrLocked (spec §6).
func AcquireLock(path string) (DirLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	ol := new(windows.Overlapped)
	err = windows.LockFileEx(
		windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0, 1, 0, ol,
	)
	if err != nil {
		f.Close()
		return nil, ErrLocked
	}

	return &windowsDirLock{f: f}, nil
}

func (l *windowsDirLock) Unlock() error {
	ol := new(windows.Overlapped)
	_ = windows.UnlockFileEx(windows.Handle(l.f.Fd()), 0, 1, 0, ol)
	return l.f.Close()
}
