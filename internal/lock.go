package internal

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileLock is an advisory flock(2) on a sidecar file. It gives the session
// database and the registry a single writer across processes.
type FileLock struct {
	path string
	f    *os.File
}

// TryLock takes an exclusive lock without blocking. It fails if another
// process holds the lock.
func TryLock(path string) (*FileLock, error) {
	return acquire(path, unix.LOCK_EX|unix.LOCK_NB)
}

// Lock takes an exclusive lock, blocking until it is available.
func Lock(path string) (*FileLock, error) {
	return acquire(path, unix.LOCK_EX)
}

func acquire(path string, how int) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	for {
		err = unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("%s is held by another process", path)
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return &FileLock{path: path, f: f}, nil
}

// Unlock releases the lock. Safe to call on a nil lock.
func (l *FileLock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
