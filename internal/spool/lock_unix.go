//go:build !windows

package spool

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// tryLock takes an exclusive, non-blocking flock on f.
func tryLock(f *os.File, path string) (func() error, error) {
	fd := int(f.Fd())
	for {
		err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, ErrClaimed
		}
		return nil, fmt.Errorf("spool: flock %s: %w", path, err)
	}
	return func() error { return unix.Flock(fd, unix.LOCK_UN) }, nil
}
