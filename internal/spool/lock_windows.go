//go:build windows

package spool

import (
	"errors"
	"fmt"
	"os"
)

// tryLock creates an exclusive sidecar lock file next to the entry.
func tryLock(_ *os.File, path string) (func() error, error) {
	lockPath := path + lockSuffix
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, defaultFilePerm)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrClaimed
		}
		return nil, fmt.Errorf("spool: lock %s: %w", path, err)
	}
	return func() error {
		_ = lf.Close()
		return os.Remove(lockPath)
	}, nil
}
