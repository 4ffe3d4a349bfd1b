package spool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	defaultDirPerm  os.FileMode = 0o750
	defaultFilePerm os.FileMode = 0o640
	lockSuffix                  = ".lck"
)

// FileQueue keeps one file per entry in a directory. Files are published by
// rename, so List never sees a partial write; temporary and lock files are
// hidden from List.
type FileQueue struct {
	dir string
	now func() time.Time
}

// NewFileQueue creates dir if needed.
func NewFileQueue(dir string) (*FileQueue, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("spool: empty directory")
	}
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return nil, fmt.Errorf("spool: ensure dir %s: %w", dir, err)
	}
	return &FileQueue{dir: dir, now: time.Now}, nil
}

// Dir is the spool directory.
func (q *FileQueue) Dir() string { return q.dir }

// Enqueue writes the entry atomically and returns its id.
func (q *FileQueue) Enqueue(_ context.Context, chatID int64, text string) (string, error) {
	id := NewID(q.now())
	body := Entry{ChatID: chatID, Text: text}.Encode()

	tmp, err := os.CreateTemp(q.dir, "."+id+".tmp.*")
	if err != nil {
		return "", fmt.Errorf("spool: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(body); err != nil {
		return "", fmt.Errorf("spool: write %s: %w", id, err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("spool: sync %s: %w", id, err)
	}
	if err := tmp.Chmod(defaultFilePerm); err != nil {
		return "", fmt.Errorf("spool: chmod %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("spool: close %s: %w", id, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(q.dir, id)); err != nil {
		return "", fmt.Errorf("spool: publish %s: %w", id, err)
	}
	return id, nil
}

// List returns the ids of published entries, oldest first.
func (q *FileQueue) List(_ context.Context) ([]string, error) {
	des, err := os.ReadDir(q.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("spool: list %s: %w", q.dir, err)
	}
	ids := make([]string, 0, len(des))
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || strings.HasSuffix(name, lockSuffix) || !validID(name) {
			continue
		}
		ids = append(ids, name)
	}
	sort.Strings(ids)
	return ids, nil
}

// Claim locks the entry file without waiting and reads it.
func (q *FileQueue) Claim(_ context.Context, id string) (Claim, error) {
	if !validID(id) {
		return nil, fmt.Errorf("spool: invalid id %q", id)
	}
	path := filepath.Join(q.dir, id)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrGone
		}
		return nil, fmt.Errorf("spool: open %s: %w", id, err)
	}

	unlock, err := tryLock(f, path)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	// completed by another drainer between our open and lock
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		_ = unlock()
		_ = f.Close()
		return nil, ErrGone
	}

	body, err := io.ReadAll(f)
	if err != nil {
		_ = unlock()
		_ = f.Close()
		return nil, fmt.Errorf("spool: read %s: %w", id, err)
	}

	return &fileClaim{
		entry:  Decode(id, body),
		path:   path,
		file:   f,
		unlock: unlock,
	}, nil
}

type fileClaim struct {
	entry  Entry
	path   string
	file   *os.File
	unlock func() error
	done   bool
}

func (c *fileClaim) Entry() Entry { return c.entry }

func (c *fileClaim) Complete(context.Context) error {
	if c.done {
		return nil
	}
	c.done = true
	rmErr := os.Remove(c.path)
	if rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		// windows refuses to remove an open file; the sidecar lock is still held
		_ = c.file.Close()
		rmErr = os.Remove(c.path)
	}
	if errors.Is(rmErr, os.ErrNotExist) {
		rmErr = nil
	}
	c.close()
	if rmErr != nil {
		return fmt.Errorf("spool: remove %s: %w", c.entry.ID, rmErr)
	}
	return nil
}

func (c *fileClaim) Release(context.Context) error {
	if c.done {
		return nil
	}
	c.done = true
	c.close()
	return nil
}

func (c *fileClaim) close() {
	_ = c.unlock()
	_ = c.file.Close()
}
