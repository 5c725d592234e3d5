// Package lock keeps two dnsfallback runs from sharing a cache directory
// and publishing into the same repository at once.
package lock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// FileName is the lock file created inside the locked directory
	FileName = "dnsfallback.lock"
	// StaleThreshold is the age after which a lock is assumed abandoned
	StaleThreshold = 2 * time.Hour
)

var (
	ErrLockExists = errors.New("lock exists: another run may be in progress")
)

// Holder describes the process that owns a lock.
type Holder struct {
	PID      int
	RunID    string
	Acquired time.Time
}

// Lock is an acquired run lock.
type Lock struct {
	path  string
	file  *os.File
	runID string
}

// Acquire takes the lock in dir, creating dir if needed. An existing lock
// older than StaleThreshold is replaced; any other existing lock yields an
// error wrapping ErrLockExists that names its holder.
func Acquire(ctx context.Context, dir string) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lockPath := filepath.Join(dir, FileName)
	file, err := createExclusive(lockPath)
	if os.IsExist(err) {
		if stale, _ := isStale(lockPath); stale {
			os.Remove(lockPath)
			file, err = createExclusive(lockPath)
		}
	}
	if os.IsExist(err) {
		if h, readErr := ReadHolder(dir); readErr == nil {
			return nil, fmt.Errorf("%w (run %s, pid %d, since %s)",
				ErrLockExists, h.RunID, h.PID, h.Acquired.Format(time.RFC3339))
		}
		return nil, ErrLockExists
	}
	if err != nil {
		return nil, fmt.Errorf("create lock file: %w", err)
	}

	l := &Lock{path: lockPath, file: file, runID: uuid.NewString()}
	data := fmt.Sprintf("pid=%d\nrun_id=%s\ntimestamp=%s\n",
		os.Getpid(), l.runID, time.Now().UTC().Format(time.RFC3339))
	if _, err := file.WriteString(data); err != nil {
		l.Release()
		return nil, fmt.Errorf("write lock data: %w", err)
	}
	if err := file.Sync(); err != nil {
		l.Release()
		return nil, fmt.Errorf("sync lock file: %w", err)
	}

	return l, nil
}

func createExclusive(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
}

// RunID identifies the run holding the lock.
func (l *Lock) RunID() string {
	return l.runID
}

// Release releases the lock. It is safe to call more than once.
func (l *Lock) Release() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	if l.path != "" {
		path := l.path
		l.path = ""
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove lock file: %w", err)
		}
	}

	return nil
}

// ReadHolder parses the lock file in dir.
func ReadHolder(dir string) (*Holder, error) {
	f, err := os.Open(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := &Holder{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(value)
		case "run_id":
			h.RunID = value
		case "timestamp":
			h.Acquired, _ = time.Parse(time.RFC3339, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read lock file: %w", err)
	}
	return h, nil
}

// isStale checks if a lock file is older than StaleThreshold.
func isStale(lockPath string) (bool, error) {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false, err
	}
	return time.Since(info.ModTime()) > StaleThreshold, nil
}
