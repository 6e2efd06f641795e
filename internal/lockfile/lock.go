// Package lockfile provides the exclusive cross-process lock over a
// coordination data directory. All state-mutating operations run inside a
// scoped acquisition of locks/coordination.lock.
//
// Correctness rests on exclusive create-or-fail semantics; the JSON payload
// (pid, acquisition time, version) is diagnostic only and feeds stale-lock
// detection.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxRetries bounds lock acquisition attempts.
	DefaultMaxRetries = 50

	// DefaultRetryDelay is the pause between acquisition attempts.
	DefaultRetryDelay = 100 * time.Millisecond

	// staleAfter is the age past which a lock is considered abandoned even
	// if its recorded process still exists.
	staleAfter = 5 * time.Minute

	lockDirName  = "locks"
	lockFileName = "coordination.lock"
)

// ErrLockTimeout indicates the retry budget was exhausted without
// acquiring the lock.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Info is the diagnostic payload written into the lock file.
type Info struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	Version    string    `json:"version"`
}

// Lock is a held directory lock. Release it exactly once.
type Lock struct {
	path string
}

// Options tune acquisition behavior; zero values select the defaults.
type Options struct {
	MaxRetries uint64
	RetryDelay time.Duration
	Version    string
}

// Path returns the lock file location for a data directory.
func Path(dataDir string) string {
	return filepath.Join(dataDir, lockDirName, lockFileName)
}

// Acquire takes the exclusive lock for the data directory, retrying with a
// bounded constant delay. Between attempts the existing lock file is
// inspected for staleness; stale locks are removed and acquisition retried
// immediately.
func Acquire(ctx context.Context, dataDir string, opts Options) (*Lock, error) {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = DefaultRetryDelay
	}

	path := Path(dataDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	attempt := func() error {
		if err := tryCreate(path, opts.Version); err == nil {
			return nil
		} else if !os.IsExist(err) {
			return backoff.Permanent(err)
		}
		if removeIfStale(path) {
			// Retry right away rather than burning a delay slot.
			if err := tryCreate(path, opts.Version); err == nil {
				return nil
			} else if !os.IsExist(err) {
				return backoff.Permanent(err)
			}
		}
		return errLockHeld
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.RetryDelay), opts.MaxRetries), ctx)
	if err := backoff.Retry(attempt, bo); err != nil {
		if errors.Is(err, errLockHeld) {
			return nil, fmt.Errorf("%w after %d attempts", ErrLockTimeout, opts.MaxRetries+1)
		}
		return nil, err
	}
	return &Lock{path: path}, nil
}

var errLockHeld = errors.New("lock held by another process")

// tryCreate attempts the exclusive create and writes the diagnostic
// payload.
func tryCreate(path, version string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	info := Info{PID: os.Getpid(), AcquiredAt: time.Now().UTC(), Version: version}
	data, _ := json.Marshal(info)
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

// removeIfStale deletes the lock file when its owner is gone or it is too
// old, returning true if it was removed.
func removeIfStale(path string) bool {
	info, err := Read(path)
	if err != nil {
		// Unreadable payload: fall back to file age.
		st, statErr := os.Stat(path)
		if statErr != nil {
			return false
		}
		if time.Since(st.ModTime()) < staleAfter {
			return false
		}
		return os.Remove(path) == nil
	}
	if isProcessRunning(info.PID) && time.Since(info.AcquiredAt) < staleAfter {
		return false
	}
	return os.Remove(path) == nil
}

// Read parses the diagnostic payload of an existing lock file.
func Read(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse lock payload: %w", err)
	}
	return &info, nil
}

// Release deletes the lock file. Deletion failures are logged but
// non-fatal: a leftover lock is recovered by staleness detection.
func (l *Lock) Release() {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to release lock %s: %v\n", l.path, err)
	}
}
