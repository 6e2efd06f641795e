package lockfile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(context.Background(), dir, Options{Version: "test"})
	require.NoError(t, err)

	info, err := Read(Path(dir))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.Equal(t, "test", info.Version)
	assert.WithinDuration(t, time.Now(), info.AcquiredAt, time.Minute)

	lock.Release()
	_, err = os.Stat(Path(dir))
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireContention(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(context.Background(), dir, Options{})
	require.NoError(t, err)
	defer lock.Release()

	start := time.Now()
	_, err = Acquire(context.Background(), dir, Options{
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
	})
	require.ErrorIs(t, err, ErrLockTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAcquireReclaimsDeadPID(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))

	// A recently written lock whose recorded process no longer exists.
	stale := Info{PID: 1 << 30, AcquiredAt: time.Now().UTC(), Version: "old"}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	lock, err := Acquire(context.Background(), dir, Options{
		MaxRetries: 2,
		RetryDelay: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer lock.Release()

	info, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), info.PID)
}

func TestAcquireReclaimsExpiredLock(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))

	// Held by this (live) process but past the staleness horizon.
	old := Info{PID: os.Getpid(), AcquiredAt: time.Now().UTC().Add(-10 * time.Minute)}
	data, err := json.Marshal(old)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	lock, err := Acquire(context.Background(), dir, Options{
		MaxRetries: 2,
		RetryDelay: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	lock.Release()
}

func TestAcquireContextCancelled(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(context.Background(), dir, Options{})
	require.NoError(t, err)
	defer lock.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = Acquire(ctx, dir, Options{RetryDelay: 10 * time.Millisecond})
	require.Error(t, err)
}
