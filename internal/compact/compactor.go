// Package compact implements thread compaction: the summarize, consolidate,
// and archive strategies, the auto-compaction sweep, and token accounting.
package compact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ccproto/ccp/internal/lockfile"
	"github.com/ccproto/ccp/internal/messages"
	"github.com/ccproto/ccp/internal/storage"
	"github.com/ccproto/ccp/internal/types"
)

// Strategy selects a compaction algorithm.
type Strategy string

const (
	StrategySummarize   Strategy = "summarize"
	StrategyConsolidate Strategy = "consolidate"
	StrategyArchive     Strategy = "archive"
)

// IsValid returns true if the strategy is one of the known algorithms.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategySummarize, StrategyConsolidate, StrategyArchive:
		return true
	}
	return false
}

// Options tune a single compaction run.
type Options struct {
	ThreadID          string
	Strategy          Strategy
	PreserveDecisions bool
	PreserveCritical  bool
}

// Result reports the outcome of one compaction run.
type Result struct {
	ThreadID        string   `json:"thread_id"`
	Strategy        Strategy `json:"strategy"`
	OriginalCount   int      `json:"original_count"`
	CompactedCount  int      `json:"compacted_count"`
	SpaceSavedBytes int64    `json:"space_saved_bytes"`
	Summary         string   `json:"summary,omitempty"`
}

// Compactor rewrites threads to control storage and context growth.
type Compactor struct {
	store    storage.Storage
	dataDir  string
	lockOpts lockfile.Options
	clock    func() time.Time
}

// New creates a Compactor rooted at the coordination data directory.
func New(store storage.Storage, dataDir string) *Compactor {
	return &Compactor{store: store, dataDir: dataDir, clock: time.Now}
}

// SetClock overrides the time source (tests).
func (c *Compactor) SetClock(clock func() time.Time) {
	c.clock = clock
}

// SetLockOptions overrides lock acquisition tuning (tests).
func (c *Compactor) SetLockOptions(opts lockfile.Options) {
	c.lockOpts = opts
}

// CompactThread runs one strategy over a thread. The requester must appear
// in the thread as sender or recipient; @system (the auto-compaction actor)
// is always allowed.
func (c *Compactor) CompactThread(ctx context.Context, opts Options, requester string) (*Result, error) {
	if !opts.Strategy.IsValid() {
		return nil, fmt.Errorf("%w: invalid strategy %q", storage.ErrValidation, opts.Strategy)
	}
	thread, err := c.store.ThreadMessages(ctx, opts.ThreadID)
	if err != nil {
		return nil, err
	}
	if len(thread) == 0 {
		return nil, fmt.Errorf("thread %s: %w", opts.ThreadID, storage.ErrNotFound)
	}

	if requester != types.SystemActor {
		member := false
		for _, m := range thread {
			if m.Addressed(requester) {
				member = true
				break
			}
		}
		if !member {
			return nil, fmt.Errorf("%w: %s is not a participant of thread %s", storage.ErrPermission, requester, opts.ThreadID)
		}
	}

	lock, err := lockfile.Acquire(ctx, c.dataDir, c.lockOpts)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	preSize := c.threadSize(thread)

	var result *Result
	var postSize int64
	switch opts.Strategy {
	case StrategySummarize:
		result, postSize, err = c.summarize(ctx, thread, opts)
	case StrategyConsolidate:
		result, postSize, err = c.consolidate(ctx, thread, opts)
	case StrategyArchive:
		result, postSize, err = c.archive(ctx, thread, opts)
	}
	if err != nil {
		return nil, err
	}
	result.ThreadID = opts.ThreadID
	result.Strategy = opts.Strategy
	if saved := preSize - postSize; saved > 0 {
		result.SpaceSavedBytes = saved
	}
	return result, nil
}

// threadSize is the storage footprint of a message set: serialized row
// lengths plus sidecar file sizes.
func (c *Compactor) threadSize(msgs []*types.Message) int64 {
	var total int64
	for _, m := range msgs {
		total += int64(m.SerializedSize())
		total += c.sidecarSize(m)
	}
	return total
}

func (c *Compactor) sidecarSize(m *types.Message) int64 {
	if m.ContentRef == "" {
		return 0
	}
	st, err := os.Stat(filepath.Join(c.dataDir, m.ContentRef))
	if err != nil {
		return 0
	}
	return st.Size()
}

// archiveSidecars moves the sidecars of the given messages into the dated
// archive directory. Called after the store transaction has committed;
// per-file failures are logged and do not abort the batch.
func (c *Compactor) archiveSidecars(msgs []*types.Message, now time.Time) {
	for _, m := range msgs {
		if m.ContentRef == "" {
			continue
		}
		if err := moveSidecar(c.dataDir, m.ContentRef, now); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to archive sidecar for %s: %v\n", m.ID, err)
		}
	}
}

func moveSidecar(dataDir, contentRef string, now time.Time) error {
	src := filepath.Join(dataDir, contentRef)
	dstDir := filepath.Join(dataDir, messages.ArchiveDir(now))
	if err := os.MkdirAll(dstDir, 0o750); err != nil {
		return err
	}
	return os.Rename(src, filepath.Join(dstDir, filepath.Base(contentRef)))
}

// truncate clips s to at most n characters.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
