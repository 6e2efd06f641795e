package compact

import (
	"context"
	"fmt"

	"github.com/ccproto/ccp/internal/storage"
	"github.com/ccproto/ccp/internal/types"
)

// archive moves every sidecar into the dated archive, marks every message
// archived, and closes out the conversation row.
func (c *Compactor) archive(ctx context.Context, thread []*types.Message, opts Options) (*Result, int64, error) {
	now := c.clock().UTC()

	ids := make([]string, len(thread))
	for i, m := range thread {
		ids[i] = m.ID
	}
	patch := &storage.ConversationPatch{
		Status:            types.ConversationArchived,
		ResolutionSummary: fmt.Sprintf("Archived %d messages by compaction", len(thread)),
		LastActivity:      now,
	}
	if err := c.store.ApplyCompaction(ctx, opts.ThreadID, ids, nil, patch, now); err != nil {
		return nil, 0, err
	}
	c.archiveSidecars(thread, now)

	// Rows remain (archived); only the sidecar footprint leaves the active
	// tree.
	var postSize int64
	for _, m := range thread {
		postSize += int64(m.SerializedSize())
	}

	return &Result{
		OriginalCount:  len(thread),
		CompactedCount: len(thread),
	}, postSize, nil
}
