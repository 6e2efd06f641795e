package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ccproto/ccp/internal/storage"
	"github.com/ccproto/ccp/internal/types"
)

// ApplyCompaction commits the structural rewrite of a thread in one
// transaction: originals flip to archived, replacement messages are
// inserted, and the conversation aggregate is patched.
func (s *Store) ApplyCompaction(ctx context.Context, threadID string, archiveIDs []string, inserts []*types.Message, patch *storage.ConversationPatch, now time.Time) error {
	err := s.withTx(ctx, func(conn *sql.Conn) error {
		if len(archiveIDs) > 0 {
			args := make([]any, 0, len(archiveIDs)+1)
			args = append(args, now.UTC())
			for _, id := range archiveIDs {
				args = append(args, id)
			}
			if _, err := conn.ExecContext(ctx,
				fmt.Sprintf("UPDATE messages SET status = 'archived', updated_at = ? WHERE id IN (%s)",
					placeholders(len(archiveIDs))), args...); err != nil {
				return err
			}
		}
		for _, m := range inserts {
			if err := insertMessage(ctx, conn, m); err != nil {
				return err
			}
		}
		if patch != nil {
			if _, err := conn.ExecContext(ctx, `
				UPDATE conversations SET status = ?, resolution_summary = ?, last_activity = ?
				WHERE thread_id = ?`,
				string(patch.Status), patch.ResolutionSummary, patch.LastActivity.UTC(), threadID); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapDBError(fmt.Sprintf("apply compaction %s", threadID), err)
}
