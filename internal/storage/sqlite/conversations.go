package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ccproto/ccp/internal/storage"
	"github.com/ccproto/ccp/internal/types"
)

const conversationColumns = `thread_id, participants, topic, tags, created_at, last_activity, status, resolution_summary, message_count`

func scanConversation(row interface{ Scan(...any) error }) (*types.Conversation, error) {
	var c types.Conversation
	var participants, tags string
	err := row.Scan(&c.ThreadID, &participants, &c.Topic, &tags, &c.CreatedAt,
		&c.LastActivity, &c.Status, &c.ResolutionSummary, &c.MessageCount)
	if err != nil {
		return nil, err
	}
	c.Participants = unmarshalList(participants)
	c.Tags = unmarshalList(tags)
	return &c, nil
}

// GetConversation fetches the aggregate row for a thread.
func (s *Store) GetConversation(ctx context.Context, threadID string) (*types.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE thread_id = ?", threadID)
	c, err := scanConversation(row)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get conversation %s", threadID), err)
	}
	return c, nil
}

// ResolvedConversationsBefore returns resolved threads whose last activity
// is older than the cutoff, oldest first. Used by auto-compaction.
func (s *Store) ResolvedConversationsBefore(ctx context.Context, cutoff time.Time) ([]*types.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE status = 'resolved' AND last_activity < ?
		ORDER BY last_activity ASC`, cutoff.UTC())
	if err != nil {
		return nil, wrapDBError("resolved conversations", err)
	}
	defer rows.Close()

	var out []*types.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, wrapDBError("resolved conversations", err)
		}
		out = append(out, c)
	}
	return out, wrapDBError("resolved conversations", rows.Err())
}

// PatchConversation updates the thread aggregate state.
func (s *Store) PatchConversation(ctx context.Context, threadID string, patch storage.ConversationPatch) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET status = ?, resolution_summary = ?, last_activity = ?
		WHERE thread_id = ?`,
		string(patch.Status), patch.ResolutionSummary, patch.LastActivity.UTC(), threadID)
	if err != nil {
		return wrapDBError(fmt.Sprintf("patch conversation %s", threadID), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError(fmt.Sprintf("patch conversation %s", threadID), err)
	}
	if n == 0 {
		return fmt.Errorf("conversation %s: %w", threadID, storage.ErrNotFound)
	}
	return nil
}
