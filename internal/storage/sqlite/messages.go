package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ccproto/ccp/internal/storage"
	"github.com/ccproto/ccp/internal/types"
)

const messageColumns = `id, thread_id, from_participant, to_participants, msg_type, priority, status,
	subject, summary, content_ref, created_at, updated_at, expires_at, response_required,
	dependencies, tags, suggested_approach, resolution_status, resolved_at, resolved_by`

func scanMessage(row interface{ Scan(...any) error }) (*types.Message, error) {
	var m types.Message
	var to, deps, tags string
	var contentRef, approach, resStatus, resolvedBy sql.NullString
	var expiresAt, resolvedAt sql.NullTime

	err := row.Scan(&m.ID, &m.ThreadID, &m.From, &to, &m.Type, &m.Priority, &m.Status,
		&m.Subject, &m.Summary, &contentRef, &m.CreatedAt, &m.UpdatedAt, &expiresAt,
		&m.ResponseRequired, &deps, &tags, &approach, &resStatus, &resolvedAt, &resolvedBy)
	if err != nil {
		return nil, err
	}

	m.To = unmarshalList(to)
	m.Dependencies = unmarshalList(deps)
	m.Tags = unmarshalList(tags)
	if contentRef.Valid {
		m.ContentRef = contentRef.String
	}
	if approach.Valid && approach.String != "" {
		m.SuggestedApproach = []byte(approach.String)
	}
	if resStatus.Valid {
		m.ResolutionStatus = types.ResolutionStatus(resStatus.String)
	}
	if resolvedBy.Valid {
		m.ResolvedBy = resolvedBy.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		m.ExpiresAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		m.ResolvedAt = &t
	}
	return &m, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func insertMessage(ctx context.Context, conn interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, m *types.Message) error {
	_, err := conn.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ThreadID, m.From, marshalList(m.To), string(m.Type), string(m.Priority),
		string(m.Status), m.Subject, m.Summary, nullStr(m.ContentRef),
		m.CreatedAt.UTC(), m.UpdatedAt.UTC(), nullTime(m.ExpiresAt), m.ResponseRequired,
		marshalList(m.Dependencies), marshalList(m.Tags),
		nullStr(string(m.SuggestedApproach)), nullStr(string(m.ResolutionStatus)),
		nullTime(m.ResolvedAt), m.ResolvedBy)
	return err
}

// touchConversation creates or updates the thread aggregate for a new
// message: participants union, bumped message count and last activity.
func touchConversation(ctx context.Context, conn *sql.Conn, m *types.Message) error {
	var existing string
	var count int
	err := conn.QueryRowContext(ctx,
		"SELECT participants, message_count FROM conversations WHERE thread_id = ?",
		m.ThreadID).Scan(&existing, &count)

	union := func() []string {
		seen := map[string]bool{}
		var out []string
		add := func(id string) {
			if id == "" || id == types.Broadcast || seen[id] {
				return
			}
			seen[id] = true
			out = append(out, id)
		}
		for _, id := range unmarshalList(existing) {
			add(id)
		}
		add(m.From)
		for _, id := range m.To {
			add(id)
		}
		sort.Strings(out)
		return out
	}

	switch {
	case err == sql.ErrNoRows:
		_, err = conn.ExecContext(ctx, `
			INSERT INTO conversations (thread_id, participants, topic, tags, created_at, last_activity, status, message_count)
			VALUES (?, ?, ?, ?, ?, ?, 'active', 1)`,
			m.ThreadID, marshalList(union()), m.Subject, marshalList(m.Tags),
			m.CreatedAt.UTC(), m.CreatedAt.UTC())
		return err
	case err != nil:
		return err
	default:
		_, err = conn.ExecContext(ctx, `
			UPDATE conversations
			SET participants = ?, last_activity = ?, message_count = ?
			WHERE thread_id = ?`,
			marshalList(union()), m.UpdatedAt.UTC(), count+1, m.ThreadID)
		return err
	}
}

// CreateMessage inserts the message row and touches its conversation as one
// atomic unit.
func (s *Store) CreateMessage(ctx context.Context, m *types.Message) error {
	err := s.withTx(ctx, func(conn *sql.Conn) error {
		if err := insertMessage(ctx, conn, m); err != nil {
			return err
		}
		return touchConversation(ctx, conn, m)
	})
	return wrapDBError(fmt.Sprintf("create message %s", m.ID), err)
}

// GetMessage fetches one message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	m, err := scanMessage(row)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get message %s", id), err)
	}
	return m, nil
}

// accessClause restricts rows to those the given participant sent or
// received. Broadcast recipients match everyone.
const accessClause = `(from_participant = ?
	OR EXISTS (SELECT 1 FROM json_each(messages.to_participants) je WHERE je.value = ? OR je.value = '@all'))`

// priorityOrder sorts CRITICAL before H before M before L.
const priorityOrder = `CASE priority WHEN 'CRITICAL' THEN 0 WHEN 'H' THEN 1 WHEN 'M' THEN 2 ELSE 3 END`

// ListMessages runs the composed get_messages query. Authorization is part
// of the WHERE clause, never applied post-hoc.
func (s *Store) ListMessages(ctx context.Context, f storage.MessageFilter) ([]*types.Message, error) {
	where := []string{}
	args := []any{}

	if f.Requester != "" && !f.RequesterIsAdmin {
		where = append(where, accessClause)
		args = append(args, f.Requester, f.Requester)
	}
	if f.Participant != "" {
		where = append(where, accessClause)
		args = append(args, f.Participant, f.Participant)
	}
	if len(f.Status) > 0 {
		ph := placeholders(len(f.Status))
		where = append(where, fmt.Sprintf("status IN (%s)", ph))
		for _, v := range f.Status {
			args = append(args, string(v))
		}
	}
	if len(f.Types) > 0 {
		ph := placeholders(len(f.Types))
		where = append(where, fmt.Sprintf("msg_type IN (%s)", ph))
		for _, v := range f.Types {
			args = append(args, string(v))
		}
	}
	if len(f.Priorities) > 0 {
		ph := placeholders(len(f.Priorities))
		where = append(where, fmt.Sprintf("priority IN (%s)", ph))
		for _, v := range f.Priorities {
			args = append(args, string(v))
		}
	}
	if f.SinceHours > 0 {
		cutoff := time.Now().UTC().Add(-time.Duration(f.SinceHours * float64(time.Hour)))
		where = append(where, "created_at >= ?")
		args = append(args, cutoff)
	}
	if f.ThreadID != "" {
		where = append(where, "thread_id = ?")
		args = append(args, f.ThreadID)
	}
	if f.ActiveOnly {
		where = append(where, "status NOT IN ('resolved', 'archived', 'cancelled')")
	}

	query := "SELECT " + messageColumns + " FROM messages"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + priorityOrder + ", created_at DESC"
	query += " LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list messages", err)
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, wrapDBError("list messages", err)
		}
		out = append(out, m)
	}
	return out, wrapDBError("list messages", rows.Err())
}

// UpdateMessage rewrites the mutable columns of a message row.
func (s *Store) UpdateMessage(ctx context.Context, m *types.Message) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET to_participants = ?, status = ?, summary = ?, content_ref = ?, updated_at = ?,
		    expires_at = ?, dependencies = ?, tags = ?, resolution_status = ?, resolved_at = ?, resolved_by = ?
		WHERE id = ?`,
		marshalList(m.To), string(m.Status), m.Summary, nullStr(m.ContentRef), m.UpdatedAt.UTC(),
		nullTime(m.ExpiresAt), marshalList(m.Dependencies), marshalList(m.Tags),
		nullStr(string(m.ResolutionStatus)), nullTime(m.ResolvedAt), m.ResolvedBy, m.ID)
	if err != nil {
		return wrapDBError(fmt.Sprintf("update message %s", m.ID), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError(fmt.Sprintf("update message %s", m.ID), err)
	}
	if n == 0 {
		return fmt.Errorf("message %s: %w", m.ID, storage.ErrNotFound)
	}
	return nil
}

// UpdateMessageTags rewrites only the tags of a message, used by the
// indexing engine when supplemental tags are derived.
func (s *Store) UpdateMessageTags(ctx context.Context, id string, tags []string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET tags = ?, updated_at = ? WHERE id = ?",
		marshalList(tags), now.UTC(), id)
	if err != nil {
		return wrapDBError(fmt.Sprintf("update tags %s", id), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError(fmt.Sprintf("update tags %s", id), err)
	}
	if n == 0 {
		return fmt.Errorf("message %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// ThreadMessages returns every message in a thread, oldest first.
func (s *Store) ThreadMessages(ctx context.Context, threadID string) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE thread_id = ? ORDER BY created_at ASC, id ASC",
		threadID)
	if err != nil {
		return nil, wrapDBError("thread messages", err)
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, wrapDBError("thread messages", err)
		}
		out = append(out, m)
	}
	return out, wrapDBError("thread messages", rows.Err())
}

// CloseThreadMessages resolves every open message in the thread and returns
// the number transitioned.
func (s *Store) CloseThreadMessages(ctx context.Context, threadID, closer string, res types.ResolutionStatus, now time.Time) (int, error) {
	var count int64
	err := s.withTx(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, `
			UPDATE messages
			SET status = 'resolved', resolution_status = ?, resolved_by = ?, resolved_at = ?, updated_at = ?
			WHERE thread_id = ? AND status IN ('pending', 'read', 'responded')`,
			string(res), closer, now.UTC(), now.UTC(), threadID)
		if err != nil {
			return err
		}
		count, err = result.RowsAffected()
		if err != nil {
			return err
		}
		if count > 0 {
			_, err = conn.ExecContext(ctx,
				"UPDATE conversations SET status = 'resolved', last_activity = ? WHERE thread_id = ?",
				now.UTC(), threadID)
		}
		return err
	})
	if err != nil {
		return 0, wrapDBError("close thread", err)
	}
	return int(count), nil
}

// ExpiredMessages returns rows past their expiry that are neither resolved
// nor archived.
func (s *Store) ExpiredMessages(ctx context.Context, now time.Time) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE expires_at IS NOT NULL AND expires_at < ?
		  AND status NOT IN ('resolved', 'archived')
		ORDER BY created_at ASC`, now.UTC())
	if err != nil {
		return nil, wrapDBError("expired messages", err)
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, wrapDBError("expired messages", err)
		}
		out = append(out, m)
	}
	return out, wrapDBError("expired messages", rows.Err())
}

// ArchiveMessages transitions the listed messages to archived in one
// transaction.
func (s *Store) ArchiveMessages(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(conn *sql.Conn) error {
		args := make([]any, 0, len(ids)+1)
		args = append(args, now.UTC())
		for _, id := range ids {
			args = append(args, id)
		}
		_, err := conn.ExecContext(ctx,
			fmt.Sprintf("UPDATE messages SET status = 'archived', updated_at = ? WHERE id IN (%s)",
				placeholders(len(ids))), args...)
		return err
	})
	return wrapDBError("archive messages", err)
}

// GetDependencies returns the direct dependencies of a message. Unknown ids
// yield an empty list so cycle checks can walk edges into not-yet-inserted
// nodes.
func (s *Store) GetDependencies(ctx context.Context, id string) ([]string, error) {
	var deps string
	err := s.db.QueryRowContext(ctx,
		"SELECT dependencies FROM messages WHERE id = ?", id).Scan(&deps)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get dependencies %s", id), err)
	}
	return unmarshalList(deps), nil
}
