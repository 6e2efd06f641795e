package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ccproto/ccp/internal/storage"
	"github.com/ccproto/ccp/internal/types"
)

// CreateParticipant inserts a new participant record. Returns
// storage.ErrConflict if the id is already registered.
func (s *Store) CreateParticipant(ctx context.Context, p *types.Participant) error {
	return s.withTx(ctx, func(conn *sql.Conn) error {
		var exists int
		err := conn.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM participants WHERE id = ?", p.ID).Scan(&exists)
		if err != nil {
			return wrapDBError("create participant", err)
		}
		if exists > 0 {
			return fmt.Errorf("participant %s: %w", p.ID, storage.ErrConflict)
		}
		_, err = conn.ExecContext(ctx, `
			INSERT INTO participants (id, capabilities, status, last_seen, default_priority, preferences)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.ID, marshalList(p.Capabilities), string(p.Status), p.LastSeen.UTC(),
			string(p.DefaultPriority), marshalMap(p.Preferences))
		return wrapDBError("create participant", err)
	})
}

const participantColumns = "id, capabilities, status, last_seen, default_priority, preferences"

func scanParticipant(row interface{ Scan(...any) error }) (*types.Participant, error) {
	var p types.Participant
	var caps, prefs string
	if err := row.Scan(&p.ID, &caps, &p.Status, &p.LastSeen, &p.DefaultPriority, &prefs); err != nil {
		return nil, err
	}
	p.Capabilities = unmarshalList(caps)
	p.Preferences = unmarshalMap(prefs)
	return &p, nil
}

// GetParticipant fetches one participant by id.
func (s *Store) GetParticipant(ctx context.Context, id string) (*types.Participant, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+participantColumns+" FROM participants WHERE id = ?", id)
	p, err := scanParticipant(row)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get participant %s", id), err)
	}
	return p, nil
}

// ListParticipants returns participants ordered by id, optionally filtered
// by status.
func (s *Store) ListParticipants(ctx context.Context, status *types.ParticipantStatus) ([]*types.Participant, error) {
	query := "SELECT " + participantColumns + " FROM participants"
	var args []any
	if status != nil {
		query += " WHERE status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list participants", err)
	}
	defer rows.Close()

	var out []*types.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, wrapDBError("list participants", err)
		}
		out = append(out, p)
	}
	return out, wrapDBError("list participants", rows.Err())
}

// UpdateParticipant rewrites a participant record.
func (s *Store) UpdateParticipant(ctx context.Context, p *types.Participant) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE participants
		SET capabilities = ?, status = ?, last_seen = ?, default_priority = ?, preferences = ?
		WHERE id = ?`,
		marshalList(p.Capabilities), string(p.Status), p.LastSeen.UTC(),
		string(p.DefaultPriority), marshalMap(p.Preferences), p.ID)
	if err != nil {
		return wrapDBError("update participant", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("update participant", err)
	}
	if n == 0 {
		return fmt.Errorf("participant %s: %w", p.ID, storage.ErrNotFound)
	}
	return nil
}

// UpdateLastSeen records request activity for a participant.
func (s *Store) UpdateLastSeen(ctx context.Context, id string, t time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE participants SET last_seen = ? WHERE id = ?", t.UTC(), id)
	if err != nil {
		return wrapDBError("update last seen", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("update last seen", err)
	}
	if n == 0 {
		return fmt.Errorf("participant %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// DeleteParticipant hard-deletes a participant row.
func (s *Store) DeleteParticipant(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM participants WHERE id = ?", id)
	if err != nil {
		return wrapDBError("delete participant", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("delete participant", err)
	}
	if n == 0 {
		return fmt.Errorf("participant %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// CountActiveMessages counts pending/read/responded messages the
// participant sent or received. Used to guard hard deletion.
func (s *Store) CountActiveMessages(ctx context.Context, participantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE status IN ('pending', 'read', 'responded')
		  AND (from_participant = ?
		       OR EXISTS (SELECT 1 FROM json_each(messages.to_participants) je WHERE je.value = ?))`,
		participantID, participantID).Scan(&n)
	return n, wrapDBError("count active messages", err)
}

// DeleteStaleParticipants removes inactive participants not seen since the
// cutoff. Returns the number deleted.
func (s *Store) DeleteStaleParticipants(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM participants WHERE status = 'inactive' AND last_seen < ?", cutoff.UTC())
	if err != nil {
		return 0, wrapDBError("delete stale participants", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDBError("delete stale participants", err)
	}
	return int(n), nil
}
