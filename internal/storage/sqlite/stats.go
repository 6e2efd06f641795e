package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/ccproto/ccp/internal/storage"
)

// ParticipantStats aggregates send/receive counts, distributions, response
// rate, and mean response time for one participant over a window starting
// at since.
func (s *Store) ParticipantStats(ctx context.Context, participantID string, since time.Time) (*storage.ParticipantStats, error) {
	stats := &storage.ParticipantStats{
		ByType:     map[string]int{},
		ByPriority: map[string]int{},
		ByStatus:   map[string]int{},
	}
	cutoff := since.UTC()

	const received = `EXISTS (SELECT 1 FROM json_each(messages.to_participants) je WHERE je.value = ? OR je.value = '@all')`

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE from_participant = ? AND created_at >= ?",
		participantID, cutoff).Scan(&stats.Sent)
	if err != nil {
		return nil, wrapDBError("participant stats", err)
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE "+received+" AND created_at >= ?",
		participantID, cutoff).Scan(&stats.Received)
	if err != nil {
		return nil, wrapDBError("participant stats", err)
	}

	// Distributions over every message the participant is involved in.
	const involved = `(from_participant = ? OR ` + received + `)`
	rows, err := s.db.QueryContext(ctx, `
		SELECT msg_type, priority, status, COUNT(*)
		FROM messages
		WHERE `+involved+` AND created_at >= ?
		GROUP BY msg_type, priority, status`,
		participantID, participantID, cutoff)
	if err != nil {
		return nil, wrapDBError("participant stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ, pri, status string
		var n int
		if err := rows.Scan(&typ, &pri, &status, &n); err != nil {
			return nil, wrapDBError("participant stats", err)
		}
		stats.ByType[typ] += n
		stats.ByPriority[pri] += n
		stats.ByStatus[status] += n
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("participant stats", err)
	}

	// Response rate over messages that required a response and targeted the
	// participant.
	var required, answered int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status IN ('responded', 'resolved') THEN 1 ELSE 0 END), 0)
		FROM messages
		WHERE response_required = 1 AND `+received+` AND created_at >= ?`,
		participantID, cutoff).Scan(&required, &answered)
	if err != nil {
		return nil, wrapDBError("participant stats", err)
	}
	if required > 0 {
		stats.ResponseRate = float64(answered) / float64(required)
	}

	// Mean response time in hours from creation to resolution.
	var avg sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT AVG((julianday(resolved_at) - julianday(created_at)) * 24)
		FROM messages
		WHERE `+involved+` AND resolved_at IS NOT NULL AND created_at >= ?`,
		participantID, participantID, cutoff).Scan(&avg)
	if err != nil {
		return nil, wrapDBError("participant stats", err)
	}
	if avg.Valid {
		stats.AvgResponseHours = avg.Float64
	}

	return stats, nil
}
