package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ccproto/ccp/internal/storage"
	"github.com/ccproto/ccp/internal/types"
)

// searchConstraints builds the shared WHERE fragment for all search modes:
// requester authorization, date range, and participant filter.
func searchConstraints(opts storage.SearchOptions, table string) (clauses []string, args []any) {
	prefix := ""
	if table != "" {
		prefix = table + "."
	}
	if opts.Requester != "" && !opts.RequesterIsAdmin {
		clauses = append(clauses, fmt.Sprintf(`(%sfrom_participant = ?
			OR EXISTS (SELECT 1 FROM json_each(%sto_participants) je WHERE je.value = ? OR je.value = '@all'))`,
			prefix, prefix))
		args = append(args, opts.Requester, opts.Requester)
	}
	if opts.From != nil {
		clauses = append(clauses, prefix+"created_at >= ?")
		args = append(args, opts.From.UTC())
	}
	if opts.To != nil {
		clauses = append(clauses, prefix+"created_at <= ?")
		args = append(args, opts.To.UTC())
	}
	if len(opts.Participants) > 0 {
		ph := placeholders(len(opts.Participants))
		clauses = append(clauses, fmt.Sprintf(`(%sfrom_participant IN (%s)
			OR EXISTS (SELECT 1 FROM json_each(%sto_participants) je WHERE je.value IN (%s)))`,
			prefix, ph, prefix, ph))
		for i := 0; i < 2; i++ {
			for _, p := range opts.Participants {
				args = append(args, p)
			}
		}
	}
	return clauses, args
}

// SearchFTS runs a full-text query against the messages_fts index. The
// returned rank is the raw FTS rank (negative, better = more negative).
func (s *Store) SearchFTS(ctx context.Context, match string, opts storage.SearchOptions) ([]storage.ScoredMessage, error) {
	cols := strings.ReplaceAll(messageColumns, "\n", " ")
	// Qualify every column through the joined messages table.
	qualified := make([]string, 0, 20)
	for _, c := range strings.Split(cols, ",") {
		qualified = append(qualified, "m."+strings.TrimSpace(c))
	}

	query := "SELECT " + strings.Join(qualified, ", ") + ", messages_fts.rank" +
		" FROM messages_fts JOIN messages m ON m.rowid = messages_fts.rowid" +
		" WHERE messages_fts MATCH ?"
	args := []any{match}

	clauses, cargs := searchConstraints(opts, "m")
	for _, c := range clauses {
		query += " AND " + c
	}
	args = append(args, cargs...)

	query += " ORDER BY messages_fts.rank LIMIT ?"
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("fts search", err)
	}
	defer rows.Close()

	var out []storage.ScoredMessage
	for rows.Next() {
		var m types.Message
		var to, deps, tags string
		var contentRef, approach, resStatus, resolvedBy sql.NullString
		var expiresAt, resolvedAt sql.NullTime
		var rank float64

		err := rows.Scan(&m.ID, &m.ThreadID, &m.From, &to, &m.Type, &m.Priority, &m.Status,
			&m.Subject, &m.Summary, &contentRef, &m.CreatedAt, &m.UpdatedAt, &expiresAt,
			&m.ResponseRequired, &deps, &tags, &approach, &resStatus, &resolvedAt, &resolvedBy, &rank)
		if err != nil {
			return nil, wrapDBError("fts search", err)
		}
		m.To = unmarshalList(to)
		m.Dependencies = unmarshalList(deps)
		m.Tags = unmarshalList(tags)
		m.ContentRef = contentRef.String
		if approach.Valid && approach.String != "" {
			m.SuggestedApproach = []byte(approach.String)
		}
		m.ResolutionStatus = types.ResolutionStatus(resStatus.String)
		m.ResolvedBy = resolvedBy.String
		if expiresAt.Valid {
			t := expiresAt.Time
			m.ExpiresAt = &t
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			m.ResolvedAt = &t
		}

		out = append(out, storage.ScoredMessage{Message: &m, Rank: rank})
	}
	return out, wrapDBError("fts search", rows.Err())
}

// SearchByTags returns messages whose tags contain any of the supplied
// tags.
func (s *Store) SearchByTags(ctx context.Context, tags []string, opts storage.SearchOptions) ([]*types.Message, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	ph := placeholders(len(tags))
	where := []string{fmt.Sprintf(
		"EXISTS (SELECT 1 FROM json_each(messages.tags) je WHERE je.value IN (%s))", ph)}
	args := make([]any, 0, len(tags)+4)
	for _, t := range tags {
		args = append(args, t)
	}
	clauses, cargs := searchConstraints(opts, "")
	where = append(where, clauses...)
	args = append(args, cargs...)

	query := "SELECT " + messageColumns + " FROM messages WHERE " + strings.Join(where, " AND ") +
		" ORDER BY created_at DESC LIMIT ?"
	args = append(args, opts.Limit)

	return s.queryMessages(ctx, "tag search", query, args...)
}

// SearchSubstring runs a simple LIKE search over subject and summary.
func (s *Store) SearchSubstring(ctx context.Context, query string, opts storage.SearchOptions) ([]*types.Message, error) {
	pattern := "%" + query + "%"
	where := []string{"(subject LIKE ? OR summary LIKE ?)"}
	args := []any{pattern, pattern}

	clauses, cargs := searchConstraints(opts, "")
	where = append(where, clauses...)
	args = append(args, cargs...)

	q := "SELECT " + messageColumns + " FROM messages WHERE " + strings.Join(where, " AND ") +
		" ORDER BY created_at DESC LIMIT ?"
	args = append(args, opts.Limit)

	return s.queryMessages(ctx, "substring search", q, args...)
}

// TagCounts returns distinct tags visible to the requester, filtered by
// substring, ordered by descending usage.
func (s *Store) TagCounts(ctx context.Context, opts storage.SearchOptions, substring string, limit int) ([]storage.TagCount, error) {
	where := []string{}
	args := []any{}

	clauses, cargs := searchConstraints(opts, "messages")
	where = append(where, clauses...)
	args = append(args, cargs...)

	if substring != "" {
		where = append(where, "je.value LIKE ?")
		args = append(args, "%"+substring+"%")
	}

	query := `SELECT je.value AS tag, COUNT(*) AS n
		FROM messages, json_each(messages.tags) je`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " GROUP BY je.value ORDER BY n DESC, tag ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("tag counts", err)
	}
	defer rows.Close()

	var out []storage.TagCount
	for rows.Next() {
		var tc storage.TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, wrapDBError("tag counts", err)
		}
		out = append(out, tc)
	}
	return out, wrapDBError("tag counts", rows.Err())
}

func (s *Store) queryMessages(ctx context.Context, op, query string, args ...any) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError(op, err)
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, wrapDBError(op, err)
		}
		out = append(out, m)
	}
	return out, wrapDBError(op, rows.Err())
}
