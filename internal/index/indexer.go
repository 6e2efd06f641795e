// Package index implements full-text and tag search, supplemental tag
// derivation, participant statistics, and related-message lookup over the
// coordination store. The FTS index itself is maintained by store triggers;
// this package only prepares queries and post-processes ranks.
package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ccproto/ccp/internal/registry"
	"github.com/ccproto/ccp/internal/storage"
	"github.com/ccproto/ccp/internal/types"
)

const (
	// DefaultSearchLimit applies when the caller does not set one.
	DefaultSearchLimit = 10

	// MaxSearchLimit clamps caller-specified limits.
	MaxSearchLimit = 50

	matchContextWidth = 100
)

// Indexer is the indexing engine.
type Indexer struct {
	store storage.Storage
	reg   *registry.Registry
	clock func() time.Time
}

// New creates an Indexer over the shared store.
func New(store storage.Storage, reg *registry.Registry) *Indexer {
	return &Indexer{store: store, reg: reg, clock: time.Now}
}

// SetClock overrides the time source (tests).
func (ix *Indexer) SetClock(clock func() time.Time) {
	ix.clock = clock
}

// Query is a search request.
type Query struct {
	Text         string
	Semantic     bool // use the full-text index when Text is non-empty
	Tags         []string
	DateFrom     *time.Time
	DateTo       *time.Time
	Participants []string
	Limit        int
}

// Result is one search hit.
type Result struct {
	Message        *types.Message `json:"message"`
	RelevanceScore float64        `json:"relevance_score"`
	MatchContext   string         `json:"match_context,omitempty"`
}

// Search runs one of three modes in order: full-text when semantic search
// is requested with a query, tag containment when tags are supplied, and a
// plain substring scan otherwise.
func (ix *Indexer) Search(ctx context.Context, q Query, requester string) ([]Result, error) {
	p, err := ix.reg.Get(ctx, requester)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrValidation)
	}
	if limit == 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	opts := storage.SearchOptions{
		Requester:        requester,
		RequesterIsAdmin: registry.IsAdmin(p),
		From:             q.DateFrom,
		To:               q.DateTo,
		Participants:     q.Participants,
		Limit:            limit,
	}

	switch {
	case q.Semantic && q.Text != "":
		match := BuildMatch(q.Text)
		if match == "" {
			return nil, nil
		}
		scored, err := ix.store.SearchFTS(ctx, match, opts)
		if err != nil {
			return nil, err
		}
		results := make([]Result, 0, len(scored))
		for _, sm := range scored {
			results = append(results, Result{
				Message:        sm.Message,
				RelevanceScore: normalizeRank(sm.Rank),
				MatchContext:   MatchContext(q.Text, sm.Message.Subject+" "+sm.Message.Summary, matchContextWidth),
			})
		}
		return results, nil

	case len(q.Tags) > 0:
		msgs, err := ix.store.SearchByTags(ctx, q.Tags, opts)
		if err != nil {
			return nil, err
		}
		return fallbackResults(msgs, q.Text), nil

	case q.Text != "":
		msgs, err := ix.store.SearchSubstring(ctx, q.Text, opts)
		if err != nil {
			return nil, err
		}
		return fallbackResults(msgs, q.Text), nil
	}
	return nil, nil
}

// normalizeRank maps an FTS rank (negative, better = more negative) into
// [0, 1].
func normalizeRank(rank float64) float64 {
	score := 1 + rank
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// fallbackResults assigns position-based relevance to non-FTS search modes.
func fallbackResults(msgs []*types.Message, query string) []Result {
	results := make([]Result, 0, len(msgs))
	for i, m := range msgs {
		score := 1.0 - 0.1*float64(i)
		if score < 0 {
			score = 0
		}
		ctxText := ""
		if query != "" {
			ctxText = MatchContext(query, m.Subject+" "+m.Summary, matchContextWidth)
		}
		results = append(results, Result{Message: m, RelevanceScore: score, MatchContext: ctxText})
	}
	return results
}

// IndexMessage derives supplemental tags for a message and rewrites the row
// when any were added. FTS content itself is maintained by store triggers.
func (ix *Indexer) IndexMessage(ctx context.Context, m *types.Message) error {
	tags := SupplementalTags(m.Subject, m.Summary, m.Priority, m.Type, m.Tags)
	if len(tags) == len(m.Tags) {
		return nil
	}
	m.Tags = tags
	return ix.store.UpdateMessageTags(ctx, m.ID, tags, ix.clock().UTC())
}

// TagSuggestions returns tags visible to the requester matching the query
// substring, ordered by descending usage.
func (ix *Indexer) TagSuggestions(ctx context.Context, query, requester string, limit int) ([]storage.TagCount, error) {
	p, err := ix.reg.Get(ctx, requester)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	opts := storage.SearchOptions{Requester: requester, RequesterIsAdmin: registry.IsAdmin(p)}
	return ix.store.TagCounts(ctx, opts, query, limit)
}

// Stats aggregates a participant's message activity over the last days.
func (ix *Indexer) Stats(ctx context.Context, participantID string, days int) (*storage.ParticipantStats, error) {
	if days <= 0 {
		days = 30
	}
	if _, err := ix.reg.Get(ctx, participantID); err != nil {
		return nil, err
	}
	since := ix.clock().UTC().AddDate(0, 0, -days)
	return ix.store.ParticipantStats(ctx, participantID, since)
}

// relatedKeywordMax caps the keywords fed into the related-message query.
const relatedKeywordMax = 8

// Related finds messages similar to the given one by extracting keywords
// from its subject and summary and reusing the full-text path.
func (ix *Indexer) Related(ctx context.Context, messageID, requester string, limit int) ([]Result, error) {
	p, err := ix.reg.Get(ctx, requester)
	if err != nil {
		return nil, err
	}
	m, err := ix.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !registry.CanAccessMessage(p, m.From, m.To) {
		return nil, fmt.Errorf("%w: access to message %s denied", storage.ErrPermission, messageID)
	}

	keywords := ExtractKeywords(m.Subject+" "+m.Summary, relatedKeywordMax)
	if len(keywords) == 0 {
		return nil, nil
	}
	quoted := make([]string, len(keywords))
	for i, k := range keywords {
		quoted[i] = `"` + k + `"`
	}
	match := strings.Join(quoted, " OR ")

	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	opts := storage.SearchOptions{
		Requester:        requester,
		RequesterIsAdmin: registry.IsAdmin(p),
		// One extra row so dropping the original still fills the limit.
		Limit: limit + 1,
	}
	scored, err := ix.store.SearchFTS(ctx, match, opts)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(scored))
	for _, sm := range scored {
		if sm.Message.ID == messageID {
			continue
		}
		results = append(results, Result{
			Message:        sm.Message,
			RelevanceScore: normalizeRank(sm.Rank),
		})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}
