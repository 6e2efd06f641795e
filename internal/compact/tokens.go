package compact

import (
	"context"
	"fmt"

	"github.com/ccproto/ccp/internal/storage"
	"github.com/ccproto/ccp/internal/types"
)

// charsPerToken is the rough chars-to-tokens conversion used for estimates.
const charsPerToken = 4

// TokenUsage estimates a participant's storage footprint in tokens.
type TokenUsage struct {
	Participant     string                        `json:"participant"`
	MessageCount    int                           `json:"message_count"`
	TotalTokens     int64                         `json:"total_tokens"`
	ByStatus        map[types.MessageStatus]int64 `json:"by_status"`
	ByPriority      map[types.Priority]int64      `json:"by_priority"`
	Recommendations []string                      `json:"recommendations,omitempty"`
}

// recommendation thresholds.
const (
	tokenTotalThreshold  = 50000
	archivedShareWarning = 0.30
	lowShareWarning      = 0.40
)

// CalculateTokenUsage estimates token consumption across every message the
// participant sent or received, bucketed by status and priority, with
// recommendations when heuristic thresholds are exceeded.
func (c *Compactor) CalculateTokenUsage(ctx context.Context, participant string) (*TokenUsage, error) {
	msgs, err := c.store.ListMessages(ctx, storage.MessageFilter{
		Requester:        participant,
		RequesterIsAdmin: false,
		Limit:            -1,
	})
	if err != nil {
		return nil, err
	}

	usage := &TokenUsage{
		Participant: participant,
		ByStatus:    map[types.MessageStatus]int64{},
		ByPriority:  map[types.Priority]int64{},
	}
	for _, m := range msgs {
		chars := int64(len(m.Subject) + len(m.Summary))
		chars += c.sidecarSize(m)
		tokens := (chars + charsPerToken - 1) / charsPerToken
		usage.MessageCount++
		usage.TotalTokens += tokens
		usage.ByStatus[m.Status] += tokens
		usage.ByPriority[m.Priority] += tokens
	}

	usage.Recommendations = recommendations(usage)
	return usage, nil
}

func recommendations(u *TokenUsage) []string {
	if u.TotalTokens == 0 {
		return nil
	}
	var recs []string
	if u.TotalTokens > tokenTotalThreshold {
		recs = append(recs, fmt.Sprintf(
			"Total usage is %d tokens; compact resolved threads to reclaim space.", u.TotalTokens))
	}
	if share := float64(u.ByStatus[types.StatusArchived]) / float64(u.TotalTokens); share > archivedShareWarning {
		recs = append(recs, fmt.Sprintf(
			"Archived messages hold %.0f%% of usage; consider pruning the archive.", share*100))
	}
	if share := float64(u.ByPriority[types.PriorityLow]) / float64(u.TotalTokens); share > lowShareWarning {
		recs = append(recs, fmt.Sprintf(
			"Low-priority messages hold %.0f%% of usage; consolidate or archive them.", share*100))
	}
	return recs
}
