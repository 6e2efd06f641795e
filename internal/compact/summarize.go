package compact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ccproto/ccp/internal/messages"
	"github.com/ccproto/ccp/internal/types"
)

// bucket names, in claim order: the first matching bucket wins.
const (
	bucketCritical  = "critical"
	bucketDecisions = "decisions"
	bucketResolved  = "resolved"
	bucketResponses = "responses"
	bucketOther     = "other"
)

var bucketOrder = []string{bucketCritical, bucketDecisions, bucketResolved, bucketResponses, bucketOther}

var bucketHeadings = map[string]string{
	bucketCritical:  "Critical Issues",
	bucketDecisions: "Decisions Made",
	bucketResolved:  "Resolved Items",
	bucketResponses: "Responses",
	bucketOther:     "Other Communications",
}

func classify(m *types.Message) string {
	if m.Priority == types.PriorityCritical {
		return bucketCritical
	}
	subj := strings.ToLower(m.Subject)
	for _, t := range m.Tags {
		if strings.Contains(t, "decision") {
			return bucketDecisions
		}
	}
	if strings.Contains(subj, "decision") {
		return bucketDecisions
	}
	if m.Status == types.StatusResolved {
		return bucketResolved
	}
	for _, t := range m.Tags {
		if strings.HasPrefix(t, types.ResponseTagPrefix) {
			return bucketResponses
		}
	}
	return bucketOther
}

// summarize collapses a thread into a single archived summary message
// whose full text lives in an archive sidecar.
func (c *Compactor) summarize(ctx context.Context, thread []*types.Message, opts Options) (*Result, int64, error) {
	now := c.clock().UTC()

	buckets := map[string][]*types.Message{}
	for _, m := range thread {
		b := classify(m)
		buckets[b] = append(buckets[b], m)
	}

	exchanges := map[string]bool{}
	for _, m := range thread {
		exchanges[m.From] = true
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Thread Summary\nCompacted %d messages from %d exchanges.\n", len(thread), len(exchanges))
	for _, b := range bucketOrder {
		msgs := buckets[b]
		if len(msgs) == 0 {
			continue
		}
		if b == bucketDecisions && !opts.PreserveDecisions {
			continue
		}
		fmt.Fprintf(&sb, "\n## %s (%d)\n", bucketHeadings[b], len(msgs))
		for _, m := range msgs {
			fmt.Fprintf(&sb, "- **%s**: %s\n", m.Subject, truncate(m.Summary, 150))
		}
	}
	composed := sb.String()

	first := thread[0]
	summaryID := opts.ThreadID + "-SUMMARY"
	sidecarRef := messages.ArchiveRef(now, fmt.Sprintf("%s-summary-%d.md", opts.ThreadID, now.UnixMilli()))

	sidecarPath := filepath.Join(c.dataDir, sidecarRef)
	if err := os.MkdirAll(filepath.Dir(sidecarPath), 0o750); err != nil {
		return nil, 0, fmt.Errorf("create archive directory: %w", err)
	}
	if err := os.WriteFile(sidecarPath, []byte(composed), 0o600); err != nil {
		return nil, 0, fmt.Errorf("write summary sidecar: %w", err)
	}

	summaryMsg := &types.Message{
		ID:         summaryID,
		ThreadID:   opts.ThreadID,
		From:       types.SystemActor,
		To:         first.To,
		Type:       first.Type,
		Priority:   first.Priority,
		Status:     types.StatusArchived,
		Subject:    truncate("Summary: "+first.Subject, types.MaxSubjectLength),
		Summary:    types.Summarize(composed),
		ContentRef: sidecarRef,
		CreatedAt:  now,
		UpdatedAt:  now,
		Tags:       append([]string{"compacted", "summary"}, commonTags(thread)...),
	}

	ids := make([]string, len(thread))
	for i, m := range thread {
		ids[i] = m.ID
	}
	if err := c.store.ApplyCompaction(ctx, opts.ThreadID, ids, []*types.Message{summaryMsg}, nil, now); err != nil {
		_ = os.Remove(sidecarPath)
		return nil, 0, err
	}

	postSize := int64(summaryMsg.SerializedSize()) + int64(len(composed))
	return &Result{
		OriginalCount:  len(thread),
		CompactedCount: 1,
		Summary:        composed,
	}, postSize, nil
}

// commonTags returns tags appearing in at least a quarter of the thread's
// messages (rounded up).
func commonTags(thread []*types.Message) []string {
	threshold := (len(thread) + 3) / 4
	counts := map[string]int{}
	var order []string
	for _, m := range thread {
		seen := map[string]bool{}
		for _, t := range m.Tags {
			if seen[t] {
				continue
			}
			seen[t] = true
			if counts[t] == 0 {
				order = append(order, t)
			}
			counts[t]++
		}
	}
	var out []string
	for _, t := range order {
		if counts[t] >= threshold {
			out = append(out, t)
		}
	}
	return out
}
