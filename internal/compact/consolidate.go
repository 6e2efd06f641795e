package compact

import (
	"context"
	"fmt"
	"strings"

	"github.com/ccproto/ccp/internal/types"
)

// consolidate merges redundant messages sharing (sender, type, priority)
// into synthetic digests. Critical messages pass through unchanged when
// PreserveCritical is set; singleton groups pass through as-is.
func (c *Compactor) consolidate(ctx context.Context, thread []*types.Message, opts Options) (*Result, int64, error) {
	now := c.clock().UTC()

	var passthrough []*types.Message
	var groupable []*types.Message
	for _, m := range thread {
		if opts.PreserveCritical && m.Priority == types.PriorityCritical {
			passthrough = append(passthrough, m)
			continue
		}
		groupable = append(groupable, m)
	}

	type groupKey struct {
		from     string
		msgType  types.MessageType
		priority types.Priority
	}
	groups := map[groupKey][]*types.Message{}
	var keyOrder []groupKey
	for _, m := range groupable {
		k := groupKey{m.From, m.Type, m.Priority}
		if _, ok := groups[k]; !ok {
			keyOrder = append(keyOrder, k)
		}
		groups[k] = append(groups[k], m)
	}

	var archived []*types.Message
	var synthetic []*types.Message
	survivors := len(passthrough)

	for _, k := range keyOrder {
		group := groups[k]
		if len(group) == 1 {
			survivors++
			continue
		}

		first, last := group[0], group[len(group)-1]
		subject := "Consolidated: " + first.Subject
		if len(group) > 2 {
			subject = fmt.Sprintf("Consolidated: %s (+%d more)", first.Subject, len(group)-1)
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Consolidated %d messages:\n", len(group))
		for i, m := range group {
			fmt.Fprintf(&sb, "\n%d. %s", i+1, truncate(m.Summary, 200))
		}

		synthetic = append(synthetic, &types.Message{
			ID:        first.ID + "-CONSOLIDATED",
			ThreadID:  opts.ThreadID,
			From:      first.From,
			To:        first.To,
			Type:      first.Type,
			Priority:  first.Priority,
			Status:    first.Status,
			Subject:   truncate(subject, types.MaxSubjectLength),
			Summary:   types.Summarize(sb.String()),
			CreatedAt: first.CreatedAt,
			UpdatedAt: last.UpdatedAt,
			Tags:      appendUnique(first.Tags, "consolidated"),
		})
		archived = append(archived, group...)
		survivors++
	}

	if len(archived) > 0 {
		ids := make([]string, len(archived))
		for i, m := range archived {
			ids[i] = m.ID
		}
		if err := c.store.ApplyCompaction(ctx, opts.ThreadID, ids, synthetic, nil, now); err != nil {
			return nil, 0, err
		}
		c.archiveSidecars(archived, now)
	}

	var postSize int64
	for _, m := range passthrough {
		postSize += int64(m.SerializedSize()) + c.sidecarSize(m)
	}
	for _, k := range keyOrder {
		if group := groups[k]; len(group) == 1 {
			postSize += int64(group[0].SerializedSize()) + c.sidecarSize(group[0])
		}
	}
	for _, m := range synthetic {
		postSize += int64(m.SerializedSize())
	}

	return &Result{
		OriginalCount:  len(thread),
		CompactedCount: survivors,
	}, postSize, nil
}

func appendUnique(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	out := make([]string, 0, len(tags)+1)
	out = append(out, tags...)
	return append(out, tag)
}
