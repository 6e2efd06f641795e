package rpc

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ccproto/ccp/internal/compact"
	"github.com/ccproto/ccp/internal/config"
	"github.com/ccproto/ccp/internal/index"
	"github.com/ccproto/ccp/internal/storage"
	"github.com/ccproto/ccp/internal/types"
)

func formatMessageCreated(m *types.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Message sent.\n\n")
	fmt.Fprintf(&sb, "ID:        %s\n", m.ID)
	fmt.Fprintf(&sb, "Thread:    %s\n", m.ThreadID)
	fmt.Fprintf(&sb, "To:        %s\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&sb, "Type:      %s\n", m.Type)
	fmt.Fprintf(&sb, "Priority:  %s\n", m.Priority)
	fmt.Fprintf(&sb, "Status:    %s\n", m.Status)
	if m.ExpiresAt != nil {
		fmt.Fprintf(&sb, "Expires:   %s\n", m.ExpiresAt.Format(time.RFC3339))
	}
	if len(m.Tags) > 0 {
		fmt.Fprintf(&sb, "Tags:      %s\n", strings.Join(m.Tags, ", "))
	}
	if m.ContentRef != "" {
		fmt.Fprintf(&sb, "Content stored at %s\n", m.ContentRef)
	}
	return sb.String()
}

func formatMessageList(msgs []*types.Message, detail types.DetailLevel) string {
	if len(msgs) == 0 {
		return "No messages found."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d message(s):\n", len(msgs))
	for _, m := range msgs {
		fmt.Fprintf(&sb, "\n[%s] %s (%s, %s)\n", m.Priority, m.Subject, m.Type, m.Status)
		fmt.Fprintf(&sb, "  ID: %s  From: %s  To: %s\n", m.ID, m.From, strings.Join(m.To, ", "))
		fmt.Fprintf(&sb, "  Sent: %s\n", m.CreatedAt.Format(time.RFC3339))
		if detail != types.DetailIndex && m.Summary != "" {
			fmt.Fprintf(&sb, "  %s\n", m.Summary)
		}
		if detail == types.DetailFull && m.Content != "" && m.Content != m.Summary {
			fmt.Fprintf(&sb, "  ---\n  %s\n", m.Content)
		}
	}
	return sb.String()
}

func formatResponseCreated(originalID string, reply *types.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Response sent for %s.\n\n", originalID)
	fmt.Fprintf(&sb, "ID:       %s\n", reply.ID)
	fmt.Fprintf(&sb, "Thread:   %s\n", reply.ThreadID)
	fmt.Fprintf(&sb, "To:       %s\n", strings.Join(reply.To, ", "))
	fmt.Fprintf(&sb, "Subject:  %s\n", reply.Subject)
	return sb.String()
}

func formatSearchResults(query string, results []index.Result) string {
	if len(results) == 0 {
		if query != "" {
			return fmt.Sprintf("No messages match %q.", query)
		}
		return "No messages match."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d result(s):\n", len(results))
	for i, r := range results {
		m := r.Message
		fmt.Fprintf(&sb, "\n%d. [%.2f] %s (%s)\n", i+1, r.RelevanceScore, m.Subject, m.ID)
		fmt.Fprintf(&sb, "   From: %s  Priority: %s  Status: %s\n", m.From, m.Priority, m.Status)
		if r.MatchContext != "" {
			fmt.Fprintf(&sb, "   ...%s...\n", r.MatchContext)
		}
	}
	return sb.String()
}

func formatCompactionResult(r *compact.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Compacted thread %s (%s).\n", r.ThreadID, r.Strategy)
	fmt.Fprintf(&sb, "Messages: %d -> %d\n", r.OriginalCount, r.CompactedCount)
	fmt.Fprintf(&sb, "Space saved: %d bytes\n", r.SpaceSavedBytes)
	if r.Summary != "" {
		fmt.Fprintf(&sb, "\n%s", r.Summary)
	}
	return sb.String()
}

func formatArchiveSweep(expired int, results []*compact.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Archived %d expired message(s).\n", expired)
	fmt.Fprintf(&sb, "Compacted %d resolved thread(s).\n", len(results))
	for _, r := range results {
		fmt.Fprintf(&sb, "- %s: %d -> %d (%d bytes saved)\n", r.ThreadID, r.OriginalCount, r.CompactedCount, r.SpaceSavedBytes)
	}
	return sb.String()
}

func formatStats(participant string, days int, stats *storage.ParticipantStats, usage *compact.TokenUsage, roster []*types.Participant) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Stats for %s over the last %d day(s):\n\n", participant, days)
	fmt.Fprintf(&sb, "Sent:     %d\n", stats.Sent)
	fmt.Fprintf(&sb, "Received: %d\n", stats.Received)
	fmt.Fprintf(&sb, "Response rate: %.0f%%\n", stats.ResponseRate*100)
	if stats.AvgResponseHours > 0 {
		fmt.Fprintf(&sb, "Avg response time: %.1fh\n", stats.AvgResponseHours)
	}
	writeDistribution(&sb, "By type", stats.ByType)
	writeDistribution(&sb, "By priority", stats.ByPriority)
	writeDistribution(&sb, "By status", stats.ByStatus)

	fmt.Fprintf(&sb, "\nEstimated token usage: %d across %d message(s)\n", usage.TotalTokens, usage.MessageCount)
	for _, rec := range usage.Recommendations {
		fmt.Fprintf(&sb, "! %s\n", rec)
	}

	if len(roster) > 0 {
		fmt.Fprintf(&sb, "\nParticipants:\n")
		for _, p := range roster {
			fmt.Fprintf(&sb, "- %s (%s) caps=[%s] last seen %s\n",
				p.ID, p.Status, strings.Join(p.Capabilities, ", "), p.LastSeen.Format(time.RFC3339))
		}
	}
	return sb.String()
}

func writeDistribution(sb *strings.Builder, label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(sb, "%s:\n", label)
	for _, k := range keys {
		fmt.Fprintf(sb, "  %-12s %d\n", k, counts[k])
	}
}

func formatParticipantRegistered(p *types.Participant) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Registered %s.\n\n", p.ID)
	fmt.Fprintf(&sb, "Capabilities:     %s\n", strings.Join(p.Capabilities, ", "))
	fmt.Fprintf(&sb, "Default priority: %s\n", p.DefaultPriority)
	fmt.Fprintf(&sb, "Status:           %s\n", p.Status)
	return sb.String()
}

func formatWhoami(p *types.Participant, cfg *config.Config) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current participant: %s\n\n", p.ID)
	fmt.Fprintf(&sb, "Status:           %s\n", p.Status)
	fmt.Fprintf(&sb, "Capabilities:     %s\n", strings.Join(p.Capabilities, ", "))
	fmt.Fprintf(&sb, "Default priority: %s\n", p.DefaultPriority)
	fmt.Fprintf(&sb, "Last seen:        %s\n", p.LastSeen.Format(time.RFC3339))
	fmt.Fprintf(&sb, "\nConfiguration:\n")
	fmt.Fprintf(&sb, "Data directory: %s\n", cfg.DataDirectory)
	fmt.Fprintf(&sb, "Archive days:   %d\n", cfg.ArchiveDays)
	fmt.Fprintf(&sb, "Token limit:    %d\n", cfg.TokenLimit)
	fmt.Fprintf(&sb, "Auto compact:   %t\n", cfg.AutoCompactEnabled())
	return sb.String()
}

func formatThreadClosed(threadID string, resolution types.ResolutionStatus, count int) string {
	return fmt.Sprintf("Closed thread %s (%s): %d message(s) resolved.", threadID, resolution, count)
}
