package compact_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccproto/ccp/internal/compact"
	"github.com/ccproto/ccp/internal/messages"
	"github.com/ccproto/ccp/internal/storage"
	"github.com/ccproto/ccp/internal/testutil/teststore"
	"github.com/ccproto/ccp/internal/types"
)

// insert writes a message row directly so tests can assemble multi-message
// threads with specific statuses and priorities.
func insert(t *testing.T, env *teststore.Env, msg *types.Message) *types.Message {
	t.Helper()
	if msg.Type == "" {
		msg.Type = types.TypeSync
	}
	if msg.Priority == "" {
		msg.Priority = types.PriorityMedium
	}
	if msg.Status == "" {
		msg.Status = types.StatusPending
	}
	if msg.Summary == "" {
		msg.Summary = types.Summarize("body of " + msg.Subject)
	}
	require.NoError(t, env.Store.CreateMessage(context.Background(), msg))
	return msg
}

// seedMixedThread builds a five-message thread: one critical, one tagged as
// a decision, two resolved, one plain.
func seedMixedThread(t *testing.T, env *teststore.Env) string {
	t.Helper()
	threadID := "SYNC-mix-AAA-thread"
	base := time.Now().UTC().Add(-time.Hour)

	specs := []struct {
		from     string
		to       string
		priority types.Priority
		status   types.MessageStatus
		subject  string
		tags     []string
	}{
		{"@backend", "@mobile", types.PriorityCritical, types.StatusPending, "auth outage", nil},
		{"@mobile", "@backend", types.PriorityMedium, types.StatusPending, "retry budget", []string{"decision"}},
		{"@backend", "@mobile", types.PriorityMedium, types.StatusResolved, "flaky test", nil},
		{"@backend", "@mobile", types.PriorityMedium, types.StatusResolved, "stale cache", nil},
		{"@mobile", "@backend", types.PriorityMedium, types.StatusPending, "weekly notes", nil},
	}
	for i, s := range specs {
		insert(t, env, &types.Message{
			ID:        fmt.Sprintf("SYNC-mix-A%02d", i),
			ThreadID:  threadID,
			From:      s.from,
			To:        []string{s.to},
			Priority:  s.priority,
			Status:    s.status,
			Subject:   s.subject,
			Tags:      s.tags,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return threadID
}

func TestCompactThreadSummarize(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()
	env.Register("@backend")
	env.Register("@mobile")
	threadID := seedMixedThread(t, env)

	res, err := env.Compactor.CompactThread(ctx, compact.Options{
		ThreadID:          threadID,
		Strategy:          compact.StrategySummarize,
		PreserveDecisions: true,
		PreserveCritical:  true,
	}, "@backend")
	require.NoError(t, err)

	assert.Equal(t, threadID, res.ThreadID)
	assert.Equal(t, compact.StrategySummarize, res.Strategy)
	assert.Equal(t, 5, res.OriginalCount)
	assert.Equal(t, 1, res.CompactedCount)
	assert.Contains(t, res.Summary, "Compacted 5 messages from 2 exchanges.")
	assert.Contains(t, res.Summary, "## Critical Issues (1)")
	assert.Contains(t, res.Summary, "## Decisions Made (1)")
	assert.Contains(t, res.Summary, "## Resolved Items (2)")
	assert.Contains(t, res.Summary, "## Other Communications (1)")

	sm, err := env.Store.GetMessage(ctx, threadID+"-SUMMARY")
	require.NoError(t, err)
	assert.Equal(t, types.StatusArchived, sm.Status)
	assert.Equal(t, types.SystemActor, sm.From)
	assert.Equal(t, threadID, sm.ThreadID)
	assert.Contains(t, sm.Tags, "compacted")
	assert.Contains(t, sm.Tags, "summary")
	require.NotEmpty(t, sm.ContentRef)

	data, err := os.ReadFile(filepath.Join(env.DataDir, sm.ContentRef))
	require.NoError(t, err)
	assert.Equal(t, res.Summary, string(data))

	got, err := env.Store.GetMessage(ctx, "SYNC-mix-A00")
	require.NoError(t, err)
	assert.Equal(t, types.StatusArchived, got.Status)
}

func TestCompactThreadSummarizeDropsDecisions(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()
	env.Register("@backend")
	env.Register("@mobile")
	threadID := seedMixedThread(t, env)

	res, err := env.Compactor.CompactThread(ctx, compact.Options{
		ThreadID: threadID,
		Strategy: compact.StrategySummarize,
	}, "@backend")
	require.NoError(t, err)
	assert.NotContains(t, res.Summary, "Decisions Made")

	// The decision message is still archived with the rest of the thread.
	got, err := env.Store.GetMessage(ctx, "SYNC-mix-A01")
	require.NoError(t, err)
	assert.Equal(t, types.StatusArchived, got.Status)
}

func TestCompactThreadConsolidate(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()
	env.Register("@backend")
	env.Register("@mobile")

	threadID := "UPDATE-con-AAA-thread"
	base := time.Now().UTC().Add(-time.Hour)
	mk := func(i int, from string, priority types.Priority, subject string) *types.Message {
		return insert(t, env, &types.Message{
			ID:        fmt.Sprintf("UPDATE-con-A%02d", i),
			ThreadID:  threadID,
			From:      from,
			To:        []string{"@mobile"},
			Type:      types.TypeUpdate,
			Priority:  priority,
			Subject:   subject,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	mk(0, "@backend", types.PriorityMedium, "daily status")
	mk(1, "@backend", types.PriorityMedium, "daily status")
	mk(2, "@backend", types.PriorityMedium, "daily status")
	critical := mk(3, "@backend", types.PriorityCritical, "disk almost full")
	single := mk(4, "@mobile", types.PriorityMedium, "build times")

	res, err := env.Compactor.CompactThread(ctx, compact.Options{
		ThreadID:         threadID,
		Strategy:         compact.StrategyConsolidate,
		PreserveCritical: true,
	}, "@backend")
	require.NoError(t, err)
	assert.Equal(t, 5, res.OriginalCount)
	assert.Equal(t, 3, res.CompactedCount)

	// The three redundant updates collapse into one synthetic digest.
	var digest *types.Message
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("UPDATE-con-A%02d-CONSOLIDATED", i)
		if m, err := env.Store.GetMessage(ctx, id); err == nil {
			digest = m
		}
		orig, err := env.Store.GetMessage(ctx, fmt.Sprintf("UPDATE-con-A%02d", i))
		require.NoError(t, err)
		assert.Equal(t, types.StatusArchived, orig.Status)
	}
	require.NotNil(t, digest)
	assert.Equal(t, "Consolidated: daily status (+2 more)", digest.Subject)
	assert.Equal(t, types.StatusPending, digest.Status)
	assert.Contains(t, digest.Tags, "consolidated")
	assert.Contains(t, digest.Summary, "Consolidated 3 messages:")

	// Critical and singleton messages pass through untouched.
	for _, id := range []string{critical.ID, single.ID} {
		m, err := env.Store.GetMessage(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusPending, m.Status)
	}
}

func TestCompactThreadArchive(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()
	env.Register("@backend")
	env.Register("@mobile")

	msg, err := env.Manager.Create(ctx, messages.CreateInput{
		To: []string{"@mobile"}, Type: types.TypeSync,
		Subject: "big attachment", Content: strings.Repeat("x", 2000),
	}, "@backend")
	require.NoError(t, err)
	require.NotEmpty(t, msg.ContentRef)
	active := filepath.Join(env.DataDir, msg.ContentRef)

	res, err := env.Compactor.CompactThread(ctx, compact.Options{
		ThreadID: msg.ThreadID,
		Strategy: compact.StrategyArchive,
	}, "@backend")
	require.NoError(t, err)
	assert.Equal(t, 1, res.OriginalCount)
	assert.Equal(t, 1, res.CompactedCount)
	assert.Positive(t, res.SpaceSavedBytes)

	got, err := env.Store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusArchived, got.Status)

	// The sidecar moved out of the active tree.
	_, err = os.Stat(active)
	assert.True(t, os.IsNotExist(err))
}

func TestCompactThreadGuards(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()
	env.Register("@backend")
	env.Register("@mobile")
	env.Register("@third")
	msg := env.Send("@backend", []string{"@mobile"}, "private thread", "content")

	_, err := env.Compactor.CompactThread(ctx, compact.Options{
		ThreadID: msg.ThreadID, Strategy: "shred",
	}, "@backend")
	require.ErrorIs(t, err, storage.ErrValidation)

	_, err = env.Compactor.CompactThread(ctx, compact.Options{
		ThreadID: "SYNC-0-ZZZ-thread", Strategy: compact.StrategyArchive,
	}, "@backend")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = env.Compactor.CompactThread(ctx, compact.Options{
		ThreadID: msg.ThreadID, Strategy: compact.StrategyArchive,
	}, "@third")
	require.ErrorIs(t, err, storage.ErrPermission)

	// The auto-compaction actor bypasses membership.
	_, err = env.Compactor.CompactThread(ctx, compact.Options{
		ThreadID: msg.ThreadID, Strategy: compact.StrategyArchive,
	}, types.SystemActor)
	require.NoError(t, err)
}

func TestCalculateTokenUsage(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()
	env.Register("@backend")
	env.Register("@mobile")

	// 6 subject chars + 4 summary chars = 10 chars, 3 tokens.
	env.Send("@backend", []string{"@mobile"}, "budget", "four")

	usage, err := env.Compactor.CalculateTokenUsage(ctx, "@backend")
	require.NoError(t, err)
	assert.Equal(t, "@backend", usage.Participant)
	assert.Equal(t, 1, usage.MessageCount)
	assert.Equal(t, int64(3), usage.TotalTokens)
	assert.Equal(t, int64(3), usage.ByStatus[types.StatusPending])
	assert.Equal(t, int64(3), usage.ByPriority[types.PriorityMedium])
	assert.Empty(t, usage.Recommendations)

	// Uninvolved participants accrue nothing.
	usage, err = env.Compactor.CalculateTokenUsage(ctx, "@stranger")
	require.NoError(t, err)
	assert.Zero(t, usage.MessageCount)
	assert.Zero(t, usage.TotalTokens)
}

func TestAutoCompact(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()
	env.Register("@backend")
	env.Register("@mobile")

	old := env.Send("@backend", []string{"@mobile"}, "settled question", "all done")
	_, err := env.Manager.CloseThread(ctx, old.ThreadID, "@backend", types.ResolutionComplete, "")
	require.NoError(t, err)

	fresh := env.Send("@backend", []string{"@mobile"}, "open question", "still pending")

	// Move the compactor's clock forward so the resolved conversation falls
	// behind the 30-day cutoff.
	env.Compactor.SetClock(func() time.Time { return time.Now().Add(31 * 24 * time.Hour) })

	results, err := env.Compactor.AutoCompact(ctx, 30, compact.Options{
		Strategy:          compact.StrategySummarize,
		PreserveDecisions: true,
		PreserveCritical:  true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, old.ThreadID, results[0].ThreadID)
	assert.Equal(t, compact.StrategySummarize, results[0].Strategy)

	got, err := env.Store.GetMessage(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusArchived, got.Status)

	// Unresolved threads are never swept.
	got, err = env.Store.GetMessage(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Status)
}
