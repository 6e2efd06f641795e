package sqlite_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccproto/ccp/internal/storage"
	"github.com/ccproto/ccp/internal/storage/sqlite"
	"github.com/ccproto/ccp/internal/types"
)

func openStore(t *testing.T) storage.Storage {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "coordination.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func addParticipant(t *testing.T, store storage.Storage, id string, caps ...string) {
	t.Helper()
	require.NoError(t, store.CreateParticipant(context.Background(), &types.Participant{
		ID:              id,
		Capabilities:    caps,
		Status:          types.ParticipantActive,
		LastSeen:        time.Now().UTC(),
		DefaultPriority: types.PriorityMedium,
	}))
}

func newMsg(id, from string, to ...string) *types.Message {
	now := time.Now().UTC()
	return &types.Message{
		ID:        id,
		ThreadID:  types.ThreadIDFor(id),
		From:      from,
		To:        to,
		Type:      types.TypeSync,
		Priority:  types.PriorityMedium,
		Status:    types.StatusPending,
		Subject:   "subject " + id,
		Summary:   "summary " + id,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestParticipantCRUD(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	addParticipant(t, store, "@backend", "api", "database")

	p, err := store.GetParticipant(ctx, "@backend")
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "database"}, p.Capabilities)
	assert.Equal(t, types.ParticipantActive, p.Status)

	// Duplicate registration conflicts.
	err = store.CreateParticipant(ctx, p)
	require.ErrorIs(t, err, storage.ErrConflict)

	// The migration seeds @system.
	sys, err := store.GetParticipant(ctx, types.SystemActor)
	require.NoError(t, err)
	assert.Contains(t, sys.Capabilities, "system")

	p.Status = types.ParticipantMaintenance
	require.NoError(t, store.UpdateParticipant(ctx, p))

	active := types.ParticipantActive
	list, err := store.ListParticipants(ctx, &active)
	require.NoError(t, err)
	for _, got := range list {
		assert.Equal(t, types.ParticipantActive, got.Status)
	}

	seen := time.Now().UTC().Add(time.Hour)
	require.NoError(t, store.UpdateLastSeen(ctx, "@backend", seen))
	p, err = store.GetParticipant(ctx, "@backend")
	require.NoError(t, err)
	assert.WithinDuration(t, seen, p.LastSeen, time.Second)

	require.NoError(t, store.DeleteParticipant(ctx, "@backend"))
	_, err = store.GetParticipant(ctx, "@backend")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListMessagesAuthorization(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	addParticipant(t, store, "@backend")
	addParticipant(t, store, "@mobile")
	addParticipant(t, store, "@third")

	require.NoError(t, store.CreateMessage(ctx, newMsg("SYNC-1-AAA", "@backend", "@mobile")))

	mobile, err := store.ListMessages(ctx, storage.MessageFilter{Requester: "@mobile", Limit: 10})
	require.NoError(t, err)
	require.Len(t, mobile, 1)
	assert.Equal(t, "SYNC-1-AAA", mobile[0].ID)

	third, err := store.ListMessages(ctx, storage.MessageFilter{Requester: "@third", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, third)

	// Admin requesters see everything.
	admin, err := store.ListMessages(ctx, storage.MessageFilter{
		Requester: "@third", RequesterIsAdmin: true, Limit: 10,
	})
	require.NoError(t, err)
	assert.Len(t, admin, 1)

	// Broadcast rows are visible to uninvolved participants.
	require.NoError(t, store.CreateMessage(ctx, newMsg("SYNC-2-AAA", "@backend", types.Broadcast)))
	third, err = store.ListMessages(ctx, storage.MessageFilter{Requester: "@third", Limit: 10})
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.Equal(t, "SYNC-2-AAA", third[0].ID)
}

func TestListMessagesFiltersAndOrder(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	addParticipant(t, store, "@backend")
	addParticipant(t, store, "@mobile")

	low := newMsg("UPDATE-1-AAA", "@backend", "@mobile")
	low.Priority = types.PriorityLow
	low.Type = types.TypeUpdate
	crit := newMsg("EMERGENCY-2-AAA", "@backend", "@mobile")
	crit.Priority = types.PriorityCritical
	crit.Type = types.TypeEmergency
	resolved := newMsg("SYNC-3-AAA", "@backend", "@mobile")
	resolved.Status = types.StatusResolved
	for _, m := range []*types.Message{low, crit, resolved} {
		require.NoError(t, store.CreateMessage(ctx, m))
	}

	got, err := store.ListMessages(ctx, storage.MessageFilter{Requester: "@mobile", Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "EMERGENCY-2-AAA", got[0].ID, "critical sorts first")

	got, err = store.ListMessages(ctx, storage.MessageFilter{
		Requester: "@mobile", ActiveOnly: true, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, m := range got {
		assert.NotEqual(t, types.StatusResolved, m.Status)
	}

	got, err = store.ListMessages(ctx, storage.MessageFilter{
		Requester:  "@mobile",
		Types:      []types.MessageType{types.TypeEmergency},
		Priorities: []types.Priority{types.PriorityCritical},
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "EMERGENCY-2-AAA", got[0].ID)

	got, err = store.ListMessages(ctx, storage.MessageFilter{
		Requester: "@mobile",
		Status:    []types.MessageStatus{types.StatusResolved},
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "SYNC-3-AAA", got[0].ID)

	got, err = store.ListMessages(ctx, storage.MessageFilter{
		Requester: "@mobile", ThreadID: types.ThreadIDFor("UPDATE-1-AAA"), Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestConversationTouch(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	addParticipant(t, store, "@backend")
	addParticipant(t, store, "@mobile")

	first := newMsg("Q-1-AAA", "@backend", "@mobile")
	require.NoError(t, store.CreateMessage(ctx, first))

	reply := newMsg("Q-2-AAA", "@mobile", "@backend")
	reply.ThreadID = first.ThreadID
	require.NoError(t, store.CreateMessage(ctx, reply))

	conv, err := store.GetConversation(ctx, first.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, 2, conv.MessageCount)
	assert.Equal(t, []string{"@backend", "@mobile"}, conv.Participants)
	assert.Equal(t, types.ConversationActive, conv.Status)

	// Broadcast is never recorded as a conversation participant.
	bcast := newMsg("BROADCAST-3-AAA", "@backend", types.Broadcast)
	bcast.ThreadID = first.ThreadID
	require.NoError(t, store.CreateMessage(ctx, bcast))
	conv, err = store.GetConversation(ctx, first.ThreadID)
	require.NoError(t, err)
	assert.NotContains(t, conv.Participants, types.Broadcast)
}

func TestSearchFTS(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	addParticipant(t, store, "@backend")
	addParticipant(t, store, "@mobile")
	addParticipant(t, store, "@third")

	m1 := newMsg("CONTRACT-1-AAA", "@backend", "@mobile")
	m1.Subject = "API change for login endpoint"
	m1.Summary = "Please update the login endpoint"
	m2 := newMsg("SYNC-2-AAA", "@backend", "@mobile")
	m2.Subject = "Database migration plan"
	m2.Summary = "Schema v2 rollout schedule"
	for _, m := range []*types.Message{m1, m2} {
		require.NoError(t, store.CreateMessage(ctx, m))
	}

	hits, err := store.SearchFTS(ctx, `"login"`, storage.SearchOptions{Requester: "@mobile", Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "CONTRACT-1-AAA", hits[0].Message.ID)
	assert.Negative(t, hits[0].Rank, "fts rank is negative for matches")

	// Authorization applies inside the search query.
	hits, err = store.SearchFTS(ctx, `"login"`, storage.SearchOptions{Requester: "@third", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchByTagsAndSubstring(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	addParticipant(t, store, "@backend")
	addParticipant(t, store, "@mobile")

	m := newMsg("SYNC-1-AAA", "@backend", "@mobile")
	m.Tags = []string{"api", "auth"}
	m.Summary = "rotate the signing keys"
	require.NoError(t, store.CreateMessage(ctx, m))

	byTag, err := store.SearchByTags(ctx, []string{"auth"}, storage.SearchOptions{Requester: "@mobile", Limit: 10})
	require.NoError(t, err)
	require.Len(t, byTag, 1)

	byTag, err = store.SearchByTags(ctx, []string{"nomatch"}, storage.SearchOptions{Requester: "@mobile", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, byTag)

	bySub, err := store.SearchSubstring(ctx, "signing", storage.SearchOptions{Requester: "@mobile", Limit: 10})
	require.NoError(t, err)
	require.Len(t, bySub, 1)

	counts, err := store.TagCounts(ctx, storage.SearchOptions{Requester: "@mobile"}, "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, counts)
	tags := map[string]int{}
	for _, c := range counts {
		tags[c.Tag] = c.Count
	}
	assert.Equal(t, 1, tags["api"])
	assert.Equal(t, 1, tags["auth"])
}

func TestCloseThreadMessages(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	addParticipant(t, store, "@backend")
	addParticipant(t, store, "@mobile")

	first := newMsg("Q-1-AAA", "@backend", "@mobile")
	require.NoError(t, store.CreateMessage(ctx, first))
	second := newMsg("Q-2-AAA", "@mobile", "@backend")
	second.ThreadID = first.ThreadID
	second.Status = types.StatusResponded
	require.NoError(t, store.CreateMessage(ctx, second))

	now := time.Now().UTC()
	n, err := store.CloseThreadMessages(ctx, first.ThreadID, "@mobile", types.ResolutionComplete, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{"Q-1-AAA", "Q-2-AAA"} {
		m, err := store.GetMessage(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusResolved, m.Status)
		assert.Equal(t, types.ResolutionComplete, m.ResolutionStatus)
		assert.Equal(t, "@mobile", m.ResolvedBy)
	}
	conv, err := store.GetConversation(ctx, first.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, types.ConversationResolved, conv.Status)

	// Closing again transitions nothing.
	n, err = store.CloseThreadMessages(ctx, first.ThreadID, "@mobile", types.ResolutionComplete, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpiredMessages(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	addParticipant(t, store, "@backend")
	addParticipant(t, store, "@mobile")

	past := time.Now().UTC().Add(-time.Hour)
	expired := newMsg("SYNC-1-AAA", "@backend", "@mobile")
	expired.ExpiresAt = &past
	resolvedExpired := newMsg("SYNC-2-AAA", "@backend", "@mobile")
	resolvedExpired.ExpiresAt = &past
	resolvedExpired.Status = types.StatusResolved
	fresh := newMsg("SYNC-3-AAA", "@backend", "@mobile")
	for _, m := range []*types.Message{expired, resolvedExpired, fresh} {
		require.NoError(t, store.CreateMessage(ctx, m))
	}

	got, err := store.ExpiredMessages(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "SYNC-1-AAA", got[0].ID)

	require.NoError(t, store.ArchiveMessages(ctx, []string{"SYNC-1-AAA"}, time.Now().UTC()))
	m, err := store.GetMessage(ctx, "SYNC-1-AAA")
	require.NoError(t, err)
	assert.Equal(t, types.StatusArchived, m.Status)

	got, err = store.ExpiredMessages(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, got, "archival is idempotent")
}

func TestApplyCompaction(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	addParticipant(t, store, "@backend")
	addParticipant(t, store, "@mobile")

	first := newMsg("SYNC-1-AAA", "@backend", "@mobile")
	require.NoError(t, store.CreateMessage(ctx, first))
	second := newMsg("SYNC-2-AAA", "@backend", "@mobile")
	second.ThreadID = first.ThreadID
	require.NoError(t, store.CreateMessage(ctx, second))

	now := time.Now().UTC()
	summary := newMsg(first.ThreadID+"-SUMMARY", types.SystemActor, "@mobile")
	summary.ThreadID = first.ThreadID
	summary.Status = types.StatusArchived

	err := store.ApplyCompaction(ctx, first.ThreadID,
		[]string{"SYNC-1-AAA", "SYNC-2-AAA"},
		[]*types.Message{summary},
		&storage.ConversationPatch{
			Status:            types.ConversationArchived,
			ResolutionSummary: "compacted",
			LastActivity:      now,
		}, now)
	require.NoError(t, err)

	for _, id := range []string{"SYNC-1-AAA", "SYNC-2-AAA"} {
		m, err := store.GetMessage(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusArchived, m.Status)
	}
	got, err := store.GetMessage(ctx, first.ThreadID+"-SUMMARY")
	require.NoError(t, err)
	assert.Equal(t, types.StatusArchived, got.Status)

	conv, err := store.GetConversation(ctx, first.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, types.ConversationArchived, conv.Status)
	assert.Equal(t, "compacted", conv.ResolutionSummary)
}

func TestParticipantStats(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	addParticipant(t, store, "@backend")
	addParticipant(t, store, "@mobile")

	for i := 0; i < 3; i++ {
		m := newMsg(fmt.Sprintf("SYNC-%d-STA", i), "@backend", "@mobile")
		m.ResponseRequired = true
		if i == 0 {
			m.Status = types.StatusResponded
		}
		require.NoError(t, store.CreateMessage(ctx, m))
	}
	require.NoError(t, store.CreateMessage(ctx, newMsg("UPDATE-9-STA", "@mobile", "@backend")))

	since := time.Now().UTC().Add(-24 * time.Hour)
	stats, err := store.ParticipantStats(ctx, "@mobile", since)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 3, stats.Received)
	assert.InDelta(t, 1.0/3.0, stats.ResponseRate, 0.01)
}

func TestCountActiveMessages(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	addParticipant(t, store, "@backend")
	addParticipant(t, store, "@mobile")

	m := newMsg("SYNC-1-AAA", "@backend", "@mobile")
	require.NoError(t, store.CreateMessage(ctx, m))
	resolved := newMsg("SYNC-2-AAA", "@backend", "@mobile")
	resolved.Status = types.StatusResolved
	require.NoError(t, store.CreateMessage(ctx, resolved))

	n, err := store.CountActiveMessages(ctx, "@mobile")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetDependencies(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	addParticipant(t, store, "@backend")
	addParticipant(t, store, "@mobile")

	m := newMsg("SYNC-1-AAA", "@backend", "@mobile")
	m.Dependencies = []string{"SYNC-0-AAA"}
	require.NoError(t, store.CreateMessage(ctx, m))

	deps, err := store.GetDependencies(ctx, "SYNC-1-AAA")
	require.NoError(t, err)
	assert.Equal(t, []string{"SYNC-0-AAA"}, deps)

	deps, err = store.GetDependencies(ctx, "UNKNOWN-1-AAA")
	require.NoError(t, err)
	assert.Nil(t, deps)
}
