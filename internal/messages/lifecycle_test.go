package messages_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccproto/ccp/internal/messages"
	"github.com/ccproto/ccp/internal/storage"
	"github.com/ccproto/ccp/internal/testutil/teststore"
	"github.com/ccproto/ccp/internal/types"
)

func TestRespond(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()
	env.Register("@backend")
	env.Register("@mobile")

	orig, err := env.Manager.Create(ctx, messages.CreateInput{
		To: []string{"@mobile"}, Type: types.TypeQuestion, Priority: types.PriorityHigh,
		Subject: "Which auth flow?", Content: "OAuth or API keys?",
		ResponseRequired: true,
	}, "@backend")
	require.NoError(t, err)

	reply, err := env.Manager.Respond(ctx, orig.ID, "OAuth, device flow", "", "@mobile")
	require.NoError(t, err)
	assert.Equal(t, orig.ThreadID, reply.ThreadID)
	assert.Equal(t, []string{"@backend"}, reply.To)
	assert.Equal(t, "Re: Which auth flow?", reply.Subject)
	assert.Equal(t, orig.Type, reply.Type)
	assert.False(t, reply.ResponseRequired)
	assert.Contains(t, reply.Tags, "response_to:"+orig.ID)

	got, err := env.Store.GetMessage(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusResponded, got.Status)

	// Only recipients may respond; the sender cannot respond to itself.
	_, err = env.Manager.Respond(ctx, orig.ID, "me too", "", "@backend")
	require.ErrorIs(t, err, storage.ErrPermission)
}

func TestRespondWithResolution(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()
	env.Register("@backend")
	env.Register("@mobile")

	orig := env.Send("@backend", []string{"@mobile"}, "ship it?", "ready to deploy")
	_, err := env.Manager.Respond(ctx, orig.ID, "shipped", types.ResolutionComplete, "@mobile")
	require.NoError(t, err)

	got, err := env.Store.GetMessage(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionComplete, got.ResolutionStatus)
	assert.Equal(t, "@mobile", got.ResolvedBy)
	require.NotNil(t, got.ResolvedAt)
}

func TestResolveIdempotent(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()
	env.Register("@backend")
	env.Register("@mobile")

	msg := env.Send("@backend", []string{"@mobile"}, "flaky test", "please look")

	first, err := env.Manager.Resolve(ctx, msg.ID, "@mobile", "")
	require.NoError(t, err)
	assert.Equal(t, types.StatusResolved, first.Status)
	assert.Equal(t, types.ResolutionComplete, first.ResolutionStatus)

	// Second resolve re-asserts the terminal state.
	second, err := env.Manager.Resolve(ctx, msg.ID, "@backend", types.ResolutionPartial)
	require.NoError(t, err)
	assert.Equal(t, types.StatusResolved, second.Status)
	assert.Equal(t, types.ResolutionComplete, second.ResolutionStatus, "state unchanged")

	_, err = env.Manager.Resolve(ctx, msg.ID, "@stranger", "")
	require.ErrorIs(t, err, storage.ErrPermission)
}

func TestMarkRead(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()
	env.Register("@backend")
	env.Register("@mobile")

	msg := env.Send("@backend", []string{"@mobile"}, "fyi", "release notes")

	require.NoError(t, env.Manager.MarkRead(ctx, msg.ID, "@mobile"))
	got, err := env.Store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRead, got.Status)

	// Non-pending statuses are left alone.
	require.NoError(t, env.Manager.MarkRead(ctx, msg.ID, "@mobile"))

	err = env.Manager.MarkRead(ctx, msg.ID, "@backend")
	require.ErrorIs(t, err, storage.ErrPermission)
}

func TestCloseThreadViaResponseID(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()
	env.Register("@backend")
	env.Register("@mobile")

	orig, err := env.Manager.Create(ctx, messages.CreateInput{
		To: []string{"@mobile"}, Type: types.TypeQuestion, Priority: types.PriorityHigh,
		Subject: "retry budget?", Content: "how many attempts?",
		ResponseRequired: true,
	}, "@backend")
	require.NoError(t, err)
	reply, err := env.Manager.Respond(ctx, orig.ID, "three, then fail", "", "@mobile")
	require.NoError(t, err)

	n, err := env.Manager.CloseThread(ctx, reply.ID, "@mobile", types.ResolutionComplete, "settled on three attempts")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{orig.ID, reply.ID} {
		m, err := env.Store.GetMessage(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusResolved, m.Status)
	}

	// The closing notice is broadcast in its own thread.
	notices, err := env.Manager.Get(ctx, messages.GetFilter{
		Types: []types.MessageType{types.TypeUpdate},
	}, "@backend")
	require.NoError(t, err)
	require.Len(t, notices, 1)
	notice := notices[0]
	assert.Equal(t, "Thread Closed: "+orig.ThreadID, notice.Subject)
	assert.Equal(t, types.PriorityLow, notice.Priority)
	assert.Equal(t, []string{types.Broadcast}, notice.To)
	assert.Contains(t, notice.Tags, "thread-closed")
	assert.Contains(t, notice.Tags, "resolution-complete")

	// Closing again transitions nothing.
	n, err = env.Manager.CloseThread(ctx, orig.ThreadID, "@mobile", types.ResolutionComplete, "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCloseThreadAuthorization(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()
	env.Register("@backend")
	env.Register("@mobile")
	env.Register("@third")

	msg := env.Send("@backend", []string{"@mobile"}, "topic", "content")

	_, err := env.Manager.CloseThread(ctx, msg.ThreadID, "@third", types.ResolutionComplete, "")
	require.ErrorIs(t, err, storage.ErrPermission)

	_, err = env.Manager.CloseThread(ctx, msg.ThreadID, "@mobile", "done", "")
	require.ErrorIs(t, err, storage.ErrValidation)

	_, err = env.Manager.CloseThread(ctx, "SYNC-0-ZZZ-thread", "@mobile", types.ResolutionComplete, "")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestArchiveExpiredExcludesResolved(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()
	env.Register("@backend")
	env.Register("@mobile")

	mk := func(subject string) *types.Message {
		m, err := env.Manager.Create(ctx, messages.CreateInput{
			To: []string{"@mobile"}, Type: types.TypeSync,
			Subject: subject, Content: "short-lived",
			ExpiresInHours: 0.00002, // 72ms

		}, "@backend")
		require.NoError(t, err)
		return m
	}
	doomed := mk("expires unresolved")
	saved := mk("expires resolved")

	time.Sleep(100 * time.Millisecond)
	_, err := env.Manager.Resolve(ctx, saved.ID, "@mobile", "")
	require.NoError(t, err)

	n, err := env.Manager.ArchiveExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.Store.GetMessage(ctx, doomed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusArchived, got.Status)
	got, err = env.Store.GetMessage(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusResolved, got.Status)

	// Nothing left to archive on a second run.
	n, err = env.Manager.ArchiveExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRespondSubjectTruncated(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()
	env.Register("@backend")
	env.Register("@mobile")

	orig, err := env.Manager.Create(ctx, messages.CreateInput{
		To: []string{"@mobile"}, Type: types.TypeSync,
		Subject: strings.Repeat("s", types.MaxSubjectLength),
		Content: "long subject",
	}, "@backend")
	require.NoError(t, err)

	reply, err := env.Manager.Respond(ctx, orig.ID, "ack", "", "@mobile")
	require.NoError(t, err)
	assert.Len(t, reply.Subject, types.MaxSubjectLength)
	assert.True(t, strings.HasPrefix(reply.Subject, "Re: "))
}
