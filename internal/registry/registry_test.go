package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccproto/ccp/internal/registry"
	"github.com/ccproto/ccp/internal/storage"
	"github.com/ccproto/ccp/internal/testutil/teststore"
	"github.com/ccproto/ccp/internal/types"
)

func TestRegisterDefaults(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()

	p, err := env.Registry.Register(ctx, &types.Participant{
		ID:           "@backend",
		Capabilities: []string{"api"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.ParticipantActive, p.Status)
	assert.Equal(t, types.PriorityMedium, p.DefaultPriority)
	assert.False(t, p.LastSeen.IsZero())

	_, err = env.Registry.Register(ctx, &types.Participant{ID: "@backend"})
	require.ErrorIs(t, err, storage.ErrConflict)
}

func TestRegisterRejectsReservedAndInvalid(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()

	for _, id := range []string{"@system", "@admin", "@root", "@all", "no-at", "@9lives"} {
		_, err := env.Registry.Register(ctx, &types.Participant{ID: id})
		require.ErrorIs(t, err, storage.ErrValidation, id)
	}
}

func TestUpdateAuthorization(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()
	env.Register("@backend")
	env.Register("@mobile")
	env.Register("@ops", "admin")

	caps := []string{"api", "grpc"}
	p, err := env.Registry.Update(ctx, "@backend", registry.UpdatePatch{Capabilities: &caps}, "@backend")
	require.NoError(t, err)
	assert.Equal(t, caps, p.Capabilities)

	_, err = env.Registry.Update(ctx, "@backend", registry.UpdatePatch{Capabilities: &caps}, "@mobile")
	require.ErrorIs(t, err, storage.ErrPermission)

	status := types.ParticipantMaintenance
	p, err = env.Registry.Update(ctx, "@backend", registry.UpdatePatch{Status: &status}, "@ops")
	require.NoError(t, err)
	assert.Equal(t, types.ParticipantMaintenance, p.Status)

	bad := types.ParticipantStatus("sleeping")
	_, err = env.Registry.Update(ctx, "@backend", registry.UpdatePatch{Status: &bad}, "@ops")
	require.ErrorIs(t, err, storage.ErrValidation)
}

func TestRemoveGuards(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()
	env.Register("@backend")
	env.Register("@mobile")
	env.Register("@ops", "admin")

	err := env.Registry.Remove(ctx, "@mobile", "@backend")
	require.ErrorIs(t, err, storage.ErrPermission)

	env.Send("@backend", []string{"@mobile"}, "open item", "needs a response")
	err = env.Registry.Remove(ctx, "@mobile", "@ops")
	require.ErrorIs(t, err, storage.ErrConflict)

	// A participant with no active messages can be removed by an admin.
	err = env.Registry.Remove(ctx, "@ops", "@ops")
	require.NoError(t, err)
	_, err = env.Registry.Get(ctx, "@ops")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCleanupStale(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()
	env.Register("@old")
	env.Register("@fresh")

	require.NoError(t, env.Registry.Deactivate(ctx, "@old", "@old"))

	env.Registry.SetClock(func() time.Time { return time.Now().Add(60 * 24 * time.Hour) })
	n, err := env.Registry.CleanupStale(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = env.Registry.Get(ctx, "@old")
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Active participants are never swept regardless of age.
	_, err = env.Registry.Get(ctx, "@fresh")
	require.NoError(t, err)
}

func TestIsAdmin(t *testing.T) {
	assert.True(t, registry.IsAdmin(&types.Participant{Capabilities: []string{"admin"}}))
	assert.True(t, registry.IsAdmin(&types.Participant{Capabilities: []string{"system"}}))
	assert.False(t, registry.IsAdmin(&types.Participant{Capabilities: []string{"api"}}))
	assert.False(t, registry.IsAdmin(nil))
}

func TestCanAccessMessage(t *testing.T) {
	backend := &types.Participant{ID: "@backend"}
	admin := &types.Participant{ID: "@ops", Capabilities: []string{"admin"}}

	assert.True(t, registry.CanAccessMessage(backend, "@backend", []string{"@mobile"}))
	assert.True(t, registry.CanAccessMessage(backend, "@mobile", []string{"@backend"}))
	assert.True(t, registry.CanAccessMessage(backend, "@mobile", []string{types.Broadcast}))
	assert.False(t, registry.CanAccessMessage(backend, "@mobile", []string{"@third"}))
	assert.True(t, registry.CanAccessMessage(admin, "@mobile", []string{"@third"}))
}

func TestCanSend(t *testing.T) {
	env := teststore.NewEnv(t)
	ctx := context.Background()
	env.Register("@backend")
	env.Register("@mobile")

	require.NoError(t, env.Registry.CanSend(ctx, "@backend", []string{"@mobile"}))
	require.NoError(t, env.Registry.CanSend(ctx, "@backend", []string{types.Broadcast}))

	err := env.Registry.CanSend(ctx, "@ghost", []string{"@mobile"})
	require.ErrorIs(t, err, storage.ErrPermission)

	err = env.Registry.CanSend(ctx, "@backend", []string{"@unknown"})
	require.ErrorIs(t, err, storage.ErrValidation)

	require.NoError(t, env.Registry.Deactivate(ctx, "@mobile", "@mobile"))
	err = env.Registry.CanSend(ctx, "@backend", []string{"@mobile"})
	require.ErrorIs(t, err, storage.ErrValidation)

	err = env.Registry.CanSend(ctx, "@mobile", []string{"@backend"})
	require.ErrorIs(t, err, storage.ErrPermission, "inactive sender cannot send")
}
