package group

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Gather/internal/domain"
	"github.com/dkeye/Gather/internal/wire"
)

func TestAdminAuthSuccess(t *testing.T) {
	g := newTestGroup(t, "s3cret")

	admin := NewAdmin(g.net.NewPeerWithID("admin"), "s3cret")
	authed := collect[AdminAuthEvent](admin.Events(), EventAdminAuthenticated)
	hostAuthed := collect[AdminAuthEvent](g.host.Events(), EventAdminAuthenticated)

	require.NoError(t, admin.Connect(context.Background(), g.host.ID()))

	assert.True(t, admin.Authenticated())
	require.Len(t, *authed, 1)
	require.Len(t, *hostAuthed, 1)
	assert.Equal(t, domain.PeerID("admin"), (*hostAuthed)[0].PeerID)
}

func TestAdminAuthFailure(t *testing.T) {
	g := newTestGroup(t, "s3cret")

	admin := NewAdmin(g.net.NewPeerWithID("admin"), "wrong")
	failed := collect[AdminAuthEvent](admin.Events(), EventAdminAuthFailed)

	require.NoError(t, admin.Connect(context.Background(), g.host.ID()))

	assert.False(t, admin.Authenticated())
	require.Len(t, *failed, 1)
	assert.Equal(t, "invalid secret", (*failed)[0].Reason)
}

func TestAdminAuthDisabledWithoutSecret(t *testing.T) {
	g := newTestGroup(t, "")

	admin := NewAdmin(g.net.NewPeerWithID("admin"), "")
	failed := collect[AdminAuthEvent](admin.Events(), EventAdminAuthFailed)

	require.NoError(t, admin.Connect(context.Background(), g.host.ID()))
	assert.False(t, admin.Authenticated())
	assert.Len(t, *failed, 1)
}

func TestAdminCommandsBeforeAuthAreLocalErrors(t *testing.T) {
	g := newTestGroup(t, "s3cret")
	g.autoApprove()
	g.join(t, "alice", "alice")

	admin := NewAdmin(g.net.NewPeerWithID("admin"), "wrong")
	errs := collect[ErrorEvent](admin.Events(), EventError)
	require.NoError(t, admin.Connect(context.Background(), g.host.ID()))

	admin.KickClient("alice", "bye")
	admin.BanClient("alice")
	admin.ShutdownGroup()

	require.Len(t, *errs, 3)
	for _, e := range *errs {
		assert.ErrorIs(t, e.Err, ErrNotAuthorized)
	}
	// Nothing reached the host.
	assert.Len(t, g.host.Members(), 1)
	assert.False(t, g.host.IsBanned("alice"))
}

func TestAdminCommandsMapToHostOperations(t *testing.T) {
	g := newTestGroup(t, "s3cret")
	g.autoApprove()
	alice := g.join(t, "alice", "alice")
	g.join(t, "bob", "bob")

	admin := NewAdmin(g.net.NewPeerWithID("admin"), "s3cret")
	require.NoError(t, admin.Connect(context.Background(), g.host.ID()))
	require.True(t, admin.Authenticated())

	kicked := collect[KickedEvent](alice.Events(), EventKicked)

	admin.AddBannedWord("spam")
	assert.Equal(t, []string{"spam"}, g.host.BannedWords())
	admin.RemoveBannedWord("spam")
	assert.Empty(t, g.host.BannedWords())

	admin.KickClient("alice", "misbehaving")
	require.Len(t, *kicked, 1)
	assert.Equal(t, "misbehaving", (*kicked)[0].Reason)
	assert.Len(t, g.host.Members(), 1)

	admin.BanClient("bob")
	assert.True(t, g.host.IsBanned("bob"))
	assert.Empty(t, g.host.Members())
	admin.UnbanClient("bob")
	assert.False(t, g.host.IsBanned("bob"))

	shutdown := collect[ShutdownEvent](g.host.Events(), EventShutdown)
	admin.ShutdownGroup()
	assert.Len(t, *shutdown, 1)
}

func TestAdminEnvelopeFromUnauthenticatedPeerIsRejected(t *testing.T) {
	g := newTestGroup(t, "s3cret")
	g.autoApprove()
	g.join(t, "alice", "alice")

	hostErrs := collect[ErrorEvent](g.host.Events(), EventError)

	// A member forging an admin command does not get moderation powers.
	raw := g.net.NewPeerWithID("mallory")
	conn, err := raw.Connect(context.Background(), g.host.ID())
	require.NoError(t, err)
	require.NoError(t, conn.Send(wire.Envelope{Type: wire.KindAdminKickClient, TargetClientID: "alice"}))

	require.Len(t, *hostErrs, 1)
	assert.ErrorIs(t, (*hostErrs)[0].Err, ErrNotAuthorized)
	assert.Len(t, g.host.Members(), 1)
}

func TestAdminDisconnectClearsAuthentication(t *testing.T) {
	g := newTestGroup(t, "s3cret")

	admin := NewAdmin(g.net.NewPeerWithID("admin"), "s3cret")
	require.NoError(t, admin.Connect(context.Background(), g.host.ID()))
	require.True(t, admin.Authenticated())

	admin.Disconnect()
	assert.False(t, admin.Authenticated())

	errs := collect[ErrorEvent](admin.Events(), EventError)
	admin.ShutdownGroup()
	require.Len(t, *errs, 1)
	assert.ErrorIs(t, (*errs)[0].Err, ErrNotAuthorized)
}

func TestMultipleConcurrentAdmins(t *testing.T) {
	g := newTestGroup(t, "s3cret")
	g.autoApprove()
	g.join(t, "alice", "alice")
	g.join(t, "bob", "bob")

	first := NewAdmin(g.net.NewPeerWithID("admin1"), "s3cret")
	second := NewAdmin(g.net.NewPeerWithID("admin2"), "s3cret")
	require.NoError(t, first.Connect(context.Background(), g.host.ID()))
	require.NoError(t, second.Connect(context.Background(), g.host.ID()))

	first.KickClient("alice", "")
	second.KickClient("bob", "")
	assert.Empty(t, g.host.Members())
}
