package group

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Gather/internal/domain"
)

func newTestBot(t *testing.T, g *testGroup) *Bot {
	t.Helper()
	b := NewBot(g.net.NewPeerWithID("bot"))
	require.NoError(t, b.Join(context.Background(), g.host.ID(), "bot"))
	return b
}

func TestBotCommandDispatch(t *testing.T) {
	g := newTestGroup(t, "")
	g.autoApprove()
	b := newTestBot(t, g)
	alice := g.join(t, "alice", "alice")

	var gotArgs []string
	var gotFrom domain.PeerID
	b.OnCommand("roll", func(args []string, from domain.PeerID) {
		gotArgs = args
		gotFrom = from
	})

	alice.Send("/roll 2 d6")
	assert.Equal(t, []string{"2", "d6"}, gotArgs)
	assert.Equal(t, domain.PeerID("alice"), gotFrom)
}

func TestBotQuotedArguments(t *testing.T) {
	g := newTestGroup(t, "")
	g.autoApprove()
	b := newTestBot(t, g)
	alice := g.join(t, "alice", "alice")

	var gotArgs []string
	b.OnCommand("say", func(args []string, _ domain.PeerID) { gotArgs = args })

	alice.Send(`/say "hello there" world`)
	assert.Equal(t, []string{"hello there", "world"}, gotArgs)
}

func TestBotIgnoresPlainMessages(t *testing.T) {
	g := newTestGroup(t, "")
	g.autoApprove()
	b := newTestBot(t, g)
	alice := g.join(t, "alice", "alice")

	called := false
	b.OnCommand("roll", func([]string, domain.PeerID) { called = true })

	alice.Send("roll with it")
	alice.Send("just chatting about /roll")
	alice.Send("/unregistered")
	assert.False(t, called)
}

func TestBotPanickingHandlerSurfacesError(t *testing.T) {
	g := newTestGroup(t, "")
	g.autoApprove()
	b := newTestBot(t, g)
	alice := g.join(t, "alice", "alice")

	errs := collect[ErrorEvent](b.Events(), EventError)
	calls := 0
	b.OnCommand("boom", func([]string, domain.PeerID) { panic("kaput") })
	b.OnCommand("ok", func([]string, domain.PeerID) { calls++ })

	alice.Send("/boom")
	require.Len(t, *errs, 1)

	// The dispatch loop survives a failing handler.
	alice.Send("/ok")
	assert.Equal(t, 1, calls)
}

func TestBotCommandRegistry(t *testing.T) {
	g := newTestGroup(t, "")
	b := NewBot(g.net.NewPeer())

	b.OnCommand("/roll", func([]string, domain.PeerID) {})
	b.OnCommand("help", func([]string, domain.PeerID) {})
	assert.Equal(t, []string{"help", "roll"}, b.Commands())

	b.RemoveCommand("roll")
	assert.Equal(t, []string{"help"}, b.Commands())
}
