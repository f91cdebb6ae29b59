package group

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Gather/internal/domain"
	"github.com/dkeye/Gather/internal/events"
	"github.com/dkeye/Gather/internal/transport"
	"github.com/dkeye/Gather/internal/wire"
)

// Admin authenticates against a host's admin secret and issues remote
// moderation commands. Commands are guarded locally: nothing is
// transmitted before adminAuthSuccess arrives.
type Admin struct {
	peer   transport.Peer
	secret string
	events *events.Dispatcher

	mu            sync.Mutex
	conn          transport.Conn
	hostID        domain.PeerID
	authenticated bool
}

func NewAdmin(peer transport.Peer, secret string) *Admin {
	return &Admin{peer: peer, secret: secret, events: events.NewDispatcher()}
}

func (a *Admin) ID() domain.PeerID          { return a.peer.ID() }
func (a *Admin) Events() *events.Dispatcher { return a.events }

func (a *Admin) Authenticated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authenticated
}

// Connect opens the admin channel and presents the secret. The result
// arrives as an admin_authenticated or admin_auth_failed event.
func (a *Admin) Connect(ctx context.Context, hostID domain.PeerID) error {
	conn, err := a.peer.Connect(ctx, hostID)
	if err != nil {
		return fmt.Errorf("admin connect %s: %w", hostID, err)
	}

	a.mu.Lock()
	a.conn = conn
	a.hostID = hostID
	a.authenticated = false
	a.mu.Unlock()

	conn.OnClose(func() { a.dropped(hostID) })
	conn.OnData(func(env wire.Envelope) { a.handle(env) })

	log.Info().Str("module", "group.admin").Str("host", string(hostID)).Msg("authenticating")
	a.send(wire.Envelope{Type: wire.KindAdminAuth, Secret: a.secret})
	return nil
}

func (a *Admin) handle(env wire.Envelope) {
	switch env.Type {
	case wire.KindAdminAuthSuccess:
		a.mu.Lock()
		a.authenticated = true
		hostID := a.hostID
		a.mu.Unlock()
		log.Info().Str("module", "group.admin").Str("host", string(hostID)).Msg("authenticated")
		a.events.Publish(EventAdminAuthenticated, AdminAuthEvent{PeerID: hostID})
	case wire.KindAdminAuthFailed:
		a.mu.Lock()
		a.authenticated = false
		hostID := a.hostID
		a.mu.Unlock()
		a.events.Publish(EventAdminAuthFailed, AdminAuthEvent{PeerID: hostID, Reason: env.Reason})
		a.Disconnect()
	case wire.KindMemberList:
		a.events.Publish(EventMemberList, MemberListEvent{Members: env.List})
	default:
		a.events.Publish(EventError, ErrorEvent{
			Op:  "handle",
			Err: fmt.Errorf("%w: %q", ErrUnknownEnvelope, env.Type),
		})
	}
}

func (a *Admin) KickClient(id domain.PeerID, reason string) {
	a.command("adminKickClient", wire.Envelope{Type: wire.KindAdminKickClient, TargetClientID: id, Reason: reason})
}

func (a *Admin) BanClient(id domain.PeerID) {
	a.command("adminBanClient", wire.Envelope{Type: wire.KindAdminBanClient, TargetClientID: id})
}

func (a *Admin) UnbanClient(id domain.PeerID) {
	a.command("adminUnbanClient", wire.Envelope{Type: wire.KindAdminUnbanClient, TargetClientID: id})
}

func (a *Admin) AddBannedWord(word string) {
	a.command("adminAddBannedWord", wire.Envelope{Type: wire.KindAdminAddBannedWord, Word: word})
}

func (a *Admin) RemoveBannedWord(word string) {
	a.command("adminRemoveBannedWord", wire.Envelope{Type: wire.KindAdminRemoveBannedWord, Word: word})
}

func (a *Admin) ShutdownGroup() {
	a.command("adminShutdownGroup", wire.Envelope{Type: wire.KindAdminShutdownGroup})
}

// Disconnect drops the admin channel; authentication never survives the
// connection.
func (a *Admin) Disconnect() {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.authenticated = false
	a.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (a *Admin) command(op string, env wire.Envelope) {
	a.mu.Lock()
	authenticated := a.authenticated
	a.mu.Unlock()
	if !authenticated {
		log.Warn().Str("module", "group.admin").Str("op", op).Msg("command before auth")
		a.events.Publish(EventError, ErrorEvent{
			Op:  op,
			Err: fmt.Errorf("%w: %s", ErrNotAuthorized, op),
		})
		return
	}
	a.send(env)
}

func (a *Admin) send(env wire.Envelope) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		a.events.Publish(EventError, ErrorEvent{Op: "send", Err: ErrNotConnected})
		return
	}
	if err := conn.Send(env); err != nil {
		log.Error().Err(err).Str("module", "group.admin").Str("type", string(env.Type)).Msg("send failed")
		a.events.Publish(EventError, ErrorEvent{
			Op:  "send",
			Err: fmt.Errorf("send %s: %w", env.Type, err),
		})
	}
}

func (a *Admin) dropped(hostID domain.PeerID) {
	a.mu.Lock()
	wasConnected := a.conn != nil
	a.conn = nil
	a.authenticated = false
	a.mu.Unlock()
	if !wasConnected {
		return
	}
	a.events.Publish(EventDisconnected, DisconnectedEvent{PeerID: hostID})
}
