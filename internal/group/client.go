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

// Client joins a host's group and exchanges messages with it. Moderation
// is host-enforced; the client transmits payloads as given and receives
// them sanitized.
type Client struct {
	peer   transport.Peer
	events *events.Dispatcher

	mu       sync.Mutex
	conn     transport.Conn
	hostID   domain.PeerID
	nickname string
}

func NewClient(peer transport.Peer) *Client {
	return &Client{peer: peer, events: events.NewDispatcher()}
}

func (c *Client) ID() domain.PeerID          { return c.peer.ID() }
func (c *Client) Events() *events.Dispatcher { return c.events }

// Nickname returns the sanitized nickname the host last confirmed.
func (c *Client) Nickname() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nickname
}

// Join connects to the host and requests membership under nickname.
// Approval arrives later as a join_approved or join_rejected event.
func (c *Client) Join(ctx context.Context, hostID domain.PeerID, nickname string) error {
	if err := domain.ValidateNickname(nickname); err != nil {
		return err
	}

	conn, err := c.peer.Connect(ctx, hostID)
	if err != nil {
		return fmt.Errorf("join %s: %w", hostID, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.hostID = hostID
	c.mu.Unlock()

	conn.OnClose(func() { c.dropped(hostID) })
	conn.OnData(func(env wire.Envelope) { c.handle(env) })

	log.Info().Str("module", "group.client").Str("host", string(hostID)).Str("nickname", nickname).Msg("joining")
	c.events.Publish(EventConnected, ConnectedEvent{PeerID: hostID})
	c.send(wire.Envelope{Type: wire.KindJoinRequest, Nickname: nickname})
	return nil
}

func (c *Client) handle(env wire.Envelope) {
	switch env.Type {
	case wire.KindJoinApproved:
		c.mu.Lock()
		c.nickname = env.Nickname
		c.mu.Unlock()
		c.events.Publish(EventJoinApproved, JoinApprovedEvent{Nickname: env.Nickname})
	case wire.KindJoinRejected:
		c.events.Publish(EventJoinRejected, JoinRejectedEvent{Reason: env.Reason})
	case wire.KindMessage:
		c.events.Publish(EventMessage, MessageEvent{Text: env.Payload, From: env.From})
	case wire.KindPrivateMessage:
		c.events.Publish(EventPrivateMessage, MessageEvent{Text: env.Payload, From: env.From})
	case wire.KindNicknameChange:
		if env.From == c.ID() {
			c.mu.Lock()
			c.nickname = env.NewNickname
			c.mu.Unlock()
		}
		c.events.Publish(EventNicknameChanged, NicknameChangedEvent{PeerID: env.From, OldNickname: env.Nickname, NewNickname: env.NewNickname})
	case wire.KindMemberList:
		c.events.Publish(EventMemberList, MemberListEvent{Members: env.List})
	case wire.KindKicked:
		c.events.Publish(EventKicked, KickedEvent{Reason: env.Reason})
		c.Disconnect()
	case wire.KindShutdown:
		c.events.Publish(EventShutdown, ShutdownEvent{})
		c.Disconnect()
	default:
		c.events.Publish(EventError, ErrorEvent{
			Op:  "handle",
			Err: fmt.Errorf("%w: %q", ErrUnknownEnvelope, env.Type),
		})
	}
}

// Send broadcasts text to the group through the host.
func (c *Client) Send(text string) {
	c.send(wire.Envelope{Type: wire.KindMessage, Payload: text})
}

// SendPrivate asks the host to deliver text to one member.
func (c *Client) SendPrivate(target domain.PeerID, text string) {
	c.send(wire.Envelope{Type: wire.KindPrivateMessage, Payload: text, To: target})
}

// ChangeNickname submits a new nickname; the host confirms it via the
// nickname_changed broadcast.
func (c *Client) ChangeNickname(nickname string) {
	c.send(wire.Envelope{Type: wire.KindNicknameChange, NewNickname: nickname})
}

// Disconnect closes the connection to the host. Calling it while not
// connected is a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) send(env wire.Envelope) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.events.Publish(EventError, ErrorEvent{Op: "send", Err: ErrNotConnected})
		return
	}
	if err := conn.Send(env); err != nil {
		log.Error().Err(err).Str("module", "group.client").Str("type", string(env.Type)).Msg("send failed")
		c.events.Publish(EventError, ErrorEvent{
			Op:  "send",
			Err: fmt.Errorf("send %s: %w", env.Type, err),
		})
	}
}

func (c *Client) dropped(hostID domain.PeerID) {
	c.mu.Lock()
	wasConnected := c.conn != nil
	c.conn = nil
	c.mu.Unlock()
	if !wasConnected {
		return
	}
	log.Info().Str("module", "group.client").Str("host", string(hostID)).Msg("disconnected")
	c.events.Publish(EventDisconnected, DisconnectedEvent{PeerID: hostID})
}
