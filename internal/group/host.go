// Package group implements the group-communication protocol engine: the
// Host that owns membership, routing and moderation, the Client and Admin
// that connect to it, and the Bot command layer.
package group

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Gather/internal/domain"
	"github.com/dkeye/Gather/internal/events"
	"github.com/dkeye/Gather/internal/sanitize"
	"github.com/dkeye/Gather/internal/transport"
	"github.com/dkeye/Gather/internal/wire"
)

var (
	ErrUnknownEnvelope = errors.New("unknown envelope type")
	ErrNotAuthorized   = errors.New("not authorized")
	ErrNotConnected    = errors.New("not connected")
)

// connState tracks one inbound connection: pending, member or admin.
type connState struct {
	conn     transport.Conn
	id       domain.PeerID
	member   bool
	admin    bool
	nickname string
}

// Host owns the canonical group state. All moderation flows, local calls
// and authenticated admin commands alike, end up in the exported
// operations below.
type Host struct {
	peer   transport.Peer
	secret string
	events *events.Dispatcher

	mu      sync.Mutex
	conns   map[transport.Conn]*connState
	members map[domain.PeerID]*connState
	order   []domain.PeerID
	banned  map[domain.PeerID]struct{}
	words   map[string]struct{}
	closed  bool
}

// NewHost creates a host on the given peer identity. adminSecret guards
// the remote administration channel; an empty secret disables it.
func NewHost(peer transport.Peer, adminSecret string) *Host {
	h := &Host{
		peer:    peer,
		secret:  adminSecret,
		events:  events.NewDispatcher(),
		conns:   make(map[transport.Conn]*connState),
		members: make(map[domain.PeerID]*connState),
		banned:  make(map[domain.PeerID]struct{}),
		words:   make(map[string]struct{}),
	}
	peer.OnConnection(h.accept)
	return h
}

func (h *Host) ID() domain.PeerID          { return h.peer.ID() }
func (h *Host) Events() *events.Dispatcher { return h.events }

func (h *Host) accept(conn transport.Conn) {
	st := &connState{conn: conn, id: conn.RemoteID()}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.conns[conn] = st
	h.mu.Unlock()

	conn.OnData(func(env wire.Envelope) { h.handle(st, env) })
	conn.OnClose(func() { h.drop(st) })
	log.Debug().Str("module", "group.host").Str("peer", string(st.id)).Msg("connection accepted")
}

func (h *Host) handle(st *connState, env wire.Envelope) {
	switch env.Type {
	case wire.KindJoinRequest:
		h.handleJoinRequest(st, env)
	case wire.KindMessage:
		h.handleMessage(st, env)
	case wire.KindPrivateMessage:
		h.handlePrivateMessage(st, env)
	case wire.KindNicknameChange:
		h.handleNicknameChange(st, env)
	case wire.KindAdminAuth:
		h.handleAdminAuth(st, env)
	case wire.KindAdminKickClient:
		if h.requireAdmin(st, "adminKickClient") {
			h.Kick(env.TargetClientID, env.Reason)
		}
	case wire.KindAdminBanClient:
		if h.requireAdmin(st, "adminBanClient") {
			h.Ban(env.TargetClientID)
		}
	case wire.KindAdminUnbanClient:
		if h.requireAdmin(st, "adminUnbanClient") {
			h.Unban(env.TargetClientID)
		}
	case wire.KindAdminAddBannedWord:
		if h.requireAdmin(st, "adminAddBannedWord") {
			h.AddBannedWord(env.Word)
		}
	case wire.KindAdminRemoveBannedWord:
		if h.requireAdmin(st, "adminRemoveBannedWord") {
			h.RemoveBannedWord(env.Word)
		}
	case wire.KindAdminShutdownGroup:
		if h.requireAdmin(st, "adminShutdownGroup") {
			h.Close()
		}
	default:
		h.events.Publish(EventError, ErrorEvent{
			Op:  "handle",
			Err: fmt.Errorf("%w: %q from %s", ErrUnknownEnvelope, env.Type, st.id),
		})
	}
}

func (h *Host) handleJoinRequest(st *connState, env wire.Envelope) {
	h.mu.Lock()
	_, isBanned := h.banned[st.id]
	h.mu.Unlock()

	if isBanned {
		log.Info().Str("module", "group.host").Str("peer", string(st.id)).Msg("banned peer join rejected")
		h.sendTo(st, wire.Envelope{Type: wire.KindJoinRejected, Reason: "banned"})
		h.events.Publish(EventBannedJoinAttempt, BannedJoinAttemptEvent{PeerID: st.id})
		return
	}

	raw := env.Nickname
	var once sync.Once
	h.events.Publish(EventJoinRequest, JoinRequestEvent{
		PeerID:   st.id,
		Nickname: raw,
		Approve:  func() { once.Do(func() { h.approve(st, raw) }) },
		Reject:   func(reason string) { once.Do(func() { h.reject(st, reason) }) },
	})
}

func (h *Host) approve(st *connState, rawNickname string) {
	nickname := sanitize.Escape(rawNickname)

	h.mu.Lock()
	if h.closed || h.conns[st.conn] != st {
		// The requester disconnected while the decision was pending; a
		// membership entry for it would never be dropped.
		h.mu.Unlock()
		return
	}
	st.member = true
	st.nickname = nickname
	h.members[st.id] = st
	h.order = append(h.order, st.id)
	h.mu.Unlock()

	log.Info().Str("module", "group.host").Str("peer", string(st.id)).Str("nickname", nickname).Msg("join approved")
	h.sendTo(st, wire.Envelope{Type: wire.KindJoinApproved, Nickname: nickname})
	h.events.Publish(EventMemberJoined, MemberEvent{Member: domain.Member{ID: st.id, Nickname: nickname}})
	h.broadcastMemberList()
}

func (h *Host) reject(st *connState, reason string) {
	log.Info().Str("module", "group.host").Str("peer", string(st.id)).Str("reason", reason).Msg("join rejected")
	h.sendTo(st, wire.Envelope{Type: wire.KindJoinRejected, Reason: reason})
	_ = st.conn.Close()
	h.events.Publish(EventJoinRejected, JoinRejectedEvent{PeerID: st.id, Reason: reason})
}

func (h *Host) handleMessage(st *connState, env wire.Envelope) {
	h.mu.Lock()
	member := st.member
	nickname := st.nickname
	words := h.bannedWordsLocked()
	targets := h.memberConnsLocked(st.id)
	h.mu.Unlock()
	if !member {
		return
	}

	text := h.moderate(st.id, env.Payload, words)
	h.events.Publish(EventMessage, MessageEvent{Text: text, From: st.id, FromNickname: nickname})
	out := wire.Envelope{Type: wire.KindMessage, Payload: text, From: st.id}
	for _, target := range targets {
		h.sendTo(target, out)
	}
}

func (h *Host) handlePrivateMessage(st *connState, env wire.Envelope) {
	h.mu.Lock()
	member := st.member
	nickname := st.nickname
	words := h.bannedWordsLocked()
	recipient, present := h.members[env.To]
	h.mu.Unlock()
	if !member {
		return
	}

	text := h.moderate(st.id, env.Payload, words)
	h.events.Publish(EventPrivateMessage, MessageEvent{Text: text, From: st.id, FromNickname: nickname})
	if !present {
		// Private messages to non-members are dropped, not errors.
		return
	}
	h.sendTo(recipient, wire.Envelope{Type: wire.KindPrivateMessage, Payload: text, From: st.id})
}

func (h *Host) handleNicknameChange(st *connState, env wire.Envelope) {
	nickname := sanitize.Escape(env.NewNickname)

	h.mu.Lock()
	if !st.member {
		h.mu.Unlock()
		return
	}
	old := st.nickname
	st.nickname = nickname
	targets := h.memberConnsLocked("")
	h.mu.Unlock()

	h.events.Publish(EventNicknameChanged, NicknameChangedEvent{PeerID: st.id, OldNickname: old, NewNickname: nickname})
	out := wire.Envelope{Type: wire.KindNicknameChange, Nickname: old, NewNickname: nickname, From: st.id}
	for _, target := range targets {
		h.sendTo(target, out)
	}
}

func (h *Host) handleAdminAuth(st *connState, env wire.Envelope) {
	if h.secret == "" || env.Secret != h.secret {
		log.Warn().Str("module", "group.host").Str("peer", string(st.id)).Msg("admin auth failed")
		h.sendTo(st, wire.Envelope{Type: wire.KindAdminAuthFailed, Reason: "invalid secret"})
		_ = st.conn.Close()
		return
	}

	h.mu.Lock()
	st.admin = true
	h.mu.Unlock()
	log.Info().Str("module", "group.host").Str("peer", string(st.id)).Msg("admin authenticated")
	h.sendTo(st, wire.Envelope{Type: wire.KindAdminAuthSuccess})
	h.events.Publish(EventAdminAuthenticated, AdminAuthEvent{PeerID: st.id})
}

// requireAdmin gates the remote moderation commands on a completed
// adminAuth for the sending connection.
func (h *Host) requireAdmin(st *connState, op string) bool {
	h.mu.Lock()
	admin := st.admin
	h.mu.Unlock()
	if admin {
		return true
	}
	log.Warn().Str("module", "group.host").Str("peer", string(st.id)).Str("op", op).Msg("unauthorized admin command")
	h.events.Publish(EventError, ErrorEvent{
		Op:  op,
		Err: fmt.Errorf("%w: %s from %s", ErrNotAuthorized, op, st.id),
	})
	return false
}

// Send broadcasts a host-originated message to every member.
func (h *Host) Send(text string) {
	h.mu.Lock()
	words := h.bannedWordsLocked()
	targets := h.memberConnsLocked("")
	h.mu.Unlock()

	out := h.moderate(h.ID(), text, words)
	h.events.Publish(EventMessage, MessageEvent{Text: out, From: h.ID()})
	env := wire.Envelope{Type: wire.KindMessage, Payload: out, From: h.ID()}
	for _, target := range targets {
		h.sendTo(target, env)
	}
}

// SendPrivate delivers a host-originated message to one member, silently
// dropping it if the target is not currently a member.
func (h *Host) SendPrivate(target domain.PeerID, text string) {
	h.mu.Lock()
	words := h.bannedWordsLocked()
	recipient, present := h.members[target]
	h.mu.Unlock()

	out := h.moderate(h.ID(), text, words)
	h.events.Publish(EventPrivateMessage, MessageEvent{Text: out, From: h.ID()})
	if !present {
		return
	}
	h.sendTo(recipient, wire.Envelope{Type: wire.KindPrivateMessage, Payload: out, From: h.ID()})
}

// Kick disconnects a member. Membership removal itself happens in the
// close handler once the connection drops. An empty reason reads "kicked".
func (h *Host) Kick(id domain.PeerID, reason string) {
	if reason == "" {
		reason = "kicked"
	}
	h.mu.Lock()
	st, ok := h.members[id]
	h.mu.Unlock()
	if !ok {
		return
	}

	log.Info().Str("module", "group.host").Str("peer", string(id)).Str("reason", reason).Msg("kick")
	h.sendTo(st, wire.Envelope{Type: wire.KindKicked, Reason: reason})
	_ = st.conn.Close()
	h.events.Publish(EventKicked, KickedEvent{PeerID: id, Reason: reason})
}

// Ban adds the peer to the ban set and evicts it if currently a member.
// The ban persists until Unban regardless of membership.
func (h *Host) Ban(id domain.PeerID) {
	h.mu.Lock()
	h.banned[id] = struct{}{}
	h.mu.Unlock()

	log.Info().Str("module", "group.host").Str("peer", string(id)).Msg("ban")
	h.Kick(id, "banned")
	h.events.Publish(EventBanned, PeerEvent{PeerID: id})
}

// Unban removes the peer from the ban set. It does not restore
// membership; the peer must join again.
func (h *Host) Unban(id domain.PeerID) {
	h.mu.Lock()
	delete(h.banned, id)
	h.mu.Unlock()

	log.Info().Str("module", "group.host").Str("peer", string(id)).Msg("unban")
	h.events.Publish(EventUnbanned, PeerEvent{PeerID: id})
}

func (h *Host) IsBanned(id domain.PeerID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.banned[id]
	return ok
}

func (h *Host) AddBannedWord(word string) {
	if word == "" {
		return
	}
	h.mu.Lock()
	h.words[strings.ToLower(word)] = struct{}{}
	h.mu.Unlock()
}

func (h *Host) RemoveBannedWord(word string) {
	h.mu.Lock()
	delete(h.words, strings.ToLower(word))
	h.mu.Unlock()
}

func (h *Host) BannedWords() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bannedWordsLocked()
}

// Members returns the current membership in join order.
func (h *Host) Members() []domain.Member {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.memberListLocked()
}

// Close notifies every member, closes all connections and releases the
// host's peer identity. The host is unusable afterwards.
func (h *Host) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	targets := h.memberConnsLocked("")
	conns := make([]transport.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	log.Info().Str("module", "group.host").Int("members", len(targets)).Msg("shutting down group")
	env := wire.Envelope{Type: wire.KindShutdown}
	for _, target := range targets {
		h.sendTo(target, env)
	}
	for _, conn := range conns {
		_ = conn.Close()
	}
	_ = h.peer.Close()
	h.events.Publish(EventShutdown, ShutdownEvent{})
}

func (h *Host) drop(st *connState) {
	h.mu.Lock()
	delete(h.conns, st.conn)
	wasMember := st.member
	st.member = false
	st.admin = false
	if wasMember {
		delete(h.members, st.id)
		for i, id := range h.order {
			if id == st.id {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	}
	closed := h.closed
	h.mu.Unlock()

	if !wasMember || closed {
		return
	}
	log.Info().Str("module", "group.host").Str("peer", string(st.id)).Msg("member left")
	h.events.Publish(EventDisconnected, DisconnectedEvent{PeerID: st.id})
	h.events.Publish(EventMemberLeft, MemberEvent{Member: domain.Member{ID: st.id, Nickname: st.nickname}})
	h.broadcastMemberList()
}

// moderate escapes then censors one outgoing payload, firing the
// censorship notification when the filter changed it.
func (h *Host) moderate(from domain.PeerID, payload string, words []string) string {
	text := sanitize.Escape(payload)
	censored, changed := sanitize.Censor(text, words)
	if changed {
		h.events.Publish(EventMessageCensored, CensoredEvent{From: from, Original: text, Censored: censored})
	}
	return censored
}

func (h *Host) broadcastMemberList() {
	h.mu.Lock()
	list := h.memberListLocked()
	targets := h.memberConnsLocked("")
	h.mu.Unlock()

	env := wire.Envelope{Type: wire.KindMemberList, List: list}
	for _, target := range targets {
		h.sendTo(target, env)
	}
}

func (h *Host) sendTo(st *connState, env wire.Envelope) {
	if err := st.conn.Send(env); err != nil {
		log.Error().Err(err).Str("module", "group.host").Str("peer", string(st.id)).Str("type", string(env.Type)).Msg("send failed")
		h.events.Publish(EventError, ErrorEvent{
			Op:  "send",
			Err: fmt.Errorf("send %s to %s: %w", env.Type, st.id, err),
		})
	}
}

// memberConnsLocked snapshots member states in join order, skipping
// exclude. Callers send outside the lock.
func (h *Host) memberConnsLocked(exclude domain.PeerID) []*connState {
	out := make([]*connState, 0, len(h.members))
	for _, id := range h.order {
		if id == exclude {
			continue
		}
		if st, ok := h.members[id]; ok {
			out = append(out, st)
		}
	}
	return out
}

func (h *Host) memberListLocked() []domain.Member {
	out := make([]domain.Member, 0, len(h.members))
	for _, id := range h.order {
		if st, ok := h.members[id]; ok {
			out = append(out, domain.Member{ID: id, Nickname: st.nickname})
		}
	}
	return out
}

func (h *Host) bannedWordsLocked() []string {
	out := make([]string, 0, len(h.words))
	for w := range h.words {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}
