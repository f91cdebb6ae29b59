package group

import (
	"github.com/dkeye/Gather/internal/domain"
	"github.com/dkeye/Gather/internal/events"
)

// Event types shared by all roles. Every role publishes on its own
// Dispatcher; payload types are listed next to each constant.
const (
	EventConnected          events.Type = "connected"           // ConnectedEvent
	EventDisconnected       events.Type = "disconnected"        // DisconnectedEvent
	EventJoinRequest        events.Type = "join_request"        // JoinRequestEvent (host)
	EventJoinApproved       events.Type = "join_approved"       // JoinApprovedEvent (client)
	EventJoinRejected       events.Type = "join_rejected"       // JoinRejectedEvent
	EventBannedJoinAttempt  events.Type = "banned_join_attempt" // BannedJoinAttemptEvent (host)
	EventMemberJoined       events.Type = "member_joined"       // MemberEvent (host)
	EventMemberLeft         events.Type = "member_left"         // MemberEvent (host)
	EventMemberList         events.Type = "member_list"         // MemberListEvent
	EventMessage            events.Type = "message"             // MessageEvent
	EventPrivateMessage     events.Type = "private_message"     // MessageEvent
	EventMessageCensored    events.Type = "message_censored"    // CensoredEvent (host)
	EventNicknameChanged    events.Type = "nickname_changed"    // NicknameChangedEvent
	EventKicked             events.Type = "kicked"              // KickedEvent
	EventBanned             events.Type = "banned"              // PeerEvent (host)
	EventUnbanned           events.Type = "unbanned"            // PeerEvent (host)
	EventShutdown           events.Type = "shutdown"            // ShutdownEvent
	EventAdminAuthenticated events.Type = "admin_authenticated" // AdminAuthEvent
	EventAdminAuthFailed    events.Type = "admin_auth_failed"   // AdminAuthEvent
	EventError              events.Type = "error"               // ErrorEvent
)

type ConnectedEvent struct {
	PeerID domain.PeerID
}

type DisconnectedEvent struct {
	PeerID domain.PeerID
}

// JoinRequestEvent delegates the join decision to the embedding
// application. Exactly one of Approve or Reject must be called; extra
// calls are ignored.
type JoinRequestEvent struct {
	PeerID   domain.PeerID
	Nickname string
	Approve  func()
	Reject   func(reason string)
}

type JoinApprovedEvent struct {
	Nickname string
}

type JoinRejectedEvent struct {
	PeerID domain.PeerID
	Reason string
}

type BannedJoinAttemptEvent struct {
	PeerID domain.PeerID
}

type MemberEvent struct {
	Member domain.Member
}

type MemberListEvent struct {
	Members []domain.Member
}

type MessageEvent struct {
	Text         string
	From         domain.PeerID
	FromNickname string
}

// CensoredEvent reports that censoring altered an outgoing payload. The
// censored form is what was transmitted; this event is observability
// only.
type CensoredEvent struct {
	From     domain.PeerID
	Original string
	Censored string
}

type NicknameChangedEvent struct {
	PeerID      domain.PeerID
	OldNickname string
	NewNickname string
}

type KickedEvent struct {
	PeerID domain.PeerID
	Reason string
}

type PeerEvent struct {
	PeerID domain.PeerID
}

type ShutdownEvent struct{}

type AdminAuthEvent struct {
	PeerID domain.PeerID
	Reason string
}

type ErrorEvent struct {
	Op  string
	Err error
}
