// Package wire defines the envelopes exchanged between roles. Every
// envelope is a JSON object with a "type" discriminator; the role state
// machines switch on Kind and treat unmatched values as protocol errors.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Gather/internal/domain"
)

// Kind discriminates envelope types on the wire.
type Kind string

const (
	KindJoinRequest    Kind = "joinRequest"
	KindJoinApproved   Kind = "joinApproved"
	KindJoinRejected   Kind = "joinRejected"
	KindMessage        Kind = "message"
	KindPrivateMessage Kind = "privateMessage"
	KindNicknameChange Kind = "nicknameChange"
	KindMemberList     Kind = "memberList"
	KindKicked         Kind = "kicked"
	KindShutdown       Kind = "shutdown"

	KindAdminAuth             Kind = "adminAuth"
	KindAdminAuthSuccess      Kind = "adminAuthSuccess"
	KindAdminAuthFailed       Kind = "adminAuthFailed"
	KindAdminKickClient       Kind = "adminKickClient"
	KindAdminBanClient        Kind = "adminBanClient"
	KindAdminUnbanClient      Kind = "adminUnbanClient"
	KindAdminAddBannedWord    Kind = "adminAddBannedWord"
	KindAdminRemoveBannedWord Kind = "adminRemoveBannedWord"
	KindAdminShutdownGroup    Kind = "adminShutdownGroup"
)

// Envelope carries one protocol message. Only the fields relevant to the
// envelope's Kind are populated; the rest stay at their zero value and are
// omitted from the encoding.
type Envelope struct {
	Type Kind `json:"type"`

	Nickname    string `json:"nickname,omitempty"`
	NewNickname string `json:"newNickname,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Payload     string `json:"payload,omitempty"`
	Word        string `json:"word,omitempty"`
	Secret      string `json:"secret,omitempty"`

	From           domain.PeerID `json:"from,omitempty"`
	To             domain.PeerID `json:"to,omitempty"`
	TargetClientID domain.PeerID `json:"targetClientId,omitempty"`

	List []domain.Member `json:"list,omitempty"`
}

func Encode(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Type, err)
	}
	return b, nil
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}
