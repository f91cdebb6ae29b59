// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxNicknameLen = 36

var (
	ErrNicknameTooLong = errors.New("nickname too long")
	ErrNicknameEmpty   = errors.New("nickname empty")
)

// PeerID is the opaque identifier of one endpoint on the transport.
type PeerID string

// Member is a participant whose join was approved.
type Member struct {
	ID       PeerID `json:"id"`
	Nickname string `json:"nickname"`
}

func ValidateNickname(nickname string) error {
	if len(nickname) == 0 {
		return ErrNicknameEmpty
	}
	if len(nickname) > MaxNicknameLen {
		return ErrNicknameTooLong
	}
	return nil
}
