// Package relay implements the brokered peer transport server: every
// peer keeps one websocket to the relay, and logical peer-to-peer
// connections are multiplexed over it as routed frames.
package relay

import (
	"encoding/json"

	"github.com/dkeye/Gather/internal/domain"
)

type FrameType string

const (
	// FrameWelcome tells a freshly registered peer its assigned id.
	FrameWelcome FrameType = "welcome"
	// FrameConnect asks the target peer to open a logical connection.
	FrameConnect FrameType = "connect"
	// FrameAccept confirms a logical connection to the initiator.
	FrameAccept FrameType = "accept"
	// FrameData carries one protocol envelope over a logical connection.
	FrameData FrameType = "data"
	// FrameClose tears down a logical connection.
	FrameClose FrameType = "close"
	// FrameError reports a routing failure back to the sender.
	FrameError FrameType = "error"
)

// Frame is one unit routed by the relay. From is stamped by the relay on
// forwarded frames; clients only fill To and Payload.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      domain.PeerID   `json:"id,omitempty"`
	From    domain.PeerID   `json:"from,omitempty"`
	To      domain.PeerID   `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}
