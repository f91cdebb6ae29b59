// Package transport defines the point-to-point connection contract the
// group protocol runs on. Implementations must deliver envelopes reliably
// and in order per connection, and notify on close.
package transport

import (
	"context"
	"errors"

	"github.com/dkeye/Gather/internal/domain"
	"github.com/dkeye/Gather/internal/wire"
)

var (
	ErrClosed      = errors.New("transport closed")
	ErrUnknownPeer = errors.New("unknown peer")
)

// Conn is one open connection to a remote peer.
// Owned by the role that obtained it; the role must Close() it.
type Conn interface {
	// RemoteID identifies the peer on the other end.
	RemoteID() domain.PeerID

	// Send transmits one envelope. It must not block on the remote side;
	// a full or broken connection returns an error instead.
	Send(env wire.Envelope) error

	// OnData registers the callback for inbound envelopes. Callbacks for
	// one connection are never invoked concurrently.
	OnData(fn func(env wire.Envelope))

	// OnClose registers the callback fired exactly once when the
	// connection is torn down, locally or by the remote side.
	OnClose(fn func())

	Close() error
}

// Peer is one endpoint identity on the transport.
type Peer interface {
	// ID is the identifier other peers connect to.
	ID() domain.PeerID

	// Connect opens a connection to target, blocking until the remote
	// side accepted it or ctx expires.
	Connect(ctx context.Context, target domain.PeerID) (Conn, error)

	// OnConnection registers the callback for inbound connections.
	OnConnection(fn func(conn Conn))

	// Close releases the identity and closes every open connection.
	Close() error
}
