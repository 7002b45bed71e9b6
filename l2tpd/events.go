package l2tpd

import "net"

// EventHandler is an interface for receiving daemon events.
type EventHandler interface {
	// HandleEvent is called when an event occurs.
	//
	// The callback is run on the instance's event loop, so it
	// should avoid blocking and must not call back into the
	// instance's synchronous API.
	HandleEvent(event interface{})
}

// ConnectionUpEvent is raised when a control connection has completed
// both the standard triple handshake and the vendor transport
// configuration exchange.
type ConnectionUpEvent struct {
	PeerAddr   net.Addr
	LocalID    uint32
	PeerID     uint32
	PeerRouter uint32
}

// ConnectionDownEvent is raised when a control connection is torn
// down.  Err is nil for an orderly shutdown.
type ConnectionDownEvent struct {
	PeerAddr net.Addr
	LocalID  uint32
	PeerID   uint32
	Err      error
}

// SessionUpEvent is raised when a session has completed the incoming
// call handshake.
type SessionUpEvent struct {
	ConnectionID   uint32
	LocalID        uint32
	PeerID         uint32
	RemoteEndID    []byte
	PseudowireType uint16
}

// SessionDownEvent is raised when a session is torn down.
type SessionDownEvent struct {
	ConnectionID uint32
	LocalID      uint32
	PeerID       uint32
	Err          error
}

// DataHandler receives the payload of inbound data packets for a
// session.  The handoff is the raw pseudowire payload with the session
// header and L2-specific sublayer already stripped.
type DataHandler interface {
	HandleSessionData(localID uint32, seq uint32, payload []byte)
}

// PacketWriter writes raw datagrams towards a peer.  The daemon's
// socket layer implements this over the raw IP transport.
type PacketWriter interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}
