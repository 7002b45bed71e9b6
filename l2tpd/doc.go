/*
Package l2tpd implements the control plane of an L2TPv3-over-IP
tunneling daemon for Ericsson base station backhaul.

The Ericsson equipment runs a variant of the RFC3931 control protocol
over raw IP encapsulation (IP protocol 115).  The variant deviates
from the RFC in several ways which this package reproduces for wire
compatibility:

  - control messages are authenticated with HMAC-MD5 over a fixed
    shared key rather than the RFC's nonce-based digest exchange,
  - the Message Digest AVP is always the second AVP of a message,
  - a vendor-specific transport configuration exchange (TCRQ/TCRP and
    ALTCRQ/ALTCRP) follows control connection establishment, carrying
    signaling SAPI lists and TEI-to-subchannel mappings,
  - the wire control connection ID is always zero, so peers are
    distinguished by network address alone.

The package acts as the server side of the exchange: the base station
side initiates the control connection with SCCRQ and brings up
sessions with ICRQ.  Session payload is not interpreted; inbound
payloads are handed to a DataHandler with the session header stripped,
and outbound payloads are framed and sequenced by the engine.

Usage

	import (
		"github.com/telsys/go-l2tpd/config"
		"github.com/telsys/go-l2tpd/l2tpd"
	)

	# Note we're ignoring errors for brevity.

	# Read configuration using the config package.
	# This is optional: you can build your own configuration
	# structures if you prefer.
	cfg, _ := config.LoadFile("./l2tpd.toml")

	# writer is the transmit side of the datagram transport, and
	# implements the PacketWriter interface.
	inst := l2tpd.NewInstance(nil, cfg.Engine, writer, nil)

	# Feed received datagrams into the engine.
	inst.HandleInbound(b, peerAddr)

Concurrency

All protocol state is owned by a single event loop goroutine per
instance.  The exported methods of Instance are safe for concurrent
use; they inject work into the loop and block until it has run.
Event and data handler callbacks are invoked on the loop and must not
call back into the instance's blocking API.

Logging

Package l2tpd uses structured logging.  The logger of choice is the
go-kit logger: https://godoc.org/github.com/go-kit/kit/log, and uses
go-kit levels in order to separate verbose debugging logs from normal
informational output.

Logging emitted at level.Info should be enabled for normal useful
runtime information about the lifetime of connections and sessions.

Logging emitted at level.Debug should be enabled for more verbose
output allowing development debugging of the code or troubleshooting
misbehaving peers.

To disable all logging from package l2tpd, pass in a nil logger.
*/
package l2tpd
