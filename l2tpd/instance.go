package l2tpd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
)

// TEIMapping maps a terminal endpoint identifier onto a pseudowire
// subchannel, advertised to the peer in the ALTCRQ.
type TEIMapping struct {
	TEI        uint8
	Subchannel uint8
}

// Config carries the daemon-level protocol settings.
type Config struct {
	// HostName is advertised in the SCCRP Host Name AVP.
	HostName string
	// RouterID is advertised in the SCCRP Router ID AVP.
	RouterID uint32
	// LocalIP is the transport address advertised in the TCRQ.
	LocalIP net.IP
	// SAPIs is the signaling SAPI list advertised in the TCRQ.
	SAPIs []uint8
	// TEIMap is the TEI-to-subchannel map advertised in the ALTCRQ.
	TEIMap []TEIMapping

	// RetryTimeout is the initial control retransmission timeout.
	RetryTimeout time.Duration
	// MaxRetries bounds control message retransmissions.
	MaxRetries int
	// AckDelay is the delayed acknowledgement timeout.
	AckDelay time.Duration
	// HelloTimeout is the idle keepalive interval, zero to disable.
	HelloTimeout time.Duration
}

// DefaultConfig returns the settings matching the deployed equipment.
func DefaultConfig() Config {
	return Config{
		HostName: "BSC",
		RouterID: 0x2342,
		SAPIs:    []uint8{0, 10, 11, 12, 62},
		TEIMap:   []TEIMapping{{TEI: 0, Subchannel: 0}, {TEI: 62, Subchannel: 62}},
	}
}

func (cfg *Config) transportConfig() transportConfig {
	xcfg := defaultTransportConfig()
	if cfg.RetryTimeout > 0 {
		xcfg.retryTimeout = cfg.RetryTimeout
	}
	if cfg.MaxRetries > 0 {
		xcfg.maxRetries = cfg.MaxRetries
	}
	if cfg.AckDelay > 0 {
		xcfg.ackDelay = cfg.AckDelay
	}
	xcfg.helloTimeout = cfg.HelloTimeout
	return xcfg
}

// Transport Configuration AVP framing bytes.  The leading parameter
// block and the trailer are fixed values the peer expects verbatim.
var (
	tcHeader  = []byte{0x00, 0x19, 0x01, 0x1f}
	tcTrailer = []byte{0x00, 0x01, 0x05, 0x05, 0xb9}
)

// encodeTransportCfg builds the Transport Configuration AVP value:
// framing header, SAPI count and list, local IPv4 address, trailer.
func encodeTransportCfg(cfg *Config) []byte {
	b := make([]byte, 0, len(tcHeader)+1+len(cfg.SAPIs)+4+len(tcTrailer))
	b = append(b, tcHeader...)
	b = append(b, uint8(len(cfg.SAPIs)))
	b = append(b, cfg.SAPIs...)
	if ip := cfg.LocalIP.To4(); ip != nil {
		b = append(b, ip...)
	} else {
		b = append(b, 0, 0, 0, 0)
	}
	return append(b, tcTrailer...)
}

// encodeTeiMap builds the TEI-to-Subchannel Map AVP value: an entry
// count followed by one three-octet entry per mapping.
func encodeTeiMap(mappings []TEIMapping) []byte {
	b := make([]byte, 0, 1+3*len(mappings))
	b = append(b, uint8(len(mappings)))
	for _, m := range mappings {
		b = append(b, m.TEI, m.Subchannel, 0)
	}
	return b
}

// Instance is the top level of the control plane engine: it owns the
// event loop, dispatches inbound datagrams to control connections and
// sessions, and exposes the daemon-facing API.  The public methods are
// safe for concurrent use; everything else runs on the event loop.
type Instance struct {
	logger log.Logger
	r      *reactor
	cfg    Config
	xcfg   transportConfig
	stats  *statsSet
	writer PacketWriter

	eventHandlers []EventHandler
	dataHandler   DataHandler

	// conns is keyed by peer network address: control messages carry a
	// zero wire connection ID, so the peer's address is the only
	// routing key available.
	conns    map[string]*connection
	sessions map[uint32]*session

	nextConnID uint32
	nextSessID uint32

	closed bool
}

// NewInstance creates a daemon instance.  writer transmits datagrams
// towards peers; reg may be nil to skip metrics registration.
func NewInstance(logger log.Logger, cfg Config, writer PacketWriter, reg prometheus.Registerer) *Instance {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Instance{
		logger:     logger,
		r:          newReactor(),
		cfg:        cfg,
		xcfg:       cfg.transportConfig(),
		stats:      newStatsSet(reg),
		writer:     writer,
		conns:      make(map[string]*connection),
		sessions:   make(map[uint32]*session),
		nextConnID: 1,
		nextSessID: 1,
	}
}

// RegisterEventHandler adds a receiver for connection and session
// lifecycle events.
func (i *Instance) RegisterEventHandler(h EventHandler) {
	i.r.do(func() {
		i.eventHandlers = append(i.eventHandlers, h)
	})
}

// RegisterDataHandler sets the receiver for inbound session payloads.
func (i *Instance) RegisterDataHandler(h DataHandler) {
	i.r.do(func() {
		i.dataHandler = h
	})
}

func (i *Instance) raiseEvent(event interface{}) {
	for _, h := range i.eventHandlers {
		h.HandleEvent(event)
	}
}

// HandleInbound feeds one received datagram into the engine.  b is the
// L2TP payload with any IP header already stripped; peer is the
// datagram's source address.
func (i *Instance) HandleInbound(b []byte, peer net.Addr) {
	i.r.do(func() {
		i.dispatch(b, peer)
	})
}

func (i *Instance) dispatch(b []byte, peer net.Addr) {
	if i.closed {
		return
	}
	if len(b) < 4 {
		i.stats.countRxInvalid("runt")
		return
	}
	sid := binary.BigEndian.Uint32(b)
	if sid == 0 {
		i.dispatchControl(b[4:], peer)
		return
	}
	s, ok := i.sessions[sid]
	if !ok {
		level.Debug(i.logger).Log(
			"message", "data packet for unknown session",
			"session_id", sid,
			"peer", peer.String())
		i.stats.countRxInvalid("unknown_session")
		return
	}
	s.recvData(b[4:])
}

func (i *Instance) dispatchControl(b []byte, peer net.Addr) {
	m, err := parseControlMessage(b)
	if err != nil {
		level.Error(i.logger).Log(
			"message", "control message dropped",
			"peer", peer.String(),
			"error", err)
		i.stats.countRxInvalid(dropReason(err))
		return
	}

	c, ok := i.conns[peer.String()]
	if !ok {
		if !(m.vendor == vendorIDIetf && m.msgType == avpMsgTypeSccrq) {
			level.Info(i.logger).Log(
				"message", "control message without connection dropped",
				"type", m.name(),
				"peer", peer.String())
			i.stats.countRxInvalid("no_connection")
			return
		}
		c = newConnection(i, peer)
		i.conns[peer.String()] = c
	}
	c.recv(m)
}

// dropReason maps a parse failure onto a metrics label.
func dropReason(err error) string {
	switch {
	case errors.Is(err, errTruncated):
		return "truncated"
	case errors.Is(err, errMalformedFlags):
		return "malformed_flags"
	case errors.Is(err, errUnsupportedVersion):
		return "bad_version"
	case errors.Is(err, errInvalidLength):
		return "invalid_length"
	case errors.Is(err, errDigestMismatch):
		return "digest_mismatch"
	case errors.Is(err, errMissingDigestAVP):
		return "missing_digest"
	case errors.Is(err, errUnexpectedCCID):
		return "bad_ccid"
	}
	return "parse_error"
}

// SendData transmits a payload over an established session.
func (i *Instance) SendData(localID uint32, payload []byte) error {
	var err error
	i.r.do(func() {
		s, ok := i.sessions[localID]
		if !ok {
			err = fmt.Errorf("session %d: %w", localID, errUnknownSession)
			return
		}
		err = s.sendData(payload)
	})
	return err
}

// CloseSession runs an orderly teardown of a session, notifying the
// peer with a CDN.
func (i *Instance) CloseSession(localID uint32) error {
	var err error
	i.r.do(func() {
		s, ok := i.sessions[localID]
		if !ok {
			err = fmt.Errorf("session %d: %w", localID, errUnknownSession)
			return
		}
		s.close()
	})
	return err
}

// Close shuts the instance down: every control connection is stopped
// with a StopCCN and the event loop is terminated.
func (i *Instance) Close() {
	i.r.do(func() {
		if i.closed {
			return
		}
		i.closed = true
		for _, c := range i.conns {
			c.stop()
		}
	})
	i.r.close()
}

func (i *Instance) allocConnID() uint32 {
	id := i.nextConnID
	i.nextConnID++
	if i.nextConnID == 0 {
		i.nextConnID = 1
	}
	return id
}

func (i *Instance) allocSessionID() uint32 {
	for {
		id := i.nextSessID
		i.nextSessID++
		if i.nextSessID == 0 {
			i.nextSessID = 1
		}
		if _, busy := i.sessions[id]; !busy && id != 0 {
			return id
		}
	}
}

func (i *Instance) connByID(id uint32) *connection {
	for _, c := range i.conns {
		if c.localID == id {
			return c
		}
	}
	return nil
}

func (i *Instance) removeConnection(c *connection) {
	delete(i.conns, c.peerAddr.String())
}
