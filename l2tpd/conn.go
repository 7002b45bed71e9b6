package l2tpd

import (
	"errors"
	"fmt"
	"net"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// connection is one control connection, keyed by the peer's network
// address.  The peer initiates with SCCRQ; we respond with SCCRP and,
// once the peer confirms with SCCCN, run the vendor transport
// configuration exchange (TCRQ/TCRP then ALTCRQ/ALTCRP) before
// declaring the connection up and admitting sessions.
//
// All methods run on the owning instance's event loop.
type connection struct {
	logger   log.Logger
	inst     *Instance
	peerAddr net.Addr

	// localID is the connection ID we assigned and advertised in the
	// SCCRP.  peerID is the one the peer advertised in its SCCRQ.
	localID uint32
	peerID  uint32

	peerRouterID uint32

	xport *transport
	fsm   fsm

	// Local session IDs owned by this connection.  The session
	// instances themselves live in the instance-wide index.
	sessionIDs map[uint32]struct{}

	up           bool
	downReported bool
	closeErr     error
}

func newConnection(inst *Instance, peerAddr net.Addr) *connection {
	c := &connection{
		inst:       inst,
		peerAddr:   peerAddr,
		localID:    inst.allocConnID(),
		sessionIDs: make(map[uint32]struct{}),
	}
	c.logger = log.With(inst.logger, "connection_id", c.localID, "peer", peerAddr.String())
	c.xport = newTransport(c.logger, inst.r, inst.xcfg, inst.stats,
		c.txBytes, c.handleMessage, c.transportDown)
	c.xport.drained = c.transportDrained
	c.fsm = fsm{
		current: "closed",
		table: []transition{
			{from: "closed", events: []string{"sccrq"}, cb: c.fsmSccrq, to: "wait-ctl-conn"},
			{from: "wait-ctl-conn", events: []string{"scccn"}, cb: c.fsmScccn, to: "wait-tcrp"},
			{from: "wait-tcrp", events: []string{"tcrp"}, cb: c.fsmTcrp, to: "wait-altcrp"},
			{from: "wait-altcrp", events: []string{"altcrp"}, cb: c.fsmAltcrp, to: "established"},

			{from: "closed", events: []string{"stopccn", "kill", "close"}, cb: c.fsmDown, to: "dead"},
			{from: "wait-ctl-conn", events: []string{"close"}, cb: c.fsmClose, to: "cleanup"},
			{from: "wait-tcrp", events: []string{"close"}, cb: c.fsmClose, to: "cleanup"},
			{from: "wait-altcrp", events: []string{"close"}, cb: c.fsmClose, to: "cleanup"},
			{from: "established", events: []string{"close"}, cb: c.fsmClose, to: "cleanup"},
			{from: "wait-ctl-conn", events: []string{"stopccn", "kill"}, cb: c.fsmDown, to: "dead"},
			{from: "wait-tcrp", events: []string{"stopccn", "kill"}, cb: c.fsmDown, to: "dead"},
			{from: "wait-altcrp", events: []string{"stopccn", "kill"}, cb: c.fsmDown, to: "dead"},
			{from: "established", events: []string{"stopccn", "kill"}, cb: c.fsmDown, to: "dead"},

			{from: "cleanup", events: []string{"finished", "stopccn", "kill", "close"}, cb: c.fsmDown, to: "dead"},
		},
	}
	return c
}

func (c *connection) established() bool {
	return c.fsm.state() == "established"
}

func (c *connection) txBytes(b []byte) error {
	_, err := c.inst.writer.WriteTo(b, c.peerAddr)
	return err
}

// recv feeds a parsed control message into the reliability layer,
// which hands it back via handleMessage once in sequence.
func (c *connection) recv(m *controlMessage) {
	c.xport.recv(m)
}

// handleMessage dispatches an in-sequence control message.
// Session establishment and teardown messages are routed by session
// ID; everything else drives the connection state machine.
func (c *connection) handleMessage(m *controlMessage) {
	c.inst.stats.rxControl.WithLabelValues(m.name()).Inc()
	level.Debug(c.logger).Log(
		"message", "rx control",
		"type", m.name(),
		"ns", m.ns,
		"nr", m.nr)

	var err error
	if m.vendor == vendorIDIetf {
		switch m.msgType {
		case avpMsgTypeSccrq:
			err = c.fsm.handleEvent("sccrq", m)
		case avpMsgTypeScccn:
			err = c.fsm.handleEvent("scccn", m)
		case avpMsgTypeStopccn:
			level.Info(c.logger).Log("message", "peer stopped control connection")
			err = c.fsm.handleEvent("stopccn")
		case avpMsgTypeIcrq:
			err = c.handleIcrq(m)
		case avpMsgTypeIccn, avpMsgTypeCdn:
			// Session scoped failures drop the message: an unknown or
			// out-of-order session reference never tears down the
			// connection or its other sessions.
			if serr := c.routeSessionMessage(m); serr != nil {
				reason := "bad_session_state"
				if errors.Is(serr, errUnknownSession) {
					reason = "unknown_session"
				}
				level.Info(c.logger).Log(
					"message", "session control message dropped",
					"type", m.name(),
					"error", serr)
				c.inst.stats.countRxInvalid(reason)
			}
		default:
			err = fmt.Errorf("unhandled message %s in state %s", m.name(), c.fsm.state())
		}
	} else {
		switch m.msgType {
		case avpMsgTypeTcrp:
			err = c.fsm.handleEvent("tcrp", m)
		case avpMsgTypeAltcrp:
			err = c.fsm.handleEvent("altcrp", m)
		default:
			err = fmt.Errorf("unhandled message %s in state %s", m.name(), c.fsm.state())
		}
	}
	if err != nil {
		level.Error(c.logger).Log(
			"message", "control message rejected",
			"type", m.name(),
			"error", err)
		c.abort(err)
	}
}

func (c *connection) fsmSccrq(args []interface{}) {
	m := args[0].(*controlMessage)
	if peerID, err := findUint32Avp(m.avps, vendorIDIetf, avpTypeAssignedConnID); err == nil {
		c.peerID = peerID
	}
	if routerID, err := findUint32Avp(m.avps, vendorIDIetf, avpTypeRouterID); err == nil {
		c.peerRouterID = routerID
	}
	level.Info(c.logger).Log(
		"message", "control connection requested",
		"peer_connection_id", c.peerID,
		"peer_router_id", fmt.Sprintf("0x%x", c.peerRouterID))
	if err := c.txSccrp(); err != nil {
		c.abort(err)
	}
}

func (c *connection) fsmScccn(args []interface{}) {
	level.Info(c.logger).Log("message", "control connection confirmed, starting transport configuration")
	if err := c.txTcrq(); err != nil {
		c.abort(err)
	}
}

func (c *connection) fsmTcrp(args []interface{}) {
	if err := c.txAltcrq(); err != nil {
		c.abort(err)
	}
}

func (c *connection) fsmAltcrp(args []interface{}) {
	level.Info(c.logger).Log("message", "control connection established")
	c.xport.enableHello()
	c.up = true
	c.inst.stats.connections.Inc()
	c.inst.raiseEvent(&ConnectionUpEvent{
		PeerAddr:   c.peerAddr,
		LocalID:    c.localID,
		PeerID:     c.peerID,
		PeerRouter: c.peerRouterID,
	})
}

// fsmClose runs a locally initiated teardown: release the sessions,
// notify the peer with a StopCCN and wait in cleanup until the peer
// acknowledges it or the retry budget runs out.
func (c *connection) fsmClose(args []interface{}) {
	c.killSessions()
	c.reportDown()
	if err := c.txStopccn(); err != nil {
		level.Error(c.logger).Log("message", "StopCCN transmit failed", "error", err)
		_ = c.fsm.handleEvent("finished")
	}
}

// transportDrained finishes a cleanup once the peer has acknowledged
// our StopCCN.
func (c *connection) transportDrained() {
	if c.fsm.state() == "cleanup" {
		level.Debug(c.logger).Log("message", "StopCCN acknowledged")
		_ = c.fsm.handleEvent("finished")
	}
}

func (c *connection) killSessions() {
	for id := range c.sessionIDs {
		if s, ok := c.inst.sessions[id]; ok {
			s.kill(c.closeErr)
		}
	}
}

// reportDown rolls the gauges back and raises the down event, exactly
// once.  A local teardown reports here while the connection lingers in
// cleanup retransmitting its StopCCN.
func (c *connection) reportDown() {
	if c.downReported {
		return
	}
	c.downReported = true
	if c.up {
		c.up = false
		c.inst.stats.connections.Dec()
	}
	if c.closeErr != nil {
		c.inst.stats.connFailures.Inc()
	}
	level.Info(c.logger).Log("message", "control connection down", "error", c.closeErr)
	c.inst.raiseEvent(&ConnectionDownEvent{
		PeerAddr: c.peerAddr,
		LocalID:  c.localID,
		PeerID:   c.peerID,
		Err:      c.closeErr,
	})
}

// fsmDown drops connection state without notifying the peer.
func (c *connection) fsmDown(args []interface{}) {
	c.killSessions()
	c.reportDown()
	c.xport.close()
	c.inst.removeConnection(c)
}

// abort tears the connection down after a protocol violation or a
// transport failure.
func (c *connection) abort(err error) {
	c.closeErr = err
	_ = c.fsm.handleEvent("close")
}

// stop runs an orderly local shutdown.
func (c *connection) stop() {
	_ = c.fsm.handleEvent("close")
}

// transportDown handles an unrecoverable transport failure.  There is
// no point sending a StopCCN through a transport the peer has stopped
// acknowledging, so the connection dies immediately.
func (c *connection) transportDown(err error) {
	if c.closeErr == nil {
		c.closeErr = err
	}
	_ = c.fsm.handleEvent("kill")
}

// handleIcrq admits a new session on an established connection.
func (c *connection) handleIcrq(m *controlMessage) error {
	if !c.established() {
		return fmt.Errorf("ICRQ in state %s", c.fsm.state())
	}
	s, err := newSession(c, m)
	if err != nil {
		return err
	}
	c.sessionIDs[s.localID] = struct{}{}
	c.inst.sessions[s.localID] = s
	return s.handleMessage(m)
}

// routeSessionMessage hands ICCN/CDN to the owning session, resolved
// by the Remote Session ID AVP which carries our local session ID.
func (c *connection) routeSessionMessage(m *controlMessage) error {
	sid, err := findUint32Avp(m.avps, vendorIDIetf, avpTypeRemoteSessionID)
	if err != nil {
		// The Ericsson ICCN carries only the Local Session ID AVP;
		// resolve via the peer session ID index instead.
		psid, perr := findUint32Avp(m.avps, vendorIDIetf, avpTypeLocalSessionID)
		if perr != nil {
			return err
		}
		for id := range c.sessionIDs {
			if s, ok := c.inst.sessions[id]; ok && s.peerID == psid {
				return s.handleMessage(m)
			}
		}
		return fmt.Errorf("peer session %d: %w", psid, errUnknownSession)
	}
	s, ok := c.inst.sessions[sid]
	if !ok {
		return fmt.Errorf("session %d: %w", sid, errUnknownSession)
	}
	if _, owned := c.sessionIDs[sid]; !owned {
		return fmt.Errorf("session %d not on this connection: %w", sid, errUnknownSession)
	}
	return s.handleMessage(m)
}

// removeSession drops a session from the connection and instance
// indexes.  Called by the session's own cleanup.
func (c *connection) removeSession(s *session) {
	delete(c.sessionIDs, s.localID)
	delete(c.inst.sessions, s.localID)
}

func (c *connection) txSccrp() error {
	m, err := newControlMessage(vendorIDIetf, avpMsgTypeSccrp)
	if err != nil {
		return err
	}
	if err = appendUint32(m, vendorIDIetf, avpTypeAssignedConnID, c.localID, true); err != nil {
		return err
	}
	// Protocol version capability: version 3 only
	verCap := []byte{0, 0, 0, 3, 0, 0, 0, 0, 0, 0, 0, 0}
	a, err := newAvp(vendorIDEricsson, avpTypeEricProtoVersion, verCap, true)
	if err != nil {
		return err
	}
	m.appendAvp(a)
	if a, err = newAvp(vendorIDIetf, avpTypeHostName, []byte(c.inst.cfg.HostName), false); err != nil {
		return err
	}
	m.appendAvp(a)
	if err = appendUint32(m, vendorIDIetf, avpTypeRouterID, c.inst.cfg.RouterID, false); err != nil {
		return err
	}
	if err = appendUint16(m, vendorIDIetf, avpTypePseudowireCaps, pseudowireCapsDefault, true); err != nil {
		return err
	}
	return c.xport.send(m)
}

func (c *connection) txTcrq() error {
	m, err := newControlMessage(vendorIDEricsson, avpMsgTypeTcrq)
	if err != nil {
		return err
	}
	a, err := newAvp(vendorIDEricsson, avpTypeEricTransportCfg, encodeTransportCfg(&c.inst.cfg), true)
	if err != nil {
		return err
	}
	m.appendAvp(a)
	return c.xport.send(m)
}

func (c *connection) txAltcrq() error {
	m, err := newControlMessage(vendorIDEricsson, avpMsgTypeAltcrq)
	if err != nil {
		return err
	}
	a, err := newAvp(vendorIDEricsson, avpTypeEricTeiToSCMap, encodeTeiMap(c.inst.cfg.TEIMap), true)
	if err != nil {
		return err
	}
	m.appendAvp(a)
	return c.xport.send(m)
}

func (c *connection) txStopccn() error {
	m, err := newControlMessage(vendorIDIetf, avpMsgTypeStopccn)
	if err != nil {
		return err
	}
	if err = appendUint32(m, vendorIDIetf, avpTypeAssignedConnID, c.localID, true); err != nil {
		return err
	}
	return c.xport.send(m)
}

func appendUint16(m *controlMessage, vendorID avpVendorID, typ avpType, v uint16, mandatory bool) error {
	a, err := newAvpUint16(vendorID, typ, v, mandatory)
	if err != nil {
		return err
	}
	m.appendAvp(a)
	return nil
}

func appendUint32(m *controlMessage, vendorID avpVendorID, typ avpType, v uint32, mandatory bool) error {
	a, err := newAvpUint32(vendorID, typ, v, mandatory)
	if err != nil {
		return err
	}
	m.appendAvp(a)
	return nil
}
