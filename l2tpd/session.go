package l2tpd

import (
	"encoding/binary"
	"fmt"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// Default L2-specific sublayer: one flag octet and a 24 bit sequence
// number.
const (
	dataSublayerLen  = 4
	dataSublayerBitS = 0x40000000
	dataSeqMask      = 0x00ffffff
)

// session is one pseudowire session on a control connection.
// Sessions are indexed instance-wide by local session ID; the owning
// connection is referenced by its connection ID rather than held
// directly, so a session outliving a connection teardown race cannot
// reach freed connection state.
//
// All methods run on the owning instance's event loop.
type session struct {
	logger log.Logger
	inst   *Instance
	connID uint32

	// localID is the session ID we allocated and sent in the ICRP.
	// peerID arrived in the Local Session ID AVP of the ICRQ.
	localID uint32
	peerID  uint32

	remoteEndID []byte
	pwType      uint16

	fsm fsm

	// Data plane sequence state, 24 bit values reset when the session
	// is established.
	txSeq, rxSeq uint32

	up       bool
	closeErr error
}

// newSession builds the session state for a received ICRQ.
func newSession(c *connection, m *controlMessage) (*session, error) {
	peerID, err := findUint32Avp(m.avps, vendorIDIetf, avpTypeLocalSessionID)
	if err != nil {
		return nil, err
	}

	s := &session{
		inst:    c.inst,
		connID:  c.localID,
		localID: c.inst.allocSessionID(),
		peerID:  peerID,
	}
	if reid, err := findBytesAvp(m.avps, vendorIDIetf, avpTypeRemoteEndID); err == nil {
		s.remoteEndID = append([]byte(nil), reid...)
	}
	if pwType, err := findUint16Avp(m.avps, vendorIDIetf, avpTypePseudowireType); err == nil {
		s.pwType = pwType
	}
	s.logger = log.With(c.logger, "session_id", s.localID, "peer_session_id", s.peerID)
	s.fsm = fsm{
		current: "closed",
		table: []transition{
			{from: "closed", events: []string{"icrq"}, cb: s.fsmIcrq, to: "wait-conn"},
			{from: "wait-conn", events: []string{"iccn"}, cb: s.fsmIccn, to: "established"},

			{from: "closed", events: []string{"cdn", "kill"}, cb: s.fsmDown, to: "dead"},
			{from: "wait-conn", events: []string{"cdn", "kill"}, cb: s.fsmDown, to: "dead"},
			{from: "established", events: []string{"cdn", "kill"}, cb: s.fsmDown, to: "dead"},
			{from: "closed", events: []string{"close"}, cb: s.fsmClose, to: "dead"},
			{from: "wait-conn", events: []string{"close"}, cb: s.fsmClose, to: "dead"},
			{from: "established", events: []string{"close"}, cb: s.fsmClose, to: "dead"},
		},
	}
	return s, nil
}

func (s *session) established() bool {
	return s.fsm.state() == "established"
}

func (s *session) conn() *connection {
	return s.inst.connByID(s.connID)
}

// handleMessage drives the session state machine with a received
// session control message.
func (s *session) handleMessage(m *controlMessage) error {
	switch m.msgType {
	case avpMsgTypeIcrq:
		return s.fsm.handleEvent("icrq", m)
	case avpMsgTypeIccn:
		return s.fsm.handleEvent("iccn", m)
	case avpMsgTypeCdn:
		level.Info(s.logger).Log("message", "peer closed session")
		return s.fsm.handleEvent("cdn")
	}
	return fmt.Errorf("unhandled session message %s", m.name())
}

func (s *session) fsmIcrq(args []interface{}) {
	level.Info(s.logger).Log(
		"message", "session requested",
		"remote_end_id", fmt.Sprintf("%q", s.remoteEndID),
		"pseudowire_type", s.pwType)
	if err := s.txIcrp(); err != nil {
		s.kill(err)
	}
}

func (s *session) fsmIccn(args []interface{}) {
	s.txSeq = 0
	s.rxSeq = 0
	s.up = true
	s.inst.stats.sessions.Inc()
	level.Info(s.logger).Log("message", "session established")
	s.inst.raiseEvent(&SessionUpEvent{
		ConnectionID:   s.connID,
		LocalID:        s.localID,
		PeerID:         s.peerID,
		RemoteEndID:    s.remoteEndID,
		PseudowireType: s.pwType,
	})
}

func (s *session) fsmClose(args []interface{}) {
	if err := s.txCdn(); err != nil {
		level.Error(s.logger).Log("message", "CDN transmit failed", "error", err)
	}
	s.fsmDown(args)
}

func (s *session) fsmDown(args []interface{}) {
	if s.up {
		s.up = false
		s.inst.stats.sessions.Dec()
	}
	if c := s.conn(); c != nil {
		c.removeSession(s)
	}
	level.Info(s.logger).Log("message", "session down", "error", s.closeErr)
	s.inst.raiseEvent(&SessionDownEvent{
		ConnectionID: s.connID,
		LocalID:      s.localID,
		PeerID:       s.peerID,
		Err:          s.closeErr,
	})
}

// kill tears the session down without notifying the peer.
func (s *session) kill(err error) {
	s.closeErr = err
	_ = s.fsm.handleEvent("kill")
}

// close runs an orderly local teardown, sending CDN to the peer.
func (s *session) close() {
	_ = s.fsm.handleEvent("close")
}

func (s *session) txIcrp() error {
	m, err := newControlMessage(vendorIDIetf, avpMsgTypeIcrp)
	if err != nil {
		return err
	}
	if err = appendUint32(m, vendorIDIetf, avpTypeLocalSessionID, s.localID, true); err != nil {
		return err
	}
	if err = appendUint32(m, vendorIDIetf, avpTypeRemoteSessionID, s.peerID, true); err != nil {
		return err
	}
	if err = appendUint16(m, vendorIDIetf, avpTypeCircuitStatus, circuitStatusUp, true); err != nil {
		return err
	}
	if err = appendUint16(m, vendorIDIetf, avpTypeL2SpecificSublayer, l2SublayerDefault, true); err != nil {
		return err
	}
	if err = appendUint16(m, vendorIDIetf, avpTypeDataSequencing, dataSequencingAll, true); err != nil {
		return err
	}
	return s.sendCtl(m)
}

func (s *session) txCdn() error {
	m, err := newControlMessage(vendorIDIetf, avpMsgTypeCdn)
	if err != nil {
		return err
	}
	if err = appendUint32(m, vendorIDIetf, avpTypeLocalSessionID, s.localID, true); err != nil {
		return err
	}
	if err = appendUint32(m, vendorIDIetf, avpTypeRemoteSessionID, s.peerID, true); err != nil {
		return err
	}
	return s.sendCtl(m)
}

func (s *session) sendCtl(m *controlMessage) error {
	c := s.conn()
	if c == nil {
		return fmt.Errorf("connection %d gone: %w", s.connID, errUnknownSession)
	}
	return c.xport.send(m)
}

// dataSeqCompare compares two 24 bit data sequence numbers.
func dataSeqCompare(seq1, seq2 uint32) int {
	if seq1 == seq2 {
		return 0
	}
	if (seq1 > seq2 && seq1-seq2 < 0x800000) ||
		(seq1 < seq2 && seq2-seq1 > 0x800000) {
		return 1
	}
	return -1
}

// recvData handles an inbound data packet for the session, b being the
// payload after the leading session ID.
func (s *session) recvData(b []byte) {
	if !s.established() {
		s.inst.stats.countRxInvalid("session_not_established")
		return
	}
	if len(b) < dataSublayerLen {
		s.inst.stats.countRxInvalid("truncated_data")
		return
	}
	sublayer := binary.BigEndian.Uint32(b)
	seq := sublayer & dataSeqMask
	if sublayer&dataSublayerBitS != 0 {
		if dataSeqCompare(seq, s.rxSeq) < 0 {
			level.Debug(s.logger).Log(
				"message", "stale data packet dropped",
				"seq", seq,
				"seq_expected", s.rxSeq)
			s.inst.stats.countRxInvalid("stale_data_seq")
			return
		}
		s.rxSeq = (seq + 1) & dataSeqMask
	}
	s.inst.stats.rxData.Inc()
	if s.inst.dataHandler != nil {
		s.inst.dataHandler.HandleSessionData(s.localID, seq, b[dataSublayerLen:])
	}
}

// sendData transmits a payload over the session's pseudowire.
func (s *session) sendData(payload []byte) error {
	if !s.established() {
		return fmt.Errorf("session %d not established", s.localID)
	}
	c := s.conn()
	if c == nil {
		return fmt.Errorf("connection %d gone: %w", s.connID, errUnknownSession)
	}

	b := make([]byte, 4+dataSublayerLen, 4+dataSublayerLen+len(payload))
	binary.BigEndian.PutUint32(b[0:], s.peerID)
	binary.BigEndian.PutUint32(b[4:], dataSublayerBitS|s.txSeq)
	s.txSeq = (s.txSeq + 1) & dataSeqMask
	b = append(b, payload...)

	s.inst.stats.txData.Inc()
	_, err := s.inst.writer.WriteTo(b, c.peerAddr)
	return err
}
