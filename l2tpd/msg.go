package l2tpd

import (
	"encoding/binary"
	"fmt"
)

const (
	controlHeaderLen = 12

	ctlFlagT        = 0x8000
	ctlFlagL        = 0x4000
	ctlFlagS        = 0x0800
	ctlVersionMask  = 0x000f
	ctlReservedMask = ^uint16(ctlFlagT | ctlFlagL | ctlFlagS | ctlVersionMask)

	protocolVersion = 3
)

// controlMessage is a decoded or under-construction control message.
// The vendor ID scopes the message type: IETF and Ericsson message
// types share numeric values.
type controlMessage struct {
	vendor  avpVendorID
	msgType avpMsgType
	ns, nr  uint16
	avps    []avp
}

// String represents the message as a human-readable string.
// Implements the fmt.Stringer() interface.
var _ fmt.Stringer = (*controlMessage)(nil)

func (m *controlMessage) String() string {
	return fmt.Sprintf("%s ns %d nr %d (%d AVPs)", m.name(), m.ns, m.nr, len(m.avps))
}

func (m *controlMessage) name() string {
	return messageName(m.vendor, m.msgType)
}

func (m *controlMessage) isAck() bool {
	return m.vendor == vendorIDIetf && m.msgType == avpMsgTypeAck
}

// appendAvp adds an AVP to the end of the message.
func (m *controlMessage) appendAvp(a avp) {
	m.avps = append(m.avps, a)
}

// findAvp looks up an AVP within the message.
func (m *controlMessage) findAvp(vendorID avpVendorID, typ avpType) (*avp, bool) {
	return findAvp(m.avps, vendorID, typ)
}

// newControlMessage builds a message skeleton: the Control Message AVP
// followed by a zeroed digest placeholder, in the positions the peer
// requires them.  Callers append further AVPs before transmission.
func newControlMessage(vendor avpVendorID, msgType avpMsgType) (*controlMessage, error) {
	mt, err := newMsgTypeAvp(vendor, msgType)
	if err != nil {
		return nil, err
	}
	digest, err := newDigestAvp()
	if err != nil {
		return nil, err
	}
	return &controlMessage{
		vendor:  vendor,
		msgType: msgType,
		avps:    []avp{mt, digest},
	}, nil
}

// toBytes serializes the message and signs it in place.  ccid is the
// connection ID the peer assigned to us, zero before it has done so.
// The message's ns/nr fields must have been set by the caller.
func (m *controlMessage) toBytes(ccid uint32) ([]byte, error) {
	totalLen := controlHeaderLen + avpsLengthBytes(m.avps)
	if totalLen > 0xffff {
		return nil, fmt.Errorf("%d byte message: %w", totalLen, errValueTooLarge)
	}

	b := make([]byte, controlHeaderLen, totalLen)
	binary.BigEndian.PutUint16(b[0:], ctlFlagT|ctlFlagL|ctlFlagS|protocolVersion)
	binary.BigEndian.PutUint16(b[2:], uint16(totalLen))
	binary.BigEndian.PutUint32(b[4:], ccid)
	binary.BigEndian.PutUint16(b[8:], m.ns)
	binary.BigEndian.PutUint16(b[10:], m.nr)

	for i := range m.avps {
		b = m.avps[i].appendTo(b)
	}

	if err := signMessage(b, controlHeaderLen); err != nil {
		return nil, err
	}
	return b, nil
}

// parseControlMessage decodes and authenticates a control message.
// b is the datagram with the leading zero session ID already stripped.
func parseControlMessage(b []byte) (*controlMessage, error) {
	if len(b) < controlHeaderLen {
		return nil, fmt.Errorf("%d byte control header: %w", len(b), errTruncated)
	}

	flags := binary.BigEndian.Uint16(b[0:])
	if flags&ctlVersionMask != protocolVersion {
		return nil, fmt.Errorf("version %d: %w", flags&ctlVersionMask, errUnsupportedVersion)
	}
	if flags&ctlFlagT == 0 || flags&ctlFlagL == 0 || flags&ctlFlagS == 0 {
		return nil, fmt.Errorf("flags 0x%04x lack T/L/S: %w", flags, errMalformedFlags)
	}
	if flags&ctlReservedMask != 0 {
		return nil, fmt.Errorf("flags 0x%04x have reserved bits set: %w", flags, errMalformedFlags)
	}

	msgLen := int(binary.BigEndian.Uint16(b[2:]))
	if msgLen < controlHeaderLen {
		return nil, fmt.Errorf("message length %d below header length: %w", msgLen, errInvalidLength)
	}
	if msgLen > len(b) {
		return nil, fmt.Errorf("message length %d beyond buffer end: %w", msgLen, errTruncated)
	}
	// Trailing padding beyond the declared length is legal and ignored
	b = b[:msgLen]

	if ccid := binary.BigEndian.Uint32(b[4:]); ccid != 0 {
		return nil, fmt.Errorf("wire connection ID %d: %w", ccid, errUnexpectedCCID)
	}

	m := &controlMessage{
		ns: binary.BigEndian.Uint16(b[8:]),
		nr: binary.BigEndian.Uint16(b[10:]),
	}

	if msgLen == controlHeaderLen {
		// A bare header is a ZLB-style ack with no AVPs and no digest
		m.vendor = vendorIDIetf
		m.msgType = avpMsgTypeAck
		return m, nil
	}

	if err := verifyMessage(b, controlHeaderLen); err != nil {
		return nil, err
	}

	avps, err := parseAVPBuffer(b[controlHeaderLen:])
	if err != nil {
		return nil, err
	}

	first := avps[0]
	switch {
	case first.vendorID == vendorIDIetf && first.avpType == avpTypeMessage:
	case first.vendorID == vendorIDEricsson && first.avpType == avpTypeEricMessage:
	default:
		return nil, fmt.Errorf("first AVP %v is not a Control Message AVP: %w",
			first, errMalformedFlags)
	}
	mt, err := first.decodeUint16()
	if err != nil {
		return nil, err
	}

	m.vendor = first.vendorID
	m.msgType = avpMsgType(mt)
	m.avps = avps
	return m, nil
}
