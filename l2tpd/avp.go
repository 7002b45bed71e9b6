package l2tpd

import (
	"encoding/binary"
	"fmt"
)

const (
	avpHeaderLen = 6
	// avpMaxDataLen is the largest value an AVP can carry: the total
	// AVP length lives in a 10 bit field and includes the header.
	avpMaxDataLen = 0x3ff - avpHeaderLen

	avpFlagMandatory = 0x8000
	avpFlagHidden    = 0x4000
	avpLengthMask    = 0x03ff
)

// avp is a single decoded attribute-value pair.
// The data slice aliases the buffer the AVP was parsed from; callers
// wanting to retain it beyond the enclosing message's lifetime must copy.
type avp struct {
	vendorID  avpVendorID
	avpType   avpType
	mandatory bool
	hidden    bool
	data      []byte
}

// String represents the AVP as a human-readable string.
// Implements the fmt.Stringer() interface.
var _ fmt.Stringer = (*avp)(nil)

func (a avp) String() string {
	m := "-"
	h := "-"
	if a.mandatory {
		m = "M"
	}
	if a.hidden {
		h = "H"
	}
	return fmt.Sprintf("%v AVP %d [%s%s] %d bytes", a.vendorID, uint16(a.avpType), m, h, len(a.data))
}

// totalLen returns the number of bytes the AVP occupies on the wire,
// inclusive of the AVP header.
func (a *avp) totalLen() int {
	return avpHeaderLen + len(a.data)
}

// parseAVP decodes the AVP starting at b[offset] and returns it along
// with the offset of the next AVP in the buffer.
// The parse fails with errTruncated if the buffer cannot hold the AVP
// header or the declared AVP length, and with errInvalidLength if the
// length field is below the header length.
func parseAVP(b []byte, offset int) (a avp, next int, err error) {
	if len(b)-offset < avpHeaderLen {
		return avp{}, 0, fmt.Errorf("AVP header beyond buffer end: %w", errTruncated)
	}

	flagLen := binary.BigEndian.Uint16(b[offset:])
	avpLen := int(flagLen & avpLengthMask)
	if avpLen < avpHeaderLen {
		return avp{}, 0, fmt.Errorf("AVP length %d below header length: %w", avpLen, errInvalidLength)
	}
	if avpLen > len(b)-offset {
		return avp{}, 0, fmt.Errorf("AVP value beyond buffer end: %w", errTruncated)
	}

	a = avp{
		vendorID:  avpVendorID(binary.BigEndian.Uint16(b[offset+2:])),
		avpType:   avpType(binary.BigEndian.Uint16(b[offset+4:])),
		mandatory: flagLen&avpFlagMandatory == avpFlagMandatory,
		hidden:    flagLen&avpFlagHidden == avpFlagHidden,
		data:      b[offset+avpHeaderLen : offset+avpLen],
	}
	return a, offset + avpLen, nil
}

// parseAVPBuffer decodes a buffer of consecutive AVPs.
// The buffer must be fully consumed by the parse: trailing garbage is
// reported as an error rather than silently ignored.
func parseAVPBuffer(b []byte) (avps []avp, err error) {
	for offset := 0; offset < len(b); {
		var a avp
		a, offset, err = parseAVP(b, offset)
		if err != nil {
			return nil, err
		}
		avps = append(avps, a)
	}
	if len(avps) == 0 {
		return nil, fmt.Errorf("no AVPs in buffer: %w", errTruncated)
	}
	return avps, nil
}

// newAvp builds an AVP carrying the supplied value bytes.
// The value slice is used as-is without copying.
func newAvp(vendorID avpVendorID, avpType avpType, value []byte, mandatory bool) (avp, error) {
	if len(value) > avpMaxDataLen {
		return avp{}, fmt.Errorf("%d byte value: %w", len(value), errValueTooLarge)
	}
	return avp{
		vendorID:  vendorID,
		avpType:   avpType,
		mandatory: mandatory,
		data:      value,
	}, nil
}

func newAvpUint8(vendorID avpVendorID, avpType avpType, value uint8, mandatory bool) (avp, error) {
	return newAvp(vendorID, avpType, []byte{value}, mandatory)
}

func newAvpUint16(vendorID avpVendorID, avpType avpType, value uint16, mandatory bool) (avp, error) {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, value)
	return newAvp(vendorID, avpType, b, mandatory)
}

func newAvpUint32(vendorID avpVendorID, avpType avpType, value uint32, mandatory bool) (avp, error) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, value)
	return newAvp(vendorID, avpType, b, mandatory)
}

// newMsgTypeAvp builds the Control Message AVP which by convention leads
// every control message.
func newMsgTypeAvp(vendorID avpVendorID, msgType avpMsgType) (avp, error) {
	typ := avpTypeMessage
	if vendorID == vendorIDEricsson {
		typ = avpTypeEricMessage
	}
	return newAvpUint16(vendorID, typ, uint16(msgType), true)
}

// newDigestAvp builds a zero-filled Message Digest AVP placeholder:
// one digest type octet followed by 16 MAC bytes.  The MAC bytes are
// patched in place once the rest of the message has been serialized.
func newDigestAvp() (avp, error) {
	return newAvp(vendorIDIetf, avpTypeMessageDigest, make([]byte, digestAVPDataLen), true)
}

// appendTo serializes the AVP onto the end of buf and returns the
// extended slice.
func (a *avp) appendTo(buf []byte) []byte {
	flagLen := uint16(a.totalLen()) & avpLengthMask
	if a.mandatory {
		flagLen |= avpFlagMandatory
	}
	if a.hidden {
		flagLen |= avpFlagHidden
	}
	var hdr [avpHeaderLen]byte
	binary.BigEndian.PutUint16(hdr[0:], flagLen)
	binary.BigEndian.PutUint16(hdr[2:], uint16(a.vendorID))
	binary.BigEndian.PutUint16(hdr[4:], uint16(a.avpType))
	return append(append(buf, hdr[:]...), a.data...)
}

// decodeUint16 decodes the AVP value as a big-endian uint16.
func (a *avp) decodeUint16() (uint16, error) {
	if len(a.data) != 2 {
		return 0, fmt.Errorf("AVP value length %d, expected 2: %w", len(a.data), errInvalidLength)
	}
	return binary.BigEndian.Uint16(a.data), nil
}

// decodeUint32 decodes the AVP value as a big-endian uint32.
func (a *avp) decodeUint32() (uint32, error) {
	if len(a.data) != 4 {
		return 0, fmt.Errorf("AVP value length %d, expected 4: %w", len(a.data), errInvalidLength)
	}
	return binary.BigEndian.Uint32(a.data), nil
}

// avpsLengthBytes returns the serialized length of a slice of AVPs.
func avpsLengthBytes(avps []avp) int {
	var nb int
	for i := range avps {
		nb += avps[i].totalLen()
	}
	return nb
}

// findAvp looks up a specific AVP in a slice of AVPs.
// The second return value is false if the AVP isn't present.
func findAvp(avps []avp, vendorID avpVendorID, typ avpType) (*avp, bool) {
	for i := range avps {
		if avps[i].vendorID == vendorID && avps[i].avpType == typ {
			return &avps[i], true
		}
	}
	return nil, false
}

// findUint16Avp looks up a specific AVP and decodes it as uint16.
func findUint16Avp(avps []avp, vendorID avpVendorID, typ avpType) (uint16, error) {
	a, ok := findAvp(avps, vendorID, typ)
	if !ok {
		return 0, fmt.Errorf("no %v AVP %d in message", vendorID, uint16(typ))
	}
	return a.decodeUint16()
}

// findUint32Avp looks up a specific AVP and decodes it as uint32.
func findUint32Avp(avps []avp, vendorID avpVendorID, typ avpType) (uint32, error) {
	a, ok := findAvp(avps, vendorID, typ)
	if !ok {
		return 0, fmt.Errorf("no %v AVP %d in message", vendorID, uint16(typ))
	}
	return a.decodeUint32()
}

// findBytesAvp looks up a specific AVP and returns its raw value.
func findBytesAvp(avps []avp, vendorID avpVendorID, typ avpType) ([]byte, error) {
	a, ok := findAvp(avps, vendorID, typ)
	if !ok {
		return nil, fmt.Errorf("no %v AVP %d in message", vendorID, uint16(typ))
	}
	return a.data, nil
}
