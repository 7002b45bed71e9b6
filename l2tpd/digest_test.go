package l2tpd

import (
	"bytes"
	"errors"
	"testing"
)

func buildSignedMessage(t *testing.T, vendor avpVendorID, msgType avpMsgType, extra ...avp) []byte {
	t.Helper()
	m, err := newControlMessage(vendor, msgType)
	if err != nil {
		t.Fatalf("newControlMessage: %v", err)
	}
	for _, a := range extra {
		m.appendAvp(a)
	}
	b, err := m.toBytes(0)
	if err != nil {
		t.Fatalf("toBytes: %v", err)
	}
	return b
}

func TestDigestVerify(t *testing.T) {
	host, err := newAvp(vendorIDIetf, avpTypeHostName, []byte("BSC"), false)
	if err != nil {
		t.Fatalf("newAvp: %v", err)
	}
	b := buildSignedMessage(t, vendorIDIetf, avpMsgTypeSccrp, host)

	if err := verifyMessage(b, controlHeaderLen); err != nil {
		t.Errorf("verifyMessage on freshly signed message: %v", err)
	}
}

func TestDigestSignDeterministic(t *testing.T) {
	b1 := buildSignedMessage(t, vendorIDEricsson, avpMsgTypeTcrq)
	b2 := buildSignedMessage(t, vendorIDEricsson, avpMsgTypeTcrq)
	if !bytes.Equal(b1, b2) {
		t.Errorf("signing the same message twice gave different bytes")
	}

	// Signing again in place must be a no-op
	b3 := append([]byte(nil), b1...)
	if err := signMessage(b3, controlHeaderLen); err != nil {
		t.Fatalf("signMessage: %v", err)
	}
	if !bytes.Equal(b1, b3) {
		t.Errorf("re-signing changed the message")
	}
}

// Flipping any single bit of a signed message must fail verification.
func TestDigestTamper(t *testing.T) {
	b := buildSignedMessage(t, vendorIDIetf, avpMsgTypeScccn)
	for byteOff := 0; byteOff < len(b); byteOff++ {
		for bit := 0; bit < 8; bit++ {
			tampered := append([]byte(nil), b...)
			tampered[byteOff] ^= 1 << bit
			if err := verifyMessage(tampered, controlHeaderLen); err == nil {
				t.Fatalf("verifyMessage accepted message with bit %d of byte %d flipped", bit, byteOff)
			}
		}
	}
}

func TestDigestMissing(t *testing.T) {
	// Hand-build a message whose second AVP is not the digest
	mt, err := newMsgTypeAvp(vendorIDIetf, avpMsgTypeSccrq)
	if err != nil {
		t.Fatalf("newMsgTypeAvp: %v", err)
	}
	host, err := newAvp(vendorIDIetf, avpTypeHostName, []byte("SIU"), false)
	if err != nil {
		t.Fatalf("newAvp: %v", err)
	}
	b := make([]byte, controlHeaderLen)
	b = mt.appendTo(b)
	b = host.appendTo(b)

	if err := verifyMessage(b, controlHeaderLen); !errors.Is(err, errMissingDigestAVP) {
		t.Errorf("verifyMessage = %v, want %v", err, errMissingDigestAVP)
	}
	if err := signMessage(b, controlHeaderLen); !errors.Is(err, errMissingDigestAVP) {
		t.Errorf("signMessage = %v, want %v", err, errMissingDigestAVP)
	}
}

func TestDigestBadLength(t *testing.T) {
	mt, err := newMsgTypeAvp(vendorIDIetf, avpMsgTypeSccrq)
	if err != nil {
		t.Fatalf("newMsgTypeAvp: %v", err)
	}
	// Digest AVP with a short value
	short, err := newAvp(vendorIDIetf, avpTypeMessageDigest, make([]byte, 4), true)
	if err != nil {
		t.Fatalf("newAvp: %v", err)
	}
	b := make([]byte, controlHeaderLen)
	b = mt.appendTo(b)
	b = short.appendTo(b)

	if err := verifyMessage(b, controlHeaderLen); !errors.Is(err, errInvalidLength) {
		t.Errorf("verifyMessage = %v, want %v", err, errInvalidLength)
	}
}
