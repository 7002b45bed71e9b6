package l2tpd

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/subtle"
	"fmt"
)

const (
	// digestAVPDataLen is the value length of the Message Digest AVP:
	// one digest type octet followed by the 16 byte HMAC-MD5 MAC.
	digestAVPDataLen = 1 + md5.Size
	// digestTypeMD5 is the digest type octet for HMAC-MD5
	digestTypeMD5 = 0
)

// digestKey is the static key the Ericsson equipment uses to
// authenticate control messages.  The RFC3931 nonce exchange is not
// implemented by the peer; both ends use this fixed key instead.
var digestKey = []byte{
	0x7b, 0x60, 0x85, 0xfb, 0xf4, 0x59, 0x33, 0x67,
	0x0a, 0xbc, 0xb0, 0x7a, 0x27, 0xfc, 0xea, 0x5e,
}

// computeDigest runs HMAC-MD5 over the whole control message with the
// MAC bytes of the digest AVP zeroed.  b is the serialized message,
// macOff the offset of the first MAC byte within it.  The buffer is
// restored before returning.
func computeDigest(b []byte, macOff int) []byte {
	saved := make([]byte, md5.Size)
	copy(saved, b[macOff:macOff+md5.Size])
	for i := 0; i < md5.Size; i++ {
		b[macOff+i] = 0
	}

	mac := hmac.New(md5.New, digestKey)
	mac.Write(b)

	copy(b[macOff:], saved)
	return mac.Sum(nil)
}

// digestMACOffset locates the MAC bytes of the Message Digest AVP in a
// serialized control message.  The digest AVP must be the second AVP,
// directly after the Control Message AVP.  hdrLen is the length of the
// control header preceding the AVP payload.
func digestMACOffset(b []byte, hdrLen int) (int, error) {
	// Skip the leading Control Message AVP
	_, next, err := parseAVP(b[hdrLen:], 0)
	if err != nil {
		return 0, err
	}
	a, _, err := parseAVP(b[hdrLen:], next)
	if err != nil {
		return 0, err
	}
	if a.vendorID != vendorIDIetf || a.avpType != avpTypeMessageDigest {
		return 0, errMissingDigestAVP
	}
	if len(a.data) != digestAVPDataLen {
		return 0, fmt.Errorf("digest AVP value length %d, expected %d: %w",
			len(a.data), digestAVPDataLen, errInvalidLength)
	}
	if a.data[0] != digestTypeMD5 {
		return 0, fmt.Errorf("unsupported digest type %d: %w", a.data[0], errDigestMismatch)
	}
	// next is the offset of the digest AVP; the MAC starts after the
	// AVP header and the digest type octet.
	return hdrLen + next + avpHeaderLen + 1, nil
}

// signMessage patches the MAC of a serialized control message in place.
// The message must carry a digest AVP placeholder in second position.
func signMessage(b []byte, hdrLen int) error {
	macOff, err := digestMACOffset(b, hdrLen)
	if err != nil {
		return err
	}
	copy(b[macOff:], computeDigest(b, macOff))
	return nil
}

// verifyMessage checks the MAC of a received control message.
// Every message is signed, the explicit acknowledgement included.
func verifyMessage(b []byte, hdrLen int) error {
	macOff, err := digestMACOffset(b, hdrLen)
	if err != nil {
		return err
	}
	want := computeDigest(b, macOff)
	if subtle.ConstantTimeCompare(want, b[macOff:macOff+md5.Size]) != 1 {
		return errDigestMismatch
	}
	return nil
}
