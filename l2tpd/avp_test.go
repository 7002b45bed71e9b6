package l2tpd

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestParseAVPBufferGood(t *testing.T) {
	cases := []struct {
		in   []byte
		want []avp
	}{
		{
			// lone Control Message AVP (SCCRQ)
			in: []byte{0x80, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01},
			want: []avp{
				{
					vendorID:  vendorIDIetf,
					avpType:   avpTypeMessage,
					mandatory: true,
					data:      []byte{0x00, 0x01},
				},
			},
		},
		{
			in: []byte{
				0x80, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, // message type SCCRP
				0x80, 0x0a, 0x00, 0x00, 0x00, 0x3d, 0x00, 0x00, 0x00, 0x01, // assigned ccid
				0x00, 0x09, 0x00, 0x00, 0x00, 0x07, 0x42, 0x53, 0x43, // host name "BSC"
				0x80, 0x08, 0x00, 0x00, 0x00, 0x3e, 0x00, 0x06, // pw cap list
			},
			want: []avp{
				{
					vendorID:  vendorIDIetf,
					avpType:   avpTypeMessage,
					mandatory: true,
					data:      []byte{0x00, 0x02},
				},
				{
					vendorID:  vendorIDIetf,
					avpType:   avpTypeAssignedConnID,
					mandatory: true,
					data:      []byte{0x00, 0x00, 0x00, 0x01},
				},
				{
					vendorID: vendorIDIetf,
					avpType:  avpTypeHostName,
					data:     []byte{0x42, 0x53, 0x43},
				},
				{
					vendorID:  vendorIDIetf,
					avpType:   avpTypePseudowireCaps,
					mandatory: true,
					data:      []byte{0x00, 0x06},
				},
			},
		},
		{
			// Ericsson vendor AVPs (TCRQ)
			in: []byte{
				0x80, 0x08, 0x01, 0x24, 0x00, 0x00, 0x00, 0x01, // vendor message type TCRQ
				0x80, 0x0d, 0x01, 0x24, 0x00, 0x01, 0x00, 0x19, 0x01, 0x1f, 0x01, 0x00, 0x0a, // transport cfg
			},
			want: []avp{
				{
					vendorID:  vendorIDEricsson,
					avpType:   avpTypeEricMessage,
					mandatory: true,
					data:      []byte{0x00, 0x01},
				},
				{
					vendorID:  vendorIDEricsson,
					avpType:   avpTypeEricTransportCfg,
					mandatory: true,
					data:      []byte{0x00, 0x19, 0x01, 0x1f, 0x01, 0x00, 0x0a},
				},
			},
		},
	}
	for i, c := range cases {
		got, err := parseAVPBuffer(c.in)
		if err != nil {
			t.Fatalf("parseAVPBuffer(case %d): %v", i, err)
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("parseAVPBuffer(case %d) = %v, want %v", i, got, c.want)
		}
	}
}

func TestParseAVPBufferBad(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want error
	}{
		{
			name: "empty buffer",
			in:   []byte{},
			want: errTruncated,
		},
		{
			name: "short header",
			in:   []byte{0x80, 0x08, 0x00},
			want: errTruncated,
		},
		{
			name: "declared length beyond buffer",
			in:   []byte{0x80, 0x0c, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01},
			want: errTruncated,
		},
		{
			name: "length below header size",
			in:   []byte{0x80, 0x04, 0x00, 0x00, 0x00, 0x00},
			want: errInvalidLength,
		},
		{
			name: "zero length",
			in:   []byte{0x80, 0x00, 0x00, 0x00, 0x00, 0x00},
			want: errInvalidLength,
		},
		{
			name: "trailing garbage after valid AVP",
			in:   []byte{0x80, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0xff},
			want: errTruncated,
		},
	}
	for _, c := range cases {
		_, err := parseAVPBuffer(c.in)
		if err == nil {
			t.Errorf("parseAVPBuffer(%s) succeeded, want %v", c.name, c.want)
		} else if !errors.Is(err, c.want) {
			t.Errorf("parseAVPBuffer(%s) = %v, want %v", c.name, err, c.want)
		}
	}
}

func TestAvpRoundTrip(t *testing.T) {
	cases := []struct {
		vendorID  avpVendorID
		avpType   avpType
		value     []byte
		mandatory bool
	}{
		{vendorIDIetf, avpTypeMessage, []byte{0x00, 0x01}, true},
		{vendorIDIetf, avpTypeHostName, []byte("BSC"), false},
		{vendorIDEricsson, avpTypeEricTeiToSCMap, []byte{2, 0, 0, 0, 62, 62, 0}, true},
		{vendorIDIetf, avpTypeMessageDigest, make([]byte, digestAVPDataLen), true},
	}
	for i, c := range cases {
		in, err := newAvp(c.vendorID, c.avpType, c.value, c.mandatory)
		if err != nil {
			t.Fatalf("newAvp(case %d): %v", i, err)
		}
		b := in.appendTo(nil)
		if len(b) != in.totalLen() {
			t.Errorf("serialized length %d, want %d", len(b), in.totalLen())
		}
		out, next, err := parseAVP(b, 0)
		if err != nil {
			t.Fatalf("parseAVP(case %d): %v", i, err)
		}
		if next != len(b) {
			t.Errorf("parseAVP(case %d) consumed %d of %d bytes", i, next, len(b))
		}
		if !reflect.DeepEqual(in, out) {
			t.Errorf("round trip case %d: got %v, want %v", i, out, in)
		}
	}
}

func TestNewAvpTooLarge(t *testing.T) {
	_, err := newAvp(vendorIDIetf, avpTypeHostName, make([]byte, avpMaxDataLen+1), false)
	if !errors.Is(err, errValueTooLarge) {
		t.Errorf("newAvp oversize = %v, want %v", err, errValueTooLarge)
	}
	// largest legal value
	if _, err = newAvp(vendorIDIetf, avpTypeHostName, make([]byte, avpMaxDataLen), false); err != nil {
		t.Errorf("newAvp max size: %v", err)
	}
}

func TestFindAvp(t *testing.T) {
	avps, err := parseAVPBuffer([]byte{
		0x80, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x0b, // message type ICRP
		0x80, 0x0a, 0x00, 0x00, 0x00, 0x3f, 0x00, 0x00, 0x00, 0x2a, // local session id
		0x80, 0x08, 0x00, 0x00, 0x00, 0x47, 0x00, 0x01, // circuit status
	})
	if err != nil {
		t.Fatalf("parseAVPBuffer: %v", err)
	}

	sid, err := findUint32Avp(avps, vendorIDIetf, avpTypeLocalSessionID)
	if err != nil {
		t.Fatalf("findUint32Avp: %v", err)
	}
	if sid != 42 {
		t.Errorf("local session ID = %d, want 42", sid)
	}

	status, err := findUint16Avp(avps, vendorIDIetf, avpTypeCircuitStatus)
	if err != nil {
		t.Fatalf("findUint16Avp: %v", err)
	}
	if status != circuitStatusUp {
		t.Errorf("circuit status = 0x%04x, want 0x%04x", status, circuitStatusUp)
	}

	if _, ok := findAvp(avps, vendorIDIetf, avpTypeRouterID); ok {
		t.Errorf("findAvp located an AVP which isn't present")
	}
	if _, err = findUint32Avp(avps, vendorIDEricsson, avpTypeEricTransportCfg); err == nil {
		t.Errorf("findUint32Avp located an AVP which isn't present")
	}
}

func TestMsgTypeAvpVendorScoping(t *testing.T) {
	ietf, err := newMsgTypeAvp(vendorIDIetf, avpMsgTypeSccrp)
	if err != nil {
		t.Fatalf("newMsgTypeAvp: %v", err)
	}
	if ietf.avpType != avpTypeMessage || ietf.vendorID != vendorIDIetf {
		t.Errorf("IETF message type AVP = %v", ietf)
	}

	eric, err := newMsgTypeAvp(vendorIDEricsson, avpMsgTypeTcrq)
	if err != nil {
		t.Fatalf("newMsgTypeAvp: %v", err)
	}
	if eric.avpType != avpTypeEricMessage || eric.vendorID != vendorIDEricsson {
		t.Errorf("Ericsson message type AVP = %v", eric)
	}
	if !bytes.Equal(eric.data, []byte{0x00, 0x01}) {
		t.Errorf("Ericsson message type value = %v", eric.data)
	}
}
