package l2tpd

import "fmt"

// avpVendorID is the Vendor ID from the AVP header as per RFC3931 section 5.2
type avpVendorID uint16

// avpType is the attribute type from the AVP header, scoped by vendor ID
type avpType uint16

// avpMsgType stores the value of a Control Message AVP.
// Both the IETF and the Ericsson namespaces define control message types;
// an avpMsgType value is meaningless without its vendor ID.
type avpMsgType uint16

const (
	// vendorIDIetf is the namespace used for standard AVPs per RFC3931
	vendorIDIetf avpVendorID = 0
	// vendorIDEricsson is the namespace used for the Ericsson transport
	// configuration extension AVPs
	vendorIDEricsson avpVendorID = 0x0124
)

// The subset of RFC3931 AVP types used by the Ericsson control protocol.
const (
	avpTypeMessage            avpType = 0
	avpTypeHostName           avpType = 7
	avpTypeMessageDigest      avpType = 59
	avpTypeRouterID           avpType = 60
	avpTypeAssignedConnID     avpType = 61
	avpTypePseudowireCaps     avpType = 62
	avpTypeLocalSessionID     avpType = 63
	avpTypeRemoteSessionID    avpType = 64
	avpTypeRemoteEndID        avpType = 66
	avpTypePseudowireType     avpType = 68
	avpTypeL2SpecificSublayer avpType = 69
	avpTypeDataSequencing     avpType = 70
	avpTypeCircuitStatus      avpType = 71
)

// Ericsson AVP types, scoped by vendorIDEricsson.
const (
	avpTypeEricMessage      avpType = 0
	avpTypeEricTransportCfg avpType = 1
	avpTypeEricProtoVersion avpType = 2
	avpTypeEricTeiToSCMap   avpType = 3
)

// IETF control message types per RFC3931 section 3.1
const (
	avpMsgTypeIllegal avpMsgType = 0
	avpMsgTypeSccrq   avpMsgType = 1
	avpMsgTypeSccrp   avpMsgType = 2
	avpMsgTypeScccn   avpMsgType = 3
	avpMsgTypeStopccn avpMsgType = 4
	avpMsgTypeHello   avpMsgType = 6
	avpMsgTypeIcrq    avpMsgType = 10
	avpMsgTypeIcrp    avpMsgType = 11
	avpMsgTypeIccn    avpMsgType = 12
	avpMsgTypeCdn     avpMsgType = 14
	avpMsgTypeAck     avpMsgType = 20
)

// Ericsson control message types, carried in the vendor Control Message AVP.
const (
	avpMsgTypeTcrq   avpMsgType = 1
	avpMsgTypeTcrp   avpMsgType = 2
	avpMsgTypeAltcrq avpMsgType = 3
	avpMsgTypeAltcrp avpMsgType = 4
)

// Circuit Status AVP values for the ICRP message.
const (
	// circuitStatusUp indicates an existing circuit in the up state
	circuitStatusUp uint16 = 0x0001
)

// L2-Specific Sublayer AVP values.
const (
	// l2SublayerDefault selects the RFC3931 default sublayer
	l2SublayerDefault uint16 = 0x0001
)

// Data Sequencing AVP values.
const (
	// dataSequencingAll requires sequencing on all incoming data packets
	dataSequencingAll uint16 = 0x0002
)

// pseudowireCapsDefault is the Pseudowire Capability List advertised in the
// SCCRP, matching the value the Ericsson peer expects.
const pseudowireCapsDefault uint16 = 0x0006

// String converts an avpVendorID into a human-readable string.
// Implements the fmt.Stringer() interface.
var _ fmt.Stringer = (*avpVendorID)(nil)

func (v avpVendorID) String() string {
	switch v {
	case vendorIDIetf:
		return "IETF"
	case vendorIDEricsson:
		return "Ericsson"
	}
	return fmt.Sprintf("Vendor %d", uint16(v))
}

// messageName renders a vendor/message-type pair for logging.
func messageName(vendor avpVendorID, mt avpMsgType) string {
	if vendor == vendorIDIetf {
		switch mt {
		case avpMsgTypeSccrq:
			return "SCCRQ"
		case avpMsgTypeSccrp:
			return "SCCRP"
		case avpMsgTypeScccn:
			return "SCCCN"
		case avpMsgTypeStopccn:
			return "StopCCN"
		case avpMsgTypeHello:
			return "HELLO"
		case avpMsgTypeIcrq:
			return "ICRQ"
		case avpMsgTypeIcrp:
			return "ICRP"
		case avpMsgTypeIccn:
			return "ICCN"
		case avpMsgTypeCdn:
			return "CDN"
		case avpMsgTypeAck:
			return "ACK"
		}
	} else if vendor == vendorIDEricsson {
		switch mt {
		case avpMsgTypeTcrq:
			return "TCRQ"
		case avpMsgTypeTcrp:
			return "TCRP"
		case avpMsgTypeAltcrq:
			return "ALTCRQ"
		case avpMsgTypeAltcrp:
			return "ALTCRP"
		}
	}
	return fmt.Sprintf("%v message 0x%04x", vendor, uint16(mt))
}
