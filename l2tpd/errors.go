package l2tpd

import "errors"

// Parse and protocol errors.  All of these are local to the offending
// message or connection: none of them are fatal to the daemon, and a
// hostile peer can only ever affect its own connection state.
var (
	// errTruncated indicates a buffer shorter than a declared length.
	errTruncated = errors.New("message truncated")
	// errMalformedFlags indicates bad T/L/S framing bits or nonzero
	// reserved bits in the control header.
	errMalformedFlags = errors.New("malformed header flags")
	// errUnsupportedVersion indicates a protocol version other than 3.
	errUnsupportedVersion = errors.New("unsupported protocol version")
	// errInvalidLength indicates a length field below the legal minimum.
	errInvalidLength = errors.New("invalid length field")
	// errValueTooLarge indicates an AVP value exceeding the 10 bit
	// length field's capacity.
	errValueTooLarge = errors.New("AVP value too large")
	// errMissingDigestAVP indicates the Message Digest AVP is not the
	// second AVP of the message.
	errMissingDigestAVP = errors.New("missing message digest AVP")
	// errDigestMismatch indicates message authentication failure.
	errDigestMismatch = errors.New("message digest mismatch")
	// errUnexpectedCCID indicates a control message with a nonzero wire
	// connection ID, or one for a connection we don't know about.
	errUnexpectedCCID = errors.New("unexpected control connection ID")
	// errUnknownSession indicates a message referencing a session ID
	// which has no owning session instance.
	errUnknownSession = errors.New("unknown session ID")
	// errRetryExhausted indicates the retransmission budget for an
	// unacknowledged control message has been spent.
	errRetryExhausted = errors.New("message retry budget exhausted")
)
