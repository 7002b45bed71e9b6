package l2tpd

import (
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// transportConfig tunes the control message reliability layer.
type transportConfig struct {
	// retryTimeout is the initial retransmission timeout.  It is
	// doubled on each unacknowledged retransmission.
	retryTimeout time.Duration
	// maxRetries bounds the retransmissions of a single message before
	// the connection is declared dead.
	maxRetries int
	// ackDelay is how long to wait for a piggyback opportunity before
	// sending an explicit acknowledgement.
	ackDelay time.Duration
	// helloTimeout is the keepalive interval on an idle connection.
	// Zero disables the keepalive.
	helloTimeout time.Duration
}

func defaultTransportConfig() transportConfig {
	return transportConfig{
		retryTimeout: 1 * time.Second,
		maxRetries:   3,
		ackDelay:     100 * time.Millisecond,
	}
}

// pendingMsg is a transmitted control message awaiting acknowledgement.
type pendingMsg struct {
	msg      *controlMessage
	ns       uint16
	attempts int
	timeout  time.Duration
}

// transport implements the reliable delivery layer of the control
// protocol: sequence numbering, acknowledgement, retransmission with
// exponential backoff, and the idle keepalive.  All methods must be
// called from the owning reactor loop.
type transport struct {
	logger log.Logger
	r      *reactor
	cfg    transportConfig
	stats  *statsSet

	// tx writes a serialized control message towards the peer
	tx func(b []byte) error
	// deliver hands an in-sequence non-ack message up to the owner
	deliver func(m *controlMessage)
	// down reports an unrecoverable transport failure to the owner
	down func(err error)
	// drained, if set, is called whenever an acknowledgement empties
	// the pending queue.  The owner uses it to finish a teardown that
	// waits for its StopCCN to be acknowledged.
	drained func()

	ns, nr uint16

	pending    []*pendingMsg
	retryTimer *reactorTimer
	ackTimer   *reactorTimer
	helloTimer *reactorTimer
	closed     bool
}

func newTransport(logger log.Logger, r *reactor, cfg transportConfig, stats *statsSet,
	tx func(b []byte) error,
	deliver func(m *controlMessage),
	down func(err error)) *transport {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &transport{
		logger:  logger,
		r:       r,
		cfg:     cfg,
		stats:   stats,
		tx:      tx,
		deliver: deliver,
		down:    down,
	}
}

// seqCompare compares two sequence numbers modulo 2^16.
// Returns 0 if they're equal, 1 if seq1 is ahead of seq2, and -1 if
// seq1 is behind seq2.
func seqCompare(seq1, seq2 uint16) int {
	if seq1 == seq2 {
		return 0
	}
	if (seq1 > seq2 && seq1-seq2 < 0x8000) ||
		(seq1 < seq2 && seq2-seq1 > 0x8000) {
		return 1
	}
	return -1
}

func seqIncrement(seq uint16) uint16 {
	return seq + 1
}

// send queues a control message for reliable delivery.
// The message consumes a sequence number and stays queued until the
// peer acknowledges it or the retry budget runs out.
func (t *transport) send(m *controlMessage) error {
	if t.closed {
		return fmt.Errorf("send %s on closed transport", m.name())
	}
	m.ns = t.ns
	t.ns = seqIncrement(t.ns)

	p := &pendingMsg{msg: m, ns: m.ns, timeout: t.cfg.retryTimeout}
	t.pending = append(t.pending, p)

	if err := t.txMessage(m); err != nil {
		return err
	}
	if t.retryTimer == nil {
		t.armRetryTimer(p)
	}
	return nil
}

// txMessage serializes and transmits a message with the current nr.
// A transmission also acknowledges everything we've received, so a
// pending delayed ack is dropped.
func (t *transport) txMessage(m *controlMessage) error {
	m.nr = t.nr
	// The wire connection ID is zero in both directions: connection
	// IDs are exchanged in AVPs but never used in the header.
	b, err := m.toBytes(0)
	if err != nil {
		return err
	}
	// IP encapsulation prefixes control messages with a zero session ID
	wire := make([]byte, 4+len(b))
	copy(wire[4:], b)
	t.stopAckTimer()
	level.Debug(t.logger).Log(
		"message", "tx control",
		"type", m.name(),
		"ns", m.ns,
		"nr", m.nr)
	t.stats.txControl.WithLabelValues(m.name()).Inc()
	return t.tx(wire)
}

// sendAck transmits an explicit acknowledgement.
// Acks don't consume a sequence number and are never retransmitted.
func (t *transport) sendAck() {
	m, err := newControlMessage(vendorIDIetf, avpMsgTypeAck)
	if err != nil {
		return
	}
	m.ns = t.ns
	if err = t.txMessage(m); err != nil {
		level.Error(t.logger).Log("message", "ack transmit failed", "error", err)
	}
}

// recv feeds a received, already authenticated control message into
// the reliability layer.
func (t *transport) recv(m *controlMessage) {
	if t.closed {
		return
	}
	t.resetHelloTimer()
	t.processAcks(m.nr)
	// The drained callback may have finished a teardown
	if t.closed || m.isAck() {
		return
	}

	switch seqCompare(m.ns, t.nr) {
	case 0:
		t.nr = seqIncrement(t.nr)
		t.scheduleAck()
		if m.vendor == vendorIDIetf && m.msgType == avpMsgTypeHello {
			return
		}
		t.deliver(m)
	case -1:
		// Duplicate of a message we've already consumed: our ack got
		// lost, so ack again and drop.
		level.Debug(t.logger).Log(
			"message", "duplicate control message",
			"type", m.name(),
			"ns", m.ns,
			"nr_expected", t.nr)
		t.stats.countRxInvalid("duplicate")
		t.sendAck()
	case 1:
		level.Info(t.logger).Log(
			"message", "out of window control message dropped",
			"type", m.name(),
			"ns", m.ns,
			"nr_expected", t.nr)
		t.stats.countRxInvalid("out_of_window")
	}
}

// processAcks releases pending messages the peer's nr acknowledges.
func (t *transport) processAcks(nr uint16) {
	var acked int
	for _, p := range t.pending {
		if seqCompare(p.ns, nr) < 0 {
			acked++
		}
	}
	if acked == 0 {
		return
	}
	t.pending = t.pending[acked:]
	t.stopRetryTimer()
	if len(t.pending) > 0 {
		// The head changed: give it a fresh retry budget
		t.pending[0].timeout = t.cfg.retryTimeout
		t.armRetryTimer(t.pending[0])
	} else if t.drained != nil {
		t.drained()
	}
}

func (t *transport) armRetryTimer(p *pendingMsg) {
	t.retryTimer = t.r.after(p.timeout, func() {
		t.retryTimer = nil
		t.retransmit(p)
	})
}

func (t *transport) retransmit(p *pendingMsg) {
	if t.closed || len(t.pending) == 0 || t.pending[0] != p {
		return
	}
	p.attempts++
	if p.attempts > t.cfg.maxRetries {
		level.Error(t.logger).Log(
			"message", "control message retry budget exhausted",
			"type", p.msg.name(),
			"ns", p.ns,
			"attempts", p.attempts)
		t.down(fmt.Errorf("%s ns %d: %w", p.msg.name(), p.ns, errRetryExhausted))
		return
	}
	level.Info(t.logger).Log(
		"message", "retransmit control message",
		"type", p.msg.name(),
		"ns", p.ns,
		"attempt", p.attempts)
	t.stats.retransmits.Inc()
	p.timeout *= 2
	if err := t.txMessage(p.msg); err != nil {
		t.down(err)
		return
	}
	t.armRetryTimer(p)
}

func (t *transport) scheduleAck() {
	if t.ackTimer != nil {
		return
	}
	t.ackTimer = t.r.after(t.cfg.ackDelay, func() {
		t.ackTimer = nil
		if !t.closed {
			t.sendAck()
		}
	})
}

func (t *transport) stopAckTimer() {
	if t.ackTimer != nil {
		t.ackTimer.stop()
		t.ackTimer = nil
	}
}

func (t *transport) stopRetryTimer() {
	if t.retryTimer != nil {
		t.retryTimer.stop()
		t.retryTimer = nil
	}
}

// enableHello arms the idle keepalive.  Called once the connection is
// established.  The hello goes through the reliable queue, so a dead
// peer shows up as a retry budget failure.
func (t *transport) enableHello() {
	if t.cfg.helloTimeout > 0 {
		t.resetHelloTimer()
	}
}

func (t *transport) resetHelloTimer() {
	if t.helloTimer == nil && t.cfg.helloTimeout == 0 {
		return
	}
	if t.helloTimer != nil {
		t.helloTimer.stop()
		t.helloTimer = nil
	}
	if t.cfg.helloTimeout > 0 {
		t.helloTimer = t.r.after(t.cfg.helloTimeout, func() {
			t.helloTimer = nil
			t.sendHello()
		})
	}
}

func (t *transport) sendHello() {
	if t.closed {
		return
	}
	m, err := newControlMessage(vendorIDIetf, avpMsgTypeHello)
	if err != nil {
		return
	}
	if err = t.send(m); err != nil {
		level.Error(t.logger).Log("message", "hello transmit failed", "error", err)
	}
	t.resetHelloTimer()
}

// close tears the transport down, cancelling all timers.
// Pending messages are dropped without notification.
func (t *transport) close() {
	if t.closed {
		return
	}
	// A scheduled delayed ack means we consumed a message the peer has
	// not seen acknowledged.  Flush it now so a peer initiated teardown
	// doesn't leave the final StopCCN or CDN unacked and retransmitting.
	if t.ackTimer != nil {
		t.sendAck()
	}
	t.closed = true
	t.stopRetryTimer()
	t.stopAckTimer()
	if t.helloTimer != nil {
		t.helloTimer.stop()
		t.helloTimer = nil
	}
	t.pending = nil
}
