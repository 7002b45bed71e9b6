package main

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/telsys/go-l2tpd/config"
	"github.com/telsys/go-l2tpd/l2tpd"
)

// relayChannel forwards one traffic category between a pseudowire
// session and a local unix datagram socket.  The consumer application
// sends us at least one datagram first; its address is then used for
// the inbound direction.
type relayChannel struct {
	name        string
	remoteEndID []byte
	conn        *net.UnixConn

	mu        sync.Mutex
	sessionID uint32
	consumer  *net.UnixAddr
}

func (ch *relayChannel) bindSession(id uint32) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.sessionID = id
}

func (ch *relayChannel) session() uint32 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.sessionID
}

func (ch *relayChannel) setConsumer(addr *net.UnixAddr) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.consumer = addr
}

func (ch *relayChannel) consumerAddr() *net.UnixAddr {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.consumer
}

// relay wires the engine's session events and data path to the
// configured relay channels.  Channels are matched to sessions by the
// Remote End ID the peer supplies at session establishment.
type relay struct {
	logger   log.Logger
	inst     *l2tpd.Instance
	channels []*relayChannel

	mu       sync.Mutex
	sessions map[uint32]*relayChannel
	wg       sync.WaitGroup
	closed   chan struct{}
}

func newRelay(logger log.Logger, channels []config.NamedChannel) (*relay, error) {
	r := &relay{
		logger:   logger,
		sessions: make(map[uint32]*relayChannel),
		closed:   make(chan struct{}),
	}
	for _, cc := range channels {
		os.Remove(cc.SocketPath)
		conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{
			Name: cc.SocketPath,
			Net:  "unixgram",
		})
		if err != nil {
			r.close()
			return nil, fmt.Errorf("channel %s: %v", cc.Name, err)
		}
		r.channels = append(r.channels, &relayChannel{
			name:        cc.Name,
			remoteEndID: cc.RemoteEndID,
			conn:        conn,
		})
	}
	return r, nil
}

// start launches the per-channel reader goroutines.  Must be called
// after the engine instance has been set.
func (r *relay) start(inst *l2tpd.Instance) {
	r.inst = inst
	for _, ch := range r.channels {
		r.wg.Add(1)
		go r.readLoop(ch)
	}
}

// readLoop pulls datagrams from the channel's consumer and transmits
// them over the bound session.
func (r *relay) readLoop(ch *relayChannel) {
	defer r.wg.Done()
	buf := make([]byte, 4096)
	for {
		n, addr, err := ch.conn.ReadFromUnix(buf)
		if err != nil {
			select {
			case <-r.closed:
			default:
				level.Error(r.logger).Log(
					"message", "relay channel read failed",
					"channel", ch.name,
					"error", err)
			}
			return
		}
		ch.setConsumer(addr)
		sid := ch.session()
		if sid == 0 {
			level.Debug(r.logger).Log(
				"message", "relay payload with no bound session dropped",
				"channel", ch.name)
			continue
		}
		if err := r.inst.SendData(sid, buf[:n]); err != nil {
			level.Error(r.logger).Log(
				"message", "session transmit failed",
				"channel", ch.name,
				"session_id", sid,
				"error", err)
		}
	}
}

// channelForEndID matches a session's Remote End ID onto a channel.
// A channel with no configured Remote End ID matches everything.
func (r *relay) channelForEndID(reid []byte) *relayChannel {
	for _, ch := range r.channels {
		if len(ch.remoteEndID) == 0 || bytes.Equal(ch.remoteEndID, reid) {
			return ch
		}
	}
	return nil
}

// HandleEvent binds and unbinds sessions to relay channels.
// Implements the engine's EventHandler interface.
func (r *relay) HandleEvent(event interface{}) {
	switch ev := event.(type) {
	case *l2tpd.SessionUpEvent:
		ch := r.channelForEndID(ev.RemoteEndID)
		if ch == nil {
			level.Info(r.logger).Log(
				"message", "no relay channel for session",
				"session_id", ev.LocalID,
				"remote_end_id", fmt.Sprintf("%q", ev.RemoteEndID))
			return
		}
		ch.bindSession(ev.LocalID)
		r.mu.Lock()
		r.sessions[ev.LocalID] = ch
		r.mu.Unlock()
		level.Info(r.logger).Log(
			"message", "session bound to relay channel",
			"session_id", ev.LocalID,
			"channel", ch.name)
	case *l2tpd.SessionDownEvent:
		r.mu.Lock()
		ch := r.sessions[ev.LocalID]
		delete(r.sessions, ev.LocalID)
		r.mu.Unlock()
		if ch != nil {
			ch.bindSession(0)
			level.Info(r.logger).Log(
				"message", "session unbound from relay channel",
				"session_id", ev.LocalID,
				"channel", ch.name)
		}
	}
}

// HandleSessionData forwards an inbound session payload to the
// channel's consumer.  Implements the engine's DataHandler interface.
func (r *relay) HandleSessionData(localID uint32, seq uint32, payload []byte) {
	r.mu.Lock()
	ch := r.sessions[localID]
	r.mu.Unlock()
	if ch == nil {
		return
	}
	addr := ch.consumerAddr()
	if addr == nil {
		// No consumer has attached yet
		return
	}
	if _, err := ch.conn.WriteToUnix(payload, addr); err != nil {
		level.Error(r.logger).Log(
			"message", "relay channel write failed",
			"channel", ch.name,
			"error", err)
	}
}

func (r *relay) close() {
	select {
	case <-r.closed:
		return
	default:
	}
	close(r.closed)
	for _, ch := range r.channels {
		ch.conn.Close()
	}
	r.wg.Wait()
}
