// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"fmt"
	"io"
	"log"
	"sync"
)

// mux represents the state for the SSH connection protocol, which
// multiplexes many channels onto a single packet transport (spec.md
// section 4.8). It is client-only: inbound CHANNEL_OPEN still dispatches
// generically (so the caller can reject or service it), but there is no
// server-role acceptance path (spec.md section 1).
type mux struct {
	conn     packetConn
	chanList chanList
	metrics  *Metrics

	incomingChannels chan NewChannel

	globalSentMu     sync.Mutex
	globalResponses  chan interface{}
	incomingRequests chan *Request

	errCond *sync.Cond
	err     error
}

// When debugMux is set, each message received/sent is logged.
var debugMux = false

func (m *mux) Wait() error {
	m.errCond.L.Lock()
	defer m.errCond.L.Unlock()
	for m.err == nil {
		m.errCond.Wait()
	}
	return m.err
}

// newMux returns a mux that runs over the given connection. metrics may
// be nil to disable instrumentation.
func newMux(p packetConn, metrics *Metrics) *mux {
	m := &mux{
		conn:             p,
		metrics:          metrics,
		incomingChannels: make(chan NewChannel, 16),
		globalResponses:  make(chan interface{}, 1),
		incomingRequests: make(chan *Request, 16),
	}
	m.errCond = newCond()
	go m.loop()
	return m
}

func (m *mux) Close() error {
	return m.conn.Close()
}

// loop runs the connection machine. It will process packets until an
// error is encountered, then exit, closing the various channels it
// has.
func (m *mux) loop() {
	var err error
	for err == nil {
		err = m.onePacket()
	}

	for _, ch := range m.chanList.dropAll() {
		ch.close()
	}
	close(m.incomingChannels)
	close(m.incomingRequests)

	m.conn.Close()

	m.errCond.L.Lock()
	m.err = err
	m.errCond.Broadcast()
	m.errCond.L.Unlock()
}

// onePacket reads and processes one packet.
func (m *mux) onePacket() error {
	packet, err := m.conn.readPacket()
	if err != nil {
		return err
	}

	if debugMux {
		log.Println("read:", packet[0])
	}

	switch packet[0] {
	case msgChannelOpen:
		return m.handleChannelOpen(packet)
	case msgGlobalRequest, msgRequestSuccess, msgRequestFailure:
		return m.handleGlobalPacket(packet)
	case msgDisconnect:
		var msg disconnectMsg
		if err := Unmarshal(packet, &msg); err != nil {
			return err
		}
		return &DisconnectError{Reason: msg.Reason, Message: msg.Message}
	}

	// assume it's a channel packet: every channel message's first field
	// is the recipient channel id (RFC 4254 section 5).
	id, _, ok := parseUint32(packet[1:])
	if !ok {
		return &ProtocolError{Msg: "truncated channel packet"}
	}
	ch := m.chanList.getChan(id)
	if ch == nil {
		return fmt.Errorf("ssh: invalid channel %d", id)
	}
	return ch.handlePacket(packet[0], packet)
}

func (m *mux) handleGlobalPacket(packet []byte) error {
	msg, err := decode(packet)
	if err != nil {
		return err
	}

	switch msg := msg.(type) {
	case *globalRequestMsg:
		m.incomingRequests <- &Request{
			Type:      msg.Type,
			WantReply: msg.WantReply,
			Payload:   msg.Data,
			mux:       m,
		}
	case *globalRequestSuccessMsg:
		m.globalResponses <- msg
	case *globalRequestFailureMsg:
		m.globalResponses <- msg
	default:
		panic(fmt.Sprintf("not a global message %#v", msg))
	}

	return nil
}

// handleChannelOpen handles CHANNEL_OPEN, making a new channel available
// for the caller on m.incomingChannels (spec.md section 4.8). Acceptance
// decisions are the caller's -- this core's own operations (session.go)
// never need to accept an inbound open.
func (m *mux) handleChannelOpen(packet []byte) error {
	var msg channelOpenMsg
	if err := Unmarshal(packet, &msg); err != nil {
		return err
	}

	if msg.MaxPacketSize < minChannelMaxPacketSize || msg.MaxPacketSize > 1<<31 {
		failMsg := channelOpenFailureMsg{
			PeersID:  msg.PeersID,
			Reason:   ConnectionFailed,
			Message:  "invalid max packet size",
			Language: "en",
		}
		return m.sendMessage(failMsg)
	}

	c := m.newChannel(msg.ChanType, channelInbound, msg.TypeSpecificData)
	c.maxIncomingPayload = channelMaxPacket
	c.remoteId = msg.PeersID
	c.maxRemotePayload = msg.MaxPacketSize
	c.remoteWin.add(msg.PeersWindow)
	m.incomingChannels <- c
	return nil
}

func (m *mux) OpenChannel(chanType string, extra []byte) (Channel, <-chan *Request, error) {
	ch, err := m.openChannel(chanType, extra)
	if err != nil {
		return nil, nil, err
	}
	return ch, ch.incomingRequests, nil
}

func (m *mux) openChannel(chanType string, extra []byte) (*channel, error) {
	ch := m.newChannel(chanType, channelOutbound, extra)

	ch.maxIncomingPayload = channelMaxPacket

	open := channelOpenMsg{
		ChanType:         chanType,
		PeersWindow:      ch.myWindow,
		MaxPacketSize:    ch.maxIncomingPayload,
		TypeSpecificData: extra,
		PeersID:          ch.localId,
	}
	if err := m.sendMessage(open); err != nil {
		return nil, err
	}

	switch msg := (<-ch.msg).(type) {
	case *channelOpenConfirmMsg:
		return ch, nil
	case *channelOpenFailureMsg:
		return nil, &ChannelOpenError{Reason: msg.Reason, Message: msg.Message}
	default:
		return nil, fmt.Errorf("ssh: unexpected packet in response to channel open: %T", msg)
	}
}

func (m *mux) sendMessage(msg interface{}) error {
	return m.conn.writePacket(Marshal(msg))
}

func (m *mux) SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error) {
	if wantReply {
		m.globalSentMu.Lock()
		defer m.globalSentMu.Unlock()
	}

	if err := m.sendMessage(globalRequestMsg{Type: name, WantReply: wantReply, Data: payload}); err != nil {
		return false, nil, err
	}

	if !wantReply {
		return false, nil, nil
	}

	msg, ok := <-m.globalResponses
	if !ok {
		return false, nil, io.EOF
	}
	switch msg := msg.(type) {
	case *globalRequestFailureMsg:
		return false, nil, nil
	case *globalRequestSuccessMsg:
		return true, msg.Data, nil
	default:
		return false, nil, fmt.Errorf("ssh: unexpected response to request: %#v", msg)
	}
}

func (m *mux) newChannel(chanType string, direction channelDirection, extraData []byte) *channel {
	ch := &channel{
		remoteWin:  window{Cond: newCond()},
		myWindow:   channelWindowSize,
		pending:    newBuffer(),
		extPending: newBuffer(),
		direction:  direction,
		incomingRequests: make(chan *Request, 16),
		msg:        make(chan interface{}, 16),
		chanType:   chanType,
		extraData:  extraData,
		mux:        m,
	}
	ch.localId = m.chanList.add(ch)
	return ch
}

// chanList is a thread-safe channel-id -> *channel table, spec.md
// section 3's "channel table" entity.
type chanList struct {
	sync.Mutex
	chans []*channel

	// This is a counter for the per-channel id so we know which
	// channel to pass data to.
	nextChanID uint32
}

// add adds ch to the mux, assigning it a channel number.
func (c *chanList) add(ch *channel) uint32 {
	c.Lock()
	defer c.Unlock()
	for i := range c.chans {
		if c.chans[i] == nil {
			c.chans[i] = ch
			return uint32(i)
		}
	}
	c.chans = append(c.chans, ch)
	return uint32(len(c.chans) - 1)
}

// getChan finds the channel for the given ID.
func (c *chanList) getChan(id uint32) *channel {
	c.Lock()
	defer c.Unlock()
	if id < uint32(len(c.chans)) {
		return c.chans[id]
	}
	return nil
}

func (c *chanList) remove(id uint32) {
	c.Lock()
	defer c.Unlock()
	if id < uint32(len(c.chans)) {
		c.chans[id] = nil
	}
}

// dropAll forgets all channels it knows, returning them in a slice.
func (c *chanList) dropAll() []*channel {
	c.Lock()
	defer c.Unlock()
	var r []*channel
	for _, ch := range c.chans {
		if ch == nil {
			continue
		}
		r = append(r, ch)
	}
	c.chans = nil
	return r
}
