// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"fmt"
	"io"
	"sync"
)

const (
	minChannelMaxPacketSize = 1024
	// channelWindowSize is the initial receive window size offered for
	// every channel this core opens (spec.md section 3, Channel entity:
	// "receive-window ... advertised to the peer").
	channelWindowSize = 1 << 24
	// channelMaxPacket bounds the payload size of a single
	// CHANNEL_DATA/EXTENDED_DATA message we are willing to receive.
	channelMaxPacket = 1 << 15
)

// Channel open failure reason codes, RFC 4254 section 5.1.
const (
	ConnectionFailed               = 2
	UnknownChannelType              = 3
	ResourceShortage                = 4
)

// NewChannel represents an incoming request to open a channel (spec.md
// section 4.8). It must be accepted or rejected.
type NewChannel interface {
	Accept() (Channel, <-chan *Request, error)
	Reject(reason uint32, message string) error
	ChannelType() string
	ExtraData() []byte
}

// Channel is an SSH channel, an io.ReadWriteCloser that also carries
// out-of-band requests and an extended-data stream (spec.md section
// 4.8/4.9).
type Channel interface {
	io.Reader
	io.Writer
	io.Closer

	CloseWrite() error
	SendRequest(name string, wantReply bool, payload []byte) (bool, error)
	Stderr() io.ReadWriter
}

// Request is a request sent outside of the normal stream of data
// (spec.md section 4.9, pty-req/shell/exec/env/window-change/signal/
// exit-status).
type Request struct {
	Type      string
	WantReply bool
	Payload   []byte

	ch  *channel
	mux *mux
}

// Reply sends a response to a request. It must be called for all requests
// where WantReply is true and is a no-op otherwise.
func (r *Request) Reply(ok bool, payload []byte) error {
	if !r.WantReply {
		return nil
	}
	if r.ch == nil {
		return r.mux.ackRequest(ok, payload)
	}
	return r.ch.ackRequest(ok)
}

type channelDirection uint8

const (
	channelInbound channelDirection = iota
	channelOutbound
)

// channel implements Channel and NewChannel, following the lifecycle in
// spec.md section 4.8: Opening -> Open -> (local/remote EOF) ->
// Closing -> Closed.
type channel struct {
	// channelIdent fields, set at creation.
	localId, remoteId uint32
	chanType          string
	extraData         []byte
	direction         channelDirection

	mux *mux

	// flow control (spec.md section 3, Channel entity).
	maxIncomingPayload uint32
	maxRemotePayload   uint32
	myWindow           uint32
	remoteWin          window

	pending    *buffer
	extPending *buffer

	// windowMu guards pendingAdjust, the bytes consumed from pending/
	// extPending since the last CHANNEL_WINDOW_ADJUST we sent: batched
	// until it crosses half the initial window (spec.md section 4.9)
	// instead of sending one per Read.
	windowMu      sync.Mutex
	pendingAdjust uint32

	// msg carries control replies (open confirm/failure, request
	// success/failure) to the goroutine that initiated the exchange.
	msg chan interface{}

	incomingRequests chan *Request

	mu           sync.Mutex
	sentEOF      bool
	sentClose    bool
	remoteClosed bool
	remoteEOF    bool
	torndown     bool
}

func (ch *channel) Accept() (Channel, <-chan *Request, error) {
	confirm := channelOpenConfirmMsg{
		PeersID:       ch.remoteId,
		MyID:          ch.localId,
		MyWindow:      ch.myWindow,
		MaxPacketSize: ch.maxIncomingPayload,
	}
	if err := ch.mux.sendMessage(confirm); err != nil {
		return nil, nil, err
	}
	return ch, ch.incomingRequests, nil
}

func (ch *channel) Reject(reason uint32, message string) error {
	reject := channelOpenFailureMsg{
		PeersID:  ch.remoteId,
		Reason:   reason,
		Message:  message,
		Language: "en",
	}
	return ch.mux.sendMessage(reject)
}

func (ch *channel) ChannelType() string { return ch.chanType }
func (ch *channel) ExtraData() []byte   { return ch.extraData }

// handlePacket dispatches one channel-scoped message to this channel,
// called from mux.onePacket's read loop -- there is exactly one reader
// goroutine per connection, so no locking is needed around the dispatch
// itself (spec.md section 5). data is the full packet, including its
// leading message-number byte.
func (ch *channel) handlePacket(typ byte, data []byte) error {
	switch typ {
	case msgChannelData:
		var msg channelDataMsg
		if err := Unmarshal(data, &msg); err != nil {
			return err
		}
		return ch.handleData(0, msg.Rest)
	case msgChannelExtendedData:
		var msg channelExtendedDataMsg
		if err := Unmarshal(data, &msg); err != nil {
			return err
		}
		if msg.DataTypeCode != extendedDataStderr {
			return &ProtocolError{Msg: fmt.Sprintf("unexpected extended data type %d", msg.DataTypeCode)}
		}
		return ch.handleData(msg.DataTypeCode, msg.Rest)
	case msgChannelClose:
		ch.mu.Lock()
		ch.remoteClosed = true
		alreadyDown := ch.torndown
		ch.torndown = true
		ch.mu.Unlock()
		ch.pending.eof()
		ch.extPending.eof()
		if !alreadyDown {
			close(ch.incomingRequests)
			close(ch.msg)
		}
		if !ch.sentClose {
			ch.sentClose = true
			ch.mux.sendMessage(channelCloseMsg{PeersID: ch.remoteId})
		}
		ch.mux.chanList.remove(ch.localId)
		return nil
	case msgChannelEOF:
		ch.mu.Lock()
		ch.remoteEOF = true
		ch.mu.Unlock()
		ch.pending.eof()
		ch.extPending.eof()
		return nil
	case msgChannelWindowAdjust:
		var msg channelWindowAdjustMsg
		if err := Unmarshal(data, &msg); err != nil {
			return err
		}
		if !ch.remoteWin.add(msg.AdditionalBytes) {
			return &ProtocolError{Msg: "illegal window update"}
		}
		return nil
	case msgChannelRequest:
		var msg channelRequestMsg
		if err := Unmarshal(data, &msg); err != nil {
			return err
		}
		ch.incomingRequests <- &Request{
			Type:      msg.Request,
			WantReply: msg.WantReply,
			Payload:   msg.RequestSpecificData,
			ch:        ch,
		}
		return nil
	case msgChannelSuccess:
		select {
		case ch.msg <- true:
		default:
		}
		return nil
	case msgChannelFailure:
		select {
		case ch.msg <- false:
		default:
		}
		return nil
	case msgChannelOpenConfirm:
		var msg channelOpenConfirmMsg
		if err := Unmarshal(data, &msg); err != nil {
			return err
		}
		ch.remoteId = msg.MyID
		ch.maxRemotePayload = msg.MaxPacketSize
		ch.remoteWin.add(msg.MyWindow)
		ch.msg <- &msg
		return nil
	case msgChannelOpenFailure:
		var msg channelOpenFailureMsg
		if err := Unmarshal(data, &msg); err != nil {
			return err
		}
		ch.msg <- &msg
		return nil
	default:
		return fmt.Errorf("ssh: unexpected channel message type %d", typ)
	}
}

const extendedDataStderr = 1

func (ch *channel) handleData(extType uint32, data []byte) error {
	if extType == 0 {
		ch.pending.write(data)
	} else {
		ch.extPending.write(data)
	}
	ch.mux.metrics.observeChannelBytes("in", len(data))
	return nil
}

// ackRequest replies to a pending channel request with CHANNEL_SUCCESS or
// CHANNEL_FAILURE.
func (ch *channel) ackRequest(ok bool) error {
	if ok {
		return ch.mux.sendMessage(channelRequestSuccessMsg{PeersID: ch.remoteId})
	}
	return ch.mux.sendMessage(channelRequestFailureMsg{PeersID: ch.remoteId})
}

// ackRequest on mux answers a global request.
func (m *mux) ackRequest(ok bool, payload []byte) error {
	if ok {
		return m.sendMessage(globalRequestSuccessMsg{Data: payload})
	}
	return m.sendMessage(globalRequestFailureMsg{})
}

func (ch *channel) Read(data []byte) (int, error) {
	n, err := ch.pending.Read(data)
	if n > 0 {
		ch.adjustWindow(uint32(n))
	}
	return n, err
}

// Stderr returns an io.ReadWriter that reads/writes the channel's
// extended-data stream (spec.md section 4.9: stderr for "session"
// channels). Write sends the data as CHANNEL_EXTENDED_DATA of type
// stderr, through SendExtended.
func (ch *channel) Stderr() io.ReadWriter {
	return extChannel{ch}
}

type extChannel struct {
	ch *channel
}

func (e extChannel) Read(data []byte) (int, error) {
	n, err := e.ch.extPending.Read(data)
	if n > 0 {
		e.ch.adjustWindow(uint32(n))
	}
	return n, err
}

func (e extChannel) Write(data []byte) (int, error) {
	return e.ch.SendExtended(extendedDataStderr, data)
}

// adjustWindow accounts for n more bytes consumed from the receive
// window and, once the running total crosses half of the initial
// window (spec.md section 4.9's replenish-at-50% policy), sends a
// single CHANNEL_WINDOW_ADJUST for everything consumed since the last
// one instead of one per Read.
func (ch *channel) adjustWindow(n uint32) {
	if n == 0 {
		return
	}
	ch.windowMu.Lock()
	ch.pendingAdjust += n
	adj := ch.pendingAdjust
	if adj < channelWindowSize/2 {
		ch.windowMu.Unlock()
		return
	}
	ch.pendingAdjust = 0
	ch.windowMu.Unlock()
	ch.mux.sendMessage(channelWindowAdjustMsg{PeersID: ch.remoteId, AdditionalBytes: adj})
}

func (ch *channel) Write(data []byte) (int, error) {
	return ch.SendExtended(0, data)
}

// SendExtended writes data to the channel, splitting it across multiple
// CHANNEL_DATA/EXTENDED_DATA frames bounded by both the peer's
// advertised max packet size and its remaining receive window (spec.md
// section 3: "we never transmit data beyond the peer's advertised
// window").
func (ch *channel) SendExtended(extType uint32, data []byte) (n int, err error) {
	for len(data) > 0 {
		want := uint32(len(data))
		if want > ch.maxRemotePayload {
			want = ch.maxRemotePayload
		}
		space, rerr := ch.remoteWin.reserve(want)
		if space == 0 && rerr != nil {
			return n, rerr
		}
		if space > ch.maxRemotePayload {
			space = ch.maxRemotePayload
		}
		if space > uint32(len(data)) {
			space = uint32(len(data))
		}
		var msg interface{}
		if extType == 0 {
			msg = channelDataMsg{PeersID: ch.remoteId, Length: space, Rest: data[:space]}
		} else {
			msg = channelExtendedDataMsg{PeersID: ch.remoteId, DataTypeCode: extType, Length: space, Rest: data[:space]}
		}
		if err := ch.mux.sendMessage(msg); err != nil {
			return n, err
		}
		n += int(space)
		data = data[space:]
	}
	ch.mux.metrics.observeChannelBytes("out", n)
	return n, nil
}

func (ch *channel) SendRequest(name string, wantReply bool, payload []byte) (bool, error) {
	if err := ch.mux.sendMessage(channelRequestMsg{
		PeersID:             ch.remoteId,
		Request:             name,
		WantReply:           wantReply,
		RequestSpecificData: payload,
	}); err != nil {
		return false, err
	}
	if !wantReply {
		return false, nil
	}
	m, ok := <-ch.msg
	if !ok {
		return false, &CancelledError{}
	}
	ok2, _ := m.(bool)
	return ok2, nil
}

func (ch *channel) Close() error {
	ch.mu.Lock()
	if ch.sentClose {
		ch.mu.Unlock()
		return nil
	}
	ch.sentClose = true
	ch.mu.Unlock()
	return ch.mux.sendMessage(channelCloseMsg{PeersID: ch.remoteId})
}

// CloseWrite signals no more data is coming, per spec.md section 4.9's
// EOF message.
func (ch *channel) CloseWrite() error {
	ch.mu.Lock()
	if ch.sentEOF {
		ch.mu.Unlock()
		return nil
	}
	ch.sentEOF = true
	ch.mu.Unlock()
	return ch.mux.sendMessage(channelEOFMsg{PeersID: ch.remoteId})
}

// close tears a channel down when the underlying mux has failed (e.g.
// the connection was lost), unblocking any goroutine waiting on it.
func (ch *channel) close() {
	ch.pending.close(io.EOF)
	ch.extPending.close(io.EOF)
	ch.mu.Lock()
	alreadyDown := ch.torndown
	ch.torndown = true
	ch.mu.Unlock()
	if !alreadyDown {
		close(ch.incomingRequests)
		close(ch.msg)
	}
}
