// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"
)

// Conn represents an authenticated SSH connection, the result of a
// completed handshake and userauth (spec.md section 3, Session entity).
type Conn interface {
	User() string
	SessionID() []byte
	ClientVersion() []byte
	ServerVersion() []byte
	RemoteAddr() net.Addr
	LocalAddr() net.Addr

	SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)
	OpenChannel(name string, data []byte) (Channel, <-chan *Request, error)

	Close() error
	Wait() error
}

// sshConn wraps the raw net.Conn with the username used to authenticate
// it and implements the addressing parts of Conn.
type sshConn struct {
	conn net.Conn
	user string
}

func (c *sshConn) User() string          { return c.user }
func (c *sshConn) RemoteAddr() net.Addr  { return c.conn.RemoteAddr() }
func (c *sshConn) LocalAddr() net.Addr   { return c.conn.LocalAddr() }
func (c *sshConn) Close() error          { return c.conn.Close() }

// connection is the concrete Conn: a handshaked transport plus the
// connection-protocol multiplexer on top of it.
type connection struct {
	sshConn
	transport *handshakeTransport
	mux       *mux

	clientVersion []byte
	serverVersion []byte
}

func (c *connection) SessionID() []byte        { return c.transport.getSessionID() }
func (c *connection) ClientVersion() []byte    { return append([]byte(nil), c.clientVersion...) }
func (c *connection) ServerVersion() []byte    { return append([]byte(nil), c.serverVersion...) }
func (c *connection) Wait() error              { return c.mux.Wait() }
func (c *connection) Close() error              { return c.sshConn.Close() }
func (c *connection) SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error) {
	return c.mux.SendRequest(name, wantReply, payload)
}
func (c *connection) OpenChannel(name string, data []byte) (Channel, <-chan *Request, error) {
	return c.mux.OpenChannel(name, data)
}

// Client implements a traditional SSH client: interactive sessions over
// an authenticated Conn (spec.md section 4.8/4.9). Port forwarding and
// agent/X11 forwarding are non-goals (spec.md section 1).
type Client struct {
	Conn

	mu              sync.Mutex
	channelHandlers map[string]chan NewChannel
}

// HandleChannelOpen returns a channel on which NewChannel requests for
// the given type are sent. If the type is already being handled, nil is
// returned. The channel is closed when the connection is closed.
func (c *Client) HandleChannelOpen(channelType string) <-chan NewChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channelHandlers == nil {
		ch := make(chan NewChannel)
		close(ch)
		return ch
	}

	ch := c.channelHandlers[channelType]
	if ch != nil {
		return nil
	}

	ch = make(chan NewChannel, 16)
	c.channelHandlers[channelType] = ch
	return ch
}

// NewClient creates a Client on top of the given connection.
func NewClient(c Conn, chans <-chan NewChannel, reqs <-chan *Request) *Client {
	conn := &Client{
		Conn:            c,
		channelHandlers: make(map[string]chan NewChannel, 1),
	}

	go conn.handleGlobalRequests(reqs)
	go conn.handleChannelOpens(chans)
	return conn
}

// NewClientConn establishes an authenticated SSH connection using c as
// the underlying transport. The Request and NewChannel channels must be
// serviced or the connection will hang.
func NewClientConn(c net.Conn, addr string, config *ClientConfig) (Conn, <-chan NewChannel, <-chan *Request, error) {
	fullConf := *config
	fullConf.SetDefaults()
	conn := &connection{
		sshConn: sshConn{conn: c, user: fullConf.User},
	}

	if err := conn.clientHandshake(addr, &fullConf); err != nil {
		c.Close()
		return nil, nil, nil, fmt.Errorf("ssh: handshake failed: %w", err)
	}
	conn.mux = newMux(conn.transport, fullConf.Metrics)
	return conn, conn.mux.incomingChannels, conn.mux.incomingRequests, nil
}

// clientHandshake performs the client side of the SSH handshake: version
// exchange, key exchange, and user authentication (spec.md section
// 4.4/4.6/4.7).
func (c *connection) clientHandshake(dialAddress string, config *ClientConfig) error {
	start := time.Now()

	if config.ClientVersion != "" {
		c.clientVersion = []byte(config.ClientVersion)
	} else {
		c.clientVersion = packageVersion
	}

	br := bufio.NewReader(c.sshConn.conn)

	var err error
	c.serverVersion, err = exchangeVersions(c.sshConn.conn, br, c.clientVersion)
	if err != nil {
		c.observeHandshakeFailure(config, err, start)
		return err
	}
	config.logger().Debugf("ssh: server identification string %q", c.serverVersion)

	// Reuse br for the packet layer: a server may pipeline its KEXINIT
	// right behind the version banner, and those bytes are already
	// sitting in br's internal buffer.
	c.transport = newClientTransport(
		newTransport(c.sshConn.conn, br, config.Rand, true /* is client */),
		c.clientVersion, c.serverVersion, config, dialAddress, c.sshConn.RemoteAddr())

	if err := c.transport.requestInitialKeyChange(); err != nil {
		c.observeHandshakeFailure(config, err, start)
		return err
	}

	if err := c.clientAuthenticate(config); err != nil {
		c.observeHandshakeFailure(config, err, start)
		return err
	}

	if config.Metrics != nil {
		config.Metrics.observeHandshake("success", nil)
		config.Metrics.observeHandshakeDuration(time.Since(start))
	}
	return nil
}

func (c *connection) observeHandshakeFailure(config *ClientConfig, err error, start time.Time) {
	config.logger().Debugf("ssh: handshake failed: %v", err)
	if config.Metrics != nil {
		config.Metrics.observeHandshake("failure", err)
		config.Metrics.observeHandshakeDuration(time.Since(start))
	}
}

// NewSession opens a new Session for this client -- the remote execution
// of a program over a "session" channel (spec.md section 4.9).
func (c *Client) NewSession() (*Session, error) {
	ch, in, err := c.OpenChannel("session", nil)
	if err != nil {
		return nil, err
	}
	return newSession(ch, in)
}

func (c *Client) handleGlobalRequests(incoming <-chan *Request) {
	for r := range incoming {
		// Matches OpenSSH's behavior for requests it does not implement
		// (e.g. keepalive@openssh.com probes).
		r.Reply(false, nil)
	}
}

// handleChannelOpens dispatches inbound CHANNEL_OPEN requests the server
// sends us. A client core rarely needs to service these; anything
// without a registered handler is rejected.
func (c *Client) handleChannelOpens(in <-chan NewChannel) {
	for ch := range in {
		c.mu.Lock()
		handler := c.channelHandlers[ch.ChannelType()]
		c.mu.Unlock()

		if handler != nil {
			handler <- ch
		} else {
			ch.Reject(UnknownChannelType, fmt.Sprintf("unknown channel type: %v", ch.ChannelType()))
		}
	}

	c.mu.Lock()
	for _, ch := range c.channelHandlers {
		close(ch)
	}
	c.channelHandlers = nil
	c.mu.Unlock()
}

// Dial starts a client connection to the given SSH server: it connects
// to addr, runs the handshake, and wraps the result in a Client. For
// access to incoming channels/requests, use net.Dial with NewClientConn
// instead.
func Dial(network, addr string, config *ClientConfig) (*Client, error) {
	conn, err := net.DialTimeout(network, addr, config.Timeout)
	if err != nil {
		return nil, err
	}
	if config.Timeout != 0 {
		conn.SetDeadline(time.Now().Add(config.Timeout))
	}
	c, chans, reqs, err := NewClientConn(conn, addr, config)
	if err != nil {
		return nil, err
	}
	if config.Timeout != 0 {
		conn.SetDeadline(time.Time{})
	}
	return NewClient(c, chans, reqs), nil
}

// BannerCallback is called to handle any banner message sent by the
// server during authentication (spec.md section 4.7).
type BannerCallback func(message string) error

// ClientConfig configures a Client. It must not be modified after being
// passed to an SSH function.
type ClientConfig struct {
	// Config is shared transport/kex/cipher configuration (spec.md
	// section 4.2).
	Config

	// User is the username to authenticate as.
	User string

	// Auth lists authentication methods to try, in order. Only the
	// first instance of a particular RFC 4252 method name is used.
	Auth []AuthMethod

	// HostKeyCallback validates the server's host key during the
	// handshake (spec.md section 4.6 step 4). A nil HostKeyCallback
	// accepts any host key -- callers that care about host
	// verification must supply one; this package provides no ready-made
	// callbacks.
	HostKeyCallback func(hostname string, remote net.Addr, key PublicKey) error

	// BannerCallback, if set, receives SSH_MSG_USERAUTH_BANNER text.
	BannerCallback BannerCallback

	// ClientVersion overrides the default identification string sent
	// during version exchange (spec.md section 4.4).
	ClientVersion string

	// HostKeyAlgorithms lists the host-key algorithms we accept from the
	// server, in preference order. If empty, supportedHostKeyAlgos is
	// used.
	HostKeyAlgorithms []string

	// Timeout bounds how long Dial may take to establish the TCP
	// connection and, separately, to complete the SSH handshake and
	// authentication. A Timeout of zero means no timeout.
	Timeout time.Duration

	// DontAuthenticate, if true, sends the "none" authentication
	// request to collect the server's advertised method names, then
	// returns without attempting any configured AuthMethod.
	DontAuthenticate bool
}
