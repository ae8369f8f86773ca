// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

type ptyRequestMsg struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

type exitStatusMsg struct {
	Status uint32
}

type exitSignalMsg struct {
	Signal     string
	CoreDumped bool
	Error      string
	Lang       string
}

// Signal names recognized by the exit-signal request, RFC 4254 section 6.10.
type Signal string

const (
	SIGABRT Signal = "ABRT"
	SIGALRM Signal = "ALRM"
	SIGFPE  Signal = "FPE"
	SIGHUP  Signal = "HUP"
	SIGILL  Signal = "ILL"
	SIGINT  Signal = "INT"
	SIGKILL Signal = "KILL"
	SIGPIPE Signal = "PIPE"
	SIGQUIT Signal = "QUIT"
	SIGSEGV Signal = "SEGV"
	SIGTERM Signal = "TERM"
	SIGUSR1 Signal = "USR1"
	SIGUSR2 Signal = "USR2"
)

// TerminalModes is a set of opcode/value pairs from RFC 4254 section 8,
// carried in the pty-req's encoded-terminal-modes string.
type TerminalModes map[uint8]uint32

func (m TerminalModes) marshal() []byte {
	var out []byte
	for k, v := range m {
		out = append(out, k)
		out = appendU32(out, v)
	}
	out = append(out, 0) // TTY_OP_END
	return out
}

// Session represents a connection to a remote command or shell, per
// spec.md section 4.9: a "session" channel carrying the pty-req/
// env/shell/exec/subsystem/window-change/signal requests and the
// exit-status/exit-signal replies.
//
// Stdin, Stdout and Stderr, if non-nil, are wired to the channel's data
// and extended-data streams when Start or Shell is called, mirroring
// os/exec.Cmd.
type Session struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	ch Channel
	in <-chan *Request

	mu         sync.Mutex
	started    bool
	copyFuncs  []func() error
	exitStatus chan error
}

func newSession(ch Channel, in <-chan *Request) (*Session, error) {
	s := &Session{
		ch:         ch,
		in:         in,
		exitStatus: make(chan error, 1),
	}
	go s.handleRequests()
	return s, nil
}

// handleRequests is the session's single consumer of in: it watches for
// the terminal exit-status/exit-signal request and answers anything else
// with CHANNEL_FAILURE, matching OpenSSH's behavior for requests clients
// don't implement.
func (s *Session) handleRequests() {
	for req := range s.in {
		switch req.Type {
		case "exit-status":
			var msg exitStatusMsg
			if err := Unmarshal(req.Payload, &msg); err != nil {
				s.exitStatus <- err
				continue
			}
			if msg.Status == 0 {
				s.exitStatus <- nil
			} else {
				s.exitStatus <- &ExitError{Status: int(msg.Status)}
			}
		case "exit-signal":
			var msg exitSignalMsg
			if err := Unmarshal(req.Payload, &msg); err != nil {
				s.exitStatus <- err
				continue
			}
			s.exitStatus <- &ExitError{
				Signal:     msg.Signal,
				CoreDumped: msg.CoreDumped,
				Msg:        msg.Error,
				Lang:       msg.Lang,
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// RequestPty requests a pseudo-terminal, per spec.md section 4.9.
func (s *Session) RequestPty(term string, h, w int, modes TerminalModes) error {
	req := ptyRequestMsg{
		Term:     term,
		Columns:  uint32(w),
		Rows:     uint32(h),
		Width:    uint32(w * 8),
		Height:   uint32(h * 8),
		Modelist: string(modes.marshal()),
	}
	ok, err := s.ch.SendRequest("pty-req", true, marshalPtyRequest(req))
	if err == nil && !ok {
		return errors.New("ssh: pty-req failed")
	}
	return err
}

func marshalPtyRequest(req ptyRequestMsg) []byte {
	out := appendString(nil, req.Term)
	out = appendU32(out, req.Columns)
	out = appendU32(out, req.Rows)
	out = appendU32(out, req.Width)
	out = appendU32(out, req.Height)
	out = appendString(out, req.Modelist)
	return out
}

// WindowChange informs the remote host of a local terminal resize.
func (s *Session) WindowChange(h, w int) error {
	out := appendU32(nil, uint32(w))
	out = appendU32(out, uint32(h))
	out = appendU32(out, uint32(w*8))
	out = appendU32(out, uint32(h*8))
	_, err := s.ch.SendRequest("window-change", false, out)
	return err
}

// Signal sends the given signal to the remote process, RFC 4254 section 6.9.
func (s *Session) Signal(sig Signal) error {
	out := appendString(nil, string(sig))
	_, err := s.ch.SendRequest("signal", false, out)
	return err
}

// Setenv sets an environment variable that will be applied to any
// command executed by Shell, Run or Start. Many servers restrict which
// names may be set this way; see AcceptEnv in sshd_config(5).
func (s *Session) Setenv(name, value string) error {
	out := appendString(nil, name)
	out = appendString(out, value)
	ok, err := s.ch.SendRequest("env", true, out)
	if err == nil && !ok {
		return errors.New("ssh: setenv failed")
	}
	return err
}

// SendRequest sends a channel request on the session's underlying
// channel, for request types this Session has no dedicated method for.
func (s *Session) SendRequest(name string, wantReply bool, payload []byte) (bool, error) {
	return s.ch.SendRequest(name, wantReply, payload)
}

// start wires Stdin/Stdout/Stderr to the channel (if set) and sends the
// request that actually starts the remote process.
func (s *Session) start(reqType string, payload []byte) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("ssh: session already started")
	}
	s.started = true
	s.mu.Unlock()

	if s.Stdin != nil {
		s.copyFuncs = append(s.copyFuncs, func() error {
			_, err := io.Copy(s.ch, s.Stdin)
			if err1 := s.ch.CloseWrite(); err == nil && err1 != io.EOF {
				err = err1
			}
			return err
		})
	}
	if s.Stdout != nil {
		s.copyFuncs = append(s.copyFuncs, func() error {
			_, err := io.Copy(s.Stdout, s.ch)
			if c, ok := s.Stdout.(io.Closer); ok {
				c.Close()
			}
			return err
		})
	}
	if s.Stderr != nil {
		s.copyFuncs = append(s.copyFuncs, func() error {
			_, err := io.Copy(s.Stderr, s.ch.Stderr())
			if c, ok := s.Stderr.(io.Closer); ok {
				c.Close()
			}
			return err
		})
	}

	ok, err := s.ch.SendRequest(reqType, true, payload)
	if err == nil && !ok {
		return fmt.Errorf("ssh: %s request failed", reqType)
	}
	if err != nil {
		return err
	}
	for i, fn := range s.copyFuncs {
		done := make(chan error, 1)
		go func(fn func() error) { done <- fn() }(fn)
		s.copyFuncs[i] = func() error { return <-done }
	}
	return nil
}

// Run runs cmd on the remote host, blocking until the command terminates
// and returning an *ExitError if it exits non-zero, or nil on success.
func (s *Session) Run(cmd string) error {
	if err := s.Start(cmd); err != nil {
		return err
	}
	return s.Wait()
}

// Start runs cmd asynchronously on the remote host.
func (s *Session) Start(cmd string) error {
	return s.start("exec", appendString(nil, cmd))
}

// Shell starts a login shell on the remote host.
func (s *Session) Shell() error {
	return s.start("shell", nil)
}

// RequestSubsystem requests a remote subsystem by name, e.g. "sftp"; the
// subsystem itself is out of scope (spec.md section 1 Non-goals), but
// the request/reply and data-plumbing are not.
func (s *Session) RequestSubsystem(subsystem string) error {
	return s.start("subsystem", appendString(nil, subsystem))
}

// Wait waits for the remote command to exit and the Stdin/Stdout/Stderr
// copies, if any, to finish.
func (s *Session) Wait() error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("ssh: session not started")
	}
	waitErr := <-s.exitStatus

	var copyError error
	for _, fn := range s.copyFuncs {
		if err := fn(); err != nil && copyError == nil {
			copyError = err
		}
	}
	if waitErr != nil {
		return waitErr
	}
	return copyError
}

// ExitError is returned by Wait/Run when the remote process exits
// non-zero, or is terminated by a signal (spec.md section 4.9).
type ExitError struct {
	Status     int
	Signal     string
	CoreDumped bool
	Msg        string
	Lang       string
}

func (e *ExitError) Error() string {
	if e.Signal != "" {
		s := "ssh: remote process terminated by signal " + e.Signal
		if e.Msg != "" {
			s += ": " + e.Msg
		}
		return s
	}
	return fmt.Sprintf("ssh: process exited with status %d", e.Status)
}

// StdinPipe returns a pipe that will be connected to the remote
// command's standard input once the command starts.
func (s *Session) StdinPipe() (io.WriteCloser, error) {
	if s.Stdin != nil {
		return nil, errors.New("ssh: Stdin already set")
	}
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		return nil, errors.New("ssh: StdinPipe after process started")
	}
	pr, pw := io.Pipe()
	s.Stdin = pr
	return pw, nil
}

// StdoutPipe returns a pipe that will be connected to the remote
// command's standard output once the command starts. Unlike Run/Wait,
// the caller must read pr to EOF before calling Wait.
func (s *Session) StdoutPipe() (io.Reader, error) {
	if s.Stdout != nil {
		return nil, errors.New("ssh: Stdout already set")
	}
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		return nil, errors.New("ssh: StdoutPipe after process started")
	}
	pr, pw := io.Pipe()
	s.Stdout = pw
	return pr, nil
}

// StderrPipe returns a pipe that will be connected to the remote
// command's extended-data (stderr) stream once the command starts.
func (s *Session) StderrPipe() (io.Reader, error) {
	if s.Stderr != nil {
		return nil, errors.New("ssh: Stderr already set")
	}
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		return nil, errors.New("ssh: StderrPipe after process started")
	}
	pr, pw := io.Pipe()
	s.Stderr = pw
	return pr, nil
}

// Output runs cmd and returns its standard output.
func (s *Session) Output(cmd string) ([]byte, error) {
	if s.Stdout != nil {
		return nil, errors.New("ssh: Stdout already set")
	}
	var b bytes.Buffer
	s.Stdout = &b
	err := s.Run(cmd)
	return b.Bytes(), err
}

// CombinedOutput runs cmd and returns its combined standard output and
// standard error.
func (s *Session) CombinedOutput(cmd string) ([]byte, error) {
	if s.Stdout != nil {
		return nil, errors.New("ssh: Stdout already set")
	}
	if s.Stderr != nil {
		return nil, errors.New("ssh: Stderr already set")
	}
	var b singleWriter
	s.Stdout = &b
	s.Stderr = &b
	err := s.Run(cmd)
	return b.b.Bytes(), err
}

type singleWriter struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (w *singleWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.Write(p)
}

// Close closes the session's underlying channel.
func (s *Session) Close() error {
	return s.ch.Close()
}
