// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel is a minimal in-memory Channel double for exercising
// Session's request/reply plumbing without a real transport.
type fakeChannel struct {
	closed    bool
	requests  []fakeRequest
	replyWith bool

	stdout bytes.Buffer
	stderr bytes.Buffer
}

type fakeRequest struct {
	name      string
	wantReply bool
	payload   []byte
}

func (f *fakeChannel) Read(p []byte) (int, error)  { return f.stdout.Read(p) }
func (f *fakeChannel) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakeChannel) Close() error                { f.closed = true; return nil }
func (f *fakeChannel) CloseWrite() error            { return nil }
func (f *fakeChannel) Stderr() io.ReadWriter        { return &f.stderr }

func (f *fakeChannel) SendRequest(name string, wantReply bool, payload []byte) (bool, error) {
	f.requests = append(f.requests, fakeRequest{name, wantReply, payload})
	return f.replyWith, nil
}

func TestSessionRunSuccess(t *testing.T) {
	ch := &fakeChannel{replyWith: true}
	in := make(chan *Request, 1)
	s, err := newSession(ch, in)
	require.NoError(t, err)

	in <- &Request{Type: "exit-status", Payload: Marshal(&exitStatusMsg{Status: 0})}

	err = s.Run("true")
	require.NoError(t, err)
	require.Len(t, ch.requests, 1)
	assert.Equal(t, "exec", ch.requests[0].name)
	close(in)
}

func TestSessionRunNonZeroExit(t *testing.T) {
	ch := &fakeChannel{replyWith: true}
	in := make(chan *Request, 1)
	s, err := newSession(ch, in)
	require.NoError(t, err)

	in <- &Request{Type: "exit-status", Payload: Marshal(&exitStatusMsg{Status: 1})}

	err = s.Run("false")
	require.Error(t, err)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Status)
	close(in)
}

func TestSessionExitBySignal(t *testing.T) {
	ch := &fakeChannel{replyWith: true}
	in := make(chan *Request, 1)
	s, err := newSession(ch, in)
	require.NoError(t, err)

	sigMsg := exitSignalMsg{Signal: string(SIGKILL), Error: "killed"}
	in <- &Request{Type: "exit-signal", Payload: Marshal(&sigMsg)}

	err = s.Run("sleep 100")
	require.Error(t, err)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, "KILL", exitErr.Signal)
	close(in)
}

func TestSessionRequestFailureSurfacesError(t *testing.T) {
	ch := &fakeChannel{replyWith: false}
	in := make(chan *Request)
	s, err := newSession(ch, in)
	require.NoError(t, err)

	err = s.Start("cmd")
	require.Error(t, err)
	close(in)
}

func TestSessionDoubleStartRejected(t *testing.T) {
	ch := &fakeChannel{replyWith: true}
	in := make(chan *Request, 1)
	s, err := newSession(ch, in)
	require.NoError(t, err)

	in <- &Request{Type: "exit-status", Payload: Marshal(&exitStatusMsg{Status: 0})}
	require.NoError(t, s.Start("one"))
	err = s.Start("two")
	require.Error(t, err)
	require.NoError(t, s.Wait())
	close(in)
}

func TestSessionSetenvRequest(t *testing.T) {
	ch := &fakeChannel{replyWith: true}
	in := make(chan *Request)
	s, err := newSession(ch, in)
	require.NoError(t, err)

	require.NoError(t, s.Setenv("LANG", "C"))
	require.Len(t, ch.requests, 1)
	assert.Equal(t, "env", ch.requests[0].name)
	close(in)
}

func TestSessionOutputCapturesStdout(t *testing.T) {
	ch := &fakeChannel{replyWith: true}
	ch.stdout.WriteString("hello\n")
	in := make(chan *Request, 1)
	s, err := newSession(ch, in)
	require.NoError(t, err)

	in <- &Request{Type: "exit-status", Payload: Marshal(&exitStatusMsg{Status: 0})}

	out, err := s.Output("echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
	close(in)
}
