// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferReadWrite(t *testing.T) {
	b := newBuffer()
	b.write([]byte("hello "))
	b.write([]byte("world"))

	got := make([]byte, 64)
	n, err := b.Read(got)
	require.NoError(t, err)
	assert.Equal(t, "hello ", string(got[:n]))

	n, err = b.Read(got)
	require.NoError(t, err)
	assert.Equal(t, "world", string(got[:n]))
}

func TestBufferReadBlocksUntilWrite(t *testing.T) {
	b := newBuffer()
	done := make(chan struct{})
	var n int
	var err error
	go func() {
		got := make([]byte, 8)
		n, err = b.Read(got)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Read returned before any data was written")
	case <-time.After(20 * time.Millisecond):
	}

	b.write([]byte("ok"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after write")
	}
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBufferEOF(t *testing.T) {
	b := newBuffer()
	b.write([]byte("x"))
	b.eof()

	got := make([]byte, 8)
	n, err := b.Read(got)
	require.NoError(t, err)
	assert.Equal(t, "x", string(got[:n]))

	_, err = b.Read(got)
	assert.Equal(t, io.EOF, err)
}

func TestBufferClose(t *testing.T) {
	b := newBuffer()
	want := io.ErrClosedPipe
	b.close(want)

	_, err := b.Read(make([]byte, 1))
	assert.Equal(t, want, err)

	// a second close must not override the first error.
	b.close(io.EOF)
	_, err = b.Read(make([]byte, 1))
	assert.Equal(t, want, err)
}
