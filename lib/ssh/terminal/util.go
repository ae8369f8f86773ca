// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package terminal provides the local tty support a client uses to drive
// an interactive Shell session opened over an SSH channel (spec.md
// section 4.9): putting the local terminal into raw mode so keystrokes
// pass through uninterpreted, and reading its current size for the
// pty-req/window-change requests.
package terminal

import (
	"fmt"
	"syscall"
	"unsafe"
)

// State contains the state of a terminal, as saved by MakeRaw, so that
// it can be restored with Restore.
type State struct {
	termios syscall.Termios
}

// IsTerminal returns whether fd is a terminal.
func IsTerminal(fd int) bool {
	var termios syscall.Termios
	_, _, err := syscall.Syscall6(syscall.SYS_IOCTL, uintptr(fd), ioctlReadTermios, uintptr(unsafe.Pointer(&termios)), 0, 0, 0)
	return err == 0
}

// MakeRaw puts the terminal connected to the given file descriptor into
// raw mode and returns the previous state so it can be restored.
func MakeRaw(fd int) (*State, error) {
	var oldState State
	if _, _, err := syscall.Syscall6(syscall.SYS_IOCTL, uintptr(fd), ioctlReadTermios, uintptr(unsafe.Pointer(&oldState.termios)), 0, 0, 0); err != 0 {
		return nil, err
	}

	newState := oldState.termios
	newState.Iflag &^= syscall.ISTRIP | syscall.INLCR | syscall.ICRNL | syscall.IGNCR | syscall.IXON
	newState.Oflag &^= syscall.OPOST
	newState.Lflag &^= syscall.ECHO | syscall.ICANON | syscall.ISIG
	newState.Cflag &^= syscall.CSIZE | syscall.PARENB
	newState.Cflag |= syscall.CS8
	newState.Cc[syscall.VMIN] = 1
	newState.Cc[syscall.VTIME] = 0

	if _, _, err := syscall.Syscall6(syscall.SYS_IOCTL, uintptr(fd), ioctlWriteTermios, uintptr(unsafe.Pointer(&newState)), 0, 0, 0); err != 0 {
		return nil, err
	}

	return &oldState, nil
}

// Restore restores the terminal connected to the given file descriptor
// to a previous state.
func Restore(fd int, state *State) error {
	if _, _, err := syscall.Syscall6(syscall.SYS_IOCTL, uintptr(fd), ioctlWriteTermios, uintptr(unsafe.Pointer(&state.termios)), 0, 0, 0); err != 0 {
		return err
	}
	return nil
}

type winsize struct {
	Row, Col       uint16
	Xpixel, Ypixel uint16
}

// GetSize returns the visible dimensions of the given terminal, for use
// in Session.RequestPty/Session.WindowChange.
func GetSize(fd int) (width, height int, err error) {
	var ws winsize
	if _, _, errno := syscall.Syscall6(syscall.SYS_IOCTL, uintptr(fd), ioctlGetWinsize, uintptr(unsafe.Pointer(&ws)), 0, 0, 0); errno != 0 {
		return 0, 0, fmt.Errorf("terminal: ioctl TIOCGWINSZ: %w", errno)
	}
	return int(ws.Col), int(ws.Row), nil
}
