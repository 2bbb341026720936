//----------------------------------------------------------------------
// This file is part of srvecho.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// srvecho is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// srvecho is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package srvecho

import (
	"errors"
	"io"
	"net"
	"time"
)

// Error messages
var (
	// ErrNoData is returned by Session.ReadByte when no byte is
	// buffered; call Available first to poll the transport.
	ErrNoData = errors.New("no buffered data")
)

// Session is the stream the networking provider binds to an accepted
// socket. All methods are non-blocking beyond a short poll window.
// A Session is owned by a single goroutine and is not safe for
// concurrent use.
type Session interface {
	// Available returns the number of buffered unread bytes. With an
	// empty staging buffer it polls the transport once; a result of 0
	// means nothing arrived within the poll window.
	Available() int

	// ReadByte returns the next buffered byte. It fails with ErrNoData
	// when the staging buffer is empty and with io.EOF once the peer
	// is gone and all buffered bytes are consumed.
	ReadByte() (byte, error)

	// WriteByte hands one byte to the transport. An error means the
	// byte was not taken (the transport is congested or unusable);
	// the session itself stays active.
	WriteByte(b byte) error

	// Connected reports the liveness of the peer as last seen by the
	// transport. Failed writes do not flip it; only a read-side EOF
	// or reset does.
	Connected() bool

	// Close releases the underlying socket.
	Close() error

	// RemoteAddr identifies the peer for diagnostics.
	RemoteAddr() net.Addr
}

//----------------------------------------------------------------------

// poll window used when a configuration leaves it unset
const defaultPollWindow = time.Millisecond

// staging buffer size per session
const sessionBufSize = 256

// tcpSession implements Session on top of any net.Conn by using short
// read/write deadlines as the non-blocking poll primitive. It serves
// both the POSIX stack and seqs connections.
type tcpSession struct {
	conn   net.Conn
	window time.Duration        // deadline window for a single poll
	buf    [sessionBufSize]byte // staging buffer for polled reads
	rd, wr int                  // staging read/write positions
	out    [1]byte              // scratch for single-byte writes
	alive  bool                 // peer reachable as of the last poll
	closed bool
}

// newTCPSession wraps an accepted connection.
func newTCPSession(conn net.Conn, window time.Duration) *tcpSession {
	if window <= 0 {
		window = defaultPollWindow
	}
	return &tcpSession{
		conn:   conn,
		window: window,
		alive:  true,
	}
}

// Available returns the number of buffered unread bytes, polling the
// transport once when the staging buffer is empty.
func (s *tcpSession) Available() int {
	if s.rd < s.wr {
		return s.wr - s.rd
	}
	if s.closed || !s.alive {
		return 0
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(s.window)); err != nil {
		s.alive = false
		return 0
	}
	n, err := s.conn.Read(s.buf[:])
	s.rd, s.wr = 0, n
	if err != nil {
		var ne net.Error
		if !errors.As(err, &ne) || !ne.Timeout() {
			// EOF, reset or another hard read failure: the
			// transport reports the peer gone.
			s.alive = false
		}
	}
	return s.wr - s.rd
}

// ReadByte pops the next byte off the staging buffer.
func (s *tcpSession) ReadByte() (byte, error) {
	if s.rd >= s.wr {
		if s.closed || !s.alive {
			return 0, io.EOF
		}
		return 0, ErrNoData
	}
	b := s.buf[s.rd]
	s.rd++
	return b, nil
}

// WriteByte hands one byte to the transport within the poll window.
func (s *tcpSession) WriteByte(b byte) error {
	if s.closed {
		return net.ErrClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.window)); err != nil {
		return err
	}
	s.out[0] = b
	_, err := s.conn.Write(s.out[:])
	return err
}

// Connected reports whether the peer was still reachable at the last
// read-side poll.
func (s *tcpSession) Connected() bool {
	return s.alive && !s.closed
}

// Close releases the socket. Safe to call more than once.
func (s *tcpSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.alive = false
	return s.conn.Close()
}

// RemoteAddr returns the peer address.
func (s *tcpSession) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}
