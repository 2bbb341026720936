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
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//----------------------------------------------------------------------
// scripted stand-ins for loop tests
//----------------------------------------------------------------------

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

// fakeSession feeds scripted input to the loop and records the echo.
type fakeSession struct {
	input     []byte // bytes still to be delivered
	echoed    []byte // bytes written back by the loop
	alive     bool
	closed    bool
	failWrite bool // reject every write
}

func (s *fakeSession) Available() int {
	if s.closed {
		return 0
	}
	return len(s.input)
}

func (s *fakeSession) ReadByte() (byte, error) {
	if len(s.input) == 0 {
		if s.closed || !s.alive {
			return 0, io.EOF
		}
		return 0, ErrNoData
	}
	b := s.input[0]
	s.input = s.input[1:]
	return b, nil
}

func (s *fakeSession) WriteByte(b byte) error {
	if s.failWrite {
		return errors.New("transport congested")
	}
	s.echoed = append(s.echoed, b)
	return nil
}

func (s *fakeSession) Connected() bool {
	return s.alive && !s.closed
}

func (s *fakeSession) Close() error {
	s.closed = true
	s.alive = false
	return nil
}

func (s *fakeSession) RemoteAddr() net.Addr {
	return fakeAddr("10.0.0.1:12345")
}

// fakeConn is a minimal net.Conn whose read side reports the peer
// gone right away.
type fakeConn struct {
	closed bool
}

func (c *fakeConn) Read(p []byte) (int, error)         { return 0, io.EOF }
func (c *fakeConn) Write(p []byte) (int, error)        { return len(p), nil }
func (c *fakeConn) Close() error                       { c.closed = true; return nil }
func (c *fakeConn) LocalAddr() net.Addr                { return fakeAddr("10.0.0.2:7") }
func (c *fakeConn) RemoteAddr() net.Addr               { return fakeAddr("10.0.0.1:23456") }
func (c *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

// fakeAcceptor hands out queued connections and records its use.
type fakeAcceptor struct {
	queue  []net.Conn
	polled bool
	closed bool
}

func (a *fakeAcceptor) PollAccept() (net.Conn, error) {
	a.polled = true
	if len(a.queue) == 0 {
		return nil, ErrNoPending
	}
	conn := a.queue[0]
	a.queue = a.queue[1:]
	return conn, nil
}

func (a *fakeAcceptor) Addr() net.Addr {
	return fakeAddr("10.0.0.2:7")
}

func (a *fakeAcceptor) Close() error {
	a.closed = true
	return nil
}

//----------------------------------------------------------------------
// tests
//----------------------------------------------------------------------

func TestServerDrainEcho(t *testing.T) {
	srv := NewServer(&fakeAcceptor{}, Config{})
	sess := &fakeSession{input: []byte("abc"), alive: true}
	srv.reg.Insert(1, sess)

	assert.True(t, srv.Tick())
	assert.Equal(t, "abc", string(sess.echoed))
	assert.Empty(t, sess.input)
	assert.Equal(t, 1, srv.Active())
	assert.EqualValues(t, 3, srv.Stats().Echoed())

	// nothing left to do
	assert.False(t, srv.Tick())
}

func TestServerWriteFailure(t *testing.T) {
	srv := NewServer(&fakeAcceptor{}, Config{})
	sess := &fakeSession{input: []byte("xy"), alive: true, failWrite: true}
	srv.reg.Insert(1, sess)

	srv.Tick()

	// dropped bytes are counted, the connection stays active
	assert.Empty(t, sess.echoed)
	assert.EqualValues(t, 2, srv.Stats().Failures())
	assert.EqualValues(t, 0, srv.Stats().Echoed())
	assert.Equal(t, 1, srv.Active())
	assert.False(t, sess.closed)
}

func TestServerEvict(t *testing.T) {
	srv := NewServer(&fakeAcceptor{}, Config{})
	sess := &fakeSession{alive: false}
	srv.reg.Insert(1, sess)

	assert.True(t, srv.Tick())
	assert.Equal(t, 0, srv.Active())
	assert.True(t, sess.closed)
	assert.EqualValues(t, 1, srv.Stats().Evicted())
}

func TestServerEvictAfterDrain(t *testing.T) {
	srv := NewServer(&fakeAcceptor{}, Config{})
	sess := &fakeSession{input: []byte("hi"), alive: false}
	srv.reg.Insert(1, sess)

	srv.Tick()

	// buffered bytes are echoed before the connection is dropped
	assert.Equal(t, "hi", string(sess.echoed))
	assert.Equal(t, 0, srv.Active())
	assert.EqualValues(t, 1, srv.Stats().Evicted())
}

func TestServerAcceptGate(t *testing.T) {
	acc := new(fakeAcceptor)
	srv := NewServer(acc, Config{MaxClients: 2})
	for i := range 2 {
		srv.reg.Insert(uint64(i+1), &fakeSession{alive: true})
	}
	// at the ceiling the loop must not even poll for connections
	srv.Tick()
	assert.False(t, acc.polled)

	// freeing a slot resumes accepting
	srv.reg.Walk(func(c *Conn) bool {
		srv.reg.Remove(c)
		return false
	})
	srv.Tick()
	assert.True(t, acc.polled)
}

func TestServerOneAcceptPerTick(t *testing.T) {
	acc := &fakeAcceptor{queue: []net.Conn{new(fakeConn), new(fakeConn)}}
	srv := NewServer(acc, Config{})

	// first tick accepts a single connection although two are pending
	assert.True(t, srv.Tick())
	assert.EqualValues(t, 1, srv.Stats().Accepted())

	// the fake peer is gone on arrival, so the second tick evicts the
	// first connection and accepts the second
	srv.Tick()
	assert.EqualValues(t, 2, srv.Stats().Accepted())
	assert.EqualValues(t, 1, srv.Stats().Evicted())
}

func TestServerRefuse(t *testing.T) {
	conn := new(fakeConn)
	acc := &fakeAcceptor{queue: []net.Conn{conn}}
	srv := NewServer(acc, Config{MaxClients: 1})
	srv.reg.Insert(1, &fakeSession{alive: true})

	// a poll result that no longer fits is closed, not tracked
	assert.False(t, srv.accept())
	assert.EqualValues(t, 1, srv.Stats().Refused())
	assert.True(t, conn.closed)
	assert.Equal(t, 1, srv.Active())
}

func TestServerClose(t *testing.T) {
	acc := new(fakeAcceptor)
	srv := NewServer(acc, Config{})
	a := &fakeSession{alive: true}
	b := &fakeSession{alive: true}
	srv.reg.Insert(1, a)
	srv.reg.Insert(2, b)

	require.NoError(t, srv.Close())
	assert.Equal(t, 0, srv.Active())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.True(t, acc.closed)

	// closing again is a no-op
	require.NoError(t, srv.Close())
}

func TestServerRunCancel(t *testing.T) {
	acc := new(fakeAcceptor)
	srv := NewServer(acc, Config{TickRest: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("run did not stop on cancel")
	}
	assert.True(t, acc.closed)
}
