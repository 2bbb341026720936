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
	"net"
	"sync"
	"time"
)

// ErrNoPending is returned by Acceptor.PollAccept when no handshake
// has completed. It is the expected steady state, not a failure.
var ErrNoPending = errors.New("no pending connection")

// Acceptor is the provider's listening socket. PollAccept never blocks
// beyond a short poll window, so a single-goroutine server loop can
// interleave accepts with client traffic.
type Acceptor interface {
	// PollAccept returns the next pending connection or ErrNoPending.
	PollAccept() (net.Conn, error)

	// Addr returns the listening address.
	Addr() net.Addr

	// Close shuts the listener down.
	Close() error
}

//----------------------------------------------------------------------

// deadlineAcceptor polls a host TCP listener by arming a short accept
// deadline. Connections beyond what the loop accepts stay queued in
// the host's listen backlog.
type deadlineAcceptor struct {
	ln     *net.TCPListener
	window time.Duration
}

// newDeadlineAcceptor wraps a host TCP listener.
func newDeadlineAcceptor(ln *net.TCPListener, window time.Duration) *deadlineAcceptor {
	if window <= 0 {
		window = defaultPollWindow
	}
	return &deadlineAcceptor{
		ln:     ln,
		window: window,
	}
}

// PollAccept implements Acceptor.
func (a *deadlineAcceptor) PollAccept() (net.Conn, error) {
	if err := a.ln.SetDeadline(time.Now().Add(a.window)); err != nil {
		return nil, err
	}
	conn, err := a.ln.Accept()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, ErrNoPending
		}
		return nil, err
	}
	return conn, nil
}

// Addr implements Acceptor.
func (a *deadlineAcceptor) Addr() net.Addr {
	return a.ln.Addr()
}

// Close implements Acceptor.
func (a *deadlineAcceptor) Close() error {
	return a.ln.Close()
}

//----------------------------------------------------------------------

// queueAcceptor polls any listener through a single pump goroutine
// parking at most one connection. Used for the seqs listener, which
// only offers a blocking Accept; its MaxConnections ceiling keeps
// further handshakes with the transport while the slot is occupied.
type queueAcceptor struct {
	ln      net.Listener
	pending chan net.Conn
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// newQueueAcceptor wraps a blocking listener and starts the pump.
func newQueueAcceptor(ln net.Listener) *queueAcceptor {
	a := &queueAcceptor{
		ln:      ln,
		pending: make(chan net.Conn, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go a.pump()
	return a
}

// pump accepts in the background. Transient accept failures are
// retried after a short rest; a closed listener ends the pump.
func (a *queueAcceptor) pump() {
	defer close(a.done)
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-a.quit:
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}
		select {
		case a.pending <- conn:
		case <-a.quit:
			_ = conn.Close()
			return
		}
	}
}

// PollAccept implements Acceptor.
func (a *queueAcceptor) PollAccept() (net.Conn, error) {
	select {
	case conn := <-a.pending:
		return conn, nil
	default:
		return nil, ErrNoPending
	}
}

// Addr implements Acceptor.
func (a *queueAcceptor) Addr() net.Addr {
	return a.ln.Addr()
}

// Close implements Acceptor.
func (a *queueAcceptor) Close() error {
	var err error
	a.once.Do(func() {
		close(a.quit)
		err = a.ln.Close()
		// wait out the pump: until it is gone, a connection it holds
		// can still land in the queue after a drain
		<-a.done
		select {
		case conn := <-a.pending:
			_ = conn.Close()
		default:
		}
	})
	return err
}
