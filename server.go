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
	"log/slog"
	"net"
	"time"
)

const (
	// EchoPort is the well-known TCP echo service port (RFC 862).
	EchoPort = 7

	// MaxClients is the default ceiling of simultaneously tracked
	// client connections.
	MaxClients = 3

	// rest after a tick that found no work
	defaultTickRest = 10 * time.Millisecond
)

// Config controls a server loop.
type Config struct {
	// MaxClients limits the simultaneously tracked connections.
	// Beyond it, pending handshakes stay with the transport until a
	// slot frees. Defaults to the MaxClients constant.
	MaxClients int

	// PollWindow bounds a single non-blocking read, write or accept
	// poll. Defaults to 1ms.
	PollWindow time.Duration

	// TickRest is the pause after a tick that found no work, keeping
	// an idle loop off the CPU. Defaults to 10ms.
	TickRest time.Duration

	// Logger receives connection events and warnings; nil discards.
	Logger *slog.Logger
}

// withDefaults fills unset configuration fields.
func (cfg Config) withDefaults() Config {
	if cfg.MaxClients < 1 {
		cfg.MaxClients = MaxClients
	}
	if cfg.PollWindow <= 0 {
		cfg.PollWindow = defaultPollWindow
	}
	if cfg.TickRest <= 0 {
		cfg.TickRest = defaultTickRest
	}
	if cfg.Logger == nil {
		// logger that does no logging
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}
	return cfg
}

//----------------------------------------------------------------------

// Server is a multi-client TCP echo service (RFC 862) driven by a
// non-blocking tick: drain and echo every tracked client, evict the
// disconnected, accept at most one new connection. Everything runs on
// the single goroutine calling Tick or Run; nothing blocks beyond the
// configured poll window.
type Server struct {
	cfg    Config
	acc    Acceptor
	reg    *Registry
	stats  *Stats
	log    *slog.Logger
	nextId uint64 // diagnostic id of the next accepted connection
	closed bool
}

// NewServer creates an echo server on the given acceptor.
func NewServer(acc Acceptor, cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:   cfg,
		acc:   acc,
		reg:   NewRegistry(cfg.MaxClients),
		stats: newStats(),
		log:   cfg.Logger,
	}
}

// Stats returns the live runtime counters of the server.
func (srv *Server) Stats() *Stats {
	return srv.stats
}

// Addr returns the listening address.
func (srv *Server) Addr() net.Addr {
	return srv.acc.Addr()
}

// Active returns the number of currently tracked connections. It
// reads loop-owned state; observers on other goroutines use the
// Stats gauge instead.
func (srv *Server) Active() int {
	return srv.reg.Len()
}

// Tick runs one loop iteration: drain every tracked connection, evict
// the ones the transport reports gone, then poll one accept while
// below the client ceiling. It reports whether any work was done so
// the caller can pace itself.
func (srv *Server) Tick() bool {
	work := false

	// drain and prune, newest connection first. The liveness check
	// runs once per connection, after its drain - never mid-drain.
	srv.reg.Walk(func(c *Conn) bool {
		if srv.drain(c) > 0 {
			work = true
		}
		if !c.Session.Connected() {
			srv.evict(c)
			work = true
		}
		return true
	})

	// a single accept attempt per tick bounds latency: a burst of
	// incoming connections cannot starve the drain phase
	if srv.reg.Len() < srv.cfg.MaxClients && srv.accept() {
		work = true
	}
	return work
}

// Run ticks the server until the context is canceled, resting briefly
// whenever a tick found no work. On return every session and the
// listener are closed.
func (srv *Server) Run(ctx context.Context) error {
	defer srv.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !srv.Tick() {
			time.Sleep(srv.cfg.TickRest)
		}
	}
}

// Close releases every tracked session and the listener. It runs on
// the loop goroutine (Run calls it on shutdown) and is safe to call
// more than once.
func (srv *Server) Close() error {
	if srv.closed {
		return nil
	}
	srv.closed = true
	srv.reg.Walk(func(c *Conn) bool {
		_ = c.Session.Close()
		srv.reg.Remove(c)
		return true
	})
	srv.stats.active.Store(0)
	return srv.acc.Close()
}

//----------------------------------------------------------------------

// drain echoes back every byte currently available on a connection,
// in arrival order. A failed write is warned about and the byte
// dropped; the connection stays active until the transport itself
// reports it gone.
func (srv *Server) drain(c *Conn) (n int) {
	for c.Session.Available() > 0 {
		b, err := c.Session.ReadByte()
		if err != nil {
			break
		}
		if err = c.Session.WriteByte(b); err != nil {
			srv.stats.failures.Add(1)
			srv.log.Warn("echo write failed",
				slog.Uint64("client", c.Id),
				slog.String("err", err.Error()))
			continue
		}
		n++
	}
	if n > 0 {
		srv.stats.echoed.Add(uint32(n))
	}
	return
}

// evict closes and forgets a connection.
func (srv *Server) evict(c *Conn) {
	_ = c.Session.Close()
	srv.reg.Remove(c)
	srv.stats.evicted.Add(1)
	srv.stats.active.Store(int32(srv.reg.Len()))
	srv.log.Info("client disconnected",
		slog.Uint64("client", c.Id),
		slog.Int("active", srv.reg.Len()))
}

// accept polls for one pending connection and starts tracking it.
func (srv *Server) accept() bool {
	conn, err := srv.acc.PollAccept()
	if err != nil {
		// no pending connection is the expected steady state
		if !errors.Is(err, ErrNoPending) {
			srv.log.Warn("accept failed", slog.String("err", err.Error()))
		}
		return false
	}
	srv.nextId++
	sess := newTCPSession(conn, srv.cfg.PollWindow)
	if srv.reg.Insert(srv.nextId, sess) == nil {
		// registry full although the loop checked the ceiling;
		// drop the connection rather than track it half-way
		srv.stats.refused.Add(1)
		srv.log.Warn("client refused, registry full",
			slog.String("remote", conn.RemoteAddr().String()))
		_ = sess.Close()
		return false
	}
	srv.stats.accepted.Add(1)
	srv.stats.active.Store(int32(srv.reg.Len()))
	srv.log.Info("client connected",
		slog.Uint64("client", srv.nextId),
		slog.String("remote", conn.RemoteAddr().String()),
		slog.Int("active", srv.reg.Len()))
	return true
}
