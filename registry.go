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

// Conn is one accepted client connection tracked by the registry.
type Conn struct {
	// Id is a diagnostic identifier assigned at accept time. It is
	// unrelated to any transport-level socket handle.
	Id uint64

	// Session is the provider stream bound to the accepted socket.
	Session Session
}

//----------------------------------------------------------------------

// Registry tracks the active client connections of a server loop.
// It is owned and mutated by a single goroutine, so it does not lock.
// Entries are kept in insertion order and walked newest first.
type Registry struct {
	conns []*Conn // insertion order, newest last
	limit int     // maximum number of tracked entries
}

// NewRegistry creates an empty registry holding at most limit entries.
func NewRegistry(limit int) *Registry {
	if limit < 1 {
		limit = 1
	}
	return &Registry{
		conns: make([]*Conn, 0, limit),
		limit: limit,
	}
}

// Insert tracks a new connection for the given session. It returns nil
// without mutating the registry if the entry limit is reached; the
// caller must not assume the connection is tracked.
func (r *Registry) Insert(id uint64, sess Session) *Conn {
	if len(r.conns) >= r.limit {
		return nil
	}
	c := &Conn{
		Id:      id,
		Session: sess,
	}
	r.conns = append(r.conns, c)
	return c
}

// Remove unlinks a connection from the registry. Removing nil or an
// entry that is not (or no longer) tracked is a no-op. The session is
// not closed here; its lifecycle belongs to the caller.
func (r *Registry) Remove(c *Conn) {
	if c == nil {
		return
	}
	for i, e := range r.conns {
		if e == c {
			r.conns = append(r.conns[:i], r.conns[i+1:]...)
			return
		}
	}
}

// Walk traverses the tracked connections newest first, calling fn for
// each one. fn may remove the entry it was handed (and only that one);
// returning false stops the walk.
func (r *Registry) Walk(fn func(c *Conn) bool) {
	for i := len(r.conns) - 1; i >= 0; i-- {
		if !fn(r.conns[i]) {
			return
		}
	}
}

// Len returns the number of tracked connections.
func (r *Registry) Len() int {
	return len(r.conns)
}
