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
	"fmt"
	"net"
	"time"

	"git.sr.ht/~moody/ninep"
)

// Error messages
var (
	errNoRoot = errors.New("no root directory")
	errNoFile = errors.New("no such file or directory")
)

// interval between accept polls while serving the namespace
const statusPollRest = 100 * time.Millisecond

//----------------------------------------------------------------------

// statFile is a read-only file in the status namespace. Its content
// is produced by a function on every read, so it always reflects the
// current server state.
type statFile struct {
	ref ninep.Dir     // 9p reference
	fcn func() []byte // content producer
}

//----------------------------------------------------------------------

// StatFS is a flat, read-only 9p namespace exposing the runtime state
// of an echo server: a single root directory holding function-backed
// files. It is safe to serve from its own goroutine as long as the
// content producers only touch atomic state.
type StatFS struct {
	ninep.NopFS                      // use default handlers where needed
	root        ninep.Dir            // root directory reference
	files       []*statFile          // files in listing order
	dict        map[uint64]*statFile // map Qid.Path to file
}

// NewStatFS creates an empty status namespace for the given user and
// group. Files are added with AddFile before serving starts.
func NewStatFS(user, group string) *StatFS {
	fs := new(StatFS)
	fs.dict = make(map[uint64]*statFile)
	fs.root = ninep.Dir{
		Qid: ninep.Qid{
			Path: 0,
			Vers: 0,
			Type: byte(ninep.QTDir),
		},
		Name: "/",
		Mode: 0555 | ninep.DMDir,
		Uid:  user,
		Gid:  group,
		Muid: user,
	}
	return fs
}

// AddFile appends a read-only file whose content is produced by fcn.
// Must not be called once the namespace is being served.
func (fs *StatFS) AddFile(name string, fcn func() []byte) {
	f := &statFile{
		ref: ninep.Dir{
			Qid: ninep.Qid{
				Path: uint64(len(fs.files) + 1),
				Vers: 0,
				Type: byte(ninep.QTFile),
			},
			Name: name,
			Mode: 0444,
			Uid:  fs.root.Uid,
			Gid:  fs.root.Gid,
			Muid: fs.root.Uid,
		},
		fcn: fcn,
	}
	fs.files = append(fs.files, f)
	fs.dict[f.ref.Path] = f
}

// Serve accepts 9p connections from the acceptor and serves the
// namespace to each of them until quit is closed or the listener is
// gone. A transient accept failure only pauses the loop. Intended to
// run on its own goroutine beside the echo loop.
func (fs *StatFS) Serve(acc Acceptor, quit <-chan struct{}) {
	srv := ninep.NewSrv(func() ninep.FS { return fs })
	for {
		select {
		case <-quit:
			return
		default:
		}
		c, err := acc.PollAccept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				// acceptor is gone; stop serving
				return
			}
			time.Sleep(statusPollRest)
			continue
		}
		go srv.ServeIO(c, c)
	}
}

//----------------------------------------------------------------------
// ninep FS implementation
//----------------------------------------------------------------------

// Attach to 9p session
func (fs *StatFS) Attach(t *ninep.Tattach) {
	if fs.dict == nil {
		t.Err(errNoRoot)
		return
	}
	t.Respond(&fs.root.Qid)
}

// Walk to the file with name "next". The namespace is flat, so only
// walks from the root can succeed.
func (fs *StatFS) Walk(cur *ninep.Qid, next string) *ninep.Qid {
	if cur.Path != fs.root.Path {
		return nil
	}
	for _, f := range fs.files {
		if f.ref.Name == next {
			return &f.ref.Qid
		}
	}
	return nil
}

// Open entry for file operation
func (fs *StatFS) Open(t *ninep.Topen, q *ninep.Qid) {
	t.Respond(q, 8192)
}

// Read from entry. Either return the current content of a file or the
// listing of the root directory.
func (fs *StatFS) Read(t *ninep.Tread, q *ninep.Qid) {
	if q.Path == fs.root.Path {
		var kids []ninep.Dir
		for _, f := range fs.files {
			kids = append(kids, f.ref)
		}
		ninep.ReadDir(t, kids)
		return
	}
	f, ok := fs.dict[q.Path]
	if !ok {
		t.Err(errNoFile)
		return
	}
	ninep.ReadBuf(t, f.fcn())
}

// Stat returns information for a namespace entry.
func (fs *StatFS) Stat(t *ninep.Tstat, q *ninep.Qid) {
	if q.Path == fs.root.Path {
		t.Respond(&fs.root)
		return
	}
	f, ok := fs.dict[q.Path]
	if !ok {
		t.Err(errNoFile)
		return
	}
	t.Respond(&f.ref)
}

//----------------------------------------------------------------------

// NewServerFS assembles the standard status namespace for an echo
// server: one file per diagnostic value.
//
//	status    reported state code (by name)
//	clients   number of active clients
//	served    total number of accepted clients
//	echoed    total number of echoed bytes
//	failures  total number of failed echo writes
//	uptime    time since the server was created
//	addr      listen address
func NewServerFS(srv *Server, state *Status, info *NetInfo) *StatFS {
	fs := NewStatFS("sys", "sys")
	fs.AddFile("status", func() []byte {
		s, _ := state.Get()
		return []byte(StatName(s) + "\n")
	})
	fs.AddFile("clients", func() []byte {
		// the atomic gauge, not the loop-owned registry
		return []byte(fmt.Sprintf("%d\n", srv.Stats().Active()))
	})
	fs.AddFile("served", func() []byte {
		return []byte(fmt.Sprintf("%d\n", srv.Stats().Accepted()))
	})
	fs.AddFile("echoed", func() []byte {
		return []byte(fmt.Sprintf("%d\n", srv.Stats().Echoed()))
	})
	fs.AddFile("failures", func() []byte {
		return []byte(fmt.Sprintf("%d\n", srv.Stats().Failures()))
	})
	fs.AddFile("uptime", func() []byte {
		return []byte(srv.Stats().Uptime().Round(time.Second).String() + "\n")
	})
	fs.AddFile("addr", func() []byte {
		addr := "unknown"
		if info != nil && info.Addr.IsValid() {
			addr = info.Addr.String()
		}
		return []byte(addr + "\n")
	})
	return fs
}
