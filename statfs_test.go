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
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"git.sr.ht/~moody/ninep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// read the content of a named status file
func statRead(t *testing.T, fs *StatFS, name string) string {
	t.Helper()
	for _, f := range fs.files {
		if f.ref.Name == name {
			return string(f.fcn())
		}
	}
	t.Fatalf("no such file: %s", name)
	return ""
}

func TestStatFSLayout(t *testing.T) {
	fs := NewStatFS("sys", "sys")
	fs.AddFile("one", func() []byte { return []byte("1\n") })
	fs.AddFile("two", func() []byte { return []byte("2\n") })

	assert.EqualValues(t, 0, fs.root.Qid.Path)
	assert.Equal(t, byte(ninep.QTDir), fs.root.Qid.Type)
	require.Len(t, fs.files, 2)
	assert.EqualValues(t, 1, fs.files[0].ref.Qid.Path)
	assert.EqualValues(t, 2, fs.files[1].ref.Qid.Path)
	assert.EqualValues(t, 0444, fs.files[0].ref.Mode)

	// name lookup from the root
	q := fs.Walk(&fs.root.Qid, "two")
	require.NotNil(t, q)
	assert.EqualValues(t, 2, q.Path)
	assert.Nil(t, fs.Walk(&fs.root.Qid, "three"))

	// the namespace is flat: no walking below a file
	assert.Nil(t, fs.Walk(q, "one"))
}

func TestServerFS(t *testing.T) {
	srv := NewServer(&fakeAcceptor{}, Config{})
	state := NewStatus(InitDevice())
	state.Set(StatOK, 0)
	info := &NetInfo{Addr: netip.MustParseAddr("192.168.1.7")}
	fs := NewServerFS(srv, state, info)
	require.Len(t, fs.files, 7)

	assert.Equal(t, "ok\n", statRead(t, fs, "status"))
	assert.Equal(t, "0\n", statRead(t, fs, "clients"))
	assert.Equal(t, "0\n", statRead(t, fs, "served"))
	assert.Equal(t, "192.168.1.7\n", statRead(t, fs, "addr"))
	assert.NotEmpty(t, statRead(t, fs, "uptime"))

	// counters show up in the namespace
	srv.stats.accepted.Add(2)
	srv.stats.echoed.Add(17)
	srv.stats.failures.Add(1)
	assert.Equal(t, "2\n", statRead(t, fs, "served"))
	assert.Equal(t, "17\n", statRead(t, fs, "echoed"))
	assert.Equal(t, "1\n", statRead(t, fs, "failures"))

	// the client count comes from the stats gauge
	srv.stats.active.Store(2)
	assert.Equal(t, "2\n", statRead(t, fs, "clients"))
}

func TestServerFSConcurrent(t *testing.T) {
	acc := &fakeAcceptor{}
	for range 32 {
		acc.queue = append(acc.queue, &fakeConn{})
	}
	srv := NewServer(acc, Config{})
	state := NewStatus(InitDevice())
	state.Set(StatOK, 0)
	fs := NewServerFS(srv, state, &NetInfo{})

	var clients func() []byte
	for _, f := range fs.files {
		if f.ref.Name == "clients" {
			clients = f.fcn
		}
	}
	require.NotNil(t, clients)

	// read the client count while the loop churns accepts and
	// evictions; producers never touch loop-owned state
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				clients()
			}
		}
	}()
	for range 100 {
		srv.Tick()
	}
	close(stop)
	<-done

	assert.Equal(t, "0\n", string(clients()))
	assert.EqualValues(t, 32, srv.Stats().Accepted())
	assert.EqualValues(t, 32, srv.Stats().Evicted())
}

func TestStatFSServeQuit(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	acc := newQueueAcceptor(ln)
	defer acc.Close()

	fs := NewStatFS("sys", "sys")
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		fs.Serve(acc, quit)
		close(done)
	}()
	close(quit)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("serve did not stop on quit")
	}
}

// flakyAcceptor fails a scripted number of polls, then goes quiet.
type flakyAcceptor struct {
	errs   atomic.Int32 // transient failures left to report
	polled atomic.Int32 // polls seen
	closed atomic.Bool
}

func (a *flakyAcceptor) PollAccept() (net.Conn, error) {
	a.polled.Add(1)
	if a.errs.Load() > 0 {
		a.errs.Add(-1)
		return nil, errors.New("accept disturbed")
	}
	if a.closed.Load() {
		return nil, net.ErrClosed
	}
	return nil, ErrNoPending
}

func (a *flakyAcceptor) Addr() net.Addr { return fakeAddr("10.0.0.2:564") }

func (a *flakyAcceptor) Close() error {
	a.closed.Store(true)
	return nil
}

func TestStatFSServeTransient(t *testing.T) {
	acc := new(flakyAcceptor)
	acc.errs.Store(3)

	fs := NewStatFS("sys", "sys")
	quit := make(chan struct{})
	defer close(quit)
	done := make(chan struct{})
	go func() {
		fs.Serve(acc, quit)
		close(done)
	}()

	// failed polls pause the loop instead of ending it
	require.Eventually(t, func() bool { return acc.polled.Load() >= 5 },
		2*time.Second, 10*time.Millisecond)
	select {
	case <-done:
		t.Fatal("serve stopped on a transient failure")
	default:
	}

	// a closed listener ends it
	require.NoError(t, acc.Close())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("serve did not stop on closed acceptor")
	}
}
