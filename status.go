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
	"fmt"
	"sync/atomic"
	"time"
)

// status codes
const (
	StatUNK     = iota // unknown status (init)
	StatOK             // processing active
	StatDEV            // device failure
	StatIP             // invalid IP address
	StatWIFI           // can't init WiFi module
	StatWPA2           // WPA2 join failed
	StatDHCP1          // DHCP request failed
	StatDHCP2          // no DHCP reply
	StatLISTEN1        // failed to create listener
	StatLISTEN2        // failed to initialize listener
	StatPORT           // invalid port specified
	StatSRV            // serving failed
	StatEXCP           // exception (panic) occured
)

// StatName returns a short name for a status code.
func StatName(code int) string {
	switch code {
	case StatUNK:
		return "unknown"
	case StatOK:
		return "ok"
	case StatDEV:
		return "device failure"
	case StatIP:
		return "invalid address"
	case StatWIFI:
		return "wifi init failed"
	case StatWPA2:
		return "wpa2 join failed"
	case StatDHCP1:
		return "dhcp request failed"
	case StatDHCP2:
		return "no dhcp reply"
	case StatLISTEN1:
		return "listener create failed"
	case StatLISTEN2:
		return "listener init failed"
	case StatPORT:
		return "invalid port"
	case StatSRV:
		return "serving failed"
	case StatEXCP:
		return "exception"
	}
	return fmt.Sprintf("status %d", code)
}

//----------------------------------------------------------------------

// Status handler.
// Show current status depending on hardware device.
type Status struct {
	dev    Device       // reference to device
	curr   atomic.Int32 // current state
	repeat atomic.Int32 // current repeat counter
}

// NewStatus creates a new status display
func NewStatus(dev Device) (state *Status) {
	state = new(Status)
	state.dev = dev
	go func() {
		state.curr.Store(StatOK)
		state.repeat.Store(0)
		// blink LED <state>; <repeat> times
		for {
			time.Sleep(5 * time.Second)
			num := state.curr.Load()
			for num > 5 {
				dev.LED(true)
				time.Sleep(1000 * time.Millisecond)
				dev.LED(false)
				time.Sleep(300 * time.Millisecond)
				num -= 5
			}
			for range num {
				dev.LED(true)
				time.Sleep(150 * time.Millisecond)
				dev.LED(false)
				time.Sleep(150 * time.Millisecond)
			}
			if state.repeat.Add(-1) == 0 {
				state.curr.Store(StatOK)
			}
		}
	}()
	return
}

// Set status and repeat <num> times.
func (state *Status) Set(flag, num int) {
	if state != nil {
		state.curr.Store(int32(flag))
		state.repeat.Store(int32(num))
	}
}

// Get current state and repeat counter
func (state *Status) Get() (int, int) {
	return int(state.curr.Load()), int(state.repeat.Load())
}

// Trap critical failures (panic)
func (state *Status) Trap(t time.Duration) {
	s, _ := state.Get()
	if r := recover(); r != nil {
		fmt.Printf("EXCP: %v\n", r)
		if s == StatOK {
			state.Set(StatEXCP, 0)
		}
	} else if s == StatOK {
		state.Set(StatUNK, 0)
	}
	time.Sleep(t)
}

//----------------------------------------------------------------------

// Stats holds the runtime counters of a server loop. The loop
// goroutine updates them; any goroutine may read them (status
// namespace, tests). Counters are 32 bit: the rp2350 target has no
// native 64-bit atomics.
type Stats struct {
	start    time.Time
	active   atomic.Int32  // currently tracked clients
	accepted atomic.Uint32 // connections accepted in total
	evicted  atomic.Uint32 // connections evicted after disconnect
	echoed   atomic.Uint32 // bytes echoed back in total
	failures atomic.Uint32 // echo write failures
	refused  atomic.Uint32 // connections the registry refused to track
}

// newStats creates a zeroed counter set with the uptime clock started.
func newStats() *Stats {
	return &Stats{
		start: time.Now(),
	}
}

// Active returns the number of currently tracked clients.
func (st *Stats) Active() int {
	return int(st.active.Load())
}

// Accepted returns the total number of accepted connections.
func (st *Stats) Accepted() uint32 {
	return st.accepted.Load()
}

// Evicted returns the total number of evicted connections.
func (st *Stats) Evicted() uint32 {
	return st.evicted.Load()
}

// Echoed returns the total number of bytes echoed back.
func (st *Stats) Echoed() uint32 {
	return st.echoed.Load()
}

// Failures returns the total number of echo write failures.
func (st *Stats) Failures() uint32 {
	return st.failures.Load()
}

// Refused returns the number of connections closed because the
// registry would not track them.
func (st *Stats) Refused() uint32 {
	return st.refused.Load()
}

// Uptime returns the time since the counter set was created.
func (st *Stats) Uptime() time.Duration {
	return time.Since(st.start)
}
