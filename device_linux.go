//go:build !rp2350

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
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
)

// LinuxDevice (for development and testing)
type LinuxDevice struct{}

// LED on or off (not applicable)
func (dev *LinuxDevice) LED(on bool) {}

// Console returns the diagnostic output stream.
func (dev *LinuxDevice) Console() io.Writer {
	return os.Stdout
}

// Initialize device
func InitDevice() Device {
	return new(LinuxDevice)
}

// Connect reports the host IP configuration. The host operating
// system manages the network itself, so there is nothing to join;
// SSID and passphrase are ignored.
func Connect(dev Device, cfg NetConfig) (*NetInfo, int) {
	if _, ok := dev.(*LinuxDevice); !ok {
		return nil, StatDEV
	}
	info := new(NetInfo)
	info.Hostname = cfg.Hostname
	if info.Hostname == "" {
		if hn, err := os.Hostname(); err == nil {
			info.Hostname = hn
		}
	}
	// report the first global unicast IPv4 address of the host
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return info, StatOK
	}
	for _, a := range addrs {
		pre, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(pre.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		if !ip.Is4() || !ip.IsGlobalUnicast() {
			continue
		}
		ones, _ := pre.Mask.Size()
		info.Addr = ip
		info.CIDRBits = uint8(ones)
		break
	}
	return info, StatOK
}

// Listen opens a TCP listener on the given port, wrapped for
// non-blocking accept polling. The client ceiling is enforced by the
// server loop on this build; further handshakes queue up in the host's
// listen backlog.
func Listen(dev Device, port uint16) (Acceptor, int) {
	if _, ok := dev.(*LinuxDevice); !ok {
		return nil, StatDEV
	}
	ctx := context.Background()
	cfg := new(net.ListenConfig)
	lis, err := cfg.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, StatLISTEN1
	}
	tl, ok := lis.(*net.TCPListener)
	if !ok {
		_ = lis.Close()
		return nil, StatLISTEN2
	}
	return newDeadlineAcceptor(tl, 0), StatOK
}
