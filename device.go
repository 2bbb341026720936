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
	"io"
	"log/slog"
	"net"
	"net/netip"
	"time"
)

// Device is a hardware abstraction
type Device interface {
	// LED on or off (if applicable)
	LED(on bool)

	// Console returns the diagnostic output stream of the device.
	Console() io.Writer
}

//----------------------------------------------------------------------

// NetConfig describes how to bring the device network up. Joining an
// access point and acquiring a lease are the network module's job;
// the fields only parametrize it.
type NetConfig struct {
	// DHCP requested hostname.
	Hostname string
	// DHCP requested IP address. On failing to find a DHCP server it
	// is used as static IP.
	RequestedIP string

	SSID   string
	Passwd string

	Logger *slog.Logger
}

// NetInfo is the IP configuration report after the network came up.
// Fields the transport cannot know stay zero.
type NetInfo struct {
	MAC        [6]byte
	Addr       netip.Addr
	CIDRBits   uint8
	Gateway    netip.Addr
	Router     netip.Addr
	Broadcast  netip.Addr
	DNS        netip.Addr
	DHCPServer netip.Addr
	Hostname   string
	Lease      time.Duration
	Renewal    time.Duration
	Rebinding  time.Duration
}

// Log writes the IP configuration report to a logger.
func (ni *NetInfo) Log(logger *slog.Logger) {
	logger.Info("network up",
		slog.String("mac", net.HardwareAddr(ni.MAC[:]).String()),
		slog.String("ourIP", ni.Addr.String()),
		slog.Uint64("cidrbits", uint64(ni.CIDRBits)),
		slog.String("gateway", ni.Gateway.String()),
		slog.String("router", ni.Router.String()),
		slog.String("broadcast", ni.Broadcast.String()),
		slog.String("dns", ni.DNS.String()),
		slog.String("dhcp", ni.DHCPServer.String()),
		slog.String("hostname", ni.Hostname),
		slog.Duration("lease", ni.Lease),
		slog.Duration("renewal", ni.Renewal),
		slog.Duration("rebinding", ni.Rebinding),
	)
}
