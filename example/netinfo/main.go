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

package main

import (
	"log/slog"
	"time"

	"github.com/bfix/srvecho"
)

// WiFi credentials (set with -ldflags)
var (
	SSID   string
	Passwd string
	Host   string
	IP     string
)

// report the network configuration of the device
func main() {
	// access device
	dev := srvecho.InitDevice()
	state := srvecho.NewStatus(dev)
	defer state.Trap(30 * time.Second)
	state.Set(srvecho.StatOK, 0)

	logger := slog.New(slog.NewTextHandler(dev.Console(), nil))

	// connect to WiFi network (if applicable)
	info, stat := srvecho.Connect(dev, srvecho.NetConfig{
		Hostname:    Host,
		RequestedIP: IP,
		SSID:        SSID,
		Passwd:      Passwd,
		Logger:      logger,
	})
	if stat != srvecho.StatOK {
		state.Set(stat, 0)
		return
	}
	// report configuration; repeat so a late console attach still
	// catches it
	for {
		info.Log(logger)
		time.Sleep(time.Minute)
	}
}
