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
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/bfix/srvecho"
)

// WiFi credentials and service ports (set with -ldflags)
var (
	SSID     string
	Passwd   string
	Host     string
	IP       string
	Port     string  // echo service (empty: EchoPort)
	StatPort = "564" // status namespace ("0" disables)
)

// run echo server
func main() {
	// access device
	dev := srvecho.InitDevice()
	state := srvecho.NewStatus(dev)
	defer state.Trap(30 * time.Second)
	state.Set(srvecho.StatOK, 0)

	logger := slog.New(slog.NewTextHandler(dev.Console(), nil))

	// parse service ports
	port := uint64(srvecho.EchoPort)
	if Port != "" {
		var err error
		if port, err = strconv.ParseUint(Port, 10, 16); err != nil {
			state.Set(srvecho.StatPORT, 0)
			return
		}
	}
	statPort, err := strconv.ParseUint(StatPort, 10, 16)
	if err != nil {
		state.Set(srvecho.StatPORT, 0)
		return
	}

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
	info.Log(logger)

	// listen for echo clients
	acc, stat := srvecho.Listen(dev, uint16(port))
	if stat != srvecho.StatOK {
		state.Set(stat, 0)
		return
	}
	srv := srvecho.NewServer(acc, srvecho.Config{Logger: logger})

	// serve status namespace via 9p (if enabled)
	quit := make(chan struct{})
	defer close(quit)
	if statPort != 0 {
		sacc, stat := srvecho.Listen(dev, uint16(statPort))
		if stat != srvecho.StatOK {
			state.Set(stat, 0)
			return
		}
		go srvecho.NewServerFS(srv, state, info).Serve(sacc, quit)
	}

	// run the echo loop; returns on failure only
	if err = srv.Run(context.Background()); err != nil {
		state.Set(srvecho.StatSRV, 3)
	}

	// echo "hello" | nc <host> 7
	//
	// 9p -a tcp!<host>!564 ls ''
	// 9p -a tcp!<host>!564 read clients
}
