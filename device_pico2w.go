//go:build rp2350

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
	"machine"
	"net"
	"net/netip"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/seqs/eth/dhcp"
	"github.com/soypat/seqs/stacks"
)

// Raspberry Pico2 W  [RP2350]
type Pico2WDevice struct {
	ref   *cyw43439.Device  // reference to device
	stack *stacks.PortStack // network stack (valid after Connect)
}

// LED on or off (if applicable)
func (dev *Pico2WDevice) LED(on bool) {
	dev.ref.GPIOSet(0, on)
}

// Console returns the serial console of the board.
func (dev *Pico2WDevice) Console() io.Writer {
	return machine.Serial
}

// Initialize device
func InitDevice() Device {
	// access device
	dev := new(Pico2WDevice)
	dev.ref = cyw43439.NewPicoWDevice()
	return dev
}

// number of ports to open on the stack: one UDP port for the DHCP
// client and two TCP ports (echo service, status namespace).
const (
	stackUDPPorts = 1
	stackTCPPorts = 2
)

// send/receive buffer size per TCP connection
const connBufSize = 512

// Connect joins the WiFi network and leases an IP address via DHCP.
// If no lease is granted within the wait limit, the requested address
// is assigned as static IP instead; without a requested address the
// connect fails. Returns the address report and a state code.
func Connect(dev Device, cfg NetConfig) (info *NetInfo, state int) {
	d, ok := dev.(*Pico2WDevice)
	if !ok {
		state = StatDEV
		return
	}
	// log to serial console if no logger is specified
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{Level: slog.LevelDebug - 1}))
	}
	// give the serial console time to attach
	time.Sleep(2 * time.Second)

	var err error
	var reqAddr netip.Addr
	if cfg.RequestedIP != "" {
		reqAddr, err = netip.ParseAddr(cfg.RequestedIP)
		if err != nil {
			state = StatIP
			return
		}
	}
	// initialize WiFi device
	wificfg := cyw43439.DefaultWifiConfig()
	wificfg.Logger = logger
	logger.Info("initializing pico W device...")
	devInitTime := time.Now()
	if err = d.ref.Init(wificfg); err != nil {
		state = StatWIFI
		return
	}
	logger.Info("cyw43439:Init", slog.Duration("duration", time.Since(devInitTime)))

	// join WiFi network
	if len(cfg.Passwd) == 0 {
		logger.Info("joining open network:", slog.String("ssid", cfg.SSID))
	} else {
		logger.Info("joining WPA secure network", slog.String("ssid", cfg.SSID), slog.Int("passlen", len(cfg.Passwd)))
	}
	for range 5 {
		err = d.ref.JoinWPA2(cfg.SSID, cfg.Passwd)
		if err == nil {
			break
		}
		logger.Error("wifi join failed", slog.String("err", err.Error()))
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		state = StatWPA2
		return
	}
	mac, _ := d.ref.HardwareAddr6()
	logger.Info("wifi join success!", slog.String("mac", net.HardwareAddr(mac[:]).String()))

	// assemble the network stack
	stack := stacks.NewPortStack(stacks.PortStackConfig{
		MAC:             mac,
		MaxOpenPortsUDP: stackUDPPorts + 1, // add extra UDP port for DHCP client
		MaxOpenPortsTCP: stackTCPPorts,
		MTU:             mtu,
		Logger:          logger,
	})
	d.ref.RecvEthHandle(stack.RecvEth)

	// Begin asynchronous packet handling.
	go nicLoop(d.ref, stack)

	info = &NetInfo{
		MAC:      mac,
		Hostname: cfg.Hostname,
	}
	// Perform DHCP request.
	dhcpClient := stacks.NewDHCPClient(stack, dhcp.DefaultClientPort)
	err = dhcpClient.BeginRequest(stacks.DHCPRequestConfig{
		RequestedAddr: reqAddr,
		Xid:           uint32(time.Now().Nanosecond()),
		Hostname:      cfg.Hostname,
	})
	if err != nil {
		state = StatDHCP1
		return
	}
	// wait a limited time for the lease to be granted
	i := 0
	for dhcpClient.State() != dhcp.StateBound {
		i++
		logger.Info("DHCP ongoing...")
		time.Sleep(time.Second / 2)
		if i > 15 {
			if !reqAddr.IsValid() {
				state = StatDHCP2
				return
			}
			logger.Info("DHCP did not complete, assigning static IP", slog.String("ip", cfg.RequestedIP))
			stack.SetAddr(reqAddr)
			info.Addr = reqAddr
			d.stack = stack
			state = StatOK
			return
		}
	}
	// fill report from lease
	if dnsServers := dhcpClient.DNSServers(); len(dnsServers) > 0 {
		info.DNS = dnsServers[0]
	}
	info.Addr = dhcpClient.Offer()
	info.CIDRBits = uint8(dhcpClient.CIDRBits())
	info.Broadcast = dhcpClient.BroadcastAddr()
	info.Gateway = dhcpClient.Gateway()
	info.Router = dhcpClient.Router()
	info.DHCPServer = dhcpClient.DHCPServer()
	info.Hostname = string(dhcpClient.Hostname())
	info.Lease = dhcpClient.IPLeaseTime()
	info.Renewal = dhcpClient.RenewalTime()
	info.Rebinding = dhcpClient.RebindingTime()

	stack.SetAddr(info.Addr) // It's important to set the IP address after DHCP completes.
	d.stack = stack
	state = StatOK
	return
}

// Listen for TCP connections on the given port. The listener caps the
// number of open connections at MaxClients; handshakes beyond that
// stay with the stack until a slot frees up. Connect must have
// completed successfully before.
func Listen(dev Device, port uint16) (Acceptor, int) {
	d, ok := dev.(*Pico2WDevice)
	if !ok || d.stack == nil {
		return nil, StatDEV
	}
	listener, err := stacks.NewTCPListener(d.stack, stacks.TCPListenerConfig{
		MaxConnections: MaxClients,
		ConnTxBufSize:  connBufSize,
		ConnRxBufSize:  connBufSize,
	})
	if err != nil {
		return nil, StatLISTEN1
	}
	if listener.StartListening(port) != nil {
		return nil, StatLISTEN2
	}
	return newQueueAcceptor(listener), StatOK
}

//======================================================================
// copied from https://raw.githubusercontent.com/soypat/cyw43439,
// file '/examples/common/common.go'.
//======================================================================

const mtu = cyw43439.MTU

func nicLoop(dev *cyw43439.Device, Stack *stacks.PortStack) {
	// Maximum number of packets to queue before sending them.
	const (
		queueSize                = 3
		maxRetriesBeforeDropping = 3
	)
	var queue [queueSize][mtu]byte
	var lenBuf [queueSize]int
	var retries [queueSize]int
	markSent := func(i int) {
		queue[i] = [mtu]byte{} // Not really necessary.
		lenBuf[i] = 0
		retries[i] = 0
	}
	for {
		stallRx := true
		// Poll for incoming packets.
		for i := 0; i < 1; i++ {
			gotPacket, err := dev.PollOne()
			if err != nil {
				println("poll error:", err.Error())
			}
			if !gotPacket {
				break
			}
			stallRx = false
		}

		// Queue packets to be sent.
		for i := range queue {
			if retries[i] != 0 {
				continue // Packet currently queued for retransmission.
			}
			var err error
			buf := queue[i][:]
			lenBuf[i], err = Stack.HandleEth(buf[:])
			if err != nil {
				println("stack error n(should be 0)=", lenBuf[i], "err=", err.Error())
				lenBuf[i] = 0
				continue
			}
			if lenBuf[i] == 0 {
				break
			}
		}
		stallTx := lenBuf == [queueSize]int{}
		if stallTx {
			if stallRx {
				// Avoid busy waiting when both Rx and Tx stall.
				time.Sleep(51 * time.Millisecond)
			}
			continue
		}

		// Send queued packets.
		for i := range queue {
			n := lenBuf[i]
			if n <= 0 {
				continue
			}
			err := dev.SendEth(queue[i][:n])
			if err != nil {
				// Queue packet for retransmission.
				retries[i]++
				if retries[i] > maxRetriesBeforeDropping {
					markSent(i)
					println("dropped outgoing packet:", err.Error())
				}
			} else {
				markSent(i)
			}
		}
	}
}
