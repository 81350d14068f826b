/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package comm moves datagrams between the overlay and the network.
package comm

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/util"
)

// MaxPacketSize is the largest datagram the endpoint reads.
const MaxPacketSize = 65507

// Endpoint sends datagrams. Received datagrams are delivered in batches to
// the handler the endpoint was created with.
type Endpoint interface {
	// Send transmits data to addr.
	Send(addr common.Address, data []byte) error

	// Address returns the local address the endpoint is bound to.
	Address() common.Address

	// Close stops the endpoint.
	Close() error
}

// Handler receives batches of datagrams.
type Handler func([]common.PacketIn)

// Config holds the endpoint parameters.
type Config struct {
	ListenAddress string
	BurstSize     int
	BurstLatency  time.Duration
}

// UDPEndpoint is an Endpoint over a UDP socket.
type UDPEndpoint struct {
	conn     *net.UDPConn
	address  common.Address
	emitter  batchingEmitter
	metrics  *Metrics
	logger   util.Logger
	stopOnce sync.Once
	done     chan struct{}
}

// NewUDPEndpoint binds conf.ListenAddress and starts reading. Batches are
// handed to handler from the endpoint's goroutines; the handler is expected
// to post them to the event loop.
func NewUDPEndpoint(conf Config, handler Handler, m *Metrics) (*UDPEndpoint, error) {
	laddr, err := net.ResolveUDPAddr("udp4", conf.ListenAddress)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid listen address %s", conf.ListenAddress)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed listening on %s", conf.ListenAddress)
	}

	e := &UDPEndpoint{
		conn:    conn,
		address: common.AddressFromUDP(conn.LocalAddr().(*net.UDPAddr)),
		emitter: newBatchingEmitter(conf.BurstSize, conf.BurstLatency, handler),
		metrics: m,
		logger:  util.GetLogger(util.CommLogger, ""),
		done:    make(chan struct{}),
	}
	go e.readLoop()
	e.logger.Infof("listening on %s", e.address)
	return e, nil
}

func (e *UDPEndpoint) readLoop() {
	buf := make([]byte, MaxPacketSize)
	for {
		n, from, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.done:
				return
			default:
			}
			e.logger.Warningf("read failed: %+v", err)
			continue
		}
		e.metrics.PacketsReceived.Add(1)
		e.metrics.BytesReceived.Add(float64(n))
		data := make([]byte, n)
		copy(data, buf[:n])
		e.emitter.Add(common.PacketIn{Source: common.AddressFromUDP(from), Data: data})
	}
}

// Send transmits data to addr.
func (e *UDPEndpoint) Send(addr common.Address, data []byte) error {
	udpAddr, err := addr.UDPAddr()
	if err != nil {
		e.metrics.SendErrors.Add(1)
		return err
	}
	if _, err := e.conn.WriteToUDP(data, udpAddr); err != nil {
		e.metrics.SendErrors.Add(1)
		return errors.Wrapf(err, "failed sending %d bytes to %s", len(data), addr)
	}
	e.metrics.PacketsSent.Add(1)
	e.metrics.BytesSent.Add(float64(len(data)))
	return nil
}

func (e *UDPEndpoint) Address() common.Address { return e.address }

// Close stops reading and releases the socket.
func (e *UDPEndpoint) Close() error {
	var err error
	e.stopOnce.Do(func() {
		close(e.done)
		e.emitter.Stop()
		err = e.conn.Close()
	})
	return err
}
